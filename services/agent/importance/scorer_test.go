// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package importance

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScorer(backend *llmtest.Scripted) *Scorer {
	return NewScorer(oracle.NewClient(backend, oracle.WithConfig(oracle.Config{MaxAttempts: 3})), nil)
}

func TestScore(t *testing.T) {
	backend := llmtest.NewScripted(`Your Response: '{"rating": 9}'`)
	got, err := newScorer(backend).Score(context.Background(), "Bob is a plumber.", "Bob", "Bob's wife slaps him across the face.")
	require.NoError(t, err)
	assert.Equal(t, 9, got)

	p := backend.Prompts()[0]
	assert.Contains(t, p, "Name: Bob\nBio: Bob is a plumber.\nMemory: Bob's wife slaps him across the face.")
	assert.Contains(t, p, "Example 5:")
}

func TestScore_NeverClamps(t *testing.T) {
	for _, bad := range []string{`{"rating": 0}`, `{"rating": 11}`, `{"rating": 7.5}`, `{"rating": "7"}`} {
		t.Run(bad, func(t *testing.T) {
			backend := llmtest.NewScripted(bad, bad, bad)
			got, err := newScorer(backend).Score(context.Background(), "bio", "Ann", "Ann made coffee")
			require.Error(t, err)
			assert.ErrorIs(t, err, oracle.ErrSchemaValidation)
			assert.Zero(t, got)
			assert.Len(t, backend.Calls(), 3)
		})
	}
}

func TestScore_RecoversAfterRetry(t *testing.T) {
	backend := llmtest.NewScripted(`{"rating": 11}`, `{"rating": 10}`)
	got, err := newScorer(backend).Score(context.Background(), "bio", "Ann", "Ann got promoted")
	require.NoError(t, err)
	assert.Equal(t, 10, got)
	assert.Contains(t, backend.Prompts()[1], "/rating")
}
