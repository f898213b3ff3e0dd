// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reflection

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fiveMemories = []string{
	"Sally Smith reviewed the Q3 roadmap",
	"Tom Jones asked Sally Smith about the search feature",
	"Sally Smith scheduled a planning meeting with Tom Jones",
	"Ann Lee made coffee for the office",
	"Sally Smith said the search feature ships in September",
}

const threeQuestions = `{"questions": ["What is Sally focused on?", "How do Sally and Tom work together?", "When does search ship?"]}`

func newEngine(backend *llmtest.Scripted, logs *bytes.Buffer) *Engine {
	c := oracle.NewClient(backend, oracle.WithConfig(oracle.Config{MaxAttempts: 3}))
	var logger *slog.Logger
	if logs != nil {
		logger = slog.New(slog.NewTextHandler(logs, nil))
	}
	return NewEngine(c, logger)
}

func TestDeriveQuestions(t *testing.T) {
	backend := llmtest.NewScripted(threeQuestions)
	qs, err := newEngine(backend, nil).DeriveQuestions(context.Background(), fiveMemories)
	require.NoError(t, err)
	assert.Equal(t, "When does search ship?", qs[2])
	assert.Contains(t, backend.Prompts()[0], "- Ann Lee made coffee for the office")
}

func TestDeriveQuestions_WrongArityRetried(t *testing.T) {
	two := `{"questions": ["What is Sally focused on?", "When does search ship?"]}`
	backend := llmtest.NewScripted(two, threeQuestions)
	_, err := newEngine(backend, nil).DeriveQuestions(context.Background(), fiveMemories)
	require.NoError(t, err)
	assert.Len(t, backend.Calls(), 2)
}

func TestDeriveQuestions_DuplicatesRejected(t *testing.T) {
	dup := `{"questions": ["What is Sally focused on?", "what is  SALLY focused on?", "When does search ship?"]}`
	backend := llmtest.NewScripted(dup, dup, dup)
	_, err := newEngine(backend, nil).DeriveQuestions(context.Background(), fiveMemories)
	assert.ErrorIs(t, err, oracle.ErrSchemaValidation)
	assert.Contains(t, backend.Prompts()[1], "questions 1 and 2 are the same")
}

func TestDeriveQuestions_NoMemories(t *testing.T) {
	_, err := newEngine(llmtest.NewScripted(), nil).DeriveQuestions(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoMemories)
}

func TestDeriveInsights_FiveMemories(t *testing.T) {
	backend := llmtest.NewScripted(`{"insights": [
		{"insight": "Sally Smith is driving the search launch", "related_statements": [0, 4]},
		{"insight": "Sally Smith and Tom Jones collaborate closely", "related_statements": [1, 2]}
	]}`)

	insights, err := newEngine(backend, nil).DeriveInsights(context.Background(), fiveMemories)
	require.NoError(t, err)
	require.NotEmpty(t, insights)
	for _, in := range insights {
		require.NotEmpty(t, in.SupportingMemoryIndices)
		for _, idx := range in.SupportingMemoryIndices {
			assert.GreaterOrEqual(t, idx, 0)
			assert.Less(t, idx, len(fiveMemories))
		}
	}
	assert.Contains(t, backend.Prompts()[0], "[0] Sally Smith reviewed the Q3 roadmap\n[1] Tom Jones")
}

func TestDeriveInsights_OutOfRangeCitationRetried(t *testing.T) {
	bad := `{"insights": [{"insight": "Ann Lee likes coffee", "related_statements": [3, 5]}]}`
	good := `{"insights": [{"insight": "Ann Lee likes coffee", "related_statements": [3]}]}`
	backend := llmtest.NewScripted(bad, good)

	insights, err := newEngine(backend, nil).DeriveInsights(context.Background(), fiveMemories)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, insights[0].SupportingMemoryIndices)
	assert.Contains(t, backend.Prompts()[1], "insight 1 cites statement 5, valid statements are 0 to 4")
}

func TestDeriveInsights_NegativeCitationRejectedBySchema(t *testing.T) {
	bad := `{"insights": [{"insight": "x", "related_statements": [-1]}]}`
	backend := llmtest.NewScripted(bad, bad, bad)
	_, err := newEngine(backend, nil).DeriveInsights(context.Background(), fiveMemories)
	assert.ErrorIs(t, err, oracle.ErrSchemaValidation)
}

func TestDeriveInsights_EmptyCitationsWarn(t *testing.T) {
	var logs bytes.Buffer
	backend := llmtest.NewScripted(`{"insights": [{"insight": "The office is busy", "related_statements": []}]}`)

	insights, err := newEngine(backend, &logs).DeriveInsights(context.Background(), fiveMemories)
	require.NoError(t, err)
	assert.Empty(t, insights[0].SupportingMemoryIndices)
	assert.Contains(t, logs.String(), "insight has no supporting memories")
}

func TestDeriveInsights_EmptyListRejected(t *testing.T) {
	empty := `{"insights": []}`
	backend := llmtest.NewScripted(empty, empty, empty)
	_, err := newEngine(backend, nil).DeriveInsights(context.Background(), fiveMemories)
	assert.ErrorIs(t, err, oracle.ErrSchemaValidation)
}

func TestReflect_UsesRetriever(t *testing.T) {
	insight := `{"insights": [{"insight": "Sally Smith owns the roadmap", "related_statements": [0]}]}`
	backend := llmtest.NewScripted(threeQuestions, insight, insight, insight)

	var asked []string
	retriever := RetrieverFunc(func(_ context.Context, q string) ([]string, error) {
		asked = append(asked, q)
		if q == "When does search ship?" {
			return nil, nil
		}
		return []string{"memory for " + q}, nil
	})

	out, err := newEngine(backend, nil).Reflect(context.Background(), fiveMemories, retriever)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Len(t, asked, 3)
	assert.Equal(t, []string{"memory for What is Sally focused on?"}, out[0].Memories)
	assert.Equal(t, fiveMemories, out[2].Memories, "empty retrieval falls back to recent memories")
	assert.Contains(t, backend.Prompts()[1], "[0] memory for What is Sally focused on?")
}

func TestReflect_NilRetriever(t *testing.T) {
	insight := `{"insights": [{"insight": "Sally Smith owns the roadmap", "related_statements": [0, 4]}]}`
	backend := llmtest.NewScripted(threeQuestions, insight, insight, insight)

	out, err := newEngine(backend, nil).Reflect(context.Background(), fiveMemories, nil)
	require.NoError(t, err)
	for _, r := range out {
		assert.Equal(t, fiveMemories, r.Memories)
		assert.Equal(t, []int{0, 4}, r.Insights[0].SupportingMemoryIndices)
	}
}

func TestReflect_RetrieverError(t *testing.T) {
	backend := llmtest.NewScripted(threeQuestions)
	retriever := RetrieverFunc(func(context.Context, string) ([]string, error) {
		return nil, errors.New("index offline")
	})
	_, err := newEngine(backend, nil).Reflect(context.Background(), fiveMemories, retriever)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index offline")
}
