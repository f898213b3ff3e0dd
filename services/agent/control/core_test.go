// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"context"
	"testing"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCore_ExecuteTool(t *testing.T) {
	h := newHarness(t, testConfig())
	sally := &tools.Context{AgentID: "sally", AgentName: "Sally Smith", LocationID: "office", LocationName: "Office"}

	out := h.core.ExecuteTool(context.Background(), tools.NameCompanyDirectory, tools.TextInput(""), sally)
	assert.Contains(t, out, "Tom Jones: Engineer.")
	assert.NotContains(t, out, "Sally Smith")

	out = h.core.ExecuteTool(context.Background(), "teleport", tools.TextInput("Paris"), sally)
	assert.Contains(t, out, tools.ErrPrefix+"unknown tool teleport")

	// Gated tools are not registered without credentials.
	out = h.core.ExecuteTool(context.Background(), tools.NameSearch, tools.TextInput("news"), sally)
	assert.Contains(t, out, "unknown tool search")
}

func TestCore_ResolveTools(t *testing.T) {
	h := newHarness(t, testConfig())

	none, err := h.core.ResolveTools(context.Background(), nil, "sally", "office", false)
	require.NoError(t, err)
	assert.Empty(t, none)

	ambient, err := h.core.ResolveTools(context.Background(), nil, "sally", "office", true)
	require.NoError(t, err)
	for _, r := range ambient {
		assert.True(t, r.Worldwide())
		if r.Name() == tools.NameSpeak {
			assert.Contains(t, r.Description(), "Tom Jones")
			assert.NotContains(t, r.Description(), "Ann Lee")
		}
	}
}

func TestCore_SummarizeRecentActivity(t *testing.T) {
	h := newHarness(t, testConfig(), route(markRecent, "  Sally reviewed the roadmap.  "))

	empty, err := h.core.SummarizeRecentActivity(context.Background(), "Sally Smith", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Empty(t, h.backend.Calls())

	out, err := h.core.SummarizeRecentActivity(context.Background(), "Sally Smith", []string{"Sally opened the roadmap"})
	require.NoError(t, err)
	assert.Equal(t, "Sally reviewed the roadmap.", out)
	assert.Contains(t, h.prompts(markRecent)[0], "- Sally opened the roadmap")
}

func TestCore_Gossip(t *testing.T) {
	h := newHarness(t, testConfig(), route(markGossip, "Did you hear Tom finished the migration?"))

	out, err := h.core.Gossip(context.Background(), "Sally Smith", []string{"Tom finished the migration"}, []string{"Tom Jones"})
	require.NoError(t, err)
	assert.Equal(t, "Did you hear Tom finished the migration?", out)
	assert.Contains(t, h.prompts(markGossip)[0], "at your location would find interesting: Tom Jones")
}

func TestCore_HasHappened(t *testing.T) {
	h := newHarness(t, testConfig(),
		route(markHasHappened,
			`{"has_happened": "yes"}`,
			`{"has_happened": true, "date_occurred": "2026-03-02 09:05:00+00:00"}`,
		),
	)

	res, err := h.core.HasHappened(context.Background(), []string{"Sally said hi to Tom @ 2026-03-02 09:05:00+00:00"}, "Sally greeted Tom")
	require.NoError(t, err)
	assert.True(t, res.HasHappened)
	require.NotNil(t, res.DateOccurred)
	assert.Equal(t, "2026-03-02 09:05:00+00:00", *res.DateOccurred)
	assert.Len(t, h.prompts(markHasHappened), 2)
}

func TestCore_ReflectOverFiveMemories(t *testing.T) {
	h := newHarness(t, testConfig(),
		route(markQuestions, `{"questions": ["What is Sally focused on?", "How does Sally feel about Tom?", "What is at risk?"]}`),
		route(markInsights, `{"insights": [
			{"insight": "Sally is focused on the launch", "related_statements": [0, 2, 4]},
			{"insight": "Sally trusts Tom", "related_statements": [1, 3]}
		]}`),
	)
	memories := []string{
		"Sally planned the launch",
		"Sally asked Tom to review the API",
		"Sally moved the launch to Friday",
		"Tom approved the API",
		"Sally booked the launch party",
	}

	refl, err := h.core.Reflect(context.Background(), memories, nil)
	require.NoError(t, err)
	require.Len(t, refl, 3)
	for _, r := range refl {
		assert.Equal(t, memories, r.Memories)
		require.NotEmpty(t, r.Insights)
		for _, in := range r.Insights {
			require.NotEmpty(t, in.SupportingMemoryIndices)
			for _, idx := range in.SupportingMemoryIndices {
				assert.GreaterOrEqual(t, idx, 0)
				assert.Less(t, idx, 5)
			}
		}
	}
	assert.Contains(t, h.prompts(markInsights)[0], "[4] Sally booked the launch party")
}

func TestCore_ScoreImportanceNeverClamps(t *testing.T) {
	h := newHarness(t, testConfig(), route(markImportance, `{"rating": 0}`, `{"rating": 11}`, `{"rating": 7.5}`))

	_, err := h.core.ScoreImportance(context.Background(), "Sally is a PM.", "Sally Smith", "Sally got promoted")
	assert.ErrorIs(t, err, oracle.ErrSchemaValidation)
	assert.Len(t, h.prompts(markImportance), 3)
}
