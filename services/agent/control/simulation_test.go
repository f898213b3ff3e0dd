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

	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulation_StalledAgentDoesNotStopOthers(t *testing.T) {
	h := newHarness(t, testConfig(),
		route(markMakePlans, `{"plans": [`+planJSON("Do the work", "Office", 2)+`]}`),
		route(markExecute, "Final Response: Done"),
	)
	sim := NewSimulation(h.ctrl, []string{"sally", "ghost", "tom"}, 2, nil)

	reports, err := sim.Step(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.Equal(t, "sally", reports[0].AgentID)
	assert.False(t, reports[0].Stalled)
	assert.True(t, reports[1].Stalled)
	assert.Error(t, reports[1].Err)
	assert.Contains(t, reports[1].Error, "unknown agent")
	assert.False(t, reports[2].Stalled)
	assert.Equal(t, map[string]int{"ghost": 1}, sim.Stalls())

	_, err = sim.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ghost": 2}, sim.Stalls())
}

func TestSimulation_StalledAgentReactsOnRetry(t *testing.T) {
	bad := `{"reaction": "postpone", "thought_process": "I postpone."}`
	h := newHarness(t, testConfig(),
		route(markImportance, `{"rating": 4}`),
		route(markRecent, "Tom is reading."),
		route(markReact, bad, bad, bad, `{"reaction": "cancel", "thought_process": "The meeting moved, so I cancel."}`),
		route(markMakePlans, `{"plans": [`+planJSON("Ask Sally where the meeting is", "Office", 0.5)+`, `+planJSON("Go to the new meeting", "Office", 2)+`]}`),
		route(markExecute, "Final Response: Done"),
	)
	h.seedPlan(t, "tom", "Read a book")
	require.NoError(t, NewMailbox(h.world, h.memories, clock).Send(context.Background(), tools.Message{
		FromID: "sally", FromName: "Sally Smith", LocationID: "office", Recipient: "everyone", Content: "The meeting moved to now.",
	}))
	sim := NewSimulation(h.ctrl, []string{"tom"}, 1, nil)

	reports, err := sim.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, reports[0].Stalled)
	assert.Equal(t, map[string]int{"tom": 1}, sim.Stalls())

	reports, err = sim.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, reports[0].Stalled)
	assert.Equal(t, "cancel", reports[0].Reaction)
	assert.Equal(t, []string{`Sally Smith said to everyone: "The meeting moved to now."`}, reports[0].Events)
	assert.Empty(t, sim.Stalls())
}

func TestSimulation_RunObservesEachStep(t *testing.T) {
	h := newHarness(t, testConfig(),
		route(markMakePlans, `{"plans": [`+planJSON("Do the work", "Office", 2)+`]}`),
		route(markExecute, "Final Response: Done"),
	)
	sim := NewSimulation(h.ctrl, []string{"sally", "tom", "ann"}, 0, nil)

	var steps []int
	err := sim.Run(context.Background(), 2, func(step int, reports []TickReport) {
		steps = append(steps, step)
		assert.Len(t, reports, 3)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, steps)
	assert.Empty(t, sim.Stalls())
}

func TestSimulation_CancelledContext(t *testing.T) {
	h := newHarness(t, testConfig())
	sim := NewSimulation(h.ctrl, []string{"sally"}, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := sim.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Stalled)
}
