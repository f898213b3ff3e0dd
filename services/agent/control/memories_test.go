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
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemories_DeliverAndDrain(t *testing.T) {
	m := NewMemories()
	m.Deliver("tom", Memory{Description: "a"})
	m.Deliver("tom", Memory{Description: "b"})
	assert.Equal(t, 2, m.Pending("tom"))

	got := m.Drain("tom")
	assert.Equal(t, []string{"a", "b"}, plain(got))
	assert.Zero(t, m.Pending("tom"))
	assert.Empty(t, m.Drain("tom"))
}

func TestMemories_RequeueGoesFirst(t *testing.T) {
	m := NewMemories()
	m.Deliver("tom", Memory{Description: "late"})
	m.Requeue("tom", []Memory{{Description: "a"}, {Description: "b"}})
	m.Requeue("tom", nil)

	assert.Equal(t, []string{"a", "b", "late"}, plain(m.Drain("tom")))
}

func TestMemories_RecentAndReflectionCounter(t *testing.T) {
	m := NewMemories()
	for i, d := range []string{"one", "two", "three"} {
		m.Add("tom", Memory{Description: d, Importance: i + 1})
	}
	assert.Equal(t, []string{"two", "three"}, plain(m.Recent("tom", 2)))
	assert.Equal(t, []string{"one", "two", "three"}, plain(m.Recent("tom", 0)))
	assert.Equal(t, 6, m.ImportanceSinceReflection("tom"))

	m.ResetReflection("tom")
	assert.Zero(t, m.ImportanceSinceReflection("tom"))
}

func TestMemories_Conversation(t *testing.T) {
	m := NewMemories()
	m.Add("tom", Memory{Description: "m1", Kind: KindMessage})
	m.Add("tom", Memory{Description: "walked", Kind: KindAction})
	m.Add("tom", Memory{Description: "m2", Kind: KindMessage})
	m.Add("tom", Memory{Description: "m3", Kind: KindMessage})

	assert.Equal(t, []string{"m2", "m3"}, plain(m.Conversation("tom", 2)))
	assert.Equal(t, []string{"m1", "m2", "m3"}, plain(m.Conversation("tom", 0)))
}

func TestMemories_Retriever(t *testing.T) {
	m := NewMemories()
	m.Add("tom", Memory{Description: "Tom drank coffee", Importance: 1})
	m.Add("tom", Memory{Description: "The launch slipped a week", Importance: 9})
	m.Add("tom", Memory{Description: "Sally worried about the launch date", Importance: 4})
	m.Add("tom", Memory{Description: "Nothing relevant here", Importance: 10})

	found, err := m.Retriever("tom", 2).Retrieve(context.Background(), "Why did the launch date slip?")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sally worried about the launch date", "The launch slipped a week"}, found)

	none, err := m.Retriever("tom", 2).Retrieve(context.Background(), "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_String(t *testing.T) {
	mem := Memory{Description: "Joe said hi", CreatedAt: time.Date(2023, 5, 4, 8, 5, 0, 0, time.UTC)}
	assert.Equal(t, "Joe said hi @ 2023-05-04 08:05:00+00:00", mem.String())
}

func TestMailbox_Send(t *testing.T) {
	h := newHarness(t, testConfig())
	box := NewMailbox(h.world, h.memories, clock)

	err := box.Send(context.Background(), tools.Message{
		FromID: "sally", FromName: "Sally Smith", LocationID: "office", Recipient: "everyone", Content: "Standup in 5",
	})
	require.NoError(t, err)

	tom := h.memories.Drain("tom")
	require.Len(t, tom, 1)
	assert.Equal(t, `Sally Smith said to everyone: "Standup in 5"`, tom[0].Description)
	assert.Equal(t, "Sally Smith", tom[0].Speaker)
	assert.Equal(t, testNow, tom[0].CreatedAt)
	assert.Zero(t, h.memories.Pending("ann"))
	assert.Zero(t, h.memories.Pending("sally"))
	assert.Equal(t, []string{`Sally Smith said to everyone: "Standup in 5"`}, plain(h.memories.Conversation("sally", 0)))

	err = box.Send(context.Background(), tools.Message{
		FromID: "ann", FromName: "Ann Lee", LocationID: "kitchen", Recipient: "everyone", Content: "Anyone?",
	})
	assert.Error(t, err)
}

func TestWaiter_HasHappened(t *testing.T) {
	h := newHarness(t, testConfig(), route(markHasHappened, `{"has_happened": false, "date_occurred": null}`))
	w := NewWaiter(h.core.oracle, h.memories, 5)

	happened, err := w.HasHappened(context.Background(), "tom", "Sally replies")
	require.NoError(t, err)
	assert.False(t, happened)
	assert.Empty(t, h.backend.Calls())

	h.memories.Add("tom", Memory{Description: "Tom asked Sally a question", CreatedAt: testNow})
	happened, err = w.HasHappened(context.Background(), "tom", "Sally replies")
	require.NoError(t, err)
	assert.False(t, happened)
	assert.Contains(t, h.prompts(markHasHappened)[0], "Tom asked Sally a question @ 2026-03-02 09:00:00+00:00")
	assert.Contains(t, h.prompts(markHasHappened)[0], "Waiting For: Sally replies")
}
