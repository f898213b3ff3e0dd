// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixed = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func openMem(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig(), WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func plan(desc string) plans.Plan {
	return plans.Plan{
		ID:             uuid.New(),
		AgentID:        "sally",
		Description:    desc,
		LocationID:     "office",
		StartTime:      fixed,
		MaxDurationHrs: 1,
		StopCondition:  "done",
		CreatedAt:      fixed,
	}
}

func descriptions(ps []plans.Plan) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Description
	}
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestOpen_RejectsBadGCRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = t.TempDir()
	cfg.GCDiscardRatio = 1.5
	_, err := Open(cfg)
	assert.Error(t, err)
}

func TestStore_EmptyAgent(t *testing.T) {
	s := openMem(t)
	ps, err := s.Active(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, ps)

	_, ok, err := s.Current(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ReplaceRenumbers(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()

	first := []plans.Plan{plan("read a book"), plan("eat lunch")}
	first[0].Index, first[1].Index = 7, 3
	require.NoError(t, s.Replace(ctx, "sally", first, "morning"))
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{plan("answer email")}, "new day"))

	ps, err := s.Active(ctx, "sally")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "answer email", ps[0].Description)
	assert.Equal(t, 1, ps[0].Index)
}

func TestStore_PostponePutsPlanFirst(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{plan("read a book"), plan("eat lunch")}, ""))

	require.NoError(t, s.Postpone(ctx, "sally", plan("answer Tom"), "Tom asked a question"))

	ps, err := s.Active(ctx, "sally")
	require.NoError(t, err)
	assert.Equal(t, []string{"answer Tom", "read a book", "eat lunch"}, descriptions(ps))
	assert.Equal(t, []int{1, 2, 3}, []int{ps[0].Index, ps[1].Index, ps[2].Index})

	cur, ok, err := s.Current(ctx, "sally")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "answer Tom", cur.Description)
}

func TestStore_CompleteAndCancel(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	a, b, c := plan("a"), plan("b"), plan("c")
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{a, b, c}, ""))

	require.NoError(t, s.Complete(ctx, "sally", b.ID))
	require.NoError(t, s.Cancel(ctx, "sally", a.ID, "no longer relevant"))

	ps, err := s.Active(ctx, "sally")
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, c.ID, ps[0].ID)
	assert.Equal(t, 1, ps[0].Index)

	err = s.Complete(ctx, "sally", b.ID)
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestStore_HistoryNewestFirst(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	a := plan("a")
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{a}, "start"))
	require.NoError(t, s.Postpone(ctx, "sally", plan("reply"), "asked"))
	require.NoError(t, s.Complete(ctx, "sally", a.ID))
	require.NoError(t, s.Replace(ctx, "tom", []plans.Plan{plan("t")}, ""))

	all, err := s.History(ctx, "sally", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []EntryKind{KindComplete, KindPostpone, KindReplace}, []EntryKind{all[0].Kind, all[1].Kind, all[2].Kind})
	assert.Equal(t, "asked", all[1].Reason)
	assert.Equal(t, fixed, all[0].At)
	assert.Greater(t, all[0].Seq, all[1].Seq)

	last, err := s.History(ctx, "sally", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, KindComplete, last[0].Kind)
}

func TestStore_AgentsAreIsolated(t *testing.T) {
	s := openMem(t)
	ctx := context.Background()
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{plan("s")}, ""))
	require.NoError(t, s.Replace(ctx, "sal", []plans.Plan{plan("x"), plan("y")}, ""))

	ps, err := s.Active(ctx, "sally")
	require.NoError(t, err)
	assert.Equal(t, []string{"s"}, descriptions(ps))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "plans")
	cfg.GCInterval = time.Hour
	ctx := context.Background()

	s, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{plan("durable")}, ""))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s2, err := Open(cfg)
	require.NoError(t, err)
	defer s2.Close()
	ps, err := s2.Active(ctx, "sally")
	require.NoError(t, err)
	assert.Equal(t, []string{"durable"}, descriptions(ps))
}

func TestStore_SequenceContinuesAfterReopen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "plans")
	cfg.GCInterval = 0
	ctx := context.Background()

	s, err := Open(cfg, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, "sally", []plans.Plan{plan("first")}, ""))
	require.NoError(t, s.Replace(ctx, "tom", []plans.Plan{plan("second")}, ""))
	require.NoError(t, s.Close())

	// A clock that went backwards must not reorder the journal.
	earlier := fixed.Add(-24 * time.Hour)
	s2, err := Open(cfg, WithClock(func() time.Time { return earlier }))
	require.NoError(t, err)
	defer s2.Close()
	require.NoError(t, s2.Replace(ctx, "sally", []plans.Plan{plan("third")}, ""))

	hist, err := s2.History(ctx, "sally", 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, uint64(3), hist[0].Seq)
	assert.Equal(t, "third", hist[0].Plans[0].Description)
	assert.Equal(t, uint64(1), hist[1].Seq)
}

func TestStore_SequenceStartsAtOne(t *testing.T) {
	s := openMem(t)
	require.NoError(t, s.Replace(context.Background(), "sally", []plans.Plan{plan("a")}, ""))
	hist, err := s.History(context.Background(), "sally", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, uint64(1), hist[0].Seq)
}

func TestStore_ClosedAndCancelled(t *testing.T) {
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Active(ctx, "sally")
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
	_, err = s.Active(context.Background(), "sally")
	assert.ErrorIs(t, err, ErrClosed)
}
