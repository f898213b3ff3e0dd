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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.agentsim.planstore")

var (
	// ErrPlanNotFound is returned when a plan id is not in the agent's
	// active set.
	ErrPlanNotFound = errors.New("plan not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("plan store closed")
)

// EntryKind says what a journal entry recorded.
type EntryKind string

const (
	KindReplace  EntryKind = "replace"
	KindPostpone EntryKind = "postpone"
	KindComplete EntryKind = "complete"
	KindCancel   EntryKind = "cancel"
)

// Entry is one journaled change to an agent's plans.
type Entry struct {
	Seq     uint64       `json:"seq"`
	AgentID string       `json:"agent_id"`
	Kind    EntryKind    `json:"kind"`
	At      time.Time    `json:"at"`
	Reason  string       `json:"reason,omitempty"`
	Plans   []plans.Plan `json:"plans"`
}

// Store is the BadgerDB-backed plan journal.
//
// Thread Safety: Safe for concurrent use. Each operation runs in one
// badger transaction; callers serialize per-agent sequences themselves
// (control.Controller holds the agent lock).
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	seq    atomic.Uint64
	closed atomic.Bool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for journal timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens the plan store described by cfg.
//
// Outputs:
//
//	*Store - Call Close when done.
//	error - The directory could not be created or badger failed to open.
func Open(cfg Config, opts ...Option) (*Store, error) {
	s := &Store{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := openDB(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.db = db
	seq, err := lastSeq(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.seq.Store(seq)

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("plan store gc: %w", err)
		}
		s.gc = runner
		runner.start()
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call twice.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Active returns the agent's plans in index order.
func (s *Store) Active(ctx context.Context, agentID string) ([]plans.Plan, error) {
	var out []plans.Plan
	err := s.view(ctx, func(txn *badger.Txn) error {
		var err error
		out, err = readActive(txn, agentID)
		return err
	})
	return out, err
}

// Current returns the agent's first plan, if any.
func (s *Store) Current(ctx context.Context, agentID string) (plans.Plan, bool, error) {
	ps, err := s.Active(ctx, agentID)
	if err != nil || len(ps) == 0 {
		return plans.Plan{}, false, err
	}
	return ps[0], true, nil
}

// Replace commits a new plan set for the agent, superseding the old one.
func (s *Store) Replace(ctx context.Context, agentID string, ps []plans.Plan, reason string) error {
	ctx, span := tracer.Start(ctx, "planstore.Replace")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID), attribute.Int("plan.count", len(ps)))

	return s.update(ctx, func(txn *badger.Txn) error {
		next := renumber(ps)
		if err := writeActive(txn, agentID, next); err != nil {
			return err
		}
		return s.journal(txn, agentID, KindReplace, reason, next)
	})
}

// Postpone puts p in front of the agent's current plans.
func (s *Store) Postpone(ctx context.Context, agentID string, p plans.Plan, reason string) error {
	ctx, span := tracer.Start(ctx, "planstore.Postpone")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	return s.update(ctx, func(txn *badger.Txn) error {
		current, err := readActive(txn, agentID)
		if err != nil {
			return err
		}
		next := renumber(append([]plans.Plan{p}, current...))
		if err := writeActive(txn, agentID, next); err != nil {
			return err
		}
		return s.journal(txn, agentID, KindPostpone, reason, next[:1])
	})
}

// Complete removes a finished plan from the active set.
func (s *Store) Complete(ctx context.Context, agentID string, id uuid.UUID) error {
	return s.retire(ctx, agentID, id, KindComplete, "")
}

// Cancel removes an abandoned plan from the active set.
func (s *Store) Cancel(ctx context.Context, agentID string, id uuid.UUID, reason string) error {
	return s.retire(ctx, agentID, id, KindCancel, reason)
}

func (s *Store) retire(ctx context.Context, agentID string, id uuid.UUID, kind EntryKind, reason string) error {
	ctx, span := tracer.Start(ctx, "planstore."+string(kind))
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID), attribute.String("plan.id", id.String()))

	return s.update(ctx, func(txn *badger.Txn) error {
		current, err := readActive(txn, agentID)
		if err != nil {
			return err
		}
		var retired []plans.Plan
		kept := current[:0:0]
		for _, p := range current {
			if p.ID == id {
				retired = append(retired, p)
				continue
			}
			kept = append(kept, p)
		}
		if len(retired) == 0 {
			return fmt.Errorf("%w: %s for agent %s", ErrPlanNotFound, id, agentID)
		}
		if err := writeActive(txn, agentID, renumber(kept)); err != nil {
			return err
		}
		return s.journal(txn, agentID, kind, reason, retired)
	})
}

// History returns up to limit journal entries for the agent, newest
// first. A limit of zero or less returns everything.
func (s *Store) History(ctx context.Context, agentID string, limit int) ([]Entry, error) {
	var out []Entry
	err := s.view(ctx, func(txn *badger.Txn) error {
		prefix := journalPrefix(agentID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(append([]byte{}, prefix...), 0xFF)); it.Valid(); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) }); err != nil {
				return fmt.Errorf("decode journal entry %s: %w", it.Item().Key(), err)
			}
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// =============================================================================
// Internals
// =============================================================================

func (s *Store) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.View(fn)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	return s.db.Update(fn)
}

func (s *Store) journal(txn *badger.Txn, agentID string, kind EntryKind, reason string, ps []plans.Plan) error {
	e := Entry{
		Seq:     s.seq.Add(1),
		AgentID: agentID,
		Kind:    kind,
		At:      s.now().UTC(),
		Reason:  reason,
		Plans:   ps,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	key := append(journalPrefix(agentID), []byte(fmt.Sprintf("%020d", e.Seq))...)
	if err := txn.Set(key, data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	s.logger.Debug("plan journal entry written", "agent_id", agentID, "kind", string(kind), "plans", len(ps))
	return nil
}

// lastSeq returns the highest journal sequence on disk, or zero for a
// new store.
func lastSeq(db *badger.DB) (uint64, error) {
	var last uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalRoot)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			seq, err := strconv.ParseUint(string(key[bytes.LastIndexByte(key, '/')+1:]), 10, 64)
			if err != nil {
				return fmt.Errorf("journal key %q: %w", key, err)
			}
			last = max(last, seq)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read journal sequence: %w", err)
	}
	return last, nil
}

func readActive(txn *badger.Txn, agentID string) ([]plans.Plan, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = activePrefix(agentID)
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []plans.Plan
	for it.Rewind(); it.Valid(); it.Next() {
		var p plans.Plan
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &p) }); err != nil {
			return nil, fmt.Errorf("decode plan %s: %w", it.Item().Key(), err)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// writeActive replaces every active key for the agent with ps.
func writeActive(txn *badger.Txn, agentID string, ps []plans.Plan) error {
	prefix := activePrefix(agentID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var stale [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		stale = append(stale, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range stale {
		if err := txn.Delete(k); err != nil {
			return fmt.Errorf("clear active plans: %w", err)
		}
	}
	for _, p := range ps {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		key := append(activePrefix(agentID), []byte(fmt.Sprintf("%03d", p.Index))...)
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("write plan: %w", err)
		}
	}
	return nil
}

// renumber returns a copy of ps with 1-based indices in slice order.
func renumber(ps []plans.Plan) []plans.Plan {
	out := make([]plans.Plan, len(ps))
	for i, p := range ps {
		p.Index = i + 1
		out[i] = p
	}
	return out
}

const journalRoot = "journal/"

func activePrefix(agentID string) []byte  { return []byte("active/" + agentID + "/") }
func journalPrefix(agentID string) []byte { return []byte(journalRoot + agentID + "/") }
