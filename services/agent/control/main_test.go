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
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/llm/llmtest"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// Prompt markers for llmtest routes.
const (
	markImportance  = "You are a memory importance AI"
	markRecent      = "briefly summarize what"
	markReact       = "decide how they should proceed"
	markMakePlans   = "You are a plan-generating AI"
	markExecute     = "in front of a live audience"
	markQuestions   = "most salient high-level questions"
	markInsights    = "high-level insights can you infer"
	markHasHappened = "has been witnessed by the character"
	markGossip      = "would find interesting"
)

const officeYAML = `
name: The Office
locations:
  - id: office
    name: Office
    description: Open-plan office with six desks.
  - id: kitchen
    name: Kitchen
agents:
  - id: sally
    name: Sally Smith
    public_bio: Product manager.
    private_bio: Sally is a product manager who loves puzzles.
    location: office
  - id: tom
    name: Tom Jones
    public_bio: Engineer.
    private_bio: Tom is a backend engineer who reads a lot.
    location: office
  - id: ann
    name: Ann Lee
    private_bio: Ann runs the kitchen.
    location: kitchen
`

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func route(marker string, replies ...string) llmtest.Route {
	r := llmtest.Route{Contains: marker}
	for _, reply := range replies {
		r.Replies = append(r.Replies, llmtest.Text(reply))
	}
	return r
}

// harness is a full control stack over a scripted oracle.
type harness struct {
	world    *world.Scenario
	backend  *llmtest.Router
	memories *Memories
	store    *memStore
	core     *Core
	ctrl     *Controller
}

func newHarness(t *testing.T, cfg Config, routes ...llmtest.Route) *harness {
	t.Helper()
	w, err := world.DecodeScenario(strings.NewReader(officeYAML))
	require.NoError(t, err)

	backend := llmtest.NewRouter(routes...)
	client := oracle.NewClient(backend, oracle.WithConfig(oracle.Config{MaxAttempts: 3}))
	memories := NewMemories()

	builtins, err := tools.Builtins(tools.Deps{
		World:     w,
		Directory: w,
		Messenger: NewMailbox(w, memories, clock),
		Waiter:    NewWaiter(client, memories, 20),
	})
	require.NoError(t, err)
	registry, err := tools.NewRegistry(w, builtins)
	require.NoError(t, err)

	core := NewCore(client, registry, WithClock(clock))
	store := newMemStore()
	ctrl := NewController(core, w, store, memories, WithConfig(cfg), WithControllerClock(clock))
	return &harness{world: w, backend: backend, memories: memories, store: store, core: core, ctrl: ctrl}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeWindow = 2 * time.Hour
	cfg.ReflectionThreshold = 0
	return cfg
}

func (h *harness) prompts(marker string) []string {
	var out []string
	for _, c := range h.backend.Calls() {
		if strings.Contains(c.Prompt, marker) {
			out = append(out, c.Prompt)
		}
	}
	return out
}

func (h *harness) seedPlan(t *testing.T, agentID, description string) plans.Plan {
	t.Helper()
	p := plans.Plan{
		ID:             uuid.New(),
		AgentID:        agentID,
		Index:          1,
		Description:    description,
		LocationID:     "office",
		StartTime:      testNow,
		MaxDurationHrs: 2,
		StopCondition:  "done",
		CreatedAt:      testNow,
	}
	require.NoError(t, h.store.Replace(context.Background(), agentID, []plans.Plan{p}, "seed"))
	return p
}

func planJSON(description, location string, hours float64) string {
	return fmt.Sprintf(`{"description": %q, "location_name": %q, "max_duration_hrs": %g, "stop_condition": "it is done"}`, description, location, hours)
}

// memStore is an in-process PlanStore with the same semantics as
// planstore.Store.
type memStore struct {
	mu     sync.Mutex
	active map[string][]plans.Plan
	log    []string
}

func newMemStore() *memStore { return &memStore{active: make(map[string][]plans.Plan)} }

func (s *memStore) Active(_ context.Context, agentID string) ([]plans.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]plans.Plan(nil), s.active[agentID]...), nil
}

func (s *memStore) Current(ctx context.Context, agentID string) (plans.Plan, bool, error) {
	ps, _ := s.Active(ctx, agentID)
	if len(ps) == 0 {
		return plans.Plan{}, false, nil
	}
	return ps[0], true, nil
}

func (s *memStore) Replace(_ context.Context, agentID string, ps []plans.Plan, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[agentID] = renumbered(ps)
	s.log = append(s.log, agentID+":replace")
	return nil
}

func (s *memStore) Postpone(_ context.Context, agentID string, p plans.Plan, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[agentID] = renumbered(append([]plans.Plan{p}, s.active[agentID]...))
	s.log = append(s.log, agentID+":postpone")
	return nil
}

func (s *memStore) Complete(_ context.Context, agentID string, id uuid.UUID) error {
	return s.remove(agentID, id, "complete")
}

func (s *memStore) Cancel(_ context.Context, agentID string, id uuid.UUID, _ string) error {
	return s.remove(agentID, id, "cancel")
}

func (s *memStore) remove(agentID string, id uuid.UUID, kind string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []plans.Plan
	found := false
	for _, p := range s.active[agentID] {
		if p.ID == id {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return planstore.ErrPlanNotFound
	}
	s.active[agentID] = renumbered(kept)
	s.log = append(s.log, agentID+":"+kind)
	return nil
}

func (s *memStore) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func renumbered(ps []plans.Plan) []plans.Plan {
	out := make([]plans.Plan, len(ps))
	for i, p := range ps {
		p.Index = i + 1
		out[i] = p
	}
	return out
}
