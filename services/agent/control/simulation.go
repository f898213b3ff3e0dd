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
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentAgents bounds parallel ticks when unset.
const DefaultMaxConcurrentAgents = 4

// Simulation ticks a fixed set of agents in parallel.
//
// Thread Safety: Step and Run must not be called concurrently with each
// other; Stalls is safe at any time.
type Simulation struct {
	ctrl   *Controller
	agents []string
	limit  int
	logger *slog.Logger

	mu     sync.Mutex
	stalls map[string]int
}

// NewSimulation creates a Simulation over agentIDs. maxConcurrent <= 0
// uses DefaultMaxConcurrentAgents.
func NewSimulation(ctrl *Controller, agentIDs []string, maxConcurrent int, logger *slog.Logger) *Simulation {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentAgents
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulation{
		ctrl:   ctrl,
		agents: append([]string(nil), agentIDs...),
		limit:  maxConcurrent,
		logger: logger,
		stalls: make(map[string]int),
	}
}

// Step ticks every agent once.
//
// Description:
//
//	Agents run concurrently, at most maxConcurrent at a time. A failed
//	tick marks its agent stalled in the report and does not stop the
//	others; the agent is simply ticked again next step.
//
// Outputs:
//
//	[]TickReport - One per agent, in agent order.
//	error - Only the context error.
func (s *Simulation) Step(ctx context.Context) ([]TickReport, error) {
	ctx, span := tracer.Start(ctx, "control.Simulation.Step")
	defer span.End()

	reports := make([]TickReport, len(s.agents))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, id := range s.agents {
		g.Go(func() error {
			report, err := s.ctrl.Tick(ctx, id)
			if err != nil {
				report.Stalled = true
				s.logger.Warn("agent stalled", "agent_id", id, "error", err)
			}
			s.markStalled(id, err != nil)
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports, ctx.Err()
}

// Run calls Step n times, or until ctx ends. observe, when non-nil, sees
// each step's reports.
func (s *Simulation) Run(ctx context.Context, n int, observe func(step int, reports []TickReport)) error {
	for step := 1; step <= n; step++ {
		reports, err := s.Step(ctx)
		if observe != nil {
			observe(step, reports)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Stalls returns each agent's count of consecutive failed ticks.
func (s *Simulation) Stalls() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.stalls))
	for k, v := range s.stalls {
		out[k] = v
	}
	return out
}

func (s *Simulation) markStalled(agentID string, stalled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stalled {
		s.stalls[agentID]++
	} else {
		delete(s.stalls, agentID)
	}
	stalledAgents.Set(float64(len(s.stalls)))
}
