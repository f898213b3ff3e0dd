// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package control runs agents: the Core facade exposes each cognitive
// operation to a simulation driver, the Controller strings them into a
// per-agent tick, and Simulation ticks every agent concurrently.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/executor"
	"github.com/AleutianAI/AleutianTeam/services/agent/importance"
	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/agent/react"
	"github.com/AleutianAI/AleutianTeam/services/agent/reflection"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("aleutian.agentsim.control")

// HasHappenedSchema is the HAS_HAPPENED response.
var HasHappenedSchema = oracle.MustSchema("has_happened", `{
  "type": "object",
  "properties": {
    "has_happened": {"type": "boolean"},
    "date_occurred": {"type": ["string", "null"]}
  },
  "required": ["has_happened"]
}`)

// HasHappenedResult is the oracle's verdict on an awaited event.
type HasHappenedResult struct {
	HasHappened  bool    `json:"has_happened"`
	DateOccurred *string `json:"date_occurred"`
}

// Core is the driver-facing facade over the cognitive components.
//
// Thread Safety: Safe for concurrent use. Core keeps no per-agent state;
// the Controller serializes calls for one agent.
type Core struct {
	oracle    *oracle.Client
	registry  *tools.Registry
	decider   *react.Decider
	generator *plans.Generator
	reflector *reflection.Engine
	scorer    *importance.Scorer
	executor  *executor.Executor
	logger    *slog.Logger
}

type coreOptions struct {
	now      func() time.Time
	logger   *slog.Logger
	approver executor.ApprovalFunc
	execCfg  executor.Config
}

// CoreOption configures a Core.
type CoreOption func(*coreOptions)

// WithClock sets the clock used for plan start times.
func WithClock(now func() time.Time) CoreOption {
	return func(o *coreOptions) { o.now = now }
}

// WithCoreLogger sets the logger. Nil keeps slog.Default().
func WithCoreLogger(logger *slog.Logger) CoreOption {
	return func(o *coreOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithApprover gates tools that require authorization.
func WithApprover(fn executor.ApprovalFunc) CoreOption {
	return func(o *coreOptions) { o.approver = fn }
}

// WithExecutorConfig bounds plan execution transcripts.
func WithExecutorConfig(cfg executor.Config) CoreOption {
	return func(o *coreOptions) { o.execCfg = cfg }
}

// NewCore wires every component to one oracle client and tool registry.
func NewCore(c *oracle.Client, registry *tools.Registry, opts ...CoreOption) *Core {
	o := coreOptions{now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Core{
		oracle:    c,
		registry:  registry,
		decider:   react.NewDecider(c, react.WithClock(o.now), react.WithLogger(o.logger)),
		generator: plans.NewGenerator(c, plans.WithClock(o.now), plans.WithLogger(o.logger)),
		reflector: reflection.NewEngine(c, o.logger),
		scorer:    importance.NewScorer(c, o.logger),
		executor: executor.New(c,
			executor.WithApprover(o.approver),
			executor.WithConfig(o.execCfg),
			executor.WithLogger(o.logger),
		),
		logger: o.logger,
	}
}

// Registry returns the shared tool registry.
func (c *Core) Registry() *tools.Registry { return c.registry }

// DecideReaction runs the ReactionDecider.
func (c *Core) DecideReaction(ctx context.Context, in react.Input) (react.Outcome, error) {
	return c.decider.Decide(ctx, in)
}

// GeneratePlans runs the PlanGenerator.
func (c *Core) GeneratePlans(ctx context.Context, req plans.Request) ([]plans.Plan, error) {
	return c.generator.Generate(ctx, req)
}

// ExecuteTool runs one registered tool. An unknown name is an error
// observation like any other tool failure.
func (c *Core) ExecuteTool(ctx context.Context, name tools.Name, in tools.Input, tctx *tools.Context) string {
	contract, ok := c.registry.Lookup(name)
	if !ok {
		return tools.ErrPrefix + fmt.Sprintf("unknown tool %s, try one of %v", name, c.registry.Names())
	}
	return contract.Execute(ctx, in, tctx)
}

// ResolveTools returns the tools one agent may use.
func (c *Core) ResolveTools(ctx context.Context, requested []tools.Name, agentID string, locationID world.LocationRef, includeAmbient bool) ([]tools.Resolved, error) {
	return c.registry.Resolve(ctx, requested, agentID, locationID, includeAmbient)
}

// ExecutePlan runs the plan transcript.
func (c *Core) ExecutePlan(ctx context.Context, req executor.Request) (*executor.Result, error) {
	return c.executor.Run(ctx, req)
}

// Reflect runs the ReflectionEngine.
func (c *Core) Reflect(ctx context.Context, recent []string, retriever reflection.Retriever) ([]reflection.Reflection, error) {
	return c.reflector.Reflect(ctx, recent, retriever)
}

// ScoreImportance runs the ImportanceScorer.
func (c *Core) ScoreImportance(ctx context.Context, actorBio, actorName, memoryDescription string) (int, error) {
	return c.scorer.Score(ctx, actorBio, actorName, memoryDescription)
}

// SummarizeRecentActivity condenses memories into a short free-text
// account of what the actor has been doing. No memories means no call.
func (c *Core) SummarizeRecentActivity(ctx context.Context, fullName string, memories []string) (string, error) {
	ctx, span := tracer.Start(ctx, "control.SummarizeRecentActivity")
	defer span.End()

	if len(memories) == 0 {
		return "", nil
	}
	out, err := c.oracle.Complete(ctx, prompt.Must(prompt.RecentActivity), prompt.Inputs{
		"full_name":           fullName,
		"memory_descriptions": prompt.Bullets(memories),
	})
	if err != nil {
		return "", fmt.Errorf("summarize recent activity for %s: %w", fullName, err)
	}
	return out, nil
}

// Gossip produces one or two sentences the actor might say to the others
// at their location.
func (c *Core) Gossip(ctx context.Context, fullName string, memories, otherAgentNames []string) (string, error) {
	ctx, span := tracer.Start(ctx, "control.Gossip")
	defer span.End()

	others := "nobody"
	if len(otherAgentNames) > 0 {
		others = strings.Join(otherAgentNames, ", ")
	}
	out, err := c.oracle.Complete(ctx, prompt.Must(prompt.Gossip), prompt.Inputs{
		"full_name":           fullName,
		"memory_descriptions": prompt.Bullets(memories),
		"other_agent_names":   others,
	})
	if err != nil {
		return "", fmt.Errorf("gossip for %s: %w", fullName, err)
	}
	return out, nil
}

// HasHappened asks whether event appears among the observations.
func (c *Core) HasHappened(ctx context.Context, observations []string, event string) (HasHappenedResult, error) {
	return hasHappened(ctx, c.oracle, observations, event)
}

func hasHappened(ctx context.Context, c *oracle.Client, observations []string, event string) (HasHappenedResult, error) {
	ctx, span := tracer.Start(ctx, "control.HasHappened")
	defer span.End()

	res, err := oracle.Do(ctx, c, oracle.Call[HasHappenedResult]{
		Schema:   HasHappenedSchema,
		Template: prompt.Must(prompt.HasHappened),
		Inputs: prompt.Inputs{
			"memory_descriptions": strings.Join(observations, "\n"),
			"event_description":   event,
		},
	})
	if err != nil {
		return HasHappenedResult{}, fmt.Errorf("check whether %q happened: %w", event, err)
	}
	return res, nil
}
