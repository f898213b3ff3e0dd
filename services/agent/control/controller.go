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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/executor"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/react"
	"github.com/AleutianAI/AleutianTeam/services/agent/reflection"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// World is what the controller needs to know about the simulated world.
// *world.Scenario satisfies it.
type World interface {
	world.Context
	Agent(id string) (world.AgentSpec, bool)
	Locations() []world.Location
}

// Mover is implemented by worlds that let agents walk to a plan's
// location before carrying it out.
type Mover interface {
	Move(ctx context.Context, agentID string, to world.LocationRef) error
}

// PlanStore keeps committed plans. *planstore.Store satisfies it.
type PlanStore interface {
	Active(ctx context.Context, agentID string) ([]plans.Plan, error)
	Current(ctx context.Context, agentID string) (plans.Plan, bool, error)
	Replace(ctx context.Context, agentID string, ps []plans.Plan, reason string) error
	Postpone(ctx context.Context, agentID string, p plans.Plan, reason string) error
	Complete(ctx context.Context, agentID string, id uuid.UUID) error
	Cancel(ctx context.Context, agentID string, id uuid.UUID, reason string) error
}

var (
	_ World     = (*world.Scenario)(nil)
	_ Mover     = (*world.Scenario)(nil)
	_ PlanStore = (*planstore.Store)(nil)
)

// Config tunes the tick.
type Config struct {
	// ReflectionThreshold is the accumulated importance that triggers a
	// reflection. Zero disables reflection.
	ReflectionThreshold int `yaml:"reflection_threshold" validate:"gte=0"`

	// RecentMemories bounds the memories shown to prompts.
	RecentMemories int `yaml:"recent_memories" validate:"gte=1"`

	// ConversationLength bounds the message history shown to prompts.
	ConversationLength int `yaml:"conversation_length" validate:"gte=1"`

	// TimeWindow is how much time a new plan set must cover.
	TimeWindow time.Duration `yaml:"time_window" validate:"gte=0"`

	// NoAmbientTools limits agents to the tools their spec names.
	NoAmbientTools bool `yaml:"no_ambient_tools"`
}

// DefaultConfig reflects every 100 points of importance and shows the
// last 20 memories and 10 messages.
func DefaultConfig() Config {
	return Config{
		ReflectionThreshold: 100,
		RecentMemories:      20,
		ConversationLength:  10,
		TimeWindow:          plans.DefaultTimeWindow,
	}
}

// TickReport is what one agent did in one tick.
type TickReport struct {
	AgentID       string                  `json:"agent_id"`
	Events        []string                `json:"events,omitempty"`
	Reaction      string                  `json:"reaction,omitempty"`
	Justification string                  `json:"justification,omitempty"`
	Replanned     bool                    `json:"replanned"`
	Plan          *plans.Plan             `json:"plan,omitempty"`
	Execution     *executor.Result        `json:"execution,omitempty"`
	Reflections   []reflection.Reflection `json:"reflections,omitempty"`

	// Stalled is set by Simulation when the tick failed. The agent is
	// retried on the next step.
	Stalled bool   `json:"stalled"`
	Error   string `json:"error,omitempty"`
	Err     error  `json:"-"`
}

// Controller runs the per-agent tick: perceive, react, replan, execute,
// reflect.
//
// Thread Safety: Safe for concurrent use. Calls for one agent are
// serialized by a per-agent mutex; different agents run in parallel.
type Controller struct {
	core     *Core
	world    World
	store    PlanStore
	memories *Memories
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// WithControllerClock sets the clock for memory timestamps.
func WithControllerClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a Controller.
func NewController(core *Core, w World, store PlanStore, memories *Memories, opts ...Option) *Controller {
	c := &Controller{
		core:     core,
		world:    w,
		store:    store,
		memories: memories,
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Core returns the facade the controller drives.
func (c *Controller) Core() *Core { return c.core }

// Memories returns the shared memory streams.
func (c *Controller) Memories() *Memories { return c.memories }

// Plans returns the agent's committed plans.
func (c *Controller) Plans(ctx context.Context, agentID string) ([]plans.Plan, error) {
	if _, err := c.agent(agentID); err != nil {
		return nil, err
	}
	return c.store.Active(ctx, agentID)
}

// Observe queues an observation for the agent's next tick.
func (c *Controller) Observe(agentID, description string) error {
	if _, err := c.agent(agentID); err != nil {
		return err
	}
	c.memories.Deliver(agentID, Memory{Description: description, Kind: KindObservation, CreatedAt: c.now()})
	return nil
}

// Do runs fn while holding the agent's lock, so driver calls through
// the Core facade never interleave with that agent's tick.
func (c *Controller) Do(agentID string, fn func() error) error {
	unlock := c.lock(agentID)
	defer unlock()
	return fn()
}

func (c *Controller) lock(agentID string) func() {
	c.mu.Lock()
	l, ok := c.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[agentID] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Tick advances one agent by one step.
//
// Description:
//
//	New events are scored for importance and added to memory. An agent
//	without plans gets a new set. An agent with a plan and new events
//	asks the ReactionDecider: POSTPONE pushes the embedded replacement in
//	front, CANCEL drops the plan and replans, CONTINUE keeps it. The
//	current plan is then executed through the tool transcript, and a
//	reflection runs once enough importance has accumulated.
//
// Outputs:
//
//	TickReport - What happened, filled as far as the tick got.
//	error - The first failure. Events the tick had not yet reacted to are
//	        requeued for the next tick.
func (c *Controller) Tick(ctx context.Context, agentID string) (TickReport, error) {
	ctx, span := tracer.Start(ctx, "control.Tick")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agentID))

	unlock := c.lock(agentID)
	defer unlock()

	report := TickReport{AgentID: agentID}
	start := time.Now()
	err := c.tick(ctx, agentID, &report)
	recordTick(err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick failed")
		report.Error = err.Error()
		report.Err = err
		return report, fmt.Errorf("tick %s: %w", agentID, err)
	}
	return report, nil
}

func (c *Controller) tick(ctx context.Context, agentID string, report *TickReport) (err error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return err
	}
	logger := c.logger.With("agent_id", agentID)

	tctx, locationContext, err := c.situate(ctx, spec)
	if err != nil {
		return err
	}

	events, err := c.perceive(ctx, spec)
	if err != nil {
		return err
	}
	report.Events = plain(events)

	// Until the reaction is committed the events go back to the inbox on
	// failure, so a retried tick still reacts to them.
	reacted := false
	defer func() {
		if err != nil && !reacted && len(events) > 0 {
			c.memories.Requeue(agentID, events)
			logger.Warn("events requeued after failed tick", "events", len(events), "error", err)
		}
	}()

	recentActivity, err := c.recentActivity(ctx, spec)
	if err != nil {
		return err
	}
	conversation := c.conversation(agentID)

	current, ok, err := c.store.Current(ctx, agentID)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		thought := "I have no plans yet."
		if spec.InitialPlan != "" {
			thought = spec.InitialPlan
		}
		current, err = c.replan(ctx, spec, locationContext, recentActivity, thought, pendingSpeaker(events, spec.Name), nil)
		if err != nil {
			return err
		}
		report.Replanned = true

	case len(events) > 0:
		outcome, err := c.core.DecideReaction(ctx, react.Input{
			AgentID:             agentID,
			FullName:            spec.Name,
			PrivateBio:          spec.PrivateBio,
			Directives:          spec.Directives,
			LocationContext:     locationContext,
			RecentActivity:      recentActivity,
			ConversationHistory: conversation,
			CurrentPlan:         &current,
			Events:              plain(events),
			AllowedLocations:    c.world.Locations(),
		})
		if err != nil {
			return err
		}
		report.Reaction = outcome.Kind().String()
		report.Justification = outcome.Justification()
		recordReaction(outcome.Kind())

		switch outcome.Kind() {
		case react.KindPostpone:
			replacement, _ := outcome.Replacement()
			if err := c.store.Postpone(ctx, agentID, replacement, outcome.Justification()); err != nil {
				return err
			}
			logger.Info("plan postponed", "postponed", current.Description, "replacement", replacement.Description)
			current = replacement

		case react.KindCancel:
			if err := c.store.Cancel(ctx, agentID, current.ID, outcome.Justification()); err != nil {
				return err
			}
			logger.Info("plan cancelled", "plan", current.Description)
			remaining, err := c.store.Active(ctx, agentID)
			if err != nil {
				return err
			}
			current, err = c.replan(ctx, spec, locationContext, recentActivity, outcome.Justification(), pendingSpeaker(events, spec.Name), remaining)
			if err != nil {
				return err
			}
			report.Replanned = true
		}
	}
	reacted = true
	report.Plan = &current

	if current.LocationID != tctx.LocationID {
		if mover, ok := c.world.(Mover); ok {
			if err := mover.Move(ctx, agentID, current.LocationID); err != nil {
				return err
			}
			if tctx, locationContext, err = c.situate(ctx, spec); err != nil {
				return err
			}
			c.remember(agentID, fmt.Sprintf("%s walked to the %s", spec.Name, tctx.LocationName), KindAction)
		}
	}

	result, err := c.execute(ctx, spec, tctx, locationContext, conversation, current)
	if err != nil {
		return err
	}
	report.Execution = result

	reflections, err := c.maybeReflect(ctx, spec)
	if err != nil {
		return err
	}
	report.Reflections = reflections
	return nil
}

// situate builds the tool context and the location description for the
// agent's current position.
func (c *Controller) situate(ctx context.Context, spec world.AgentSpec) (tools.Context, string, error) {
	loc, err := c.world.AgentLocation(ctx, spec.ID)
	if err != nil {
		return tools.Context{}, "", err
	}
	name, err := c.world.LocationName(ctx, loc)
	if err != nil {
		return tools.Context{}, "", err
	}
	agents, err := c.world.CoLocatedAgents(ctx, loc)
	if err != nil {
		return tools.Context{}, "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are in the %s.", name)
	for _, l := range c.world.Locations() {
		if l.ID == loc && l.Description != "" {
			fmt.Fprintf(&b, " %s", l.Description)
		}
	}
	var others []string
	for _, a := range agents {
		if a.ID != spec.ID {
			others = append(others, a.Name)
		}
	}
	if len(others) == 0 {
		b.WriteString(" You are alone.")
	} else {
		fmt.Fprintf(&b, " Also here: %s.", strings.Join(others, ", "))
	}

	tctx := tools.Context{AgentID: spec.ID, AgentName: spec.Name, LocationID: loc, LocationName: name}
	return tctx, b.String(), nil
}

// perceive scores the agent's pending events and moves them into its
// memory stream. Requeued events were scored on an earlier tick and are
// passed through as they are.
func (c *Controller) perceive(ctx context.Context, spec world.AgentSpec) ([]Memory, error) {
	events := c.memories.Drain(spec.ID)
	for i := range events {
		if events[i].perceived {
			continue
		}
		score, err := c.core.ScoreImportance(ctx, spec.PrivateBio, spec.Name, events[i].Description)
		if err != nil {
			c.memories.Requeue(spec.ID, events)
			return nil, err
		}
		events[i].Importance = score
		events[i].perceived = true
		c.memories.Add(spec.ID, events[i])
	}
	return events, nil
}

func (c *Controller) replan(ctx context.Context, spec world.AgentSpec, locationContext, recentActivity, thought, pending string, current []plans.Plan) (plans.Plan, error) {
	ps, err := c.core.GeneratePlans(ctx, plans.Request{
		AgentID:             spec.ID,
		FullName:            spec.Name,
		PrivateBio:          spec.PrivateBio,
		Directives:          spec.Directives,
		LocationContext:     locationContext,
		CurrentPlans:        current,
		RecentActivity:      recentActivity,
		ThoughtProcess:      thought,
		AllowedLocations:    c.world.Locations(),
		PendingConversation: pending,
		TimeWindow:          c.cfg.TimeWindow,
	})
	if err != nil {
		return plans.Plan{}, err
	}
	if err := c.store.Replace(ctx, spec.ID, ps, thought); err != nil {
		return plans.Plan{}, err
	}
	c.remember(spec.ID, fmt.Sprintf("%s made new plans: %s", spec.Name, describeBriefly(ps)), KindPlan)
	c.logger.Info("plans committed", "agent_id", spec.ID, "plans", len(ps))
	return ps[0], nil
}

func (c *Controller) execute(ctx context.Context, spec world.AgentSpec, tctx tools.Context, locationContext, conversation string, current plans.Plan) (*executor.Result, error) {
	available, err := c.core.ResolveTools(ctx, requestedTools(spec), spec.ID, tctx.LocationID, !c.cfg.NoAmbientTools)
	if err != nil {
		return nil, err
	}

	result, err := c.core.ExecutePlan(ctx, executor.Request{
		Plan:                current,
		Context:             tctx,
		PrivateBio:          spec.PrivateBio,
		LocationContext:     locationContext,
		RelevantMemories:    plain(c.memories.Recent(spec.ID, c.cfg.RecentMemories)),
		ConversationHistory: conversation,
		Tools:               available,
	})
	if err != nil {
		return nil, err
	}
	for _, call := range result.Calls {
		if call.Usage != "" {
			c.remember(spec.ID, call.Usage, KindAction)
		}
	}

	switch result.Status {
	case executor.StatusDone, executor.StatusResponded:
		if err := c.store.Complete(ctx, spec.ID, current.ID); err != nil && !errors.Is(err, planstore.ErrPlanNotFound) {
			return nil, err
		}
		c.remember(spec.ID, fmt.Sprintf("%s finished: %s", spec.Name, current.Description), KindAction)
	case executor.StatusNeedHelp:
		if err := c.store.Cancel(ctx, spec.ID, current.ID, "needed help"); err != nil && !errors.Is(err, planstore.ErrPlanNotFound) {
			return nil, err
		}
		c.remember(spec.ID, fmt.Sprintf("%s could not finish: %s", spec.Name, current.Description), KindAction)
	}
	return result, nil
}

// maybeReflect runs a reflection once the accumulated importance passes
// the threshold and records the insights as memories.
func (c *Controller) maybeReflect(ctx context.Context, spec world.AgentSpec) ([]reflection.Reflection, error) {
	if c.cfg.ReflectionThreshold <= 0 || c.memories.ImportanceSinceReflection(spec.ID) < c.cfg.ReflectionThreshold {
		return nil, nil
	}
	recent := plain(c.memories.Recent(spec.ID, c.cfg.RecentMemories))
	refl, err := c.core.Reflect(ctx, recent, c.memories.Retriever(spec.ID, c.cfg.RecentMemories))
	if err != nil {
		return nil, err
	}
	for _, r := range refl {
		for _, in := range r.Insights {
			c.remember(spec.ID, in.Insight, KindReflection)
		}
	}
	c.memories.ResetReflection(spec.ID)
	return refl, nil
}

func (c *Controller) remember(agentID, description string, kind MemoryKind) {
	c.memories.Add(agentID, Memory{Description: description, Kind: kind, CreatedAt: c.now()})
}

// pendingSpeaker is the last person who spoke to the agent this tick.
func pendingSpeaker(events []Memory, self string) string {
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == KindMessage && events[i].Speaker != "" && events[i].Speaker != self {
			return events[i].Speaker
		}
	}
	return ""
}

func describeBriefly(ps []plans.Plan) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = p.Description
	}
	return strings.Join(parts, "; ")
}
