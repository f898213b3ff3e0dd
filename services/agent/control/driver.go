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

	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/react"
	"github.com/AleutianAI/AleutianTeam/services/agent/reflection"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/world"
)

// =============================================================================
// Driver operations
// =============================================================================
//
// The methods below run one Core operation for a named agent, filling the
// inputs from the world, the memory stream and the plan store. None of
// them commit anything: a driver that wants the result applied calls Tick.
// Each holds the agent's lock for its duration.

// Situation is where an agent is and who is around.
type Situation struct {
	Context         tools.Context `json:"context"`
	LocationContext string        `json:"location_context"`
	Others          []string      `json:"others"`
}

// Situate describes the agent's current surroundings.
func (c *Controller) Situate(ctx context.Context, agentID string) (Situation, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return Situation{}, err
	}
	unlock := c.lock(agentID)
	defer unlock()
	return c.situation(ctx, spec)
}

func (c *Controller) situation(ctx context.Context, spec world.AgentSpec) (Situation, error) {
	tctx, locationContext, err := c.situate(ctx, spec)
	if err != nil {
		return Situation{}, err
	}
	agents, err := c.world.CoLocatedAgents(ctx, tctx.LocationID)
	if err != nil {
		return Situation{}, err
	}
	var others []string
	for _, a := range agents {
		if a.ID != spec.ID {
			others = append(others, a.Name)
		}
	}
	return Situation{Context: tctx, LocationContext: locationContext, Others: others}, nil
}

// DecideFor asks how the agent would react to events given its current
// plan. The events are not added to memory.
func (c *Controller) DecideFor(ctx context.Context, agentID string, events []string) (react.Outcome, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return react.Outcome{}, err
	}
	unlock := c.lock(agentID)
	defer unlock()

	current, ok, err := c.store.Current(ctx, agentID)
	if err != nil {
		return react.Outcome{}, err
	}
	if !ok {
		return react.Outcome{}, fmt.Errorf("%s has no current plan: %w", agentID, planstore.ErrPlanNotFound)
	}
	_, locationContext, err := c.situate(ctx, spec)
	if err != nil {
		return react.Outcome{}, err
	}
	recentActivity, err := c.recentActivity(ctx, spec)
	if err != nil {
		return react.Outcome{}, err
	}
	return c.core.DecideReaction(ctx, react.Input{
		AgentID:             agentID,
		FullName:            spec.Name,
		PrivateBio:          spec.PrivateBio,
		Directives:          spec.Directives,
		LocationContext:     locationContext,
		RecentActivity:      recentActivity,
		ConversationHistory: c.conversation(agentID),
		CurrentPlan:         &current,
		Events:              events,
		AllowedLocations:    c.world.Locations(),
	})
}

// ProposePlans generates a plan set for the agent without committing it.
func (c *Controller) ProposePlans(ctx context.Context, agentID, thoughtProcess string) ([]plans.Plan, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return nil, err
	}
	unlock := c.lock(agentID)
	defer unlock()

	_, locationContext, err := c.situate(ctx, spec)
	if err != nil {
		return nil, err
	}
	recentActivity, err := c.recentActivity(ctx, spec)
	if err != nil {
		return nil, err
	}
	current, err := c.store.Active(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(thoughtProcess) == "" {
		thoughtProcess = "I should review my plans."
	}
	return c.core.GeneratePlans(ctx, plans.Request{
		AgentID:          spec.ID,
		FullName:         spec.Name,
		PrivateBio:       spec.PrivateBio,
		Directives:       spec.Directives,
		LocationContext:  locationContext,
		CurrentPlans:     current,
		RecentActivity:   recentActivity,
		ThoughtProcess:   thoughtProcess,
		AllowedLocations: c.world.Locations(),
		TimeWindow:       c.cfg.TimeWindow,
	})
}

// ToolsFor resolves the tools the agent's spec names, plus the ambient
// ones unless the controller is configured without them.
func (c *Controller) ToolsFor(ctx context.Context, agentID string) ([]tools.Resolved, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return nil, err
	}
	unlock := c.lock(agentID)
	defer unlock()
	loc, err := c.world.AgentLocation(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return c.core.ResolveTools(ctx, requestedTools(spec), agentID, loc, !c.cfg.NoAmbientTools)
}

// ExecuteToolAs runs a tool on behalf of the agent, with a context built
// from its current location.
func (c *Controller) ExecuteToolAs(ctx context.Context, agentID string, name tools.Name, in tools.Input) (string, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return "", err
	}
	unlock := c.lock(agentID)
	defer unlock()

	tctx, _, err := c.situate(ctx, spec)
	if err != nil {
		return "", err
	}
	return c.core.ExecuteTool(ctx, name, in, &tctx), nil
}

// ScoreFor rates how poignant a memory would be for the agent.
func (c *Controller) ScoreFor(ctx context.Context, agentID, description string) (int, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return 0, err
	}
	unlock := c.lock(agentID)
	defer unlock()
	return c.core.ScoreImportance(ctx, spec.PrivateBio, spec.Name, description)
}

// ReflectFor reflects over the agent's recent memories. The insights are
// returned, not remembered.
func (c *Controller) ReflectFor(ctx context.Context, agentID string) ([]reflection.Reflection, error) {
	if _, err := c.agent(agentID); err != nil {
		return nil, err
	}
	unlock := c.lock(agentID)
	defer unlock()

	recent := plain(c.memories.Recent(agentID, c.cfg.RecentMemories))
	if len(recent) == 0 {
		return nil, nil
	}
	return c.core.Reflect(ctx, recent, c.memories.Retriever(agentID, c.cfg.RecentMemories))
}

// GossipFor produces something the agent might say to whoever shares its
// location.
func (c *Controller) GossipFor(ctx context.Context, agentID string) (string, error) {
	spec, err := c.agent(agentID)
	if err != nil {
		return "", err
	}
	unlock := c.lock(agentID)
	defer unlock()

	sit, err := c.situation(ctx, spec)
	if err != nil {
		return "", err
	}
	recent := plain(c.memories.Recent(agentID, c.cfg.RecentMemories))
	return c.core.Gossip(ctx, spec.Name, recent, sit.Others)
}

// HasHappenedFor checks the agent's memory stream for an event.
func (c *Controller) HasHappenedFor(ctx context.Context, agentID, event string) (HasHappenedResult, error) {
	if _, err := c.agent(agentID); err != nil {
		return HasHappenedResult{}, err
	}
	unlock := c.lock(agentID)
	defer unlock()

	recent := c.memories.Recent(agentID, c.cfg.RecentMemories)
	if len(recent) == 0 {
		return HasHappenedResult{}, nil
	}
	return c.core.HasHappened(ctx, descriptions(recent), event)
}

func (c *Controller) agent(agentID string) (world.AgentSpec, error) {
	spec, ok := c.world.Agent(agentID)
	if !ok {
		return world.AgentSpec{}, fmt.Errorf("%w: %q", world.ErrUnknownAgent, agentID)
	}
	return spec, nil
}

func (c *Controller) recentActivity(ctx context.Context, spec world.AgentSpec) (string, error) {
	recent := c.memories.Recent(spec.ID, c.cfg.RecentMemories)
	return c.core.SummarizeRecentActivity(ctx, spec.Name, descriptions(recent))
}

func (c *Controller) conversation(agentID string) string {
	return strings.Join(descriptions(c.memories.Conversation(agentID, c.cfg.ConversationLength)), "\n")
}

func requestedTools(spec world.AgentSpec) []tools.Name {
	requested := make([]tools.Name, len(spec.Tools))
	for i, t := range spec.Tools {
		requested[i] = tools.Name(t)
	}
	return requested
}
