// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agentapi exposes the agent simulation over HTTP.
//
// Every route runs one driver operation for one agent through
// control.Controller, so HTTP calls never interleave with that agent's
// tick. Errors are returned as {"error": ...} with the status chosen by
// statusFor.
package agentapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianTeam/services/agent/control"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/gin-gonic/gin"
)

// Roster lists the simulated agents. *world.Scenario satisfies it.
type Roster interface {
	Agents() []world.AgentSpec
}

// Historian reads the plan journal. *planstore.Store satisfies it.
type Historian interface {
	History(ctx context.Context, agentID string, limit int) ([]planstore.Entry, error)
}

var (
	_ Roster    = (*world.Scenario)(nil)
	_ Historian = (*planstore.Store)(nil)
)

// Handlers holds what the routes need.
type Handlers struct {
	ctrl    *control.Controller
	roster  Roster
	history Historian
	sim     *control.Simulation
	logger  *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithHistory enables GET /v1/agents/:id/plans/history.
func WithHistory(h Historian) Option {
	return func(hs *Handlers) { hs.history = h }
}

// WithSimulation enables POST /v1/simulation/step.
func WithSimulation(sim *control.Simulation) Option {
	return func(hs *Handlers) { hs.sim = sim }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(hs *Handlers) {
		if logger != nil {
			hs.logger = logger
		}
	}
}

// NewHandlers builds the route handlers.
func NewHandlers(ctrl *control.Controller, roster Roster, opts ...Option) *Handlers {
	h := &Handlers{ctrl: ctrl, roster: roster, logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// Request and response bodies
// =============================================================================

type agentSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	Pending  int    `json:"pending_events"`
}

type observationRequest struct {
	Description string `json:"description" binding:"required"`
}

type reactRequest struct {
	Events []string `json:"events" binding:"required,min=1,dive,required"`
}

type reactResponse struct {
	Reaction      string      `json:"reaction"`
	Justification string      `json:"justification"`
	NewPlan       *plans.Plan `json:"new_plan,omitempty"`
}

type proposeRequest struct {
	ThoughtProcess string `json:"thought_process"`
}

type toolInfo struct {
	Name                  tools.Name `json:"name"`
	Description           string     `json:"description"`
	RequiresAuthorization bool       `json:"requires_authorization"`
}

// executeRequest carries either free text or structured arguments.
type executeRequest struct {
	Input string         `json:"input"`
	Args  map[string]any `json:"args"`
}

type importanceRequest struct {
	Memory string `json:"memory" binding:"required"`
}

type hasHappenedRequest struct {
	Event string `json:"event" binding:"required"`
}

// =============================================================================
// Handlers
// =============================================================================

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListAgents returns every agent with its location and queued events.
func (h *Handlers) ListAgents(c *gin.Context) {
	specs := h.roster.Agents()
	out := make([]agentSummary, 0, len(specs))
	for _, spec := range specs {
		sit, err := h.ctrl.Situate(c.Request.Context(), spec.ID)
		if err != nil {
			h.fail(c, err)
			return
		}
		out = append(out, agentSummary{
			ID:       spec.ID,
			Name:     spec.Name,
			Location: sit.Context.LocationName,
			Pending:  h.ctrl.Memories().Pending(spec.ID),
		})
	}
	c.JSON(http.StatusOK, gin.H{"agents": out})
}

// GetAgent returns the agent's situation.
func (h *Handlers) GetAgent(c *gin.Context) {
	sit, err := h.ctrl.Situate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sit)
}

// Tick advances one agent by one step and returns its report. A failed
// tick still returns the partial report under "report".
func (h *Handlers) Tick(c *gin.Context) {
	report, err := h.ctrl.Tick(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := statusFor(err)
		h.logger.Warn("tick failed", "agent_id", c.Param("id"), "status", status, "error", err)
		c.JSON(status, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Observe queues an observation for the agent's next tick.
func (h *Handlers) Observe(c *gin.Context) {
	var req observationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.ctrl.Observe(c.Param("id"), strings.TrimSpace(req.Description)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"pending_events": h.ctrl.Memories().Pending(c.Param("id"))})
}

// ListPlans returns the agent's committed plans.
func (h *Handlers) ListPlans(c *gin.Context) {
	ps, err := h.ctrl.Plans(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": ps})
}

// PlanHistory returns the newest journal entries. ?limit=N, default 20.
func (h *Handlers) PlanHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.history.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// ProposePlans generates a plan set without committing it.
func (h *Handlers) ProposePlans(c *gin.Context) {
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ps, err := h.ctrl.ProposePlans(c.Request.Context(), c.Param("id"), req.ThoughtProcess)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": ps})
}

// DecideReaction asks how the agent would react to the events.
func (h *Handlers) DecideReaction(c *gin.Context) {
	var req reactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.ctrl.DecideFor(c.Request.Context(), c.Param("id"), req.Events)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp := reactResponse{Reaction: out.Kind().String(), Justification: out.Justification()}
	if p, ok := out.Replacement(); ok {
		resp.NewPlan = &p
	}
	c.JSON(http.StatusOK, resp)
}

// ListTools returns the tools the agent can use right now.
func (h *Handlers) ListTools(c *gin.Context) {
	resolved, err := h.ctrl.ToolsFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]toolInfo, len(resolved))
	for i, r := range resolved {
		out[i] = toolInfo{Name: r.Name(), Description: r.Description(), RequiresAuthorization: r.RequiresAuthorization()}
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

// ExecuteTool runs a tool as the agent. Tool failures are observations,
// so this answers 200 unless the agent is unknown.
func (h *Handlers) ExecuteTool(c *gin.Context) {
	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	in := tools.TextInput(req.Input)
	if req.Args != nil {
		in = tools.ArgsInput(req.Args)
	}
	obs, err := h.ctrl.ExecuteToolAs(c.Request.Context(), c.Param("id"), tools.Name(c.Param("tool")), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"observation": obs, "error": strings.HasPrefix(obs, tools.ErrPrefix)})
}

// ScoreImportance rates a memory for the agent.
func (h *Handlers) ScoreImportance(c *gin.Context) {
	var req importanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	score, err := h.ctrl.ScoreFor(c.Request.Context(), c.Param("id"), req.Memory)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rating": score})
}

// Reflect derives insights from the agent's recent memories.
func (h *Handlers) Reflect(c *gin.Context) {
	refl, err := h.ctrl.ReflectFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reflections": refl})
}

// Gossip produces a line the agent might say to the people around it.
func (h *Handlers) Gossip(c *gin.Context) {
	line, err := h.ctrl.GossipFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"line": line})
}

// HasHappened checks the agent's memories for an event.
func (h *Handlers) HasHappened(c *gin.Context) {
	var req hasHappenedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.ctrl.HasHappenedFor(c.Request.Context(), c.Param("id"), req.Event)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Step ticks every agent once. Stalled agents are reported, not fatal.
func (h *Handlers) Step(c *gin.Context) {
	reports, err := h.sim.Step(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports, "stalls": h.sim.Stalls()})
}
