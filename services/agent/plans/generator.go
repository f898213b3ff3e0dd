// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.agentsim.plans")

// MaxPlans bounds one generated plan set.
const MaxPlans = 5

// DefaultTimeWindow is used when a Request leaves TimeWindow unset.
const DefaultTimeWindow = 8 * time.Hour

// ErrNoAllowedLocations is returned when a Request has no allowed locations.
var ErrNoAllowedLocations = errors.New("no allowed locations")

// Schema is the MAKE_PLANS response shape.
var Schema = oracle.MustSchema("plans", `{
  "type": "object",
  "properties": {
    "plans": {
      "type": "array",
      "minItems": 1,
      "maxItems": 5,
      "items": `+DraftSchema+`
    }
  },
  "required": ["plans"]
}`)

type response struct {
	Plans []Draft `json:"plans" validate:"min=1,max=5,dive"`
}

// Request is everything the generator needs about one agent.
type Request struct {
	AgentID         string
	FullName        string
	PrivateBio      string
	Directives      []string
	LocationContext string
	CurrentPlans    []Plan
	RecentActivity  string
	ThoughtProcess  string

	// AllowedLocations is the only set a plan may be placed in.
	AllowedLocations []world.Location

	// PendingConversation names the actor the agent still owes a reply.
	// When set, the first plan must address them.
	PendingConversation string

	TimeWindow time.Duration
}

// Generator is the PlanGenerator.
//
// Thread Safety: Safe for concurrent use.
type Generator struct {
	oracle *oracle.Client
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGenerator builds a Generator on top of an oracle client.
func NewGenerator(c *oracle.Client, opts ...Option) *Generator {
	g := &Generator{oracle: c, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks the oracle for a new plan set.
//
// Description:
//
//	The response is accepted only if it has 1 to 5 plans, their durations
//	add up to at least the time window, every location resolves to the
//	allowed set, and a pending conversation comes first. Anything else is
//	sent back to the oracle as a correction until the attempt budget runs
//	out. Accepted plans are renumbered 1..n in the order returned.
//
// Outputs:
//
//	[]Plan - The new plan set, stamped with ids and the creation time.
//	error - *oracle.SchemaValidationError, oracle.ErrOracleUnavailable,
//	        ErrNoAllowedLocations or a missing template input.
func (g *Generator) Generate(ctx context.Context, req Request) ([]Plan, error) {
	ctx, span := tracer.Start(ctx, "plans.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", req.AgentID))

	if len(req.AllowedLocations) == 0 {
		return nil, ErrNoAllowedLocations
	}
	window := req.TimeWindow
	if window <= 0 {
		window = DefaultTimeWindow
	}
	now := g.now()

	pending := "none"
	if req.PendingConversation != "" {
		pending = "You still need to reply to " + req.PendingConversation + "."
	}

	resp, err := oracle.Do(ctx, g.oracle, oracle.Call[response]{
		Schema:   Schema,
		Template: prompt.Must(prompt.MakePlans),
		Inputs: prompt.Inputs{
			"time_window":                   formatHours(window),
			"allowed_location_descriptions": LocationDescriptions(req.AllowedLocations),
			"pending_conversation":          pending,
			"full_name":                     req.FullName,
			"private_bio":                   req.PrivateBio,
			"directives":                    prompt.Bullets(req.Directives),
			"location_context":              req.LocationContext,
			"current_plans":                 Describe(req.CurrentPlans),
			"recent_activity":               orNone(req.RecentActivity),
			"thought_process":               orNone(req.ThoughtProcess),
		},
		Check: func(r response) error {
			return checkDrafts(r.Plans, req, window, now)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate plans for %s: %w", req.AgentID, err)
	}

	out := make([]Plan, 0, len(resp.Plans))
	for i, d := range resp.Plans {
		p, err := Finalize(d, req.AgentID, i+1, req.AllowedLocations, now)
		if err != nil {
			// checkDrafts already accepted every draft.
			return nil, fmt.Errorf("generate plans for %s: %w", req.AgentID, err)
		}
		out = append(out, p)
	}
	span.SetAttributes(attribute.Int("plans.count", len(out)))
	g.logger.Info("plans generated", "agent_id", req.AgentID, "count", len(out))
	return out, nil
}

// checkDrafts enforces the invariants the schema cannot express.
func checkDrafts(drafts []Draft, req Request, window time.Duration, now time.Time) error {
	var problems []string
	if len(drafts) > MaxPlans {
		problems = append(problems, fmt.Sprintf("at most %d plans are allowed, got %d", MaxPlans, len(drafts)))
	}
	var total float64
	for i, d := range drafts {
		total += d.MaxDurationHrs
		if _, err := ResolveLocation(d.LocationName, req.AllowedLocations); err != nil {
			problems = append(problems, fmt.Sprintf("plan %d: %v", i+1, err))
		}
		if _, err := ParseStartTime(d.StartTime, now); err != nil {
			problems = append(problems, fmt.Sprintf("plan %d: %v", i+1, err))
		}
	}
	if total < window.Hours() {
		problems = append(problems, fmt.Sprintf("plans cover %g hours but must cover at least %s", total, formatHours(window)))
	}
	if req.PendingConversation != "" && len(drafts) > 0 && !names(drafts[0].Description, req.PendingConversation) {
		problems = append(problems, fmt.Sprintf("the first plan must be the pending conversation with %s", req.PendingConversation))
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// names reports whether text mentions the actor by full or first name.
func names(text, actor string) bool {
	text = strings.ToLower(text)
	actor = strings.ToLower(strings.TrimSpace(actor))
	if actor == "" {
		return true
	}
	if strings.Contains(text, actor) {
		return true
	}
	first, _, _ := strings.Cut(actor, " ")
	return strings.Contains(text, first)
}

func formatHours(d time.Duration) string {
	return fmt.Sprintf("%g hours", d.Hours())
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
