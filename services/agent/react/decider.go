// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package react

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.agentsim.react")

// Schema is the REACT response shape.
var Schema = oracle.MustSchema("reaction", `{
  "type": "object",
  "properties": {
    "reaction": {"enum": ["postpone", "continue", "cancel"]},
    "thought_process": {"type": "string", "minLength": 1},
    "new_plan": {"anyOf": [{"type": "null"}, `+plans.DraftSchema+`]}
  },
  "required": ["reaction", "thought_process"]
}`)

type response struct {
	Reaction       string       `json:"reaction" validate:"required,oneof=postpone continue cancel"`
	ThoughtProcess string       `json:"thought_process" validate:"required"`
	NewPlan        *plans.Draft `json:"new_plan"`
}

// Input is what the decider knows about one agent at one moment.
type Input struct {
	AgentID             string
	FullName            string
	PrivateBio          string
	Directives          []string
	LocationContext     string
	RecentActivity      string
	ConversationHistory string

	// CurrentPlan is nil when the agent has nothing planned.
	CurrentPlan *plans.Plan

	// Events are the new event descriptions, oldest first.
	Events []string

	// AllowedLocations bounds a postponement's replacement plan.
	AllowedLocations []world.Location
}

// Decider is the ReactionDecider.
//
// Thread Safety: Safe for concurrent use.
type Decider struct {
	oracle *oracle.Client
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Decider.
type Option func(*Decider)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Decider) { d.now = now }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Decider) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecider builds a Decider on top of an oracle client.
func NewDecider(c *oracle.Client, opts ...Option) *Decider {
	d := &Decider{oracle: c, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decide asks the oracle how the agent reacts to in.Events.
//
// Description:
//
//	The decision policy lives in the REACT prompt. This method enforces
//	its shape: a known verb, a thought process that restates the verb, a
//	replacement plan present exactly when postponing, and a replacement
//	location from the allowed set. Violations are retried through the
//	oracle client; there is no fallback decision.
//
// Outputs:
//
//	Outcome - The validated reaction.
//	error - *oracle.SchemaValidationError, oracle.ErrOracleUnavailable,
//	        a missing template input, or the context error.
func (d *Decider) Decide(ctx context.Context, in Input) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "react.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", in.AgentID),
		attribute.Int("react.events", len(in.Events)),
	)

	now := d.now()
	currentPlan := "none"
	if in.CurrentPlan != nil {
		currentPlan = in.CurrentPlan.String()
	}

	resp, err := oracle.Do(ctx, d.oracle, oracle.Call[response]{
		Schema:   Schema,
		Template: prompt.Must(prompt.React),
		Inputs: prompt.Inputs{
			"full_name":                     in.FullName,
			"allowed_location_descriptions": plans.LocationDescriptions(in.AllowedLocations),
			"private_bio":                   in.PrivateBio,
			"directives":                    prompt.Bullets(in.Directives),
			"location_context":              in.LocationContext,
			"recent_activity":               orNone(in.RecentActivity),
			"conversation_history":          orNone(in.ConversationHistory),
			"current_plan":                  currentPlan,
			"event_descriptions":            prompt.Bullets(in.Events),
		},
		Check: func(r response) error { return check(r, in.AllowedLocations, now) },
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("decide reaction for %s: %w", in.AgentID, err)
	}

	kind, _ := ParseKind(resp.Reaction)
	justification := strings.TrimSpace(resp.ThoughtProcess)
	var out Outcome
	switch kind {
	case KindPostpone:
		replacement, err := plans.Finalize(*resp.NewPlan, in.AgentID, 1, in.AllowedLocations, now)
		if err != nil {
			return Outcome{}, fmt.Errorf("decide reaction for %s: %w", in.AgentID, err)
		}
		out = Postpone(replacement, justification)
	case KindCancel:
		out = Cancel(justification)
	default:
		out = Continue(justification)
	}

	span.SetAttributes(attribute.String("react.outcome", kind.String()))
	d.logger.Info("reaction decided", "agent_id", in.AgentID, "outcome", out.String())
	return out, nil
}

// verbPatterns match a verb as a whole word, so "discontinue" does not
// restate "continue".
var verbPatterns = map[Kind]*regexp.Regexp{
	KindContinue: regexp.MustCompile(`(?i)\bcontinue\b`),
	KindPostpone: regexp.MustCompile(`(?i)\bpostpone\b`),
	KindCancel:   regexp.MustCompile(`(?i)\bcancel\b`),
}

// check enforces what the schema cannot: the verb in the justification,
// the replacement present iff postponing, and its location.
func check(r response, allowed []world.Location, now time.Time) error {
	kind, ok := ParseKind(r.Reaction)
	if !ok {
		return fmt.Errorf("reaction must be one of postpone, continue, cancel, got %q", r.Reaction)
	}
	var problems []string
	if !verbPatterns[kind].MatchString(r.ThoughtProcess) {
		problems = append(problems, fmt.Sprintf("thought_process must restate the decision, e.g. \"I should %s my plan because ...\"", kind))
	}
	switch {
	case kind == KindPostpone && r.NewPlan == nil:
		problems = append(problems, "new_plan is required when the reaction is postpone")
	case kind != KindPostpone && r.NewPlan != nil:
		problems = append(problems, fmt.Sprintf("new_plan must be omitted when the reaction is %s", kind))
	case r.NewPlan != nil:
		if _, err := plans.ResolveLocation(r.NewPlan.LocationName, allowed); err != nil {
			problems = append(problems, "new_plan: "+err.Error())
		}
		if _, err := plans.ParseStartTime(r.NewPlan.StartTime, now); err != nil {
			problems = append(problems, "new_plan: "+err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
