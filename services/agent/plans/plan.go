// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plans holds the Plan value type and the PlanGenerator that asks
// the oracle for a new set of plans.
package plans

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/google/uuid"
)

// ErrLocationNotAllowed is returned when a draft names a location outside
// the allowed set.
var ErrLocationNotAllowed = errors.New("location not allowed")

// Plan is one committed intention of an agent. Plans are values: a new
// plan set supersedes the old one, nothing edits a plan in place.
type Plan struct {
	ID             uuid.UUID         `json:"id"`
	AgentID        string            `json:"agent_id"`
	Index          int               `json:"index"`
	Description    string            `json:"description"`
	LocationID     world.LocationRef `json:"location_id"`
	StartTime      time.Time         `json:"start_time"`
	MaxDurationHrs float64           `json:"max_duration_hrs"`
	StopCondition  string            `json:"stop_condition"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Duration is MaxDurationHrs as a time.Duration.
func (p Plan) Duration() time.Duration {
	return time.Duration(p.MaxDurationHrs * float64(time.Hour))
}

// String renders the plan for prompts.
func (p Plan) String() string {
	return fmt.Sprintf("%s (location: %s, start: %s, max duration: %g hours, stop when: %s)",
		p.Description, p.LocationID, p.StartTime.Format(time.RFC3339), p.MaxDurationHrs, p.StopCondition)
}

// Describe renders a plan list for prompts, or "none".
func Describe(ps []Plan) string {
	if len(ps) == 0 {
		return "none"
	}
	lines := make([]string, len(ps))
	for i, p := range ps {
		lines[i] = fmt.Sprintf("%d. %s", p.Index, p)
	}
	return strings.Join(lines, "\n")
}

// =============================================================================
// Drafts
// =============================================================================

// Draft is a plan as the oracle writes it, before its location is
// resolved and it is stamped with an id.
type Draft struct {
	Index          int     `json:"index"`
	Description    string  `json:"description" validate:"required"`
	LocationName   string  `json:"location_name" validate:"required"`
	StartTime      string  `json:"start_time"`
	MaxDurationHrs float64 `json:"max_duration_hrs" validate:"gt=0"`
	StopCondition  string  `json:"stop_condition" validate:"required"`
}

// DraftSchema is the JSON Schema of one Draft. The reaction schema embeds
// it for the postpone replacement plan.
const DraftSchema = `{
  "type": "object",
  "properties": {
    "index": {"type": "integer"},
    "description": {"type": "string", "minLength": 1},
    "location_name": {"type": "string", "minLength": 1},
    "start_time": {"type": "string"},
    "max_duration_hrs": {"type": "number", "exclusiveMinimum": 0},
    "stop_condition": {"type": "string", "minLength": 1}
  },
  "required": ["description", "location_name", "max_duration_hrs", "stop_condition"]
}`

var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseStartTime accepts RFC 3339 and the zone-less forms models tend to
// emit. Empty means "now".
func ParseStartTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return now, nil
	}
	for _, layout := range startTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("start_time %q is not an RFC 3339 timestamp", s)
}

// ResolveLocation matches name against the allowed set by id or display
// name, ignoring case and surrounding space.
func ResolveLocation(name string, allowed []world.Location) (world.Location, error) {
	want := strings.TrimSpace(name)
	for _, loc := range allowed {
		if strings.EqualFold(string(loc.ID), want) || strings.EqualFold(loc.Name, want) {
			return loc, nil
		}
	}
	return world.Location{}, fmt.Errorf("%w: %q is not one of %s", ErrLocationNotAllowed, name, locationNames(allowed))
}

// Finalize turns a draft into a Plan bound to one allowed location.
func Finalize(d Draft, agentID string, index int, allowed []world.Location, now time.Time) (Plan, error) {
	loc, err := ResolveLocation(d.LocationName, allowed)
	if err != nil {
		return Plan{}, err
	}
	start, err := ParseStartTime(d.StartTime, now)
	if err != nil {
		return Plan{}, err
	}
	if d.MaxDurationHrs <= 0 {
		return Plan{}, fmt.Errorf("max_duration_hrs must be positive, got %g", d.MaxDurationHrs)
	}
	return Plan{
		ID:             uuid.New(),
		AgentID:        agentID,
		Index:          index,
		Description:    strings.TrimSpace(d.Description),
		LocationID:     loc.ID,
		StartTime:      start,
		MaxDurationHrs: d.MaxDurationHrs,
		StopCondition:  strings.TrimSpace(d.StopCondition),
		CreatedAt:      now,
	}, nil
}

// LocationDescriptions renders the allowed set for prompts.
func LocationDescriptions(allowed []world.Location) string {
	if len(allowed) == 0 {
		return "none"
	}
	parts := make([]string, len(allowed))
	for i, loc := range allowed {
		if loc.Description != "" {
			parts[i] = fmt.Sprintf("%q (%s)", loc.Name, loc.Description)
		} else {
			parts[i] = fmt.Sprintf("%q", loc.Name)
		}
	}
	return strings.Join(parts, ", ")
}

func locationNames(allowed []world.Location) string {
	names := make([]string, len(allowed))
	for i, loc := range allowed {
		names[i] = fmt.Sprintf("%q", loc.Name)
	}
	return "[" + strings.Join(names, ", ") + "]"
}
