// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package world is the boundary between the agent core and the shared
// virtual world: where agents are, what places are called, who else is
// there. The core only consumes these interfaces; Scenario is a static
// reference implementation loaded from YAML.
package world

import (
	"context"
	"errors"
)

var (
	// ErrUnknownAgent is returned for an agent id the world has never seen.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownLocation is returned for a location id the world does not have.
	ErrUnknownLocation = errors.New("unknown location")
)

// LocationRef identifies a location.
type LocationRef string

// Location is one place in the world.
type Location struct {
	ID          LocationRef `json:"id" yaml:"id" validate:"required"`
	Name        string      `json:"name" yaml:"name" validate:"required"`
	Description string      `json:"description" yaml:"description"`
}

// Agent is the identity of an actor as seen by other actors.
type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Profile is a company directory entry.
type Profile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PublicBio string `json:"public_bio"`
}

// Context answers location questions about agents.
type Context interface {
	// AgentLocation returns where the agent currently is.
	AgentLocation(ctx context.Context, agentID string) (LocationRef, error)

	// LocationName returns the display name of a location.
	LocationName(ctx context.Context, loc LocationRef) (string, error)

	// CoLocatedAgents returns every agent at the location, including the
	// one asking. Order is not significant.
	CoLocatedAgents(ctx context.Context, loc LocationRef) ([]Agent, error)
}

// Directory lists every actor an agent can contact.
type Directory interface {
	Profiles(ctx context.Context) ([]Profile, error)
}
