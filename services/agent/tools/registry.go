// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/world"
)

// Registry is the immutable set of enabled contracts.
//
// Contracts whose credentials are missing are never registered, so they
// can never be resolved. The registry is built once at startup and
// shared by every agent.
//
// Thread Safety: Read-only after NewRegistry; safe for concurrent use.
type Registry struct {
	world     world.Context
	contracts []*Contract
	byName    map[Name]*Contract
	logger    *slog.Logger
}

// Resolved is one contract as seen by one agent. It shares the canonical
// *Contract; only the description may differ.
type Resolved struct {
	*Contract
	description string
}

// Description returns the per-agent description.
func (r Resolved) Description() string { return r.description }

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry registers contracts in the given order, which becomes the
// canonical resolution order. Nil entries are skipped; they stand for
// tools whose credentials are not configured.
func NewRegistry(w world.Context, contracts []*Contract, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		world:  w,
		byName: make(map[Name]*Contract, len(contracts)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, c := range contracts {
		if c == nil {
			continue
		}
		if _, dup := r.byName[c.name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, c.name)
		}
		if c.descriptionTpl != nil && w == nil {
			return nil, fmt.Errorf("%w: %s is location scoped but no world context was given", ErrInvalidSpec, c.name)
		}
		r.byName[c.name] = c
		r.contracts = append(r.contracts, c)
	}
	return r, nil
}

// Lookup returns the contract registered under name.
func (r *Registry) Lookup(name Name) (*Contract, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Names returns registered names in canonical order.
func (r *Registry) Names() []Name {
	out := make([]Name, len(r.contracts))
	for i, c := range r.contracts {
		out[i] = c.name
	}
	return out
}

// Len returns the number of registered contracts.
func (r *Registry) Len() int { return len(r.contracts) }

// Resolve returns the tools available to one agent.
//
// Description:
//
//	A contract is included when its name is requested, or when
//	includeAmbient is set and the contract is worldwide. Names that are
//	not registered are ignored. Location-scoped descriptions are rendered
//	with locationID and the other agents there.
//
// Inputs:
//
//	ctx - Passed to world lookups.
//	requested - Tool names from the agent's configuration.
//	agentID - The agent resolving tools; excluded from "other agents".
//	locationID - Where the agent is. Only location-scoped tools use it.
//	includeAmbient - Add every worldwide tool.
//
// Outputs:
//
//	[]Resolved - In canonical order. Empty, not an error, when nothing matches.
//	error - A world lookup failed.
func (r *Registry) Resolve(ctx context.Context, requested []Name, agentID string, locationID world.LocationRef, includeAmbient bool) ([]Resolved, error) {
	want := make(map[Name]bool, len(requested))
	for _, n := range requested {
		want[n] = true
		if _, ok := r.byName[n]; !ok {
			r.logger.Debug("requested tool not registered", "tool", n, "agent_id", agentID)
		}
	}

	var scope *locationScope
	out := make([]Resolved, 0, len(r.contracts))
	for _, c := range r.contracts {
		if !want[c.name] && !(includeAmbient && c.worldwide) {
			continue
		}
		desc := c.description
		if c.descriptionTpl != nil {
			if scope == nil {
				s, err := r.scopeFor(ctx, agentID, locationID)
				if err != nil {
					return nil, err
				}
				scope = &s
			}
			rendered, err := c.descriptionTpl.Render(prompt.Inputs{
				VarLocationName:    scope.locationName,
				VarOtherAgentNames: scope.otherAgents,
			})
			if err != nil {
				return nil, fmt.Errorf("render %s description: %w", c.name, err)
			}
			desc = rendered
		}
		out = append(out, Resolved{Contract: c, description: desc})
	}
	return out, nil
}

type locationScope struct {
	locationName string
	otherAgents  string
}

func (r *Registry) scopeFor(ctx context.Context, agentID string, loc world.LocationRef) (locationScope, error) {
	name, err := r.world.LocationName(ctx, loc)
	if err != nil {
		return locationScope{}, fmt.Errorf("resolve tools for %s: %w", agentID, err)
	}
	agents, err := r.world.CoLocatedAgents(ctx, loc)
	if err != nil {
		return locationScope{}, fmt.Errorf("resolve tools for %s: %w", agentID, err)
	}
	return locationScope{locationName: name, otherAgents: otherAgentNames(agents, agentID)}, nil
}

// otherAgentNames joins the names of everyone but self, de-duplicated by
// id, or "nobody".
func otherAgentNames(agents []world.Agent, self string) string {
	seen := make(map[string]bool, len(agents))
	var names []string
	for _, a := range agents {
		if a.ID == self || seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return "nobody"
	}
	return strings.Join(names, ", ")
}
