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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const officeYAML = `
name: The Office
locations:
  - id: office
    name: Office
  - id: kitchen
    name: Kitchen
agents:
  - id: sally
    name: Sally Smith
    public_bio: Product manager.
    private_bio: Sally is a product manager.
    location: office
  - id: tom
    name: Tom Jones
    public_bio: Backend engineer.
    private_bio: Tom is a backend engineer.
    location: office
  - id: ann
    name: Ann Lee
    public_bio: Runs the kitchen.
    private_bio: Ann runs the kitchen.
    location: kitchen
`

func office(t *testing.T) *world.Scenario {
	t.Helper()
	s, err := world.DecodeScenario(strings.NewReader(officeYAML))
	require.NoError(t, err)
	return s
}

// stubWorld puts every agent in one room.
type stubWorld struct {
	agents []world.Agent
	err    error
}

func (w stubWorld) AgentLocation(context.Context, string) (world.LocationRef, error) {
	return "lab", w.err
}

func (w stubWorld) LocationName(context.Context, world.LocationRef) (string, error) {
	return "Lab", nil
}

func (w stubWorld) CoLocatedAgents(context.Context, world.LocationRef) ([]world.Agent, error) {
	return w.agents, w.err
}

func scopedSpec() Spec {
	return echoSpec(func(s *Spec) {
		s.Name = "shout"
		s.LocationScoped = true
		s.Description = "Shout in {location_name} to [{other_agent_names}]. Example: {{\"message\": \"hi\"}}"
	})
}

func testRegistry(t *testing.T, w world.Context) (*Registry, map[Name]*Contract) {
	t.Helper()
	specs := []Spec{
		echoSpec(func(s *Spec) { s.Name = "alpha" }),
		echoSpec(func(s *Spec) {
			s.Name = "private"
			s.Worldwide = false
		}),
		scopedSpec(),
		echoSpec(func(s *Spec) { s.Name = "omega" }),
	}
	byName := make(map[Name]*Contract)
	var contracts []*Contract
	for _, s := range specs {
		c := mustContract(t, s)
		byName[c.Name()] = c
		contracts = append(contracts, c)
	}
	r, err := NewRegistry(w, contracts)
	require.NoError(t, err)
	return r, byName
}

func names(rs []Resolved) []Name {
	out := make([]Name, len(rs))
	for i, r := range rs {
		out[i] = r.Name()
	}
	return out
}

func TestNewRegistry_RejectsDuplicates(t *testing.T) {
	a := mustContract(t, echoSpec(nil))
	b := mustContract(t, echoSpec(nil))
	_, err := NewRegistry(nil, []*Contract{a, b})
	assert.ErrorIs(t, err, ErrDuplicateTool)
}

func TestNewRegistry_SkipsGatedTools(t *testing.T) {
	r, err := NewRegistry(nil, []*Contract{nil, mustContract(t, echoSpec(nil)), nil})
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, []Name{"echo"}, r.Names())
}

func TestNewRegistry_ScopedNeedsWorld(t *testing.T) {
	_, err := NewRegistry(nil, []*Contract{mustContract(t, scopedSpec())})
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestResolve_NothingRequested(t *testing.T) {
	r, _ := testRegistry(t, office(t))
	got, err := r.Resolve(context.Background(), nil, "sally", "office", false)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_AmbientAddsWorldwideTools(t *testing.T) {
	r, _ := testRegistry(t, office(t))
	got, err := r.Resolve(context.Background(), nil, "sally", "office", true)
	require.NoError(t, err)
	assert.Equal(t, []Name{"alpha", "shout", "omega"}, names(got))
}

func TestResolve_RequestedNonWorldwideAndCanonicalOrder(t *testing.T) {
	r, _ := testRegistry(t, office(t))
	got, err := r.Resolve(context.Background(), []Name{"omega", "private", "search"}, "sally", "office", false)
	require.NoError(t, err)
	assert.Equal(t, []Name{"private", "omega"}, names(got), "unregistered names are ignored")

	got, err = r.Resolve(context.Background(), []Name{"private"}, "sally", "office", true)
	require.NoError(t, err)
	assert.Equal(t, []Name{"alpha", "private", "shout", "omega"}, names(got))
}

func TestResolve_SharesCanonicalContract(t *testing.T) {
	r, byName := testRegistry(t, office(t))
	got, err := r.Resolve(context.Background(), []Name{"alpha"}, "sally", "office", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, byName["alpha"], got[0].Contract)
	assert.Equal(t, "Echo the input.", got[0].Description())
}

func TestResolve_LocationScopedDescription(t *testing.T) {
	r, byName := testRegistry(t, office(t))
	ctx := context.Background()

	got, err := r.Resolve(ctx, []Name{"shout"}, "sally", "office", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `Shout in Office to [Tom Jones]. Example: {"message": "hi"}`, got[0].Description())
	assert.Contains(t, byName["shout"].Description(), "{location_name}", "canonical contract is untouched")

	got, err = r.Resolve(ctx, []Name{"shout"}, "ann", "kitchen", false)
	require.NoError(t, err)
	assert.Equal(t, `Shout in Kitchen to [nobody]. Example: {"message": "hi"}`, got[0].Description())
}

func TestResolve_UsesGivenLocation(t *testing.T) {
	r, _ := testRegistry(t, office(t))

	// Sally stands in the office, but the caller resolves for the kitchen.
	got, err := r.Resolve(context.Background(), []Name{"shout"}, "sally", "kitchen", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, `Shout in Kitchen to [Ann Lee]. Example: {"message": "hi"}`, got[0].Description())
}

func TestRegistry_WithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r, err := NewRegistry(nil, []*Contract{mustContract(t, echoSpec(nil))}, WithLogger(logger), WithLogger(nil))
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), []Name{"teleport"}, "sally", "office", false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "requested tool not registered")
	assert.Contains(t, buf.String(), "tool=teleport")
}

func TestResolve_DeduplicatesAndExcludesSelf(t *testing.T) {
	w := stubWorld{agents: []world.Agent{
		{ID: "me", Name: "Me"},
		{ID: "b", Name: "Bea"},
		{ID: "c", Name: "Cal"},
		{ID: "b", Name: "Bea"},
	}}
	r, _ := testRegistry(t, w)
	got, err := r.Resolve(context.Background(), []Name{"shout"}, "me", "lab", false)
	require.NoError(t, err)
	assert.Contains(t, got[0].Description(), "[Bea, Cal]")
}

func TestResolve_WorldError(t *testing.T) {
	r, _ := testRegistry(t, stubWorld{err: errors.New("map offline")})

	_, err := r.Resolve(context.Background(), []Name{"shout"}, "me", "lab", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "map offline")

	got, err := r.Resolve(context.Background(), []Name{"alpha"}, "me", "lab", false)
	require.NoError(t, err, "unscoped tools never touch the world")
	assert.Len(t, got, 1)
}

func TestRegistry_Lookup(t *testing.T) {
	r, byName := testRegistry(t, office(t))
	c, ok := r.Lookup("omega")
	require.True(t, ok)
	assert.Same(t, byName["omega"], c)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}
