// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package world

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// AgentSpec seeds one simulated character.
type AgentSpec struct {
	ID          string      `yaml:"id" validate:"required"`
	Name        string      `yaml:"name" validate:"required"`
	PublicBio   string      `yaml:"public_bio"`
	PrivateBio  string      `yaml:"private_bio" validate:"required"`
	Directives  []string    `yaml:"directives"`
	Location    LocationRef `yaml:"location" validate:"required"`
	Tools       []string    `yaml:"tools"`
	InitialPlan string      `yaml:"initial_plan"`
}

// ScenarioFile is the YAML document describing a world.
type ScenarioFile struct {
	Name      string      `yaml:"name" validate:"required"`
	Locations []Location  `yaml:"locations" validate:"required,min=1,dive"`
	Agents    []AgentSpec `yaml:"agents" validate:"required,min=1,dive"`
}

// Scenario is an in-memory world. Agents can be moved; everything else
// is fixed after loading.
//
// Thread Safety: Safe for concurrent use.
type Scenario struct {
	name      string
	locations map[LocationRef]Location
	order     []LocationRef
	agents    map[string]AgentSpec
	agentIDs  []string

	mu       sync.RWMutex
	position map[string]LocationRef
}

var (
	_ Context   = (*Scenario)(nil)
	_ Directory = (*Scenario)(nil)
)

// LoadScenario reads and validates a scenario YAML file.
func LoadScenario(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()
	return DecodeScenario(f)
}

// DecodeScenario parses a scenario from r.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	var file ScenarioFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	return NewScenario(file)
}

// NewScenario validates file and builds the world. Location and agent
// ids must be unique and every agent must start at a known location.
func NewScenario(file ScenarioFile) (*Scenario, error) {
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	s := &Scenario{
		name:      file.Name,
		locations: make(map[LocationRef]Location, len(file.Locations)),
		agents:    make(map[string]AgentSpec, len(file.Agents)),
		position:  make(map[string]LocationRef, len(file.Agents)),
	}
	for _, loc := range file.Locations {
		if _, dup := s.locations[loc.ID]; dup {
			return nil, fmt.Errorf("invalid scenario: duplicate location %q", loc.ID)
		}
		s.locations[loc.ID] = loc
		s.order = append(s.order, loc.ID)
	}
	for _, a := range file.Agents {
		if _, dup := s.agents[a.ID]; dup {
			return nil, fmt.Errorf("invalid scenario: duplicate agent %q", a.ID)
		}
		if _, ok := s.locations[a.Location]; !ok {
			return nil, fmt.Errorf("invalid scenario: agent %q: %w: %q", a.ID, ErrUnknownLocation, a.Location)
		}
		s.agents[a.ID] = a
		s.agentIDs = append(s.agentIDs, a.ID)
		s.position[a.ID] = a.Location
	}
	return s, nil
}

// Name returns the scenario title.
func (s *Scenario) Name() string { return s.name }

// Locations returns every location in file order.
func (s *Scenario) Locations() []Location {
	out := make([]Location, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.locations[id])
	}
	return out
}

// Agents returns every agent spec in file order.
func (s *Scenario) Agents() []AgentSpec {
	out := make([]AgentSpec, 0, len(s.agentIDs))
	for _, id := range s.agentIDs {
		out = append(out, s.agents[id])
	}
	return out
}

// Agent returns one agent spec.
func (s *Scenario) Agent(id string) (AgentSpec, bool) {
	a, ok := s.agents[id]
	return a, ok
}

// Move relocates an agent.
func (s *Scenario) Move(_ context.Context, agentID string, to LocationRef) error {
	if _, ok := s.agents[agentID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	if _, ok := s.locations[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownLocation, to)
	}
	s.mu.Lock()
	s.position[agentID] = to
	s.mu.Unlock()
	return nil
}

func (s *Scenario) AgentLocation(_ context.Context, agentID string) (LocationRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.position[agentID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	return loc, nil
}

func (s *Scenario) LocationName(_ context.Context, loc LocationRef) (string, error) {
	l, ok := s.locations[loc]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLocation, loc)
	}
	return l.Name, nil
}

// CoLocatedAgents returns the agents at loc sorted by name.
func (s *Scenario) CoLocatedAgents(_ context.Context, loc LocationRef) ([]Agent, error) {
	if _, ok := s.locations[loc]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLocation, loc)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Agent
	for _, id := range s.agentIDs {
		if s.position[id] == loc {
			out = append(out, Agent{ID: id, Name: s.agents[id].Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Profiles lists every agent in file order.
func (s *Scenario) Profiles(_ context.Context) ([]Profile, error) {
	out := make([]Profile, 0, len(s.agentIDs))
	for _, id := range s.agentIDs {
		a := s.agents[id]
		out = append(out, Profile{ID: a.ID, Name: a.Name, PublicBio: a.PublicBio})
	}
	return out, nil
}
