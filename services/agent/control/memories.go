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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/reflection"
)

// MemoryKind classifies a memory.
type MemoryKind string

const (
	KindObservation MemoryKind = "observation"
	KindMessage     MemoryKind = "message"
	KindAction      MemoryKind = "action"
	KindPlan        MemoryKind = "plan"
	KindReflection  MemoryKind = "reflection"
)

// Memory is one entry in an agent's memory stream.
type Memory struct {
	Description string     `json:"description"`
	Kind        MemoryKind `json:"kind"`
	Importance  int        `json:"importance"`
	CreatedAt   time.Time  `json:"created_at"`

	// Speaker is the name of whoever said a KindMessage memory.
	Speaker string `json:"speaker,omitempty"`

	// perceived marks a requeued event that is already scored and in the
	// stream.
	perceived bool
}

// String renders the memory the way observation prompts expect it.
func (m Memory) String() string {
	return fmt.Sprintf("%s @ %s", m.Description, m.CreatedAt.UTC().Format("2006-01-02 15:04:05-07:00"))
}

// Memories holds every agent's memory stream and pending events.
//
// Thread Safety: Safe for concurrent use. It has its own lock, separate
// from the per-agent tick locks, so the messenger can deliver to an
// agent that is mid-tick.
type Memories struct {
	mu              sync.RWMutex
	streams         map[string][]Memory
	inbox           map[string][]Memory
	sinceReflection map[string]int
}

// NewMemories creates empty memory streams.
func NewMemories() *Memories {
	return &Memories{
		streams:         make(map[string][]Memory),
		inbox:           make(map[string][]Memory),
		sinceReflection: make(map[string]int),
	}
}

// Deliver queues an event for the agent's next tick.
func (m *Memories) Deliver(agentID string, event Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox[agentID] = append(m.inbox[agentID], event)
}

// Requeue puts events back in front of the agent's pending events, in
// order.
func (m *Memories) Requeue(agentID string, events []Memory) {
	if len(events) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	queued := make([]Memory, 0, len(events)+len(m.inbox[agentID]))
	queued = append(queued, events...)
	m.inbox[agentID] = append(queued, m.inbox[agentID]...)
}

// Drain returns and clears the agent's pending events, oldest first.
func (m *Memories) Drain(agentID string) []Memory {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.inbox[agentID]
	delete(m.inbox, agentID)
	return out
}

// Pending reports how many events wait for the agent.
func (m *Memories) Pending(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inbox[agentID])
}

// Add appends to the agent's stream. Importance counts toward the next
// reflection.
func (m *Memories) Add(agentID string, mem Memory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[agentID] = append(m.streams[agentID], mem)
	m.sinceReflection[agentID] += mem.Importance
}

// Recent returns up to n of the agent's newest memories, oldest first.
// n <= 0 returns the whole stream.
func (m *Memories) Recent(agentID string, n int) []Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream := m.streams[agentID]
	if n > 0 && len(stream) > n {
		stream = stream[len(stream)-n:]
	}
	out := make([]Memory, len(stream))
	copy(out, stream)
	return out
}

// Conversation returns up to n of the agent's newest message memories.
func (m *Memories) Conversation(agentID string, n int) []Memory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Memory
	stream := m.streams[agentID]
	for i := len(stream) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if stream[i].Kind == KindMessage {
			out = append(out, stream[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ImportanceSinceReflection is the importance accumulated since the last
// ResetReflection.
func (m *Memories) ImportanceSinceReflection(agentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sinceReflection[agentID]
}

// ResetReflection zeroes the reflection counter.
func (m *Memories) ResetReflection(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinceReflection[agentID] = 0
}

// Retriever returns a reflection.Retriever over the agent's stream. It
// ranks memories by how many question words they share, then by
// importance, then by recency.
func (m *Memories) Retriever(agentID string, limit int) reflection.Retriever {
	return reflection.RetrieverFunc(func(_ context.Context, question string) ([]string, error) {
		words := keywords(question)
		stream := m.Recent(agentID, 0)

		type scored struct {
			idx     int
			overlap int
		}
		var hits []scored
		for i, mem := range stream {
			overlap := 0
			for w := range keywords(mem.Description) {
				if words[w] {
					overlap++
				}
			}
			if overlap > 0 {
				hits = append(hits, scored{idx: i, overlap: overlap})
			}
		}
		sort.SliceStable(hits, func(a, b int) bool {
			ha, hb := hits[a], hits[b]
			if ha.overlap != hb.overlap {
				return ha.overlap > hb.overlap
			}
			if stream[ha.idx].Importance != stream[hb.idx].Importance {
				return stream[ha.idx].Importance > stream[hb.idx].Importance
			}
			return ha.idx > hb.idx
		})
		if limit > 0 && len(hits) > limit {
			hits = hits[:limit]
		}
		out := make([]string, len(hits))
		for i, h := range hits {
			out[i] = stream[h.idx].Description
		}
		return out, nil
	})
}

// keywords lower-cases s and keeps words longer than three letters.
func keywords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(w) > 3 {
			out[w] = true
		}
	}
	return out
}

// descriptions renders memories with their timestamps.
func descriptions(mems []Memory) []string {
	out := make([]string, len(mems))
	for i, m := range mems {
		out[i] = m.String()
	}
	return out
}

// plain returns the bare memory descriptions.
func plain(mems []Memory) []string {
	out := make([]string, len(mems))
	for i, m := range mems {
		out[i] = m.Description
	}
	return out
}
