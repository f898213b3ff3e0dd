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
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/world"
)

// Mailbox delivers speech to everyone at the speaker's location. People
// nearby overhear messages addressed to someone else.
//
// Thread Safety: Safe for concurrent use.
type Mailbox struct {
	world    world.Context
	memories *Memories
	now      func() time.Time
}

var _ tools.Messenger = (*Mailbox)(nil)

// NewMailbox creates a Mailbox. A nil now uses time.Now.
func NewMailbox(w world.Context, memories *Memories, now func() time.Time) *Mailbox {
	if now == nil {
		now = time.Now
	}
	return &Mailbox{world: w, memories: memories, now: now}
}

// Send records the message in the speaker's stream and queues it as an
// event for every other agent at the location.
func (b *Mailbox) Send(ctx context.Context, msg tools.Message) error {
	agents, err := b.world.CoLocatedAgents(ctx, msg.LocationID)
	if err != nil {
		return err
	}

	at := b.now()
	b.memories.Add(msg.FromID, Memory{
		Description: fmt.Sprintf("%s said to %s: %q", msg.FromName, addressee(msg.Recipient), msg.Content),
		Kind:        KindMessage,
		CreatedAt:   at,
		Speaker:     msg.FromName,
	})

	heard := 0
	for _, a := range agents {
		if a.ID == msg.FromID {
			continue
		}
		to := addressee(msg.Recipient)
		if strings.EqualFold(msg.Recipient, a.Name) {
			to = "you"
		}
		b.memories.Deliver(a.ID, Memory{
			Description: fmt.Sprintf("%s said to %s: %q", msg.FromName, to, msg.Content),
			Kind:        KindMessage,
			CreatedAt:   at,
			Speaker:     msg.FromName,
		})
		heard++
	}
	if heard == 0 {
		return fmt.Errorf("nobody else is at %s", msg.LocationID)
	}
	return nil
}

func addressee(recipient string) string {
	if strings.EqualFold(recipient, "everyone") {
		return "everyone"
	}
	return recipient
}

// =============================================================================
// Waiter
// =============================================================================

// Waiter answers the wait tool by asking the oracle whether the awaited
// event appears in the agent's recent memories.
type Waiter struct {
	oracle   *oracle.Client
	memories *Memories
	lookback int
}

var _ tools.Waiter = (*Waiter)(nil)

// NewWaiter creates a Waiter that looks at the last lookback memories.
func NewWaiter(c *oracle.Client, memories *Memories, lookback int) *Waiter {
	return &Waiter{oracle: c, memories: memories, lookback: lookback}
}

// HasHappened reports whether event shows up in the agent's memories.
// An empty stream is false without an oracle call.
func (w *Waiter) HasHappened(ctx context.Context, agentID, event string) (bool, error) {
	recent := w.memories.Recent(agentID, w.lookback)
	if len(recent) == 0 {
		return false, nil
	}
	res, err := hasHappened(ctx, w.oracle, descriptions(recent), event)
	if err != nil {
		return false, err
	}
	return res.HasHappened, nil
}
