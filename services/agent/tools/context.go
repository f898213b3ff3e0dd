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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTeam/services/world"
)

// Reserved payload keys. Agent-supplied arguments never set them.
const (
	KeyToolContext = "tool_context"
	KeyAgentInput  = "agent_input"
)

// ErrMissingContext is returned when a context-requiring tool runs
// without a usable Context.
var ErrMissingContext = errors.New("tool context required")

// Context is the per-invocation identity and location of the acting
// agent. It is built fresh for every call and passed by value; contracts
// never keep one.
type Context struct {
	AgentID      string            `json:"agent_id"`
	AgentName    string            `json:"agent_name"`
	LocationID   world.LocationRef `json:"location_id"`
	LocationName string            `json:"location_name"`
}

// Validate reports a Context missing its agent or location.
func (c Context) Validate() error {
	var missing []string
	if c.AgentID == "" {
		missing = append(missing, "agent_id")
	}
	if c.LocationID == "" {
		missing = append(missing, "location_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingContext, strings.Join(missing, ", "))
	}
	return nil
}

// =============================================================================
// Input
// =============================================================================

// Input is what an agent hands a tool: raw text or structured arguments.
type Input struct {
	text string
	args map[string]any
}

// TextInput wraps raw agent text. Text that is a JSON object is parsed
// into structured arguments.
func TextInput(s string) Input {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{") {
		var args map[string]any
		if err := json.Unmarshal([]byte(trimmed), &args); err == nil {
			return Input{text: s, args: args}
		}
	}
	return Input{text: s}
}

// ArgsInput wraps structured arguments.
func ArgsInput(args map[string]any) Input {
	if args == nil {
		args = map[string]any{}
	}
	return Input{args: args}
}

// Structured reports whether the input carries arguments.
func (i Input) Structured() bool { return i.args != nil }

// Raw returns the input as the agent wrote it (JSON for ArgsInput).
func (i Input) Raw() string {
	if i.text != "" || i.args == nil {
		return i.text
	}
	b, err := json.Marshal(i.args)
	if err != nil {
		return fmt.Sprint(i.args)
	}
	return string(b)
}

// agentArgs copies the arguments without reserved keys.
func (i Input) agentArgs() map[string]any {
	out := make(map[string]any, len(i.args)+1)
	for k, v := range i.args {
		if k == KeyToolContext || k == KeyAgentInput {
			continue
		}
		out[k] = v
	}
	return out
}

// =============================================================================
// Payload
// =============================================================================

// Payload is what an Action receives. For tools that do not require
// context it is exactly the agent input. For tools that do, Args always
// holds KeyToolContext, and raw text input moves to KeyAgentInput.
type Payload struct {
	Text string
	Args map[string]any
}

// ToolContext returns the merged Context, if any.
func (p Payload) ToolContext() (Context, bool) {
	c, ok := p.Args[KeyToolContext].(Context)
	return c, ok
}

// Input returns the agent's raw text whether or not context was merged.
func (p Payload) Input() string {
	if p.Text != "" {
		return p.Text
	}
	s, _ := p.Args[KeyAgentInput].(string)
	return s
}

// String returns a string argument, trimmed. ok is false when the key is
// absent, not a string, or blank.
func (p Payload) String(key string) (string, bool) {
	s, ok := p.Args[key].(string)
	s = strings.TrimSpace(s)
	return s, ok && s != ""
}
