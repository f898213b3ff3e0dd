// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package executor

import (
	"regexp"
	"strings"
)

// Step is one parsed model turn of the plan execution transcript.
//
// Thread Safety: Immutable once returned.
type Step struct {
	// Thought is the model's reasoning (may be empty).
	Thought string

	// Action is the tool name (empty if no action).
	Action string

	// ActionInput is the raw tool input, text or JSON.
	ActionInput string

	// FinalResponse is set when the model ends the task.
	FinalResponse string

	// Raw is the turn as the model wrote it, cut before any invented
	// observation.
	Raw string
}

// Transcript patterns. Case-insensitive with flexible whitespace.
var (
	// thoughtPattern runs until the next Action or Final Response line.
	thoughtPattern = regexp.MustCompile(`(?is)Thought\s*:\s*(.+?)(?:\n\s*(?:Action|Final\s+Response)\b|$)`)

	// actionPattern takes the rest of the line; tool names contain hyphens.
	actionPattern = regexp.MustCompile(`(?im)^\s*Action\s*:\s*(.+?)\s*$`)

	// actionInputPattern runs to the end of the turn, which may be
	// multi-line JSON.
	actionInputPattern = regexp.MustCompile(`(?is)Action\s+Input\s*:\s*(.*)$`)

	finalResponsePattern = regexp.MustCompile(`(?is)Final\s+Response\s*:\s*(.+)$`)

	// observationPattern marks where a model started inventing a result.
	observationPattern = regexp.MustCompile(`(?im)^\s*Observation\s*:`)
)

// ParseStep extracts one turn from model output.
//
// Example:
//
//	s := ParseStep("Thought: I should greet Tom\nAction: speak\nAction Input: {\"recipient\": \"Tom\", \"message\": \"hi\"}")
//	// s.Action = "speak"
//	// s.ActionInput = "{\"recipient\": \"Tom\", \"message\": \"hi\"}"
func ParseStep(text string) Step {
	if loc := observationPattern.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = strings.TrimSpace(text)
	step := Step{Raw: text}

	if m := thoughtPattern.FindStringSubmatch(text); len(m) > 1 {
		step.Thought = strings.TrimSpace(m[1])
	}
	if m := finalResponsePattern.FindStringSubmatch(text); len(m) > 1 {
		step.FinalResponse = strings.TrimSpace(m[1])
		return step
	}
	if m := actionPattern.FindStringSubmatch(text); len(m) > 1 {
		step.Action = cleanToolName(m[1])
	}
	if m := actionInputPattern.FindStringSubmatch(text); len(m) > 1 {
		step.ActionInput = strings.TrimSpace(m[1])
	}
	return step
}

// HasAction reports whether the turn invokes a tool.
func (s Step) HasAction() bool { return s.Action != "" }

// HasFinalResponse reports whether the turn ends the task.
func (s Step) HasFinalResponse() bool { return s.FinalResponse != "" }

// cleanToolName strips the decoration models put around tool names:
// quotes, backticks and list brackets.
func cleanToolName(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`[]")
}
