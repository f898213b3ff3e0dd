// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package react decides how an agent responds to new events: keep going
// with the current plan, set it aside for something more urgent, or drop
// it.
package react

import (
	"fmt"

	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
)

// Kind tags an Outcome.
type Kind int

const (
	KindContinue Kind = iota
	KindPostpone
	KindCancel
)

// String returns the verb the oracle uses for the kind.
func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindPostpone:
		return "postpone"
	case KindCancel:
		return "cancel"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps an oracle verb to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "continue":
		return KindContinue, true
	case "postpone":
		return KindPostpone, true
	case "cancel":
		return KindCancel, true
	default:
		return 0, false
	}
}

// Outcome is a reaction. Only the constructors below build one, so a
// replacement plan exists exactly when the kind is KindPostpone.
type Outcome struct {
	kind          Kind
	justification string
	replacement   plans.Plan
}

// Continue keeps the current plan.
func Continue(justification string) Outcome {
	return Outcome{kind: KindContinue, justification: justification}
}

// Postpone sets the current plan aside in favour of replacement.
func Postpone(replacement plans.Plan, justification string) Outcome {
	return Outcome{kind: KindPostpone, justification: justification, replacement: replacement}
}

// Cancel drops the current plan.
func Cancel(justification string) Outcome {
	return Outcome{kind: KindCancel, justification: justification}
}

func (o Outcome) Kind() Kind { return o.kind }

// Justification is the oracle's thought process, which names the verb.
func (o Outcome) Justification() string { return o.justification }

// Replacement returns the plan to run now. ok is true iff the outcome is
// a postponement.
func (o Outcome) Replacement() (plans.Plan, bool) {
	if o.kind != KindPostpone {
		return plans.Plan{}, false
	}
	return o.replacement, true
}

// String is for logs.
func (o Outcome) String() string {
	if p, ok := o.Replacement(); ok {
		return fmt.Sprintf("postpone (now: %s)", p.Description)
	}
	return o.kind.String()
}
