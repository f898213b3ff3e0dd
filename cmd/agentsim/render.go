// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianTeam/pkg/ux"
	"github.com/AleutianAI/AleutianTeam/services/agent/control"
	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/reflection"
)

func renderStep(p *ux.Printer, step int, reports []control.TickReport) {
	p.Title(fmt.Sprintf("Step %d", step))
	stalled := 0
	for _, r := range reports {
		if r.Stalled {
			stalled++
		}
		renderReport(p, r)
	}
	p.Summary(len(reports)-stalled, stalled, len(reports))
}

func renderReport(p *ux.Printer, r control.TickReport) {
	if r.Stalled || r.Error != "" {
		p.Error(fmt.Sprintf("%s stalled: %s", r.AgentID, r.Error))
		return
	}
	p.Success(r.AgentID)
	if len(r.Events) > 0 {
		p.Field("events", strings.Join(r.Events, "; "))
	}
	if r.Reaction != "" {
		p.Field("reaction", r.Reaction+" ("+r.Justification+")")
	}
	if r.Plan != nil {
		label := "plan"
		if r.Replanned {
			label = "new plan"
		}
		p.Field(label, describePlan(*r.Plan))
	}
	if r.Execution != nil {
		p.Field("outcome", r.Execution.Status.String())
		for _, call := range r.Execution.Calls {
			p.Field("  "+string(call.Tool), call.Observation)
		}
		if r.Execution.FinalResponse != "" {
			p.Field("final", r.Execution.FinalResponse)
		}
	}
	renderReflections(p, r.Reflections)
}

func renderReflections(p *ux.Printer, rs []reflection.Reflection) {
	for _, r := range rs {
		lines := make([]string, 0, len(r.Insights))
		for _, in := range r.Insights {
			lines = append(lines, in.Insight)
		}
		p.Box(r.Question, strings.Join(lines, "\n"))
	}
}

func describePlan(pl plans.Plan) string {
	s := pl.Description
	if pl.LocationID != "" {
		s += " @ " + string(pl.LocationID)
	}
	if pl.StopCondition != "" {
		s += " until " + pl.StopCondition
	}
	return s
}
