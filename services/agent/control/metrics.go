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
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/react"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentsim",
		Subsystem: "control",
		Name:      "ticks_total",
		Help:      "Agent ticks by outcome (ok, error).",
	}, []string{"outcome"})

	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentsim",
		Subsystem: "control",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one agent tick, oracle calls included.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	reactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentsim",
		Subsystem: "control",
		Name:      "reactions_total",
		Help:      "Reaction decisions by kind.",
	}, []string{"kind"})

	stalledAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentsim",
		Subsystem: "control",
		Name:      "stalled_agents",
		Help:      "Agents whose last tick failed.",
	})
)

func recordTick(err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ticksTotal.WithLabelValues(outcome).Inc()
	tickDuration.Observe(d.Seconds())
}

func recordReaction(k react.Kind) {
	reactionsTotal.WithLabelValues(k.String()).Inc()
}
