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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	// toolExecutions counts Execute calls.
	// Labels: tool, outcome (ok, error)
	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentsim",
		Subsystem: "tools",
		Name:      "executions_total",
		Help:      "Tool executions by tool and outcome",
	}, []string{"tool", "outcome"})

	toolLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentsim",
		Subsystem: "tools",
		Name:      "execution_latency_seconds",
		Help:      "Wall time of a tool execution",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)

func recordExecution(name Name, outcome string, d time.Duration) {
	toolExecutions.WithLabelValues(string(name), outcome).Inc()
	toolLatency.WithLabelValues(string(name)).Observe(d.Seconds())
}
