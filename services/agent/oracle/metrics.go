// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Prometheus Metrics for Oracle Calls
// =============================================================================

const (
	outcomeOK        = "ok"
	outcomeRejected  = "rejected"
	outcomeTransport = "transport_error"
)

var (
	// oracleRequests counts structured and free-text calls by final outcome.
	// Labels: schema, outcome (ok, rejected, transport_error)
	oracleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentsim",
		Subsystem: "oracle",
		Name:      "requests_total",
		Help:      "Oracle calls by schema and final outcome",
	}, []string{"schema", "outcome"})

	// oracleAttempts counts individual backend responses.
	// Labels: schema, outcome
	oracleAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentsim",
		Subsystem: "oracle",
		Name:      "attempts_total",
		Help:      "Oracle attempts by schema and outcome",
	}, []string{"schema", "outcome"})

	oracleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "agentsim",
		Subsystem: "oracle",
		Name:      "attempt_latency_seconds",
		Help:      "Latency of a single backend call",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 60},
	})
)

var (
	promptCharsOnce sync.Once
	promptChars     metric.Int64Counter
)

// recordPromptSize feeds the OTel meter, which the telemetry package
// exports through Prometheus alongside the counters above.
func recordPromptSize(ctx context.Context, schema string, chars int) {
	promptCharsOnce.Do(func() {
		c, err := otel.Meter("aleutian.agentsim.oracle").Int64Counter(
			"agentsim.oracle.prompt_chars",
			metric.WithDescription("Characters sent to the oracle, by schema"),
			metric.WithUnit("{char}"),
		)
		if err == nil {
			promptChars = c
		}
	})
	if promptChars != nil {
		promptChars.Add(ctx, int64(chars), metric.WithAttributes(attribute.String("schema", schema)))
	}
}

func recordRequest(schema, outcome string) {
	oracleRequests.WithLabelValues(schema, outcome).Inc()
}

func recordAttempt(schema, outcome string) {
	oracleAttempts.WithLabelValues(schema, outcome).Inc()
}

func observeLatency(d time.Duration) {
	oracleLatency.Observe(d.Seconds())
}
