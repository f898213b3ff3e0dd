// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agentapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianTeam/pkg/telemetry"
	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// statusFor maps a driver error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, world.ErrUnknownAgent):
		return http.StatusNotFound
	case errors.Is(err, planstore.ErrPlanNotFound):
		return http.StatusConflict
	case errors.Is(err, oracle.ErrSchemaValidation):
		return http.StatusBadGateway
	case errors.Is(err, oracle.ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		// prompt.ErrMissingTemplateInput lands here: it is a bug, not bad input.
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	ctx := c.Request.Context()
	telemetry.RecordError(trace.SpanFromContext(ctx), err)

	body := gin.H{"error": err.Error()}
	if id := telemetry.TraceID(ctx); id != "" {
		body["trace_id"] = id
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		h.logger.Warn("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
}
