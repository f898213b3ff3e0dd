// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package importance rates how much a memory matters to an agent.
package importance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.agentsim.importance")

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 10
)

// Schema is the IMPORTANCE response shape. 7.5, 0 and 11 all fail it.
var Schema = oracle.MustSchema("importance", `{
  "type": "object",
  "properties": {"rating": {"type": "integer", "minimum": 1, "maximum": 10}},
  "required": ["rating"]
}`)

type response struct {
	Rating int `json:"rating" validate:"min=1,max=10"`
}

// Scorer is the ImportanceScorer.
type Scorer struct {
	oracle *oracle.Client
	logger *slog.Logger
}

// NewScorer builds a Scorer. A nil logger uses slog.Default().
func NewScorer(c *oracle.Client, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{oracle: c, logger: logger}
}

// Score rates memoryDescription for the actor on the 1 to 10 scale.
// Out-of-range or fractional answers are retried, never clamped.
func (s *Scorer) Score(ctx context.Context, actorBio, actorName, memoryDescription string) (int, error) {
	ctx, span := tracer.Start(ctx, "importance.Score")
	defer span.End()

	resp, err := oracle.Do(ctx, s.oracle, oracle.Call[response]{
		Schema:   Schema,
		Template: prompt.Must(prompt.Importance),
		Inputs: prompt.Inputs{
			"full_name":          actorName,
			"private_bio":        actorBio,
			"memory_description": memoryDescription,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("score importance: %w", err)
	}
	span.SetAttributes(attribute.Int("importance.rating", resp.Rating))
	s.logger.Debug("memory scored", "actor", actorName, "rating", resp.Rating)
	return resp.Rating, nil
}
