// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reflection turns a stream of memories into higher-level
// questions and cited insights.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("aleutian.agentsim.reflection")

// ErrNoMemories is returned when there is nothing to reflect on.
var ErrNoMemories = errors.New("no memories to reflect on")

// QuestionsSchema is the REFLECTION_QUESTIONS response shape.
var QuestionsSchema = oracle.MustSchema("reflection_questions", `{
  "type": "object",
  "properties": {
    "questions": {
      "type": "array",
      "minItems": 3,
      "maxItems": 3,
      "items": {"type": "string", "minLength": 1}
    }
  },
  "required": ["questions"]
}`)

// InsightsSchema is the REFLECTION_INSIGHTS response shape.
var InsightsSchema = oracle.MustSchema("reflection_insights", `{
  "type": "object",
  "properties": {
    "insights": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "insight": {"type": "string", "minLength": 1},
          "related_statements": {"type": "array", "items": {"type": "integer", "minimum": 0}}
        },
        "required": ["insight", "related_statements"]
      }
    }
  },
  "required": ["insights"]
}`)

// Insight is one inferred statement and the memories it rests on.
type Insight struct {
	Insight                 string `json:"insight" validate:"required"`
	SupportingMemoryIndices []int  `json:"related_statements"`
}

type questionsResponse struct {
	Questions []string `json:"questions" validate:"len=3,dive,required"`
}

type insightsResponse struct {
	Insights []Insight `json:"insights" validate:"min=1,dive"`
}

// Reflection groups the insights derived for one question.
type Reflection struct {
	Question string
	Memories []string
	Insights []Insight
}

// Retriever fetches the memories relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]string, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, question string) ([]string, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, question string) ([]string, error) {
	return f(ctx, question)
}

// Engine is the ReflectionEngine.
//
// Thread Safety: Safe for concurrent use.
type Engine struct {
	oracle *oracle.Client
	logger *slog.Logger
}

// NewEngine builds an Engine. A nil logger uses slog.Default().
func NewEngine(c *oracle.Client, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{oracle: c, logger: logger}
}

// DeriveQuestions asks for the three most salient questions the memories
// can answer. The three must be distinct, ignoring case and spacing.
func (e *Engine) DeriveQuestions(ctx context.Context, memoryDescriptions []string) ([3]string, error) {
	var out [3]string
	if len(memoryDescriptions) == 0 {
		return out, ErrNoMemories
	}
	ctx, span := tracer.Start(ctx, "reflection.DeriveQuestions")
	defer span.End()

	resp, err := oracle.Do(ctx, e.oracle, oracle.Call[questionsResponse]{
		Schema:   QuestionsSchema,
		Template: prompt.Must(prompt.ReflectionQuestions),
		Inputs:   prompt.Inputs{"memory_descriptions": prompt.Bullets(memoryDescriptions)},
		Check:    func(r questionsResponse) error { return distinct(r.Questions) },
	})
	if err != nil {
		return out, fmt.Errorf("derive reflection questions: %w", err)
	}
	for i := range out {
		out[i] = strings.TrimSpace(resp.Questions[i])
	}
	return out, nil
}

// DeriveInsights asks for insights over memories, which the prompt lists
// as "[i] text" using the caller's indices. Every citation must fall in
// [0, len(memories)).
func (e *Engine) DeriveInsights(ctx context.Context, memories []string) ([]Insight, error) {
	if len(memories) == 0 {
		return nil, ErrNoMemories
	}
	ctx, span := tracer.Start(ctx, "reflection.DeriveInsights")
	defer span.End()
	span.SetAttributes(attribute.Int("reflection.memories", len(memories)))

	resp, err := oracle.Do(ctx, e.oracle, oracle.Call[insightsResponse]{
		Schema:   InsightsSchema,
		Template: prompt.Must(prompt.ReflectionInsights),
		Inputs:   prompt.Inputs{"memory_strings": prompt.Numbered(memories)},
		Check:    func(r insightsResponse) error { return citationsInRange(r.Insights, len(memories)) },
	})
	if err != nil {
		return nil, fmt.Errorf("derive reflection insights: %w", err)
	}

	out := make([]Insight, len(resp.Insights))
	for i, in := range resp.Insights {
		out[i] = Insight{
			Insight:                 strings.TrimSpace(in.Insight),
			SupportingMemoryIndices: append([]int(nil), in.SupportingMemoryIndices...),
		}
		if len(in.SupportingMemoryIndices) == 0 {
			e.logger.Warn("insight has no supporting memories", "insight", out[i].Insight)
		}
	}
	span.SetAttributes(attribute.Int("reflection.insights", len(out)))
	return out, nil
}

// Reflect runs a full reflection: questions from recent memories, then
// insights per question over the memories the retriever returns for it.
// A nil retriever, or one that finds nothing, reuses recent.
func (e *Engine) Reflect(ctx context.Context, recent []string, retriever Retriever) ([]Reflection, error) {
	ctx, span := tracer.Start(ctx, "reflection.Reflect")
	defer span.End()

	questions, err := e.DeriveQuestions(ctx, recent)
	if err != nil {
		return nil, err
	}

	out := make([]Reflection, 0, len(questions))
	for _, q := range questions {
		memories := recent
		if retriever != nil {
			found, err := retriever.Retrieve(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("retrieve memories for %q: %w", q, err)
			}
			if len(found) > 0 {
				memories = found
			}
		}
		insights, err := e.DeriveInsights(ctx, memories)
		if err != nil {
			return nil, err
		}
		out = append(out, Reflection{Question: q, Memories: memories, Insights: insights})
	}
	e.logger.Info("reflection complete", "questions", len(out))
	return out, nil
}

func distinct(questions []string) error {
	seen := make(map[string]int, len(questions))
	for i, q := range questions {
		key := strings.Join(strings.Fields(strings.ToLower(q)), " ")
		if j, dup := seen[key]; dup {
			return fmt.Errorf("questions %d and %d are the same; ask three different questions", j+1, i+1)
		}
		seen[key] = i
	}
	return nil
}

func citationsInRange(insights []Insight, n int) error {
	var problems []string
	for i, in := range insights {
		for _, idx := range in.SupportingMemoryIndices {
			if idx < 0 || idx >= n {
				problems = append(problems, fmt.Sprintf("insight %d cites statement %d, valid statements are 0 to %d", i+1, idx, n-1))
			}
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
