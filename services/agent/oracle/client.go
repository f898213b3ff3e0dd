// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle treats the language model as a fallible typed RPC.
//
// Every structured call names a JSON Schema, renders a prompt, and keeps
// asking until the response parses, validates and passes the caller's
// semantic check, or the attempt budget runs out. Callers get either a
// fully validated value or a typed error; nothing half-valid leaks out.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("aleutian.agentsim.oracle")

// =============================================================================
// Configuration
// =============================================================================

// Config bounds every call made through a Client.
type Config struct {
	// MaxAttempts is the total number of oracle responses examined per call.
	MaxAttempts int `yaml:"max_attempts" validate:"min=1,max=10"`

	// Timeout applies to each attempt separately. Zero disables it.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// RequestsPerSecond limits calls across all agents sharing the client.
	// Zero or negative disables limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`

	// Burst is the limiter bucket size.
	Burst int `yaml:"burst" validate:"min=0"`

	// Temperature is passed to the backend; nil uses the backend default.
	Temperature *float32 `yaml:"temperature,omitempty"`
}

// DefaultConfig returns three attempts, a 60s per-attempt timeout and
// two requests per second.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		Timeout:           60 * time.Second,
		RequestsPerSecond: 2,
		Burst:             4,
	}
}

// Option configures a Client.
type Option func(*Client)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithValidator shares a validator instance (it caches struct metadata).
func WithValidator(v *validator.Validate) Option {
	return func(c *Client) {
		if v != nil {
			c.validate = v
		}
	}
}

// =============================================================================
// Client
// =============================================================================

// Client is the StructuredOracleClient.
//
// Thread Safety: Safe for concurrent use. The only shared mutable state
// is the rate limiter.
type Client struct {
	backend  llm.LLMClient
	cfg      Config
	limiter  *rate.Limiter
	validate *validator.Validate
	logger   *slog.Logger
}

// NewClient wraps an LLM backend.
func NewClient(backend llm.LLMClient, opts ...Option) *Client {
	c := &Client{
		backend:  backend,
		cfg:      DefaultConfig(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.MaxAttempts < 1 {
		c.cfg.MaxAttempts = 1
	}
	if c.cfg.RequestsPerSecond > 0 {
		burst := c.cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(c.cfg.RequestsPerSecond), burst)
	}
	return c
}

// Config returns the effective configuration.
func (c *Client) Config() Config { return c.cfg }

// Call describes one structured oracle request producing a T.
type Call[T any] struct {
	// Schema is the response shape. Required.
	Schema *Schema

	// Template and Inputs build the prompt. {format_instructions} is bound
	// from Schema when the template references it and Inputs does not.
	Template *prompt.Template
	Inputs   prompt.Inputs

	// Check runs after schema and struct validation. A non-nil error is
	// treated as a violation and triggers a retry with the message echoed
	// back to the model.
	Check func(T) error
}

// Do runs a structured call.
//
// Description:
//
//	Renders the prompt once, then for each attempt: waits on the limiter,
//	calls the backend with JSON mode on, extracts the JSON object, checks
//	it against the schema, decodes it into T, runs validator struct tags
//	and finally call.Check. A rejected response causes the next attempt
//	to carry a correction block naming the violation.
//
// Outputs:
//
//	T - The validated value. Zero value on error.
//	error - *prompt.MissingInputError (no oracle call made),
//	        *SchemaValidationError after MaxAttempts rejections,
//	        ErrOracleUnavailable if the last attempt failed in transport,
//	        or the context error if ctx ended.
func Do[T any](ctx context.Context, c *Client, call Call[T]) (T, error) {
	var zero T
	if call.Schema == nil || call.Template == nil {
		return zero, fmt.Errorf("oracle: call requires a schema and a template")
	}

	ctx, span := tracer.Start(ctx, "oracle.Do")
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.schema", call.Schema.name),
		attribute.String("oracle.template", string(call.Template.Name())),
	)

	inputs := call.Inputs
	if call.Template.References(prompt.FormatInstructions) {
		if _, ok := inputs[prompt.FormatInstructions]; !ok {
			inputs = inputs.Clone()
			inputs[prompt.FormatInstructions] = call.Schema.instructions
		}
	}
	base, err := call.Template.Render(inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing template input")
		return zero, err
	}

	logger := c.logger.With("schema", call.Schema.name)
	params := llm.GenerationParams{Temperature: c.cfg.Temperature, JSONMode: true}
	promptText := base
	var last *violation
	var lastTransport error
	attempts := 0

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		attempts = attempt
		recordPromptSize(ctx, call.Schema.name, len(promptText))

		raw, err := c.generate(ctx, promptText, params)
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastTransport = err
			last = nil
			recordAttempt(call.Schema.name, outcomeTransport)
			logger.Warn("oracle call failed", "attempt", attempt, "error", err)
			continue
		}
		lastTransport = nil

		value, v := decode(c, call, raw)
		if v == nil {
			recordAttempt(call.Schema.name, outcomeOK)
			recordRequest(call.Schema.name, outcomeOK)
			span.SetAttributes(attribute.Int("oracle.attempts", attempt))
			if attempt > 1 {
				logger.Info("oracle response accepted after retry", "attempt", attempt)
			}
			return value, nil
		}

		last = v
		recordAttempt(call.Schema.name, outcomeRejected)
		logger.Warn("oracle response rejected", "attempt", attempt, "violations", v.messages)
		logger.Debug("rejected oracle response", "attempt", attempt, "response", raw)
		promptText = base + correction(call.Schema, v)
	}

	span.SetAttributes(attribute.Int("oracle.attempts", attempts))
	if lastTransport != nil {
		recordRequest(call.Schema.name, outcomeTransport)
		err := fmt.Errorf("%w: schema %s after %d attempts: %w", ErrOracleUnavailable, call.Schema.name, attempts, lastTransport)
		span.RecordError(err)
		span.SetStatus(codes.Error, "oracle unavailable")
		return zero, err
	}

	recordRequest(call.Schema.name, outcomeRejected)
	sve := &SchemaValidationError{
		Schema:       call.Schema.name,
		Attempts:     attempts,
		Violations:   last.messages,
		LastResponse: last.response,
	}
	span.RecordError(sve)
	span.SetStatus(codes.Error, "schema validation")
	return zero, sve
}

// decode runs every check on one raw response.
func decode[T any](c *Client, call Call[T], raw string) (T, *violation) {
	var out T
	obj, ok := extractJSON(raw)
	if !ok {
		return out, newViolation(raw, ErrNoJSON.Error())
	}
	msgs, err := call.Schema.ValidateJSON([]byte(obj))
	if err != nil {
		return out, newViolation(raw, err.Error())
	}
	if len(msgs) > 0 {
		return out, newViolation(raw, msgs...)
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, newViolation(raw, fmt.Sprintf("decode into %T: %v", out, err))
	}
	if isStruct(out) {
		if err := c.validate.Struct(&out); err != nil {
			return out, newViolation(raw, structViolations(err)...)
		}
	}
	if call.Check != nil {
		if err := call.Check(out); err != nil {
			return out, newViolation(raw, err.Error())
		}
	}
	return out, nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	return t != nil && t.Kind() == reflect.Struct
}

func structViolations(err error) []string {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			out = append(out, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			out = append(out, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return out
}

func correction(schema *Schema, v *violation) string {
	out, err := prompt.Must(prompt.Correction).Render(prompt.Inputs{
		"violation":               strings.Join(v.messages, "; "),
		"previous_response":       truncate(v.response, 2000),
		prompt.FormatInstructions: schema.instructions,
	})
	if err != nil {
		// The correction template's inputs are fixed above.
		panic(err)
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// generate makes one rate-limited, time-bounded backend call.
func (c *Client) generate(ctx context.Context, promptText string, params llm.GenerationParams) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}
	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	start := time.Now()
	out, err := c.backend.Generate(callCtx, promptText, params)
	observeLatency(time.Since(start))
	return out, err
}

// Complete makes a free-text call with no schema. Transport failures are
// retried within MaxAttempts; an empty answer counts as a failure.
func (c *Client) Complete(ctx context.Context, tpl *prompt.Template, inputs prompt.Inputs) (string, error) {
	return c.complete(ctx, tpl, inputs, nil)
}

// CompleteUntil is Complete with stop sequences. The plan executor uses
// it to cut the model off before it invents a tool observation.
func (c *Client) CompleteUntil(ctx context.Context, tpl *prompt.Template, inputs prompt.Inputs, stop ...string) (string, error) {
	return c.complete(ctx, tpl, inputs, stop)
}

func (c *Client) complete(ctx context.Context, tpl *prompt.Template, inputs prompt.Inputs, stop []string) (string, error) {
	ctx, span := tracer.Start(ctx, "oracle.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("oracle.template", string(tpl.Name())))

	text, err := tpl.Render(inputs)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	name := "text:" + strings.ToLower(string(tpl.Name()))
	params := llm.GenerationParams{Temperature: c.cfg.Temperature, Stop: stop}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		recordPromptSize(ctx, name, len(text))
		out, err := c.generate(ctx, text, params)
		if err == nil && strings.TrimSpace(out) != "" {
			recordAttempt(name, outcomeOK)
			recordRequest(name, outcomeOK)
			return strings.TrimSpace(out), nil
		}
		if err == nil {
			err = llm.ErrEmptyResponse
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		recordAttempt(name, outcomeTransport)
		c.logger.Warn("oracle completion failed", "template", tpl.Name(), "attempt", attempt, "error", err)
	}
	recordRequest(name, outcomeTransport)
	err = fmt.Errorf("%w: %s after %d attempts: %w", ErrOracleUnavailable, tpl.Name(), c.cfg.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "oracle unavailable")
	return "", err
}
