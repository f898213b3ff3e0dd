// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools holds the capabilities an agent can invoke: the tool
// contract, the registry that resolves an agent's tool set, and the
// built-in tools.
//
// Tool execution never fails with an error. Every failure, including a
// panicking action, comes back as an observation string prefixed with
// "Error:" so the agent can read it and try something else.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.agentsim.tools")

// Name identifies a tool.
type Name string

// Built-in tool names.
const (
	NameSearch           Name = "search"
	NameSpeak            Name = "speak"
	NameWait             Name = "wait"
	NameWolframAlpha     Name = "wolfram-alpha"
	NameHuman            Name = "human"
	NameCompanyDirectory Name = "company-directory"
	NameSaveDocument     Name = "save-document"
	NameReadDocument     Name = "read-document"
	NameSearchDocuments  Name = "search-documents"
)

// ErrPrefix starts every failed tool observation.
const ErrPrefix = "Error: "

var (
	// ErrInvalidSpec is returned by New for a malformed Spec.
	ErrInvalidSpec = errors.New("invalid tool spec")

	// ErrDuplicateTool is returned by NewRegistry when two contracts share a name.
	ErrDuplicateTool = errors.New("duplicate tool name")
)

// Variables a usage description may reference.
const (
	VarAgentFullName       = "agent_full_name"
	VarToolName            = "tool_name"
	VarToolUsageReflection = "tool_usage_reflection"
	VarRecipientFullName   = "recipient_full_name"
)

// Variables a summarization prompt may reference.
const (
	VarPlanDescription = "plan_description"
	VarToolInput       = "tool_input"
	VarToolResult      = "tool_result"
)

// Variables a location-scoped description may reference.
const (
	VarLocationName    = "location_name"
	VarOtherAgentNames = "other_agent_names"
)

var (
	usageVars       = []string{VarAgentFullName, VarToolName, VarToolUsageReflection, VarRecipientFullName}
	summaryVars     = []string{VarPlanDescription, VarToolName, VarToolInput, VarToolResult}
	descriptionVars = []string{VarLocationName, VarOtherAgentNames}
)

// Action performs the tool's work. A returned error becomes an "Error:"
// observation.
type Action func(ctx context.Context, p Payload) (string, error)

// Summarizer makes the free-text oracle call behind SummarizeUsage.
// *oracle.Client satisfies it.
type Summarizer interface {
	Complete(ctx context.Context, tpl *prompt.Template, inputs prompt.Inputs) (string, error)
}

// Spec describes a contract to build.
type Spec struct {
	Name                  Name   `validate:"required"`
	Description           string `validate:"required"`
	RequiresContext       bool
	RequiresAuthorization bool
	Worldwide             bool

	// LocationScoped descriptions are templates over {location_name} and
	// {other_agent_names}, rendered per resolution.
	LocationScoped bool

	// InputSchema is optional JSON Schema text the agent input must match.
	InputSchema string

	// UsageTemplate renders the memory line recorded after the tool runs.
	UsageTemplate string `validate:"required"`

	// SummaryTemplate, when set, asks the oracle for a one-sentence
	// reflection that fills {tool_usage_reflection}.
	SummaryTemplate string

	// Timeout bounds one Action call. Zero means no extra deadline.
	Timeout time.Duration `validate:"gte=0"`

	Action Action `validate:"required"`
}

// Contract is an immutable tool description plus its action.
//
// Thread Safety: Safe for concurrent use. Contracts hold no per-call
// state; the acting agent arrives as a Context on every call.
type Contract struct {
	name                  Name
	description           string
	descriptionTpl        *prompt.Template
	requiresContext       bool
	requiresAuthorization bool
	worldwide             bool
	inputSchema           *oracle.Schema
	usageTpl              *prompt.Template
	summaryTpl            *prompt.Template
	timeout               time.Duration
	action                Action
}

var specValidator = validator.New(validator.WithRequiredStructEnabled())

// New validates spec and compiles its templates and input schema.
func New(spec Spec) (*Contract, error) {
	if err := specValidator.Struct(spec); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSpec, spec.Name, err)
	}

	c := &Contract{
		name:                  spec.Name,
		description:           spec.Description,
		requiresContext:       spec.RequiresContext,
		requiresAuthorization: spec.RequiresAuthorization,
		worldwide:             spec.Worldwide,
		timeout:               spec.Timeout,
		action:                spec.Action,
	}

	tplName := func(kind string) prompt.Name {
		return prompt.Name("TOOL_" + strings.ToUpper(string(spec.Name)) + "_" + kind)
	}

	c.usageTpl = prompt.Parse(tplName("USAGE"), spec.UsageTemplate)
	if err := onlyVars(c.usageTpl, usageVars); err != nil {
		return nil, fmt.Errorf("%w: %s usage template: %w", ErrInvalidSpec, spec.Name, err)
	}
	if spec.SummaryTemplate != "" {
		c.summaryTpl = prompt.Parse(tplName("SUMMARY"), spec.SummaryTemplate)
		if err := onlyVars(c.summaryTpl, summaryVars); err != nil {
			return nil, fmt.Errorf("%w: %s summary template: %w", ErrInvalidSpec, spec.Name, err)
		}
	}
	if spec.LocationScoped {
		c.descriptionTpl = prompt.Parse(tplName("DESCRIPTION"), spec.Description)
		if err := onlyVars(c.descriptionTpl, descriptionVars); err != nil {
			return nil, fmt.Errorf("%w: %s description: %w", ErrInvalidSpec, spec.Name, err)
		}
	}
	if spec.InputSchema != "" {
		s, err := oracle.NewSchema("tool_"+string(spec.Name)+"_input", spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
		}
		c.inputSchema = s
	}
	return c, nil
}

func onlyVars(tpl *prompt.Template, allowed []string) error {
	var unknown []string
	for _, v := range tpl.Variables() {
		ok := false
		for _, a := range allowed {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			unknown = append(unknown, v)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown variables %s (allowed: %s)", strings.Join(unknown, ", "), strings.Join(allowed, ", "))
	}
	return nil
}

func (c *Contract) Name() Name                  { return c.name }
func (c *Contract) RequiresContext() bool       { return c.requiresContext }
func (c *Contract) RequiresAuthorization() bool { return c.requiresAuthorization }
func (c *Contract) Worldwide() bool             { return c.worldwide }
func (c *Contract) LocationScoped() bool        { return c.descriptionTpl != nil }
func (c *Contract) HasSummary() bool            { return c.summaryTpl != nil }

// Description returns the canonical description. For location-scoped
// contracts this is the unrendered template; use Registry.Resolve for the
// per-agent text.
func (c *Contract) Description() string { return c.description }

// InputSchema returns the input schema text, or "" when the tool takes
// free text.
func (c *Contract) InputSchema() string {
	if c.inputSchema == nil {
		return ""
	}
	return c.inputSchema.Source()
}

// =============================================================================
// Execution
// =============================================================================

// Execute runs the tool and always returns an observation string.
//
// Description:
//
//	Checks the context requirement, validates the input against the
//	input schema, builds the payload and calls the action under the
//	contract timeout. Missing context, invalid input, action errors,
//	timeouts and panics all come back as "Error: ..." strings.
//
// Inputs:
//
//	ctx - Cancellation for the action.
//	in - Agent input, text or structured.
//	tctx - The acting agent. Required when RequiresContext, ignored otherwise.
//
// Outputs:
//
//	string - The observation.
func (c *Contract) Execute(ctx context.Context, in Input, tctx *Context) (out string) {
	ctx, span := tracer.Start(ctx, "tools.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool.name", string(c.name)))

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out = ErrPrefix + fmt.Sprintf("tool %s crashed: %v", c.name, r)
		}
		outcome := outcomeOK
		if strings.HasPrefix(out, ErrPrefix) {
			outcome = outcomeError
			span.SetStatus(codes.Error, out)
		}
		recordExecution(c.name, outcome, time.Since(start))
	}()

	payload, err := c.payload(in, tctx)
	if err != nil {
		return ErrPrefix + err.Error()
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	result, err := c.action(ctx, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrPrefix + fmt.Sprintf("tool %s timed out", c.name)
		}
		return ErrPrefix + err.Error()
	}
	return result
}

func (c *Contract) payload(in Input, tctx *Context) (Payload, error) {
	if c.requiresContext {
		if tctx == nil {
			return Payload{}, fmt.Errorf("%w for %s", ErrMissingContext, c.name)
		}
		if err := tctx.Validate(); err != nil {
			return Payload{}, err
		}
	}

	var args map[string]any
	if in.Structured() {
		args = in.agentArgs()
	}

	if c.inputSchema != nil {
		var raw []byte
		var err error
		if args != nil {
			raw, err = json.Marshal(args)
		} else {
			raw, err = json.Marshal(in.text)
		}
		if err != nil {
			return Payload{}, fmt.Errorf("encode input: %w", err)
		}
		violations, err := c.inputSchema.ValidateJSON(raw)
		if err != nil {
			return Payload{}, err
		}
		if len(violations) > 0 {
			return Payload{}, fmt.Errorf("invalid input for %s: %s", c.name, strings.Join(violations, "; "))
		}
	}

	if !c.requiresContext {
		if args != nil {
			return Payload{Args: args}, nil
		}
		return Payload{Text: in.text}, nil
	}

	if args == nil {
		args = map[string]any{KeyAgentInput: in.text}
	}
	args[KeyToolContext] = *tctx
	return Payload{Args: args}, nil
}

// =============================================================================
// Usage summaries
// =============================================================================

// SummarizeUsage renders the memory line describing a finished tool call.
//
// Description:
//
//	When the contract has a summarization prompt, one free-text oracle
//	call produces the reflection. The usage template is then rendered
//	with the actor's name, the tool name, the reflection and, for speak,
//	the recipient. Contracts without a summarization prompt never touch
//	the oracle.
//
// Outputs:
//
//	string - The rendered description. On oracle failure this is still
//	         the description with an empty reflection.
//	error - The oracle error, if any.
func (c *Contract) SummarizeUsage(ctx context.Context, summarizer Summarizer, planDescription, rawInput, rawResult, actorName string) (string, error) {
	var reflection string
	var summaryErr error
	if c.summaryTpl != nil && summarizer != nil {
		reflection, summaryErr = summarizer.Complete(ctx, c.summaryTpl, prompt.Inputs{
			VarPlanDescription: planDescription,
			VarToolName:        string(c.name),
			VarToolInput:       rawInput,
			VarToolResult:      rawResult,
		})
		if summaryErr != nil {
			reflection = ""
			summaryErr = fmt.Errorf("summarize %s usage: %w", c.name, summaryErr)
		}
	}

	recipient := ""
	if c.name == NameSpeak {
		recipient = recipientOf(rawInput)
	}
	text, err := c.usageTpl.Render(prompt.Inputs{
		VarAgentFullName:       actorName,
		VarToolName:            string(c.name),
		VarToolUsageReflection: strings.TrimSpace(reflection),
		VarRecipientFullName:   recipient,
	})
	if err != nil {
		return "", err
	}
	return text, summaryErr
}

// recipientOf pulls the addressee out of a speak input: the JSON
// "recipient" field, else the text before the first ";".
func recipientOf(rawInput string) string {
	in := TextInput(rawInput)
	if in.Structured() {
		if r, ok := in.args["recipient"].(string); ok && strings.TrimSpace(r) != "" {
			return strings.TrimSpace(r)
		}
		return "a colleague"
	}
	if i := strings.Index(rawInput, ";"); i > 0 {
		if r := strings.TrimSpace(rawInput[:i]); r != "" {
			return r
		}
	}
	return "a colleague"
}
