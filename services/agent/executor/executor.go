// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor carries out a plan by running the EXECUTE_PLAN
// transcript: the model thinks, picks a tool, reads the observation, and
// repeats until it gives a final response.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianTeam/services/agent/plans"
	"github.com/AleutianAI/AleutianTeam/services/agent/prompt"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.agentsim.executor")

// DefaultMaxSteps bounds a transcript when Config.MaxSteps is unset.
const DefaultMaxSteps = 8

// Final responses with a fixed meaning.
const (
	FinalDone     = "Done"
	FinalNeedHelp = "Need Help"
)

// stopSequence cuts the model off before it writes its own observation.
const stopSequence = "\nObservation:"

// Status is how a transcript ended.
type Status int

const (
	// StatusDone means the model answered "Final Response: Done".
	StatusDone Status = iota

	// StatusNeedHelp means the model could not finish with its tools.
	StatusNeedHelp

	// StatusResponded means the model gave some other final response,
	// usually a line of dialogue.
	StatusResponded

	// StatusStepLimit means MaxSteps ran out first.
	StatusStepLimit
)

func (s Status) String() string {
	switch s {
	case StatusDone:
		return "done"
	case StatusNeedHelp:
		return "need_help"
	case StatusResponded:
		return "responded"
	case StatusStepLimit:
		return "step_limit"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Completer makes the free-text transcript calls. *oracle.Client
// satisfies it.
type Completer interface {
	tools.Summarizer
	CompleteUntil(ctx context.Context, tpl *prompt.Template, inputs prompt.Inputs, stop ...string) (string, error)
}

// ApprovalFunc is called before running a tool that requires
// authorization. Returns true if approved, false if declined. The error
// is for approval system failures, not for declining.
type ApprovalFunc func(ctx context.Context, tool tools.Resolved, tctx tools.Context, input string) (bool, error)

// Config bounds an Executor.
type Config struct {
	MaxSteps int `yaml:"max_steps" validate:"gte=0"`
}

// Request is one plan to carry out.
type Request struct {
	Plan                plans.Plan
	Context             tools.Context
	PrivateBio          string
	LocationContext     string
	RelevantMemories    []string
	ConversationHistory string

	// Tools is the agent's resolved tool set.
	Tools []tools.Resolved
}

// ToolCall records one tool invocation inside a transcript.
type ToolCall struct {
	Tool        tools.Name
	Input       string
	Observation string

	// Usage is the memory line from SummarizeUsage; empty when the call
	// failed.
	Usage string
}

// Result is a finished transcript.
type Result struct {
	Status        Status
	FinalResponse string
	Calls         []ToolCall
	Steps         int
}

// Executor runs plan transcripts.
//
// Thread Safety: Safe for concurrent use. Each Run owns its transcript.
type Executor struct {
	completer Completer
	approver  ApprovalFunc
	maxSteps  int
	logger    *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithApprover sets the approval function for tools that require
// authorization. Without one, such tools are always declined.
func WithApprover(fn ApprovalFunc) Option {
	return func(e *Executor) { e.approver = fn }
}

// WithConfig applies cfg.
func WithConfig(cfg Config) Option {
	return func(e *Executor) {
		if cfg.MaxSteps > 0 {
			e.maxSteps = cfg.MaxSteps
		}
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New builds an Executor.
func New(c Completer, opts ...Option) *Executor {
	e := &Executor{completer: c, maxSteps: DefaultMaxSteps, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run carries out req.Plan.
//
// Description:
//
//	Each step asks the model for the next turn, parses it, and either
//	stops on a final response or runs the named tool and appends the
//	observation to the scratchpad. Unknown tools, malformed turns and
//	declined authorizations become observations too, so the model can
//	correct itself. Successful tool calls are summarized into usage
//	lines for the agent's memory.
//
// Outputs:
//
//	*Result - Always non-nil when error is nil. A step limit is a status,
//	          not an error.
//	error - Oracle failures and context cancellation.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "executor.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent.id", req.Context.AgentID),
		attribute.String("plan.description", req.Plan.Description),
	)

	byName := make(map[string]tools.Resolved, len(req.Tools))
	names := make([]string, len(req.Tools))
	descriptions := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		byName[strings.ToLower(string(t.Name()))] = t
		names[i] = string(t.Name())
		descriptions[i] = fmt.Sprintf("%s: %s", t.Name(), t.Description())
	}

	inputs := prompt.Inputs{
		"your_name":            req.Context.AgentName,
		"your_private_bio":     req.PrivateBio,
		"location_context":     req.LocationContext,
		"relevant_memories":    prompt.Bullets(req.RelevantMemories),
		"conversation_history": orNone(req.ConversationHistory),
		"tools":                strings.Join(descriptions, "\n"),
		"tool_names":           strings.Join(names, ", "),
		"input":                req.Plan.Description,
	}
	logger := e.logger.With("agent_id", req.Context.AgentID)
	tpl := prompt.Must(prompt.ExecutePlan)

	result := &Result{}
	var scratchpad strings.Builder
	for step := 1; step <= e.maxSteps; step++ {
		result.Steps = step
		inputs["agent_scratchpad"] = scratchpad.String()

		text, err := e.completer.CompleteUntil(ctx, tpl, inputs, stopSequence)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transcript step failed")
			return nil, fmt.Errorf("execute plan for %s, step %d: %w", req.Context.AgentID, step, err)
		}
		turn := ParseStep(text)

		if turn.HasFinalResponse() {
			result.FinalResponse = turn.FinalResponse
			result.Status = finalStatus(turn.FinalResponse)
			span.SetAttributes(attribute.String("executor.status", result.Status.String()))
			logger.Info("plan executed", "status", result.Status.String(), "steps", step, "tool_calls", len(result.Calls))
			return result, nil
		}

		var observation string
		switch {
		case !turn.HasAction():
			observation = "Invalid format: reply with an Action and an Action Input, or a Final Response."
		default:
			tool, ok := byName[strings.ToLower(turn.Action)]
			if !ok {
				observation = fmt.Sprintf("%s is not a valid tool, try one of [%s].", turn.Action, strings.Join(names, ", "))
				break
			}
			observation = e.invoke(ctx, logger, req, tool, turn.ActionInput, result)
		}

		scratchpad.WriteString(turn.Raw)
		scratchpad.WriteString("\nObservation: ")
		scratchpad.WriteString(observation)
		scratchpad.WriteString("\nThought: ")
	}

	result.Status = StatusStepLimit
	span.SetAttributes(attribute.String("executor.status", result.Status.String()))
	logger.Warn("plan execution hit the step limit", "steps", e.maxSteps, "plan", req.Plan.Description)
	return result, nil
}

// invoke runs one tool call, including the authorization gate and the
// usage summary.
func (e *Executor) invoke(ctx context.Context, logger *slog.Logger, req Request, tool tools.Resolved, input string, result *Result) string {
	if tool.RequiresAuthorization() {
		if e.approver == nil {
			return fmt.Sprintf("Using %s requires authorization, which is not available. Try another tool.", tool.Name())
		}
		approved, err := e.approver(ctx, tool, req.Context, input)
		if err != nil {
			return tools.ErrPrefix + fmt.Sprintf("authorization for %s failed: %v", tool.Name(), err)
		}
		if !approved {
			logger.Info("tool use declined", "tool", tool.Name())
			return fmt.Sprintf("The request to use %s was declined. Try something else.", tool.Name())
		}
	}

	tctx := req.Context
	observation := tool.Execute(ctx, tools.TextInput(input), &tctx)
	call := ToolCall{Tool: tool.Name(), Input: input, Observation: observation}

	if !strings.HasPrefix(observation, tools.ErrPrefix) {
		usage, err := tool.SummarizeUsage(ctx, e.completer, req.Plan.Description, input, observation, req.Context.AgentName)
		if err != nil {
			logger.Warn("tool usage summary failed", "tool", tool.Name(), "error", err)
		}
		call.Usage = usage
	} else {
		logger.Info("tool returned an error observation", "tool", tool.Name(), "observation", observation)
	}
	result.Calls = append(result.Calls, call)
	return observation
}

func finalStatus(final string) Status {
	normalized := strings.ToLower(strings.Trim(strings.TrimSpace(final), ".!'\""))
	switch normalized {
	case strings.ToLower(FinalDone):
		return StatusDone
	case strings.ToLower(FinalNeedHelp):
		return StatusNeedHelp
	default:
		return StatusResponded
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
