// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm holds the transports that reach a language model or an
// embedding model. Nothing in here knows about agents; the structured
// oracle layer in services/agent/oracle sits on top of LLMClient.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// GenerationParams tunes a single Generate call. Nil fields use the
// backend default.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// JSONMode asks the backend to constrain output to a JSON object
	// (OpenAI response_format=json_object, Ollama format=json).
	JSONMode bool `json:"json_mode"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder turns text into a vector for similarity search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	// ErrEmptyResponse is returned when a backend answers with no content.
	ErrEmptyResponse = errors.New("llm returned no content")

	// ErrUnknownBackend is returned by New for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown llm backend")
)

// Backend names accepted by New.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Options selects and configures one chat backend.
type Options struct {
	Backend string
	OpenAI  OpenAIConfig
	Ollama  OllamaConfig
}

// New builds the LLMClient named by opts.Backend.
func New(opts Options) (LLMClient, error) {
	switch opts.Backend {
	case BackendOpenAI:
		return NewOpenAIClient(opts.OpenAI)
	case BackendOllama:
		return NewOllamaClient(opts.Ollama)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// Float32 returns a pointer to v, for GenerationParams literals.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v, for GenerationParams literals.
func Int(v int) *int { return &v }
