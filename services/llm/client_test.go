// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Backend selection
// =============================================================================

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Options{Backend: "anthropic"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestNew_OllamaRequiresBaseURL(t *testing.T) {
	_, err := New(Options{Backend: BackendOllama})
	assert.Error(t, err)
}

// =============================================================================
// Ollama
// =============================================================================

func TestOllamaClient_Generate_JSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": `{"rating": 4}`, "done": true})
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL + "/", Model: "llama3"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "rate it", GenerationParams{
		JSONMode:    true,
		Temperature: Float32(0.5),
		MaxTokens:   Int(64),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"rating": 4}`, out)

	assert.Equal(t, "llama3", got["model"])
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, false, got["stream"])
	opts := got["options"].(map[string]any)
	assert.InDelta(t, 0.5, opts["temperature"], 0.001)
	assert.EqualValues(t, 64, opts["num_predict"])
}

func TestOllamaClient_Generate_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'nope' not found"}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "nope"})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "x", GenerationParams{})
	assert.ErrorContains(t, err, "ollama pull nope")
}

func TestOllamaClient_Generate_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"","done":true}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient(OllamaConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "x", GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

// =============================================================================
// OpenAI
// =============================================================================

func TestOpenAIClient_Generate_JSONMode(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"{\"ok\":true}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", Model: "gpt-test", BaseURL: srv.URL})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hello", GenerationParams{JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "gpt-test", got["model"])
	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestOpenAIClient_Generate_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "hello", GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIEmbedder_EmbedBatch_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0.3,0.4]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2]}
		]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.InDeltaSlice(t, []float32{0.1, 0.2}, vecs[0], 0.0001)
	assert.InDeltaSlice(t, []float32{0.3, 0.4}, vecs[1], 0.0001)
}
