// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianTeam/pkg/logging"
	"github.com/AleutianAI/AleutianTeam/pkg/telemetry"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/AleutianAI/AleutianTeam/services/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func env(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, llm.BackendOllama, cfg.LLM.Backend)
	assert.Equal(t, 3, cfg.Oracle.MaxAttempts)
	assert.True(t, cfg.PlanStoreConfig().InMemory)
	assert.Equal(t, ":12310", cfg.Server.Addr())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  backend: openai
  openai:
    model: gpt-4o
oracle:
  max_attempts: 5
  timeout: 30s
memory:
  backend: sqlite
  sqlite_path: docs.db
plan_store:
  path: plans
  sync_writes: true
  gc_interval: 10m
  gc_discard_ratio: 0.7
simulation:
  scenario: office.yaml
  max_concurrent_agents: 2
  executor:
    max_steps: 4
  agent:
    reflection_threshold: 50
    recent_memories: 10
    conversation_length: 5
    time_window: 4h
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, "gpt-4o", cfg.LLM.OpenAI.Model)
	assert.Equal(t, 5, cfg.Oracle.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Oracle.Timeout)
	assert.Equal(t, 2.0, cfg.Oracle.RequestsPerSecond, "unset keys keep their defaults")
	assert.Equal(t, filepath.Join(dir, "docs.db"), cfg.Memory.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "plans"), cfg.PlanStore.Path)
	assert.Equal(t, 10*time.Minute, cfg.PlanStore.GCInterval)
	assert.False(t, cfg.PlanStoreConfig().InMemory)
	assert.Equal(t, filepath.Join(dir, "office.yaml"), cfg.Simulation.Scenario)
	assert.Equal(t, 4, cfg.Simulation.Executor.MaxSteps)
	assert.Equal(t, 4*time.Hour, cfg.Simulation.Agent.TimeWindow)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Simulation.Executor.MaxSteps)
	assert.Equal(t, filepath.Join("..", "..", "configs", "scenarios", "office.yaml"), cfg.Simulation.Scenario)
	scenario, err := world.LoadScenario(cfg.Simulation.Scenario)
	require.NoError(t, err)
	assert.Len(t, scenario.Agents(), 3)
}

func TestLoad_NoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 12310, cfg.Server.Port)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "llm: [not, a, map]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "llm:\n  backend: anthropic\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"sqlite without path", func(c *Config) { c.Memory.Backend = "sqlite" }, "SQLitePath"},
		{"weaviate without url", func(c *Config) { c.Memory.Backend = "weaviate" }, "WeaviateURL"},
		{"genai without key", func(c *Config) { c.Memory.Embedder = "genai" }, "GenAIAPIKey"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "Port"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "Level"},
		{"zero attempts", func(c *Config) { c.Oracle.MaxAttempts = 0 }, "MaxAttempts"},
		{"otlp without endpoint", func(c *Config) { c.Telemetry.TraceExporter = telemetry.ExporterOTLP }, "OTLPEndpoint"},
		{"unknown document policy", func(c *Config) { c.Tools.DocumentPolicy = []string{"internal"} }, "DocumentPolicy"},
		{"ollama without url", func(c *Config) { c.LLM.Ollama.BaseURL = "" }, "base_url"},
		{"bad gc ratio", func(c *Config) {
			c.PlanStore.Path = "/tmp/plans"
			c.PlanStore.GCDiscardRatio = 1
		}, "gc_discard_ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(env(map[string]string{
		EnvLLMBackend:                "openai",
		EnvOpenAIKey:                 "sk-test",
		EnvOllamaModel:               "llama3",
		EnvWeaviateURL:               `"http://weaviate:8080"`,
		EnvOTLPEndpoint:              "collector:4317",
		EnvPlanStorePath:             "/var/lib/agentsim/plans",
		EnvServerPort:                "9000",
		tools.CredentialSerpAPI:      "serp-key",
		tools.CredentialWolframAlpha: "",
	}))

	assert.Equal(t, "openai", cfg.LLM.Backend)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
	assert.Equal(t, "llama3", cfg.LLM.Ollama.Model)
	assert.Equal(t, "weaviate", cfg.Memory.Backend)
	assert.Equal(t, "http://weaviate:8080", cfg.Memory.WeaviateURL)
	assert.Equal(t, telemetry.ExporterOTLP, cfg.Telemetry.TraceExporter)
	assert.False(t, cfg.PlanStoreConfig().InMemory)
	assert.Equal(t, "/var/lib/agentsim/plans", cfg.PlanStore.Path)
	assert.Equal(t, 0.5, cfg.PlanStore.GCDiscardRatio)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, map[string]string{tools.CredentialSerpAPI: "serp-key"}, cfg.Tools.Credentials)
	assert.NoError(t, cfg.Validate())
}

func TestLLMOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.LLMOptions()
	assert.Equal(t, llm.BackendOllama, opts.Backend)
	assert.Equal(t, "http://localhost:11434", opts.Ollama.BaseURL)
	assert.Equal(t, cfg.Oracle.Timeout, opts.Ollama.Timeout)
}

func TestLoggingFor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	lc, err := cfg.LoggingFor("agentapi")
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, "agentapi", lc.Service)
}

func TestMarshal_RedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.OpenAI.APIKey = "sk-live"
	cfg.Tools.Credentials = map[string]string{tools.CredentialSerpAPI: "serp-key"}

	data, err := Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live")
	assert.NotContains(t, string(data), "serp-key")
	assert.Equal(t, "sk-live", cfg.LLM.OpenAI.APIKey, "caller's config is untouched")

	var round Config
	require.NoError(t, yaml.Unmarshal(data, &round))
	assert.Equal(t, cfg.Oracle.Timeout, round.Oracle.Timeout)
}
