// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads config.yaml for the agentsim binaries.
//
// Values are resolved in three layers: DefaultConfig, then the YAML file,
// then environment variables. The result is validated with
// go-playground/validator before anything is built from it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianTeam/pkg/logging"
	"github.com/AleutianAI/AleutianTeam/pkg/telemetry"
	"github.com/AleutianAI/AleutianTeam/services/agent/control"
	"github.com/AleutianAI/AleutianTeam/services/agent/executor"
	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvLLMBackend    = "AGENTSIM_LLM_BACKEND"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvOpenAIModel   = "OPENAI_MODEL"
	EnvOllamaURL     = "OLLAMA_BASE_URL"
	EnvOllamaModel   = "OLLAMA_MODEL"
	EnvGenAIKey      = "GEMINI_API_KEY"
	EnvWeaviateURL   = "WEAVIATE_SERVICE_URL"
	EnvOTLPEndpoint  = "OTEL_EXPORTER_OTLP_ENDPOINT"
	EnvServerPort    = "AGENTSIM_PORT"
	EnvLogLevel      = "AGENTSIM_LOG_LEVEL"
	EnvPlanStorePath = "AGENTSIM_PLAN_STORE"
)

// ErrInvalid is matched by every validation failure from Load.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole of config.yaml.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Oracle     oracle.Config    `yaml:"oracle"`
	Memory     MemoryConfig     `yaml:"memory"`
	PlanStore  planstore.Config `yaml:"plan_store"`
	Tools      ToolsConfig      `yaml:"tools"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// LLMConfig selects the chat backend.
type LLMConfig struct {
	Backend string       `yaml:"backend" validate:"oneof=openai ollama"`
	OpenAI  OpenAIConfig `yaml:"openai"`
	Ollama  OllamaConfig `yaml:"ollama"`
}

type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
}

type OllamaConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model"`
}

// MemoryConfig selects the document store behind the document tools.
type MemoryConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=memory sqlite weaviate"`
	SQLitePath  string `yaml:"sqlite_path" validate:"required_if=Backend sqlite"`
	WeaviateURL string `yaml:"weaviate_url" validate:"required_if=Backend weaviate"`

	// Embedder is "none" (keyword search only), "openai" or "genai".
	Embedder       string `yaml:"embedder" validate:"oneof=none openai genai"`
	GenAIAPIKey    string `yaml:"genai_api_key" validate:"required_if=Embedder genai"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// ToolsConfig holds tool credentials and endpoint overrides. Credentials
// are sealed by tools.NewCredentials as soon as they are read.
type ToolsConfig struct {
	Credentials map[string]string `yaml:"credentials"`
	SerpAPIURL  string            `yaml:"serpapi_url" validate:"omitempty,url"`
	WolframURL  string            `yaml:"wolfram_url" validate:"omitempty,url"`

	// Human enables the human tool, answered on the terminal.
	Human bool `yaml:"human"`

	// DocumentPolicy lists the data classifications save-document
	// refuses. Empty disables the check.
	DocumentPolicy []string `yaml:"document_policy" validate:"dive,oneof=secret pii"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

// Addr is host:port for net/http.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// SimulationConfig drives cmd/agentsim.
type SimulationConfig struct {
	// Scenario is the world YAML file.
	Scenario            string          `yaml:"scenario"`
	MaxConcurrentAgents int             `yaml:"max_concurrent_agents" validate:"min=1"`
	Steps               int             `yaml:"steps" validate:"min=0"`
	Executor            executor.Config `yaml:"executor"`
	Agent               control.Config  `yaml:"agent"`
}

// DefaultConfig talks to a local Ollama, keeps documents and plans in
// memory and serves on :12310. Setting plan_store.path makes plans
// durable.
func DefaultConfig() Config {
	return Config{
		LLM: LLMConfig{
			Backend: llm.BackendOllama,
			Ollama:  OllamaConfig{BaseURL: "http://localhost:11434", Model: "gpt-oss"},
			OpenAI:  OpenAIConfig{Model: "gpt-4o-mini"},
		},
		Oracle:    oracle.DefaultConfig(),
		Memory:    MemoryConfig{Backend: "memory", Embedder: "none"},
		PlanStore: planstore.DefaultConfig(),
		Tools:     ToolsConfig{DocumentPolicy: []string{"secret"}},
		Server:    ServerConfig{Port: 12310},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Simulation: SimulationConfig{
			MaxConcurrentAgents: control.DefaultMaxConcurrentAgents,
			Steps:               1,
			Executor:            executor.Config{MaxSteps: executor.DefaultMaxSteps},
			Agent:               control.DefaultConfig(),
		},
	}
}

// Load reads path (optional), applies the environment and validates.
//
// Description:
//
//	An empty path skips the file. A leading ~ in path is expanded.
//	Relative paths inside the file (scenario, sqlite_path,
//	plan_store.path) are resolved against the file's directory.
//
// Outputs:
//
//	Config - Ready to build from.
//	error - The file could not be read or parsed, or ErrInvalid.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		path = expandHome(path)
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read the config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.Trim(v, "\"' ")
		}
	}
	set(EnvLLMBackend, &c.LLM.Backend)
	set(EnvOpenAIKey, &c.LLM.OpenAI.APIKey)
	set(EnvOpenAIModel, &c.LLM.OpenAI.Model)
	set(EnvOllamaURL, &c.LLM.Ollama.BaseURL)
	set(EnvOllamaModel, &c.LLM.Ollama.Model)
	set(EnvGenAIKey, &c.Memory.GenAIAPIKey)
	set(EnvLogLevel, &c.Logging.Level)

	if v, ok := lookup(EnvWeaviateURL); ok && v != "" {
		c.Memory.WeaviateURL = strings.Trim(v, "\"' ")
		c.Memory.Backend = "weaviate"
	}
	if v, ok := lookup(EnvOTLPEndpoint); ok && v != "" {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.TraceExporter = telemetry.ExporterOTLP
	}
	if v, ok := lookup(EnvPlanStorePath); ok && v != "" {
		c.PlanStore.Path = v
	}
	if v, ok := lookup(EnvServerPort); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	for _, name := range []string{tools.CredentialSerpAPI, tools.CredentialWolframAlpha} {
		if v, ok := lookup(name); ok && v != "" {
			if c.Tools.Credentials == nil {
				c.Tools.Credentials = make(map[string]string)
			}
			c.Tools.Credentials[name] = v
		}
	}
}

// Validate checks struct tags and the rules that span sections.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch {
	case c.LLM.Backend == llm.BackendOllama && c.LLM.Ollama.BaseURL == "":
		return fmt.Errorf("%w: llm.ollama.base_url is required for the ollama backend", ErrInvalid)
	case !c.PlanStoreConfig().InMemory && c.PlanStore.GCInterval > 0 && (c.PlanStore.GCDiscardRatio <= 0 || c.PlanStore.GCDiscardRatio >= 1):
		return fmt.Errorf("%w: plan_store.gc_discard_ratio must be between 0 and 1", ErrInvalid)
	}
	return nil
}

// LLMOptions converts the llm section for llm.New.
func (c Config) LLMOptions() llm.Options {
	return llm.Options{
		Backend: c.LLM.Backend,
		OpenAI: llm.OpenAIConfig{
			APIKey:         c.LLM.OpenAI.APIKey,
			Model:          c.LLM.OpenAI.Model,
			EmbeddingModel: c.LLM.OpenAI.EmbeddingModel,
			BaseURL:        c.LLM.OpenAI.BaseURL,
		},
		Ollama: llm.OllamaConfig{
			BaseURL: c.LLM.Ollama.BaseURL,
			Model:   c.LLM.Ollama.Model,
			Timeout: c.Oracle.Timeout,
		},
	}
}

// PlanStoreConfig is the plan_store section, kept in memory when no path
// is configured.
func (c Config) PlanStoreConfig() planstore.Config {
	ps := c.PlanStore
	if ps.Path == "" {
		ps.InMemory = true
	}
	return ps
}

// LoggingFor builds the logger config for a service.
func (c Config) LoggingFor(service string) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{Level: level, LogDir: c.Logging.Dir, Service: service, JSON: c.Logging.JSON}, nil
}

func (c *Config) resolvePaths(base string) {
	for _, p := range []*string{&c.Simulation.Scenario, &c.Memory.SQLitePath, &c.PlanStore.Path} {
		if *p == "" {
			continue
		}
		*p = expandHome(*p)
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// Marshal renders cfg as YAML, for `agentsim config` and first-run files.
func Marshal(cfg Config) ([]byte, error) {
	cfg.Tools.Credentials = redact(cfg.Tools.Credentials)
	cfg.LLM.OpenAI.APIKey = redactValue(cfg.LLM.OpenAI.APIKey)
	cfg.Memory.GenAIAPIKey = redactValue(cfg.Memory.GenAIAPIKey)
	return yaml.Marshal(cfg)
}

func redact(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v string) string {
	if v == "" {
		return ""
	}
	return "********"
}
