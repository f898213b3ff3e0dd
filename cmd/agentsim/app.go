// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianTeam/pkg/config"
	"github.com/AleutianAI/AleutianTeam/pkg/logging"
	"github.com/AleutianAI/AleutianTeam/pkg/telemetry"
	"github.com/AleutianAI/AleutianTeam/pkg/ux"
	"github.com/AleutianAI/AleutianTeam/services/agent/control"
	"github.com/AleutianAI/AleutianTeam/services/agent/oracle"
	"github.com/AleutianAI/AleutianTeam/services/agent/planstore"
	"github.com/AleutianAI/AleutianTeam/services/agent/tools"
	"github.com/AleutianAI/AleutianTeam/services/llm"
	"github.com/AleutianAI/AleutianTeam/services/memory"
	"github.com/AleutianAI/AleutianTeam/services/policy"
	"github.com/AleutianAI/AleutianTeam/services/world"
)

// App is every long-lived component of one agentsim process.
type App struct {
	cfg       config.Config
	logger    *logging.Logger
	scenario  *world.Scenario
	oracle    *oracle.Client
	ctrl      *control.Controller
	sim       *control.Simulation
	plans     *planstore.Store
	documents memory.Store
	shutdown  func(context.Context) error
}

// buildOptions replaces parts of the wiring, mostly for tests.
type buildOptions struct {
	// backend replaces the llm section of the config.
	backend llm.LLMClient

	// interactive answers the human tool and tool approvals on in/out.
	interactive bool
	in          io.Reader
	out         io.Writer
	mode        ux.Mode

	// quiet silences stderr logging.
	quiet bool
}

// buildApp wires the configured components together.
//
// Description:
//
//	Order matters: logging and telemetry first so later failures are
//	recorded, then the oracle, the world, the tool registry, the plan
//	store and finally the controller. On error everything already
//	opened is closed.
func buildApp(ctx context.Context, cfg config.Config, service string, opts buildOptions) (_ *App, err error) {
	logCfg, err := cfg.LoggingFor(service)
	if err != nil {
		return nil, err
	}
	logCfg.Quiet = opts.quiet
	app := &App{cfg: cfg, logger: logging.New(logCfg)}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()
	logger := app.logger.Slog()

	app.shutdown, err = telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	backend := opts.backend
	if backend == nil {
		backend, err = llm.New(cfg.LLMOptions())
		if err != nil {
			return nil, fmt.Errorf("llm backend: %w", err)
		}
	}
	app.oracle = oracle.NewClient(backend, oracle.WithConfig(cfg.Oracle), oracle.WithLogger(logger))

	if cfg.Simulation.Scenario == "" {
		return nil, fmt.Errorf("%w: simulation.scenario is required", config.ErrInvalid)
	}
	app.scenario, err = world.LoadScenario(cfg.Simulation.Scenario)
	if err != nil {
		return nil, err
	}

	app.documents, err = openDocuments(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("document store: %w", err)
	}

	memories := control.NewMemories()
	deps := tools.Deps{
		World:       app.scenario,
		Directory:   app.scenario,
		Messenger:   control.NewMailbox(app.scenario, memories, time.Now),
		Waiter:      control.NewWaiter(app.oracle, memories, cfg.Simulation.Agent.RecentMemories),
		Documents:   app.documents,
		Credentials: tools.NewCredentials(cfg.Tools.Credentials),
		SerpAPIURL:  cfg.Tools.SerpAPIURL,
		WolframURL:  cfg.Tools.WolframURL,
	}
	if len(cfg.Tools.DocumentPolicy) > 0 {
		engine, err := policy.New(policy.WithBlocked(cfg.Tools.DocumentPolicy...))
		if err != nil {
			return nil, fmt.Errorf("document policy: %w", err)
		}
		deps.Policy = engine
	}
	coreOpts := []control.CoreOption{
		control.WithCoreLogger(logger),
		control.WithExecutorConfig(cfg.Simulation.Executor),
	}
	if opts.interactive {
		term := newTerminal(opts.in, opts.out, opts.mode)
		if cfg.Tools.Human {
			deps.Human = term
		}
		coreOpts = append(coreOpts, control.WithApprover(term.Approve))
	}

	builtins, err := tools.Builtins(deps)
	if err != nil {
		return nil, err
	}
	registry, err := tools.NewRegistry(app.scenario, builtins, tools.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	core := control.NewCore(app.oracle, registry, coreOpts...)

	app.plans, err = planstore.Open(cfg.PlanStoreConfig(), planstore.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	app.ctrl = control.NewController(core, app.scenario, app.plans, memories,
		control.WithConfig(cfg.Simulation.Agent),
		control.WithLogger(logger),
	)
	app.sim = control.NewSimulation(app.ctrl, agentIDs(app.scenario), cfg.Simulation.MaxConcurrentAgents, logger)

	logger.Info("agentsim ready",
		"scenario", app.scenario.Name(),
		"agents", len(app.scenario.Agents()),
		"tools", registry.Len(),
		"llm_backend", cfg.LLM.Backend,
		"memory_backend", cfg.Memory.Backend,
	)
	return app, nil
}

// Close releases everything buildApp opened. It tolerates a partly
// built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.plans != nil {
		errs = append(errs, a.plans.Close())
	}
	if a.documents != nil {
		errs = append(errs, a.documents.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(ctx))
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}

func openDocuments(ctx context.Context, cfg config.Config, logger *slog.Logger) (memory.Store, error) {
	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Memory.Backend {
	case "sqlite":
		return memory.OpenSQLite(cfg.Memory.SQLitePath, embedder)
	case "weaviate":
		return memory.NewWeaviateStore(ctx, cfg.Memory.WeaviateURL, embedder, logger)
	default:
		return memory.NewInMemoryStore(embedder), nil
	}
}

// newEmbedder returns a nil Embedder for "none", which makes the stores
// fall back to keyword search.
func newEmbedder(ctx context.Context, cfg config.Config) (llm.Embedder, error) {
	switch cfg.Memory.Embedder {
	case "openai":
		openaiCfg := cfg.LLMOptions().OpenAI
		if cfg.Memory.EmbeddingModel != "" {
			openaiCfg.EmbeddingModel = cfg.Memory.EmbeddingModel
		}
		e, err := llm.NewOpenAIEmbedder(openaiCfg)
		if err != nil {
			return nil, err
		}
		return e, nil
	case "genai":
		e, err := llm.NewGenAIEmbedder(ctx, llm.GenAIConfig{
			APIKey: cfg.Memory.GenAIAPIKey,
			Model:  cfg.Memory.EmbeddingModel,
		})
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, nil
	}
}

func agentIDs(s *world.Scenario) []string {
	specs := s.Agents()
	ids := make([]string, len(specs))
	for i, spec := range specs {
		ids[i] = spec.ID
	}
	return ids
}
