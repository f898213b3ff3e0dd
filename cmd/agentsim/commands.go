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
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianTeam/pkg/config"
	"github.com/AleutianAI/AleutianTeam/pkg/ux"
	"github.com/AleutianAI/AleutianTeam/services/agent/control"
	"github.com/AleutianAI/AleutianTeam/services/agentapi"
	"github.com/spf13/cobra"
)

var (
	configPath string
	agentFlag  string
	stepsFlag  int
	limitFlag  int
	jsonOutput bool

	cfg config.Config

	errNoAgent = errors.New("--agent is required")

	rootCmd = &cobra.Command{
		Use:   "agentsim",
		Short: "Simulate a workplace of LLM-driven agents",
		Long: `agentsim ticks a scenario of characters who perceive, react,
plan, use tools and reflect, each decision made by a language model.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	runCmd = &cobra.Command{
		Use:     "run",
		Short:   "Run the simulation for a number of steps",
		Aliases: []string{"simulate"},
		Args:    cobra.NoArgs,
		RunE:    runSimulation,
	}
	tickCmd = &cobra.Command{
		Use:   "tick",
		Short: "Tick one agent once",
		Args:  cobra.NoArgs,
		RunE:  runTick,
	}
	agentsCmd = &cobra.Command{
		Use:   "agents",
		Short: "List the scenario's agents",
		Args:  cobra.NoArgs,
		RunE:  runAgents,
	}
	toolsCmd = &cobra.Command{
		Use:   "tools",
		Short: "List the tools an agent can use where it stands",
		Args:  cobra.NoArgs,
		RunE:  runTools,
	}
	scoreCmd = &cobra.Command{
		Use:   "score [memory]",
		Short: "Rate how poignant a memory is to an agent (1-10)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runScore,
	}
	reflectCmd = &cobra.Command{
		Use:   "reflect",
		Short: "Run a reflection over an agent's memories",
		Args:  cobra.NoArgs,
		RunE:  runReflect,
	}
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show an agent's plan journal, newest first",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE:  runConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config.yaml; empty uses defaults and the environment")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Write JSON instead of styled text")

	for _, cmd := range []*cobra.Command{tickCmd, toolsCmd, scoreCmd, reflectCmd, historyCmd} {
		cmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Agent ID from the scenario")
	}
	runCmd.Flags().IntVarP(&stepsFlag, "steps", "n", 0, "Steps to run (default simulation.steps)")
	historyCmd.Flags().IntVar(&limitFlag, "limit", 20, "Entries to show")

	rootCmd.AddCommand(serveCmd, runCmd, tickCmd, agentsCmd, toolsCmd, scoreCmd, reflectCmd, historyCmd, configCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printer() *ux.Printer {
	return ux.Stdout()
}

// openApp builds the App for a CLI command. Prompts go to the terminal
// only when stdin is one.
func openApp(ctx context.Context, service string) (*App, error) {
	interactive := ux.DetectMode(os.Stdin) == ux.ModeStyled
	return buildApp(ctx, cfg, service, buildOptions{
		interactive: interactive,
		in:          os.Stdin,
		out:         os.Stdout,
		mode:        ux.DetectMode(os.Stdout),
	})
}

func withApp(service string, fn func(ctx context.Context, app *App) error) error {
	ctx, stop := signalContext()
	defer stop()
	app, err := openApp(ctx, service)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()
	return fn(ctx, app)
}

func requireAgent() (string, error) {
	if agentFlag == "" {
		return "", errNoAgent
	}
	return agentFlag, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()
	app, err := buildApp(ctx, cfg, "agentapi", buildOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	h := agentapi.NewHandlers(app.ctrl, app.scenario,
		agentapi.WithHistory(app.plans),
		agentapi.WithSimulation(app.sim),
		agentapi.WithLogger(app.logger.Slog()),
	)
	router := agentapi.NewRouter(h, cfg.Telemetry.ServiceName)
	return agentapi.Serve(ctx, cfg.Server.Addr(), router, app.logger.Slog())
}

func runSimulation(cmd *cobra.Command, args []string) error {
	steps := stepsFlag
	if steps <= 0 {
		steps = cfg.Simulation.Steps
	}
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		p := printer()
		var renderErr error
		err := app.sim.Run(ctx, steps, func(step int, reports []control.TickReport) {
			if jsonOutput {
				if err := p.JSON(map[string]any{"step": step, "reports": reports}); err != nil && renderErr == nil {
					renderErr = err
				}
				return
			}
			renderStep(p, step, reports)
		})
		if err != nil {
			return err
		}
		return renderErr
	})
}

func runTick(cmd *cobra.Command, args []string) error {
	id, err := requireAgent()
	if err != nil {
		return err
	}
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		report, err := app.ctrl.Tick(ctx, id)
		if jsonOutput {
			if jerr := printer().JSON(report); jerr != nil {
				return jerr
			}
			return err
		}
		if err != nil {
			return err
		}
		renderReport(printer(), report)
		return nil
	})
}

func runAgents(cmd *cobra.Command, args []string) error {
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		p := printer()
		type row struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Location string `json:"location"`
		}
		var rows []row
		for _, spec := range app.scenario.Agents() {
			loc, err := app.scenario.AgentLocation(ctx, spec.ID)
			if err != nil {
				return err
			}
			rows = append(rows, row{ID: spec.ID, Name: spec.Name, Location: string(loc)})
		}
		if jsonOutput {
			return p.JSON(rows)
		}
		p.Title(app.scenario.Name())
		for _, r := range rows {
			p.Field(r.ID, fmt.Sprintf("%s @ %s", r.Name, r.Location))
		}
		return nil
	})
}

func runTools(cmd *cobra.Command, args []string) error {
	id, err := requireAgent()
	if err != nil {
		return err
	}
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		resolved, err := app.ctrl.ToolsFor(ctx, id)
		if err != nil {
			return err
		}
		p := printer()
		if jsonOutput {
			out := make([]map[string]any, len(resolved))
			for i, t := range resolved {
				out[i] = map[string]any{
					"name":                   t.Name(),
					"description":            t.Description(),
					"requires_authorization": t.RequiresAuthorization(),
				}
			}
			return p.JSON(out)
		}
		for _, t := range resolved {
			p.Field(string(t.Name()), t.Description())
		}
		return nil
	})
}

func runScore(cmd *cobra.Command, args []string) error {
	id, err := requireAgent()
	if err != nil {
		return err
	}
	memory := strings.Join(args, " ")
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		rating, err := app.ctrl.ScoreFor(ctx, id, memory)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printer().JSON(map[string]int{"rating": rating})
		}
		printer().Field("rating", fmt.Sprintf("%d/10", rating))
		return nil
	})
}

func runReflect(cmd *cobra.Command, args []string) error {
	id, err := requireAgent()
	if err != nil {
		return err
	}
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		rs, err := app.ctrl.ReflectFor(ctx, id)
		if err != nil {
			return err
		}
		p := printer()
		if jsonOutput {
			return p.JSON(rs)
		}
		if len(rs) == 0 {
			p.Warning(id + " has no memories to reflect on")
			return nil
		}
		renderReflections(p, rs)
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	id, err := requireAgent()
	if err != nil {
		return err
	}
	return withApp("agentsim", func(ctx context.Context, app *App) error {
		entries, err := app.plans.History(ctx, id, limitFlag)
		if err != nil {
			return err
		}
		p := printer()
		if jsonOutput {
			return p.JSON(entries)
		}
		for _, e := range entries {
			line := fmt.Sprintf("#%d %s %s", e.Seq, e.At.Format("2006-01-02 15:04"), e.Kind)
			if e.Reason != "" {
				line += ": " + e.Reason
			}
			p.Info(line)
			for _, pl := range e.Plans {
				p.Field(fmt.Sprintf("  %d", pl.Index), describePlan(pl))
			}
		}
		return nil
	})
}

func runConfig(cmd *cobra.Command, args []string) error {
	out, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}
