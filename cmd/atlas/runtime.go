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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/atlas/cmd/atlas/config"
	"github.com/AleutianAI/atlas/pkg/logging"
	"github.com/AleutianAI/atlas/pkg/telemetry"
	"github.com/AleutianAI/atlas/pkg/ux"
	"github.com/AleutianAI/atlas/services/atlas"
	"github.com/AleutianAI/atlas/services/atlas/api"
	"github.com/AleutianAI/atlas/services/atlas/catalog"
	"github.com/AleutianAI/atlas/services/atlas/host"
	"github.com/AleutianAI/atlas/services/atlas/host/memhost"
	"github.com/AleutianAI/atlas/services/atlas/rules"
	"github.com/AleutianAI/atlas/services/atlas/scheduler"
)

// Simulated engine locations.
var (
	fallbackLocation = host.Location{World: "lobby", X: 0.5, Y: 65, Z: 0.5}
	defaultSpawn     = host.Location{X: 0.5, Y: 64, Z: 0.5}
)

// runtime is everything one command invocation needs.
type runtime struct {
	cfg     config.AtlasConfig
	logger  *logging.Logger
	printer *ux.Printer
	engine  *memhost.Engine
	sched   *scheduler.Scheduler
	catalog *catalog.Catalog
	atlas   *atlas.Atlas

	shutdownTelemetry func(context.Context) error
}

// openRuntime loads config and builds the runtime for cmd.
func openRuntime(cmd *cobra.Command, opts *globalOptions) (*runtime, error) {
	path := opts.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}
	cfg, created, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	level := ux.ParsePersonalityLevel(opts.personality)
	if opts.personality == "" {
		ux.InitPersonality()
		level = ux.GetPersonality()
	}
	printer := ux.NewPrinter(cmd.OutOrStdout(), level)
	if created {
		printer.Info("First run detected, created the config at " + path)
	}

	logger := newLogger(cfg.Logging, cmd.ErrOrStderr())
	rt, err := newRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Close()
		return nil, err
	}
	rt.printer = printer
	return rt, nil
}

// newLogger builds the process logger. Auto format writes text to a
// terminal and JSON otherwise.
func newLogger(cfg config.LoggingConfig, out io.Writer) *logging.Logger {
	json := cfg.Format == "json"
	if cfg.Format == "auto" {
		json = true
		if f, ok := out.(*os.File); ok && ux.IsTerminal(f.Fd()) {
			json = false
		}
	}
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Level),
		LogDir:  cfg.Dir,
		Service: "atlas",
		JSON:    json,
		Output:  out,
	})
}

// newRuntime wires telemetry, the rule catalogue, the simulated engine, the
// scheduler, the catalog, and the process-wide Atlas.
func newRuntime(ctx context.Context, cfg config.AtlasConfig, logger *logging.Logger) (*runtime, error) {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "atlas",
		ServiceVersion: api.ServiceVersion,
		Environment:    "development",
		TraceExporter:  cfg.Telemetry.TraceExporter,
		MetricExporter: cfg.Telemetry.MetricExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
		Output:         os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, shutdownTelemetry: shutdown}

	if err := os.MkdirAll(cfg.WorldsRoot, 0755); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("creating worlds root: %w", err)
	}

	reg, err := loadRules(ctx, cfg.Rules)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.engine = memhost.New(memhost.Config{
		Rules:        reg.Definitions(),
		Fallback:     fallbackLocation,
		DefaultSpawn: defaultSpawn,
	})

	rt.sched = scheduler.New(scheduler.Config{Interval: cfg.Scheduler.Interval}, logger)
	if err := rt.sched.Start(context.WithoutCancel(ctx)); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	deps := atlas.Dependencies{
		Engine:    rt.engine,
		Scheduler: rt.sched,
		Logger:    logger,
	}
	if cfg.Catalog.Enabled {
		catCfg := catalog.DefaultConfig(config.ExpandHome(cfg.Catalog.Path))
		catCfg.Logger = logger.Component("catalog").Slog()
		rt.catalog, err = catalog.Open(catCfg)
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("opening catalog: %w", err)
		}
		deps.Catalog = rt.catalog
	}

	rt.atlas, err = atlas.Init(atlas.Config{
		SettingsFile:     cfg.SettingsFile,
		DefaultNamespace: cfg.Rules.DefaultNamespace,
	}, deps)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	return rt, nil
}

func loadRules(ctx context.Context, cfg config.RulesConfig) (*rules.Registry, error) {
	if cfg.CataloguePath != "" {
		reg, err := rules.LoadCatalogueFile(ctx, config.ExpandHome(cfg.CataloguePath))
		if err != nil {
			return nil, fmt.Errorf("loading rule catalogue: %w", err)
		}
		return reg, nil
	}
	return rules.DefaultRegistry(ctx)
}

// Close unloads every live instance (saving), then releases resources in
// reverse order of construction.
func (r *runtime) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if r.atlas != nil {
		r.atlas.UnloadAll(ctx)
		atlas.ResetDefault()
	}
	if r.sched != nil {
		r.sched.Stop()
	}
	if r.catalog != nil {
		if err := r.catalog.Close(); err != nil {
			r.logger.Warn("Could not close catalog", "error", err)
		}
	}
	if r.shutdownTelemetry != nil {
		if err := r.shutdownTelemetry(ctx); err != nil {
			r.logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}
	r.logger.Close()
}
