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
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/atlas/pkg/extensions"
	"github.com/AleutianAI/atlas/pkg/telemetry"
	"github.com/AleutianAI/atlas/services/atlas/api"
	"github.com/AleutianAI/atlas/services/atlas/watch"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API and watch the worlds root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)
			if addr != "" {
				rt.cfg.Server.Address = addr
			}
			return rt.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

// serve scans the worlds root, starts the watcher and runs the HTTP server
// until ctx ends.
func (rt *runtime) serve(ctx context.Context) error {
	found, err := rt.atlas.ScanFolder(ctx, rt.cfg.WorldsRoot)
	if err != nil {
		return err
	}
	rt.logger.Info("Scanned worlds root", "root", rt.cfg.WorldsRoot, "instances", len(found))

	if rt.cfg.Watch.Enabled {
		w, err := rt.newWatcher(ctx)
		if err != nil {
			return err
		}
		defer w.Stop()
	}

	router, err := rt.newRouter()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:    rt.cfg.Server.Address,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info("Admin API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	rt.printer.Success("Serving on " + srv.Addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin API: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info("Shutting down admin API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down admin API: %w", err)
	}
	return nil
}

// newWatcher registers marked directories as they appear under the worlds root.
func (rt *runtime) newWatcher(ctx context.Context) (*watch.Watcher, error) {
	opts := watch.DefaultOptions()
	opts.DebounceWindow = rt.cfg.Watch.Debounce
	w, err := watch.New(rt.cfg.WorldsRoot, func(dirs []string) {
		for _, dir := range dirs {
			rt.atlas.Discover(ctx, dir)
		}
	}, &opts, rt.logger)
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// newRouter builds the admin API router.
func (rt *runtime) newRouter() (*gin.Engine, error) {
	metrics, err := telemetry.NewMetrics(otel.Meter("atlas.api"))
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("atlas"))
	router.Use(telemetry.MetricsMiddleware(metrics))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))

	opts := extensions.DefaultOptions()
	if rt.cfg.Audit.Enabled {
		opts = opts.WithAudit(extensions.NewLogAuditLogger(rt.logger, rt.cfg.Audit.Capacity))
	}
	handlers := api.NewHandlers(rt.atlas, rt.logger).
		WithLoadWait(rt.cfg.Server.LoadWait).
		WithExtensions(opts)
	api.RegisterRoutes(router.Group("/v1"), handlers)
	return router, nil
}
