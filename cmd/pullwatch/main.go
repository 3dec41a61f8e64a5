// Pullwatch - Download Manager Task Synchronization Engine
// Copyright 2026 Pullwatch Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pullwatch/pullwatch

// Package main is the Pullwatch daemon entry point.
//
// Pullwatch keeps a local view of a download manager's task list in sync
// with the server: a websocket push channel delivers updates in real time,
// a polling fallback covers outages, and a reconciler merges both into one
// consistent collection exposed over a local HTTP API.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables with the PULLWATCH_ prefix
//   - Config file (config.yaml, path overridable via PULLWATCH_CONFIG)
//   - Built-in defaults
//
// Minimal setup:
//
//	export PULLWATCH_SERVER_URL=http://localhost:8000
//	export PULLWATCH_SERVER_API_KEY=your-api-key
//	./pullwatch
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the push channel
// closes cleanly, the HTTP server drains in-flight requests, and the
// supervision tree winds down its services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pullwatch/pullwatch/internal/config"
	"github.com/pullwatch/pullwatch/internal/engine"
	"github.com/pullwatch/pullwatch/internal/httpapi"
	"github.com/pullwatch/pullwatch/internal/logging"
	"github.com/pullwatch/pullwatch/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pullwatch: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Str("server", cfg.Server.URL).
		Str("http", cfg.HTTP.Addr()).
		Msg("starting pullwatch")

	eng := engine.New(*cfg, nil)
	api := httpapi.NewServer(cfg.HTTP, eng)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddSyncService(eng.Connection())
	tree.AddSyncService(eng.Poller())
	tree.AddSyncService(eng)
	tree.AddAPIService(api)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		logging.Info().Msg("shutdown complete")
		return nil
	}
	return err
}
