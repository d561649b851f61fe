// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

// Package main is the entry point for the Tourforge server.
//
// Tourforge lets authenticated clients build virtual tours: directed
// graphs of panoramic scenes linked by transitions and closeups,
// edited live over a websocket connection and persisted to sqlite.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered koanf loading (defaults, yaml, env)
//  2. Store: sqlite with WAL and foreign keys, schema migration
//  3. Auth: credential manager plus a badger or memory session store
//  4. Session registry: one live tour graph per (user, tour)
//  5. Websocket hub and command dispatcher
//  6. Supervisor tree: sweeper (data), hub (messaging), HTTP (api)
//
// # Configuration
//
// Configuration is loaded via koanf with layered sources (highest
// priority wins): environment variables named after their config
// section (SERVER_PORT, SECURITY_JWT_SECRET, LOGGING_LEVEL), config
// file (config.yaml), built-in defaults.
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains, the hub closes every websocket client, and any
// service that fails to stop within the timeout is reported.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tourforge/tourforge/internal/api"
	"github.com/tourforge/tourforge/internal/auth"
	"github.com/tourforge/tourforge/internal/config"
	"github.com/tourforge/tourforge/internal/importer"
	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/session"
	"github.com/tourforge/tourforge/internal/store"
	"github.com/tourforge/tourforge/internal/supervisor"
	"github.com/tourforge/tourforge/internal/supervisor/services"
	ws "github.com/tourforge/tourforge/internal/websocket"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Str("session_store", cfg.Security.SessionStore).
		Msg("Starting Tourforge")

	db, err := store.New(store.Config{Path: cfg.Database.Path})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()

	// "tourforge import <owner> <bundle-dir>" imports an export
	// bundle and exits without starting the server.
	if len(os.Args) > 1 && os.Args[1] == "import" {
		runImport(cfg, db, os.Args[2:])
		return
	}

	sessionStore, closeSessions, err := newSessionStore(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize session store")
	}
	defer closeSessions()

	authManager := auth.NewManager(db, sessionStore, auth.Config{
		SessionLifetime: cfg.Security.SessionTimeout,
		BcryptCost:      cfg.Security.BcryptCost,
		JWTSecret:       cfg.Security.JWTSecret,
	})

	registry := session.NewRegistry(db)
	hub := ws.NewHub()
	commands := api.NewCommandHandler(authManager, registry, db)
	router := api.NewRouter(cfg, hub, commands)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddDataService(services.NewSessionSweeperService(sessionStore, cfg.Security.SessionSweepInterval))
	tree.AddMessagingService(services.NewWebSocketHubService(hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Supervisor.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("Services added to supervisor tree")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// runImport imports one export bundle as a new tour for the owner.
func runImport(cfg *config.Config, db *store.DB, args []string) {
	if len(args) != 2 {
		logging.Fatal().Msg("usage: tourforge import <owner> <bundle-dir>")
	}
	owner, bundleDir := args[0], args[1]

	imp := importer.New(db, cfg.Assets.Dir)
	res, err := imp.ImportBundle(context.Background(), owner, bundleDir)
	if err != nil {
		logging.Fatal().Err(err).Str("bundle", bundleDir).Msg("Import failed")
	}
	logging.Info().
		Int64("tour_id", res.TourID).
		Int("scenes", res.SceneCount).
		Int("connections", res.ConnectionCount).
		Msg("Import finished")
}

// newSessionStore builds the configured auth session store. The
// returned close function is a no-op for the memory store.
func newSessionStore(cfg *config.Config) (auth.SessionStore, func(), error) {
	switch cfg.Security.SessionStore {
	case "badger":
		bs, err := auth.OpenBadgerSessionStore(cfg.Security.SessionStorePath)
		if err != nil {
			return nil, nil, err
		}
		return bs, func() {
			if err := bs.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing session store")
			}
		}, nil
	case "memory":
		logging.Warn().Msg("Session store is in-memory; sessions are lost on restart")
		return auth.NewMemorySessionStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q", cfg.Security.SessionStore)
	}
}
