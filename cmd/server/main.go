// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package main is the entry point for the Vigil durability core.
//
// Vigil is a small community prayer board whose source of truth is a
// human-readable text archive, not the database. The relational store is a
// rebuildable projection: every durable write lands in the archive first,
// and the entire store can be reconstructed from the archive files alone.
//
// # Startup Sequence
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config file,
//     environment variables)
//  2. Logging: zerolog, JSON or console format
//  3. Database: DuckDB canonical store
//  4. Migrations: resolve stuck versions, then apply pending versions in
//     dependency order; a version requiring maintenance mode blocks startup
//  5. Optional one-shot modes (-recover, -validate)
//  6. Supervision tree: periodic consistency validation under suture
//
// # One-Shot Modes
//
// Recover the store from the archive and exit:
//
//	vigil -recover
//
// Run a single consistency pass and exit non-zero on divergence:
//
//	vigil -validate
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the supervision tree stops
// its services, the database is checkpointed and closed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	json "github.com/goccy/go-json"

	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/consistency"
	"github.com/vigil-board/vigil/internal/database"
	"github.com/vigil-board/vigil/internal/logging"
	"github.com/vigil-board/vigil/internal/migrate"
	"github.com/vigil-board/vigil/internal/recovery"
	"github.com/vigil-board/vigil/internal/supervisor"
)

func main() {
	runRecover := flag.Bool("recover", false, "replay the archive into the store and exit")
	runValidate := flag.Bool("validate", false, "run one consistency pass and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Str("archive_root", cfg.Archive.Root).Msg("Starting Vigil")

	if err := run(cfg, *runRecover, *runValidate); err != nil {
		logging.Fatal().Err(err).Msg("Fatal error")
	}
}

func run(cfg *config.Config, runRecover, runValidate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Failed to close database")
		}
	}()

	if cfg.Migration.LockPath == "" {
		cfg.Migration.LockPath = filepath.Join(filepath.Dir(cfg.Database.Path), ".migrate.lock")
	}
	mgr, err := migrate.NewManager(db, &cfg.Migration, clock.System{}, migrate.Registered())
	if err != nil {
		return fmt.Errorf("configure migrations: %w", err)
	}
	status, err := mgr.EnsureCurrent(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if status.RequiresMaintenance {
		// Fail closed: an operator applies the expensive version inside a
		// maintenance window, then restarts.
		return fmt.Errorf("pending migrations %v require maintenance mode; refusing to serve", status.Pending)
	}
	logging.Info().Int("schema_version", status.Current).Msg("Schema current")

	if runRecover {
		return recoverStore(ctx, db, cfg)
	}
	if runValidate {
		return validateStore(ctx, db, cfg)
	}
	return serve(ctx, db, cfg)
}

// recoverStore replays the archive and prints the report as JSON.
func recoverStore(ctx context.Context, db *database.DB, cfg *config.Config) error {
	orch := recovery.NewOrchestrator(db, &cfg.Archive, &cfg.Recovery, clock.System{})
	rep, err := orch.Run(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !rep.Clean() {
		return errors.New("recovery completed with findings; see report")
	}
	return nil
}

// validateStore runs one consistency pass and exits non-zero on divergence.
func validateStore(ctx context.Context, db *database.DB, cfg *config.Config) error {
	validator := consistency.NewValidator(db, &cfg.Archive, clock.System{})
	rep, err := validator.Validate(ctx)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	out, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !rep.Consistent() {
		return fmt.Errorf("archive and store diverge: %d findings", len(rep.Findings))
	}
	return nil
}

// serve runs the supervision tree until a shutdown signal arrives.
func serve(ctx context.Context, db *database.DB, cfg *config.Config) error {
	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		return fmt.Errorf("build supervision tree: %w", err)
	}

	if cfg.Consistency.Interval > 0 {
		validator := consistency.NewValidator(db, &cfg.Archive, clock.System{})
		tree.AddDataService(consistency.NewService(validator, cfg.Consistency.Interval))
	}

	logging.Info().Msg("Vigil running")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervision tree: %w", err)
	}
	logging.Info().Msg("Shutdown complete")
	return nil
}
