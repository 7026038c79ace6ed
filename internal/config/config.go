// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package config loads and validates the Vigil durability-core configuration.
//
// Configuration is layered with koanf: struct defaults first, then an
// optional YAML config file, then environment variable overrides. The
// resulting Config is constructed once in main and passed by reference into
// the archive, recovery, and migration components; nothing in the core reads
// process-wide globals.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the durability core.
type Config struct {
	Archive     ArchiveConfig     `koanf:"archive"`
	Database    DatabaseConfig    `koanf:"database"`
	Migration   MigrationConfig   `koanf:"migration"`
	Recovery    RecoveryConfig    `koanf:"recovery"`
	Consistency ConsistencyConfig `koanf:"consistency"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ArchiveConfig configures the append-only text archive.
type ArchiveConfig struct {
	// Enabled gates all archive writes. When false, Append and
	// CreateOrReplace return ErrArchivingDisabled and callers must treat
	// durability as degraded.
	Enabled bool `koanf:"enabled"`

	// Root is the archive root directory. Entity-type subdirectories are
	// created beneath it on first write.
	Root string `koanf:"root"`

	// LockTimeout bounds how long an append waits for the per-file
	// advisory lock before failing with ErrLockTimeout.
	LockTimeout time.Duration `koanf:"lock_timeout"`
}

// DatabaseConfig configures the canonical relational store.
type DatabaseConfig struct {
	// Path is the DuckDB database file. Parent directories are created.
	Path string `koanf:"path"`

	// MaxMemory is passed through to DuckDB (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count; 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// MigrationConfig configures the schema migration manager.
type MigrationConfig struct {
	// LockPath is the exclusive migration lock file. Defaults to a
	// .migrate.lock sibling of the database file when empty.
	LockPath string `koanf:"lock_path"`

	// LockTimeout bounds lock acquisition before ErrLockTimeout.
	LockTimeout time.Duration `koanf:"lock_timeout"`

	// MaintenanceThreshold is the estimated apply duration above which a
	// version is flagged as requiring maintenance mode.
	MaintenanceThreshold time.Duration `koanf:"maintenance_threshold"`
}

// RecoveryConfig configures the recovery orchestrator.
type RecoveryConfig struct {
	// CheckpointPath is the Badger directory holding the resumable
	// recovery checkpoint. Discarded when a run completes.
	CheckpointPath string `koanf:"checkpoint_path"`
}

// ConsistencyConfig configures periodic archive/store divergence checks.
type ConsistencyConfig struct {
	// Interval between background validation sweeps. Zero disables the
	// periodic service; explicit post-recovery validation still runs.
	Interval time.Duration `koanf:"interval"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Archive: ArchiveConfig{
			Enabled:     true,
			Root:        "/data/archive",
			LockTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/vigil.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Migration: MigrationConfig{
			LockPath:             "",
			LockTimeout:          10 * time.Second,
			MaintenanceThreshold: 5 * time.Minute,
		},
		Recovery: RecoveryConfig{
			CheckpointPath: "/data/recovery-checkpoint",
		},
		Consistency: ConsistencyConfig{
			Interval: 6 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Archive.Enabled && c.Archive.Root == "" {
		return fmt.Errorf("archive.root is required when archiving is enabled")
	}
	if c.Archive.LockTimeout <= 0 {
		return fmt.Errorf("archive.lock_timeout must be positive, got %v", c.Archive.LockTimeout)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Migration.LockTimeout <= 0 {
		return fmt.Errorf("migration.lock_timeout must be positive, got %v", c.Migration.LockTimeout)
	}
	if c.Migration.MaintenanceThreshold <= 0 {
		return fmt.Errorf("migration.maintenance_threshold must be positive, got %v", c.Migration.MaintenanceThreshold)
	}
	if c.Recovery.CheckpointPath == "" {
		return fmt.Errorf("recovery.checkpoint_path is required")
	}
	if c.Consistency.Interval < 0 {
		return fmt.Errorf("consistency.interval must not be negative, got %v", c.Consistency.Interval)
	}
	return nil
}
