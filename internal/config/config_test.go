// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Archive.Enabled {
		t.Error("archiving should be enabled by default")
	}
	if cfg.Archive.LockTimeout != 5*time.Second {
		t.Errorf("unexpected default lock timeout: %v", cfg.Archive.LockTimeout)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
archive:
  root: /srv/vigil/archive
  lock_timeout: 2s
database:
  path: /srv/vigil/vigil.duckdb
consistency:
  interval: 30m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Archive.Root != "/srv/vigil/archive" {
		t.Errorf("archive.root = %q", cfg.Archive.Root)
	}
	if cfg.Archive.LockTimeout != 2*time.Second {
		t.Errorf("archive.lock_timeout = %v", cfg.Archive.LockTimeout)
	}
	if cfg.Consistency.Interval != 30*time.Minute {
		t.Errorf("consistency.interval = %v", cfg.Consistency.Interval)
	}
	// Untouched keys keep defaults.
	if cfg.Migration.LockTimeout != 10*time.Second {
		t.Errorf("migration.lock_timeout = %v", cfg.Migration.LockTimeout)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("VIGIL_ARCHIVE_ROOT", "/env/archive")
	t.Setenv("VIGIL_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Archive.Root != "/env/archive" {
		t.Errorf("archive.root = %q, want env override", cfg.Archive.Root)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %q, want debug", cfg.Logging.Level)
	}
}

func TestEnvTransformIgnoresUnmappedKeys(t *testing.T) {
	if got := envTransformFunc("PATH"); got != "" {
		t.Errorf("unmapped env var should be skipped, got %q", got)
	}
	if got := envTransformFunc("VIGIL_ARCHIVE_ENABLED"); got != "archive.enabled" {
		t.Errorf("envTransformFunc = %q", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing archive root", func(c *Config) { c.Archive.Root = "" }},
		{"zero archive lock timeout", func(c *Config) { c.Archive.LockTimeout = 0 }},
		{"missing db path", func(c *Config) { c.Database.Path = "" }},
		{"zero migration lock timeout", func(c *Config) { c.Migration.LockTimeout = 0 }},
		{"negative consistency interval", func(c *Config) { c.Consistency.Interval = -time.Minute }},
		{"missing checkpoint path", func(c *Config) { c.Recovery.CheckpointPath = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
