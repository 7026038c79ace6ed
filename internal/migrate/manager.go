// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package migrate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/database"
	"github.com/vigil-board/vigil/internal/logging"
)

// schemaMigrationsTable tracks every version ever attempted, with its
// lifecycle status. A version with no row, or a rolled_back row, is pending.
const schemaMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	applied_at TIMESTAMP,
	updated_at TIMESTAMP NOT NULL
);
`

// Manager applies and rolls back schema versions against the canonical
// store. All mutating operations run under the exclusive migration lock.
type Manager struct {
	db         *database.DB
	cfg        *config.MigrationConfig
	clk        clock.Clock
	migrations []Migration
}

// NewManager validates the registered migration set (unique versions,
// known dependencies, no cycles, structure-only forward scripts) and
// returns a Manager.
func NewManager(db *database.DB, cfg *config.MigrationConfig, clk clock.Clock, migrations []Migration) (*Manager, error) {
	if cfg.LockPath == "" {
		return nil, fmt.Errorf("migration lock path is required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	ordered, err := topoOrder(migrations)
	if err != nil {
		return nil, err
	}
	for _, m := range ordered {
		if err := m.validateStructureOnly(); err != nil {
			return nil, err
		}
	}
	return &Manager{db: db, cfg: cfg, clk: clk, migrations: ordered}, nil
}

// Status is the migration state consumed by the startup sequence and the
// admin surface.
type Status struct {
	// Current is the highest applied version, 0 when none.
	Current int

	// Pending lists unapplied versions in topological apply order.
	Pending []int

	// RequiresMaintenance is set when any pending version's estimated
	// apply duration exceeds the configured threshold. The surrounding
	// system owns admission control for that window.
	RequiresMaintenance bool

	// Stuck lists versions found mid-apply or mid-rollback, before
	// ResolveStuck has run.
	Stuck []int
}

// CurrentVersion returns the highest applied version, 0 when none.
func (m *Manager) CurrentVersion(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	var version int
	err := m.db.Conn().QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE status = ?`,
		string(StatusApplied)).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query current schema version: %w", err)
	}
	return version, nil
}

// PendingVersions returns the unapplied migrations in topological order.
func (m *Manager) PendingVersions(ctx context.Context) ([]Migration, error) {
	statuses, err := m.statuses(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, mig := range m.migrations {
		if statuses[mig.Version] != StatusApplied {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}

// Status reports current/pending/stuck versions and the maintenance flag.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	statuses, err := m.statuses(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{}
	for _, mig := range m.migrations {
		switch statuses[mig.Version] {
		case StatusApplied:
			if mig.Version > st.Current {
				st.Current = mig.Version
			}
		case StatusApplying, StatusRollingBack, StatusValidating:
			st.Stuck = append(st.Stuck, mig.Version)
		default:
			st.Pending = append(st.Pending, mig.Version)
			d, err := m.EstimateDuration(ctx, mig)
			if err != nil {
				return nil, err
			}
			if d > m.cfg.MaintenanceThreshold {
				st.RequiresMaintenance = true
			}
		}
	}
	return st, nil
}

// Apply applies one version. It fails with *DependencyError when any
// declared dependency is not applied. On a forward-script failure it
// attempts the reverse script automatically before surfacing the error; if
// the reverse also fails the version stays in the applying state and the
// error instructs the operator to intervene (fail closed).
func (m *Manager) Apply(ctx context.Context, version int) error {
	lock, err := acquireLock(ctx, m.cfg.LockPath, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return m.applyLocked(ctx, version)
}

func (m *Manager) applyLocked(ctx context.Context, version int) error {
	statuses, err := m.statuses(ctx)
	if err != nil {
		return err
	}
	if statuses[version] == StatusApplied {
		return nil
	}

	mig, ok := m.byVersion(version)
	if !ok {
		return fmt.Errorf("unknown migration version %d", version)
	}

	var missing []int
	for _, dep := range mig.Dependencies {
		if statuses[dep] != StatusApplied {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{Version: version, Missing: missing}
	}

	if err := m.setStatus(ctx, mig, StatusValidating); err != nil {
		return err
	}
	if err := mig.validateStructureOnly(); err != nil {
		_ = m.setStatus(ctx, mig, StatusRolledBack) //nolint:errcheck // Validation failed before any DDL ran
		return err
	}

	if err := m.setStatus(ctx, mig, StatusApplying); err != nil {
		return err
	}

	logging.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Applying migration")
	if _, err := m.db.Conn().ExecContext(ctx, mig.Forward); err != nil {
		applyErr := fmt.Errorf("apply migration v%d (%s): %w", mig.Version, mig.Name, err)
		logging.Error().Err(err).Int("version", mig.Version).Msg("Migration failed, attempting automatic rollback")

		if _, rbErr := m.db.Conn().ExecContext(ctx, mig.Reverse); rbErr != nil {
			// Fail closed: the schema may be partially altered and the
			// version stays in the applying state until an operator
			// intervenes.
			return fmt.Errorf("%w; automatic rollback also failed: %v (manual intervention required)", applyErr, rbErr)
		}
		if err := m.setStatus(ctx, mig, StatusRolledBack); err != nil {
			return errors.Join(applyErr, err)
		}
		return applyErr
	}

	if err := m.setStatus(ctx, mig, StatusApplied); err != nil {
		return err
	}
	logging.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Migration applied")
	return nil
}

// Rollback explicitly reverses one applied version. It fails with
// *DependencyError while applied versions still depend on it.
func (m *Manager) Rollback(ctx context.Context, version int) error {
	lock, err := acquireLock(ctx, m.cfg.LockPath, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	statuses, err := m.statuses(ctx)
	if err != nil {
		return err
	}
	if statuses[version] != StatusApplied {
		return fmt.Errorf("migration v%d is %s, not applied", version, statusOrPending(statuses[version]))
	}
	mig, ok := m.byVersion(version)
	if !ok {
		return fmt.Errorf("unknown migration version %d", version)
	}

	var dependents []int
	for _, other := range m.migrations {
		if statuses[other.Version] != StatusApplied {
			continue
		}
		for _, dep := range other.Dependencies {
			if dep == version {
				dependents = append(dependents, other.Version)
			}
		}
	}
	if len(dependents) > 0 {
		return &DependencyError{Version: version, Missing: dependents, Rollback: true}
	}

	if err := m.setStatus(ctx, mig, StatusRollingBack); err != nil {
		return err
	}
	logging.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("Rolling back migration")
	if _, err := m.db.Conn().ExecContext(ctx, mig.Reverse); err != nil {
		// Fail closed: stays rolling_back until an operator intervenes.
		return fmt.Errorf("rollback migration v%d (%s): %w (manual intervention required)", mig.Version, mig.Name, err)
	}
	return m.setStatus(ctx, mig, StatusRolledBack)
}

// ResolveStuck inspects versions left mid-apply or mid-rollback by a crash.
// For each, it probes the live schema: if the forward script's effects are
// visible the bookkeeping is completed (applied); otherwise the reverse
// script runs and the version returns to pending. The forward script is
// never blindly re-run.
func (m *Manager) ResolveStuck(ctx context.Context) error {
	lock, err := acquireLock(ctx, m.cfg.LockPath, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	statuses, err := m.statuses(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		st := statuses[mig.Version]
		if st != StatusApplying && st != StatusRollingBack && st != StatusValidating {
			continue
		}

		visible, err := m.probeVisible(ctx, mig.Probe)
		if err != nil {
			return fmt.Errorf("probe migration v%d: %w", mig.Version, err)
		}

		if visible && st != StatusRollingBack {
			logging.Warn().Int("version", mig.Version).Msg("Stuck migration effects are visible, completing bookkeeping")
			if err := m.setStatus(ctx, mig, StatusApplied); err != nil {
				return err
			}
			continue
		}

		logging.Warn().Int("version", mig.Version).Msg("Stuck migration incomplete, rolling back")
		if _, err := m.db.Conn().ExecContext(ctx, mig.Reverse); err != nil {
			// A partial apply can make parts of the reverse script
			// inapplicable; trust the probe over the script error.
			stillVisible, perr := m.probeVisible(ctx, mig.Probe)
			if perr != nil {
				return fmt.Errorf("re-probe migration v%d: %w", mig.Version, perr)
			}
			if stillVisible {
				return fmt.Errorf("resolve stuck migration v%d: %w (manual intervention required)", mig.Version, err)
			}
			logging.Warn().Err(err).Int("version", mig.Version).Msg("Reverse script errored but effects are absent")
		}
		if err := m.setStatus(ctx, mig, StatusRolledBack); err != nil {
			return err
		}
	}
	return nil
}

// EnsureCurrent is the startup entry point: resolve stuck versions, then
// apply every pending version in topological order. When a pending version
// requires maintenance mode the sequence stops and the returned status
// carries the flag; the surrounding system must refuse to serve and an
// operator applies the version inside a maintenance window.
func (m *Manager) EnsureCurrent(ctx context.Context) (*Status, error) {
	if err := m.ResolveStuck(ctx); err != nil {
		return nil, err
	}

	lock, err := acquireLock(ctx, m.cfg.LockPath, m.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	pending, err := m.PendingVersions(ctx)
	if err != nil {
		return nil, err
	}
	for _, mig := range pending {
		d, err := m.EstimateDuration(ctx, mig)
		if err != nil {
			return nil, err
		}
		if d > m.cfg.MaintenanceThreshold {
			logging.Warn().
				Int("version", mig.Version).
				Dur("estimate", d).
				Msg("Pending migration requires maintenance mode")
			return m.Status(ctx)
		}
		if err := m.applyLocked(ctx, mig.Version); err != nil {
			return nil, err
		}
	}
	return m.Status(ctx)
}

// EstimateDuration estimates a migration's apply time from the declared
// per-row cost and the current size of the cost table. Missing tables (for
// example before the baseline applies) estimate as zero.
func (m *Manager) EstimateDuration(ctx context.Context, mig Migration) (time.Duration, error) {
	if mig.CostTable == "" || mig.CostPerRow == 0 {
		return 0, nil
	}
	exists, err := m.tableExists(ctx, mig.CostTable)
	if err != nil || !exists {
		return 0, err
	}
	rows, err := m.db.CountRows(ctx, mig.CostTable)
	if err != nil {
		return 0, err
	}
	return time.Duration(rows) * mig.CostPerRow, nil
}

// DataMigration is an explicitly invoked row transformation, separate from
// structural versioning.
type DataMigration struct {
	Name string
	SQL  string
}

// ApplyDataMigration runs a data transformation under the migration lock.
// It refuses to touch the sessions table: schema deployments must never be
// able to invalidate live sessions, and the data path holds the same line.
func (m *Manager) ApplyDataMigration(ctx context.Context, dm DataMigration) error {
	if strings.Contains(strings.ToLower(dm.SQL), "sessions") {
		return fmt.Errorf("data migration %q touches the sessions table; live session continuity must be preserved", dm.Name)
	}

	lock, err := acquireLock(ctx, m.cfg.LockPath, m.cfg.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.Release()

	tx, err := m.db.Conn().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin data migration %q: %w", dm.Name, err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	if _, err := tx.ExecContext(ctx, dm.SQL); err != nil {
		return fmt.Errorf("data migration %q: %w", dm.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit data migration %q: %w", dm.Name, err)
	}
	logging.Info().Str("name", dm.Name).Msg("Data migration applied")
	return nil
}

// Internals.

func (m *Manager) byVersion(version int) (Migration, bool) {
	for _, mig := range m.migrations {
		if mig.Version == version {
			return mig, true
		}
	}
	return Migration{}, false
}

func (m *Manager) ensureTable(ctx context.Context) error {
	if _, err := m.db.Conn().ExecContext(ctx, schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// statuses returns the recorded status per version; absent rows are pending.
func (m *Manager) statuses(ctx context.Context) (map[int]MigrationStatus, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.Conn().QueryContext(ctx, `SELECT version, status FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query migration statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[int]MigrationStatus)
	for rows.Next() {
		var version int
		var status string
		if err := rows.Scan(&version, &status); err != nil {
			return nil, fmt.Errorf("scan migration status: %w", err)
		}
		statuses[version] = MigrationStatus(status)
	}
	return statuses, rows.Err()
}

func (m *Manager) setStatus(ctx context.Context, mig Migration, status MigrationStatus) error {
	now := m.clk.Now()
	var appliedAt any
	if status == StatusApplied {
		appliedAt = now
	}
	_, err := m.db.Conn().ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, status, applied_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (version) DO UPDATE SET
			status = excluded.status,
			applied_at = excluded.applied_at,
			updated_at = excluded.updated_at`,
		mig.Version, mig.Name, string(status), appliedAt, now)
	if err != nil {
		return fmt.Errorf("record migration v%d status %s: %w", mig.Version, status, err)
	}
	return nil
}

// probeVisible checks whether a migration's structural effects exist.
func (m *Manager) probeVisible(ctx context.Context, p Probe) (bool, error) {
	if p.Table == "" {
		return false, fmt.Errorf("migration has no introspection probe")
	}
	if ok, err := m.tableExists(ctx, p.Table); err != nil || !ok {
		return false, err
	}
	if p.Column != "" {
		var n int
		err := m.db.Conn().QueryRowContext(ctx, `
			SELECT COUNT(*) FROM information_schema.columns
			WHERE table_name = ? AND column_name = ?`, p.Table, p.Column).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("probe column %s.%s: %w", p.Table, p.Column, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	if p.Index != "" {
		var n int
		err := m.db.Conn().QueryRowContext(ctx,
			`SELECT COUNT(*) FROM duckdb_indexes() WHERE index_name = ?`, p.Index).Scan(&n)
		if err != nil {
			return false, fmt.Errorf("probe index %s: %w", p.Index, err)
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := m.db.Conn().QueryRowContext(ctx, `
		SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?`, table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe table %s: %w", table, err)
	}
	return n > 0, nil
}

func statusOrPending(st MigrationStatus) MigrationStatus {
	if st == "" {
		return StatusPending
	}
	return st
}
