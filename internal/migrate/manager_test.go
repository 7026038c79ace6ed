// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package migrate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/database"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(t.TempDir(), "vigil.db"),
		MaxMemory: "256MB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("close database: %v", err)
		}
	})
	return db
}

func testManager(t *testing.T, db *database.DB, migrations []Migration) *Manager {
	t.Helper()
	cfg := &config.MigrationConfig{
		LockPath:             filepath.Join(t.TempDir(), "migrate.lock"),
		LockTimeout:          2 * time.Second,
		MaintenanceThreshold: time.Minute,
	}
	m, err := NewManager(db, cfg, clock.System{}, migrations)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestApplyAllRegistered(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	st, err := m.EnsureCurrent(ctx)
	if err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}
	if st.Current != 3 {
		t.Errorf("current version = %d, want 3", st.Current)
	}
	if len(st.Pending) != 0 {
		t.Errorf("pending = %v, want none", st.Pending)
	}
	if st.RequiresMaintenance {
		t.Error("empty database should not require maintenance")
	}

	// The baseline schema is usable afterwards.
	for _, table := range append(database.EntityTables, database.EventTables()...) {
		if _, err := db.CountRows(ctx, table); err != nil {
			t.Errorf("table %s not usable after migration: %v", table, err)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("second apply should be a no-op: %v", err)
	}
	v, err := m.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("CurrentVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("current version = %d, want 1", v)
	}
}

func TestApplyRejectsMissingDependency(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())

	err := m.Apply(context.Background(), 2)
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("apply v2 without v1 = %v, want *DependencyError", err)
	}
	if depErr.Rollback {
		t.Error("Rollback flag set on an apply-side dependency error")
	}
	if len(depErr.Missing) != 1 || depErr.Missing[0] != 1 {
		t.Errorf("missing = %v, want [1]", depErr.Missing)
	}
}

func TestRollbackBlockedByDependents(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if _, err := m.EnsureCurrent(ctx); err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}

	err := m.Rollback(ctx, 1)
	var depErr *DependencyError
	if !errors.As(err, &depErr) {
		t.Fatalf("rollback v1 with v2,v3 applied = %v, want *DependencyError", err)
	}
	if !depErr.Rollback {
		t.Error("Rollback flag not set on a rollback-side dependency error")
	}
}

func TestRollbackReversesEffects(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if err := m.Apply(ctx, 2); err != nil {
		t.Fatalf("apply v2: %v", err)
	}

	// Rows written before the version under test must survive its
	// rollback: reversal removes structure, never data.
	conn := db.Conn()
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO users (id, name, registered_at) VALUES ('alice', 'Alice', TIMESTAMP '2026-07-01 09:00:00')`,
	); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := conn.ExecContext(ctx,
		`INSERT INTO notifications (id, entity_id, actor, action, event_at)
		 VALUES (gen_random_uuid(), 'n-1', 'alice', 'notified', TIMESTAMP '2026-08-12 14:05:00')`,
	); err != nil {
		t.Fatalf("seed notification: %v", err)
	}

	if err := m.Apply(ctx, 3); err != nil {
		t.Fatalf("apply v3: %v", err)
	}
	if err := m.Rollback(ctx, 3); err != nil {
		t.Fatalf("rollback v3: %v", err)
	}

	visible, err := m.probeVisible(ctx, notificationReadAtV3().Probe)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if visible {
		t.Error("read_at column still visible after rollback")
	}

	var rows int
	if err := conn.QueryRowContext(ctx,
		`SELECT count(*) FROM notifications WHERE entity_id = 'n-1'`,
	).Scan(&rows); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if rows != 1 {
		t.Errorf("notifications = %d after rollback, want the pre-existing row intact", rows)
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Pending) != 1 || st.Pending[0] != 3 {
		t.Errorf("pending = %v, want [3]", st.Pending)
	}
}

func TestFailedApplyRollsBackAutomatically(t *testing.T) {
	db := testDB(t)
	broken := Migration{
		Version: 1,
		Name:    "broken",
		Forward: `CREATE TABLE half_done (id TEXT); CREATE TABLE nope (id NONSENSE_TYPE);`,
		Reverse: `DROP TABLE IF EXISTS half_done;`,
		Probe:   Probe{Table: "nope"},
	}
	m := testManager(t, db, []Migration{broken})
	ctx := context.Background()

	if err := m.Apply(ctx, 1); err == nil {
		t.Fatal("apply of broken migration should fail")
	}

	exists, err := m.tableExists(ctx, "half_done")
	if err != nil {
		t.Fatalf("tableExists: %v", err)
	}
	if exists {
		t.Error("partial table survived automatic rollback")
	}

	st, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(st.Stuck) != 0 {
		t.Errorf("stuck = %v after successful automatic rollback", st.Stuck)
	}
	if len(st.Pending) != 1 {
		t.Errorf("pending = %v, want the broken version back in pending", st.Pending)
	}
}

func TestStructureOnlyValidation(t *testing.T) {
	db := testDB(t)
	destructive := Migration{
		Version: 1,
		Name:    "destructive",
		Forward: `ALTER TABLE users ADD COLUMN x TEXT; DELETE FROM users;`,
		Reverse: `ALTER TABLE users DROP COLUMN x;`,
		Probe:   Probe{Table: "users", Column: "x"},
	}

	cfg := &config.MigrationConfig{
		LockPath:    filepath.Join(t.TempDir(), "migrate.lock"),
		LockTimeout: time.Second,
	}
	_, err := NewManager(db, cfg, clock.System{}, []Migration{destructive})
	if err == nil {
		t.Fatal("manager accepted a row-deleting forward script")
	}
	if !strings.Contains(err.Error(), "row-mutating") {
		t.Errorf("error = %v, want mention of row-mutating statement", err)
	}
}

func TestResolveStuckCompletesWhenEffectsVisible(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("apply baseline: %v", err)
	}
	if err := m.Apply(ctx, 3); err != nil {
		t.Fatalf("apply v3: %v", err)
	}

	// Simulate a crash after the forward script ran but before the status
	// row was finalized.
	mig, _ := m.byVersion(3)
	if err := m.setStatus(ctx, mig, StatusApplying); err != nil {
		t.Fatalf("force applying status: %v", err)
	}

	if err := m.ResolveStuck(ctx); err != nil {
		t.Fatalf("ResolveStuck: %v", err)
	}
	statuses, err := m.statuses(ctx)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if statuses[3] != StatusApplied {
		t.Errorf("v3 status = %s, want applied", statuses[3])
	}
}

func TestResolveStuckRollsBackWhenEffectsAbsent(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("apply baseline: %v", err)
	}

	// Simulate a crash before v3's forward script took effect.
	mig, _ := m.byVersion(3)
	if err := m.setStatus(ctx, mig, StatusApplying); err != nil {
		t.Fatalf("force applying status: %v", err)
	}

	if err := m.ResolveStuck(ctx); err != nil {
		t.Fatalf("ResolveStuck: %v", err)
	}
	statuses, err := m.statuses(ctx)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if statuses[3] != StatusRolledBack {
		t.Errorf("v3 status = %s, want rolled_back", statuses[3])
	}

	// The version is pending again and applies cleanly.
	if err := m.Apply(ctx, 3); err != nil {
		t.Fatalf("re-apply after stuck rollback: %v", err)
	}
}

func TestDataMigrationRefusesSessionsTable(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if _, err := m.EnsureCurrent(ctx); err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}

	err := m.ApplyDataMigration(ctx, DataMigration{
		Name: "purge-sessions",
		SQL:  `DELETE FROM sessions WHERE event_at < now()`,
	})
	if err == nil {
		t.Fatal("data migration touching sessions was accepted")
	}
	if !strings.Contains(err.Error(), "session") {
		t.Errorf("error = %v, want session-continuity refusal", err)
	}
}

func TestDataMigrationRunsInTransaction(t *testing.T) {
	db := testDB(t)
	m := testManager(t, db, Registered())
	ctx := context.Background()

	if _, err := m.EnsureCurrent(ctx); err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}
	if err := m.ApplyDataMigration(ctx, DataMigration{
		Name: "normalize-categories",
		SQL:  `UPDATE prayers SET category = lower(category)`,
	}); err != nil {
		t.Fatalf("ApplyDataMigration: %v", err)
	}
}

func TestMaintenanceGateStopsEnsureCurrent(t *testing.T) {
	db := testDB(t)

	slow := Registered()
	for i := range slow {
		if slow[i].Version == 2 {
			slow[i].CostTable = "users"
			slow[i].CostPerRow = time.Hour
		}
	}
	cfg := &config.MigrationConfig{
		LockPath:             filepath.Join(t.TempDir(), "migrate.lock"),
		LockTimeout:          2 * time.Second,
		MaintenanceThreshold: time.Millisecond,
	}
	m, err := NewManager(db, cfg, clock.System{}, slow)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()

	// Baseline applies (empty cost table estimates zero), then seed a row so
	// v2's estimate crosses the threshold.
	if err := m.Apply(ctx, 1); err != nil {
		t.Fatalf("apply baseline: %v", err)
	}
	if err := db.UpsertUser(ctx, database.User{ID: "u-1", Name: "Alice", RegisteredAt: time.Now()}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	st, err := m.EnsureCurrent(ctx)
	if err != nil {
		t.Fatalf("EnsureCurrent: %v", err)
	}
	if !st.RequiresMaintenance {
		t.Error("RequiresMaintenance not set for an expensive pending version")
	}
	if st.Current != 1 {
		t.Errorf("current = %d, want 1 (v2 gated, v3 after it in order)", st.Current)
	}
}

func TestTopoOrderRejectsCycles(t *testing.T) {
	_, err := topoOrder([]Migration{
		{Version: 1, Dependencies: []int{2}, Forward: "CREATE TABLE a (id TEXT);"},
		{Version: 2, Dependencies: []int{1}, Forward: "CREATE TABLE b (id TEXT);"},
	})
	if err == nil {
		t.Fatal("cycle accepted")
	}
}

func TestTopoOrderStable(t *testing.T) {
	ordered, err := topoOrder([]Migration{
		{Version: 3, Dependencies: []int{1}},
		{Version: 2, Dependencies: []int{1}},
		{Version: 1},
	})
	if err != nil {
		t.Fatalf("topoOrder: %v", err)
	}
	got := []int{ordered[0].Version, ordered[1].Version, ordered[2].Version}
	want := []int{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
