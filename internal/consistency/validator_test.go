// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package consistency

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-board/vigil/internal/archive"
	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/database"
	"github.com/vigil-board/vigil/internal/migrate"
	"github.com/vigil-board/vigil/internal/recovery"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return ts
}

type fixture struct {
	db        *database.DB
	writer    *archive.Writer
	validator *Validator
	root      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	db, err := database.New(&config.DatabaseConfig{
		Path:      filepath.Join(dir, "vigil.db"),
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

	mgr, err := migrate.NewManager(db, &config.MigrationConfig{
		LockPath:             filepath.Join(dir, "migrate.lock"),
		LockTimeout:          2 * time.Second,
		MaintenanceThreshold: time.Minute,
	}, clock.System{}, migrate.Registered())
	if err != nil {
		t.Fatalf("new migration manager: %v", err)
	}
	if _, err := mgr.EnsureCurrent(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clk := clock.NewFake(mustTime(t, "2026-08-12T14:05:33Z"))
	archiveCfg := &config.ArchiveConfig{
		Enabled:     true,
		Root:        filepath.Join(dir, "archive"),
		LockTimeout: time.Second,
	}

	return &fixture{
		db:        db,
		writer:    archive.NewWriter(archiveCfg, clk),
		validator: NewValidator(db, archiveCfg, clk),
		root:      archiveCfg.Root,
	}
}

// seedConsistentUser writes the archive file and the matching store row.
func (f *fixture) seedConsistentUser(t *testing.T, id, name string, registered time.Time) {
	t.Helper()
	at := archive.NewArchiveTime(registered)
	doc := &archive.Document{
		Submission: "Registered on " + at.String(),
		Meta: []archive.MetaField{
			{Key: "Id", Value: id},
			{Key: "Name", Value: name},
			{Key: "Registered", Value: at.String()},
		},
	}
	path, err := f.writer.CreateOrReplace(context.Background(), archive.EntityUser, id, doc)
	if err != nil {
		t.Fatalf("archive user %s: %v", id, err)
	}
	err = f.db.UpsertUser(context.Background(), database.User{
		ID:           id,
		Name:         name,
		RegisteredAt: at.Time(),
		ArchivePath:  sql.NullString{String: path, Valid: true},
	})
	if err != nil {
		t.Fatalf("upsert user %s: %v", id, err)
	}
}

func findKind(rep *DivergenceReport, kind string) []Divergence {
	var out []Divergence
	for _, d := range rep.Findings {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

func TestValidateConsistentState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedConsistentUser(t, "alice", "Alice", mustTime(t, "2026-07-01T09:00:00Z"))

	at := mustTime(t, "2026-08-12T14:05:00Z")
	path, err := f.writer.Append(ctx, archive.EntitySession, archive.MonthPartitionKey(at), archive.Event{
		EntityID:  "s-1",
		Actor:     "alice",
		Action:    "logged-in",
		Timestamp: archive.NewArchiveTime(at),
	})
	if err != nil {
		t.Fatalf("archive session event: %v", err)
	}
	if _, err := f.db.UpsertEventRow(ctx, "sessions", database.EventRow{
		EntityID:    "s-1",
		Actor:       "alice",
		Action:      "logged-in",
		EventAt:     at.Add(33 * time.Second),
		ArchivePath: sql.NullString{String: path, Valid: true},
	}); err != nil {
		t.Fatalf("upsert session row: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Consistent() {
		t.Errorf("consistent state reported divergent: %+v", rep.Findings)
	}
}

func TestArchiveWithoutRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	at := archive.NewArchiveTime(mustTime(t, "2026-07-01T09:00:00Z"))
	doc := &archive.Document{
		Submission: "Registered on " + at.String(),
		Meta: []archive.MetaField{
			{Key: "Id", Value: "orphan"},
			{Key: "Name", Value: "Orphan"},
			{Key: "Registered", Value: at.String()},
		},
	}
	if _, err := f.writer.CreateOrReplace(ctx, archive.EntityUser, "orphan", doc); err != nil {
		t.Fatalf("archive user: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := findKind(rep, KindArchiveWithoutRow)
	if len(got) != 1 || got[0].ID != "orphan" {
		t.Errorf("findings = %+v, want one archive_without_row for orphan", got)
	}
}

func TestRowWithoutArchivePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.db.UpsertUser(ctx, database.User{
		ID:           "pathless",
		Name:         "Pathless",
		RegisteredAt: mustTime(t, "2026-07-01T09:00:00Z"),
	})
	if err != nil {
		t.Fatalf("upsert user: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := findKind(rep, KindRowWithoutPath)
	if len(got) != 1 || got[0].ID != "pathless" {
		t.Errorf("findings = %+v, want one row_without_archive_path for pathless", got)
	}
}

func TestDanglingArchivePath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedConsistentUser(t, "alice", "Alice", mustTime(t, "2026-07-01T09:00:00Z"))

	path := archive.PartitionPath(f.root, archive.EntityUser, "alice")
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove archive file: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := findKind(rep, KindDanglingPath)
	if len(got) != 1 || got[0].Path != path {
		t.Errorf("findings = %+v, want one dangling_archive_path for %s", got, path)
	}
}

func TestArchivedEventWithoutRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedConsistentUser(t, "alice", "Alice", mustTime(t, "2026-07-01T09:00:00Z"))

	at := mustTime(t, "2026-08-12T14:05:00Z")
	if _, err := f.writer.Append(ctx, archive.EntitySecurityEvent, archive.MonthPartitionKey(at), archive.Event{
		EntityID:  "alice",
		Actor:     "system",
		Action:    "rate-limited",
		Timestamp: archive.NewArchiveTime(at),
	}); err != nil {
		t.Fatalf("archive event: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got := findKind(rep, KindEventWithoutRow)
	if len(got) != 1 || got[0].Table != "security_events" {
		t.Errorf("findings = %+v, want one archived_event_missing_row in security_events", got)
	}
}

func TestValidateEntityScopesToOneType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// One divergence in each scope: a user archive with no row, and a
	// session row missing its archive path.
	at := archive.NewArchiveTime(mustTime(t, "2026-07-01T09:00:00Z"))
	doc := &archive.Document{
		Submission: "Registered on " + at.String(),
		Meta: []archive.MetaField{
			{Key: "Id", Value: "orphan"},
			{Key: "Name", Value: "Orphan"},
			{Key: "Registered", Value: at.String()},
		},
	}
	if _, err := f.writer.CreateOrReplace(ctx, archive.EntityUser, "orphan", doc); err != nil {
		t.Fatalf("archive user: %v", err)
	}
	f.seedConsistentUser(t, "alice", "Alice", mustTime(t, "2026-07-01T09:00:00Z"))
	if _, err := f.db.UpsertEventRow(ctx, "sessions", database.EventRow{
		EntityID: "s-1",
		Actor:    "alice",
		Action:   "logged-in",
		EventAt:  mustTime(t, "2026-08-12T14:05:33Z"),
	}); err != nil {
		t.Fatalf("upsert session row: %v", err)
	}

	userRep, err := f.validator.ValidateEntity(ctx, archive.EntityUser)
	if err != nil {
		t.Fatalf("ValidateEntity(user): %v", err)
	}
	if len(userRep.Findings) != 1 || userRep.Findings[0].Kind != KindArchiveWithoutRow {
		t.Errorf("user findings = %+v, want only the orphan archive", userRep.Findings)
	}

	sessionRep, err := f.validator.ValidateEntity(ctx, archive.EntitySession)
	if err != nil {
		t.Fatalf("ValidateEntity(session): %v", err)
	}
	if len(sessionRep.Findings) != 1 || sessionRep.Findings[0].Kind != KindRowWithoutPath {
		t.Errorf("session findings = %+v, want only the pathless row", sessionRep.Findings)
	}

	if _, err := f.validator.ValidateEntity(ctx, archive.EntityType("bogus")); err == nil {
		t.Error("ValidateEntity should reject types outside the closed set")
	}
}

func TestRecoveredStoreValidatesClean(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Archive only, no store rows: the store is rebuilt entirely by replay.
	at := archive.NewArchiveTime(mustTime(t, "2026-07-01T09:00:00Z"))
	doc := &archive.Document{
		Submission: "Registered on " + at.String(),
		Meta: []archive.MetaField{
			{Key: "Id", Value: "alice"},
			{Key: "Name", Value: "Alice"},
			{Key: "Registered", Value: at.String()},
		},
	}
	if _, err := f.writer.CreateOrReplace(ctx, archive.EntityUser, "alice", doc); err != nil {
		t.Fatalf("archive user: %v", err)
	}
	for i, ts := range []string{"2026-08-12T14:05:00Z", "2026-08-12T14:06:00Z"} {
		event := archive.Event{
			EntityID:  "s-" + string(rune('1'+i)),
			Actor:     "alice",
			Action:    "logged-in",
			Timestamp: archive.NewArchiveTime(mustTime(t, ts)),
		}
		if _, err := f.writer.Append(ctx, archive.EntitySession, archive.MonthPartitionKey(event.Timestamp.Time()), event); err != nil {
			t.Fatalf("archive session event: %v", err)
		}
	}

	archiveCfg := &config.ArchiveConfig{Enabled: true, Root: f.root, LockTimeout: time.Second}
	recoveryCfg := &config.RecoveryConfig{
		CheckpointPath: filepath.Join(filepath.Dir(f.root), "checkpoints"),
	}
	orch := recovery.NewOrchestrator(f.db, archiveCfg, recoveryCfg, clock.System{})
	recReport, err := orch.Run(ctx)
	if err != nil {
		t.Fatalf("recovery Run: %v", err)
	}
	if !recReport.Clean() {
		t.Fatalf("recovery not clean: unparsed=%v failed=%v", recReport.Unparsed, recReport.Failed)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Consistent() {
		t.Fatalf("recovered store diverges from its own archive: %+v", rep.Findings)
	}

	// The replay report accounts for exactly the rows the store now holds.
	sessions, err := f.db.CountRows(ctx, "sessions")
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if recReport.Inserted != sessions {
		t.Errorf("report inserted = %d, store sessions = %d", recReport.Inserted, sessions)
	}
	if recReport.Entities != 1 {
		t.Errorf("report entities = %d, want 1", recReport.Entities)
	}
}

func TestPlaceholderUsersIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Placeholders are recovery scaffolding, not durable records; their
	// missing archive file and path are expected.
	if err := f.db.CreatePlaceholderUser(ctx, "ghost", mustTime(t, "2026-08-12T14:05:33Z")); err != nil {
		t.Fatalf("create placeholder: %v", err)
	}

	rep, err := f.validator.Validate(ctx)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Consistent() {
		t.Errorf("placeholder user reported as divergence: %+v", rep.Findings)
	}
}
