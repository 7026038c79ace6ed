// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entity tables (one row per entity instance).

// User is the canonical projection of a user archive file.
type User struct {
	ID           string
	Name         string
	RegisteredAt time.Time
	ArchivePath  sql.NullString
	// Placeholder marks a row lazily created during recovery to satisfy a
	// forward reference; it is overwritten when the real user replays.
	Placeholder bool
}

// Prayer is the canonical projection of a prayer archive file.
type Prayer struct {
	ID          string
	AuthorID    string
	Category    string
	Body        string
	SubmittedAt time.Time
	ArchivePath sql.NullString
}

// InviteToken is the canonical projection of an invite-token archive file.
type InviteToken struct {
	ID          string
	IssuerID    string
	CreatedAt   time.Time
	Revoked     bool
	ArchivePath sql.NullString
}

// EventRow is the uniform canonical projection of one archived event line
// in the month-bucketed tables.
type EventRow struct {
	ID          string
	EntityID    string
	Actor       string
	Action      string
	Detail      string
	EventAt     time.Time
	ArchivePath sql.NullString
}

// eventTables is the closed set of tables storing EventRow projections.
// Table names are validated against this set before interpolation into SQL.
var eventTables = map[string]bool{
	"interaction_marks":      true,
	"interaction_attributes": true,
	"activity_logs":          true,
	"auth_requests":          true,
	"auth_approvals":         true,
	"sessions":               true,
	"invite_usages":          true,
	"security_events":        true,
	"notifications":          true,
}

// EntityTables lists the entity-instance tables.
var EntityTables = []string{"users", "prayers", "invite_tokens"}

// IsEventTable reports whether name is a known event table.
func IsEventTable(name string) bool { return eventTables[name] }

// EventTables returns the known event table names in stable order.
func EventTables() []string {
	return []string{
		"interaction_marks", "interaction_attributes", "activity_logs",
		"auth_requests", "auth_approvals", "sessions", "invite_usages",
		"security_events", "notifications",
	}
}

// UpsertUser inserts or updates a user by id. A placeholder row created
// during recovery is overwritten and demoted to a real row. An existing
// archive path is never cleared by an upsert carrying none.
func (db *DB) UpsertUser(ctx context.Context, u User) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, registered_at, archive_path, placeholder)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			registered_at = excluded.registered_at,
			archive_path = COALESCE(excluded.archive_path, users.archive_path),
			placeholder = FALSE`,
		u.ID, u.Name, u.RegisteredAt, u.ArchivePath, u.Placeholder)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// CreatePlaceholderUser lazily creates a minimal user row so that rows
// referencing a not-yet-recovered user can be inserted. The real user
// record overwrites it when its archive replays.
func (db *DB) CreatePlaceholderUser(ctx context.Context, id string, now time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, registered_at, archive_path, placeholder)
		VALUES (?, ?, ?, NULL, TRUE)
		ON CONFLICT (id) DO NOTHING`,
		id, "placeholder-"+id, now)
	if err != nil {
		return fmt.Errorf("create placeholder user %s: %w", id, err)
	}
	return nil
}

// UpsertPrayer inserts or updates a prayer by id.
func (db *DB) UpsertPrayer(ctx context.Context, p Prayer) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO prayers (id, author_id, category, body, submitted_at, archive_path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			author_id = excluded.author_id,
			category = excluded.category,
			body = excluded.body,
			submitted_at = excluded.submitted_at,
			archive_path = COALESCE(excluded.archive_path, prayers.archive_path)`,
		p.ID, p.AuthorID, p.Category, p.Body, p.SubmittedAt, p.ArchivePath)
	if err != nil {
		return fmt.Errorf("upsert prayer %s: %w", p.ID, err)
	}
	return nil
}

// UpsertInviteToken inserts or updates an invite token by id.
func (db *DB) UpsertInviteToken(ctx context.Context, tok InviteToken) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO invite_tokens (id, issuer_id, created_at, revoked, archive_path)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			issuer_id = excluded.issuer_id,
			created_at = excluded.created_at,
			revoked = excluded.revoked,
			archive_path = COALESCE(excluded.archive_path, invite_tokens.archive_path)`,
		tok.ID, tok.IssuerID, tok.CreatedAt, tok.Revoked, tok.ArchivePath)
	if err != nil {
		return fmt.Errorf("upsert invite token %s: %w", tok.ID, err)
	}
	return nil
}

// UpsertEventRow idempotently inserts an event row keyed by its natural key:
// entity id + action + actor + minute-truncated timestamp. The archived
// timestamp is minute precision while live rows carry seconds, so matching
// truncates the stored value; strict equality would duplicate rows on
// replay. Returns true when a new row was inserted, false when an existing
// row matched (its archive path is backfilled if missing).
//
// The check and insert run in one transaction so concurrent replays of the
// same partition cannot race a duplicate in.
func (db *DB) UpsertEventRow(ctx context.Context, table string, row EventRow) (bool, error) {
	if !IsEventTable(table) {
		return false, fmt.Errorf("unknown event table %q", table)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	minute := row.EventAt.UTC().Truncate(time.Minute)

	var existingID string
	var existingPath sql.NullString
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, archive_path FROM %s
		WHERE entity_id = ? AND actor = ? AND action = ?
		  AND date_trunc('minute', event_at) = ?`, table),
		row.EntityID, row.Actor, row.Action, minute).Scan(&existingID, &existingPath)

	switch {
	case err == sql.ErrNoRows:
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, entity_id, actor, action, detail, event_at, archive_path)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, table),
			row.ID, row.EntityID, row.Actor, row.Action, row.Detail, row.EventAt, row.ArchivePath)
		if err != nil {
			return false, fmt.Errorf("insert %s row: %w", table, err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit upsert tx: %w", err)
		}
		return true, nil

	case err != nil:
		return false, fmt.Errorf("match %s natural key: %w", table, err)
	}

	// Existing row: backfill the archive path on legacy rows that predate
	// archival.
	if !existingPath.Valid && row.ArchivePath.Valid {
		_, err = tx.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET archive_path = ? WHERE id = ?`, table),
			row.ArchivePath, existingID)
		if err != nil {
			return false, fmt.Errorf("backfill archive path on %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert tx: %w", err)
	}
	return false, nil
}

// CountRows returns the row count of any known table.
func (db *DB) CountRows(ctx context.Context, table string) (int64, error) {
	if !IsEventTable(table) && !isEntityTable(table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// EntityIDs returns the ids present in an entity table, excluding
// placeholder users.
func (db *DB) EntityIDs(ctx context.Context, table string) (map[string]bool, error) {
	if !isEntityTable(table) {
		return nil, fmt.Errorf("unknown entity table %q", table)
	}
	query := fmt.Sprintf(`SELECT id FROM %s`, table)
	if table == "users" {
		query += ` WHERE NOT placeholder`
	}
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", table, err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// RowsMissingArchivePath returns ids of rows with a NULL archive path.
func (db *DB) RowsMissingArchivePath(ctx context.Context, table string) ([]string, error) {
	if !IsEventTable(table) && !isEntityTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE archive_path IS NULL`, table)
	if table == "users" {
		query += ` AND NOT placeholder`
	}
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s missing archive paths: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArchivePaths returns the distinct non-NULL archive paths referenced by a
// table, for dangling-path detection.
func (db *DB) ArchivePaths(ctx context.Context, table string) ([]string, error) {
	if !IsEventTable(table) && !isEntityTable(table) {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT archive_path FROM %s WHERE archive_path IS NOT NULL`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s archive paths: %w", table, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan %s archive path: %w", table, err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// EventRowExists reports whether a row matching the natural key exists.
func (db *DB) EventRowExists(ctx context.Context, table, entityID, actor, action string, minute time.Time) (bool, error) {
	if !IsEventTable(table) {
		return false, fmt.Errorf("unknown event table %q", table)
	}
	var n int
	err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s
		WHERE entity_id = ? AND actor = ? AND action = ?
		  AND date_trunc('minute', event_at) = ?`, table),
		entityID, actor, action, minute.UTC().Truncate(time.Minute)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("probe %s natural key: %w", table, err)
	}
	return n > 0, nil
}

// GetUser fetches a user row by id.
func (db *DB) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, name, registered_at, archive_path, placeholder
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.RegisteredAt, &u.ArchivePath, &u.Placeholder)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPrayer fetches a prayer row by id.
func (db *DB) GetPrayer(ctx context.Context, id string) (*Prayer, error) {
	var p Prayer
	err := db.conn.QueryRowContext(ctx, `
		SELECT id, author_id, category, body, submitted_at, archive_path
		FROM prayers WHERE id = ?`, id).
		Scan(&p.ID, &p.AuthorID, &p.Category, &p.Body, &p.SubmittedAt, &p.ArchivePath)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func isEntityTable(name string) bool {
	for _, t := range EntityTables {
		if t == name {
			return true
		}
	}
	return false
}
