// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package migrate

import "time"

// Registered returns every schema version this build knows about.
// Versions are append-only: once any deployment has applied a version its
// scripts are frozen and changes go into a new version.
func Registered() []Migration {
	return []Migration{
		baselineV1(),
		naturalKeyIndexesV2(),
		notificationReadAtV3(),
	}
}

// baselineV1 creates the full canonical schema. Entity tables carry an
// archive_path column pointing at their authoritative archive file; event
// tables mirror one archive event line per row.
func baselineV1() Migration {
	return Migration{
		Version:     1,
		Name:        "baseline",
		Description: "Create users, prayers, invite_tokens and all event tables",
		Forward: `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	registered_at TIMESTAMP NOT NULL,
	archive_path TEXT,
	placeholder BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS prayers (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL REFERENCES users(id),
	category TEXT NOT NULL,
	body TEXT NOT NULL,
	submitted_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS invite_tokens (
	id TEXT PRIMARY KEY,
	issuer_id TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMP NOT NULL,
	revoked BOOLEAN NOT NULL DEFAULT FALSE,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS interaction_marks (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS interaction_attributes (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS activity_logs (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS auth_requests (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS auth_approvals (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS sessions (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS invite_usages (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS security_events (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);

CREATE TABLE IF NOT EXISTS notifications (
	id UUID PRIMARY KEY,
	entity_id TEXT NOT NULL,
	actor TEXT NOT NULL REFERENCES users(id),
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	event_at TIMESTAMP NOT NULL,
	archive_path TEXT
);
`,
		Reverse: `
DROP TABLE IF EXISTS notifications;
DROP TABLE IF EXISTS security_events;
DROP TABLE IF EXISTS invite_usages;
DROP TABLE IF EXISTS sessions;
DROP TABLE IF EXISTS auth_approvals;
DROP TABLE IF EXISTS auth_requests;
DROP TABLE IF EXISTS activity_logs;
DROP TABLE IF EXISTS interaction_attributes;
DROP TABLE IF EXISTS interaction_marks;
DROP TABLE IF EXISTS invite_tokens;
DROP TABLE IF EXISTS prayers;
DROP TABLE IF EXISTS users;
`,
		Probe: Probe{Table: "notifications"},
	}
}

// naturalKeyIndexesV2 indexes the natural key used by idempotent event
// upserts. Replay of large archives is dominated by these lookups.
func naturalKeyIndexesV2() Migration {
	return Migration{
		Version:      2,
		Name:         "natural_key_indexes",
		Description:  "Index (entity_id, action, actor, event_at) on every event table",
		Dependencies: []int{1},
		Forward: `
CREATE INDEX IF NOT EXISTS idx_interaction_marks_natural ON interaction_marks (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_interaction_attributes_natural ON interaction_attributes (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_activity_logs_natural ON activity_logs (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_auth_requests_natural ON auth_requests (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_auth_approvals_natural ON auth_approvals (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_sessions_natural ON sessions (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_invite_usages_natural ON invite_usages (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_security_events_natural ON security_events (entity_id, action, actor, event_at);
CREATE INDEX IF NOT EXISTS idx_notifications_natural ON notifications (entity_id, action, actor, event_at);
`,
		Reverse: `
DROP INDEX IF EXISTS idx_notifications_natural;
DROP INDEX IF EXISTS idx_security_events_natural;
DROP INDEX IF EXISTS idx_invite_usages_natural;
DROP INDEX IF EXISTS idx_sessions_natural;
DROP INDEX IF EXISTS idx_auth_approvals_natural;
DROP INDEX IF EXISTS idx_auth_requests_natural;
DROP INDEX IF EXISTS idx_activity_logs_natural;
DROP INDEX IF EXISTS idx_interaction_attributes_natural;
DROP INDEX IF EXISTS idx_interaction_marks_natural;
`,
		Probe:      Probe{Table: "sessions", Index: "idx_sessions_natural"},
		CostTable:  "activity_logs",
		CostPerRow: 20 * time.Microsecond,
	}
}

// notificationReadAtV3 adds read tracking to notifications.
func notificationReadAtV3() Migration {
	return Migration{
		Version:      3,
		Name:         "notification_read_at",
		Description:  "Add read_at to notifications",
		Dependencies: []int{1},
		Forward:      `ALTER TABLE notifications ADD COLUMN IF NOT EXISTS read_at TIMESTAMP;`,
		Reverse:      `ALTER TABLE notifications DROP COLUMN IF EXISTS read_at;`,
		Probe:        Probe{Table: "notifications", Column: "read_at"},
	}
}
