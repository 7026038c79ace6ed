// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// EntityType identifies one of the fixed set of archived entity kinds.
// The set is closed: the recovery orchestrator iterates a static,
// exhaustively matched list rather than dispatching on arbitrary strings.
type EntityType string

const (
	EntityUser                 EntityType = "user"
	EntityPrayer               EntityType = "prayer"
	EntityInteractionMark      EntityType = "interaction-mark"
	EntityInteractionAttribute EntityType = "interaction-attribute"
	EntityActivityLog          EntityType = "activity-log"
	EntityAuthRequest          EntityType = "auth-request"
	EntityAuthApproval         EntityType = "auth-approval"
	EntitySession              EntityType = "session"
	EntityInviteToken          EntityType = "invite-token"
	EntityInviteUsage          EntityType = "invite-usage"
	EntitySecurityEvent        EntityType = "security-event"
	EntityNotification         EntityType = "notification"
)

// AllEntityTypes returns every valid entity type in declaration order.
func AllEntityTypes() []EntityType {
	return []EntityType{
		EntityUser,
		EntityPrayer,
		EntityInteractionMark,
		EntityInteractionAttribute,
		EntityActivityLog,
		EntityAuthRequest,
		EntityAuthApproval,
		EntitySession,
		EntityInviteToken,
		EntityInviteUsage,
		EntitySecurityEvent,
		EntityNotification,
	}
}

// Valid reports whether t is a member of the closed entity-type set.
func (t EntityType) Valid() bool {
	switch t {
	case EntityUser, EntityPrayer, EntityInteractionMark,
		EntityInteractionAttribute, EntityActivityLog, EntityAuthRequest,
		EntityAuthApproval, EntitySession, EntityInviteToken,
		EntityInviteUsage, EntitySecurityEvent, EntityNotification:
		return true
	}
	return false
}

// PerInstance reports whether t archives one file per entity instance.
// High-value entities get per-instance files; everything else is bucketed
// by month.
func (t EntityType) PerInstance() bool {
	switch t {
	case EntityUser, EntityPrayer, EntityInviteToken:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (t EntityType) String() string { return string(t) }

// MonthPartitionKey returns the time-bucket partition key for a bucketed
// entity type, e.g. "2026-08".
func MonthPartitionKey(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}

// PartitionPath resolves a partition key to its archive file path relative
// to the archive root. Per-instance partitions live directly under the
// entity-type directory; month buckets get a year subdirectory.
func PartitionPath(root string, t EntityType, key string) string {
	if t.PerInstance() {
		return filepath.Join(root, string(t), key+".txt")
	}
	year := key
	if i := strings.IndexByte(key, '-'); i > 0 {
		year = key[:i]
	}
	return filepath.Join(root, string(t), year, key+".log")
}

// Event is one archived event line in typed form.
type Event struct {
	// Entity is the entity type the event belongs to.
	Entity EntityType

	// EntityID identifies the affected entity. For per-instance files it
	// defaults to the file's Id header when the event line carries no
	// explicit target.
	EntityID string

	// Actor is the user (or "system") that performed the action.
	Actor string

	// Action is the single-word verb, e.g. "submitted", "prayed",
	// "registered", "revoked".
	Action string

	// Detail is optional free text following the action.
	Detail string

	// Timestamp is minute precision, as archived.
	Timestamp ArchiveTime
}

// NaturalKey returns the business identity used for idempotent replay:
// entity id + action + actor + coarse (minute) timestamp. Replaying the
// same archived event any number of times yields the same key, including
// against store rows that carry second precision.
func (e Event) NaturalKey() string {
	return e.EntityID + "|" + e.Action + "|" + e.Actor + "|" +
		strconv.FormatInt(e.Timestamp.Time().Unix(), 10)
}

// Validate checks the event renders to exactly one well-formed archive
// line. Token fields (actor, action, entity id) must be single tokens;
// the free-text detail may contain anything except a line break. Anything
// looser would let caller-supplied text forge extra event lines or shift
// the token positions on parse.
func (e Event) Validate() error {
	if e.Actor == "" || e.Action == "" {
		return fmt.Errorf("event missing actor or action")
	}
	for _, tok := range []struct{ name, value string }{
		{"actor", e.Actor},
		{"action", e.Action},
		{"entity id", e.EntityID},
	} {
		if strings.ContainsAny(tok.value, " \t\r\n") {
			return fmt.Errorf("event %s %q contains whitespace", tok.name, tok.value)
		}
	}
	if strings.ContainsAny(e.Detail, "\r\n") {
		return fmt.Errorf("event detail %q contains a line break", e.Detail)
	}
	return nil
}

// MetaField is one "Key: value" header line of a per-instance file.
type MetaField struct {
	Key   string
	Value string
}

// Document is the typed form of a per-instance archive file: a free-text
// submission line, metadata header, free-text body, and the appended event
// section.
type Document struct {
	// Submission is the free-text first line, e.g.
	// "Submitted by alice on 12 March 2026 at 14:05".
	Submission string

	// Meta holds the ordered header fields. The "Id" field is mandatory.
	Meta []MetaField

	// Body is the free-text content block.
	Body string

	// Events is the appended event section in file order.
	Events []Event
}

// ID returns the document's Id header, or "".
func (d *Document) ID() string {
	return d.MetaValue("Id")
}

// MetaValue returns the first header value for key, or "".
func (d *Document) MetaValue(key string) string {
	for _, f := range d.Meta {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// SetMeta replaces the first header field with the given key, or appends it.
func (d *Document) SetMeta(key, value string) {
	for i, f := range d.Meta {
		if f.Key == key {
			d.Meta[i].Value = value
			return
		}
	}
	d.Meta = append(d.Meta, MetaField{Key: key, Value: value})
}

// Validate checks the document is renderable: an Id header, a single-line
// submission, and no header keys or values containing line breaks.
func (d *Document) Validate() error {
	if d.ID() == "" {
		return fmt.Errorf("document missing Id header")
	}
	if strings.ContainsRune(d.Submission, '\n') {
		return fmt.Errorf("submission line contains newline")
	}
	for _, f := range d.Meta {
		if strings.ContainsAny(f.Key, ":\n") {
			return fmt.Errorf("invalid header key %q", f.Key)
		}
		if strings.ContainsRune(f.Value, '\n') {
			return fmt.Errorf("header value for %q contains newline", f.Key)
		}
	}
	return nil
}
