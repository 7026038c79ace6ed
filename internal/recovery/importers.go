// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package recovery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vigil-board/vigil/internal/archive"
	"github.com/vigil-board/vigil/internal/database"
)

// eventTableFor maps each month-bucketed entity type to its canonical
// table. The set is closed; recovery never dispatches on arbitrary strings.
var eventTableFor = map[archive.EntityType]string{
	archive.EntityInteractionMark:      "interaction_marks",
	archive.EntityInteractionAttribute: "interaction_attributes",
	archive.EntityActivityLog:          "activity_logs",
	archive.EntityAuthRequest:          "auth_requests",
	archive.EntityAuthApproval:         "auth_approvals",
	archive.EntitySession:              "sessions",
	archive.EntityInviteUsage:          "invite_usages",
	archive.EntitySecurityEvent:        "security_events",
	archive.EntityNotification:         "notifications",
}

// importPartition replays one partition file into the store.
func (o *Orchestrator) importPartition(ctx context.Context, t archive.EntityType, partition, path string, rep *Report) error {
	if t.PerInstance() {
		return o.importDocument(ctx, t, partition, path, rep)
	}
	return o.importEvents(ctx, t, partition, path, rep)
}

// importDocument projects a per-instance archive file into its entity row.
// The file's event section is contextual and not separately projected.
func (o *Orchestrator) importDocument(ctx context.Context, t archive.EntityType, partition, path string, rep *Report) error {
	doc, unparsed, err := o.parser.ParseDocument(t, path)
	rep.addUnparsed(unparsed)
	if err != nil {
		rep.addFailure(Failure{Entity: t, Partition: partition, Path: path, Reason: err.Error()})
		return nil
	}

	upsert, err := o.documentUpsert(t, doc, path)
	if err != nil {
		rep.addFailure(Failure{Entity: t, Partition: partition, Path: path, Reason: err.Error()})
		return nil
	}

	if err := upsert(ctx); err != nil {
		if !database.IsConstraintViolation(err) {
			return err
		}
		// A forward reference to a user whose archive has not replayed
		// yet. Create a placeholder row and retry once; the real record
		// overwrites it in a later stage or run.
		ref := referencedUser(t, doc)
		if ref == "" {
			rep.addFailure(Failure{Entity: t, Partition: partition, Path: path, Reason: err.Error()})
			return nil
		}
		if err := o.db.CreatePlaceholderUser(ctx, ref, o.clk.Now()); err != nil {
			return err
		}
		rep.addPlaceholder(ref)
		recordPlaceholder()
		// A failure that survives the retry aborts the partition: it is
		// never checkpointed as done, so the next run resumes right here.
		if err := upsert(ctx); err != nil {
			rep.addFailure(Failure{Entity: t, Partition: partition, Path: path, Reason: err.Error()})
			return fmt.Errorf("%s %s after placeholder retry: %w", t, doc.ID(), err)
		}
	}
	rep.addEntity()
	return nil
}

// documentUpsert builds the store write for one per-instance document.
func (o *Orchestrator) documentUpsert(t archive.EntityType, doc *archive.Document, path string) (func(context.Context) error, error) {
	archivePath := sql.NullString{String: path, Valid: true}

	switch t {
	case archive.EntityUser:
		registered, err := archive.ParseArchiveTime(doc.MetaValue("Registered"))
		if err != nil {
			return nil, fmt.Errorf("user %s: bad Registered header: %w", doc.ID(), err)
		}
		u := database.User{
			ID:           doc.ID(),
			Name:         doc.MetaValue("Name"),
			RegisteredAt: registered.Time(),
			ArchivePath:  archivePath,
		}
		if u.Name == "" {
			return nil, fmt.Errorf("user %s: missing Name header", doc.ID())
		}
		return func(ctx context.Context) error { return o.db.UpsertUser(ctx, u) }, nil

	case archive.EntityPrayer:
		submitted, err := archive.ParseArchiveTime(doc.MetaValue("Submitted"))
		if err != nil {
			return nil, fmt.Errorf("prayer %s: bad Submitted header: %w", doc.ID(), err)
		}
		p := database.Prayer{
			ID:          doc.ID(),
			AuthorID:    doc.MetaValue("Author"),
			Category:    doc.MetaValue("Category"),
			Body:        doc.Body,
			SubmittedAt: submitted.Time(),
			ArchivePath: archivePath,
		}
		if p.AuthorID == "" {
			return nil, fmt.Errorf("prayer %s: missing Author header", doc.ID())
		}
		return func(ctx context.Context) error { return o.db.UpsertPrayer(ctx, p) }, nil

	case archive.EntityInviteToken:
		created, err := archive.ParseArchiveTime(doc.MetaValue("Created"))
		if err != nil {
			return nil, fmt.Errorf("invite token %s: bad Created header: %w", doc.ID(), err)
		}
		tok := database.InviteToken{
			ID:          doc.ID(),
			IssuerID:    doc.MetaValue("Issuer"),
			CreatedAt:   created.Time(),
			Revoked:     doc.MetaValue("Revoked") == "true",
			ArchivePath: archivePath,
		}
		if tok.IssuerID == "" {
			return nil, fmt.Errorf("invite token %s: missing Issuer header", doc.ID())
		}
		return func(ctx context.Context) error { return o.db.UpsertInviteToken(ctx, tok) }, nil
	}
	return nil, fmt.Errorf("entity type %q has no document projection", t)
}

// referencedUser returns the user id a per-instance document references,
// for placeholder creation on a foreign key violation.
func referencedUser(t archive.EntityType, doc *archive.Document) string {
	switch t {
	case archive.EntityPrayer:
		return doc.MetaValue("Author")
	case archive.EntityInviteToken:
		return doc.MetaValue("Issuer")
	}
	return ""
}

// importEvents replays one month-bucketed partition, one event row per
// parseable line.
func (o *Orchestrator) importEvents(ctx context.Context, t archive.EntityType, partition, path string, rep *Report) error {
	table, ok := eventTableFor[t]
	if !ok {
		return fmt.Errorf("entity type %q has no event table", t)
	}

	sc, err := o.parser.Parse(t, path)
	if err != nil {
		return err
	}
	defer sc.Close() //nolint:errcheck // Read-only scanner

	for sc.Next() {
		ev := sc.Event()
		row := database.EventRow{
			EntityID:    ev.EntityID,
			Actor:       ev.Actor,
			Action:      ev.Action,
			Detail:      ev.Detail,
			EventAt:     ev.Timestamp.Time(),
			ArchivePath: sql.NullString{String: path, Valid: true},
		}

		inserted, err := o.db.UpsertEventRow(ctx, table, row)
		if err != nil {
			if !database.IsConstraintViolation(err) {
				return err
			}
			if err := o.db.CreatePlaceholderUser(ctx, ev.Actor, o.clk.Now()); err != nil {
				return err
			}
			rep.addPlaceholder(ev.Actor)
			recordPlaceholder()
			inserted, err = o.db.UpsertEventRow(ctx, table, row)
			// Same escalation as importDocument: a post-retry failure must
			// keep the partition out of the checkpoint set.
			if err != nil {
				rep.addFailure(Failure{Entity: t, Partition: partition, Path: path, Reason: err.Error()})
				return fmt.Errorf("event %s %s after placeholder retry: %w", ev.Actor, ev.Action, err)
			}
		}
		rep.addRow(inserted)
		recordRow(inserted)
	}
	rep.addUnparsed(sc.Unparsed())
	return sc.Err()
}
