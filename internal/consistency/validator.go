// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package consistency compares the text archive against the canonical
// store and reports divergence. It never repairs: repair is a recovery
// replay, run deliberately by an operator.
package consistency

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vigil-board/vigil/internal/archive"
	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/database"
)

// Divergence kinds.
const (
	// KindArchiveWithoutRow: an archive file exists with no matching row.
	KindArchiveWithoutRow = "archive_without_row"

	// KindRowWithoutPath: a durable row carries no archive path, so its
	// archive write was skipped or lost.
	KindRowWithoutPath = "row_without_archive_path"

	// KindDanglingPath: a row references an archive file that no longer
	// exists on disk.
	KindDanglingPath = "dangling_archive_path"

	// KindEventWithoutRow: an archived event line has no store row under
	// its natural key.
	KindEventWithoutRow = "archived_event_missing_row"
)

// Divergence is one archive/store disagreement.
type Divergence struct {
	Kind   string             `json:"kind"`
	Entity archive.EntityType `json:"entity"`
	Table  string             `json:"table"`
	ID     string             `json:"id,omitempty"`
	Path   string             `json:"path,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

// DivergenceReport is the outcome of one validation pass.
type DivergenceReport struct {
	CheckedAt time.Time    `json:"checked_at"`
	Findings  []Divergence `json:"findings,omitempty"`

	// Unparsed lists archive lines the pass could not interpret; they are
	// reported, not compared.
	Unparsed []archive.UnparsedLine `json:"unparsed,omitempty"`
}

// Consistent reports whether the pass found no divergence.
func (r *DivergenceReport) Consistent() bool {
	return len(r.Findings) == 0 && len(r.Unparsed) == 0
}

func (r *DivergenceReport) add(d Divergence) {
	r.Findings = append(r.Findings, d)
}

// entityTableFor maps per-instance entity types to their tables.
var entityTableFor = map[archive.EntityType]string{
	archive.EntityUser:        "users",
	archive.EntityPrayer:      "prayers",
	archive.EntityInviteToken: "invite_tokens",
}

// eventTableFor maps month-bucketed entity types to their tables.
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

// Validator performs read-only archive/store comparison.
type Validator struct {
	db     *database.DB
	parser *archive.Parser
	root   string
	clk    clock.Clock
}

// NewValidator creates a Validator over the configured archive root.
func NewValidator(db *database.DB, archiveCfg *config.ArchiveConfig, clk clock.Clock) *Validator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Validator{
		db:     db,
		parser: archive.NewParser(),
		root:   archiveCfg.Root,
		clk:    clk,
	}
}

// Validate runs one full comparison pass.
func (v *Validator) Validate(ctx context.Context) (*DivergenceReport, error) {
	rep := &DivergenceReport{CheckedAt: v.clk.Now()}

	for _, t := range archive.AllEntityTypes() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := v.check(ctx, t, rep); err != nil {
			return nil, err
		}
	}

	recordRun(rep)
	return rep, nil
}

// ValidateEntity runs a comparison pass scoped to a single entity type.
// Scoped passes do not touch the divergence gauges; only the full pass
// represents the whole archive.
func (v *Validator) ValidateEntity(ctx context.Context, t archive.EntityType) (*DivergenceReport, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", archive.ErrUnknownEntityType, t)
	}
	rep := &DivergenceReport{CheckedAt: v.clk.Now()}
	if err := v.check(ctx, t, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (v *Validator) check(ctx context.Context, t archive.EntityType, rep *DivergenceReport) error {
	if t.PerInstance() {
		return v.checkEntityType(ctx, t, rep)
	}
	return v.checkEventType(ctx, t, rep)
}

// checkEntityType reconciles one per-instance type in both directions and
// verifies recorded archive paths still resolve.
func (v *Validator) checkEntityType(ctx context.Context, t archive.EntityType, rep *DivergenceReport) error {
	table := entityTableFor[t]

	archived, err := v.listInstanceIDs(t)
	if err != nil {
		return err
	}
	stored, err := v.db.EntityIDs(ctx, table)
	if err != nil {
		return err
	}

	for _, id := range archived {
		if !stored[id] {
			rep.add(Divergence{
				Kind: KindArchiveWithoutRow, Entity: t, Table: table,
				ID: id, Path: archive.PartitionPath(v.root, t, id),
			})
		}
	}

	missing, err := v.db.RowsMissingArchivePath(ctx, table)
	if err != nil {
		return err
	}
	for _, id := range missing {
		rep.add(Divergence{Kind: KindRowWithoutPath, Entity: t, Table: table, ID: id})
	}

	return v.checkPaths(ctx, t, table, rep)
}

// checkEventType verifies every parseable archived event has a store row,
// flags rows missing their path, and verifies recorded paths resolve.
func (v *Validator) checkEventType(ctx context.Context, t archive.EntityType, rep *DivergenceReport) error {
	table := eventTableFor[t]

	partitions, err := v.listPartitionPaths(t)
	if err != nil {
		return err
	}
	for _, path := range partitions {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc, err := v.parser.Parse(t, path)
		if err != nil {
			return err
		}
		for sc.Next() {
			ev := sc.Event()
			exists, err := v.db.EventRowExists(ctx, table, ev.EntityID, ev.Actor, ev.Action, ev.Timestamp.Time())
			if err != nil {
				sc.Close() //nolint:errcheck,gosec // Read-only scanner
				return err
			}
			if !exists {
				rep.add(Divergence{
					Kind: KindEventWithoutRow, Entity: t, Table: table,
					ID: ev.EntityID, Path: path,
					Detail: ev.Actor + " " + ev.Action + " at " + ev.Timestamp.String(),
				})
			}
		}
		rep.Unparsed = append(rep.Unparsed, sc.Unparsed()...)
		scanErr := sc.Err()
		if err := sc.Close(); err != nil && scanErr == nil {
			scanErr = err
		}
		if scanErr != nil {
			return scanErr
		}
	}

	missing, err := v.db.RowsMissingArchivePath(ctx, table)
	if err != nil {
		return err
	}
	for _, id := range missing {
		rep.add(Divergence{Kind: KindRowWithoutPath, Entity: t, Table: table, ID: id})
	}

	return v.checkPaths(ctx, t, table, rep)
}

// checkPaths flags rows referencing archive files that no longer exist.
func (v *Validator) checkPaths(ctx context.Context, t archive.EntityType, table string, rep *DivergenceReport) error {
	paths, err := v.db.ArchivePaths(ctx, table)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			rep.add(Divergence{Kind: KindDanglingPath, Entity: t, Table: table, Path: p})
		} else if err != nil {
			return err
		}
	}
	return nil
}

// listInstanceIDs enumerates per-instance archive ids from filenames.
func (v *Validator) listInstanceIDs(t archive.EntityType) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(v.root, string(t)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") || strings.HasPrefix(name, ".") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".txt"))
	}
	sort.Strings(ids)
	return ids, nil
}

// listPartitionPaths enumerates month-bucket partition files in key order.
func (v *Validator) listPartitionPaths(t archive.EntityType) ([]string, error) {
	dir := filepath.Join(v.root, string(t))
	years, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(dir, y.Name()))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".log") || strings.HasPrefix(name, ".") {
				continue
			}
			paths = append(paths, filepath.Join(dir, y.Name(), name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}
