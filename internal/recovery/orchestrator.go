// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package recovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-board/vigil/internal/archive"
	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/database"
	"github.com/vigil-board/vigil/internal/logging"
)

// stages orders entity types so every foreign key target replays before its
// referrers. Types within a stage are independent and replay concurrently.
var stages = [][]archive.EntityType{
	{archive.EntityUser},
	{archive.EntityInviteToken},
	{archive.EntityPrayer},
	{archive.EntityInteractionMark, archive.EntityInteractionAttribute, archive.EntityActivityLog},
	{
		archive.EntityAuthRequest, archive.EntityAuthApproval,
		archive.EntitySession, archive.EntityInviteUsage,
		archive.EntitySecurityEvent, archive.EntityNotification,
	},
}

// Orchestrator drives a full or resumed replay of the archive into the
// canonical store.
type Orchestrator struct {
	db       *database.DB
	parser   *archive.Parser
	root     string
	ckptPath string
	clk      clock.Clock
}

// NewOrchestrator creates an Orchestrator over the configured archive root.
func NewOrchestrator(db *database.DB, archiveCfg *config.ArchiveConfig, recoveryCfg *config.RecoveryConfig, clk clock.Clock) *Orchestrator {
	if clk == nil {
		clk = clock.System{}
	}
	return &Orchestrator{
		db:       db,
		parser:   archive.NewParser(),
		root:     archiveCfg.Root,
		ckptPath: recoveryCfg.CheckpointPath,
		clk:      clk,
	}
}

// partition is one enumerated archive file.
type partition struct {
	key  string
	path string
}

// Run replays the archive. Cancellation is honored at partition boundaries
// only: a partition that started replaying finishes before the run stops,
// so the checkpoint set never contains half-replayed partitions.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	ckpt, err := openCheckpoints(o.ckptPath)
	if err != nil {
		return nil, err
	}
	defer func() { closeWithLog(ckpt) }()

	prior, err := ckpt.begin(runMeta{StartedAt: o.clk.Now(), Archive: o.root})
	if err != nil {
		return nil, err
	}
	if prior != nil {
		logging.Info().
			Time("interrupted_run", prior.StartedAt).
			Msg("Resuming interrupted recovery run")
	}

	rep := &Report{StartedAt: o.clk.Now()}

	for i, stage := range stages {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range stage {
			g.Go(func() error {
				return o.replayType(gctx, ckpt, t, rep)
			})
		}
		if err := g.Wait(); err != nil {
			rep.FinishedAt = o.clk.Now()
			return rep, fmt.Errorf("recovery stage %d: %w", i+1, err)
		}
	}

	rep.FinishedAt = o.clk.Now()
	if err := ckpt.discard(); err != nil {
		return rep, err
	}
	logging.Info().
		Int("partitions", rep.Partitions).
		Int("resumed", rep.Resumed).
		Int64("inserted", rep.Inserted).
		Int64("matched", rep.Matched).
		Int64("entities", rep.Entities).
		Int("unparsed", len(rep.Unparsed)).
		Int("failed", len(rep.Failed)).
		Msg("Recovery complete")
	return rep, nil
}

// replayType replays every partition of one entity type in lexicographic
// order, which for month buckets is chronological order.
func (o *Orchestrator) replayType(ctx context.Context, ckpt *checkpointStore, t archive.EntityType, rep *Report) error {
	parts, err := o.listPartitions(t)
	if err != nil {
		return err
	}

	for _, p := range parts {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		done, err := ckpt.isDone(t, p.key)
		if err != nil {
			return err
		}
		if done {
			rep.addPartition(true)
			continue
		}

		logging.Debug().Str("entity", string(t)).Str("partition", p.key).Msg("Replaying partition")
		if err := o.importPartition(ctx, t, p.key, p.path, rep); err != nil {
			return fmt.Errorf("replay %s/%s: %w", t, p.key, err)
		}
		if err := ckpt.markDone(t, p.key); err != nil {
			return err
		}
		rep.addPartition(false)
		recordPartition(t)
	}
	return nil
}

// listPartitions enumerates the archive files of one entity type, sorted by
// partition key. A missing directory means no partitions, not an error.
func (o *Orchestrator) listPartitions(t archive.EntityType) ([]partition, error) {
	dir := filepath.Join(o.root, string(t))
	var parts []partition

	if t.PerInstance() {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s partitions: %w", t, err)
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() || !strings.HasSuffix(name, ".txt") || strings.HasPrefix(name, ".") {
				continue
			}
			key := strings.TrimSuffix(name, ".txt")
			parts = append(parts, partition{key: key, path: archive.PartitionPath(o.root, t, key)})
		}
	} else {
		years, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s partitions: %w", t, err)
		}
		for _, y := range years {
			if !y.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(dir, y.Name()))
			if err != nil {
				return nil, fmt.Errorf("list %s/%s partitions: %w", t, y.Name(), err)
			}
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || !strings.HasSuffix(name, ".log") || strings.HasPrefix(name, ".") {
					continue
				}
				key := strings.TrimSuffix(name, ".log")
				parts = append(parts, partition{key: key, path: archive.PartitionPath(o.root, t, key)})
			}
		}
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].key < parts[j].key })
	return parts, nil
}

// closeWithLog closes a resource and logs any error.
func closeWithLog(c *checkpointStore) {
	if err := c.close(); err != nil {
		logging.Warn().Err(err).Msg("Failed to close checkpoint store")
	}
}
