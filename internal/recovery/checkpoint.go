// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package recovery

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/vigil-board/vigil/internal/archive"
)

// checkpointStore persists per-partition completion marks for one replay
// run so an interrupted run can resume. It is scratch state: the store is
// dropped when a run completes, and deleting it by hand merely forces a
// full (still idempotent) replay.
type checkpointStore struct {
	db *badger.DB
}

// runMeta is stored alongside the partition marks so a resumed run can be
// distinguished from a fresh one in logs and reports.
type runMeta struct {
	StartedAt time.Time `json:"started_at"`
	Archive   string    `json:"archive"`
}

const runMetaKey = "run:meta"

func openCheckpoints(path string) (*checkpointStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", path, err)
	}
	return &checkpointStore{db: db}, nil
}

// begin records run metadata if none exists and returns the metadata of the
// run being resumed, or nil for a fresh run.
func (c *checkpointStore) begin(meta runMeta) (*runMeta, error) {
	var prior *runMeta
	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(runMetaKey))
		switch {
		case err == nil:
			return item.Value(func(val []byte) error {
				prior = &runMeta{}
				return json.Unmarshal(val, prior)
			})
		case errors.Is(err, badger.ErrKeyNotFound):
			buf, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			return txn.Set([]byte(runMetaKey), buf)
		default:
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("record run metadata: %w", err)
	}
	return prior, nil
}

func partitionKey(t archive.EntityType, partition string) []byte {
	return []byte("done:" + string(t) + ":" + partition)
}

// markDone records a partition as fully replayed.
func (c *checkpointStore) markDone(t archive.EntityType, partition string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(partitionKey(t, partition), []byte{1})
	})
	if err != nil {
		return fmt.Errorf("checkpoint partition %s/%s: %w", t, partition, err)
	}
	return nil
}

// isDone reports whether a partition was checkpointed by a prior run.
func (c *checkpointStore) isDone(t archive.EntityType, partition string) (bool, error) {
	var done bool
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(partitionKey(t, partition))
		switch {
		case err == nil:
			done = true
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("read checkpoint %s/%s: %w", t, partition, err)
	}
	return done, nil
}

// discard drops all checkpoint state after a successful run.
func (c *checkpointStore) discard() error {
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("discard checkpoints: %w", err)
	}
	return nil
}

func (c *checkpointStore) close() error {
	return c.db.Close()
}
