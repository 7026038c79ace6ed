// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vigil-board/vigil/internal/clock"
	"github.com/vigil-board/vigil/internal/config"
	"github.com/vigil-board/vigil/internal/logging"
)

// Writer durably creates and appends entity state in the text archive.
//
// Writer is safe for concurrent use. Append calls on the same partition
// serialize on a per-file advisory lock held only for the write+fsync
// duration. CreateOrReplace is lock-free (atomic rename), but concurrent
// calls for the same partition key must be externally serialized by the
// caller; last-writer-wins is acceptable there since the content is a
// full-state snapshot, not an event.
type Writer struct {
	cfg *config.ArchiveConfig
	clk clock.Clock
}

// NewWriter creates a Writer. cfg is held by reference so a single config
// object constructed at process start governs all writers.
func NewWriter(cfg *config.ArchiveConfig, clk clock.Clock) *Writer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Writer{cfg: cfg, clk: clk}
}

// Path resolves an entity type and partition key to the archive file path.
// The returned path is what callers persist on the canonical record.
func (w *Writer) Path(t EntityType, partitionKey string) string {
	return PartitionPath(w.cfg.Root, t, partitionKey)
}

// Append durably appends one event line to the partition's file, creating
// it if needed, and returns the resolved path.
//
// The exclusive advisory lock is held across write+flush+fsync so callers
// never observe interleaved bytes from concurrent appenders. A filesystem
// failure is returned as *IOError and must be treated as fatal to the
// triggering operation: the paired relational write must not proceed.
func (w *Writer) Append(ctx context.Context, t EntityType, partitionKey string, ev Event) (string, error) {
	if !w.cfg.Enabled {
		return "", ErrArchivingDisabled
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}

	ev.Entity = t
	if ev.EntityID == "" && t.PerInstance() {
		ev.EntityID = partitionKey
	}
	if ev.EntityID == "" {
		return "", fmt.Errorf("archive append %s/%s: event has no entity id", t, partitionKey)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = NewArchiveTime(w.clk.Now())
	}
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("archive append %s/%s: %w", t, partitionKey, err)
	}

	start := time.Now()
	path := w.Path(t, partitionKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", &IOError{Op: "mkdir", Path: filepath.Dir(path), Err: err}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) //nolint:gosec // G304: path is derived from the configured archive root
	if err != nil {
		return "", &IOError{Op: "open", Path: path, Err: err}
	}
	defer closeQuietly(f)

	if err := flockExclusive(ctx, f, w.cfg.LockTimeout); err != nil {
		return "", err
	}
	defer func() {
		if err := funlock(f); err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Failed to release archive lock")
		}
	}()

	if _, err := f.WriteString(renderEventLine(ev) + "\n"); err != nil {
		return "", &IOError{Op: "append", Path: path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return "", &IOError{Op: "fsync", Path: path, Err: err}
	}

	recordAppend(time.Since(start).Seconds())
	logging.Debug().
		Str("entity", string(t)).
		Str("partition", partitionKey).
		Str("action", ev.Action).
		Msg("Archive event appended")

	return path, nil
}

// CreateOrReplace atomically writes a partition's full content and returns
// the resolved path. The content is written to a temp file in the target
// directory, flushed, then renamed over the final path, so a crash at any
// point leaves the target either absent or unchanged, never half-written.
func (w *Writer) CreateOrReplace(ctx context.Context, t EntityType, partitionKey string, doc *Document) (string, error) {
	if !w.cfg.Enabled {
		return "", ErrArchivingDisabled
	}
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntityType, t)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var content string
	if t.PerInstance() {
		if err := doc.Validate(); err != nil {
			return "", fmt.Errorf("archive create %s/%s: %w", t, partitionKey, err)
		}
		for i := range doc.Events {
			doc.Events[i].Entity = t
			if doc.Events[i].EntityID == "" {
				doc.Events[i].EntityID = doc.ID()
			}
			if err := doc.Events[i].Validate(); err != nil {
				return "", fmt.Errorf("archive create %s/%s: %w", t, partitionKey, err)
			}
		}
		content = renderDocument(doc)
	} else {
		// Bucketed partitions have no header; a full-state write is just
		// the complete event section.
		var b []byte
		for i := range doc.Events {
			doc.Events[i].Entity = t
			if err := doc.Events[i].Validate(); err != nil {
				return "", fmt.Errorf("archive create %s/%s: %w", t, partitionKey, err)
			}
			b = append(b, renderEventLine(doc.Events[i])...)
			b = append(b, '\n')
		}
		content = string(b)
	}

	start := time.Now()
	path := w.Path(t, partitionKey)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+partitionKey+"-*")
	if err != nil {
		return "", &IOError{Op: "create", Path: dir, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // Best effort cleanup; gone after a successful rename

	if _, err := tmp.WriteString(content); err != nil {
		closeQuietly(tmp)
		return "", &IOError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		closeQuietly(tmp)
		return "", &IOError{Op: "fsync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &IOError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return "", &IOError{Op: "chmod", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", &IOError{Op: "rename", Path: path, Err: err}
	}
	if err := syncDir(dir); err != nil {
		// The rename already happened; surface the weaker durability but
		// do not fail the write.
		logging.Warn().Err(err).Str("dir", dir).Msg("Failed to fsync archive directory")
	}

	recordCreate(time.Since(start).Seconds())
	logging.Debug().
		Str("entity", string(t)).
		Str("partition", partitionKey).
		Msg("Archive partition written")

	return path, nil
}

// syncDir fsyncs a directory so a completed rename survives power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: dir is derived from the configured archive root
	if err != nil {
		return err
	}
	defer closeQuietly(d)
	return d.Sync()
}

// closeQuietly closes a file and explicitly ignores the error. Used in
// cleanup paths where a close failure is not actionable.
func closeQuietly(f *os.File) {
	if f != nil {
		_ = f.Close() //nolint:errcheck // Cleanup is best-effort
	}
}
