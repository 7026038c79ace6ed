// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/vigil-board/vigil/internal/logging"
)

// ErrLockTimeout is returned when the migration lock cannot be acquired
// within the configured timeout. Retryable by the caller; the holder is
// another process applying or rolling back a version.
var ErrLockTimeout = errors.New("migrate: lock acquisition timed out")

// lockRetryInterval is how often a blocked acquirer re-checks the lock file.
const lockRetryInterval = 100 * time.Millisecond

// fileLock is an exclusive cross-process lock backed by O_EXCL creation of
// the configured lock file. The file records the owner pid so a lock left
// behind by a crashed holder can be detected and broken; without that, the
// crash that strands a version in applying would also strand the lock, and
// the next startup could never resolve the stuck state.
type fileLock struct {
	path  string
	owner string
}

// acquireLock creates the lock file exclusively, retrying until the timeout
// expires, then failing fast with ErrLockTimeout. A lock file whose
// recorded pid is no longer running is removed and re-contended.
func acquireLock(ctx context.Context, path string, timeout time.Duration) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	owner := fmt.Sprintf("%s pid=%d", uuid.New().String(), os.Getpid())
	deadline := time.Now().Add(timeout)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640) //nolint:gosec // G304: path is the configured lock file
		if err == nil {
			_, werr := fmt.Fprintf(f, "%s acquired=%s\n", owner, time.Now().UTC().Format(time.RFC3339))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path) //nolint:errcheck // Best effort release on failed write
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return &fileLock{path: path, owner: owner}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}
		if pid, ok := lockHolderPid(path); ok && !pidAlive(pid) {
			logging.Warn().Int("pid", pid).Str("path", path).Msg("Breaking migration lock left by dead process")
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("break stale lock %s: %w", path, err)
			}
			continue
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// Release removes the lock file.
func (l *fileLock) Release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("path", l.path).Msg("Failed to release migration lock")
	}
}

// lockHolderPid reads the pid recorded in the lock file. A file that
// cannot be read or parsed is treated as live: breaking a lock we do not
// understand is worse than waiting it out.
func lockHolderPid(path string) (int, bool) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the configured lock file
	if err != nil {
		return 0, false
	}
	for _, field := range strings.Fields(string(data)) {
		v, ok := strings.CutPrefix(field, "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return pid, true
	}
	return 0, false
}

// pidAlive probes the process with signal 0. EPERM means the process
// exists under another user, so its lock is still live.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
