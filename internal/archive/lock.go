// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockRetryInterval is how often a blocked append re-attempts the advisory
// lock while waiting for the holder to finish its write+fsync.
const lockRetryInterval = 10 * time.Millisecond

// flockExclusive acquires an exclusive advisory lock on f, polling with
// LOCK_NB until the timeout expires. On expiry it fails fast with
// ErrLockTimeout rather than hanging.
func flockExclusive(ctx context.Context, f *os.File, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EAGAIN) {
			return err
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

// funlock releases the advisory lock on f.
func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
