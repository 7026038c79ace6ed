// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrLockTimeout is returned when the per-file advisory lock cannot be
	// acquired within the configured timeout. Retryable by the caller.
	ErrLockTimeout = errors.New("archive: lock acquisition timed out")

	// ErrArchivingDisabled is returned by write operations when archiving
	// is disabled by configuration.
	ErrArchivingDisabled = errors.New("archive: archiving disabled by configuration")

	// ErrUnknownEntityType is returned for entity types outside the
	// closed set.
	ErrUnknownEntityType = errors.New("archive: unknown entity type")
)

// IOError wraps a filesystem failure during a durable archive write. It is
// fatal to the triggering operation: under the archive-first discipline the
// paired relational write must not proceed.
type IOError struct {
	Op   string // "append", "create", "rename", "fsync", ...
	Path string
	Err  error
}

// Error implements the error interface.
func (e *IOError) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *IOError) Unwrap() error { return e.Err }

// ParseError wraps a structural failure reading an archive file (as opposed
// to a single malformed line, which is an UnparsedLine finding).
type ParseError struct {
	Path string
	Line int
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("archive parse %s:%d: %v", e.Path, e.Line, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// UnparsedLine records a line that matched no declared grammar or timestamp
// format. It is a finding, not an error: recovery logs it, counts it, and
// skips the line. Data is never silently dropped and never assigned a
// guessed timestamp.
type UnparsedLine struct {
	Path   string
	LineNo int
	Text   string
	Reason string
}

// String implements fmt.Stringer.
func (u UnparsedLine) String() string {
	return fmt.Sprintf("%s:%d: %s (%s)", u.Path, u.LineNo, u.Text, u.Reason)
}
