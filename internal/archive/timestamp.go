// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"fmt"
	"time"
)

// Archive files carry human-readable, minute-precision timestamps. The
// relational store carries second precision. The two precisions are kept as
// distinct types so that matching code cannot accidentally compare them
// with strict equality: ArchiveTime.Matches truncates the store-side value
// to the minute before comparing.

// timeFormatPrimary is the canonical archived timestamp format.
const timeFormatPrimary = "2 January 2006 at 15:04"

// timeFormats lists the primary format followed by declared fallbacks, in
// the order they are tried during parsing. Older archives used the ISO and
// 12-hour forms.
var timeFormats = []string{
	timeFormatPrimary,
	"2006-01-02 15:04",
	"Jan 2, 2006 at 3:04PM",
}

// ArchiveTime is a minute-precision timestamp as stored in archive files.
// The zero value is "no timestamp".
type ArchiveTime struct {
	t time.Time
}

// NewArchiveTime truncates t to the minute in UTC.
func NewArchiveTime(t time.Time) ArchiveTime {
	return ArchiveTime{t: t.UTC().Truncate(time.Minute)}
}

// Time returns the underlying minute-truncated UTC time.
func (a ArchiveTime) Time() time.Time { return a.t }

// IsZero reports whether the timestamp is unset.
func (a ArchiveTime) IsZero() bool { return a.t.IsZero() }

// Matches reports whether a store-side, second-precision timestamp denotes
// the same logical instant. The store value is truncated to the minute
// before comparison; strict equality across the two precisions would
// produce spurious duplicates on replay.
func (a ArchiveTime) Matches(storeTime time.Time) bool {
	return a.t.Equal(storeTime.UTC().Truncate(time.Minute))
}

// Equal reports whether two archive timestamps denote the same minute.
func (a ArchiveTime) Equal(b ArchiveTime) bool { return a.t.Equal(b.t) }

// String renders the timestamp in the primary archived format.
func (a ArchiveTime) String() string {
	return a.t.Format(timeFormatPrimary)
}

// ParseArchiveTime parses s against the primary format and then each
// declared fallback. It returns an error when no format matches; callers
// surface that as an UnparsedLine rather than guessing a timestamp.
func ParseArchiveTime(s string) (ArchiveTime, error) {
	for _, layout := range timeFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return NewArchiveTime(t), nil
		}
	}
	return ArchiveTime{}, fmt.Errorf("timestamp %q matches no known format", s)
}
