// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package database

import "strings"

// IsConstraintViolation reports whether err is a DuckDB constraint failure
// (foreign key, primary key, NOT NULL). The driver does not expose typed
// errors, so this matches the engine's error text.
func IsConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint error") ||
		strings.Contains(msg, "violates") ||
		strings.Contains(msg, "foreign key") ||
		strings.Contains(msg, "duplicate key")
}
