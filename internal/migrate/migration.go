// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package migrate

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MigrationStatus is the lifecycle state of one version in the bookkeeping
// table. A version with no row (or a rolled_back row) is pending.
type MigrationStatus string

const (
	StatusPending     MigrationStatus = "pending"
	StatusValidating  MigrationStatus = "validating"
	StatusApplying    MigrationStatus = "applying"
	StatusApplied     MigrationStatus = "applied"
	StatusRollingBack MigrationStatus = "rolling_back"
	StatusRolledBack  MigrationStatus = "rolled_back"
)

// Probe describes how to detect whether a migration's structural effects
// are visible in the live schema, without re-running the script. Used to
// resolve versions found stuck in the applying state after a crash.
type Probe struct {
	// Table must exist.
	Table string

	// Column, when set, must exist on Table.
	Column string

	// Index, when set, must exist.
	Index string
}

// Migration is one versioned, uniquely identified structural change.
// Migrations are authored at development time and never mutated after any
// deployment has applied them.
type Migration struct {
	Version      int
	Name         string
	Description  string
	Dependencies []int

	// Forward alters structure only. Statements that delete or rewrite
	// rows are rejected during validation.
	Forward string

	// Reverse restores the pre-apply structure.
	Reverse string

	// Probe detects whether Forward's effects are visible.
	Probe Probe

	// CostTable and CostPerRow drive the apply-duration estimate used for
	// maintenance-mode gating; zero values mean "fast, no estimate".
	CostTable  string
	CostPerRow time.Duration
}

// forbiddenForward lists row-mutating constructs that must never appear in
// a structural script.
var forbiddenForward = []string{"delete from", "truncate", "update ", "drop database"}

// validateStructureOnly rejects forward scripts that could destroy rows.
func (m Migration) validateStructureOnly() error {
	script := strings.ToLower(m.Forward)
	for _, kw := range forbiddenForward {
		if strings.Contains(script, kw) {
			return fmt.Errorf("migration v%d (%s): forward script contains row-mutating statement %q; use the data-migration path", m.Version, m.Name, strings.TrimSpace(kw))
		}
	}
	return nil
}

// DependencyError reports an ordering violation: applying a version whose
// dependencies are not all applied, or rolling back a version that applied
// versions still depend on.
type DependencyError struct {
	Version int
	// Missing holds unapplied dependencies on apply; on rollback it holds
	// the applied dependents blocking the reverse.
	Missing  []int
	Rollback bool
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if e.Rollback {
		return fmt.Sprintf("migration v%d: applied versions %v still depend on it", e.Version, e.Missing)
	}
	return fmt.Sprintf("migration v%d: dependencies %v not applied", e.Version, e.Missing)
}

// topoOrder returns the migrations sorted so every version follows its
// dependencies, breaking ties by version number for stability.
func topoOrder(migrations []Migration) ([]Migration, error) {
	byVersion := make(map[int]Migration, len(migrations))
	for _, m := range migrations {
		if _, dup := byVersion[m.Version]; dup {
			return nil, fmt.Errorf("duplicate migration version %d", m.Version)
		}
		byVersion[m.Version] = m
	}

	indegree := make(map[int]int, len(migrations))
	dependents := make(map[int][]int)
	for _, m := range migrations {
		indegree[m.Version] += 0
		for _, dep := range m.Dependencies {
			if _, ok := byVersion[dep]; !ok {
				return nil, fmt.Errorf("migration v%d depends on unknown version %d", m.Version, dep)
			}
			indegree[m.Version]++
			dependents[dep] = append(dependents[dep], m.Version)
		}
	}

	var ready []int
	for v, deg := range indegree {
		if deg == 0 {
			ready = append(ready, v)
		}
	}
	sort.Ints(ready)

	ordered := make([]Migration, 0, len(migrations))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byVersion[v])
		for _, dep := range dependents[v] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}
	if len(ordered) != len(migrations) {
		return nil, fmt.Errorf("migration dependency cycle detected")
	}
	return ordered, nil
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
