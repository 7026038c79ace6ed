// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package recovery

import (
	"sync"
	"time"

	"github.com/vigil-board/vigil/internal/archive"
)

// Failure records one event or document that could not be projected even
// after placeholder resolution. The archive line itself is untouched.
type Failure struct {
	Entity    archive.EntityType `json:"entity"`
	Partition string             `json:"partition"`
	Path      string             `json:"path"`
	Reason    string             `json:"reason"`
}

// Report summarizes one replay run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Partitions is the number of partitions replayed this run; Resumed is
	// the number skipped because a prior interrupted run had checkpointed
	// them.
	Partitions int `json:"partitions"`
	Resumed    int `json:"resumed"`

	// Inserted counts rows newly created; Matched counts archived events
	// that found an existing row under the natural key.
	Inserted int64 `json:"inserted"`
	Matched  int64 `json:"matched"`

	// Entities counts per-instance documents projected.
	Entities int64 `json:"entities"`

	// Placeholders lists user ids lazily created to satisfy forward
	// references.
	Placeholders []string `json:"placeholders,omitempty"`

	// Unparsed lists archive lines that could not be interpreted. They are
	// skipped, never guessed at.
	Unparsed []archive.UnparsedLine `json:"unparsed,omitempty"`

	// Failed lists events that still violated a constraint after one
	// placeholder retry.
	Failed []Failure `json:"failed,omitempty"`

	mu sync.Mutex
}

func (r *Report) addPartition(resumed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resumed {
		r.Resumed++
		return
	}
	r.Partitions++
}

func (r *Report) addRow(inserted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inserted {
		r.Inserted++
		return
	}
	r.Matched++
}

func (r *Report) addEntity() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entities++
}

func (r *Report) addPlaceholder(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Placeholders = append(r.Placeholders, id)
}

func (r *Report) addUnparsed(lines []archive.UnparsedLine) {
	if len(lines) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Unparsed = append(r.Unparsed, lines...)
}

func (r *Report) addFailure(f Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failed = append(r.Failed, f)
}

// Clean reports whether the run completed without unparsed lines or
// projection failures.
func (r *Report) Clean() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Unparsed) == 0 && len(r.Failed) == 0
}
