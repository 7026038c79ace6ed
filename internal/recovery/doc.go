// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package recovery rebuilds the canonical relational store from the text
// archive. The archive is authoritative: the database is a disposable
// projection, and a full replay from an empty database must converge to the
// same state as the live system had.
//
// Replay proceeds in dependency stages so referential integrity holds
// mid-run: users first, then invite tokens and prayers (which reference
// users), then the month-bucketed event partitions. Entity types within a
// stage replay concurrently; ordering is only guaranteed across stages.
//
// Per-instance files project one entity row each. Their appended event
// sections are contextual copies kept for human reading; the authoritative
// event replay comes from the month-bucketed partitions.
//
// Every upsert is idempotent under the natural key (entity id, action,
// actor, minute-truncated timestamp), so interrupting and restarting a
// replay, or replaying over a live database, never duplicates rows.
// Completed partitions are checkpointed in a scratch store so a restarted
// run resumes where it stopped; the checkpoints are discarded when the run
// finishes.
package recovery
