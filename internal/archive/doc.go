// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package archive implements Vigil's append-only, human-readable text
// archive, the authoritative source of truth for every persisted entity.
//
// Every mutation in the surrounding application writes to the archive first;
// only after the archive write succeeds may the paired relational write
// proceed (archive-first discipline). The relational store is a rebuildable
// projection of these files.
//
// # Layout
//
// The archive root contains one directory per entity type. High-value
// entities (users, prayers, invite tokens) get one file per instance:
//
//	<root>/prayer/p-1042.txt
//
// High-volume entities are bucketed by month:
//
//	<root>/session/2026/2026-08.log
//
// # Durability
//
// Full-file writes go to a temp file followed by an atomic rename, so a
// reader never observes a half-written file. Appends hold an exclusive
// advisory flock on the target for the duration of write+fsync, so
// concurrent appenders to the same partition serialize while appenders to
// different partitions never block each other.
//
// # Parsing
//
// Parsing is pure and side-effect free. Each entity type's file grammar is
// tried against a primary timestamp format and declared fallbacks; a line
// matching none of them is surfaced as an UnparsedLine finding and counted,
// never silently dropped and never given a guessed timestamp.
package archive
