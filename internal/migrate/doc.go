// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

// Package migrate versions and applies the canonical store's schema,
// independently of data, across deployments.
//
// Each migration carries a forward script, a reverse script, a declared set
// of dependency versions, and an introspection probe. The applied set is
// kept prefix-closed over the dependency graph: a version is never applied
// unless all of its dependencies are applied, and never rolled back while
// an applied version depends on it.
//
// Forward scripts alter structure only (columns, indexes, tables). They are
// never the mechanism that deletes rows, so a routine deployment cannot
// destroy user data. Data transformations go through the separate,
// explicitly invoked data-migration path, which refuses to touch the
// sessions table so a migration can never invalidate live sessions.
//
// Apply and rollback run under an exclusive lock file. If startup finds a
// version stuck in the applying state (crash before completion), the
// manager probes the schema to determine whether the forward script's
// effects are visible and either completes the bookkeeping or rolls back;
// it never blindly re-runs a non-idempotent forward script.
package migrate
