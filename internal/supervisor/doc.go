// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

/*
Package supervisor provides process supervision for Vigil using suture v4.

The tree organizes long-running services into two layers for failure
isolation:

	RootSupervisor ("vigil")
	├── DataSupervisor ("data-layer")
	│   └── ConsistencyValidatorService
	└── MonitoringSupervisor ("monitoring-layer")
	    └── (metrics and future observability services)

Crashed services restart automatically with exponential backoff; a crash in
the validator never affects the monitoring layer and vice versa. Context
cancellation triggers orderly shutdown, and UnstoppedServiceReport exposes
services that failed to stop within the timeout.

DuckDB is intentionally not supervised: it is an embedded library whose
connections are owned by the database package, and a crash inside it would
require a process restart anyway. Likewise the archive writer is not a
service; it is invoked synchronously by the operations it guards.

All services implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Returning nil stops the service permanently; returning an error schedules a
restart; a canceled context means shutdown was requested.
*/
package supervisor
