// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for archive operations
var (
	// archiveAppendsTotal counts durable event appends.
	archiveAppendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_archive_appends_total",
		Help: "Total number of archive append operations",
	})

	// archiveCreatesTotal counts full-partition atomic writes.
	archiveCreatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_archive_creates_total",
		Help: "Total number of archive create-or-replace operations",
	})

	// archiveWriteLatency measures durable write latency.
	archiveWriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vigil_archive_write_latency_seconds",
		Help:    "Archive durable write latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// archiveUnparsedLinesTotal counts lines matching no declared grammar
	// or timestamp format.
	archiveUnparsedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_archive_unparsed_lines_total",
		Help: "Total number of archive lines that failed to parse",
	})
)

func recordAppend(seconds float64) {
	archiveAppendsTotal.Inc()
	archiveWriteLatency.Observe(seconds)
}

func recordCreate(seconds float64) {
	archiveCreatesTotal.Inc()
	archiveWriteLatency.Observe(seconds)
}

func recordUnparsedLine() {
	archiveUnparsedLinesTotal.Inc()
}
