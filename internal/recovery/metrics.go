// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package recovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/vigil-board/vigil/internal/archive"
)

var (
	partitionsReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_recovery_partitions_replayed_total",
		Help: "Archive partitions fully replayed, by entity type.",
	}, []string{"entity"})

	rowsProjected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_recovery_rows_total",
		Help: "Event rows processed during replay, by outcome.",
	}, []string{"outcome"})

	placeholdersCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_recovery_placeholder_users_total",
		Help: "Placeholder user rows created to satisfy forward references.",
	})
)

func recordPartition(t archive.EntityType) {
	partitionsReplayed.WithLabelValues(string(t)).Inc()
}

func recordRow(inserted bool) {
	outcome := "matched"
	if inserted {
		outcome = "inserted"
	}
	rowsProjected.WithLabelValues(outcome).Inc()
}

func recordPlaceholder() {
	placeholdersCreated.Inc()
}
