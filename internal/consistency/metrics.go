// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package consistency

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vigil_consistency_runs_total",
		Help: "Completed archive/store validation passes.",
	})

	divergences = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vigil_consistency_divergences",
		Help: "Divergences found by the most recent validation pass, by kind.",
	}, []string{"kind"})
)

func recordRun(rep *DivergenceReport) {
	validationRuns.Inc()

	counts := map[string]int{
		KindArchiveWithoutRow: 0,
		KindRowWithoutPath:    0,
		KindDanglingPath:      0,
		KindEventWithoutRow:   0,
	}
	for _, d := range rep.Findings {
		counts[d.Kind]++
	}
	for kind, n := range counts {
		divergences.WithLabelValues(kind).Set(float64(n))
	}
}
