// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package consistency

import (
	"context"
	"time"

	"github.com/vigil-board/vigil/internal/logging"
)

// Service runs periodic validation passes under the supervision tree. A
// divergence is logged and exported as a metric; the service never mutates
// either side.
type Service struct {
	validator *Validator
	interval  time.Duration
}

// NewService creates the periodic validation service.
func NewService(validator *Validator, interval time.Duration) *Service {
	return &Service{validator: validator, interval: interval}
}

// Serve implements suture.Service. The first pass runs one interval after
// startup so recovery and migrations settle first.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rep, err := s.validator.Validate(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logging.Error().Err(err).Msg("Consistency validation failed")
				continue
			}
			if rep.Consistent() {
				logging.Debug().Msg("Consistency validation passed")
				continue
			}
			logging.Warn().
				Int("findings", len(rep.Findings)).
				Int("unparsed", len(rep.Unparsed)).
				Msg("Archive/store divergence detected")
			for _, d := range rep.Findings {
				logging.Warn().
					Str("kind", d.Kind).
					Str("table", d.Table).
					Str("id", d.ID).
					Str("path", d.Path).
					Msg("Divergence")
			}
		}
	}
}

// String names the service in supervisor logs.
func (s *Service) String() string { return "consistency-validator" }
