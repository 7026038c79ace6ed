// Vigil - Community Prayer Board
// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-board/vigil

package supervisor

import (
	"context"
	"sync/atomic"
)

// MockService is a minimal suture.Service for tests. It records that it
// started and blocks until its context is canceled.
type MockService struct {
	name    string
	started atomic.Bool
}

// NewMockService creates a named mock service.
func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

// Serve implements suture.Service.
func (m *MockService) Serve(ctx context.Context) error {
	m.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

// Started reports whether Serve has run.
func (m *MockService) Started() bool { return m.started.Load() }

// String names the service in supervisor logs.
func (m *MockService) String() string { return m.name }
