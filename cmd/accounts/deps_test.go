// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/jackc/pgx/v5"

	"github.com/holomush/accounts/internal/store"
)

// mockPool is a Pool whose queries always find nothing.
type mockPool struct {
	pingErr atomic.Value
	closed  atomic.Bool
	queries atomic.Int32
}

type noRow struct{}

func (noRow) Scan(...any) error { return pgx.ErrNoRows }

func (m *mockPool) QueryRow(context.Context, string, ...any) pgx.Row {
	m.queries.Add(1)
	return noRow{}
}

func (m *mockPool) Ping(context.Context) error {
	if err, ok := m.pingErr.Load().(error); ok {
		return err
	}
	return nil
}

func (m *mockPool) Close() {
	m.closed.Store(true)
}

func (m *mockPool) failPing() {
	m.pingErr.Store(errors.New("connection refused"))
}

// mockObservabilityServer records lifecycle calls.
type mockObservabilityServer struct {
	started  bool
	stopped  bool
	startErr error
	ready    func(context.Context) bool
}

func (m *mockObservabilityServer) Start() (<-chan error, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.started = true
	return make(chan error), nil
}

func (m *mockObservabilityServer) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func (m *mockObservabilityServer) Addr() string {
	return "127.0.0.1:9100"
}

// mockAutoMigrator implements AutoMigrator.
type mockAutoMigrator struct {
	upCalled    bool
	upError     error
	closeCalled bool
}

func (m *mockAutoMigrator) Up() error {
	m.upCalled = true
	return m.upError
}

func (m *mockAutoMigrator) Close() error {
	m.closeCalled = true
	return nil
}

// mockMigrator implements Migrator for the migrate command.
type mockMigrator struct {
	calls  []string
	forced int
	steps  int
	status store.Status
	err    error
	closed bool
}

func (m *mockMigrator) Up() error {
	m.calls = append(m.calls, "up")
	return m.err
}

func (m *mockMigrator) Down() error {
	m.calls = append(m.calls, "down")
	return m.err
}

func (m *mockMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *mockMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return m.err
}

func (m *mockMigrator) Status() (store.Status, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.err
}

func (m *mockMigrator) Close() error {
	m.closed = true
	return nil
}
