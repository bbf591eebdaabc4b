// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/accounts/internal/auth/postgres"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/internal/tracing"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to the database.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, dsn string, attempts int) (Pool, error)

	// MigratorFactory creates a migrator for --auto-migrate.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker) ObservabilityServer

	// TracingSetup installs the tracer provider.
	// Default: tracing.Setup
	TracingSetup func(ctx context.Context, service, version, endpoint string) (tracing.ShutdownFunc, error)

	// ListenerFactory binds the HTTP API listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// Environment replaces the process environment for config loading.
	// Default: nil (process environment)
	Environment map[string]string

	// LogWriter receives log output.
	// Default: os.Stderr
	LogWriter io.Writer

	// Ready, when set, receives the bound API address once serving.
	Ready chan<- string

	// InstallLogger, when set, receives the configured logger so the caller
	// can make it the process default. Left nil, the global logger is untouched.
	InstallLogger func(*slog.Logger)
}

// Pool wraps the methods used from *pgxpool.Pool.
type Pool interface {
	postgres.Querier
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator when migrating at startup.
type AutoMigrator interface {
	Up() error
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}
