// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/auth/postgres"
	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/logging"
	"github.com/holomush/accounts/internal/observability"
	"github.com/holomush/accounts/internal/store"
	"github.com/holomush/accounts/internal/tracing"
)

const (
	serviceName     = "accounts"
	shutdownTimeout = 10 * time.Second
	readinessProbe  = 2 * time.Second
)

// serveOptions holds flags that are not part of config.Config.
type serveOptions struct {
	autoMigrate bool
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the accounts HTTP API. Configuration is read from the config file,
then the environment, then the flags below. JWT_SECRET has no default and must
be set in the file or the environment.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, opts, &ServeDeps{InstallLogger: slog.SetDefault})
		},
	}

	registerConfigFlags(cmd)
	cmd.Flags().BoolVar(&opts.autoMigrate, "auto-migrate", false, "apply pending database migrations before serving")

	return cmd
}

// registerConfigFlags adds the flags named in config.FlagKeys. The token
// secret deliberately has no flag so it never shows up in process listings.
func registerConfigFlags(cmd *cobra.Command) {
	def := config.Default()
	f := cmd.Flags()
	f.String("host", def.Server.Host, "listen host (empty = all interfaces)")
	f.Int("port", def.Server.Port, "listen port")
	f.String("database-url", "", "PostgreSQL connection URL")
	f.Int("connect-attempts", def.Database.ConnectAttempts, "database connection attempts at startup")
	f.Duration("token-ttl", def.Token.TTL, "access token lifetime")
	f.String("token-issuer", def.Token.Issuer, "access token issuer")
	f.Int("hash-workers", def.Hashing.Workers, "password hashing workers (0 = number of CPUs)")
	f.String("log-format", def.Log.Format, "log format (json or text)")
	f.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	f.String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	f.String("otlp-endpoint", "", "OTLP/HTTP trace endpoint (empty = no export)")
	f.StringSlice("cors-origins", def.CORS.AllowedOrigins, "allowed CORS origin patterns")
}

func withServeDefaults(deps *ServeDeps) *ServeDeps {
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.PoolFactory == nil {
		deps.PoolFactory = func(ctx context.Context, dsn string, attempts int) (Pool, error) {
			pool, err := store.Connect(ctx, dsn, attempts)
			if err != nil {
				return nil, err
			}
			return pool, nil
		}
	}
	if deps.MigratorFactory == nil {
		deps.MigratorFactory = func(databaseURL string) (AutoMigrator, error) {
			m, err := store.NewMigrator(databaseURL)
			if err != nil {
				return nil, err
			}
			return m, nil
		}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, gatherer prometheus.Gatherer, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, gatherer, ready)
		}
	}
	if deps.TracingSetup == nil {
		deps.TracingSetup = tracing.Setup
	}
	if deps.ListenerFactory == nil {
		deps.ListenerFactory = net.Listen
	}
	return deps
}

// loadServeConfig loads and validates the configuration. A missing token
// secret fails here, before anything connects.
func loadServeConfig(cmd *cobra.Command, env map[string]string) (config.Config, string, error) {
	cfg, path, err := config.Load(config.LoadOptions{
		File:        configFile,
		Flags:       cmd.Flags(),
		Environment: env,
	})
	if err != nil {
		return config.Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, path, nil
}

// runServeWithDeps starts the HTTP API with injectable dependencies.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, opts *serveOptions, deps *ServeDeps) error {
	deps = withServeDefaults(deps)
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, path, err := loadServeConfig(cmd, deps.Environment)
	if err != nil {
		return err
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	logger := logging.Setup(serviceName, version, cfg.Log.Format, level, deps.LogWriter)
	if deps.InstallLogger != nil {
		deps.InstallLogger(logger)
	}

	logger.Info("starting accounts service", "config_file", path, "config", cfg)

	flushTraces, err := deps.TracingSetup(ctx, serviceName, version, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := flushTraces(flushCtx); err != nil {
			logger.Warn("error flushing traces", "error", err)
		}
	}()

	if opts != nil && opts.autoMigrate {
		if err := runAutoMigrate(deps.MigratorFactory, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, cfg.Database.ConnectAttempts)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("connected to database")

	reg := observability.NewRegistry()
	metrics := observability.NewMetrics(reg)

	handler, hashPool, err := buildAPI(cfg, pool, metrics, logger)
	if err != nil {
		return err
	}
	defer hashPool.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, reg, func(ctx context.Context) bool {
			pingCtx, cancel := context.WithTimeout(ctx, readinessProbe)
			defer cancel()
			return pool.Ping(pingCtx) == nil
		})
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr())
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr()).Wrap(err)
	}

	srv := httpapi.NewServer(cfg.Server.Addr(), handler)
	srv.ErrorLog = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)
	errChan := make(chan error, 1)
	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
		close(errChan)
	}()

	addr := listener.Addr().String()
	cmd.Println("accounts service listening on " + addr)
	logger.Info("accounts service ready", "addr", addr)
	if deps.Ready != nil {
		select {
		case deps.Ready <- addr:
		case <-ctx.Done():
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", context.Cause(ctx))
	case err, ok := <-errChan:
		if ok && err != nil {
			serveErr = oops.Code("HTTP_SERVE_FAILED").With("addr", addr).Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return serveErr
}

// buildAPI wires the services on top of the pool. The caller closes the
// returned HashPool.
func buildAPI(cfg config.Config, pool Pool, metrics *observability.Metrics, logger *slog.Logger) (http.Handler, *auth.HashPool, error) {
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{
		Time:      cfg.Hashing.Time,
		MemoryKiB: cfg.Hashing.MemoryKiB,
		Threads:   cfg.Hashing.Threads,
	})
	if err != nil {
		return nil, nil, err
	}
	tokens, err := auth.NewTokenService([]byte(cfg.Token.Secret),
		auth.WithTokenTTL(cfg.Token.TTL),
		auth.WithTokenIssuer(cfg.Token.Issuer),
	)
	if err != nil {
		return nil, nil, err
	}

	hashPool, err := auth.NewHashPool(hasher, cfg.Hashing.Workers)
	if err != nil {
		return nil, nil, err
	}

	users := postgres.NewUserRepository(pool)
	accounts, err := auth.NewAuthServiceWithLogger(users, hashPool, tokens, logger, auth.WithOutcomeRecorder(metrics))
	if err != nil {
		hashPool.Close()
		return nil, nil, err
	}
	lookup, err := auth.NewLookupServiceWithLogger(users, logger)
	if err != nil {
		hashPool.Close()
		return nil, nil, err
	}

	handler, err := httpapi.NewHandler(httpapi.Config{
		Accounts:       accounts,
		Users:          lookup,
		Tokens:         tokens,
		Logger:         logger,
		Recorder:       metrics,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	if err != nil {
		hashPool.Close()
		return nil, nil, err
	}
	return handler, hashPool, nil
}

// runAutoMigrate applies pending migrations. The migrator is closed on every
// path.
func runAutoMigrate(factory func(string) (AutoMigrator, error), databaseURL string, logger *slog.Logger) error {
	m, err := factory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	logger.Info("applying database migrations")
	if err := m.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("operation", "apply migrations").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

func stopObservability(obsServer ObservabilityServer, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when a server reports an error, so one
// failed listener shuts the whole process down. It exits when the channel is
// closed or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
