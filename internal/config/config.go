// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config builds the accounts service configuration from defaults, an
// optional YAML file, the environment and command-line flags.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Default values.
const (
	DefaultPort            = 3000
	DefaultTokenTTL        = time.Hour
	DefaultTokenIssuer     = "accounts"
	DefaultLogFormat       = "json"
	DefaultLogLevel        = "info"
	DefaultMetricsAddr     = "127.0.0.1:9100"
	DefaultConnectAttempts = 5
	DefaultHashTime        = 1
	DefaultHashMemoryKiB   = 64 * 1024
	DefaultHashThreads     = 4

	// Keep in step with auth.MaxArgon2Time and auth.MaxArgon2MemoryKiB.
	MaxHashTime      = 64
	MaxHashMemoryKiB = 1 << 20
)

const redacted = "[REDACTED]"

// Config is the complete service configuration. It is built once at startup
// and passed to constructors; nothing reads the environment after Load.
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server" jsonschema:"description=HTTP listener"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Token    TokenConfig    `koanf:"token" yaml:"token"`
	Hashing  HashingConfig  `koanf:"hashing" yaml:"hashing"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Tracing  TracingConfig  `koanf:"tracing" yaml:"tracing"`
	CORS     CORSConfig     `koanf:"cors" yaml:"cors"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `koanf:"host" yaml:"host" env:"HOST" jsonschema:"description=Listen host; empty binds all interfaces"`
	Port int    `koanf:"port" yaml:"port" env:"PORT" jsonschema:"minimum=1,maximum=65535"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL             string `koanf:"url" yaml:"url" env:"DATABASE_URL" jsonschema:"description=PostgreSQL connection URL"`
	ConnectAttempts int    `koanf:"connect_attempts" yaml:"connect_attempts" env:"DB_CONNECT_ATTEMPTS" jsonschema:"minimum=1"`
}

// TokenConfig configures bearer token signing.
type TokenConfig struct {
	Secret string        `koanf:"secret" yaml:"secret" env:"JWT_SECRET" jsonschema:"description=HMAC signing key"`
	Issuer string        `koanf:"issuer" yaml:"issuer" env:"JWT_ISSUER"`
	TTL    time.Duration `koanf:"ttl" yaml:"ttl" env:"TOKEN_TTL"`
}

// HashingConfig configures argon2id and the hashing worker pool.
type HashingConfig struct {
	Workers   int    `koanf:"workers" yaml:"workers" env:"HASH_WORKERS" jsonschema:"description=Concurrent derivations; 0 uses the CPU count"`
	Time      uint32 `koanf:"time" yaml:"time" env:"HASH_TIME" jsonschema:"minimum=1,maximum=64"`
	MemoryKiB uint32 `koanf:"memory_kib" yaml:"memory_kib" env:"HASH_MEMORY_KIB" jsonschema:"minimum=8,maximum=1048576"`
	Threads   uint8  `koanf:"threads" yaml:"threads" env:"HASH_THREADS" jsonschema:"minimum=1"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" env:"LOG_FORMAT" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" yaml:"level" env:"LOG_LEVEL" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability side port.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" env:"METRICS_ADDR" jsonschema:"description=Metrics and health address; empty disables"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Endpoint string `koanf:"endpoint" yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" jsonschema:"description=OTLP/HTTP endpoint; empty disables export"`
}

// CORSConfig configures cross-origin access.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:"," jsonschema:"description=Origin glob patterns"`
}

// Default returns the configuration used when nothing overrides it. The token
// secret and database URL have no defaults.
func Default() Config {
	return Config{
		Server:   ServerConfig{Port: DefaultPort},
		Database: DatabaseConfig{ConnectAttempts: DefaultConnectAttempts},
		Token:    TokenConfig{Issuer: DefaultTokenIssuer, TTL: DefaultTokenTTL},
		Hashing: HashingConfig{
			Time:      DefaultHashTime,
			MemoryKiB: DefaultHashMemoryKiB,
			Threads:   DefaultHashThreads,
		},
		Log:     LogConfig{Format: DefaultLogFormat, Level: DefaultLogLevel},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		CORS:    CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var problems []string
	if c.Token.Secret == "" {
		problems = append(problems, "token secret is required (JWT_SECRET)")
	}
	if c.Token.TTL <= 0 {
		problems = append(problems, fmt.Sprintf("token ttl must be positive, got %s", c.Token.TTL))
	}
	if c.Database.URL == "" {
		problems = append(problems, "database url is required (DATABASE_URL)")
	}
	if c.Database.ConnectAttempts < 1 {
		problems = append(problems, "database connect_attempts must be at least 1")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		problems = append(problems, fmt.Sprintf("log format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		problems = append(problems, fmt.Sprintf("log level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	if c.Hashing.Workers < 0 {
		problems = append(problems, "hashing workers must not be negative")
	}
	if c.Hashing.Time == 0 || c.Hashing.MemoryKiB == 0 || c.Hashing.Threads == 0 {
		problems = append(problems, "hashing time, memory_kib and threads must be non-zero")
	}
	if c.Hashing.Time > MaxHashTime {
		problems = append(problems, fmt.Sprintf("hashing time must be at most %d", MaxHashTime))
	}
	if c.Hashing.MemoryKiB > MaxHashMemoryKiB {
		problems = append(problems, fmt.Sprintf("hashing memory_kib must be at most %d", MaxHashMemoryKiB))
	}

	if len(problems) > 0 {
		return oops.Code("CONFIG_INVALID").
			With("problems", problems).
			Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, oops.Code("CONFIG_INVALID").With("level", l.Level).Wrap(err)
	}
	return level, nil
}

// Redacted returns a copy safe to print: the token secret is masked and any
// password in the database URL is hidden.
func (c Config) Redacted() Config {
	out := c
	if out.Token.Secret != "" {
		out.Token.Secret = redacted
	}
	out.Database.URL = redactURL(c.Database.URL)
	out.CORS.AllowedOrigins = append([]string(nil), c.CORS.AllowedOrigins...)
	return out
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}

// String implements fmt.Stringer without exposing secrets.
func (c Config) String() string {
	r := c.Redacted()
	return fmt.Sprintf("server=%s database=%s token.issuer=%s token.ttl=%s token.secret=%s log=%s/%s metrics=%q tracing=%q",
		r.Server.Addr(), r.Database.URL, r.Token.Issuer, r.Token.TTL, r.Token.Secret,
		r.Log.Format, r.Log.Level, r.Metrics.Addr, r.Tracing.Endpoint)
}

// LogValue implements slog.LogValuer without exposing secrets.
func (c Config) LogValue() slog.Value {
	r := c.Redacted()
	return slog.GroupValue(
		slog.String("addr", r.Server.Addr()),
		slog.String("database_url", r.Database.URL),
		slog.String("token_issuer", r.Token.Issuer),
		slog.Duration("token_ttl", r.Token.TTL),
		slog.Int("hash_workers", r.Hashing.Workers),
		slog.String("log_format", r.Log.Format),
		slog.String("log_level", r.Log.Level),
		slog.String("metrics_addr", r.Metrics.Addr),
		slog.String("tracing_endpoint", r.Tracing.Endpoint),
		slog.Any("cors_allowed_origins", r.CORS.AllowedOrigins),
	)
}
