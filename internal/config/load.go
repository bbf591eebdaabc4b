// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/accounts/internal/xdg"
)

// FlagKeys maps command-line flag names to config keys. Only flags named here
// and set explicitly on the command line override the other layers.
var FlagKeys = map[string]string{
	"host":             "server.host",
	"port":             "server.port",
	"database-url":     "database.url",
	"connect-attempts": "database.connect_attempts",
	"token-ttl":        "token.ttl",
	"token-issuer":     "token.issuer",
	"hash-workers":     "hashing.workers",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"metrics-addr":     "metrics.addr",
	"otlp-endpoint":    "tracing.endpoint",
	"cors-origins":     "cors.allowed_origins",
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// File is an explicit config file. It must exist. When empty the XDG
	// default path is used if present.
	File string
	// Flags are consulted for flags in FlagKeys that were changed.
	Flags *pflag.FlagSet
	// Environment replaces the process environment when non-nil.
	Environment map[string]string
}

// Load builds the configuration. Precedence from lowest to highest: Default,
// YAML file, environment, changed flags. The result is not validated.
func Load(opts LoadOptions) (Config, string, error) {
	cfg := Default()
	unmarshal := koanf.UnmarshalConf{Tag: "koanf"}

	path, err := resolveFile(opts.File)
	if err != nil {
		return Config{}, "", err
	}
	if path != "" {
		raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err != nil {
			return Config{}, "", oops.Code("CONFIG_FILE_READ_FAILED").With("path", path).Wrap(err)
		}
		if err := ValidateSchema(raw); err != nil {
			return Config{}, "", oops.With("path", path).Wrap(err)
		}

		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, "", oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
		}
		if err := k.UnmarshalWithConf("", &cfg, unmarshal); err != nil {
			return Config{}, "", oops.Code("CONFIG_FILE_INVALID").With("path", path).Wrap(err)
		}
	}

	envOpts := env.Options{}
	if opts.Environment != nil {
		envOpts.Environment = opts.Environment
	}
	if err := env.ParseWithOptions(&cfg, envOpts); err != nil {
		return Config{}, "", oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	if opts.Flags != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(opts.Flags, ".", nil, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, "", oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
		if err := k.UnmarshalWithConf("", &cfg, unmarshal); err != nil {
			return Config{}, "", oops.Code("CONFIG_FLAGS_INVALID").Wrap(err)
		}
	}

	return cfg, path, nil
}

// resolveFile returns the config file to read, or "" when there is none.
func resolveFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", oops.Code("CONFIG_FILE_READ_FAILED").With("path", explicit).Wrap(err)
		}
		return explicit, nil
	}

	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file, not a failure.
		return "", nil //nolint:nilerr // the default file is optional
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", oops.Code("CONFIG_FILE_READ_FAILED").With("path", path).Wrap(err)
	}
	return path, nil
}
