// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Command gen-schema writes the JSON Schema for the accounts config file.
//
//	gen-schema [--out schemas/config.schema.json] [--check]
//
// With --check nothing is written; the command fails when the file on disk
// differs from the generated schema.
package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/accounts/internal/config"
)

const defaultOut = "schemas/config.schema.json"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "gen-schema: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("gen-schema", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	out := flags.StringP("out", "o", defaultOut, "output path for the schema")
	check := flags.Bool("check", false, "fail if the output file is out of date instead of writing it")
	if err := flags.Parse(args); err != nil {
		return oops.Code("INVALID_ARGS").Wrap(err)
	}
	if *out == "" {
		return oops.Code("INVALID_ARGS").Errorf("--out must not be empty")
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		return err
	}
	schema = append(schema, '\n')

	if *check {
		current, err := os.ReadFile(*out)
		if err != nil {
			return oops.Code("SCHEMA_READ_FAILED").With("path", *out).Wrap(err)
		}
		if !bytes.Equal(current, schema) {
			return oops.Code("SCHEMA_STALE").With("path", *out).Errorf("%s is out of date; run gen-schema", *out)
		}
		_, _ = fmt.Fprintf(stdout, "%s is up to date\n", *out)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o750); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", *out).Wrap(err)
	}
	if err := os.WriteFile(*out, schema, 0o600); err != nil {
		return oops.Code("SCHEMA_WRITE_FAILED").With("path", *out).Wrap(err)
	}
	_, _ = fmt.Fprintf(stdout, "Generated %s\n", *out)
	return nil
}
