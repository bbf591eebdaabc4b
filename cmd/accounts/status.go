// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/config"
)

const statusTimeout = 2 * time.Second

// ProbeStatus holds the result of one health probe.
type ProbeStatus struct {
	Probe  string `json:"probe"`
	OK     bool   `json:"ok"`
	Code   int    `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ServiceStatus is what `accounts status` reports.
type ServiceStatus struct {
	Addr   string        `json:"addr"`
	Probes []ProbeStatus `json:"probes"`
}

// Healthy reports whether every probe passed.
func (s ServiceStatus) Healthy() bool {
	for _, p := range s.Probes {
		if !p.OK {
			return false
		}
	}
	return len(s.Probes) > 0
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	addr       string
	jsonOutput bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running accounts service",
		Long: `Query the liveness and readiness probes of a running accounts service on
its observability address. Readiness fails while the database is unreachable.
Exits non-zero unless every probe passes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg, http.DefaultClient)
		},
	}

	cmd.Flags().StringVar(&cfg.addr, "addr", "", "observability address (default: metrics.addr from config)")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig, client *http.Client) error {
	addr := cfg.addr
	if addr == "" {
		loaded, _, err := config.Load(config.LoadOptions{File: configFile})
		if err != nil {
			return err
		}
		addr = loaded.Metrics.Addr
	}
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability server is disabled; set metrics.addr or pass --addr")
	}

	ctx, cancel := context.WithTimeout(cmdContext(cmd), statusTimeout)
	defer cancel()

	status := ServiceStatus{Addr: addr}
	for _, probe := range []string{"liveness", "readiness"} {
		status.Probes = append(status.Probes, queryProbe(ctx, client, addr, probe))
	}

	var output string
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(status)
	}
	cmd.Println(output)

	if !status.Healthy() {
		return oops.Code("SERVICE_UNHEALTHY").With("addr", addr).Errorf("accounts service is not healthy")
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// queryProbe calls /healthz/<probe> on the observability server.
func queryProbe(ctx context.Context, client *http.Client, addr, probe string) ProbeStatus {
	st := ProbeStatus{Probe: probe}

	url := addr
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/healthz/" + probe

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := client.Do(req)
	if err != nil {
		st.Error = fmt.Sprintf("failed to connect: %v", err)
		return st
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	st.Code = resp.StatusCode
	st.Detail = strings.TrimSpace(string(body))
	st.OK = resp.StatusCode == http.StatusOK
	return st
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServiceStatus) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tCODE\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t----\t------")
	for _, p := range status.Probes {
		state := "fail"
		if p.OK {
			state = "ok"
		}
		code := "-"
		if p.Code != 0 {
			code = fmt.Sprintf("%d", p.Code)
		}
		detail := p.Detail
		if p.Error != "" {
			detail = p.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Probe, state, code, detail)
	}

	_ = w.Flush()
	return b.String()
}
