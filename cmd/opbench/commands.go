// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/opbench/pkg/logging"
	"github.com/AleutianAI/opbench/pkg/ux"
	"github.com/AleutianAI/opbench/services/bench/config"
	"github.com/AleutianAI/opbench/services/bench/ops"
	"github.com/AleutianAI/opbench/services/bench/optimize"
	"github.com/AleutianAI/opbench/services/bench/recordstore"
	"github.com/AleutianAI/opbench/services/bench/report"
	"github.com/AleutianAI/opbench/services/bench/runner"
	"github.com/AleutianAI/opbench/services/bench/telemetry"
)

// cliOptions holds flag values shared by the commands.
type cliOptions struct {
	configFile string
	verbose    bool
	debug      bool
	logDir     string
	jsonLogs   bool
	noColor    bool

	outputFile     string
	store          string
	minRunTime     time.Duration
	traceExporter  string
	metricExporter string
	metricsFile    string
	metricsAddr    string

	runID   string
	hideIQR bool
}

func defaultOutputFilename(now time.Time) string {
	return fmt.Sprintf("output-benchmark-%s.records", now.UTC().Format("20060102_150405"))
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:   "opbench",
		Short: "Benchmark image operators across representations, devices and optimizations",
		Long: `opbench expands a YAML benchmark configuration into trial descriptors,
times every registered operator variant against them, streams each
measurement to a durable record store and prints a comparison table.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSweep(cmd, opts)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config-filename", "bench_config.yaml", "Filename for the YAML config for the runner")
	pf.BoolVar(&opts.verbose, "verbose", false, "Print probe failures and info logs")
	pf.BoolVar(&opts.debug, "debug", false, "Print debug logs (implies --verbose)")
	pf.StringVar(&opts.logDir, "log-dir", "", "Also write JSON logs to this directory")
	pf.BoolVar(&opts.jsonLogs, "json-logs", false, "Write console logs as JSON")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colors and styled output")

	f := root.Flags()
	f.StringVar(&opts.outputFile, "output-filename", defaultOutputFilename(time.Now()), "Filename (or badger directory) for the benchmark records")
	f.StringVar(&opts.store, "store", string(recordstore.KindFile), "Record store: file or badger")
	f.DurationVar(&opts.minRunTime, "min-run-time", 0, "Minimum timed duration per thread count (default: config min_run_time, else 1s)")
	f.StringVar(&opts.traceExporter, "trace-exporter", telemetry.ExporterNone, "Trace exporter: none, stdout or otlp")
	f.StringVar(&opts.metricExporter, "metric-exporter", telemetry.ExporterNone, "Metric exporter: none, stdout or prometheus")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "Write result metrics in Prometheus text format to this file")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve result metrics at this address under /metrics during the sweep")

	root.AddCommand(newReportCmd(opts), newExpandCmd(opts), newOperatorsCmd(opts))
	return root
}

// ---- Shared setup ----

func (o *cliOptions) newLogger(cmd *cobra.Command) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:   logging.LevelFromFlags(o.verbose, o.debug),
		LogDir:  o.logDir,
		Service: "opbench",
		JSON:    o.jsonLogs,
		Output:  cmd.ErrOrStderr(),
	})
}

func (o *cliOptions) newConsole(cmd *cobra.Command) *ux.Console {
	if o.noColor {
		return ux.NewConsole(cmd.OutOrStdout(), ux.WithPlain(true))
	}
	return ux.NewConsole(cmd.OutOrStdout())
}

// ---- Sweep ----

func runSweep(cmd *cobra.Command, opts *cliOptions) (err error) {
	ctx := cmd.Context()

	logger, err := opts.newLogger(cmd)
	if err != nil {
		return err
	}
	defer logger.Close()
	console := opts.newConsole(cmd)

	kind, err := recordstore.ParseKind(opts.store)
	if err != nil {
		return err
	}

	reg := ops.NewRegistry()
	plan, err := config.Load(opts.configFile, reg)
	if err != nil {
		return err
	}

	metrics, err := telemetry.NewMetrics(nil, nil)
	if err != nil {
		return err
	}
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "opbench",
		ServiceVersion: "0.1.0",
		TraceExporter:  opts.traceExporter,
		MetricExporter: opts.metricExporter,
		OTLPEndpoint:   telemetry.DefaultConfig().OTLPEndpoint,
		OTLPInsecure:   true,
		Registerer:     metrics.Registry(),
		Output:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			logger.Warn("telemetry shutdown failed", "error", serr)
		}
	}()

	if opts.metricsAddr != "" {
		srv, err := telemetry.Serve(opts.metricsAddr, metrics.Handler(), logger.Slog())
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	runID := uuid.NewString()
	w, err := recordstore.Open(kind, opts.outputFile,
		recordstore.WithLogger(logger.Slog()),
		recordstore.WithRunID(runID))
	if err != nil {
		return err
	}

	r := runner.New(reg, w,
		runner.WithMinRunTime(opts.minRunTime),
		runner.WithVerbose(opts.verbose || opts.debug),
		runner.WithConsole(console),
		runner.WithLogger(logger.Slog()),
		runner.WithMetrics(metrics),
		runner.WithRunID(runID),
	)
	summary, runErr := r.Run(ctx, plan)
	if cerr := w.Close(); cerr != nil && runErr == nil {
		runErr = fmt.Errorf("close record store: %w", cerr)
	}
	if summary != nil {
		console.Summary(summary.Attempted, summary.Succeeded, summary.Skipped, summary.Records)
	}
	if runErr != nil {
		return runErr
	}

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			return err
		}
	}

	console.Println("")
	return printReport(ctx, cmd.OutOrStdout(), kind, opts.outputFile, runID, console.Plain(), opts.hideIQR, logger)
}

func printReport(ctx context.Context, w io.Writer, kind recordstore.Kind, path, runID string, plain, hideIQR bool, logger *logging.Logger) error {
	reader, closeFn, err := recordstore.OpenReader(kind, path,
		recordstore.WithLogger(logger.Slog()),
		recordstore.WithRunID(runID))
	if err != nil {
		return err
	}
	defer closeFn()

	records, err := reader.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read records from %s: %w", path, err)
	}
	return report.Compare(records).Render(w, report.RenderOptions{Plain: plain, HideIQR: hideIQR})
}

// ---- report ----

func newReportCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <output-filename>",
		Short: "Print the comparison table of a stored benchmark run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.newLogger(cmd)
			if err != nil {
				return err
			}
			defer logger.Close()

			kind, err := recordstore.ParseKind(opts.store)
			if err != nil {
				return err
			}
			plain := opts.newConsole(cmd).Plain()
			return printReport(cmd.Context(), cmd.OutOrStdout(), kind, args[0], opts.runID, plain, opts.hideIQR, logger)
		},
	}
	cmd.Flags().StringVar(&opts.store, "store", string(recordstore.KindFile), "Record store: file or badger")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Only report this run (badger store)")
	cmd.Flags().BoolVar(&opts.hideIQR, "hide-iqr", false, "Omit interquartile ranges")
	return cmd
}

// ---- expand ----

func newExpandCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expand",
		Short: "Print the trial descriptors a configuration expands to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := config.Load(opts.configFile, ops.NewRegistry())
			if err != nil {
				return err
			}
			plain := opts.newConsole(cmd).Plain()

			rows := make([][]string, len(plan.Descriptors))
			for i, d := range plan.Descriptors {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					d.Module,
					joinBatches(d.BatchSizes),
					joinInts(d.Resolutions),
					joinInts(d.Threads),
					string(d.DType),
					d.Kwargs.String(),
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(plain,
				[]string{"#", "module", "batch_sizes", "resolutions", "threads", "dtype", "kwargs"}, rows))

			variants := make([]string, len(plan.Variants))
			for i, v := range plan.Variants {
				variants[i] = v.Description()
			}
			fmt.Fprintf(out, "%d descriptors x %d variants = %d combinations (%s)\n",
				len(plan.Descriptors), len(plan.Variants), plan.Combinations(), strings.Join(variants, ", "))
			return nil
		},
	}
}

// ---- operators ----

func newOperatorsCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "operators",
		Short: "List registered operators, optimizations and the active variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := ops.NewRegistry()
			plain := opts.newConsole(cmd).Plain()
			out := cmd.OutOrStdout()

			var rows [][]string
			for _, path := range reg.Modules() {
				rows = append(rows, []string{path, strings.Join(reg.Operators(path), ", ")})
			}
			fmt.Fprintln(out, renderTable(plain, []string{"module", "operators"}, rows))
			fmt.Fprintf(out, "optimizations: %s\n", strings.Join(optimize.DefaultSet().Names(), ", "))

			variants := config.DefaultVariants()
			source := "default"
			if plan, err := config.Load(opts.configFile, reg); err == nil {
				variants, source = plan.Variants, opts.configFile
			} else if !errors.Is(err, os.ErrNotExist) {
				source = "default, config not loaded: " + err.Error()
			}
			fmt.Fprintf(out, "variants (%s):\n", source)
			for _, v := range variants {
				fmt.Fprintf(out, "  %-24s %s/%s\n", v.Description(), v.Representation, v.Operator)
			}
			return nil
		},
	}
}

// ---- Formatting ----

func renderTable(plain bool, headers []string, rows [][]string) string {
	t := table.New().Headers(headers...).Rows(rows...)
	if plain {
		return t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style { return lipgloss.NewStyle().Padding(0, 1) }).
			String()
	}
	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(ux.Styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return ux.Styles.Header
			}
			return ux.Styles.Cell
		}).
		String()
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func joinBatches(bs []config.BatchSize) string {
	parts := make([]string, len(bs))
	for i, b := range bs {
		parts[i] = b.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
