// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/opbench/pkg/ux"
	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/AleutianAI/opbench/services/bench/optimize"
	"github.com/AleutianAI/opbench/services/bench/telemetry"
)

// Option configures a Runner.
type Option func(*Runner)

// WithMinRunTime overrides the minimum timed duration per thread count.
// It takes precedence over the plan's min_run_time. Non-positive values
// are ignored.
func WithMinRunTime(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.minRunTime = d
		}
	}
}

// WithVerbose prints the full probe failure for every skipped trial.
func WithVerbose(verbose bool) Option {
	return func(r *Runner) { r.verbose = verbose }
}

// WithConsole sets the progress console. Nil is ignored.
func WithConsole(c *ux.Console) Option {
	return func(r *Runner) {
		if c != nil {
			r.console = c
		}
	}
}

// WithLogger sets the logger. Nil is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaterializer replaces the input materializer. Nil is ignored.
func WithMaterializer(m *inputs.Materializer) Option {
	return func(r *Runner) {
		if m != nil {
			r.materializer = m
		}
	}
}

// WithOptimizers replaces the optimization set. Nil is ignored.
func WithOptimizers(s *optimize.Set) Option {
	return func(r *Runner) {
		if s != nil {
			r.optimizers = s
		}
	}
}

// WithMetrics publishes trial outcomes and measurements. Nil disables metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithRunID stamps every measurement with id. Empty generates one.
func WithRunID(id string) Option {
	return func(r *Runner) {
		if id != "" {
			r.runID = id
		}
	}
}
