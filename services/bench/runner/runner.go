// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner sweeps an expanded benchmark plan: every variant against
// every trial descriptor, batch size, resolution and thread count.
//
// Each (variant, descriptor, batch, resolution) combination is probed with a
// single call before it is timed. A probe failure skips the combination and
// the sweep continues; failures to materialize inputs or to persist a
// measurement abort the sweep.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/opbench/pkg/ux"
	"github.com/AleutianAI/opbench/services/bench/config"
	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/AleutianAI/opbench/services/bench/optimize"
	"github.com/AleutianAI/opbench/services/bench/recordstore"
	"github.com/AleutianAI/opbench/services/bench/registry"
	"github.com/AleutianAI/opbench/services/bench/telemetry"
	"github.com/AleutianAI/opbench/services/bench/timer"
)

const tracerName = "opbench.runner"

var (
	// ErrNilPlan indicates Run was called without a plan.
	ErrNilPlan = errors.New("plan must not be nil")

	// ErrOperatorNotFound indicates the registry has no operator for a
	// variant. It wraps the registry error.
	ErrOperatorNotFound = errors.New("operator not found")

	// ErrOperatorPanic indicates the operator panicked.
	ErrOperatorPanic = errors.New("operator panicked")
)

// Runner executes benchmark sweeps.
//
// Description:
//
//	A Runner owns the record writer for the duration of Run. Trials run one
//	at a time; the only parallelism is the thread count applied to the
//	timed workload.
//
// Thread Safety: Not safe for concurrent Run calls.
type Runner struct {
	reg          *registry.Registry
	store        recordstore.Writer
	materializer *inputs.Materializer
	optimizers   *optimize.Set
	console      *ux.Console
	logger       *slog.Logger
	metrics      *telemetry.Metrics
	minRunTime   time.Duration
	verbose      bool
	runID        string
}

// New creates a Runner.
//
// Inputs:
//   - reg: Operator registry. Must not be nil.
//   - store: Destination of measurements. Must not be nil. The caller closes it.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Runner: Never nil.
//
// Example:
//
//	w, _ := recordstore.CreateFile("out.records")
//	defer w.Close()
//	r := runner.New(ops.NewRegistry(), w, runner.WithVerbose(true))
//	summary, err := r.Run(ctx, plan)
func New(reg *registry.Registry, store recordstore.Writer, opts ...Option) *Runner {
	r := &Runner{
		reg:          reg,
		store:        store,
		materializer: inputs.New(),
		optimizers:   optimize.DefaultSet(),
		console:      ux.Discard(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.runID == "" {
		r.runID = uuid.NewString()
	}
	r.logger = r.logger.With(slog.String("component", "runner"), slog.String("run_id", r.runID))
	return r
}

// RunID returns the id stamped on every measurement.
func (r *Runner) RunID() string {
	return r.runID
}

// Run sweeps the plan.
//
// Description:
//
//	Iterates variants, then descriptors, batch sizes and resolutions, then
//	thread counts. Measurements are appended to the store as soon as they
//	are taken, so an aborted sweep keeps everything measured before the
//	failure.
//
// Inputs:
//   - ctx: Cancellation stops the sweep between timed blocks. Must not be nil.
//   - plan: The expanded configuration. Must not be nil.
//
// Outputs:
//   - *Summary: Totals so far. Non-nil whenever plan is non-nil, including
//     on error.
//   - error: Fatal failures only: input materialization, unknown
//     optimization, record persistence or cancellation. Skipped trials
//     are reported in the Summary.
func (r *Runner) Run(ctx context.Context, plan *config.Plan) (*Summary, error) {
	if ctx == nil {
		return nil, errors.New("context must not be nil")
	}
	if plan == nil {
		return nil, ErrNilPlan
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "runner.Runner.Run",
		trace.WithAttributes(
			attribute.String("bench.run_id", r.runID),
			attribute.Int("bench.variants", len(plan.Variants)),
			attribute.Int("bench.descriptors", len(plan.Descriptors)),
		),
	)
	defer span.End()

	minRunTime := r.resolveMinRunTime(plan)
	summary := &Summary{RunID: r.runID}

	r.logger.Info("sweep starting",
		slog.Int("variants", len(plan.Variants)),
		slog.Int("descriptors", len(plan.Descriptors)),
		slog.Int("combinations", plan.Combinations()),
		slog.Duration("min_run_time", minRunTime))

	for _, v := range plan.Variants {
		if err := r.runVariant(ctx, plan, v, minRunTime, summary); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "sweep aborted")
			r.logger.Error("sweep aborted", slog.String("error", err.Error()))
			return summary, err
		}
	}

	span.SetAttributes(
		attribute.Int("bench.attempted", summary.Attempted),
		attribute.Int("bench.skipped", summary.Skipped),
		attribute.Int("bench.records", summary.Records),
	)
	span.SetStatus(codes.Ok, "sweep completed")
	r.logger.Info("sweep completed",
		slog.Int("attempted", summary.Attempted),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("records", summary.Records))
	return summary, nil
}

func (r *Runner) resolveMinRunTime(plan *config.Plan) time.Duration {
	switch {
	case r.minRunTime > 0:
		return r.minRunTime
	case plan.MinRunTime > 0:
		return plan.MinRunTime
	default:
		return timer.DefaultMinRunTime
	}
}

// ---- Variant loop ----

func (r *Runner) runVariant(ctx context.Context, plan *config.Plan, v config.VariantSpec, minRunTime time.Duration, summary *Summary) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.variant",
		trace.WithAttributes(
			attribute.String("bench.operator", v.Operator),
			attribute.String("bench.device", string(v.Device)),
			attribute.String("bench.optimization", v.Optimization),
		),
	)
	defer span.End()

	opt, err := r.optimizers.Get(v.Optimization)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown optimization")
		return fmt.Errorf("variant %s: %w", v, err)
	}

	r.console.Section(v.String())

	for i := range plan.Descriptors {
		d := &plan.Descriptors[i]
		target := inputs.Target{Representation: v.Representation, DType: d.DType, Device: v.Device}
		for _, bs := range d.BatchSizes {
			for _, res := range d.Resolutions {
				if err := ctx.Err(); err != nil {
					return err
				}
				t := trial{variant: v, opt: opt, desc: d, batch: bs, res: res, target: target}
				if err := r.runTrial(ctx, t, minRunTime, summary); err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, "trial failed")
					return err
				}
			}
		}
	}
	return nil
}

// trial is one (variant, descriptor, batch, resolution) combination.
type trial struct {
	variant config.VariantSpec
	opt     optimize.Variant
	desc    *config.TrialDescriptor
	batch   config.BatchSize
	res     int
	target  inputs.Target
}

// ---- Trial ----

func (r *Runner) runTrial(ctx context.Context, t trial, minRunTime time.Duration, summary *Summary) error {
	d := t.desc

	x, err := r.materializer.Primary(t.batch, t.res, d.InputMode, t.target)
	if err != nil {
		return fmt.Errorf("materialize input for %s: %w", d.Module, err)
	}
	kwargs, err := r.materializer.Kwargs(d.Kwargs, t.target)
	if err != nil {
		return fmt.Errorf("materialize kwargs for %s: %w", d.Module, err)
	}

	args := kwargs.Values()
	subLabel := fmt.Sprintf("[%s, %d, %s]", t.batch, t.res, args)
	description := t.variant.Description()

	r.console.Trial(t.variant.String(), d.Module,
		fmt.Sprintf("Batch size=%s, resolution=%d, args=%s", t.batch, t.res, args))
	summary.Attempted++

	ctx, span := otel.Tracer(tracerName).Start(ctx, "runner.trial",
		trace.WithAttributes(
			attribute.String("bench.module", d.Module),
			attribute.String("bench.sub_label", subLabel),
			attribute.String("bench.description", description),
		),
	)
	defer span.End()

	op, err := r.probe(ctx, t, x, kwargs)
	if err != nil {
		summary.Skipped++
		summary.Failures = append(summary.Failures, Failure{
			Variant:  t.variant.String(),
			Module:   d.Module,
			SubLabel: subLabel,
			Err:      err,
		})
		if r.verbose {
			r.console.Failure(d.ImportPath(), err)
			r.console.Skip("")
		} else {
			r.console.Skip(firstLine(err.Error()))
		}
		r.logger.Info("trial skipped",
			slog.String("module", d.Module),
			slog.String("sub_label", subLabel),
			slog.String("description", description),
			slog.String("error", err.Error()))
		r.countTrial(ctx, d.Module, description, telemetry.OutcomeSkipped)
		span.SetAttributes(attribute.Bool("bench.skipped", true))
		span.SetStatus(codes.Ok, "probe failed, trial skipped")
		return nil
	}
	summary.Succeeded++
	r.countTrial(ctx, d.Module, description, telemetry.OutcomeSucceeded)

	fn := func(ctx context.Context) error {
		_, err := op(ctx, x, kwargs)
		return err
	}

	for _, n := range d.Threads {
		r.console.Threads(n)

		m, err := r.measure(ctx, fn, n, minRunTime,
			timer.WithLabel(d.Module),
			timer.WithSubLabel(subLabel),
			timer.WithDescription(description),
			timer.WithNumThreads(n),
			timer.WithRunID(r.runID),
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			summary.Failures = append(summary.Failures, Failure{
				Variant:  t.variant.String(),
				Module:   d.Module,
				SubLabel: subLabel,
				Threads:  n,
				Err:      err,
			})
			r.console.Skip(fmt.Sprintf("num_threads=%d", n))
			r.logger.Warn("timing failed",
				slog.String("module", d.Module),
				slog.String("sub_label", subLabel),
				slog.Int("threads", n),
				slog.String("error", err.Error()))
			r.countThreadRun(ctx, d.Module, n, telemetry.OutcomeSkipped)
			continue
		}

		if err := r.store.Append(ctx, m); err != nil {
			return fmt.Errorf("append measurement for %s %s: %w", d.Module, subLabel, err)
		}
		summary.Records++
		r.console.Saving()
		r.logger.Debug("measurement stored", slog.String("measurement", m.String()))
		r.countThreadRun(ctx, d.Module, n, telemetry.OutcomeSucceeded)
		if r.metrics != nil {
			r.metrics.Measurement(ctx, m)
		}
	}
	return nil
}

// probe resolves the variant's operator, applies its optimization and
// invokes it once.
func (r *Runner) probe(ctx context.Context, t trial, x any, kwargs inputs.Kwargs) (registry.Operator, error) {
	op, err := r.reg.Lookup(t.desc.ImportFrom, t.desc.Module, t.variant.Operator)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperatorNotFound, err)
	}
	op, err = t.opt.Apply(op)
	if err != nil {
		return nil, fmt.Errorf("apply optimization: %w", err)
	}
	if err := safeCall(func() error {
		_, err := op(ctx, x, kwargs)
		return err
	}); err != nil {
		return nil, err
	}
	return op, nil
}

// measure times fn at n threads. A panic during timing becomes an error.
func (r *Runner) measure(ctx context.Context, fn timer.Func, n int, minRunTime time.Duration, opts ...timer.Option) (*timer.Measurement, error) {
	var m *timer.Measurement
	err := timer.WithThreads(n, func() error {
		return safeCall(func() error {
			var err error
			m, err = timer.New(fn, opts...).BlockedAutorange(ctx, minRunTime)
			return err
		})
	})
	return m, err
}

func safeCall(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v\n%s", ErrOperatorPanic, p, debug.Stack())
		}
	}()
	return fn()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (r *Runner) countTrial(ctx context.Context, module, description, outcome string) {
	if r.metrics != nil {
		r.metrics.Trial(ctx, module, description, outcome)
	}
}

func (r *Runner) countThreadRun(ctx context.Context, module string, threads int, outcome string) {
	if r.metrics != nil {
		r.metrics.ThreadRun(ctx, module, threads, outcome)
	}
}
