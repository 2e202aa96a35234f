// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

// Trial outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeSkipped   = "skipped"
)

// Metrics records sweep progress and results.
//
// Description:
//
//	Trial and measurement instruments are OpenTelemetry instruments on the
//	global meter. Per-cell results (median, IQR and CPU time per call) are
//	Prometheus gauges on a dedicated registry so they can be written as a
//	textfile or served over HTTP.
//
// Thread Safety: Safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	trials       metric.Int64Counter
	measurements metric.Float64Histogram
	threadRuns   metric.Int64Counter

	median       *prometheus.GaugeVec
	iqr          *prometheus.GaugeVec
	cpuPerCall   *prometheus.GaugeVec
	recordsTotal prometheus.Counter
}

// NewMetrics creates the instruments.
//
// Inputs:
//   - meter: OpenTelemetry meter. Nil uses otel.Meter("opbench").
//   - registry: Registry for the result gauges. Nil creates a fresh one.
func NewMetrics(meter metric.Meter, registry *prometheus.Registry) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter("github.com/AleutianAI/opbench")
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{registry: registry}
	var err error

	m.trials, err = meter.Int64Counter(
		"opbench_trials_total",
		metric.WithDescription("Trial combinations attempted, by outcome"),
		metric.WithUnit("{trial}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create trials_total: %w", err)
	}

	m.measurements, err = meter.Float64Histogram(
		"opbench_call_duration_seconds",
		metric.WithDescription("Median per-call time of stored measurements"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 0.1, 1, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create call_duration: %w", err)
	}

	m.threadRuns, err = meter.Int64Counter(
		"opbench_thread_runs_total",
		metric.WithDescription("Timed runs per thread count, by outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create thread_runs_total: %w", err)
	}

	cellLabels := []string{"label", "sub_label", "description", "threads"}
	m.median = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opbench",
		Name:      "median_seconds",
		Help:      "Median per-call time of the latest measurement of a cell",
	}, cellLabels)
	m.iqr = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opbench",
		Name:      "iqr_seconds",
		Help:      "Interquartile range of per-call times of the latest measurement of a cell",
	}, cellLabels)
	m.cpuPerCall = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "opbench",
		Name:      "cpu_seconds_per_call",
		Help:      "Process CPU time per call of the latest measurement of a cell",
	}, cellLabels)
	m.recordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "opbench",
		Name:      "records_total",
		Help:      "Measurements stored",
	})

	for _, c := range []prometheus.Collector{m.median, m.iqr, m.cpuPerCall, m.recordsTotal} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry holding the result gauges.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Trial counts one attempted combination.
func (m *Metrics) Trial(ctx context.Context, label, description, outcome string) {
	m.trials.Add(ctx, 1, metric.WithAttributes(
		attribute.String("label", label),
		attribute.String("description", description),
		attribute.String("outcome", outcome),
	))
}

// ThreadRun counts one timed run at a thread count.
func (m *Metrics) ThreadRun(ctx context.Context, label string, threads int, outcome string) {
	m.threadRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("label", label),
		attribute.Int("threads", threads),
		attribute.String("outcome", outcome),
	))
}

// Measurement publishes a stored measurement.
func (m *Metrics) Measurement(ctx context.Context, rec *timer.Measurement) {
	m.measurements.Record(ctx, rec.Stats.Median.Seconds(), metric.WithAttributes(
		attribute.String("label", rec.Label),
		attribute.String("description", rec.Description),
		attribute.Int("threads", rec.NumThreads),
	))

	values := []string{rec.Label, rec.SubLabel, rec.Description, strconv.Itoa(rec.NumThreads)}
	m.median.WithLabelValues(values...).Set(rec.Stats.Median.Seconds())
	m.iqr.WithLabelValues(values...).Set(rec.Stats.IQR.Seconds())

	calls := rec.NumPerRun * len(rec.Times)
	if calls > 0 && rec.CPUTime > 0 {
		m.cpuPerCall.WithLabelValues(values...).Set(rec.CPUTime.Seconds() / float64(calls))
	}
	m.recordsTotal.Inc()
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Handler serves the registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
