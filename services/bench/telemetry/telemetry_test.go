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
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

func sampleRecord() *timer.Measurement {
	times := []time.Duration{10 * time.Microsecond, 12 * time.Microsecond, 14 * time.Microsecond}
	stats, _ := timer.CalculateStats(times)
	return &timer.Measurement{
		Label:       "box_blur",
		SubLabel:    "[1, 8, 3]",
		Description: "tensor_cpu",
		NumThreads:  1,
		NumPerRun:   10,
		Times:       times,
		Stats:       stats,
		CPUTime:     3 * time.Millisecond,
	}
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := NewMetrics(noop.NewMeterProvider().Meter("test"), nil)
	require.NoError(t, err)
	return m
}

func TestMetrics_Measurement(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.Trial(ctx, "box_blur", "tensor_cpu", OutcomeSucceeded)
	m.ThreadRun(ctx, "box_blur", 1, OutcomeSucceeded)
	m.Measurement(ctx, sampleRecord())

	values := []string{"box_blur", "[1, 8, 3]", "tensor_cpu", "1"}
	assert.InDelta(t, 12e-6, testutil.ToFloat64(m.median.WithLabelValues(values...)), 1e-12)
	assert.InDelta(t, 2e-6, testutil.ToFloat64(m.iqr.WithLabelValues(values...)), 1e-12)
	assert.InDelta(t, 1e-4, testutil.ToFloat64(m.cpuPerCall.WithLabelValues(values...)), 1e-12)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recordsTotal))

	m.Measurement(ctx, sampleRecord())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.recordsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.median))
}

func TestMetrics_NoCPUTime(t *testing.T) {
	m := newTestMetrics(t)
	rec := sampleRecord()
	rec.CPUTime = 0
	m.Measurement(context.Background(), rec)
	assert.Equal(t, 0, testutil.CollectAndCount(m.cpuPerCall))
}

func TestMetrics_DuplicateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(noop.NewMeterProvider().Meter("test"), reg)
	require.NoError(t, err)
	_, err = NewMetrics(noop.NewMeterProvider().Meter("test"), reg)
	assert.Error(t, err)
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := newTestMetrics(t)
	m.Measurement(context.Background(), sampleRecord())

	path := filepath.Join(t.TempDir(), "opbench.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# TYPE opbench_median_seconds gauge")
	assert.Contains(t, text, `label="box_blur"`)
	assert.Contains(t, text, "opbench_records_total 1")

	err = m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "dir", "x.prom"))
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	m := newTestMetrics(t)
	m.Measurement(context.Background(), sampleRecord())

	srv, err := Serve("127.0.0.1:0", m.Handler(), nil)
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "opbench_records_total")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"none", Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone}, nil},
		{"empty", Config{}, nil},
		{"unknown trace", Config{TraceExporter: "zipkin"}, ErrUnknownExporter},
		{"unknown metric", Config{MetricExporter: "statsd"}, ErrUnknownExporter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Init(context.Background(), tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}

	//nolint:staticcheck // exercising the nil guard
	_, err := Init(nil, Config{})
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_StdoutTrace(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:   "opbench-test",
		TraceExporter: ExporterStdout,
		Output:        &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "sweep")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), `"Name": "sweep"`)
}

func TestInit_PrometheusMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	shutdown, err := Init(context.Background(), Config{
		MetricExporter: ExporterPrometheus,
		Registerer:     reg,
	})
	require.NoError(t, err)
	defer shutdown(context.Background())

	m, err := NewMetrics(otel.GetMeterProvider().Meter("test"), reg)
	require.NoError(t, err)
	m.Trial(context.Background(), "box_blur", "tensor_cpu", OutcomeSkipped)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.True(t, containsPrefix(names, "opbench_trials"), "got %v", names)
}

func containsPrefix(names []string, prefix string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, prefix) {
			return true
		}
	}
	return false
}
