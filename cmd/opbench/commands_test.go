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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
global:
  batch_sizes: [1]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
  variants:
    - {operator: tensor_op, representation: tensor, device: cpu}
    - {operator: tensor_op, representation: tensor, device: cuda}
    - {operator: array_op, representation: array, device: cpu}
box_blur:
  kernel_size: [3, 5]
adjust_brightness:
  factor: 0.2
`

func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bench_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0640))
	return path
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestSweep_FileStore(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	out := filepath.Join(t.TempDir(), "bench.records")
	metricsFile := filepath.Join(t.TempDir(), "opbench.prom")

	stdout, _, err := execute(t,
		"--config-filename", cfg,
		"--output-filename", out,
		"--min-run-time", "2ms",
		"--metrics-file", metricsFile,
		"--no-color")
	require.NoError(t, err)

	// 3 descriptors x 3 variants; cuda skips 3, array_op has no adjust_brightness.
	assert.Contains(t, stdout, "SUMMARY: attempted=9 succeeded=5 skipped=4 records=5")
	assert.Contains(t, stdout, "[----- box_blur -----]")
	assert.Contains(t, stdout, "[----- adjust_brightness -----]")
	assert.Contains(t, stdout, "array_cpu")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "opbench_records_total 5")

	stdout, _, err = execute(t, "report", out, "--no-color", "--hide-iqr")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[----- box_blur -----]")
	assert.NotContains(t, stdout, "±")
}

func TestSweep_BadgerStore(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	dir := filepath.Join(t.TempDir(), "records.badger")

	for i := 0; i < 2; i++ {
		stdout, _, err := execute(t,
			"--config-filename", cfg,
			"--output-filename", dir,
			"--store", "badger",
			"--min-run-time", "1ms",
			"--no-color")
		require.NoError(t, err)
		assert.Contains(t, stdout, "records=5")
	}

	stdout, _, err := execute(t, "report", dir, "--store", "badger", "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "[----- box_blur -----]")
}

func TestSweep_FatalErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		args []string
		want string
	}{
		{"missing config", "", []string{"--config-filename", "/nonexistent/bench.yaml"}, "read config"},
		{"missing global", "box_blur:\n  kernel_size: 3\n", nil, "global"},
		{"unknown module", "global:\n  batch_sizes: [1]\n  resolutions: [8]\n  threads: [1]\n  import_from: opbench.ops\nsharpen:\n", nil, "unknown module"},
		{"bad store", testConfig, []string{"--store", "sqlite"}, "unknown store kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := tt.args
			if tt.doc != "" {
				args = append([]string{"--config-filename", writeConfig(t, tt.doc)}, args...)
			}
			args = append(args, "--output-filename", filepath.Join(t.TempDir(), "x.records"), "--no-color")
			_, _, err := execute(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExpand(t *testing.T) {
	cfg := writeConfig(t, testConfig)
	stdout, _, err := execute(t, "expand", "--config-filename", cfg, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "kernel_size=5")
	assert.Contains(t, stdout, "factor=0.2")
	assert.Contains(t, stdout, "3 descriptors x 3 variants = 9 combinations")
	assert.Contains(t, stdout, "tensor_cpu, tensor_cuda, array_cpu")
}

func TestOperators(t *testing.T) {
	stdout, _, err := execute(t, "operators", "--config-filename", filepath.Join(t.TempDir(), "none.yaml"), "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "opbench.ops.box_blur")
	assert.Contains(t, stdout, "array_op, tensor_op")
	assert.Contains(t, stdout, "optimizations: identity, none, parallel")
	assert.Contains(t, stdout, "variants (default):")
	assert.Contains(t, stdout, "parallel_tensor_cuda")

	cfg := writeConfig(t, testConfig)
	stdout, _, err = execute(t, "operators", "--config-filename", cfg, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, stdout, "variants ("+cfg+"):")
	assert.False(t, strings.Contains(stdout, "parallel_tensor_cuda"))
}

func TestDefaultOutputFilename(t *testing.T) {
	now := time.Date(2024, 3, 5, 7, 8, 9, 0, time.FixedZone("X", 3600))
	assert.Equal(t, "output-benchmark-20240305_060809.records", defaultOutputFilename(now))
}
