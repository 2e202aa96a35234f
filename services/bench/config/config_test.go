// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/opbench/services/bench/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeResolver map[string]bool

func (f fakeResolver) HasModule(importFrom, module string) bool {
	return f[importFrom+"."+module]
}

const sampleConfig = `
global:
  batch_sizes: [1, 2]
  resolutions: [8, 16]
  threads: [1, 4]
  import_from: opbench.ops
box_blur:
  kernel_size: [3, 5]
  border: [reflect, constant, replicate]
channel_matmul:
  weight: {ones: [16]}
  resolutions: [16]
rgb_to_grayscale:
  no_args: true
`

func mustParse(t *testing.T, doc string) *Plan {
	t.Helper()
	plan, err := Parse([]byte(doc), nil)
	require.NoError(t, err)
	return plan
}

func TestParse_Sample(t *testing.T) {
	plan := mustParse(t, sampleConfig)

	assert.Equal(t, []string{"box_blur", "channel_matmul", "rgb_to_grayscale"}, plan.Modules())
	require.Len(t, plan.Descriptors, 2*3+1+1)
	assert.Equal(t, DefaultVariants(), plan.Variants)
	assert.Zero(t, plan.MinRunTime)

	for _, d := range plan.Descriptors {
		assert.NotEmpty(t, d.BatchSizes, d.Module)
		assert.NotEmpty(t, d.Resolutions, d.Module)
		assert.NotEmpty(t, d.Threads, d.Module)
		assert.Equal(t, "opbench.ops", d.ImportFrom)
		assert.Equal(t, InputRGB, d.InputMode)
		assert.Equal(t, tensor.Float32, d.DType)
	}

	first := plan.Descriptors[0]
	assert.Equal(t, "kernel_size=3, border=reflect", first.Kwargs.String())
	assert.Equal(t, "kernel_size=3, border=constant", plan.Descriptors[1].Kwargs.String())
	assert.Equal(t, "kernel_size=5, border=replicate", plan.Descriptors[5].Kwargs.String())
	assert.Equal(t, "opbench.ops.box_blur", first.ImportPath())

	mm := plan.Descriptors[6]
	assert.Equal(t, []int{16}, mm.Resolutions)
	w, ok := mm.Kwargs.Get("weight")
	require.True(t, ok)
	assert.Equal(t, Deferred{Shape: []int{16, 16}}, w)

	gray := plan.Descriptors[7]
	assert.Empty(t, gray.Kwargs)
	assert.Equal(t, []int{8, 16}, gray.Resolutions)

	assert.Equal(t, 5*(6*2*2+1*2*1+1*2*2), plan.Combinations())
}

func TestParse_Deterministic(t *testing.T) {
	a := mustParse(t, sampleConfig)
	b := mustParse(t, sampleConfig)
	assert.Equal(t, a.Descriptors, b.Descriptors)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"empty", ``, ErrMissingGlobal},
		{"no global", "box_blur:\n  kernel_size: 3\n", ErrMissingGlobal},
		{"global not mapping", "global: 3\n", ErrMissingGlobal},
		{"missing threads", "global:\n  batch_sizes: [1]\n  resolutions: [8]\n  import_from: x\nm: {}\n", ErrMissingConfigKey},
		{"missing import_from", "global:\n  batch_sizes: [1]\n  resolutions: [8]\n  threads: [1]\nm: {}\n", ErrMissingConfigKey},
		{"unknown global key", "global:\n  treads: [1]\n", ErrInvalidValue},
		{"zero threads", base + "m:\n  threads: [0]\n", ErrInvalidValue},
		{"float resolution", base + "m:\n  resolutions: [8.5]\n", ErrInvalidValue},
		{"empty list kwarg", base + "m:\n  k: []\n", ErrInvalidValue},
		{"unknown generator", base + "m:\n  k: {zeros: [3]}\n", ErrInvalidArgSpec},
		{"extra generator key", base + "m:\n  k: {ones: [3], fill: 2}\n", ErrInvalidArgSpec},
		{"mapping in list", base + "m:\n  k: [{a: 1}]\n", ErrInvalidArgSpec},
		{"empty shape", base + "m:\n  k: {ones: []}\n", ErrInvalidShapeSpec},
		{"rank 5", base + "m:\n  k: {ones: [1, 2, 3, 4, 5]}\n", ErrInvalidShapeSpec},
		{"scalar shape", base + "m:\n  k: {ones: 4}\n", ErrInvalidShapeSpec},
		{"negative dim", base + "m:\n  k: {ones: [4, -1]}\n", ErrInvalidShapeSpec},
		{"float dim", base + "m:\n  k: {ones: [2.5]}\n", ErrInvalidShapeSpec},
		{"bad dtype", base + "m:\n  dtype: int8\n", ErrInvalidValue},
		{"bad input mode", base + "m:\n  input_mode: cmyk\n", ErrInvalidValue},
		{"section not mapping", base + "m: [1, 2]\n", ErrInvalidValue},
		{"duplicate section", base + "m: {}\nm: {}\n", ErrInvalidValue},
		{"bad min_run_time", "global:\n  min_run_time: soon\n", ErrInvalidValue},
		{"negative batch", base + "m:\n  batch_sizes: [-1]\n", ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

const base = `
global:
  batch_sizes: [1]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
`

func TestParse_SectionOverridesGlobal(t *testing.T) {
	plan := mustParse(t, `
global:
  batch_sizes: [1]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
  dtype: float16
m:
  batch_sizes: [null, 4]
  threads: 2
  import_from: custom.pkg
  dtype: float64
`)
	require.Len(t, plan.Descriptors, 1)
	d := plan.Descriptors[0]
	assert.Equal(t, []BatchSize{NoBatch(), Batch(4)}, d.BatchSizes)
	assert.Equal(t, []int{2}, d.Threads)
	assert.Equal(t, "custom.pkg", d.ImportFrom)
	assert.Equal(t, tensor.Float64, d.DType)
	assert.Equal(t, []int{8}, d.Resolutions)
}

func TestParse_KeysOnlyInSection(t *testing.T) {
	plan := mustParse(t, `
global: {}
m:
  batch_sizes: [1]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
`)
	require.Len(t, plan.Descriptors, 1)
}

func TestParse_NullSection(t *testing.T) {
	plan := mustParse(t, base+"rgb_to_grayscale:\n")
	require.Len(t, plan.Descriptors, 1)
	assert.Empty(t, plan.Descriptors[0].Kwargs)
}

func TestParse_ShapeRanks(t *testing.T) {
	tests := []struct {
		spec string
		want []int
	}{
		{"[4]", []int{4, 4}},
		{"[2, 3]", []int{2, 3}},
		{"[2, 3, 4]", []int{2, 3, 4}},
		{"[1, 2, 3, 4]", []int{1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			plan := mustParse(t, base+"m:\n  w: {ones: "+tt.spec+"}\n")
			require.Len(t, plan.Descriptors, 1)
			w, ok := plan.Descriptors[0].Kwargs.Get("w")
			require.True(t, ok)
			assert.Equal(t, Deferred{Shape: tt.want}, w)
		})
	}
}

func TestParse_DeferredAlternatives(t *testing.T) {
	plan := mustParse(t, base+"m:\n  k: [1, 2]\n  w: [{ones: [3]}, {ones: [5]}]\n")
	require.Len(t, plan.Descriptors, 4)
	assert.Equal(t, "k=1, w=ones(3, 3)", plan.Descriptors[0].Kwargs.String())
	assert.Equal(t, "k=2, w=ones(5, 5)", plan.Descriptors[3].Kwargs.String())
}

func TestParse_DeferredStaysOutOfProductCount(t *testing.T) {
	plan := mustParse(t, base+"m:\n  w: {ones: [3]}\n  k: [1, 2, 3]\n")
	require.Len(t, plan.Descriptors, 3)
	for _, d := range plan.Descriptors {
		assert.Equal(t, "w", d.Kwargs[0].Name)
	}
}

func TestParse_Literals(t *testing.T) {
	plan := mustParse(t, base+"m:\n  factor: 0.5\n  sigma: [[1.0, 1.0], [2.0, 2.0]]\n  mode: bilinear\n")
	require.Len(t, plan.Descriptors, 2)
	d := plan.Descriptors[0]
	f, _ := d.Kwargs.Get("factor")
	assert.Equal(t, Literal{Value: 0.5}, f)
	s, _ := d.Kwargs.Get("sigma")
	assert.Equal(t, Literal{Value: []any{1.0, 1.0}}, s)
	m, _ := d.Kwargs.Get("mode")
	assert.Equal(t, Literal{Value: "bilinear"}, m)
}

func TestParse_Aliases(t *testing.T) {
	plan := mustParse(t, `
global:
  batch_sizes: &bs [1, 2]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
m:
  batch_sizes: *bs
  k: &ks [3, 5]
n:
  k: *ks
`)
	require.Len(t, plan.Descriptors, 4)
	assert.Equal(t, []BatchSize{Batch(1), Batch(2)}, plan.Descriptors[0].BatchSizes)
}

func TestParse_UnknownModule(t *testing.T) {
	modules := fakeResolver{"opbench.ops.box_blur": true}
	_, err := Parse([]byte(base+"box_blur: {}\n"), modules)
	require.NoError(t, err)

	_, err = Parse([]byte(base+"sharpen: {}\n"), modules)
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestParse_Variants(t *testing.T) {
	plan := mustParse(t, `
global:
  batch_sizes: [1]
  resolutions: [8]
  threads: [1]
  import_from: opbench.ops
  min_run_time: 250ms
  variants:
    - {operator: tensor_op, representation: tensor, device: cpu}
    - {operator: array_op, representation: numpy, device: CPU, optimization: none}
    - {operator: tensor_op, representation: tensor, device: cpu, optimization: parallel}
`)
	assert.Equal(t, 250*time.Millisecond, plan.MinRunTime)
	require.Len(t, plan.Variants, 3)
	assert.Equal(t, VariantSpec{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CPU, Optimization: OptNone}, plan.Variants[0])
	assert.Equal(t, tensor.RepArray, plan.Variants[1].Representation)
	assert.Equal(t, "parallel_tensor_cpu", plan.Variants[2].Description())

	for _, bad := range []string{
		"  variants: []\n",
		"  variants:\n    - {operator: tensor_op, representation: tensor, device: tpu}\n",
		"  variants:\n    - {operator: tensor_op, representation: list, device: cpu}\n",
		"  variants:\n    - {operator: tensor_op, representation: tensor, device: cpu, optimization: jit}\n",
		"  variants:\n    - {representation: tensor, device: cpu}\n",
	} {
		_, err := Parse([]byte("global:\n"+bad), nil)
		assert.ErrorIs(t, err, ErrInvalidVariant, bad)
	}
}

func TestParse_MinRunTimeSeconds(t *testing.T) {
	plan := mustParse(t, "global:\n  min_run_time: 0.5\n")
	assert.Equal(t, 500*time.Millisecond, plan.MinRunTime)
	assert.Empty(t, plan.Descriptors)
}

func TestVariantSpec_Labels(t *testing.T) {
	v := VariantSpec{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CUDA, Optimization: OptNone}
	assert.Equal(t, "tensor_cuda", v.Description())
	assert.Equal(t, "tensor_op at cuda", v.String())
	assert.False(t, v.Optimized())

	v.Optimization = OptIdentity
	assert.Equal(t, "identity_tensor_cuda", v.Description())
	assert.Equal(t, "tensor_op at cuda with optimizer identity", v.String())
}

func TestProduct(t *testing.T) {
	lit := func(vs ...any) []ArgValue {
		out := make([]ArgValue, len(vs))
		for i, v := range vs {
			out[i] = Literal{Value: v}
		}
		return out
	}

	t.Run("empty space", func(t *testing.T) {
		got := Product(nil)
		require.Len(t, got, 1)
		assert.Empty(t, got[0])
	})

	t.Run("last key fastest", func(t *testing.T) {
		got := Product([]ArgSpace{
			{Name: "a", Alternatives: lit(1, 2)},
			{Name: "b", Alternatives: lit("x", "y", "z")},
		})
		require.Len(t, got, 6)
		var rendered []string
		for _, args := range got {
			rendered = append(rendered, args.String())
		}
		assert.Equal(t, []string{
			"a=1, b=x", "a=1, b=y", "a=1, b=z",
			"a=2, b=x", "a=2, b=y", "a=2, b=z",
		}, rendered)
	})

	t.Run("key without alternatives", func(t *testing.T) {
		assert.Empty(t, Product([]ArgSpace{{Name: "a"}}))
	})
}

func TestParseShape(t *testing.T) {
	parse := func(doc string) ([]int, error) {
		var n yaml.Node
		require.NoError(t, yaml.Unmarshal([]byte(doc), &n))
		return ParseShape(n.Content[0])
	}
	got, err := parse("[7]")
	require.NoError(t, err)
	assert.Equal(t, []int{7, 7}, got)

	_, err = parse("[1, 2, 3, 4, 5]")
	assert.ErrorIs(t, err, ErrInvalidShapeSpec)
	_, err = parse("[0]")
	assert.ErrorIs(t, err, ErrInvalidShapeSpec)
	_, err = parse("[a]")
	assert.ErrorIs(t, err, ErrInvalidShapeSpec)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0600))

	plan, err := Load(path, nil)
	require.NoError(t, err)
	assert.Len(t, plan.Descriptors, 8)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBatchSize(t *testing.T) {
	n, ok := NoBatch().Value()
	assert.False(t, ok)
	assert.Zero(t, n)
	assert.Equal(t, "none", NoBatch().String())
	assert.Equal(t, "3", Batch(3).String())
}
