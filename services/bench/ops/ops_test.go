// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ops

import (
	"context"
	"testing"

	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/AleutianAI/opbench/services/bench/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func seq(shape []int) []float64 {
	n := tensor.NumElements(shape)
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i%7) / 7
	}
	return out
}

func mustTensor(t *testing.T, shape []int, values []float64, device tensor.Device) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromValues(shape, values, tensor.Float64, device)
	require.NoError(t, err)
	return x
}

func values(t *testing.T, out any) []float64 {
	t.Helper()
	switch v := out.(type) {
	case *tensor.Tensor:
		return v.Values()
	case *tensor.Array:
		return v.Data()
	}
	t.Fatalf("unexpected output %T", out)
	return nil
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{
		"opbench.ops.adjust_brightness",
		"opbench.ops.box_blur",
		"opbench.ops.channel_matmul",
		"opbench.ops.rgb_to_grayscale",
	}, r.Modules())
	assert.Equal(t, []string{TensorOp}, r.Operators("opbench.ops.adjust_brightness"))
	assert.Equal(t, []string{ArrayOp, TensorOp}, r.Operators("opbench.ops.box_blur"))
	assert.Error(t, Register(r))
}

func TestBoxBlur(t *testing.T) {
	x := mustTensor(t, []int{1, 3, 3}, []float64{
		0, 0, 0,
		0, 9, 0,
		0, 0, 0,
	}, tensor.CPU)
	kw := inputs.Kwargs{{Name: "kernel_size", Value: 3}}

	out, err := BoxBlurTensor(ctx, x, kw)
	require.NoError(t, err)
	got := values(t, out)
	assert.InDelta(t, 1.0, got[4], 1e-12)
	// Corner (0,0) sees the center once through its clamped window.
	assert.InDelta(t, 1.0, got[0], 1e-12)

	ones, err := tensor.Ones([]int{2, 3, 5, 5}, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	out, err = BoxBlurTensor(ctx, ones, inputs.Kwargs{{Name: "kernel_size", Value: 5}})
	require.NoError(t, err)
	for _, v := range values(t, out) {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestBoxBlur_TensorArrayAgree(t *testing.T) {
	shape := []int{2, 3, 6, 5}
	x := mustTensor(t, shape, seq(shape), tensor.CPU)
	for _, k := range []int{1, 3, 5} {
		kw := inputs.Kwargs{{Name: "kernel_size", Value: k}}
		a, err := BoxBlurTensor(ctx, x, kw)
		require.NoError(t, err)
		b, err := BoxBlurArray(ctx, x.ToArray(), kw)
		require.NoError(t, err)
		assert.InDeltaSlice(t, values(t, a), values(t, b), 1e-9, "kernel %d", k)
	}
}

func TestBoxBlur_Errors(t *testing.T) {
	x := mustTensor(t, []int{3, 4, 4}, seq([]int{3, 4, 4}), tensor.CPU)

	_, err := BoxBlurTensor(ctx, x, inputs.Kwargs{{Name: "kernel_size", Value: 4}})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = BoxBlurTensor(ctx, x, inputs.Kwargs{{Name: "kernel_size", Value: "big"}})
	assert.ErrorIs(t, err, inputs.ErrKwargType)

	_, err = BoxBlurTensor(ctx, x.To(tensor.CUDA), nil)
	assert.ErrorIs(t, err, ErrUnsupportedDevice)

	_, err = BoxBlurTensor(ctx, x.ToArray(), nil)
	assert.ErrorIs(t, err, ErrInputType)

	_, err = BoxBlurArray(ctx, x, nil)
	assert.ErrorIs(t, err, ErrInputType)

	flat := mustTensor(t, []int{4}, []float64{1, 2, 3, 4}, tensor.CPU)
	_, err = BoxBlurTensor(ctx, flat, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestGrayscale(t *testing.T) {
	x := mustTensor(t, []int{3, 1, 2}, []float64{
		1, 0,
		1, 0,
		1, 1,
	}, tensor.CPU)
	out, err := GrayscaleTensor(ctx, x, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, out.(*tensor.Tensor).Shape())
	assert.InDeltaSlice(t, []float64{1, 0.114}, values(t, out), 1e-12)

	arr, err := GrayscaleArray(ctx, x.ToArray(), nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, values(t, out), values(t, arr), 1e-12)
}

func TestGrayscale_Batched(t *testing.T) {
	shape := []int{2, 3, 4, 4}
	x := mustTensor(t, shape, seq(shape), tensor.CPU)

	a, err := GrayscaleTensor(ctx, x, nil)
	require.NoError(t, err)
	b, err := GrayscaleArray(ctx, x.ToArray(), nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 4, 4}, b.(*tensor.Array).Shape())
	assert.InDeltaSlice(t, values(t, a), values(t, b), 1e-12)

	bad := mustTensor(t, []int{4, 2, 2}, seq([]int{4, 2, 2}), tensor.CPU)
	_, err = GrayscaleTensor(ctx, bad, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestAdjustBrightness(t *testing.T) {
	x := mustTensor(t, []int{1, 1, 3}, []float64{0, 0.5, 0.9}, tensor.CPU)

	out, err := AdjustBrightnessTensor(ctx, x, inputs.Kwargs{{Name: "factor", Value: 0.25}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.75, 1}, values(t, out), 1e-12)
	assert.Equal(t, []float64{0, 0.5, 0.9}, x.Values())

	out, err = AdjustBrightnessTensor(ctx, x, inputs.Kwargs{{Name: "factor", Value: -1}})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, values(t, out))

	_, err = AdjustBrightnessTensor(ctx, x, inputs.Kwargs{{Name: "factor", Value: "bright"}})
	assert.ErrorIs(t, err, inputs.ErrKwargType)
}

func TestChannelMatmul(t *testing.T) {
	x := mustTensor(t, []int{2, 2, 3}, []float64{
		1, 2, 3,
		4, 5, 6,
		1, 0, 0,
		0, 1, 0,
	}, tensor.CPU)
	w := mustTensor(t, []int{3, 2}, []float64{
		1, 0,
		0, 1,
		1, 1,
	}, tensor.CPU)

	out, err := ChannelMatmulTensor(ctx, x, inputs.Kwargs{{Name: "weight", Value: w}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2, 2}, out.(*tensor.Tensor).Shape())
	want := []float64{4, 5, 10, 11, 1, 0, 0, 1}
	assert.InDeltaSlice(t, want, values(t, out), 1e-12)

	arr, err := ChannelMatmulArray(ctx, x.ToArray(), inputs.Kwargs{{Name: "weight", Value: w.ToArray()}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, values(t, arr), 1e-12)
}

func TestChannelMatmul_Errors(t *testing.T) {
	x := mustTensor(t, []int{3, 4, 4}, seq([]int{3, 4, 4}), tensor.CPU)
	wrong := mustTensor(t, []int{3, 3}, seq([]int{3, 3}), tensor.CPU)
	cube := mustTensor(t, []int{4, 4, 4}, seq([]int{4, 4, 4}), tensor.CPU)

	_, err := ChannelMatmulTensor(ctx, x, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ChannelMatmulTensor(ctx, x, inputs.Kwargs{{Name: "weight", Value: wrong}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = ChannelMatmulTensor(ctx, x, inputs.Kwargs{{Name: "weight", Value: cube}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = ChannelMatmulArray(ctx, x.ToArray(), inputs.Kwargs{{Name: "weight", Value: wrong}})
	assert.ErrorIs(t, err, ErrInputType)
}
