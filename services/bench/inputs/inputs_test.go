// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package inputs

import (
	"testing"

	"github.com/AleutianAI/opbench/services/bench/config"
	"github.com/AleutianAI/opbench/services/bench/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tensorCPU = Target{Representation: tensor.RepTensor, DType: tensor.Float32, Device: tensor.CPU}
	arrayCPU  = Target{Representation: tensor.RepArray, DType: tensor.Float32, Device: tensor.CPU}
)

func TestPrimary_Shapes(t *testing.T) {
	m := New()

	x, err := m.Primary(config.NoBatch(), 8, config.InputRGB, tensorCPU)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 8, 8}, x.(*tensor.Tensor).Shape())

	x, err = m.Primary(config.Batch(2), 8, config.InputRGB, tensorCPU)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8, 8}, x.(*tensor.Tensor).Shape())

	x, err = m.Primary(config.Batch(2), 4, config.InputRGB, arrayCPU)
	require.NoError(t, err)
	arr, ok := x.(*tensor.Array)
	require.True(t, ok)
	assert.Equal(t, []int{2, 3, 4, 4}, arr.Shape())
}

func TestPrimary_NonRGB(t *testing.T) {
	_, err := New().Primary(config.NoBatch(), 8, config.InputGray, tensorCPU)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestPrimary_DeviceAndDType(t *testing.T) {
	target := Target{Representation: tensor.RepTensor, DType: tensor.Float16, Device: tensor.CUDA}
	x, err := New().Primary(config.Batch(1), 2, config.InputRGB, target)
	require.NoError(t, err)
	tt := x.(*tensor.Tensor)
	assert.Equal(t, tensor.CUDA, tt.Device())
	assert.Equal(t, tensor.Float16, tt.DType())
	assert.Equal(t, 1.0, tt.At(0))
}

func TestRepresentationsAreValueEqual(t *testing.T) {
	m := New()
	for _, dt := range []tensor.DType{tensor.Float16, tensor.Float32, tensor.Float64} {
		t.Run(string(dt), func(t *testing.T) {
			xt, err := m.Ones([]int{2, 3, 4}, Target{Representation: tensor.RepTensor, DType: dt, Device: tensor.CPU})
			require.NoError(t, err)
			xa, err := m.Ones([]int{2, 3, 4}, Target{Representation: tensor.RepArray, DType: dt, Device: tensor.CPU})
			require.NoError(t, err)

			assert.Equal(t, xt.(*tensor.Tensor).Shape(), xa.(*tensor.Array).Shape())
			assert.Equal(t, xt.(*tensor.Tensor).Values(), xa.(*tensor.Array).Data())
		})
	}
}

func TestOnes_Errors(t *testing.T) {
	_, err := New().Ones([]int{0}, tensorCPU)
	assert.ErrorIs(t, err, tensor.ErrInvalidShape)

	_, err = New().Ones([]int{2}, Target{Representation: "list", DType: tensor.Float32, Device: tensor.CPU})
	assert.ErrorIs(t, err, tensor.ErrUnknownRepresentation)
}

func TestKwargs(t *testing.T) {
	args := config.Args{
		{Name: "weight", Value: config.Deferred{Shape: []int{4, 4}}},
		{Name: "kernel_size", Value: config.Literal{Value: 3}},
		{Name: "mode", Value: config.Literal{Value: "reflect"}},
	}

	kw, err := New().Kwargs(args, arrayCPU)
	require.NoError(t, err)
	require.Len(t, kw, 3)
	assert.Equal(t, "weight", kw[0].Name)
	w, ok := kw[0].Value.(*tensor.Array)
	require.True(t, ok)
	assert.Equal(t, []int{4, 4}, w.Shape())
	assert.Equal(t, "(4, 4), 3, reflect", kw.Values())

	kw, err = New().Kwargs(args, tensorCPU)
	require.NoError(t, err)
	_, ok = kw[0].Value.(*tensor.Tensor)
	assert.True(t, ok)

	empty, err := New().Kwargs(nil, tensorCPU)
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, "", empty.Values())
}

func TestKwargs_Accessors(t *testing.T) {
	kw := Kwargs{
		{Name: "k", Value: 5},
		{Name: "f", Value: 0.25},
		{Name: "whole", Value: 3.0},
		{Name: "s", Value: "x"},
	}

	n, err := kw.Int("k", 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = kw.Int("whole", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = kw.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = kw.Int("f", 0)
	assert.ErrorIs(t, err, ErrKwargType)

	f, err := kw.Float("k", 0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, f)

	_, err = kw.Float("s", 0)
	assert.ErrorIs(t, err, ErrKwargType)
}
