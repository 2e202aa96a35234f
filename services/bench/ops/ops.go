// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ops holds the built-in image operators the harness ships with.
//
// Every module registers a "tensor_op" working on *tensor.Tensor and, where
// one exists, an "array_op" working on *tensor.Array through gonum. Only the
// cpu placement is computed; tensors on any other device are rejected with
// ErrUnsupportedDevice, which the runner reports as a skipped trial.
package ops

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/opbench/services/bench/registry"
	"github.com/AleutianAI/opbench/services/bench/tensor"
)

// ImportPath is the import_from value under which the built-ins register.
const ImportPath = "opbench.ops"

// Operator names.
const (
	TensorOp = "tensor_op"
	ArrayOp  = "array_op"
)

var (
	// ErrUnsupportedDevice indicates a tensor placed on a device with no backend.
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrShapeMismatch indicates inputs whose shapes the operator cannot combine.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrInputType indicates an input of the wrong representation.
	ErrInputType = errors.New("unexpected input type")

	// ErrInvalidArgument indicates an out-of-range keyword argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Register adds every built-in operator to r under ImportPath.
func Register(r *registry.Registry) error {
	entries := []struct {
		module, operator string
		op               registry.Operator
	}{
		{"box_blur", TensorOp, BoxBlurTensor},
		{"box_blur", ArrayOp, BoxBlurArray},
		{"rgb_to_grayscale", TensorOp, GrayscaleTensor},
		{"rgb_to_grayscale", ArrayOp, GrayscaleArray},
		{"adjust_brightness", TensorOp, AdjustBrightnessTensor},
		{"channel_matmul", TensorOp, ChannelMatmulTensor},
		{"channel_matmul", ArrayOp, ChannelMatmulArray},
	}
	for _, e := range entries {
		if err := r.Register(ImportPath, e.module, e.operator, e.op); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-ins.
func NewRegistry() *registry.Registry {
	r := registry.New()
	if err := Register(r); err != nil {
		panic(fmt.Sprintf("ops: %v", err))
	}
	return r
}

func asTensor(x any) (*tensor.Tensor, error) {
	t, ok := x.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: want *tensor.Tensor, got %T", ErrInputType, x)
	}
	if t.Device() != tensor.CPU {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDevice, t.Device())
	}
	return t, nil
}

func asArray(x any) (*tensor.Array, error) {
	a, ok := x.(*tensor.Array)
	if !ok {
		return nil, fmt.Errorf("%w: want *tensor.Array, got %T", ErrInputType, x)
	}
	return a, nil
}

// planeDims splits a shape into its count of trailing (h, w) planes.
func planeDims(shape []int) (planes, h, w int, err error) {
	if len(shape) < 2 {
		return 0, 0, 0, fmt.Errorf("%w: need at least 2 dimensions, got %s", ErrShapeMismatch, tensor.FormatShape(shape))
	}
	h, w = shape[len(shape)-2], shape[len(shape)-1]
	return tensor.NumElements(shape[:len(shape)-2]), h, w, nil
}

// clamp limits i to [0, n).
func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
