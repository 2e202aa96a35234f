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
	"fmt"

	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/AleutianAI/opbench/services/bench/tensor"
)

// matmulShape validates x (..., h, w) against weight (w, k) and returns the
// output shape (..., h, k).
func matmulShape(x, weight []int) ([]int, error) {
	if len(weight) != 2 {
		return nil, fmt.Errorf("%w: weight must be 2-D, got %s", ErrShapeMismatch, tensor.FormatShape(weight))
	}
	if len(x) < 2 || x[len(x)-1] != weight[0] {
		return nil, fmt.Errorf("%w: cannot multiply %s by %s", ErrShapeMismatch, tensor.FormatShape(x), tensor.FormatShape(weight))
	}
	out := append([]int(nil), x...)
	out[len(out)-1] = weight[1]
	return out, nil
}

// ChannelMatmulTensor multiplies every trailing plane of x by the weight
// kwarg with a naive triple loop.
func ChannelMatmulTensor(_ context.Context, x any, kwargs inputs.Kwargs) (any, error) {
	src, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	raw, ok := kwargs.Get("weight")
	if !ok {
		return nil, fmt.Errorf("%w: weight is required", ErrInvalidArgument)
	}
	weight, err := asTensor(raw)
	if err != nil {
		return nil, fmt.Errorf("weight: %w", err)
	}
	outShape, err := matmulShape(src.Shape(), weight.Shape())
	if err != nil {
		return nil, err
	}
	planes, h, w, _ := planeDims(src.Shape())
	k := outShape[len(outShape)-1]

	dst, err := tensor.Zeros(outShape, src.DType(), src.Device())
	if err != nil {
		return nil, err
	}
	for p := 0; p < planes; p++ {
		in, out := p*h*w, p*h*k
		for i := 0; i < h; i++ {
			for j := 0; j < k; j++ {
				var sum float64
				for l := 0; l < w; l++ {
					sum += src.At(in+i*w+l) * weight.At(l*k+j)
				}
				dst.Set(out+i*k+j, sum)
			}
		}
	}
	return dst, nil
}

// ChannelMatmulArray multiplies every trailing plane of x by the weight
// kwarg with gonum.
func ChannelMatmulArray(_ context.Context, x any, kwargs inputs.Kwargs) (any, error) {
	src, err := asArray(x)
	if err != nil {
		return nil, err
	}
	raw, ok := kwargs.Get("weight")
	if !ok {
		return nil, fmt.Errorf("%w: weight is required", ErrInvalidArgument)
	}
	weight, err := asArray(raw)
	if err != nil {
		return nil, fmt.Errorf("weight: %w", err)
	}
	outShape, err := matmulShape(src.Shape(), weight.Shape())
	if err != nil {
		return nil, err
	}
	wm, err := weight.Matrix()
	if err != nil {
		return nil, err
	}

	dst, err := tensor.NewArray(outShape, make([]float64, tensor.NumElements(outShape)), src.DType())
	if err != nil {
		return nil, err
	}
	for p := 0; p < src.NumPlanes(); p++ {
		in, err := src.Plane(p)
		if err != nil {
			return nil, err
		}
		out, err := dst.Plane(p)
		if err != nil {
			return nil, err
		}
		out.Mul(in, wm)
	}
	return dst, nil
}
