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
	"gonum.org/v1/gonum/mat"
)

// ITU-R BT.601 luma weights.
var lumaWeights = [3]float64{0.299, 0.587, 0.114}

// grayShape checks for a (..., 3, h, w) layout and returns the output shape
// (..., 1, h, w) and the number of leading images.
func grayShape(shape []int) ([]int, int, error) {
	rank := len(shape)
	if rank < 3 || shape[rank-3] != 3 {
		return nil, 0, fmt.Errorf("%w: want (..., 3, H, W), got %s", ErrShapeMismatch, tensor.FormatShape(shape))
	}
	out := append([]int(nil), shape...)
	out[rank-3] = 1
	return out, tensor.NumElements(shape[:rank-3]), nil
}

// GrayscaleTensor converts RGB images to single-channel luma.
func GrayscaleTensor(_ context.Context, x any, _ inputs.Kwargs) (any, error) {
	src, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	outShape, images, err := grayShape(src.Shape())
	if err != nil {
		return nil, err
	}
	dst, err := tensor.Zeros(outShape, src.DType(), src.Device())
	if err != nil {
		return nil, err
	}
	plane := outShape[len(outShape)-2] * outShape[len(outShape)-1]
	for img := 0; img < images; img++ {
		in := img * 3 * plane
		for i := 0; i < plane; i++ {
			v := lumaWeights[0]*src.At(in+i) +
				lumaWeights[1]*src.At(in+plane+i) +
				lumaWeights[2]*src.At(in+2*plane+i)
			dst.Set(img*plane+i, v)
		}
	}
	return dst, nil
}

// GrayscaleArray converts RGB arrays to luma with gonum plane arithmetic.
func GrayscaleArray(_ context.Context, x any, _ inputs.Kwargs) (any, error) {
	src, err := asArray(x)
	if err != nil {
		return nil, err
	}
	outShape, images, err := grayShape(src.Shape())
	if err != nil {
		return nil, err
	}
	dst, err := tensor.NewArray(outShape, make([]float64, tensor.NumElements(outShape)), src.DType())
	if err != nil {
		return nil, err
	}
	var scaled mat.Dense
	for img := 0; img < images; img++ {
		out, err := dst.Plane(img)
		if err != nil {
			return nil, err
		}
		for c, weight := range lumaWeights {
			in, err := src.Plane(img*3 + c)
			if err != nil {
				return nil, err
			}
			scaled.Scale(weight, in)
			out.Add(out, &scaled)
		}
	}
	return dst, nil
}

// AdjustBrightnessTensor adds factor to every element and clamps to [0, 1].
func AdjustBrightnessTensor(_ context.Context, x any, kwargs inputs.Kwargs) (any, error) {
	src, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	factor, err := kwargs.Float("factor", 0)
	if err != nil {
		return nil, err
	}
	dst := src.Clone()
	for i := 0; i < dst.Len(); i++ {
		v := dst.At(i) + factor
		switch {
		case v < 0:
			v = 0
		case v > 1:
			v = 1
		}
		dst.Set(i, v)
	}
	return dst, nil
}
