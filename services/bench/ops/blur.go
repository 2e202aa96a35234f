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

const defaultKernelSize = 3

func kernelSize(kwargs inputs.Kwargs) (int, error) {
	k, err := kwargs.Int("kernel_size", defaultKernelSize)
	if err != nil {
		return 0, err
	}
	if k <= 0 || k%2 == 0 {
		return 0, fmt.Errorf("%w: kernel_size %d must be odd and positive", ErrInvalidArgument, k)
	}
	return k, nil
}

// BoxBlurTensor averages each pixel over a kernel_size x kernel_size window
// of its plane, replicating edge pixels.
func BoxBlurTensor(_ context.Context, x any, kwargs inputs.Kwargs) (any, error) {
	src, err := asTensor(x)
	if err != nil {
		return nil, err
	}
	k, err := kernelSize(kwargs)
	if err != nil {
		return nil, err
	}
	planes, h, w, err := planeDims(src.Shape())
	if err != nil {
		return nil, err
	}

	dst, err := tensor.Zeros(src.Shape(), src.DType(), src.Device())
	if err != nil {
		return nil, err
	}
	r := k / 2
	norm := 1 / float64(k*k)
	for p := 0; p < planes; p++ {
		off := p * h * w
		for y := 0; y < h; y++ {
			for xx := 0; xx < w; xx++ {
				var sum float64
				for dy := -r; dy <= r; dy++ {
					row := off + clamp(y+dy, h)*w
					for dx := -r; dx <= r; dx++ {
						sum += src.At(row + clamp(xx+dx, w))
					}
				}
				dst.Set(off+y*w+xx, sum*norm)
			}
		}
	}
	return dst, nil
}

// BoxBlurArray is BoxBlurTensor for arrays, done as two separable passes
// over gonum plane views.
func BoxBlurArray(_ context.Context, x any, kwargs inputs.Kwargs) (any, error) {
	src, err := asArray(x)
	if err != nil {
		return nil, err
	}
	k, err := kernelSize(kwargs)
	if err != nil {
		return nil, err
	}
	planes, h, w, err := planeDims(src.Shape())
	if err != nil {
		return nil, err
	}

	dst, err := tensor.NewArray(src.Shape(), make([]float64, src.Len()), src.DType())
	if err != nil {
		return nil, err
	}
	r := k / 2
	tmp := mat.NewDense(h, w, nil)
	for p := 0; p < planes; p++ {
		in, err := src.Plane(p)
		if err != nil {
			return nil, err
		}
		out, err := dst.Plane(p)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			row := in.RawRowView(y)
			trow := tmp.RawRowView(y)
			for xx := 0; xx < w; xx++ {
				var sum float64
				for dx := -r; dx <= r; dx++ {
					sum += row[clamp(xx+dx, w)]
				}
				trow[xx] = sum / float64(k)
			}
		}
		for y := 0; y < h; y++ {
			orow := out.RawRowView(y)
			for xx := 0; xx < w; xx++ {
				var sum float64
				for dy := -r; dy <= r; dy++ {
					sum += tmp.At(clamp(y+dy, h), xx)
				}
				orow[xx] = sum / float64(k)
			}
		}
	}
	return dst, nil
}
