// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Array is a host-resident dense array. Data is stored as float64 in
// row-major order; the dtype records the type it was converted from.
type Array struct {
	shape []int
	dtype DType
	data  []float64
}

// NewArray wraps data in an Array of the given shape. The slice is not copied.
func NewArray(shape []int, data []float64, dtype DType) (*Array, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	if NumElements(shape) != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(data), FormatShape(shape))
	}
	return &Array{shape: append([]int(nil), shape...), dtype: dtype, data: data}, nil
}

// Shape returns a copy of the array's dimensions.
func (a *Array) Shape() []int { return append([]int(nil), a.shape...) }

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.shape) }

// DType returns the dtype the array was converted from.
func (a *Array) DType() DType { return a.dtype }

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.data) }

// At returns the element at flat index i.
func (a *Array) At(i int) float64 { return a.data[i] }

// Data returns the backing slice. Writes are visible through the array.
func (a *Array) Data() []float64 { return a.data }

// Matrix returns a gonum view over a 2-D array sharing its storage.
func (a *Array) Matrix() (*mat.Dense, error) {
	if a.Rank() != 2 {
		return nil, fmt.Errorf("%w: matrix view needs rank 2, got %s", ErrInvalidShape, FormatShape(a.shape))
	}
	return mat.NewDense(a.shape[0], a.shape[1], a.data), nil
}

// NumPlanes returns how many trailing 2-D planes the array holds.
func (a *Array) NumPlanes() int {
	if a.Rank() < 2 {
		return 0
	}
	return NumElements(a.shape[:a.Rank()-2])
}

// Plane returns a gonum view over the k-th trailing 2-D plane, counting
// planes in row-major order over the leading dimensions. For a (C, H, W)
// array Plane(c) is channel c.
func (a *Array) Plane(k int) (*mat.Dense, error) {
	if a.Rank() < 2 {
		return nil, fmt.Errorf("%w: plane view needs rank >= 2, got %s", ErrInvalidShape, FormatShape(a.shape))
	}
	h, w := a.shape[a.Rank()-2], a.shape[a.Rank()-1]
	if k < 0 || k >= a.NumPlanes() {
		return nil, fmt.Errorf("plane %d out of range [0, %d)", k, a.NumPlanes())
	}
	return mat.NewDense(h, w, a.data[k*h*w:(k+1)*h*w]), nil
}

// String implements fmt.Stringer.
func (a *Array) String() string {
	return fmt.Sprintf("array(shape=%s, dtype=%s)", FormatShape(a.shape), a.dtype)
}
