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

	"github.com/x448/float16"
)

// Tensor is a dense N-D tensor with dtype-specific storage.
//
// Exactly one of the storage slices is populated, selected by the dtype.
// Element access goes through At and Set, which convert through float64.
type Tensor struct {
	shape  []int
	dtype  DType
	device Device

	f16 []float16.Float16
	f32 []float32
	f64 []float64
}

// Full creates a tensor of the given shape with every element set to value.
//
// Inputs:
//   - shape: Dimensions. Must be non-empty with positive entries.
//   - value: Fill value, converted to the dtype.
//   - dtype: Element type.
//   - device: Placement tag.
//
// Outputs:
//   - *Tensor: The new tensor.
//   - error: ErrInvalidShape or ErrUnknownDType.
func Full(shape []int, value float64, dtype DType, device Device) (*Tensor, error) {
	t, err := newTensor(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	for i := 0; i < t.Len(); i++ {
		t.Set(i, value)
	}
	return t, nil
}

// Ones creates a tensor filled with 1.
func Ones(shape []int, dtype DType, device Device) (*Tensor, error) {
	return Full(shape, 1, dtype, device)
}

// Zeros creates a tensor filled with 0.
func Zeros(shape []int, dtype DType, device Device) (*Tensor, error) {
	return newTensor(shape, dtype, device)
}

// FromValues creates a tensor holding a copy of values converted to dtype.
func FromValues(shape []int, values []float64, dtype DType, device Device) (*Tensor, error) {
	t, err := newTensor(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	if len(values) != t.Len() {
		return nil, fmt.Errorf("%w: %d values for shape %s", ErrShapeMismatch, len(values), FormatShape(shape))
	}
	for i, v := range values {
		t.Set(i, v)
	}
	return t, nil
}

func newTensor(shape []int, dtype DType, device Device) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}
	n := NumElements(shape)
	t := &Tensor{
		shape:  append([]int(nil), shape...),
		dtype:  dtype,
		device: device,
	}
	switch dtype {
	case Float16:
		t.f16 = make([]float16.Float16, n)
	case Float32:
		t.f32 = make([]float32, n)
	case Float64:
		t.f64 = make([]float64, n)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDType, dtype)
	}
	return t, nil
}

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// DType returns the element type.
func (t *Tensor) DType() DType { return t.dtype }

// Device returns the placement tag.
func (t *Tensor) Device() Device { return t.device }

// Len returns the number of elements.
func (t *Tensor) Len() int {
	switch t.dtype {
	case Float16:
		return len(t.f16)
	case Float32:
		return len(t.f32)
	default:
		return len(t.f64)
	}
}

// At returns the element at flat index i.
func (t *Tensor) At(i int) float64 {
	switch t.dtype {
	case Float16:
		return float64(t.f16[i].Float32())
	case Float32:
		return float64(t.f32[i])
	default:
		return t.f64[i]
	}
}

// Set stores v at flat index i, rounding to the tensor's dtype.
func (t *Tensor) Set(i int, v float64) {
	switch t.dtype {
	case Float16:
		t.f16[i] = float16.Fromfloat32(float32(v))
	case Float32:
		t.f32[i] = float32(v)
	default:
		t.f64[i] = v
	}
}

// Values returns a float64 copy of all elements in row-major order.
func (t *Tensor) Values() []float64 {
	out := make([]float64, t.Len())
	for i := range out {
		out[i] = t.At(i)
	}
	return out
}

// Clone returns a deep copy with the same placement.
func (t *Tensor) Clone() *Tensor {
	return t.To(t.device)
}

// To returns a deep copy placed on device.
func (t *Tensor) To(device Device) *Tensor {
	c := &Tensor{
		shape:  append([]int(nil), t.shape...),
		dtype:  t.dtype,
		device: device,
	}
	switch t.dtype {
	case Float16:
		c.f16 = append([]float16.Float16(nil), t.f16...)
	case Float32:
		c.f32 = append([]float32(nil), t.f32...)
	default:
		c.f64 = append([]float64(nil), t.f64...)
	}
	return c
}

// ToArray detaches the tensor into a host Array. The array is always a copy,
// so later writes to either side are not shared.
func (t *Tensor) ToArray() *Array {
	return &Array{
		shape: append([]int(nil), t.shape...),
		dtype: t.dtype,
		data:  t.Values(),
	}
}

// Unbind splits the tensor along its leading dimension into copies of rank-1
// lower tensors.
func (t *Tensor) Unbind() ([]*Tensor, error) {
	if t.Rank() < 2 {
		return nil, fmt.Errorf("%w: cannot unbind rank %d tensor", ErrInvalidShape, t.Rank())
	}
	inner := t.shape[1:]
	step := NumElements(inner)
	parts := make([]*Tensor, t.shape[0])
	for b := range parts {
		part, err := newTensor(inner, t.dtype, t.device)
		if err != nil {
			return nil, err
		}
		for i := 0; i < step; i++ {
			part.Set(i, t.At(b*step+i))
		}
		parts[b] = part
	}
	return parts, nil
}

// Stack joins same-shaped tensors along a new leading dimension.
func Stack(parts []*Tensor) (*Tensor, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrInvalidShape)
	}
	first := parts[0]
	shape := append([]int{len(parts)}, first.shape...)
	out, err := newTensor(shape, first.dtype, first.device)
	if err != nil {
		return nil, err
	}
	step := first.Len()
	for b, p := range parts {
		if !sameShape(p.shape, first.shape) {
			return nil, fmt.Errorf("%w: part %d has shape %s, want %s",
				ErrShapeMismatch, b, FormatShape(p.shape), FormatShape(first.shape))
		}
		for i := 0; i < step; i++ {
			out.Set(b*step+i, p.At(i))
		}
	}
	return out, nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(shape=%s, dtype=%s, device=%s)", FormatShape(t.shape), t.dtype, t.device)
}
