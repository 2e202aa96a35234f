// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tensor provides the two input representations the harness hands to
// benchmarked operators: a dtype-aware Tensor carrying a device placement tag,
// and a host-resident dense Array.
//
// Only the cpu placement has a compute backend in this module. Tensors placed
// on other devices keep their data on the host and exist so that operators can
// reject them the way a real backend rejects an unavailable accelerator.
package tensor

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidShape indicates a shape with no dimensions or a non-positive dimension.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrUnknownDType indicates a dtype name that is not supported.
	ErrUnknownDType = errors.New("unknown dtype")

	// ErrUnknownDevice indicates a device name that is not supported.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrUnknownRepresentation indicates a representation name that is not supported.
	ErrUnknownRepresentation = errors.New("unknown representation")

	// ErrShapeMismatch indicates two tensors whose shapes cannot be combined.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// DType is the element type of a Tensor.
type DType string

const (
	Float16 DType = "float16"
	Float32 DType = "float32"
	Float64 DType = "float64"
)

// ParseDType converts a config string into a DType.
func ParseDType(s string) (DType, error) {
	switch DType(strings.ToLower(s)) {
	case Float16:
		return Float16, nil
	case Float32:
		return Float32, nil
	case Float64:
		return Float64, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDType, s)
	}
}

// Device is the placement tag of a Tensor.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// ParseDevice converts a config string into a Device.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(s)) {
	case CPU:
		return CPU, nil
	case CUDA:
		return CUDA, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDevice, s)
	}
}

// Representation selects the concrete type inputs are materialized as.
type Representation string

const (
	// RepTensor materializes *Tensor values on the requested device.
	RepTensor Representation = "tensor"

	// RepArray materializes *Array values in host memory.
	RepArray Representation = "array"
)

// ParseRepresentation converts a config string into a Representation.
func ParseRepresentation(s string) (Representation, error) {
	switch Representation(strings.ToLower(s)) {
	case RepTensor:
		return RepTensor, nil
	case RepArray, "numpy":
		return RepArray, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRepresentation, s)
	}
}

// Shaped is implemented by values that report a shape. The runner uses it to
// build sub-labels from materialized arguments.
type Shaped interface {
	Shape() []int
}

// FormatShape renders a shape the way sub-labels show it, e.g. "(2, 3, 4)".
func FormatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprintf("%d", d)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// NumElements returns the number of elements of a shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func validateShape(shape []int) error {
	if len(shape) == 0 {
		return fmt.Errorf("%w: no dimensions", ErrInvalidShape)
	}
	for i, d := range shape {
		if d <= 0 {
			return fmt.Errorf("%w: dimension %d is %d", ErrInvalidShape, i, d)
		}
	}
	return nil
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
