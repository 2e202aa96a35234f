// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inputs materializes the concrete values a trial hands to an
// operator: the primary image input and the resolved keyword arguments.
//
// Deferred arguments are resolved against the same Target as the primary
// input, so an operator always receives inputs of one representation, dtype
// and device.
package inputs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/opbench/services/bench/config"
	"github.com/AleutianAI/opbench/services/bench/tensor"
)

var (
	// ErrNotImplemented indicates an input mode with no materialization.
	ErrNotImplemented = errors.New("input mode not implemented")

	// ErrKwargType indicates a keyword argument of an unexpected type.
	ErrKwargType = errors.New("keyword argument has wrong type")
)

// Channels is the channel count of an RGB primary input.
const Channels = 3

// Target fixes the representation, dtype and device of materialized inputs.
type Target struct {
	Representation tensor.Representation
	DType          tensor.DType
	Device         tensor.Device
}

// String renders "tensor/float32/cpu".
func (t Target) String() string {
	return fmt.Sprintf("%s/%s/%s", t.Representation, t.DType, t.Device)
}

// ---- Kwargs ----

// Kwarg is one resolved keyword argument.
type Kwarg struct {
	Name  string
	Value any
}

// Kwargs is an ordered list of resolved keyword arguments.
type Kwargs []Kwarg

// Get returns the value for name.
func (k Kwargs) Get(name string) (any, bool) {
	for _, kw := range k {
		if kw.Name == name {
			return kw.Value, true
		}
	}
	return nil, false
}

// Int returns name as an int, or def when absent. Integral floats are accepted.
func (k Kwargs) Int(name string, def int) (int, error) {
	v, ok := k.Get(name)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrKwargType, name, v)
}

// Float returns name as a float64, or def when absent.
func (k Kwargs) Float(name string, def float64) (float64, error) {
	v, ok := k.Get(name)
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: %s=%v is not a number", ErrKwargType, name, v)
}

// Values renders argument values the way sub-labels show them: shapes for
// materialized inputs, plain values otherwise.
func (k Kwargs) Values() string {
	parts := make([]string, len(k))
	for i, kw := range k {
		parts[i] = Describe(kw.Value)
	}
	return strings.Join(parts, ", ")
}

// Describe renders a single value as its shape, or with %v when unshaped.
func Describe(v any) string {
	if s, ok := v.(tensor.Shaped); ok {
		return tensor.FormatShape(s.Shape())
	}
	return fmt.Sprintf("%v", v)
}

// ---- Materializer ----

// Materializer builds ones-filled inputs.
type Materializer struct {
	fill float64
}

// New returns a Materializer filling inputs with 1.
func New() *Materializer {
	return &Materializer{fill: 1}
}

// Primary builds the primary input of a trial.
//
// Inputs:
//   - batch: Optional leading batch dimension.
//   - res: Square spatial resolution. Must be positive.
//   - mode: Input mode. Only config.InputRGB is materializable.
//   - t: Target representation, dtype and device.
//
// Outputs:
//   - any: *tensor.Tensor of shape (3, res, res) or (batch, 3, res, res),
//     or the equivalent *tensor.Array.
//   - error: ErrNotImplemented for non-RGB modes, or a tensor error.
func (m *Materializer) Primary(batch config.BatchSize, res int, mode config.InputMode, t Target) (any, error) {
	if mode != config.InputRGB {
		return nil, fmt.Errorf("%w: %q", ErrNotImplemented, mode)
	}
	shape := []int{Channels, res, res}
	if n, ok := batch.Value(); ok {
		shape = append([]int{n}, shape...)
	}
	return m.Ones(shape, t)
}

// Ones builds a ones-filled input of shape in the target representation.
func (m *Materializer) Ones(shape []int, t Target) (any, error) {
	x, err := tensor.Full(shape, m.fill, t.DType, t.Device)
	if err != nil {
		return nil, fmt.Errorf("materialize %s as %s: %w", tensor.FormatShape(shape), t, err)
	}
	switch t.Representation {
	case tensor.RepTensor:
		return x, nil
	case tensor.RepArray:
		return x.ToArray(), nil
	default:
		return nil, fmt.Errorf("%w: %q", tensor.ErrUnknownRepresentation, t.Representation)
	}
}

// Kwargs resolves every deferred argument against t. Literals pass through
// unchanged and order is preserved.
func (m *Materializer) Kwargs(args config.Args, t Target) (Kwargs, error) {
	out := make(Kwargs, len(args))
	for i, arg := range args {
		switch v := arg.Value.(type) {
		case config.Deferred:
			x, err := m.Ones(v.Shape, t)
			if err != nil {
				return nil, fmt.Errorf("kwarg %s: %w", arg.Name, err)
			}
			out[i] = Kwarg{Name: arg.Name, Value: x}
		case config.Literal:
			out[i] = Kwarg{Name: arg.Name, Value: v.Value}
		default:
			return nil, fmt.Errorf("%w: %s has unsupported spec %T", ErrKwargType, arg.Name, arg.Value)
		}
	}
	return out, nil
}
