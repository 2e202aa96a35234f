// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package optimize provides the optimization variants a benchmark sweep can
// wrap operators in. A transform may fail up front, or the wrapped operator
// may fail on the first call; the runner's probe treats both as a skip.
package optimize

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/AleutianAI/opbench/services/bench/config"
	"github.com/AleutianAI/opbench/services/bench/inputs"
	"github.com/AleutianAI/opbench/services/bench/registry"
	"github.com/AleutianAI/opbench/services/bench/tensor"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotApplicable indicates the transform cannot handle the inputs it was given.
	ErrNotApplicable = errors.New("optimization not applicable")

	// ErrUnknownOptimization indicates a name with no registered variant.
	ErrUnknownOptimization = errors.New("unknown optimization")
)

// Transform wraps an operator. A nil Transform leaves the operator as-is.
type Transform func(op registry.Operator) (registry.Operator, error)

// Variant is a named optimization.
type Variant struct {
	Name      string
	Label     string
	Transform Transform
}

// Apply wraps op with the variant's transform.
func (v Variant) Apply(op registry.Operator) (registry.Operator, error) {
	if v.Transform == nil {
		return op, nil
	}
	wrapped, err := v.Transform(op)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", v.Name, err)
	}
	return wrapped, nil
}

// Set holds the variants available to a runner, keyed by name.
//
// Thread Safety: Safe for concurrent use.
type Set struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

// NewSet creates a set holding vs.
func NewSet(vs ...Variant) *Set {
	s := &Set{variants: make(map[string]Variant, len(vs))}
	for _, v := range vs {
		s.variants[v.Name] = v
	}
	return s
}

// DefaultSet returns the built-in variants: none, identity and parallel.
func DefaultSet() *Set {
	return NewSet(None(), Identity(), Parallel())
}

// Add registers or replaces v.
func (s *Set) Add(v Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.Name] = v
}

// Get returns the variant called name. An empty name is config.OptNone.
func (s *Set) Get(name string) (Variant, error) {
	if name == "" {
		name = config.OptNone
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.variants[name]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownOptimization, name)
	}
	return v, nil
}

// Names returns the registered names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.variants))
	for name := range s.variants {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ---- Built-in variants ----

// None runs operators unwrapped.
func None() Variant {
	return Variant{Name: config.OptNone, Label: ""}
}

// Identity wraps operators in a pass-through closure. It measures the cost
// of the wrapping itself.
func Identity() Variant {
	return Variant{
		Name:  config.OptIdentity,
		Label: "with optimizer identity",
		Transform: func(op registry.Operator) (registry.Operator, error) {
			return func(ctx context.Context, x any, kwargs inputs.Kwargs) (any, error) {
				return op(ctx, x, kwargs)
			}, nil
		},
	}
}

// Parallel splits a batched tensor along its leading dimension and runs the
// operator on each item concurrently, at most GOMAXPROCS at a time. Inputs
// that are not batched tensors fail with ErrNotApplicable.
func Parallel() Variant {
	return Variant{
		Name:      config.OptParallel,
		Label:     "with optimizer parallel",
		Transform: parallelTransform,
	}
}

// batchedRank is the rank of a (batch, channels, h, w) tensor.
const batchedRank = 4

func parallelTransform(op registry.Operator) (registry.Operator, error) {
	return func(ctx context.Context, x any, kwargs inputs.Kwargs) (any, error) {
		t, ok := x.(*tensor.Tensor)
		if !ok {
			return nil, fmt.Errorf("%w: input is %T, not a tensor", ErrNotApplicable, x)
		}
		if t.Rank() < batchedRank {
			return nil, fmt.Errorf("%w: input %s has no batch dimension", ErrNotApplicable, tensor.FormatShape(t.Shape()))
		}
		items, err := t.Unbind()
		if err != nil {
			return nil, err
		}

		outs := make([]*tensor.Tensor, len(items))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, item := range items {
			g.Go(func() error {
				out, err := op(gctx, item, kwargs)
				if err != nil {
					return err
				}
				ot, ok := out.(*tensor.Tensor)
				if !ok {
					return fmt.Errorf("%w: operator returned %T", ErrNotApplicable, out)
				}
				outs[i] = ot
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return tensor.Stack(outs)
	}, nil
}
