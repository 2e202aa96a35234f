// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps (import path, module, operator) to benchmarkable
// operator functions.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/opbench/services/bench/inputs"
)

var (
	// ErrNilOperator indicates a nil operator was registered.
	ErrNilOperator = errors.New("operator is nil")

	// ErrEmptyName indicates an empty import path, module or operator name.
	ErrEmptyName = errors.New("empty registry name")

	// ErrAlreadyRegistered indicates the operator name is taken for the module.
	ErrAlreadyRegistered = errors.New("operator already registered")

	// ErrModuleNotFound indicates no operators are registered for the module.
	ErrModuleNotFound = errors.New("module not found")

	// ErrOperatorNotFound indicates the module lacks the requested operator.
	ErrOperatorNotFound = errors.New("operator not found")
)

// Operator is a benchmarkable callable. It receives the primary input and
// the resolved keyword arguments and returns its output.
//
// Operators must not retain x or kwargs; the same inputs are reused across
// timed calls.
type Operator func(ctx context.Context, x any, kwargs inputs.Kwargs) (any, error)

// ModulePath returns "<importFrom>.<module>".
func ModulePath(importFrom, module string) string {
	return importFrom + "." + module
}

// Registry holds operators grouped by module path.
//
// Thread Safety: Safe for concurrent use via read-write mutex.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]map[string]Operator
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{modules: make(map[string]map[string]Operator)}
}

// Register adds op under importFrom.module as operator.
//
// Outputs:
//   - error: ErrEmptyName, ErrNilOperator or ErrAlreadyRegistered.
//
// Thread Safety: Safe for concurrent use.
func (r *Registry) Register(importFrom, module, operator string, op Operator) error {
	if strings.TrimSpace(importFrom) == "" || strings.TrimSpace(module) == "" || strings.TrimSpace(operator) == "" {
		return fmt.Errorf("%w: %q.%q.%q", ErrEmptyName, importFrom, module, operator)
	}
	if op == nil {
		return fmt.Errorf("%w: %s.%s", ErrNilOperator, ModulePath(importFrom, module), operator)
	}

	path := ModulePath(importFrom, module)

	r.mu.Lock()
	defer r.mu.Unlock()

	ops, ok := r.modules[path]
	if !ok {
		ops = make(map[string]Operator)
		r.modules[path] = ops
	}
	if _, exists := ops[operator]; exists {
		return fmt.Errorf("%w: %s.%s", ErrAlreadyRegistered, path, operator)
	}
	ops[operator] = op
	return nil
}

// MustRegister registers op and panics on error. Intended for package
// initialization.
func (r *Registry) MustRegister(importFrom, module, operator string, op Operator) {
	if err := r.Register(importFrom, module, operator, op); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
}

// Lookup returns the operator registered under importFrom.module.
//
// Outputs:
//   - Operator: The operator, never nil on success.
//   - error: ErrModuleNotFound or ErrOperatorNotFound, wrapped with the path.
func (r *Registry) Lookup(importFrom, module, operator string) (Operator, error) {
	path := ModulePath(importFrom, module)

	r.mu.RLock()
	defer r.mu.RUnlock()

	ops, ok := r.modules[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, path)
	}
	op, ok := ops[operator]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrOperatorNotFound, path, operator)
	}
	return op, nil
}

// HasModule reports whether any operator is registered for the module.
// It satisfies config.ModuleResolver.
func (r *Registry) HasModule(importFrom, module string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[ModulePath(importFrom, module)]
	return ok
}

// Modules returns all registered module paths, sorted.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.modules))
	for path := range r.modules {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// Operators returns the operator names of a module path, sorted.
func (r *Registry) Operators(path string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := r.modules[path]
	out := make([]string, 0, len(ops))
	for name := range ops {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
