// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config expands a declarative benchmark configuration into the
// ordered set of trial descriptors the runner executes.
//
// A configuration is a YAML document with one reserved top-level key,
// "global", and one section per benchmarked module:
//
//	global:
//	  batch_sizes: [1, 2]
//	  resolutions: [32, 64]
//	  threads: [1, 4]
//	  import_from: opbench.ops
//	box_blur:
//	  kernel_size: [3, 5]
//	channel_matmul:
//	  weight: {ones: [32]}
//
// The keys batch_sizes, resolutions, threads and import_from (plus the
// optional input_mode and dtype) are looked up in the section first and in
// global second. Every other section key is a keyword argument; its values
// are combined with the other keyword arguments by cartesian product, keys in
// document order and the last key varying fastest. A {ones: [...]} mapping is
// not a value but a deferred input generator, resolved only once the target
// representation, dtype and device are known.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/opbench/services/bench/tensor"
)

var (
	// ErrMissingGlobal indicates the document has no "global" mapping.
	ErrMissingGlobal = errors.New("config has no global section")

	// ErrMissingConfigKey indicates a layered key absent from both a section and global.
	ErrMissingConfigKey = errors.New("missing config key")

	// ErrInvalidShapeSpec indicates a malformed {ones: [...]} generator.
	ErrInvalidShapeSpec = errors.New("invalid shape spec")

	// ErrInvalidArgSpec indicates a mapping argument that is not a known generator.
	ErrInvalidArgSpec = errors.New("invalid argument spec")

	// ErrUnknownModule indicates a section naming a module with no registered operators.
	ErrUnknownModule = errors.New("unknown module")

	// ErrInvalidVariant indicates a malformed entry in global.variants.
	ErrInvalidVariant = errors.New("invalid variant")

	// ErrInvalidValue indicates a value of the wrong type or range.
	ErrInvalidValue = errors.New("invalid config value")
)

// Reserved keys.
const (
	KeyGlobal      = "global"
	KeyBatchSizes  = "batch_sizes"
	KeyResolutions = "resolutions"
	KeyThreads     = "threads"
	KeyImportFrom  = "import_from"
	KeyInputMode   = "input_mode"
	KeyDType       = "dtype"
	KeyMinRunTime  = "min_run_time"
	KeyVariants    = "variants"
	KeyNoArgs      = "no_args"
	KeyOnes        = "ones"
)

// MaxShapeRank is the highest rank a {ones: [...]} generator may declare.
const MaxShapeRank = 4

// ModuleResolver reports whether operators are registered for a module.
type ModuleResolver interface {
	HasModule(importFrom, module string) bool
}

// ---- Batch sizes ----

// BatchSize is an optional leading batch dimension. The zero value means
// "no batch dimension" and is written as null in YAML.
type BatchSize struct {
	n   int
	set bool
}

// NoBatch returns the absent batch size.
func NoBatch() BatchSize { return BatchSize{} }

// Batch returns a batch size of n.
func Batch(n int) BatchSize { return BatchSize{n: n, set: true} }

// Value returns the size and whether one is set.
func (b BatchSize) Value() (int, bool) { return b.n, b.set }

// String returns the size, or "none" when absent.
func (b BatchSize) String() string {
	if !b.set {
		return "none"
	}
	return fmt.Sprintf("%d", b.n)
}

// ---- Input modes ----

// InputMode selects the primary input layout.
type InputMode string

const (
	// InputRGB is a 3-channel image, (3, res, res) or (batch, 3, res, res).
	InputRGB InputMode = "rgb"

	// InputGray is a single-channel image. Accepted by the config, not
	// materializable.
	InputGray InputMode = "gray"
)

// ---- Arguments ----

// ArgValue is a keyword argument value: a Literal or a Deferred generator.
type ArgValue interface {
	fmt.Stringer
	argValue()
}

// Literal is a value passed to the operator as-is.
type Literal struct {
	Value any
}

func (Literal) argValue() {}

func (l Literal) String() string {
	return fmt.Sprintf("%v", l.Value)
}

// Deferred generates a ones-filled input of Shape at materialization time.
type Deferred struct {
	Shape []int
}

func (Deferred) argValue() {}

func (d Deferred) String() string {
	return "ones" + tensor.FormatShape(d.Shape)
}

// Arg is one named keyword argument.
type Arg struct {
	Name  string
	Value ArgValue
}

// Args is an ordered set of keyword arguments.
type Args []Arg

// Get returns the value for name.
func (a Args) Get(name string) (ArgValue, bool) {
	for _, arg := range a {
		if arg.Name == name {
			return arg.Value, true
		}
	}
	return nil, false
}

// String renders the arguments as "name=value, ...".
func (a Args) String() string {
	parts := make([]string, len(a))
	for i, arg := range a {
		parts[i] = arg.Name + "=" + arg.Value.String()
	}
	return strings.Join(parts, ", ")
}

// ArgSpace lists the alternatives of one keyword argument.
type ArgSpace struct {
	Name         string
	Alternatives []ArgValue
}

// ---- Descriptors ----

// TrialDescriptor is one fully resolved entry of the expanded configuration.
// The runner iterates its batch sizes, resolutions and threads.
type TrialDescriptor struct {
	Module      string       `validate:"required"`
	Kwargs      Args         `validate:"-"`
	BatchSizes  []BatchSize  `validate:"required,min=1,batches"`
	Resolutions []int        `validate:"required,min=1,dive,gt=0"`
	Threads     []int        `validate:"required,min=1,dive,gt=0"`
	ImportFrom  string       `validate:"required"`
	InputMode   InputMode    `validate:"required,oneof=rgb gray"`
	DType       tensor.DType `validate:"required,oneof=float16 float32 float64"`
}

// ImportPath returns "<import_from>.<module>".
func (d TrialDescriptor) ImportPath() string {
	return d.ImportFrom + "." + d.Module
}

// Plan is the expanded configuration.
type Plan struct {
	// Defaults is the global layer.
	Defaults *Defaults

	// Descriptors in section order, then product order.
	Descriptors []TrialDescriptor

	// Variants is global.variants or DefaultVariants().
	Variants []VariantSpec

	// MinRunTime is global.min_run_time, zero when unset.
	MinRunTime time.Duration
}

// Modules returns the distinct module names in section order.
func (p *Plan) Modules() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range p.Descriptors {
		if !seen[d.Module] {
			seen[d.Module] = true
			out = append(out, d.Module)
		}
	}
	return out
}

// Combinations returns the number of (variant, descriptor, batch, resolution)
// combinations the plan sweeps.
func (p *Plan) Combinations() int {
	n := 0
	for _, d := range p.Descriptors {
		n += len(d.BatchSizes) * len(d.Resolutions)
	}
	return n * len(p.Variants)
}
