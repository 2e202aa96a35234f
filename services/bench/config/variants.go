// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/opbench/services/bench/tensor"
	"gopkg.in/yaml.v3"
)

// Optimization names accepted in a variant.
const (
	OptNone     = "none"
	OptIdentity = "identity"
	OptParallel = "parallel"
)

// VariantSpec is one (operator, representation, device, optimization)
// combination of the outer sweep loop.
type VariantSpec struct {
	Operator       string                `yaml:"operator" validate:"required"`
	Representation tensor.Representation `yaml:"representation" validate:"required,oneof=tensor array"`
	Device         tensor.Device         `yaml:"device" validate:"required,oneof=cpu cuda"`
	Optimization   string                `yaml:"optimization" validate:"required,oneof=none identity parallel"`
}

// DefaultVariants returns the variant set used when global.variants is absent.
func DefaultVariants() []VariantSpec {
	return []VariantSpec{
		{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CPU, Optimization: OptNone},
		{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CUDA, Optimization: OptNone},
		{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CPU, Optimization: OptParallel},
		{Operator: "tensor_op", Representation: tensor.RepTensor, Device: tensor.CUDA, Optimization: OptParallel},
		{Operator: "array_op", Representation: tensor.RepArray, Device: tensor.CPU, Optimization: OptNone},
	}
}

// Optimized reports whether the variant applies a transform.
func (v VariantSpec) Optimized() bool {
	return v.Optimization != "" && v.Optimization != OptNone
}

// Description is the record column name, "<opt>_<operator prefix>_<device>"
// with the optimization part omitted for unoptimized variants, e.g.
// "tensor_cpu" or "parallel_tensor_cuda".
func (v VariantSpec) Description() string {
	prefix, _, _ := strings.Cut(v.Operator, "_")
	desc := prefix + "_" + string(v.Device)
	if v.Optimized() {
		desc = v.Optimization + "_" + desc
	}
	return desc
}

// String is the human label used in section headers.
func (v VariantSpec) String() string {
	s := fmt.Sprintf("%s at %s", v.Operator, v.Device)
	if v.Optimized() {
		s += " with optimizer " + v.Optimization
	}
	return s
}

type variantDoc struct {
	Operator       string `yaml:"operator"`
	Representation string `yaml:"representation"`
	Device         string `yaml:"device"`
	Optimization   string `yaml:"optimization"`
}

func decodeVariants(node *yaml.Node) ([]VariantSpec, error) {
	if node.Kind != yaml.SequenceNode || len(node.Content) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty list (line %d)", ErrInvalidVariant, KeyVariants, node.Line)
	}
	out := make([]VariantSpec, 0, len(node.Content))
	for i, item := range node.Content {
		var doc variantDoc
		if err := item.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidVariant, i, err)
		}
		spec, err := doc.resolve()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidVariant, i, err)
		}
		if err := validate.Struct(spec); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidVariant, i, err)
		}
		out = append(out, spec)
	}
	return out, nil
}

func (d variantDoc) resolve() (VariantSpec, error) {
	rep, err := tensor.ParseRepresentation(d.Representation)
	if err != nil {
		return VariantSpec{}, err
	}
	dev, err := tensor.ParseDevice(d.Device)
	if err != nil {
		return VariantSpec{}, err
	}
	opt := strings.ToLower(strings.TrimSpace(d.Optimization))
	if opt == "" {
		opt = OptNone
	}
	return VariantSpec{
		Operator:       strings.TrimSpace(d.Operator),
		Representation: rep,
		Device:         dev,
		Optimization:   opt,
	}, nil
}
