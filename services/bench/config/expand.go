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

	"github.com/AleutianAI/opbench/services/bench/tensor"
	"gopkg.in/yaml.v3"
)

// ExpandSection expands one module section into its trial descriptors.
//
// Description:
//
//	Resolves the layered keys against defaults, collects the remaining keys
//	(minus no_args) as the keyword space in document order, and emits one
//	descriptor per element of the keyword product.
//
// Inputs:
//   - name: The module name (the section key).
//   - section: The section mapping. A null section is treated as empty.
//   - defaults: The global layer. Must not be nil.
//
// Outputs:
//   - []TrialDescriptor: len equals the product of the alternative counts.
//   - error: ErrMissingConfigKey, ErrInvalidShapeSpec, ErrInvalidArgSpec or
//     ErrInvalidValue, wrapped with the section name.
func ExpandSection(name string, section *yaml.Node, defaults *Defaults) ([]TrialDescriptor, error) {
	section = deref(section)
	base := TrialDescriptor{
		Module:      name,
		BatchSizes:  defaults.BatchSizes,
		Resolutions: defaults.Resolutions,
		Threads:     defaults.Threads,
		ImportFrom:  defaults.ImportFrom,
		InputMode:   defaults.InputMode,
		DType:       defaults.DType,
	}
	present := map[string]bool{
		KeyBatchSizes:  defaults.Has(KeyBatchSizes),
		KeyResolutions: defaults.Has(KeyResolutions),
		KeyThreads:     defaults.Has(KeyThreads),
		KeyImportFrom:  defaults.Has(KeyImportFrom),
	}

	var space []ArgSpace
	if !isNull(section) {
		if section.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("section %q: %w: must be a mapping (line %d)", name, ErrInvalidValue, section.Line)
		}
		seen := make(map[string]bool)
		for i := 0; i+1 < len(section.Content); i += 2 {
			keyNode, value := section.Content[i], deref(section.Content[i+1])
			key := keyNode.Value
			if seen[key] {
				return nil, fmt.Errorf("section %q: %w: duplicate key %q", name, ErrInvalidValue, key)
			}
			seen[key] = true

			var err error
			switch key {
			case KeyBatchSizes:
				base.BatchSizes, err = decodeBatchSizes(value)
			case KeyResolutions:
				base.Resolutions, err = decodePositiveInts(key, value)
			case KeyThreads:
				base.Threads, err = decodePositiveInts(key, value)
			case KeyImportFrom:
				base.ImportFrom, err = decodeString(key, value)
			case KeyInputMode:
				base.InputMode, err = decodeInputMode(value)
			case KeyDType:
				base.DType, err = decodeDType(value)
			case KeyNoArgs:
			default:
				var alts []ArgValue
				alts, err = decodeAlternatives(key, value)
				space = append(space, ArgSpace{Name: key, Alternatives: alts})
			}
			if err != nil {
				return nil, fmt.Errorf("section %q: %w", name, err)
			}
			present[key] = true
		}
	}

	for _, key := range []string{KeyBatchSizes, KeyResolutions, KeyThreads, KeyImportFrom} {
		if !present[key] {
			return nil, fmt.Errorf("%w: %q in section %q and in %s", ErrMissingConfigKey, key, name, KeyGlobal)
		}
	}
	if base.InputMode == "" {
		base.InputMode = InputRGB
	}
	if base.DType == "" {
		base.DType = tensor.Float32
	}
	if err := validate.Struct(base); err != nil {
		return nil, fmt.Errorf("section %q: %w: %v", name, ErrInvalidValue, err)
	}

	combos := Product(space)
	out := make([]TrialDescriptor, len(combos))
	for i, args := range combos {
		d := base
		d.Kwargs = args
		out[i] = d
	}
	return out, nil
}

// Product returns the cartesian product of the argument space.
//
// Keys keep their order and the last key varies fastest. An empty space
// yields a single empty Args; a key with no alternatives yields nothing.
//
// Example:
//
//	Product([]ArgSpace{
//	    {Name: "a", Alternatives: []ArgValue{Literal{1}, Literal{2}}},
//	    {Name: "b", Alternatives: []ArgValue{Literal{"x"}, Literal{"y"}}},
//	})
//	// a=1, b=x | a=1, b=y | a=2, b=x | a=2, b=y
func Product(space []ArgSpace) []Args {
	total := 1
	for _, s := range space {
		total *= len(s.Alternatives)
	}
	if total == 0 {
		return nil
	}

	out := make([]Args, 0, total)
	idx := make([]int, len(space))
	for {
		args := make(Args, len(space))
		for k, s := range space {
			args[k] = Arg{Name: s.Name, Value: s.Alternatives[idx[k]]}
		}
		out = append(out, args)

		k := len(space) - 1
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < len(space[k].Alternatives) {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return out
		}
	}
}

// decodeAlternatives turns a keyword value into its list of alternatives.
// A sequence lists alternatives, a {ones} mapping is one deferred
// alternative, and any other scalar is one literal alternative.
func decodeAlternatives(key string, node *yaml.Node) ([]ArgValue, error) {
	switch node.Kind {
	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("%w: %q has no alternatives (line %d)", ErrInvalidValue, key, node.Line)
		}
		alts := make([]ArgValue, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := decodeValue(key, deref(item))
			if err != nil {
				return nil, err
			}
			alts = append(alts, v)
		}
		return alts, nil
	default:
		v, err := decodeValue(key, node)
		if err != nil {
			return nil, err
		}
		return []ArgValue{v}, nil
	}
}

func decodeValue(key string, node *yaml.Node) (ArgValue, error) {
	if node.Kind == yaml.MappingNode {
		return decodeGenerator(key, node)
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidValue, key, err)
	}
	return Literal{Value: v}, nil
}

// decodeGenerator parses a {ones: [...]} mapping.
func decodeGenerator(key string, node *yaml.Node) (ArgValue, error) {
	if len(node.Content) != 2 || node.Content[0].Value != KeyOnes {
		return nil, fmt.Errorf("%w: %q (line %d): only {%s: [...]} is supported", ErrInvalidArgSpec, key, node.Line, KeyOnes)
	}
	shape, err := ParseShape(deref(node.Content[1]))
	if err != nil {
		return nil, fmt.Errorf("%q (line %d): %w", key, node.Line, err)
	}
	return Deferred{Shape: shape}, nil
}

// ParseShape reads the dimension list of a {ones: [...]} generator.
// A single dimension d means the square (d, d); two to MaxShapeRank
// dimensions are taken verbatim.
func ParseShape(node *yaml.Node) ([]int, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("%w: dimensions must be a list", ErrInvalidShapeSpec)
	}
	n := len(node.Content)
	if n == 0 || n > MaxShapeRank {
		return nil, fmt.Errorf("%w: %d dimensions, want 1 to %d", ErrInvalidShapeSpec, n, MaxShapeRank)
	}
	dims := make([]int, n)
	for i, item := range node.Content {
		item = deref(item)
		var d int
		if item.Kind != yaml.ScalarNode || item.Tag != "!!int" || item.Decode(&d) != nil || d <= 0 {
			return nil, fmt.Errorf("%w: dimension %q is not a positive integer", ErrInvalidShapeSpec, item.Value)
		}
		dims[i] = d
	}
	if n == 1 {
		return []int{dims[0], dims[0]}, nil
	}
	return dims, nil
}
