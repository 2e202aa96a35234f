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
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/AleutianAI/opbench/services/bench/tensor"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the shared validator instance, initialized in init() with the
// custom batch size rule.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("batches", validateBatches)
}

// validateBatches accepts a []BatchSize whose set entries are all positive.
func validateBatches(fl validator.FieldLevel) bool {
	sizes, ok := fl.Field().Interface().([]BatchSize)
	if !ok {
		return false
	}
	for _, b := range sizes {
		if n, set := b.Value(); set && n <= 0 {
			return false
		}
	}
	return true
}

// Defaults is the global configuration layer. It is immutable after Parse
// and shared by every section.
type Defaults struct {
	BatchSizes  []BatchSize
	Resolutions []int
	Threads     []int
	ImportFrom  string
	InputMode   InputMode
	DType       tensor.DType
	MinRunTime  time.Duration
	Variants    []VariantSpec

	present map[string]bool
}

// Has reports whether key was set in the global section.
func (d *Defaults) Has(key string) bool {
	return d != nil && d.present[key]
}

// ---- Loading ----

// Load reads and expands the configuration file at path.
//
// Inputs:
//   - path: YAML file path.
//   - modules: Resolver used to reject unknown modules. May be nil to skip
//     the check.
//
// Outputs:
//   - *Plan: The expanded plan.
//   - error: A wrapped read error or any Parse error.
func Load(path string, modules ModuleResolver) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	plan, err := Parse(data, modules)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return plan, nil
}

// Parse expands a YAML configuration document.
//
// Description:
//
//	Decodes the document into a node tree so section and key order survive,
//	builds the global Defaults, then expands each remaining top-level
//	section in document order. Every error is fatal; no partial plan is
//	returned.
//
// Inputs:
//   - data: The YAML document.
//   - modules: Resolver used to reject unknown modules. May be nil.
//
// Outputs:
//   - *Plan: Descriptors in section order, each section in product order.
//   - error: One of the package sentinels, wrapped with context.
func Parse(data []byte, modules ModuleResolver) (*Plan, error) {
	root, err := decodeRoot(data)
	if err != nil {
		return nil, err
	}

	var globalNode *yaml.Node
	type section struct {
		name string
		node *yaml.Node
	}
	var sections []section
	seen := make(map[string]bool)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], deref(root.Content[i+1])
		if seen[key.Value] {
			return nil, fmt.Errorf("%w: duplicate top-level key %q (line %d)", ErrInvalidValue, key.Value, key.Line)
		}
		seen[key.Value] = true
		if key.Value == KeyGlobal {
			globalNode = value
			continue
		}
		sections = append(sections, section{name: key.Value, node: value})
	}
	if globalNode == nil || globalNode.Kind != yaml.MappingNode {
		return nil, ErrMissingGlobal
	}

	defaults, err := parseDefaults(globalNode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyGlobal, err)
	}

	plan := &Plan{
		Defaults:   defaults,
		Variants:   defaults.Variants,
		MinRunTime: defaults.MinRunTime,
	}
	if len(plan.Variants) == 0 {
		plan.Variants = DefaultVariants()
	}

	for _, s := range sections {
		descs, err := ExpandSection(s.name, s.node, defaults)
		if err != nil {
			return nil, err
		}
		if modules != nil && len(descs) > 0 && !modules.HasModule(descs[0].ImportFrom, s.name) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownModule, descs[0].ImportPath())
		}
		plan.Descriptors = append(plan.Descriptors, descs...)
	}
	return plan, nil
}

func decodeRoot(data []byte) (*yaml.Node, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrMissingGlobal
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrMissingGlobal
	}
	root := deref(doc.Content[0])
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidValue)
	}
	return root, nil
}

// parseDefaults decodes the global mapping. Unknown keys are rejected.
func parseDefaults(node *yaml.Node) (*Defaults, error) {
	d := &Defaults{present: make(map[string]bool)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, deref(node.Content[i+1])
		if d.present[key] {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidValue, key)
		}
		var err error
		switch key {
		case KeyBatchSizes:
			d.BatchSizes, err = decodeBatchSizes(value)
		case KeyResolutions:
			d.Resolutions, err = decodePositiveInts(key, value)
		case KeyThreads:
			d.Threads, err = decodePositiveInts(key, value)
		case KeyImportFrom:
			d.ImportFrom, err = decodeString(key, value)
		case KeyInputMode:
			d.InputMode, err = decodeInputMode(value)
		case KeyDType:
			d.DType, err = decodeDType(value)
		case KeyMinRunTime:
			d.MinRunTime, err = decodeDuration(value)
		case KeyVariants:
			d.Variants, err = decodeVariants(value)
		default:
			err = fmt.Errorf("%w: unknown key %q (line %d)", ErrInvalidValue, key, node.Content[i].Line)
		}
		if err != nil {
			return nil, err
		}
		d.present[key] = true
	}
	return d, nil
}

// deref follows YAML aliases to the anchored node.
func deref(n *yaml.Node) *yaml.Node {
	for n != nil && n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	return n
}
