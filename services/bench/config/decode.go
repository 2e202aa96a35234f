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
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/opbench/services/bench/tensor"
	"gopkg.in/yaml.v3"
)

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// listItems returns the elements of a sequence, or the node itself for a
// scalar, so "threads: 4" reads as "threads: [4]".
func listItems(key string, n *yaml.Node) ([]*yaml.Node, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			return nil, fmt.Errorf("%w: %q is empty (line %d)", ErrInvalidValue, key, n.Line)
		}
		items := make([]*yaml.Node, len(n.Content))
		for i, c := range n.Content {
			items[i] = deref(c)
		}
		return items, nil
	case yaml.ScalarNode:
		return []*yaml.Node{n}, nil
	default:
		return nil, fmt.Errorf("%w: %q must be a list (line %d)", ErrInvalidValue, key, n.Line)
	}
}

func decodeInt(key string, n *yaml.Node) (int, error) {
	var v int
	if n.Kind != yaml.ScalarNode || n.Tag != "!!int" || n.Decode(&v) != nil {
		return 0, fmt.Errorf("%w: %q: %q is not an integer (line %d)", ErrInvalidValue, key, n.Value, n.Line)
	}
	return v, nil
}

func decodePositiveInts(key string, n *yaml.Node) ([]int, error) {
	items, err := listItems(key, n)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(items))
	for i, item := range items {
		v, err := decodeInt(key, item)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: %q: %d must be positive (line %d)", ErrInvalidValue, key, v, item.Line)
		}
		out[i] = v
	}
	return out, nil
}

// decodeBatchSizes reads a list of batch sizes where null means no batch
// dimension.
func decodeBatchSizes(n *yaml.Node) ([]BatchSize, error) {
	if isNull(n) {
		return []BatchSize{NoBatch()}, nil
	}
	items, err := listItems(KeyBatchSizes, n)
	if err != nil {
		return nil, err
	}
	out := make([]BatchSize, len(items))
	for i, item := range items {
		if isNull(item) {
			out[i] = NoBatch()
			continue
		}
		v, err := decodeInt(KeyBatchSizes, item)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: %q: %d must be positive (line %d)", ErrInvalidValue, KeyBatchSizes, v, item.Line)
		}
		out[i] = Batch(v)
	}
	return out, nil
}

func decodeString(key string, n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode || isNull(n) {
		return "", fmt.Errorf("%w: %q must be a string (line %d)", ErrInvalidValue, key, n.Line)
	}
	s := strings.TrimSpace(n.Value)
	if s == "" {
		return "", fmt.Errorf("%w: %q is empty (line %d)", ErrInvalidValue, key, n.Line)
	}
	return s, nil
}

func decodeInputMode(n *yaml.Node) (InputMode, error) {
	s, err := decodeString(KeyInputMode, n)
	if err != nil {
		return "", err
	}
	switch mode := InputMode(strings.ToLower(s)); mode {
	case InputRGB, InputGray:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q: unknown mode %q", ErrInvalidValue, KeyInputMode, s)
	}
}

func decodeDType(n *yaml.Node) (tensor.DType, error) {
	s, err := decodeString(KeyDType, n)
	if err != nil {
		return "", err
	}
	dt, err := tensor.ParseDType(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return dt, nil
}

// decodeDuration accepts a number of seconds or a Go duration string.
func decodeDuration(n *yaml.Node) (time.Duration, error) {
	s, err := decodeString(KeyMinRunTime, n)
	if err != nil {
		return 0, err
	}
	var d time.Duration
	if secs, perr := strconv.ParseFloat(s, 64); perr == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%w: %q: %q is not a duration", ErrInvalidValue, KeyMinRunTime, s)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidValue, KeyMinRunTime)
	}
	return d, nil
}
