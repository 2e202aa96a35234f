// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package timer

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// DefaultMinRunTime is the minimum total time of the timed blocks.
const DefaultMinRunTime = time.Second

const (
	// blockFraction sizes a block at minRunTime/blockFraction.
	blockFraction = 20

	// maxPerRun caps the block size estimate.
	maxPerRun = 1 << 24

	// minBlocks is the fewest blocks a measurement keeps.
	minBlocks = 2
)

// Func is the timed callable.
type Func func(ctx context.Context) error

// Timer times one callable and labels the resulting measurement.
type Timer struct {
	fn          Func
	label       string
	subLabel    string
	description string
	numThreads  int
	runID       string
	now         func() time.Time
}

// Option configures a Timer.
type Option func(*Timer)

// WithLabel sets the measurement label.
func WithLabel(label string) Option {
	return func(t *Timer) { t.label = label }
}

// WithSubLabel sets the measurement sub-label.
func WithSubLabel(subLabel string) Option {
	return func(t *Timer) { t.subLabel = subLabel }
}

// WithDescription sets the measurement description.
func WithDescription(description string) Option {
	return func(t *Timer) { t.description = description }
}

// WithNumThreads records the thread count the measurement runs under. It
// does not change GOMAXPROCS; wrap the call in WithThreads for that.
func WithNumThreads(n int) Option {
	return func(t *Timer) { t.numThreads = n }
}

// WithRunID stamps the measurement with a sweep identifier.
func WithRunID(id string) Option {
	return func(t *Timer) { t.runID = id }
}

// New creates a Timer for fn.
func New(fn Func, opts ...Option) *Timer {
	t := &Timer{fn: fn, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.numThreads == 0 {
		t.numThreads = runtime.GOMAXPROCS(0)
	}
	return t
}

// BlockedAutorange times fn in blocks until minRunTime has elapsed.
//
// Description:
//
//	Doubles the block size, starting from one call, until a block takes at
//	least minRunTime/20. Estimation blocks are discarded. Measured blocks
//	then run until their total reaches minRunTime and at least two blocks
//	were taken. Context cancellation is checked between blocks.
//
// Inputs:
//   - ctx: Passed to every call. Cancellation aborts the measurement.
//   - minRunTime: Minimum total measured time. Must be positive.
//
// Outputs:
//   - *Measurement: The labelled measurement with Stats filled.
//   - error: The first error fn returns, ctx.Err(), or ErrInvalidMinRunTime.
func (t *Timer) BlockedAutorange(ctx context.Context, minRunTime time.Duration) (*Measurement, error) {
	if minRunTime <= 0 {
		return nil, ErrInvalidMinRunTime
	}

	number, err := t.estimateBlockSize(ctx, minRunTime/blockFraction)
	if err != nil {
		return nil, err
	}

	cpuBefore, cpuOK := processCPUTime()
	var (
		total time.Duration
		times []time.Duration
	)
	for total < minRunTime || len(times) < minBlocks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("measurement interrupted: %w", err)
		}
		d, err := t.timeBlock(ctx, number)
		if err != nil {
			return nil, err
		}
		total += d
		times = append(times, d/time.Duration(number))
	}
	var cpu time.Duration
	if cpuAfter, ok := processCPUTime(); ok && cpuOK {
		cpu = cpuAfter - cpuBefore
	}

	stats, err := CalculateStats(times)
	if err != nil {
		return nil, err
	}
	return &Measurement{
		RunID:       t.runID,
		Label:       t.label,
		SubLabel:    t.subLabel,
		Description: t.description,
		NumThreads:  t.numThreads,
		NumPerRun:   number,
		Times:       times,
		Stats:       stats,
		CPUTime:     cpu,
		Timestamp:   t.now(),
	}, nil
}

func (t *Timer) estimateBlockSize(ctx context.Context, target time.Duration) (int, error) {
	number := 1
	for number < maxPerRun {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("measurement interrupted: %w", err)
		}
		d, err := t.timeBlock(ctx, number)
		if err != nil {
			return 0, err
		}
		if d >= target {
			break
		}
		number *= 2
	}
	return number, nil
}

func (t *Timer) timeBlock(ctx context.Context, number int) (time.Duration, error) {
	start := t.now()
	for i := 0; i < number; i++ {
		if err := t.fn(ctx); err != nil {
			return 0, err
		}
	}
	return t.now().Sub(start), nil
}

// WithThreads runs fn with GOMAXPROCS set to n and restores the previous
// value on every exit path, including a panic in fn.
func WithThreads(n int, fn func() error) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidThreads, n)
	}
	prev := runtime.GOMAXPROCS(n)
	defer runtime.GOMAXPROCS(prev)
	return fn()
}
