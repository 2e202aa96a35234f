// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timer measures a callable and summarizes the distribution of its
// per-call times.
//
// BlockedAutorange first sizes a block so that one block takes a small
// fraction of the minimum run time, then times whole blocks until the
// minimum run time has elapsed. Each block contributes one per-call sample,
// its duration divided by the number of calls in it.
package timer

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

var (
	// ErrNoSamples indicates statistics were requested for an empty sample set.
	ErrNoSamples = errors.New("no samples")

	// ErrInvalidThreads indicates a non-positive thread count.
	ErrInvalidThreads = errors.New("thread count must be positive")

	// ErrInvalidMinRunTime indicates a non-positive minimum run time.
	ErrInvalidMinRunTime = errors.New("min run time must be positive")
)

// Measurement is one timed (trial, thread count) result. It is the record
// persisted by the result store and aggregated by the report.
type Measurement struct {
	// RunID identifies the sweep that produced the record.
	RunID string

	// Label is the benchmarked module, e.g. "box_blur".
	Label string

	// SubLabel is "[batch, resolution, arg-shapes]", e.g. "[2, 64, (4, 4)]".
	SubLabel string

	// Description is "<opt>_<operator prefix>_<device>", e.g. "tensor_cpu".
	Description string

	// NumThreads is the GOMAXPROCS setting the measurement ran under.
	NumThreads int

	// NumPerRun is the number of calls per timed block.
	NumPerRun int

	// Times holds one per-call duration per timed block.
	Times []time.Duration

	// Stats summarizes Times.
	Stats Stats

	// CPUTime is the process user+system time spent in the timed blocks.
	// Zero where the platform does not report it.
	CPUTime time.Duration

	// Timestamp is when the measurement finished.
	Timestamp time.Time
}

// Median returns the median per-call time.
func (m *Measurement) Median() time.Duration {
	return m.Stats.Median
}

// String renders a one-line summary.
func (m *Measurement) String() string {
	return fmt.Sprintf("%s %s %s threads=%d median=%v iqr=%v (%d blocks x %d)",
		m.Label, m.SubLabel, m.Description, m.NumThreads,
		m.Stats.Median, m.Stats.IQR, len(m.Times), m.NumPerRun)
}

// Stats is the distribution summary of a sample set.
type Stats struct {
	Samples  int
	Min      time.Duration
	Max      time.Duration
	Mean     time.Duration
	Median   time.Duration
	P25      time.Duration
	P75      time.Duration
	P90      time.Duration
	P99      time.Duration
	IQR      time.Duration
	StdDev   time.Duration
	Variance float64
}

// CalculateStats computes the distribution summary of samples.
//
// Description:
//
//	Percentiles use linear interpolation between closest ranks. Variance is
//	the population variance in nanoseconds squared.
//
// Inputs:
//   - samples: Durations. The slice is not modified.
//
// Outputs:
//   - Stats: The summary.
//   - error: ErrNoSamples if samples is empty.
func CalculateStats(samples []time.Duration) (Stats, error) {
	if len(samples) == 0 {
		return Stats{}, ErrNoSamples
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s := Stats{
		Samples: len(sorted),
		Min:     sorted[0],
		Max:     sorted[len(sorted)-1],
		Median:  percentile(sorted, 0.5),
		P25:     percentile(sorted, 0.25),
		P75:     percentile(sorted, 0.75),
		P90:     percentile(sorted, 0.9),
		P99:     percentile(sorted, 0.99),
	}
	s.IQR = s.P75 - s.P25

	var sum float64
	for _, d := range sorted {
		sum += float64(d)
	}
	mean := sum / float64(len(sorted))
	s.Mean = time.Duration(mean)

	var sq float64
	for _, d := range sorted {
		diff := float64(d) - mean
		sq += diff * diff
	}
	s.Variance = sq / float64(len(sorted))
	s.StdDev = time.Duration(math.Sqrt(s.Variance))
	return s, nil
}

// percentile returns the p-th percentile of sorted samples by linear
// interpolation.
func percentile(sorted []time.Duration, p float64) time.Duration {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	index := p * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	frac := index - float64(lower)
	return time.Duration(float64(sorted[lower])*(1-frac) + float64(sorted[upper])*frac)
}
