// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import "fmt"

// Failure is one skipped trial or thread count.
type Failure struct {
	// Variant is the variant's human label, e.g. "tensor_op at cpu".
	Variant string

	// Module is the benchmarked module.
	Module string

	// SubLabel is the trial's "[batch, resolution, args]" label.
	SubLabel string

	// Threads is the thread count whose timing failed, or 0 when the
	// probe failed and every thread count was skipped.
	Threads int

	// Err is the cause.
	Err error
}

// String renders a one-line description.
func (f Failure) String() string {
	where := fmt.Sprintf("(%s) %s %s", f.Variant, f.Module, f.SubLabel)
	if f.Threads > 0 {
		where += fmt.Sprintf(" threads=%d", f.Threads)
	}
	return where + ": " + f.Err.Error()
}

// Summary reports the outcome of a sweep.
//
// Attempted counts (variant, descriptor, batch, resolution) combinations
// reached; each one either passed its probe (Succeeded) or was Skipped.
type Summary struct {
	RunID     string
	Attempted int
	Succeeded int
	Skipped   int
	Records   int
	Failures  []Failure
}

// String renders the totals.
func (s *Summary) String() string {
	return fmt.Sprintf("run %s: attempted=%d succeeded=%d skipped=%d records=%d",
		s.RunID, s.Attempted, s.Succeeded, s.Skipped, s.Records)
}
