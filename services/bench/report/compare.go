// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report aggregates stored measurements into per-module comparison
// tables.
package report

import (
	"time"

	"github.com/AleutianAI/opbench/services/bench/timer"
)

// Cell is one (row, column) entry of a comparison.
type Cell struct {
	// Median is the median per-call time.
	Median time.Duration

	// IQR is the interquartile range of the per-call times.
	IQR time.Duration

	// Records is how many measurements were pooled into the cell.
	Records int

	times []time.Duration
}

// Row is one (sub-label, threads) line of a table. Cells are indexed by the
// group's columns; a nil cell means the variant produced no measurement.
type Row struct {
	SubLabel string
	Threads  int
	Cells    []*Cell
}

// Fastest returns the column index of the smallest median, or -1 if the
// row has no cells.
func (r *Row) Fastest() int {
	best := -1
	for i, c := range r.Cells {
		if c == nil {
			continue
		}
		if best < 0 || c.Median < r.Cells[best].Median {
			best = i
		}
	}
	return best
}

// Group is the table of one label (module).
type Group struct {
	Label   string
	Columns []string
	Rows    []*Row
}

// Min returns the smallest median in the group, or 0 if it has no cells.
func (g *Group) Min() time.Duration {
	var m time.Duration
	for _, r := range g.Rows {
		for _, c := range r.Cells {
			if c != nil && (m == 0 || c.Median < m) {
				m = c.Median
			}
		}
	}
	return m
}

// Comparison is the aggregated view of a record stream.
type Comparison struct {
	Groups []*Group
	// Records is the number of measurements aggregated.
	Records int
}

type rowKey struct {
	subLabel string
	threads  int
}

type groupBuilder struct {
	group   *Group
	columns map[string]int
	rows    map[rowKey]*Row
}

// Compare groups records by label, rows by (sub-label, threads) and
// columns by description, each in first-seen order.
//
// Description:
//
//	Measurements sharing a label, sub-label, thread count and description
//	are pooled: their per-call times are merged and the cell statistics
//	recomputed over the union.
//
// Inputs:
//   - records: Measurements in stream order. Nil entries are skipped.
//
// Outputs:
//   - *Comparison: Never nil.
func Compare(records []*timer.Measurement) *Comparison {
	cmp := &Comparison{}
	builders := make(map[string]*groupBuilder)

	for _, m := range records {
		if m == nil {
			continue
		}
		cmp.Records++

		b, ok := builders[m.Label]
		if !ok {
			b = &groupBuilder{
				group:   &Group{Label: m.Label},
				columns: make(map[string]int),
				rows:    make(map[rowKey]*Row),
			}
			builders[m.Label] = b
			cmp.Groups = append(cmp.Groups, b.group)
		}

		col, ok := b.columns[m.Description]
		if !ok {
			col = len(b.group.Columns)
			b.columns[m.Description] = col
			b.group.Columns = append(b.group.Columns, m.Description)
		}

		key := rowKey{subLabel: m.SubLabel, threads: m.NumThreads}
		row, ok := b.rows[key]
		if !ok {
			row = &Row{SubLabel: m.SubLabel, Threads: m.NumThreads}
			b.rows[key] = row
			b.group.Rows = append(b.group.Rows, row)
		}
		for len(row.Cells) <= col {
			row.Cells = append(row.Cells, nil)
		}

		if row.Cells[col] == nil {
			row.Cells[col] = &Cell{}
		}
		row.Cells[col].add(m)
	}

	// Pad rows seen before later columns were introduced.
	for _, g := range cmp.Groups {
		for _, r := range g.Rows {
			for len(r.Cells) < len(g.Columns) {
				r.Cells = append(r.Cells, nil)
			}
		}
	}
	return cmp
}

func (c *Cell) add(m *timer.Measurement) {
	c.Records++
	if c.Records == 1 {
		c.Median, c.IQR = m.Stats.Median, m.Stats.IQR
		c.times = append(c.times, m.Times...)
		return
	}
	c.times = append(c.times, m.Times...)
	if s, err := timer.CalculateStats(c.times); err == nil {
		c.Median, c.IQR = s.Median, s.IQR
	}
}
