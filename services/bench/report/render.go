// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/AleutianAI/opbench/pkg/ux"
)

// fastestMark tags the fastest cell of a row in plain output.
const fastestMark = " *"

// RenderOptions controls table output.
type RenderOptions struct {
	// Plain disables colors and uses an ASCII border. Use for files and logs.
	Plain bool

	// HideIQR omits the "± iqr" suffix from cells.
	HideIQR bool
}

// Unit is a display time unit.
type Unit struct {
	Name  string
	Scale time.Duration
}

var units = []Unit{
	{Name: "s", Scale: time.Second},
	{Name: "ms", Scale: time.Millisecond},
	{Name: "us", Scale: time.Microsecond},
	{Name: "ns", Scale: time.Nanosecond},
}

// UnitFor picks the largest unit in which d is at least 1.
func UnitFor(d time.Duration) Unit {
	for _, u := range units {
		if d >= u.Scale {
			return u
		}
	}
	return units[len(units)-1]
}

// Format renders d in unit u with one decimal.
func (u Unit) Format(d time.Duration) string {
	return strconv.FormatFloat(float64(d)/float64(u.Scale), 'f', 1, 64)
}

// Render writes one table per group followed by a legend.
func (c *Comparison) Render(w io.Writer, opts RenderOptions) error {
	if len(c.Groups) == 0 {
		_, err := fmt.Fprintln(w, "No benchmark records.")
		return err
	}

	var b strings.Builder
	for _, g := range c.Groups {
		unit := UnitFor(g.Min())

		title := fmt.Sprintf("[----- %s -----]", g.Label)
		if !opts.Plain {
			title = ux.Styles.Title.Render(title)
		}
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(renderGroup(g, unit, opts))
		b.WriteString("\n")
		fmt.Fprintf(&b, "Times are in %s (median per call).\n\n", unitLabel(unit))
	}

	legend := "Rows are [batch, resolution, args] at a thread count."
	if !opts.HideIQR {
		legend += " Cells show median ± interquartile range."
	}
	if opts.Plain {
		legend += " * marks the fastest variant per row."
	} else {
		legend += " The fastest variant per row is highlighted."
		legend = ux.Styles.Muted.Render(legend)
	}
	b.WriteString(legend)
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func renderGroup(g *Group, unit Unit, opts RenderOptions) string {
	headers := append([]string{"", "threads"}, g.Columns...)

	fastest := make([]int, len(g.Rows))
	rows := make([][]string, len(g.Rows))
	for i, r := range g.Rows {
		fastest[i] = r.Fastest()
		line := []string{r.SubLabel, strconv.Itoa(r.Threads)}
		for j, cell := range r.Cells {
			text := formatCell(cell, unit, opts)
			if opts.Plain && j == fastest[i] && len(g.Columns) > 1 {
				text += fastestMark
			}
			line = append(line, text)
		}
		rows[i] = line
	}

	t := table.New().Headers(headers...).Rows(rows...)
	if opts.Plain {
		return t.Border(lipgloss.ASCIIBorder()).
			StyleFunc(func(row, col int) lipgloss.Style {
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			String()
	}

	return t.Border(lipgloss.RoundedBorder()).
		BorderStyle(ux.Styles.Border).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return ux.Styles.Header
			case col >= 2 && row < len(fastest) && col-2 == fastest[row] && len(g.Columns) > 1:
				return ux.Styles.Highlight.Padding(0, 1)
			case col == 0:
				return ux.Styles.Muted.Padding(0, 1)
			default:
				return ux.Styles.Cell
			}
		}).
		String()
}

func formatCell(c *Cell, unit Unit, opts RenderOptions) string {
	if c == nil {
		return ""
	}
	if opts.HideIQR {
		return unit.Format(c.Median)
	}
	return unit.Format(c.Median) + " ± " + unit.Format(c.IQR)
}

func unitLabel(u Unit) string {
	switch u.Name {
	case "us":
		return "microseconds (us)"
	case "ms":
		return "milliseconds (ms)"
	case "ns":
		return "nanoseconds (ns)"
	default:
		return "seconds (s)"
	}
}
