// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// ruleWidth is the width of section rules.
const ruleWidth = 79

// Console writes progress markers for a benchmark sweep.
//
// In plain mode no ANSI styling is emitted and icons are replaced by ASCII
// prefixes, which keeps piped output and test assertions stable.
//
// # Thread Safety
//
// Console is safe for concurrent use; each marker is written atomically.
type Console struct {
	w     io.Writer
	plain bool
	mu    sync.Mutex
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithPlain forces plain output on or off.
func WithPlain(plain bool) ConsoleOption {
	return func(c *Console) {
		c.plain = plain
	}
}

// NewConsole creates a Console writing to w.
//
// Plain mode is the default unless w is a terminal. WithPlain overrides the
// detection, so --no-color can force it.
func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	c := &Console{w: w, plain: !IsTerminal(w)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discard returns a Console that writes nothing.
func Discard() *Console {
	return NewConsole(io.Discard, WithPlain(true))
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Plain reports whether styling is disabled.
func (c *Console) Plain() bool {
	return c.plain
}

// Writer returns the underlying writer.
func (c *Console) Writer() io.Writer {
	return c.w
}

// Render applies style unless the console is plain.
func (c *Console) Render(style lipgloss.Style, text string) string {
	if c.plain {
		return text
	}
	return style.Render(text)
}

// Section prints a rule followed by a highlighted header line.
func (c *Console) Section(title string) {
	c.printf("%s\n%s Benchmarking %s\n",
		c.Render(Styles.Muted, strings.Repeat("-", ruleWidth)),
		c.icon(IconArrow, "->"),
		c.Render(Styles.Warning, title))
}

// Trial prints the header of one trial combination.
func (c *Console) Trial(variant, module, detail string) {
	c.printf("\n\t%s\n\t%s (%s) Module: %s | %s\n",
		c.Render(Styles.Muted, strings.Repeat("-", ruleWidth-9)),
		c.icon(IconArrow, "->"),
		c.Render(Styles.Subtitle, variant),
		c.Render(Styles.Bold, module),
		detail)
}

// Threads announces a timing run at a thread count.
func (c *Console) Threads(n int) {
	c.printf("\t\t%s benchmarking with num_threads=%d...\n", c.icon(IconArrow, "->"), n)
}

// Saving marks a measurement as persisted.
func (c *Console) Saving() {
	c.printf("\t\t%s %s\n", c.icon(IconSuccess, "->"), c.Render(Styles.Success, "Saving benchmark..."))
}

// Skip marks a trial as skipped.
func (c *Console) Skip(reason string) {
	msg := "Fail to run. Skipping benchmark..."
	if reason != "" {
		msg += " (" + reason + ")"
	}
	c.printf("\t\t%s %s\n", c.icon(IconError, "->"), c.Render(Styles.Error, msg))
}

// Failure prints a boxed error report.
func (c *Console) Failure(title string, err error) {
	body := fmt.Sprintf("Exception on running %s\n%v", title, err)
	if c.plain {
		rule := strings.Repeat("-", ruleWidth)
		c.printf("\n%s\n%s\n%s\n", rule, body, rule)
		return
	}
	c.printf("\n%s\n", Styles.ErrorBox.Render(Styles.Error.Bold(true).Render(body)))
}

// Warning prints a warning line.
func (c *Console) Warning(text string) {
	c.printf("%s %s\n", c.icon(IconWarning, "WARN:"), c.Render(Styles.Warning, text))
}

// Info prints an informational line.
func (c *Console) Info(text string) {
	c.printf("%s %s\n", c.icon(IconBullet, "-"), text)
}

// Summary prints the sweep totals.
func (c *Console) Summary(attempted, succeeded, skipped, records int) {
	if c.plain {
		c.printf("\nSUMMARY: attempted=%d succeeded=%d skipped=%d records=%d\n",
			attempted, succeeded, skipped, records)
		return
	}
	c.printf("\n%s %s  %s %s  %s %s  %s %s\n",
		Styles.Bold.Render(fmt.Sprintf("%d", attempted)), Styles.Muted.Render("attempted"),
		Styles.Success.Render(fmt.Sprintf("%d", succeeded)), Styles.Muted.Render("succeeded"),
		Styles.Error.Render(fmt.Sprintf("%d", skipped)), Styles.Muted.Render("skipped"),
		Styles.Highlight.Render(fmt.Sprintf("%d", records)), Styles.Muted.Render("records"),
	)
}

// Println writes a raw line.
func (c *Console) Println(text string) {
	c.printf("%s\n", text)
}

func (c *Console) icon(i Icon, plain string) string {
	if c.plain {
		return plain
	}
	return i.Render()
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}
