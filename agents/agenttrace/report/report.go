/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package report collects closed span records and renders them as a
// markdown table.
package report

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"github.com/manfredcalvo/agentmlflow/agents/usage"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

// Collector is an agenttrace.Recorder that keeps every record it sees.
type Collector struct {
	mu      sync.Mutex
	records []agenttrace.Record
}

var _ agenttrace.Recorder = (*Collector)(nil)

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// RecordSpan implements agenttrace.Recorder.
func (c *Collector) RecordSpan(_ context.Context, rec agenttrace.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

// Records returns the collected records ordered by start time.
func (c *Collector) Records() []agenttrace.Record {
	c.mu.Lock()
	out := slices.Clone(c.records)
	c.mu.Unlock()

	slices.SortStableFunc(out, func(a, b agenttrace.Record) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return out
}

// Failed counts the collected records that closed with an error.
func (c *Collector) Failed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, rec := range c.records {
		if rec.Failed {
			n++
		}
	}
	return n
}

// WriteTable renders records, one row per span.
func WriteTable(w io.Writer, records []agenttrace.Record) error {
	table := newTable([]string{"Span", "Type", "Status", "Duration", "Tokens", "Trace"}, w)
	for _, rec := range records {
		status := rec.Status().String()
		if rec.Failed && rec.StatusMessage != "" {
			status += ": " + firstLine(rec.StatusMessage)
		}
		if err := table.Append([]string{
			rec.Name,
			string(rec.Type),
			status,
			rec.Duration().Round(time.Millisecond).String(),
			tokens(rec),
			rec.TraceID,
		}); err != nil {
			return fmt.Errorf("appending row for %s: %w", rec.RunID, err)
		}
	}
	return table.Render()
}

func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 120,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

// tokens renders "input/output" for generation spans that reported usage.
func tokens(rec agenttrace.Record) string {
	u, ok := rec.Outputs["usageDetails"].(usage.Usage)
	if !ok {
		return ""
	}
	in, out := "-", "-"
	if u.InputTokens != nil {
		in = fmt.Sprint(*u.InputTokens)
	}
	if u.OutputTokens != nil {
		out = fmt.Sprint(*u.OutputTokens)
	}
	return in + "/" + out
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
