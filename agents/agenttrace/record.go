/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Record summarizes a closed span.
type Record struct {
	RunID         string         `json:"run_id"`
	ParentRunID   string         `json:"parent_run_id,omitempty"`
	Name          string         `json:"name"`
	Type          SpanType       `json:"span_type"`
	TraceID       string         `json:"trace_id"`
	Outputs       map[string]any `json:"outputs,omitempty"`
	Failed        bool           `json:"failed,omitempty"`
	StatusMessage string         `json:"status_message,omitempty"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
}

func newRecord(runID string, e Entry, traceID string, outputs map[string]any, closed time.Time) Record {
	rec := Record{
		RunID:       runID,
		ParentRunID: e.ParentRunID,
		Name:        e.Name,
		Type:        e.Type,
		TraceID:     traceID,
		Outputs:     outputs,
		StartTime:   e.Opened,
		EndTime:     closed,
	}
	if level, _ := outputs["level"].(string); level == "ERROR" {
		rec.Failed = true
		rec.StatusMessage, _ = outputs["statusMessage"].(string)
	}
	return rec
}

// Duration returns how long the span was open.
func (r Record) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Status returns the status the span closed with.
func (r Record) Status() StatusCode {
	if r.Failed {
		return StatusError
	}
	return StatusOK
}

// String returns a structured representation of the record
func (r Record) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("=== Span %s (%s) ===\n", r.Name, r.Type))
	sb.WriteString(fmt.Sprintf("Run: %s\n", r.RunID))
	if r.ParentRunID != "" {
		sb.WriteString(fmt.Sprintf("Parent: %s\n", r.ParentRunID))
	}
	sb.WriteString(fmt.Sprintf("Trace: %s\n", r.TraceID))
	sb.WriteString(fmt.Sprintf("Duration: %v\n", r.Duration()))
	sb.WriteString(fmt.Sprintf("Status: %s\n", r.Status()))
	if r.StatusMessage != "" {
		sb.WriteString(fmt.Sprintf("  %s\n", truncate(r.StatusMessage, 500)))
	}

	if len(r.Outputs) > 0 {
		keys := make([]string, 0, len(r.Outputs))
		for k := range r.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nOutputs:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, truncate(fmt.Sprintf("%v", r.Outputs[k]), 200)))
		}
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
