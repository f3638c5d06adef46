/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
)

// AttrParentRunID carries the raw parent run id on every span opened with one,
// whether or not the parent was found.
const AttrParentRunID = "parentRunID"

// DuplicatePolicy decides what happens when a run id is opened while a span is
// already open under it.
type DuplicatePolicy int

const (
	// Overwrite replaces the registered span. The replaced span is never closed.
	Overwrite DuplicatePolicy = iota
	// Reject drops the second open.
	Reject
)

func (p DuplicatePolicy) String() string {
	if p == Reject {
		return "reject"
	}
	return "overwrite"
}

// OpenParams describes a start event.
type OpenParams struct {
	Type        SpanType
	Name        string
	RunID       string
	ParentRunID string
	Inputs      map[string]any
	Tags        []string
	Metadata    map[string]any
}

// Option configures an Engine.
type Option func(*Engine) error

// WithDuplicatePolicy sets how a reused run id is handled. The default is Overwrite.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(e *Engine) error {
		switch p {
		case Overwrite, Reject:
			e.policy = p
			return nil
		default:
			return fmt.Errorf("unknown duplicate policy %d", p)
		}
	}
}

// WithRecorders sets the recorders that receive every closed span. When none
// are set, the recorder carried by the context is used.
func WithRecorders(recorders ...Recorder) Option {
	return func(e *Engine) error {
		e.recorders = append(e.recorders, recorders...)
		return nil
	}
}

// WithRegistry shares an existing registry with the engine.
func WithRegistry(r *Registry) Option {
	return func(e *Engine) error {
		if r == nil {
			return errors.New("registry cannot be nil")
		}
		e.registry = r
		return nil
	}
}

// Engine opens and closes spans for one agent run tree. It owns the run id
// registry and the id of the most recently closed trace.
type Engine struct {
	backend   Backend
	registry  *Registry
	policy    DuplicatePolicy
	recorders []Recorder
	now       func() time.Time

	mu          sync.RWMutex
	lastTraceID string
}

// NewEngine creates an Engine that emits spans through backend.
func NewEngine(backend Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	e := &Engine{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	return e, nil
}

// OpenSpan opens a span for p.RunID under its parent, if the parent is open,
// and registers it. It reports false when no span was opened.
func (e *Engine) OpenSpan(ctx context.Context, p OpenParams) (Span, bool) {
	log := clog.FromContext(ctx).With("run_id", p.RunID, "span_type", string(p.Type))

	if e.policy == Reject {
		if _, ok := e.registry.Get(p.RunID); ok {
			log.Warn("Run id already has an open span, rejecting")
			duplicateRunIDs.WithLabelValues(e.policy.String()).Inc()
			return nil, false
		}
	}

	var parent Span
	if p.ParentRunID != "" {
		if pe, ok := e.registry.Get(p.ParentRunID); ok {
			parent = pe.Span
		}
	}

	inputs := maps.Clone(p.Inputs)
	if inputs == nil {
		inputs = make(map[string]any, 1)
	}
	if md := MergeTagsAndMetadata(p.Tags, p.Metadata); md != nil {
		inputs["metadata"] = md
	}

	span, err := e.backend.StartSpan(ctx, StartOptions{
		Name:   p.Name,
		Type:   p.Type,
		Inputs: inputs,
		Parent: parent,
	})
	if err != nil {
		log.Debug("Failed to start span", "error", err)
		backendFailures.Inc()
		return nil, false
	}
	if p.ParentRunID != "" {
		span.SetAttribute(AttrParentRunID, p.ParentRunID)
	}

	entry := Entry{
		Span:        span,
		Name:        p.Name,
		Type:        p.Type,
		ParentRunID: p.ParentRunID,
		Opened:      e.now(),
	}
	if e.policy == Reject {
		// Another open for the same run id may have won since the check above.
		if !e.registry.PutIfAbsent(p.RunID, entry) {
			log.Warn("Run id already has an open span, rejecting")
			duplicateRunIDs.WithLabelValues(e.policy.String()).Inc()
			span.SetStatus(StatusError)
			span.End()
			return nil, false
		}
	} else if _, replaced := e.registry.Put(p.RunID, entry); replaced {
		log.Warn("Run id already had an open span, replacing it")
		duplicateRunIDs.WithLabelValues(e.policy.String()).Inc()
	}
	spansOpened.WithLabelValues(string(p.Type)).Inc()
	return span, true
}

// CloseSpan attaches outputs to the span open under runID, marks it OK, ends it
// and evicts it. Error closes carry level and statusMessage in outputs. It
// reports false when no span is open under runID.
func (e *Engine) CloseSpan(ctx context.Context, runID string, outputs map[string]any) bool {
	entry, ok := e.registry.Take(runID)
	if !ok {
		clog.FromContext(ctx).With("run_id", runID).Warn("No open span for run")
		closeMisses.Inc()
		return false
	}

	entry.Span.SetOutputs(outputs)
	entry.Span.SetStatus(StatusOK)
	entry.Span.End()

	traceID := entry.Span.TraceID()
	e.mu.Lock()
	e.lastTraceID = traceID
	e.mu.Unlock()
	spansClosed.WithLabelValues(string(entry.Type)).Inc()

	e.record(ctx, newRecord(runID, entry, traceID, outputs, e.now()))
	return true
}

// LastTraceID returns the trace id of the most recently closed span.
func (e *Engine) LastTraceID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastTraceID
}

// IsOpen reports whether a span is open under runID.
func (e *Engine) IsOpen(runID string) bool {
	_, ok := e.registry.Get(runID)
	return ok
}

// OpenRunIDs returns the run ids of all open spans, sorted.
func (e *Engine) OpenRunIDs() []string {
	ids := e.registry.RunIDs()
	slices.Sort(ids)
	return ids
}

// Len returns the number of open spans.
func (e *Engine) Len() int {
	return e.registry.Len()
}

func (e *Engine) record(ctx context.Context, rec Record) {
	if len(e.recorders) == 0 {
		RecorderFromContext(ctx).RecordSpan(ctx, rec)
		return
	}
	for _, r := range e.recorders {
		r.RecordSpan(ctx, rec)
	}
}

// MergeTagsAndMetadata folds tags and metadata into one map. Tags are stored
// under "tags" when non-empty; metadata keys win over it. The result is nil
// when there is nothing to store.
func MergeTagsAndMetadata(tags []string, metadata map[string]any) map[string]any {
	merged := make(map[string]any, len(metadata)+1)
	if len(tags) > 0 {
		merged["tags"] = tags
	}
	maps.Copy(merged, metadata)
	if len(merged) == 0 {
		return nil
	}
	return merged
}
