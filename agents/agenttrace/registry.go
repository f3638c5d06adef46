/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"sync"
	"time"
)

// Entry is a live span together with what it was opened with.
type Entry struct {
	Span        Span
	Name        string
	Type        SpanType
	ParentRunID string
	Opened      time.Time
}

// Registry maps run ids to live spans. It is safe for concurrent use; operations
// on distinct run ids never interfere.
type Registry struct {
	mu    sync.RWMutex
	spans map[string]Entry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{spans: make(map[string]Entry)}
}

// Put stores e under runID, returning any entry it replaced.
func (r *Registry) Put(runID string, e Entry) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.spans[runID]
	r.spans[runID] = e
	return prev, ok
}

// PutIfAbsent stores e under runID unless an entry is already there. It
// reports whether e was stored.
func (r *Registry) PutIfAbsent(runID string, e Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.spans[runID]; ok {
		return false
	}
	r.spans[runID] = e
	return true
}

// Get returns the entry for runID.
func (r *Registry) Get(runID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.spans[runID]
	return e, ok
}

// Take removes and returns the entry for runID. Of several concurrent Take
// calls for the same run id, at most one succeeds.
func (r *Registry) Take(runID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.spans[runID]
	if ok {
		delete(r.spans, runID)
	}
	return e, ok
}

// Len returns the number of open spans.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.spans)
}

// RunIDs returns the run ids of all open spans in no particular order.
func (r *Registry) RunIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.spans))
	for id := range r.spans {
		ids = append(ids, id)
	}
	return ids
}
