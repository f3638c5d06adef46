/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agenttracetest provides an in-memory agenttrace.Backend for tests.
//
// Every span started through the Backend is kept, along with its attributes,
// outputs, status and end order. Root spans are assigned trace ids "trace-1",
// "trace-2", ... and children inherit their parent's id.
//
//	backend := agenttracetest.New()
//	engine, _ := agenttrace.NewEngine(backend)
//	// drive the engine
//	for _, s := range backend.Ended() {
//	    t.Logf("%s closed with %v", s.Name, s.Outputs())
//	}
package agenttracetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
)

// Backend records spans in memory.
type Backend struct {
	// StartErr, when set, is returned by every StartSpan call.
	StartErr error

	mu     sync.Mutex
	spans  []*Span
	ended  []*Span
	traces int
}

var _ agenttrace.Backend = (*Backend)(nil)

// New returns an empty Backend.
func New() *Backend {
	return &Backend{}
}

// StartSpan implements agenttrace.Backend.
func (b *Backend) StartSpan(_ context.Context, opts agenttrace.StartOptions) (agenttrace.Span, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.StartErr != nil {
		return nil, b.StartErr
	}

	s := &Span{
		Name:       opts.Name,
		Type:       opts.Type,
		Inputs:     opts.Inputs,
		backend:    b,
		attributes: map[string]any{},
	}
	if parent, ok := opts.Parent.(*Span); ok && parent != nil {
		s.Parent = parent
		s.traceID = parent.traceID
	} else {
		b.traces++
		s.traceID = fmt.Sprintf("trace-%d", b.traces)
	}
	b.spans = append(b.spans, s)
	return s, nil
}

// Spans returns every started span in start order.
func (b *Backend) Spans() []*Span {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Span(nil), b.spans...)
}

// Ended returns every ended span in end order.
func (b *Backend) Ended() []*Span {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Span(nil), b.ended...)
}

// Find returns the first span started with the given name.
func (b *Backend) Find(name string) *Span {
	for _, s := range b.Spans() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Span is a recorded span.
type Span struct {
	Name   string
	Type   agenttrace.SpanType
	Inputs map[string]any
	// Parent is nil for root spans.
	Parent *Span

	backend *Backend

	mu         sync.Mutex
	attributes map[string]any
	outputs    map[string]any
	status     agenttrace.StatusCode
	ends       int
	traceID    string
}

var _ agenttrace.Span = (*Span)(nil)

func (s *Span) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attributes[key] = value
}

func (s *Span) SetOutputs(outputs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = outputs
}

func (s *Span) SetStatus(code agenttrace.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
}

func (s *Span) End() {
	s.mu.Lock()
	s.ends++
	s.mu.Unlock()

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.backend.ended = append(s.backend.ended, s)
}

func (s *Span) TraceID() string {
	return s.traceID
}

// Attribute returns an attribute set with SetAttribute.
func (s *Span) Attribute(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.attributes[key]
	return v, ok
}

// Outputs returns the outputs set with SetOutputs.
func (s *Span) Outputs() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

// Status returns the last status set.
func (s *Span) Status() agenttrace.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ends returns how many times End was called.
func (s *Span) Ends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}
