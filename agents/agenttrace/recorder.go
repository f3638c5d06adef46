/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Recorder receives a Record for every closed span.
type Recorder interface {
	RecordSpan(ctx context.Context, rec Record)
}

// RecordCallback is a function that receives closed spans
type RecordCallback func(context.Context, Record)

// byCodeRecorder implements Recorder by invoking callback functions
type byCodeRecorder struct {
	callbacks []RecordCallback
}

// ByCode creates a Recorder that invokes the given callbacks for every closed span
func ByCode(callbacks ...RecordCallback) Recorder {
	return &byCodeRecorder{
		callbacks: callbacks,
	}
}

// RecordSpan invokes all callbacks with the record in parallel
func (r *byCodeRecorder) RecordSpan(ctx context.Context, rec Record) {
	g := new(errgroup.Group)

	for _, callback := range r.callbacks {
		if callback != nil {
			g.Go(func() error {
				callback(ctx, rec)
				return nil
			})
		}
	}

	// Callbacks always return nil.
	_ = g.Wait()
}

// NewDefaultRecorder creates a recorder that logs closed spans to clog
func NewDefaultRecorder() Recorder {
	return ByCode(func(ctx context.Context, rec Record) {
		clog.FromContext(ctx).With(
			"run_id", rec.RunID,
			"trace_id", rec.TraceID,
			"span_type", string(rec.Type),
			"duration_ms", rec.Duration().Milliseconds(),
			"status", rec.Status().String(),
		).Debug("Span closed", "span", rec.String())
	})
}

// recorderKey is the context key for storing a Recorder
type recorderKey struct{}

// WithRecorder returns a new context with the given recorder
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFromContext returns the recorder from the context, or the default recorder
func RecorderFromContext(ctx context.Context) Recorder {
	if r, ok := ctx.Value(recorderKey{}).(Recorder); ok {
		return r
	}
	return NewDefaultRecorder()
}
