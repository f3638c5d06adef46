/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// MLflow span attribute keys. Inputs and outputs are JSON encoded.
const (
	AttrSpanType    = "mlflow.spanType"
	AttrSpanInputs  = "mlflow.spanInputs"
	AttrSpanOutputs = "mlflow.spanOutputs"
)

// TraceIDPrefix is prepended to the hex OpenTelemetry trace id to form the
// id MLflow reports for a trace.
const TraceIDPrefix = "tr-"

const tracerName = "github.com/manfredcalvo/agentmlflow/agents/agenttrace"

// OTelOption configures an OTelBackend.
type OTelOption func(*OTelBackend) error

// WithTracerProvider sets an explicit TracerProvider.
// If not set, the global TracerProvider is used.
func WithTracerProvider(tp oteltrace.TracerProvider) OTelOption {
	return func(b *OTelBackend) error {
		if tp == nil {
			return fmt.Errorf("tracer provider cannot be nil")
		}
		b.provider = tp
		return nil
	}
}

// OTelBackend is a Backend that emits OpenTelemetry spans.
type OTelBackend struct {
	provider oteltrace.TracerProvider
	tracer   oteltrace.Tracer
}

var _ Backend = (*OTelBackend)(nil)

// NewOTelBackend creates a Backend on top of an OpenTelemetry TracerProvider.
func NewOTelBackend(opts ...OTelOption) (*OTelBackend, error) {
	b := &OTelBackend{}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}
	if b.provider == nil {
		b.provider = otel.GetTracerProvider()
	}
	b.tracer = b.provider.Tracer(tracerName, oteltrace.WithInstrumentationVersion("1.0.0"))
	return b, nil
}

// StartSpan implements Backend.
func (b *OTelBackend) StartSpan(ctx context.Context, opts StartOptions) (Span, error) {
	startOpts := []oteltrace.SpanStartOption{
		oteltrace.WithAttributes(attribute.String(AttrSpanType, string(opts.Type))),
	}
	if opts.Inputs != nil {
		enc, err := json.Marshal(opts.Inputs)
		if err != nil {
			return nil, fmt.Errorf("encoding inputs of %q: %w", opts.Name, err)
		}
		startOpts = append(startOpts, oteltrace.WithAttributes(attribute.String(AttrSpanInputs, string(enc))))
	}

	if parent, ok := opts.Parent.(*otelSpan); ok && parent != nil {
		ctx = oteltrace.ContextWithSpan(ctx, parent.span)
	} else {
		startOpts = append(startOpts, oteltrace.WithNewRoot())
	}

	_, span := b.tracer.Start(ctx, opts.Name, startOpts...)
	return &otelSpan{span: span}, nil
}

// otelSpan adapts an OpenTelemetry span to Span.
//
// Outputs carrying level ERROR mark the span failed; a later StatusOK does not
// clear that.
type otelSpan struct {
	span oteltrace.Span

	mu     sync.Mutex
	failed bool
}

func (s *otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otelSpan) SetOutputs(outputs map[string]any) {
	enc, err := json.Marshal(outputs)
	if err != nil {
		enc = []byte(fmt.Sprintf("%q", fmt.Sprint(outputs)))
	}
	s.span.SetAttributes(attribute.String(AttrSpanOutputs, string(enc)))

	if level, _ := outputs["level"].(string); level == "ERROR" {
		msg, _ := outputs["statusMessage"].(string)
		s.mu.Lock()
		s.failed = true
		s.mu.Unlock()
		s.span.SetStatus(codes.Error, msg)
	}
}

func (s *otelSpan) SetStatus(code StatusCode) {
	s.mu.Lock()
	failed := s.failed
	s.mu.Unlock()

	switch code {
	case StatusOK:
		if !failed {
			s.span.SetStatus(codes.Ok, "")
		}
	case StatusError:
		s.span.SetStatus(codes.Error, "")
	}
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) TraceID() string {
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return TraceIDPrefix + sc.TraceID().String()
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	}
	enc, err := json.Marshal(value)
	if err != nil {
		return attribute.String(key, fmt.Sprint(value))
	}
	return attribute.String(key, string(enc))
}
