/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

func newRecordingBackend(t *testing.T) (*OTelBackend, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	backend, err := NewOTelBackend(WithTracerProvider(tp))
	require.NoError(t, err)
	return backend, sr
}

func attrs(span sdktrace.ReadOnlySpan) map[string]attribute.Value {
	out := make(map[string]attribute.Value)
	for _, kv := range span.Attributes() {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func ended(t *testing.T, sr *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range sr.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("span %q not ended", name)
	return nil
}

func TestWithTracerProviderNil(t *testing.T) {
	if _, err := NewOTelBackend(WithTracerProvider(nil)); err == nil {
		t.Error("NewOTelBackend() error: got = nil, wanted = error")
	}
}

func TestOTelBackendEncodesMLflowAttributes(t *testing.T) {
	ctx := context.Background()
	backend, sr := newRecordingBackend(t)

	span, err := backend.StartSpan(ctx, StartOptions{
		Name:   "Tool execution",
		Type:   SpanTypeTool,
		Inputs: map[string]any{"input": "2+2"},
	})
	require.NoError(t, err)
	span.SetAttribute(AttrParentRunID, "p1")
	span.SetAttribute("attempt", 2)
	span.SetAttribute("extra", map[string]any{"k": "v"})
	span.SetOutputs(map[string]any{"output": "4"})
	span.SetStatus(StatusOK)
	span.End()

	got := ended(t, sr, "Tool execution")
	a := attrs(got)
	if v := a[AttrSpanType].AsString(); v != "TOOL" {
		t.Errorf("%s: got = %q, wanted = %q", AttrSpanType, v, "TOOL")
	}
	if v := a[AttrSpanInputs].AsString(); v != `{"input":"2+2"}` {
		t.Errorf("%s: got = %s, wanted = %s", AttrSpanInputs, v, `{"input":"2+2"}`)
	}
	if v := a[AttrSpanOutputs].AsString(); v != `{"output":"4"}` {
		t.Errorf("%s: got = %s, wanted = %s", AttrSpanOutputs, v, `{"output":"4"}`)
	}
	if v := a[AttrParentRunID].AsString(); v != "p1" {
		t.Errorf("%s: got = %q, wanted = %q", AttrParentRunID, v, "p1")
	}
	if v := a["attempt"].AsInt64(); v != 2 {
		t.Errorf("attempt: got = %d, wanted = 2", v)
	}
	if v := a["extra"].AsString(); v != `{"k":"v"}` {
		t.Errorf("extra: got = %s, wanted = %s", v, `{"k":"v"}`)
	}
	if got.Status().Code != codes.Ok {
		t.Errorf("status: got = %v, wanted = %v", got.Status().Code, codes.Ok)
	}

	wantID := TraceIDPrefix + got.SpanContext().TraceID().String()
	if id := span.TraceID(); id != wantID {
		t.Errorf("TraceID(): got = %q, wanted = %q", id, wantID)
	}
	if !strings.HasPrefix(span.TraceID(), "tr-") || len(span.TraceID()) != len("tr-")+32 {
		t.Errorf("TraceID(): got = %q, wanted = tr- followed by 32 hex digits", span.TraceID())
	}
}

func TestOTelBackendParenting(t *testing.T) {
	ctx := context.Background()
	backend, sr := newRecordingBackend(t)

	root, err := backend.StartSpan(ctx, StartOptions{Name: "root", Type: SpanTypeAgent})
	require.NoError(t, err)
	child, err := backend.StartSpan(ctx, StartOptions{Name: "child", Type: SpanTypeChatModel, Parent: root})
	require.NoError(t, err)
	other, err := backend.StartSpan(ctx, StartOptions{Name: "other", Type: SpanTypeAgent})
	require.NoError(t, err)
	child.End()
	root.End()
	other.End()

	r, c, o := ended(t, sr, "root"), ended(t, sr, "child"), ended(t, sr, "other")
	if c.Parent().SpanID() != r.SpanContext().SpanID() {
		t.Errorf("child parent: got = %v, wanted = %v", c.Parent().SpanID(), r.SpanContext().SpanID())
	}
	if child.TraceID() != root.TraceID() {
		t.Errorf("child trace: got = %q, wanted = %q", child.TraceID(), root.TraceID())
	}
	if o.Parent().IsValid() {
		t.Errorf("other parent: got = %v, wanted = none", o.Parent())
	}
	if other.TraceID() == root.TraceID() {
		t.Errorf("other trace: got = %q, wanted a new trace", other.TraceID())
	}
}

func TestOTelBackendRootIgnoresAmbientSpan(t *testing.T) {
	backend, sr := newRecordingBackend(t)

	ambient, err := backend.StartSpan(context.Background(), StartOptions{Name: "ambient"})
	require.NoError(t, err)
	ctx := oteltrace.ContextWithSpan(context.Background(), ambient.(*otelSpan).span)

	root, err := backend.StartSpan(ctx, StartOptions{Name: "root", Type: SpanTypeAgent})
	require.NoError(t, err)
	root.End()
	ambient.End()

	if p := ended(t, sr, "root").Parent(); p.IsValid() {
		t.Errorf("root parent: got = %v, wanted = none", p)
	}
}

func TestOTelBackendErrorOutputs(t *testing.T) {
	ctx := context.Background()
	backend, sr := newRecordingBackend(t)

	span, err := backend.StartSpan(ctx, StartOptions{Name: "llm", Type: SpanTypeChatModel})
	require.NoError(t, err)
	span.SetOutputs(map[string]any{"level": "ERROR", "statusMessage": "rate limited"})
	// The engine always marks closes OK; the error recorded in outputs wins.
	span.SetStatus(StatusOK)
	span.End()

	got := ended(t, sr, "llm")
	want := sdktrace.Status{Code: codes.Error, Description: "rate limited"}
	if diff := cmp.Diff(want, got.Status()); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}

	var outputs map[string]any
	require.NoError(t, json.Unmarshal([]byte(attrs(got)[AttrSpanOutputs].AsString()), &outputs))
	if outputs["level"] != "ERROR" {
		t.Errorf("level: got = %v, wanted = ERROR", outputs["level"])
	}
}

func TestOTelBackendRejectsUnencodableInputs(t *testing.T) {
	backend, _ := newRecordingBackend(t)
	_, err := backend.StartSpan(context.Background(), StartOptions{
		Name:   "bad",
		Inputs: map[string]any{"ch": make(chan int)},
	})
	if err == nil {
		t.Error("StartSpan() error: got = nil, wanted = error")
	}
}
