/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package agenttrace reconstructs agent call trees from start and end events and
exports them as spans.

# Overview

This package contains the span lifecycle primitives used by the callback
handler:

  - Backend and Span: the minimal span interface consumed from a trace store
  - OTelBackend: a Backend that emits OpenTelemetry spans carrying MLflow span attributes
  - Registry: the run id to live span table, safe for concurrent use
  - Engine: opens spans under their resolved parent and closes them exactly once
  - Recorder: receives a Record for every closed span (ByCode, NewDefaultRecorder)

# Parent resolution

Parents are looked up by run id at open time. A parent that was never opened,
was filtered, or has already closed resolves to nothing and the new span
becomes a root. The raw parent run id is still attached to the span under the
parentRunID attribute.

# Usage

	backend, err := agenttrace.NewOTelBackend(agenttrace.WithTracerProvider(tp))
	if err != nil {
		return err
	}
	engine, err := agenttrace.NewEngine(backend,
		agenttrace.WithRecorders(agenttrace.ByCode(func(ctx context.Context, rec agenttrace.Record) {
			log.Printf("closed %s in %v", rec.Name, rec.Duration())
		})),
	)
	if err != nil {
		return err
	}

	engine.OpenSpan(ctx, agenttrace.OpenParams{
		Type:  agenttrace.SpanTypeAgent,
		Name:  "Langchain Run",
		RunID: "r1",
	})
	engine.CloseSpan(ctx, "r1", map[string]any{"output": "Hello"})
	fmt.Println(engine.LastTraceID())
*/
package agenttrace
