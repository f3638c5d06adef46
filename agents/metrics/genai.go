/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"
	"log/slog"

	"github.com/manfredcalvo/agentmlflow/agents/usage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// GenAI provides OpenTelemetry metrics for traced generative AI runs: token
// usage per model, tool calls per tool and upstream failures per event kind.
// Counters that fail to initialize degrade to no-ops.
type GenAI struct {
	meter            metric.Meter
	promptTokens     metric.Int64Counter
	completionTokens metric.Int64Counter
	toolCallCounter  metric.Int64Counter
	errorCounter     metric.Int64Counter
	attrEnricher     AttributeEnricher
}

// NewGenAI creates a GenAI metrics instance on the named meter of the global
// MeterProvider.
func NewGenAI(meterName string) *GenAI {
	return NewGenAIWithProvider(otel.GetMeterProvider(), meterName)
}

// NewGenAIWithProvider creates a GenAI metrics instance on an explicit MeterProvider.
func NewGenAIWithProvider(mp metric.MeterProvider, meterName string) *GenAI {
	meter := mp.Meter(meterName, metric.WithInstrumentationVersion("1.0.0"))

	return &GenAI{
		meter: meter,
		promptTokens: counter(meter, meterName, "genai.token.prompt",
			"The number of prompt tokens used", "{tokens}"),
		completionTokens: counter(meter, meterName, "genai.token.completion",
			"The number of completion tokens used", "{tokens}"),
		toolCallCounter: counter(meter, meterName, "genai.tool.calls",
			"The number of tool calls made during execution", "{calls}"),
		errorCounter: counter(meter, meterName, "genai.errors",
			"The number of failed chain, model, tool and retriever runs", "{errors}"),
	}
}

func counter(meter metric.Meter, meterName, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		slog.Warn("Failed to create counter, metric will be disabled", "error", err, "meter", meterName, "counter", name)
		return noop.Int64Counter{}
	}
	return c
}

// SetAttributeEnricher sets the attribute enricher for this metrics instance.
// The enricher is called before recording each metric.
func (m *GenAI) SetAttributeEnricher(enricher AttributeEnricher) {
	m.attrEnricher = enricher
}

func (m *GenAI) attributes(ctx context.Context, base []attribute.KeyValue, extra []attribute.KeyValue) metric.MeasurementOption {
	if m.attrEnricher != nil {
		base = m.attrEnricher(ctx, base)
	}
	return metric.WithAttributes(append(base, extra...)...)
}

// RecordTokens records prompt and completion token usage for model.
func (m *GenAI) RecordTokens(ctx context.Context, model string, promptTokens, completionTokens int64, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	m.promptTokens.Add(ctx, promptTokens, opt)
	m.completionTokens.Add(ctx, completionTokens, opt)
}

// RecordUsage records whichever of the prompt and completion counters the
// usage record carries.
func (m *GenAI) RecordUsage(ctx context.Context, model string, u usage.Usage, attrs ...attribute.KeyValue) {
	if u.InputTokens == nil && u.OutputTokens == nil {
		return
	}
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("model", model)}, attrs)
	if u.InputTokens != nil {
		m.promptTokens.Add(ctx, *u.InputTokens, opt)
	}
	if u.OutputTokens != nil {
		m.completionTokens.Add(ctx, *u.OutputTokens, opt)
	}
}

// RecordToolCall records a tool invocation.
func (m *GenAI) RecordToolCall(ctx context.Context, toolName string, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("tool", toolName)}, attrs)
	m.toolCallCounter.Add(ctx, 1, opt)
}

// RecordError records a failed run of the given kind (chain, llm, tool, retriever).
func (m *GenAI) RecordError(ctx context.Context, kind string, attrs ...attribute.KeyValue) {
	opt := m.attributes(ctx, []attribute.KeyValue{attribute.String("kind", kind)}, attrs)
	m.errorCounter.Add(ctx, 1, opt)
}
