/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import "context"

// SpanType tags the kind of work a span represents.
type SpanType string

const (
	SpanTypeAgent     SpanType = "AGENT"
	SpanTypeChatModel SpanType = "CHAT_MODEL"
	SpanTypeTool      SpanType = "TOOL"
	SpanTypeRetriever SpanType = "RETRIEVER"
	SpanTypeChain     SpanType = "CHAIN"
)

// StatusCode is the terminal status of a span.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNSET"
	}
}

// StartOptions describes a span to open.
type StartOptions struct {
	Name   string
	Type   SpanType
	Inputs map[string]any
	// Parent is nil for root spans.
	Parent Span
}

// Backend creates spans in an external trace store.
type Backend interface {
	StartSpan(ctx context.Context, opts StartOptions) (Span, error)
}

// Span is a live span handle returned by a Backend.
type Span interface {
	SetAttribute(key string, value any)
	SetOutputs(outputs map[string]any)
	SetStatus(code StatusCode)
	End()
	// TraceID is the backend-assigned id of the trace the span belongs to.
	// It is valid after End.
	TraceID() string
}
