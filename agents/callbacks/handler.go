/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"context"
	"fmt"
	"maps"

	"github.com/chainguard-dev/clog"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"github.com/manfredcalvo/agentmlflow/agents/metrics"
)

const meterName = "github.com/manfredcalvo/agentmlflow/agents/callbacks"

// Identity holds caller-supplied correlation values. They are kept on the
// Handler but not yet attached to any span.
type Identity struct {
	UserID        string
	SessionID     string
	Tags          []string
	Version       string
	TraceMetadata map[string]any
}

// Option configures a Handler.
type Option func(*Handler) error

// WithConfig replaces the default shaping configuration.
func WithConfig(cfg Config) Option {
	return func(h *Handler) error {
		if err := cfg.normalize(); err != nil {
			return err
		}
		h.config = cfg
		return nil
	}
}

// WithEngineOptions passes options through to the underlying agenttrace.Engine.
func WithEngineOptions(opts ...agenttrace.Option) Option {
	return func(h *Handler) error {
		h.engineOpts = append(h.engineOpts, opts...)
		return nil
	}
}

// WithGenAIMetrics records token usage, tool calls and failures on m instead
// of a meter from the global MeterProvider.
func WithGenAIMetrics(m *metrics.GenAI) Option {
	return func(h *Handler) error {
		if m == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		h.metrics = m
		return nil
	}
}

// WithUserID records the end user the run is attributed to. It is carried
// on Identity and does not change the emitted spans.
func WithUserID(id string) Option {
	return func(h *Handler) error {
		h.identity.UserID = id
		return nil
	}
}

// WithSessionID records the session or conversation the run belongs to.
func WithSessionID(id string) Option {
	return func(h *Handler) error {
		h.identity.SessionID = id
		return nil
	}
}

// WithTags appends trace level tags to the Identity.
func WithTags(tags ...string) Option {
	return func(h *Handler) error {
		h.identity.Tags = append(h.identity.Tags, tags...)
		return nil
	}
}

// WithVersion records the version of the application being traced.
func WithVersion(version string) Option {
	return func(h *Handler) error {
		h.identity.Version = version
		return nil
	}
}

// WithTraceMetadata records trace level metadata. md is copied.
func WithTraceMetadata(md map[string]any) Option {
	return func(h *Handler) error {
		h.identity.TraceMetadata = maps.Clone(md)
		return nil
	}
}

// Handler translates callback events into spans for one agent run tree.
// It is safe for concurrent use.
type Handler struct {
	engine     *agenttrace.Engine
	engineOpts []agenttrace.Option
	config     Config
	metrics    *metrics.GenAI
	identity   Identity
}

// New creates a Handler that emits spans through backend.
func New(backend agenttrace.Backend, opts ...Option) (*Handler, error) {
	h := &Handler{config: DefaultConfig()}
	for _, opt := range opts {
		if err := opt(h); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	policy, err := h.config.duplicatePolicy()
	if err != nil {
		return nil, err
	}
	engineOpts := append([]agenttrace.Option{agenttrace.WithDuplicatePolicy(policy)}, h.engineOpts...)
	if h.engine, err = agenttrace.NewEngine(backend, engineOpts...); err != nil {
		return nil, fmt.Errorf("creating span engine: %w", err)
	}
	if h.metrics == nil {
		h.metrics = metrics.NewGenAI(meterName)
	}
	return h, nil
}

// LastTraceID returns the trace id of the most recently closed span.
func (h *Handler) LastTraceID() string {
	return h.engine.LastTraceID()
}

// OpenSpans returns the number of spans still waiting for their end event.
func (h *Handler) OpenSpans() int {
	return h.engine.Len()
}

// OpenRunIDs returns the sorted run ids of spans still waiting for their end
// event.
func (h *Handler) OpenRunIDs() []string {
	return h.engine.OpenRunIDs()
}

// Identity returns the correlation values the Handler was created with.
func (h *Handler) Identity() Identity {
	return h.identity
}

// Handle processes one event. Failures are logged and the event is dropped;
// Handle never panics.
func (h *Handler) Handle(ctx context.Context, ev Event) {
	log := clog.FromContext(ctx).With("event", string(ev.Kind), "run_id", ev.RunID)

	defer func() {
		if r := recover(); r != nil {
			log.Debug("Recovered while handling event", "panic", r)
			handlerFailures.WithLabelValues(string(ev.Kind)).Inc()
		}
	}()

	eventsHandled.WithLabelValues(string(ev.Kind)).Inc()
	if err := h.dispatch(ctx, ev); err != nil {
		log.Debug("Failed to handle event", "error", err)
		handlerFailures.WithLabelValues(string(ev.Kind)).Inc()
	}
}

func (h *Handler) dispatch(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case ChainStart:
		return h.chainStart(ctx, ev)
	case LLMStart, ChatModelStart:
		return h.generationStart(ctx, ev)
	case ToolStart:
		return h.toolStart(ctx, ev)
	case RetrieverStart:
		return h.retrieverStart(ctx, ev)

	case ChainEnd:
		return h.chainEnd(ctx, ev)
	case LLMEnd:
		return h.llmEnd(ctx, ev)
	case ToolEnd:
		p, err := payload[ToolEndPayload](ev)
		if err != nil {
			return err
		}
		h.close(ctx, ev, map[string]any{"output": p.Output})
		return nil
	case RetrieverEnd:
		p, err := payload[RetrieverEndPayload](ev)
		if err != nil {
			return err
		}
		h.close(ctx, ev, map[string]any{"output": p.Documents})
		return nil

	case ChainError, LLMError:
		return h.fail(ctx, ev, true)
	case ToolError, RetrieverError:
		return h.fail(ctx, ev, false)

	case LLMNewToken:
		p, err := payload[TokenPayload](ev)
		if err != nil {
			return err
		}
		clog.FromContext(ctx).With("run_id", ev.RunID).Info("LLM returning token", "token", p.Token)
		return nil
	case AgentAction:
		p, err := payload[AgentActionPayload](ev)
		if err != nil {
			return err
		}
		clog.FromContext(ctx).With("run_id", ev.RunID).Debug("Agent action", "tool", p.Tool)
		return nil
	case AgentFinish:
		clog.FromContext(ctx).With("run_id", ev.RunID).Debug("Agent finish")
		return nil

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
}

func payload[T any](ev Event) (T, error) {
	switch p := ev.Payload.(type) {
	case T:
		return p, nil
	case *T:
		if p != nil {
			return *p, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%s: unexpected payload %T", ev.Kind, ev.Payload)
}

// displayName falls back from the explicit name to the most specific
// serialized id segment to def.
func displayName(ev Event, def string) string {
	if ev.Name != "" {
		return ev.Name
	}
	if ev.Serialized != nil {
		if n := len(ev.Serialized.ID); n > 0 && ev.Serialized.ID[n-1] != "" {
			return ev.Serialized.ID[n-1]
		}
	}
	return def
}

func (h *Handler) open(ctx context.Context, ev Event, typ agenttrace.SpanType, name string, inputs map[string]any) {
	h.engine.OpenSpan(ctx, agenttrace.OpenParams{
		Type:        typ,
		Name:        name,
		RunID:       ev.RunID,
		ParentRunID: ev.ParentRunID,
		Inputs:      inputs,
		Tags:        ev.Tags,
		Metadata:    ev.Metadata,
	})
}

func (h *Handler) close(ctx context.Context, ev Event, outputs map[string]any) {
	h.engine.CloseSpan(ctx, ev.RunID, outputs)
}

func (h *Handler) fail(ctx context.Context, ev Event, withDetail bool) error {
	p, err := payload[ErrorPayload](ev)
	if err != nil {
		return err
	}
	h.metrics.RecordError(ctx, errorKind(ev.Kind))
	h.close(ctx, ev, map[string]any{
		"level":         "ERROR",
		"statusMessage": statusMessage(p.Err, withDetail),
	})
	return nil
}

func errorKind(k EventKind) string {
	switch k {
	case ChainError:
		return "chain"
	case LLMError:
		return "llm"
	case ToolError:
		return "tool"
	default:
		return "retriever"
	}
}
