/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace/agenttracetest"
	"github.com/manfredcalvo/agentmlflow/agents/messages"
	"github.com/manfredcalvo/agentmlflow/agents/usage"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"pgregory.net/rapid"
)

func newHandler(t testing.TB, opts ...Option) (*Handler, *agenttracetest.Backend) {
	t.Helper()
	backend := agenttracetest.New()
	opts = append([]Option{WithEngineOptions(agenttrace.WithRecorders(agenttrace.ByCode()))}, opts...)
	h, err := New(backend, opts...)
	require.NoError(t, err)
	return h, backend
}

func chainStart(runID, parent, name string, inputs map[string]any) Event {
	return Event{
		Kind:        ChainStart,
		RunID:       runID,
		ParentRunID: parent,
		Name:        name,
		Payload:     ChainStartPayload{Inputs: inputs},
	}
}

func usageOf(t *testing.T, outputs map[string]any) usage.Usage {
	t.Helper()
	u, ok := outputs["usageDetails"].(usage.Usage)
	if !ok {
		t.Fatalf("usageDetails: got = %T, wanted = usage.Usage", outputs["usageDetails"])
	}
	return u
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, chainStart("r1", "", "AgentExecutor", map[string]any{"input": "Hi"}))
	h.Handle(ctx, Event{
		Kind:        ChatModelStart,
		RunID:       "r2",
		ParentRunID: "r1",
		Serialized:  &Serialized{ID: []string{"langchain", "chat_models", "openai", "ChatOpenAI"}},
		Payload: ChatModelStartPayload{Messages: [][]messages.Message{{
			{Type: messages.TypeHuman, Content: "Hi"},
		}}},
	})
	h.Handle(ctx, Event{
		Kind:  LLMEnd,
		RunID: "r2",
		Payload: LLMEndPayload{Result: LLMResult{Generations: [][]Generation{{{
			Text: "Hello",
			Message: &messages.Message{
				Type:    messages.TypeAI,
				Content: "Hello",
				UsageMetadata: &messages.UsageMetadata{
					InputTokens:  messages.Int64(10),
					OutputTokens: messages.Int64(5),
				},
			},
		}}}}},
	})
	h.Handle(ctx, Event{Kind: ChainEnd, RunID: "r1", Payload: ChainEndPayload{Outputs: map[string]any{"output": "Hello"}}})

	spans := backend.Spans()
	require.Len(t, spans, 2)

	ended := backend.Ended()
	require.Len(t, ended, 2)
	if ended[0].Name != "ChatOpenAI" || ended[1].Name != "AgentExecutor" {
		t.Errorf("end order: got = [%s %s], wanted = [ChatOpenAI AgentExecutor]", ended[0].Name, ended[1].Name)
	}

	llm, agent := ended[0], ended[1]
	if llm.Parent != agent {
		t.Errorf("ChatOpenAI parent: got = %v, wanted = AgentExecutor", llm.Parent)
	}
	u := usageOf(t, llm.Outputs())
	want := map[string]any{"input_tokens": int64(10), "output_tokens": int64(5)}
	got := map[string]any{}
	for _, k := range u.Keys() {
		got[k], _ = u.Get(k)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("usageDetails mismatch (-want +got):\n%s", diff)
	}
	if u.TotalTokens != nil {
		t.Errorf("total_tokens: got = %d, wanted = unset", *u.TotalTokens)
	}

	if got := agent.Outputs()["output"]; got != "Hello" {
		t.Errorf("r1 output: got = %v, wanted = Hello", got)
	}
	if got, want := h.LastTraceID(), agent.TraceID(); got != want {
		t.Errorf("LastTraceID(): got = %q, wanted = %q", got, want)
	}
	if got := h.OpenSpans(); got != 0 {
		t.Errorf("OpenSpans(): got = %d, wanted = 0", got)
	}
}

func TestNoiseFilter(t *testing.T) {
	blocklist := DefaultConfig().NoiseFilter

	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		h, backend := newHandler(t)

		name := rapid.OneOf(
			rapid.StringMatching(`[A-Za-z]{1,12}`),
			rapid.Custom(func(rt *rapid.T) string {
				word := rapid.SampledFrom(blocklist).Draw(rt, "word")
				// Mixed case must still match.
				if rapid.Bool().Draw(rt, "upper") {
					word = strings.ToUpper(word[:1]) + word[1:]
				}
				return rapid.StringMatching(`[A-Za-z]{0,4}`).Draw(rt, "prefix") + word
			}),
		).Draw(rt, "name")

		runID := uuid.NewString()
		h.Handle(ctx, chainStart(runID, "", name, map[string]any{"input": "x"}))

		blocked := false
		for _, b := range blocklist {
			if strings.Contains(strings.ToLower(name), b) {
				blocked = true
			}
		}

		wantSpans, wantOpen := 1, 1
		if blocked {
			wantSpans, wantOpen = 0, 0
		}
		if got := len(backend.Spans()); got != wantSpans {
			rt.Errorf("spans for %q: got = %d, wanted = %d", name, got, wantSpans)
		}
		if got := h.OpenSpans(); got != wantOpen {
			rt.Errorf("open spans for %q: got = %d, wanted = %d", name, got, wantOpen)
		}
	})
}

func TestFilteredParentMakesChildRoot(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, chainStart("agent", "", "AgentExecutor", map[string]any{"input": "x"}))
	h.Handle(ctx, chainStart("lambda", "agent", "RunnableLambda", map[string]any{"input": "x"}))
	h.Handle(ctx, Event{Kind: ToolStart, RunID: "tool", ParentRunID: "lambda", Name: "calculator", Payload: ToolStartPayload{Input: "2+2"}})

	tool := backend.Find("calculator")
	require.NotNil(t, tool)
	if tool.Parent != nil {
		t.Errorf("tool parent: got = %s, wanted = none", tool.Parent.Name)
	}
	if got, _ := tool.Attribute(agenttrace.AttrParentRunID); got != "lambda" {
		t.Errorf("parentRunID: got = %v, wanted = lambda", got)
	}
	if backend.Find("RunnableLambda") != nil {
		t.Error("RunnableLambda span: got = started, wanted = filtered")
	}

	// Ending the filtered chain is a no-op.
	h.Handle(ctx, Event{Kind: ChainEnd, RunID: "lambda", Payload: ChainEndPayload{Outputs: "x"}})
	if got := len(backend.Ended()); got != 0 {
		t.Errorf("ended spans: got = %d, wanted = 0", got)
	}
}

func TestCloseWithoutOpenIsNoop(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	for _, ev := range []Event{
		{Kind: ChainEnd, RunID: "missing", Payload: ChainEndPayload{Outputs: "x"}},
		{Kind: LLMEnd, RunID: "missing", Payload: LLMEndPayload{}},
		{Kind: ToolEnd, RunID: "missing", Payload: ToolEndPayload{Output: "x"}},
		{Kind: RetrieverEnd, RunID: "missing", Payload: RetrieverEndPayload{}},
		{Kind: ChainError, RunID: "missing", Payload: ErrorPayload{Err: errors.New("boom")}},
	} {
		h.Handle(ctx, ev)
	}

	if got := len(backend.Spans()); got != 0 {
		t.Errorf("spans: got = %d, wanted = 0", got)
	}
	if got := h.LastTraceID(); got != "" {
		t.Errorf("LastTraceID(): got = %q, wanted = empty", got)
	}
}

func TestChainStartShaping(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, Event{
		Kind:       ChainStart,
		RunID:      "r",
		Serialized: &Serialized{ID: []string{"langchain", "agents", "AgentExecutor"}},
		Tags:       []string{"prod"},
		Metadata:   map[string]any{"thread": "t1"},
		Payload: ChainStartPayload{Inputs: map[string]any{
			"input":          "What is 2+2?",
			"system_message": "You are helpful.",
			"chat_history": []any{
				map[string]any{"type": "human", "content": "hi"},
				map[string]any{"type": "ai", "content": "hello"},
			},
		}},
	})

	span := backend.Find("AgentExecutor")
	require.NotNil(t, span)
	if span.Type != agenttrace.SpanTypeAgent {
		t.Errorf("type: got = %v, wanted = %v", span.Type, agenttrace.SpanTypeAgent)
	}
	want := map[string]any{
		"messages": []messages.Normalized{
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello"},
			{Role: "user", Content: "What is 2+2?"},
		},
		"system_message": "You are helpful.",
		"metadata":       map[string]any{"tags": []string{"prod"}, "thread": "t1"},
	}
	if diff := cmp.Diff(want, span.Inputs); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}
}

func TestDisplayNames(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		def  string
		want string
	}{{
		name: "explicit name",
		ev:   Event{Name: "MyChain", Serialized: &Serialized{ID: []string{"a", "B"}}},
		def:  "Langchain Run",
		want: "MyChain",
	}, {
		name: "serialized id",
		ev:   Event{Serialized: &Serialized{ID: []string{"a", "B"}}},
		def:  "Langchain Run",
		want: "B",
	}, {
		name: "empty serialized id",
		ev:   Event{Serialized: &Serialized{}},
		def:  "Retriever",
		want: "Retriever",
	}, {
		name: "nothing",
		def:  "Tool execution",
		want: "Tool execution",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayName(tt.ev, tt.def); got != tt.want {
				t.Errorf("displayName(): got = %q, wanted = %q", got, tt.want)
			}
		})
	}
}

func TestChainEndUnwrapsOutput(t *testing.T) {
	tests := []struct {
		name    string
		outputs any
		want    any
	}{{
		name:    "string output field",
		outputs: map[string]any{"output": "Hello", "other": 1},
		want:    "Hello",
	}, {
		name:    "non-string output field",
		outputs: map[string]any{"output": 42.0},
		want:    map[string]any{"output": 42.0},
	}, {
		name:    "no output field",
		outputs: map[string]any{"answer": "x"},
		want:    map[string]any{"answer": "x"},
	}, {
		name:    "plain string",
		outputs: "done",
		want:    "done",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h, backend := newHandler(t)
			h.Handle(ctx, chainStart("r", "", "Chain", nil))
			h.Handle(ctx, Event{Kind: ChainEnd, RunID: "r", Payload: ChainEndPayload{Outputs: tt.outputs}})

			if diff := cmp.Diff(map[string]any{"output": tt.want}, backend.Find("Chain").Outputs()); diff != "" {
				t.Errorf("outputs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGenerationStart(t *testing.T) {
	ctx := context.Background()
	extra := map[string]any{"invocation_params": map[string]any{
		"temperature":     0.2,
		"max_tokens":      256.0,
		"top_p":           nil,
		"model":           "gpt-4o",
		"request_timeout": 30.0,
	}}
	wantParams := map[string]any{"temperature": 0.2, "max_tokens": 256.0, "request_timeout": 30.0}

	t.Run("llm", func(t *testing.T) {
		h, backend := newHandler(t)
		h.Handle(ctx, Event{Kind: LLMStart, RunID: "g", Payload: LLMStartPayload{
			Prompts:     []string{"Say hi"},
			ExtraParams: extra,
		}})

		span := backend.Find("Langchain Generation")
		require.NotNil(t, span)
		want := map[string]any{"messages": []string{"Say hi"}, "modelParameters": wantParams}
		if diff := cmp.Diff(want, span.Inputs); diff != "" {
			t.Errorf("inputs mismatch (-want +got):\n%s", diff)
		}
		if span.Type != agenttrace.SpanTypeChatModel {
			t.Errorf("type: got = %v, wanted = %v", span.Type, agenttrace.SpanTypeChatModel)
		}
	})

	t.Run("chat model flattens batches", func(t *testing.T) {
		h, backend := newHandler(t)
		h.Handle(ctx, Event{Kind: ChatModelStart, RunID: "g", Name: "chat", Payload: ChatModelStartPayload{
			Messages: [][]messages.Message{
				{{Type: messages.TypeSystem, Content: "be brief"}, {Type: messages.TypeHuman, Content: "hi"}},
				{{Type: messages.TypeTool, Content: "42", AdditionalKwargs: map[string]any{"k": "v"}}},
			},
		}})

		want := map[string]any{
			"messages": []messages.Normalized{
				{Role: "system", Content: "be brief"},
				{Role: "user", Content: "hi"},
				{Role: "tool", Content: "42", AdditionalKwargs: map[string]any{"k": "v"}},
			},
			"modelParameters": map[string]any{},
		}
		if diff := cmp.Diff(want, backend.Find("chat").Inputs); diff != "" {
			t.Errorf("inputs mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestLLMEnd(t *testing.T) {
	ctx := context.Background()

	details := orderedmap.New[string, any]()
	details.Set("cache_read", int64(4))

	tests := []struct {
		name         string
		result       LLMResult
		wantMessages any
		wantModel    any
		wantUsage    map[string]any
	}{{
		name: "chat message with metadata",
		result: LLMResult{Generations: [][]Generation{{{
			Message: &messages.Message{
				Type:             messages.TypeAI,
				Content:          "4",
				ResponseMetadata: map[string]any{"model_name": "gpt-4o-2024-08-06"},
				AdditionalKwargs: map[string]any{"tool_calls": []any{"call"}},
				UsageMetadata: &messages.UsageMetadata{
					InputTokens:       messages.Int64(12),
					OutputTokens:      messages.Int64(1),
					TotalTokens:       messages.Int64(13),
					InputTokenDetails: details,
				},
			},
		}}}},
		wantMessages: []messages.Normalized{{Role: "assistant", Content: "4", ToolCalls: []any{"call"}}},
		wantModel:    "gpt-4o-2024-08-06",
		wantUsage: map[string]any{
			"input_tokens": int64(12), "output_tokens": int64(1), "total_tokens": int64(13),
			"input_cache_read": int64(4),
		},
	}, {
		name: "plain completion with legacy usage",
		result: LLMResult{
			Generations: [][]Generation{{{Text: "first"}}, {{Text: "ignored"}, {Text: "last"}}},
			LLMOutput:   map[string]any{"tokenUsage": map[string]any{"promptTokens": 3.0, "completionTokens": 2.0, "totalTokens": 5.0}},
		},
		wantMessages: []messages.Normalized{{Role: "assistant", Content: "last"}},
		wantUsage:    map[string]any{"input_tokens": int64(3), "output_tokens": int64(2), "total_tokens": int64(5)},
	}, {
		name:      "no generations",
		result:    LLMResult{},
		wantUsage: map[string]any{},
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, backend := newHandler(t)
			h.Handle(ctx, Event{Kind: LLMStart, RunID: "g", Payload: LLMStartPayload{}})
			h.Handle(ctx, Event{Kind: LLMEnd, RunID: "g", Payload: LLMEndPayload{Result: tt.result}})

			span := backend.Find("Langchain Generation")
			require.NotNil(t, span)
			if got := span.Ends(); got != 1 {
				t.Fatalf("ends: got = %d, wanted = 1", got)
			}
			outputs := span.Outputs()
			if diff := cmp.Diff(tt.wantMessages, outputs["messages"]); diff != "" {
				t.Errorf("messages mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantModel, outputs["model"]); diff != "" {
				t.Errorf("model mismatch (-want +got):\n%s", diff)
			}

			u := usageOf(t, outputs)
			got := map[string]any{}
			for _, k := range u.Keys() {
				got[k], _ = u.Get(k)
			}
			if diff := cmp.Diff(tt.wantUsage, got); diff != "" {
				t.Errorf("usage mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLLMEndMalformedUsageStillCloses(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, Event{Kind: LLMStart, RunID: "g", Payload: LLMStartPayload{}})
	h.Handle(ctx, Event{Kind: LLMEnd, RunID: "g", Payload: LLMEndPayload{Result: LLMResult{
		Generations: [][]Generation{{{Text: "ok"}}},
		LLMOutput:   map[string]any{"tokenUsage": "garbage"},
	}}})

	span := backend.Find("Langchain Generation")
	if got := span.Ends(); got != 1 {
		t.Fatalf("ends: got = %d, wanted = 1", got)
	}
	if v, ok := span.Outputs()["usageDetails"]; ok {
		t.Errorf("usageDetails: got = %v, wanted = unset", v)
	}
}

func TestErrorCloses(t *testing.T) {
	ctx := context.Background()
	refusal := &ProviderError{
		Message: "400 The response was filtered",
		Detail: map[string]any{
			"code":          "content_filter",
			"innererror":    map[string]any{"code": "ResponsibleAIPolicyViolation"},
			"param":         "prompt",
			"status":        400.0,
			"content_error": true,
		},
	}
	wantDetail := "400 The response was filtered" + "\n\nError details:\n" + `{
  "code": "content_filter",
  "content_error": true,
  "innererror": {
    "code": "ResponsibleAIPolicyViolation"
  },
  "param": "prompt",
  "status": 400
}`

	tests := []struct {
		name  string
		start Event
		end   EventKind
		err   error
		want  string
	}{{
		name:  "chain error carries provider detail",
		start: chainStart("r", "", "Chain", nil),
		end:   ChainError,
		err:   refusal,
		want:  wantDetail,
	}, {
		name:  "llm error carries provider detail",
		start: Event{Kind: LLMStart, RunID: "r", Name: "Chain", Payload: LLMStartPayload{}},
		end:   LLMError,
		err:   refusal,
		want:  wantDetail,
	}, {
		name:  "tool error does not",
		start: Event{Kind: ToolStart, RunID: "r", Name: "Chain", Payload: ToolStartPayload{}},
		end:   ToolError,
		err:   refusal,
		want:  "400 The response was filtered",
	}, {
		name:  "retriever error does not",
		start: Event{Kind: RetrieverStart, RunID: "r", Name: "Chain", Payload: RetrieverStartPayload{}},
		end:   RetrieverError,
		err:   refusal,
		want:  "400 The response was filtered",
	}, {
		name:  "plain error",
		start: chainStart("r", "", "Chain", nil),
		end:   ChainError,
		err:   errors.New("context deadline exceeded"),
		want:  "context deadline exceeded",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, backend := newHandler(t)
			h.Handle(ctx, tt.start)
			h.Handle(ctx, Event{Kind: tt.end, RunID: "r", Payload: ErrorPayload{Err: tt.err}})

			span := backend.Find("Chain")
			require.NotNil(t, span)
			want := map[string]any{"level": "ERROR", "statusMessage": tt.want}
			if diff := cmp.Diff(want, span.Outputs()); diff != "" {
				t.Errorf("outputs mismatch (-want +got):\n%s", diff)
			}
			// The error lives in the outputs; the status itself is OK.
			if got := span.Status(); got != agenttrace.StatusOK {
				t.Errorf("status: got = %v, wanted = %v", got, agenttrace.StatusOK)
			}
		})
	}
}

func TestToolAndRetriever(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, Event{
		Kind:       ToolStart,
		RunID:      "t",
		Serialized: &Serialized{ID: []string{"tools", "Calculator"}},
		Payload:    ToolStartPayload{Input: `{"a":2,"b":2}`},
	})
	h.Handle(ctx, Event{Kind: ToolEnd, RunID: "t", Payload: ToolEndPayload{Output: "4"}})

	h.Handle(ctx, Event{Kind: RetrieverStart, RunID: "q", Payload: RetrieverStartPayload{Query: "pricing"}})
	docs := []Document{{PageContent: "plans", Metadata: map[string]any{"source": "faq.md"}}}
	h.Handle(ctx, Event{Kind: RetrieverEnd, RunID: "q", Payload: RetrieverEndPayload{Documents: docs}})

	tool := backend.Find("Calculator")
	require.NotNil(t, tool)
	if diff := cmp.Diff(map[string]any{"tool_name": "Calculator", "args": `{"a":2,"b":2}`}, tool.Inputs); diff != "" {
		t.Errorf("tool inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"output": "4"}, tool.Outputs()); diff != "" {
		t.Errorf("tool outputs mismatch (-want +got):\n%s", diff)
	}

	retriever := backend.Find("Retriever")
	require.NotNil(t, retriever)
	if retriever.Type != agenttrace.SpanTypeRetriever {
		t.Errorf("type: got = %v, wanted = %v", retriever.Type, agenttrace.SpanTypeRetriever)
	}
	if diff := cmp.Diff(map[string]any{"input": "pricing"}, retriever.Inputs); diff != "" {
		t.Errorf("retriever inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[string]any{"output": docs}, retriever.Outputs()); diff != "" {
		t.Errorf("retriever outputs mismatch (-want +got):\n%s", diff)
	}
}

func TestLoggingOnlyEvents(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, chainStart("r", "", "Chain", nil))
	for _, ev := range []Event{
		{Kind: LLMNewToken, RunID: "r", Payload: TokenPayload{Token: "Hel"}},
		{Kind: AgentAction, RunID: "r", Payload: AgentActionPayload{Tool: "calculator"}},
		{Kind: AgentFinish, RunID: "r", Payload: AgentFinishPayload{}},
	} {
		h.Handle(ctx, ev)
	}

	if got := len(backend.Spans()); got != 1 {
		t.Errorf("spans: got = %d, wanted = 1", got)
	}
	if got := h.OpenSpans(); got != 1 {
		t.Errorf("OpenSpans(): got = %d, wanted = 1", got)
	}
}

type panickingBackend struct{}

func (panickingBackend) StartSpan(context.Context, agenttrace.StartOptions) (agenttrace.Span, error) {
	panic("backend exploded")
}

func TestHandleNeverPanics(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	for _, ev := range []Event{
		{Kind: ChainStart, RunID: "a"},
		{Kind: ChainStart, RunID: "b", Payload: "not a payload"},
		{Kind: LLMEnd, RunID: "c", Payload: (*LLMEndPayload)(nil)},
		{Kind: "mystery", RunID: "d"},
		{Kind: ToolError, RunID: "e", Payload: ErrorPayload{}},
	} {
		h.Handle(ctx, ev)
	}
	if got := len(backend.Spans()); got != 0 {
		t.Errorf("spans: got = %d, wanted = 0", got)
	}

	ph, err := New(panickingBackend{}, WithEngineOptions(agenttrace.WithRecorders(agenttrace.ByCode())))
	require.NoError(t, err)
	ph.Handle(ctx, chainStart("r", "", "Chain", nil))
}

func TestPointerPayloads(t *testing.T) {
	ctx := context.Background()
	h, backend := newHandler(t)

	h.Handle(ctx, Event{Kind: ToolStart, RunID: "t", Name: "calc", Payload: &ToolStartPayload{Input: "1"}})
	if backend.Find("calc") == nil {
		t.Error("span for pointer payload: got = none, wanted = started")
	}
}

func TestIdentityIsInert(t *testing.T) {
	ctx := context.Background()
	plain, plainBackend := newHandler(t)
	h, backend := newHandler(t,
		WithUserID("u1"),
		WithSessionID("s1"),
		WithTags("a", "b"),
		WithVersion("v2"),
		WithTraceMetadata(map[string]any{"env": "prod"}),
	)

	want := Identity{UserID: "u1", SessionID: "s1", Tags: []string{"a", "b"}, Version: "v2", TraceMetadata: map[string]any{"env": "prod"}}
	if diff := cmp.Diff(want, h.Identity()); diff != "" {
		t.Errorf("Identity() mismatch (-want +got):\n%s", diff)
	}

	for _, handler := range []*Handler{plain, h} {
		handler.Handle(ctx, chainStart("r", "", "Chain", map[string]any{"input": "x"}))
		handler.Handle(ctx, Event{Kind: ChainEnd, RunID: "r", Payload: ChainEndPayload{Outputs: "y"}})
	}
	a, b := plainBackend.Find("Chain"), backend.Find("Chain")
	if diff := cmp.Diff(a.Inputs, b.Inputs); diff != "" {
		t.Errorf("inputs differ with identity (-plain +identity):\n%s", diff)
	}
	if diff := cmp.Diff(a.Outputs(), b.Outputs()); diff != "" {
		t.Errorf("outputs differ with identity (-plain +identity):\n%s", diff)
	}
}

func TestRejectDuplicatesFromConfig(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.DuplicatePolicy = "reject"
	h, backend := newHandler(t, WithConfig(cfg))

	h.Handle(ctx, chainStart("r", "", "first", nil))
	h.Handle(ctx, chainStart("r", "", "second", nil))

	if backend.Find("second") != nil {
		t.Error("second span: got = started, wanted = rejected")
	}
}

func TestOpenRunIDs(t *testing.T) {
	ctx := context.Background()
	h, _ := newHandler(t)

	h.Handle(ctx, chainStart("r2", "", "Second", nil))
	h.Handle(ctx, chainStart("r1", "", "First", nil))
	h.Handle(ctx, chainStart("r3", "r1", "Child", nil))
	h.Handle(ctx, Event{Kind: ChainEnd, RunID: "r3", Payload: ChainEndPayload{}})

	if diff := cmp.Diff([]string{"r1", "r2"}, h.OpenRunIDs()); diff != "" {
		t.Errorf("OpenRunIDs() mismatch (-want +got):\n%s", diff)
	}
}
