/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"context"

	"github.com/chainguard-dev/clog"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"github.com/manfredcalvo/agentmlflow/agents/messages"
	"github.com/manfredcalvo/agentmlflow/agents/usage"
)

func (h *Handler) chainStart(ctx context.Context, ev Event) error {
	p, err := payload[ChainStartPayload](ev)
	if err != nil {
		return err
	}

	name := displayName(ev, h.config.Names.Chain)
	if h.config.filtered(name) {
		clog.FromContext(ctx).With("run_id", ev.RunID).Debug("Skipping internal chain", "name", name)
		eventsFiltered.Inc()
		return nil
	}

	var msgs []messages.Normalized
	if raw, ok := p.Inputs["chat_history"]; ok && raw != nil {
		history, ok := messages.FromSlice(raw)
		if !ok {
			clog.FromContext(ctx).With("run_id", ev.RunID).Debug("Ignoring chat history that is not a list")
		}
		msgs = messages.NormalizeAll(history)
	}
	msgs = append(msgs, messages.Normalized{Role: "user", Content: p.Inputs["input"]})

	inputs := map[string]any{"messages": msgs}
	if sys, ok := p.Inputs["system_message"]; ok {
		inputs["system_message"] = sys
	}
	h.open(ctx, ev, agenttrace.SpanTypeAgent, name, inputs)
	return nil
}

func (h *Handler) chainEnd(ctx context.Context, ev Event) error {
	p, err := payload[ChainEndPayload](ev)
	if err != nil {
		return err
	}

	output := p.Outputs
	if m, ok := output.(map[string]any); ok {
		if s, ok := m["output"].(string); ok {
			output = s
		}
	}
	h.close(ctx, ev, map[string]any{"output": output})
	return nil
}

// generationStart serves both LLM and chat model starts. Chat model message
// lists are flattened and normalized first.
func (h *Handler) generationStart(ctx context.Context, ev Event) error {
	var (
		prompts any
		extra   map[string]any
	)
	switch ev.Kind {
	case ChatModelStart:
		p, err := payload[ChatModelStartPayload](ev)
		if err != nil {
			return err
		}
		var flat []messages.Normalized
		for _, batch := range p.Messages {
			flat = append(flat, messages.NormalizeAll(batch)...)
		}
		prompts, extra = flat, p.ExtraParams
	default:
		p, err := payload[LLMStartPayload](ev)
		if err != nil {
			return err
		}
		prompts, extra = p.Prompts, p.ExtraParams
	}

	h.open(ctx, ev, agenttrace.SpanTypeChatModel, displayName(ev, h.config.Names.Generation), map[string]any{
		"messages":        prompts,
		"modelParameters": h.modelParameters(extra),
	})
	return nil
}

// modelParameters picks the allow-listed, non-null invocation parameters.
func (h *Handler) modelParameters(extra map[string]any) map[string]any {
	params := map[string]any{}
	invocation, _ := extra["invocation_params"].(map[string]any)
	for _, key := range h.config.ModelParameters {
		if v, ok := invocation[key]; ok && v != nil {
			params[key] = v
		}
	}
	return params
}

func (h *Handler) llmEnd(ctx context.Context, ev Event) error {
	p, err := payload[LLMEndPayload](ev)
	if err != nil {
		return err
	}
	log := clog.FromContext(ctx).With("run_id", ev.RunID)

	outputs := map[string]any{}
	last, ok := p.Result.LastGeneration()
	if !ok {
		log.Debug("LLM end without generations")
	}

	var model string
	if msg := last.Message; msg != nil {
		if name, ok := msg.ModelName(); ok {
			model = name
			outputs["model"] = name
		}
		outputs["messages"] = []messages.Normalized{messages.Normalize(*msg)}
	} else if ok {
		outputs["messages"] = []messages.Normalized{{Role: "assistant", Content: last.Text}}
	}

	u, err := usage.Extract(last.Message, p.Result.LLMOutput)
	if err != nil {
		log.Debug("Failed to extract usage", "error", err)
	} else {
		outputs["usageDetails"] = u
		h.metrics.RecordUsage(ctx, model, u)
	}

	h.close(ctx, ev, outputs)
	return nil
}

func (h *Handler) toolStart(ctx context.Context, ev Event) error {
	p, err := payload[ToolStartPayload](ev)
	if err != nil {
		return err
	}

	name := displayName(ev, h.config.Names.Tool)
	h.metrics.RecordToolCall(ctx, name)
	h.open(ctx, ev, agenttrace.SpanTypeTool, name, map[string]any{
		"tool_name": name,
		"args":      p.Input,
	})
	return nil
}

func (h *Handler) retrieverStart(ctx context.Context, ev Event) error {
	p, err := payload[RetrieverStartPayload](ev)
	if err != nil {
		return err
	}

	h.open(ctx, ev, agenttrace.SpanTypeRetriever, displayName(ev, h.config.Names.Retriever), map[string]any{
		"input": p.Query,
	})
	return nil
}
