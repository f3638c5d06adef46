/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package claudegen converts Anthropic Messages API results into callback
// payloads, so that code calling Claude directly can be traced with the same
// callbacks.Handler as an orchestrated agent.
package claudegen

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/manfredcalvo/agentmlflow/agents/callbacks"
	"github.com/manfredcalvo/agentmlflow/agents/messages"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// LLMResult converts a completed message into the LLM end payload.
//
// Text blocks are concatenated into the message content and tool use blocks
// become tool_calls. Input tokens include cache reads and cache writes, which
// are also broken out as the cache_read and cache_creation input details.
func LLMResult(msg anthropic.Message) callbacks.LLMResult {
	var (
		text      string
		toolCalls []any
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.ID,
				"type": "function",
				"function": map[string]any{
					"name":      block.Name,
					"arguments": string(block.Input),
				},
			})
		}
	}

	out := &messages.Message{
		Type:    messages.TypeAI,
		Content: text,
		ResponseMetadata: map[string]any{
			"id":          msg.ID,
			"model_name":  string(msg.Model),
			"stop_reason": string(msg.StopReason),
		},
		UsageMetadata: usageMetadata(msg.Usage),
	}
	if len(toolCalls) > 0 {
		out.AdditionalKwargs = map[string]any{"tool_calls": toolCalls}
	}

	return callbacks.LLMResult{
		Generations: [][]callbacks.Generation{{{Text: text, Message: out}}},
	}
}

func usageMetadata(u anthropic.Usage) *messages.UsageMetadata {
	input := u.InputTokens + u.CacheReadInputTokens + u.CacheCreationInputTokens
	md := &messages.UsageMetadata{
		InputTokens:  messages.Int64(input),
		OutputTokens: messages.Int64(u.OutputTokens),
		TotalTokens:  messages.Int64(input + u.OutputTokens),
	}

	details := orderedmap.New[string, any]()
	if u.CacheReadInputTokens > 0 {
		details.Set("cache_read", u.CacheReadInputTokens)
	}
	if u.CacheCreationInputTokens > 0 {
		details.Set("cache_creation", u.CacheCreationInputTokens)
	}
	if details.Len() > 0 {
		md.InputTokenDetails = details
	}
	return md
}

// Error converts a failed Messages API call into an error payload. API
// errors keep the decoded response body as the structured error detail, and
// take their message from the body's error.message when present.
func Error(err error) callbacks.ErrorPayload {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return callbacks.ErrorPayload{Err: err}
	}

	pe := &callbacks.ProviderError{
		Message: fmt.Sprintf("anthropic: status %d", apiErr.StatusCode),
		Detail: map[string]any{
			"provider":    "anthropic",
			"status_code": apiErr.StatusCode,
		},
	}
	if raw := apiErr.RawJSON(); raw != "" {
		var body any
		if json.Unmarshal([]byte(raw), &body) == nil {
			pe.Detail = body
			if msg := bodyMessage(body); msg != "" {
				pe.Message = fmt.Sprintf("anthropic: status %d: %s", apiErr.StatusCode, msg)
			}
		}
	}
	return callbacks.ErrorPayload{Err: pe}
}

// bodyMessage returns error.message from an API error body.
func bodyMessage(body any) string {
	m, ok := body.(map[string]any)
	if !ok {
		return ""
	}
	inner, ok := m["error"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := inner["message"].(string)
	return msg
}
