/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package googlegen converts Gemini GenerateContent responses into callback
// payloads.
package googlegen

import (
	"encoding/json"
	"errors"

	"github.com/manfredcalvo/agentmlflow/agents/callbacks"
	"github.com/manfredcalvo/agentmlflow/agents/messages"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"google.golang.org/genai"
)

// LLMResult converts a response into the LLM end payload.
//
// Only the first candidate is considered. Thought parts are dropped from the
// message content, but their token count is reported as output reasoning.
func LLMResult(resp *genai.GenerateContentResponse) callbacks.LLMResult {
	if resp == nil {
		return callbacks.LLMResult{}
	}

	var (
		text      string
		toolCalls []any
	)
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			switch {
			case part == nil, part.Thought:
			case part.FunctionCall != nil:
				toolCalls = append(toolCalls, toolCall(part.FunctionCall))
			case part.Text != "":
				text += part.Text
			}
		}
	}

	out := &messages.Message{
		Type:    messages.TypeAI,
		Content: text,
		ResponseMetadata: map[string]any{
			"model_name": resp.ModelVersion,
		},
		UsageMetadata: usageMetadata(resp.UsageMetadata),
	}
	if resp.ResponseID != "" {
		out.ResponseMetadata["id"] = resp.ResponseID
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
		out.ResponseMetadata["finish_reason"] = string(resp.Candidates[0].FinishReason)
	}
	if len(toolCalls) > 0 {
		out.AdditionalKwargs = map[string]any{"tool_calls": toolCalls}
	}

	return callbacks.LLMResult{
		Generations: [][]callbacks.Generation{{{Text: text, Message: out}}},
	}
}

func toolCall(call *genai.FunctionCall) map[string]any {
	args, err := json.Marshal(call.Args)
	if err != nil || call.Args == nil {
		args = []byte("{}")
	}
	return map[string]any{
		"id":   call.ID,
		"type": "function",
		"function": map[string]any{
			"name":      call.Name,
			"arguments": string(args),
		},
	}
}

func usageMetadata(u *genai.GenerateContentResponseUsageMetadata) *messages.UsageMetadata {
	if u == nil {
		return nil
	}
	md := &messages.UsageMetadata{
		InputTokens:  messages.Int64(int64(u.PromptTokenCount)),
		OutputTokens: messages.Int64(int64(u.CandidatesTokenCount) + int64(u.ThoughtsTokenCount)),
		TotalTokens:  messages.Int64(int64(u.TotalTokenCount)),
	}
	if u.CachedContentTokenCount > 0 {
		md.InputTokenDetails = orderedmap.New[string, any]()
		md.InputTokenDetails.Set("cache_read", int64(u.CachedContentTokenCount))
	}
	if u.ThoughtsTokenCount > 0 {
		md.OutputTokenDetails = orderedmap.New[string, any]()
		md.OutputTokenDetails.Set("reasoning", int64(u.ThoughtsTokenCount))
	}
	return md
}

// Error converts a failed GenerateContent call into an error payload. The
// structured error details the API returned are kept under "details".
func Error(err error) callbacks.ErrorPayload {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return callbacks.ErrorPayload{Err: err}
	}
	detail := map[string]any{
		"provider":    "google",
		"status_code": apiErr.Code,
		"status":      apiErr.Status,
	}
	if len(apiErr.Details) > 0 {
		detail["details"] = apiErr.Details
	}
	return callbacks.ErrorPayload{Err: &callbacks.ProviderError{
		Message: apiErr.Message,
		Detail:  detail,
	}}
}
