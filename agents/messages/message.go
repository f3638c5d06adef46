/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package messages

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Type is the kind tag carried by a chat message.
type Type string

const (
	TypeHuman    Type = "human"
	TypeAI       Type = "ai"
	TypeSystem   Type = "system"
	TypeFunction Type = "function"
	TypeTool     Type = "tool"
	TypeGeneric  Type = "generic"
)

// Message is a role-tagged chat message as emitted by the orchestrator.
type Message struct {
	Type             Type           `json:"type"`
	Name             string         `json:"name,omitempty"`
	Content          any            `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`

	// Only populated on AI messages.
	UsageMetadata    *UsageMetadata `json:"usage_metadata,omitempty"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
}

// UsageMetadata is the token accounting attached to an AI message.
// Detail maps keep the order in which the provider reported their categories.
type UsageMetadata struct {
	InputTokens        *int64                              `json:"input_tokens,omitempty"`
	OutputTokens       *int64                              `json:"output_tokens,omitempty"`
	TotalTokens        *int64                              `json:"total_tokens,omitempty"`
	InputTokenDetails  *orderedmap.OrderedMap[string, any] `json:"input_token_details,omitempty"`
	OutputTokenDetails *orderedmap.OrderedMap[string, any] `json:"output_token_details,omitempty"`
}

// ModelName returns response_metadata.model_name when it is a string.
func (m Message) ModelName() (string, bool) {
	name, ok := m.ResponseMetadata["model_name"].(string)
	return name, ok && name != ""
}

// Int64 returns a pointer to v, for populating UsageMetadata literals.
func Int64(v int64) *int64 {
	return &v
}
