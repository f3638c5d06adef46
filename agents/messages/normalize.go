/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package messages

// Normalized is the uniform message shape recorded on spans.
type Normalized struct {
	Role             string         `json:"role"`
	Content          any            `json:"content"`
	AdditionalKwargs map[string]any `json:"additional_kwargs,omitempty"`
	ToolCalls        any            `json:"tool_calls,omitempty"`
}

// Normalize maps a typed chat message onto {role, content}.
//
// Function messages take their role from the message name and tool messages
// keep their additional kwargs. Messages of an unknown kind are attributed to
// their name, or to "user" when they have none.
func Normalize(m Message) Normalized {
	var n Normalized
	switch m.Type {
	case TypeHuman:
		n = Normalized{Role: "user", Content: m.Content}
	case TypeAI:
		n = Normalized{Role: "assistant", Content: m.Content}
	case TypeSystem:
		n = Normalized{Role: "system", Content: m.Content}
	case TypeFunction:
		n = Normalized{Role: m.Name, Content: m.Content, AdditionalKwargs: m.AdditionalKwargs}
	case TypeTool:
		n = Normalized{Role: "tool", Content: m.Content, AdditionalKwargs: m.AdditionalKwargs}
	default:
		if m.Name == "" {
			n = Normalized{Role: "user", Content: m.Content}
		} else {
			n = Normalized{Role: m.Name, Content: m.Content}
		}
	}

	// The legacy function_call marker also triggers this, in which case
	// tool_calls may well be absent; it is passed through as-is.
	if truthy(m.AdditionalKwargs["function_call"]) || truthy(m.AdditionalKwargs["tool_calls"]) {
		n.ToolCalls = m.AdditionalKwargs["tool_calls"]
	}
	return n
}

// NormalizeAll normalizes each message in order.
func NormalizeAll(msgs []Message) []Normalized {
	out := make([]Normalized, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, Normalize(m))
	}
	return out
}

// truthy reports whether v would count as set in a loosely-typed payload.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return true
	}
}
