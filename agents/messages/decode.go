/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package messages

import (
	"encoding/json"
	"fmt"
)

// classTypes maps serialized LangChain message class names to their kind tag.
var classTypes = map[string]Type{
	"HumanMessage":         TypeHuman,
	"HumanMessageChunk":    TypeHuman,
	"AIMessage":            TypeAI,
	"AIMessageChunk":       TypeAI,
	"SystemMessage":        TypeSystem,
	"SystemMessageChunk":   TypeSystem,
	"FunctionMessage":      TypeFunction,
	"FunctionMessageChunk": TypeFunction,
	"ToolMessage":          TypeTool,
	"ToolMessageChunk":     TypeTool,
	"ChatMessage":          TypeGeneric,
	"ChatMessageChunk":     TypeGeneric,
}

// roleTypes maps OpenAI-style roles to kind tags.
var roleTypes = map[string]Type{
	"user":      TypeHuman,
	"human":     TypeHuman,
	"assistant": TypeAI,
	"ai":        TypeAI,
	"system":    TypeSystem,
	"function":  TypeFunction,
	"tool":      TypeTool,
}

// UnmarshalJSON accepts three shapes: the plain {"type": ...} form, the
// LangChain constructor form ({"lc":1,"type":"constructor","id":[...],"kwargs":{...}}),
// and OpenAI-style {"role": ...} messages.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env struct {
		LC     int             `json:"lc"`
		Type   string          `json:"type"`
		ID     []string        `json:"id"`
		Kwargs json.RawMessage `json:"kwargs"`
		Role   string          `json:"role"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	constructor := env.LC > 0 && env.Type == "constructor"
	body := data
	if constructor {
		if len(env.Kwargs) == 0 {
			return fmt.Errorf("serialized message %v has no kwargs", env.ID)
		}
		body = env.Kwargs
	}

	type plain Message
	var p plain
	if err := json.Unmarshal(body, &p); err != nil {
		return err
	}
	*m = Message(p)

	switch {
	case constructor:
		var class string
		if len(env.ID) > 0 {
			class = env.ID[len(env.ID)-1]
		}
		if t, ok := classTypes[class]; ok {
			m.Type = t
		} else {
			m.Type = TypeGeneric
		}
	case m.Type == "" && env.Role != "":
		if t, ok := roleTypes[env.Role]; ok {
			m.Type = t
		} else {
			m.Type = TypeGeneric
			if m.Name == "" {
				m.Name = env.Role
			}
		}
	}
	return nil
}

// From coerces a loosely-typed value (a Message, a *Message, or a decoded
// JSON object) into a Message. It reports false when v has no usable shape.
func From(v any) (Message, bool) {
	switch v := v.(type) {
	case Message:
		return v, true
	case *Message:
		if v == nil {
			return Message{}, false
		}
		return *v, true
	case nil:
		return Message{}, false
	}

	b, err := json.Marshal(v)
	if err != nil {
		return Message{}, false
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, false
	}
	return m, true
}

// FromSlice coerces each element of a loosely-typed list, skipping elements
// that are not messages. It reports false when v is not a list.
func FromSlice(v any) ([]Message, bool) {
	switch v := v.(type) {
	case []Message:
		return v, true
	case []any:
		out := make([]Message, 0, len(v))
		for _, e := range v {
			if m, ok := From(e); ok {
				out = append(out, m)
			}
		}
		return out, true
	default:
		return nil, false
	}
}
