/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"encoding/json"
	"fmt"

	"github.com/manfredcalvo/agentmlflow/agents/messages"
)

// wireEvent is the JSON form of an Event. Payload fields sit next to the
// envelope; which ones are read depends on the event kind.
type wireEvent struct {
	Kind        EventKind      `json:"event"`
	RunID       string         `json:"run_id"`
	ParentRunID string         `json:"parent_run_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	RunType     string         `json:"run_type,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Serialized  *Serialized    `json:"serialized,omitempty"`

	Inputs      map[string]any       `json:"inputs,omitempty"`
	Outputs     any                  `json:"outputs,omitempty"`
	Error       json.RawMessage      `json:"error,omitempty"`
	Prompts     []string             `json:"prompts,omitempty"`
	Messages    [][]messages.Message `json:"messages,omitempty"`
	ExtraParams map[string]any       `json:"extra_params,omitempty"`
	Output      json.RawMessage      `json:"output,omitempty"`
	Input       string               `json:"input,omitempty"`
	Query       string               `json:"query,omitempty"`
	Documents   []Document           `json:"documents,omitempty"`
	Token       string               `json:"token,omitempty"`
	Action      *AgentActionPayload  `json:"action,omitempty"`
	Finish      *AgentFinishPayload  `json:"finish,omitempty"`
}

// UnmarshalJSON decodes an event and its kind-specific payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", w.Kind)
	}

	*e = Event{
		Kind:        w.Kind,
		RunID:       w.RunID,
		ParentRunID: w.ParentRunID,
		Name:        w.Name,
		RunType:     w.RunType,
		Tags:        w.Tags,
		Metadata:    w.Metadata,
		Serialized:  w.Serialized,
	}

	switch w.Kind {
	case ChainStart:
		e.Payload = ChainStartPayload{Inputs: w.Inputs}
	case ChainEnd:
		e.Payload = ChainEndPayload{Outputs: w.Outputs}
	case ChainError, LLMError, ToolError, RetrieverError:
		err, decErr := decodeError(w.Error)
		if decErr != nil {
			return fmt.Errorf("%s: %w", w.Kind, decErr)
		}
		e.Payload = ErrorPayload{Err: err}
	case LLMStart:
		e.Payload = LLMStartPayload{Prompts: w.Prompts, ExtraParams: w.ExtraParams}
	case ChatModelStart:
		e.Payload = ChatModelStartPayload{Messages: w.Messages, ExtraParams: w.ExtraParams}
	case LLMEnd:
		var res LLMResult
		if len(w.Output) > 0 {
			if err := json.Unmarshal(w.Output, &res); err != nil {
				return fmt.Errorf("%s: decoding output: %w", w.Kind, err)
			}
		}
		e.Payload = LLMEndPayload{Result: res}
	case ToolStart:
		e.Payload = ToolStartPayload{Input: w.Input}
	case ToolEnd:
		var out any
		if len(w.Output) > 0 {
			if err := json.Unmarshal(w.Output, &out); err != nil {
				return fmt.Errorf("%s: decoding output: %w", w.Kind, err)
			}
		}
		e.Payload = ToolEndPayload{Output: out}
	case RetrieverStart:
		e.Payload = RetrieverStartPayload{Query: w.Query}
	case RetrieverEnd:
		e.Payload = RetrieverEndPayload{Documents: w.Documents}
	case LLMNewToken:
		e.Payload = TokenPayload{Token: w.Token}
	case AgentAction:
		if w.Action == nil {
			return fmt.Errorf("%s: missing action", w.Kind)
		}
		e.Payload = *w.Action
	case AgentFinish:
		if w.Finish == nil {
			w.Finish = &AgentFinishPayload{}
		}
		e.Payload = *w.Finish
	}
	return nil
}

// decodeError accepts either a bare message string or an object with a
// message and an optional structured error body.
func decodeError(raw json.RawMessage) (error, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &ProviderError{Message: msg}, nil
	}
	var pe ProviderError
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, fmt.Errorf("decoding error: %w", err)
	}
	return &pe, nil
}

// UnmarshalJSON accepts both llmOutput and llm_output for the provider output.
func (r *LLMResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Generations     [][]Generation `json:"generations"`
		LLMOutput       map[string]any `json:"llmOutput"`
		LLMOutputPython map[string]any `json:"llm_output"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Generations = aux.Generations
	r.LLMOutput = aux.LLMOutput
	if r.LLMOutput == nil {
		r.LLMOutput = aux.LLMOutputPython
	}
	return nil
}
