/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"github.com/manfredcalvo/agentmlflow/agents/messages"
)

// EventKind identifies the callback an Event was produced by.
type EventKind string

const (
	ChainStart     EventKind = "chain_start"
	ChainEnd       EventKind = "chain_end"
	ChainError     EventKind = "chain_error"
	LLMStart       EventKind = "llm_start"
	ChatModelStart EventKind = "chat_model_start"
	LLMEnd         EventKind = "llm_end"
	LLMError       EventKind = "llm_error"
	ToolStart      EventKind = "tool_start"
	ToolEnd        EventKind = "tool_end"
	ToolError      EventKind = "tool_error"
	RetrieverStart EventKind = "retriever_start"
	RetrieverEnd   EventKind = "retriever_end"
	RetrieverError EventKind = "retriever_error"
	LLMNewToken    EventKind = "llm_new_token"
	AgentAction    EventKind = "agent_action"
	AgentFinish    EventKind = "agent_finish"
)

// Kinds lists every known event kind.
var Kinds = []EventKind{
	ChainStart, ChainEnd, ChainError,
	LLMStart, ChatModelStart, LLMEnd, LLMError,
	ToolStart, ToolEnd, ToolError,
	RetrieverStart, RetrieverEnd, RetrieverError,
	LLMNewToken, AgentAction, AgentFinish,
}

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Serialized describes the component that produced an event.
type Serialized struct {
	// ID is the component's class path, most specific last.
	ID     []string       `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Event is one orchestrator callback.
type Event struct {
	Kind        EventKind
	RunID       string
	ParentRunID string
	Name        string
	RunType     string
	Tags        []string
	Metadata    map[string]any
	Serialized  *Serialized

	// Payload holds the kind-specific payload, for example a ChainStartPayload
	// for ChainStart or an ErrorPayload for any of the error kinds.
	Payload any
}

type ChainStartPayload struct {
	Inputs map[string]any
}

type ChainEndPayload struct {
	Outputs any
}

// ErrorPayload is carried by ChainError, LLMError, ToolError and RetrieverError.
type ErrorPayload struct {
	Err error
}

type LLMStartPayload struct {
	Prompts     []string
	ExtraParams map[string]any
}

// ChatModelStartPayload carries one message list per prompt.
type ChatModelStartPayload struct {
	Messages    [][]messages.Message
	ExtraParams map[string]any
}

type LLMEndPayload struct {
	Result LLMResult
}

type ToolStartPayload struct {
	Input string
}

type ToolEndPayload struct {
	Output any
}

type RetrieverStartPayload struct {
	Query string
}

type RetrieverEndPayload struct {
	Documents []Document
}

type TokenPayload struct {
	Token string
}

type AgentActionPayload struct {
	Tool      string `json:"tool"`
	ToolInput any    `json:"toolInput,omitempty"`
	Log       string `json:"log,omitempty"`
}

type AgentFinishPayload struct {
	ReturnValues map[string]any `json:"returnValues,omitempty"`
	Log          string         `json:"log,omitempty"`
}

// Document is a retrieved document.
type Document struct {
	ID          string         `json:"id,omitempty"`
	PageContent string         `json:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Generation is one candidate completion.
type Generation struct {
	Text string `json:"text"`
	// Message is set for chat models.
	Message        *messages.Message `json:"message,omitempty"`
	GenerationInfo map[string]any    `json:"generationInfo,omitempty"`
}

// LLMResult is the output of an LLM or chat model run: one batch of
// generations per prompt.
type LLMResult struct {
	Generations [][]Generation `json:"generations"`
	LLMOutput   map[string]any `json:"llmOutput,omitempty"`
}

// LastGeneration returns the last generation of the last batch.
func (r LLMResult) LastGeneration() (Generation, bool) {
	if len(r.Generations) == 0 {
		return Generation{}, false
	}
	batch := r.Generations[len(r.Generations)-1]
	if len(batch) == 0 {
		return Generation{}, false
	}
	return batch[len(batch)-1], true
}
