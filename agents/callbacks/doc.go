/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package callbacks turns orchestrator callback events into agent spans.

# Overview

A Handler receives one Event per callback fired by the agent orchestrator
(chain, LLM, chat model, tool and retriever starts, ends and errors, plus
token streaming and agent actions). Start events open a span through an
agenttrace.Engine after kind-specific shaping; end and error events close the
span registered under the same run id.

Handle never returns an error and never panics back into the caller: failures
are logged at debug level and the event is dropped.

# Shaping

  - chain start: AGENT span named after the chain, with the chat history and
    the current input as messages. Chains whose name matches the noise filter
    are not traced at all, so their children become roots.
  - LLM and chat model start: CHAT_MODEL span with the prompts or normalized
    messages and the allow-listed model parameters.
  - LLM end: the normalized last response, the model name and the usage record.
  - tool start: TOOL span with the tool name and raw input.
  - retriever start: RETRIEVER span with the query.
  - errors: outputs carry level ERROR and a statusMessage. Chain and LLM errors
    append the provider's structured error body.

# Usage

	handler, err := callbacks.New(backend, callbacks.WithConfig(cfg))
	if err != nil {
		return err
	}
	handler.Handle(ctx, callbacks.Event{
		Kind:    callbacks.ChainStart,
		RunID:   "r1",
		Payload: callbacks.ChainStartPayload{Inputs: map[string]any{"input": "hi"}},
	})
	// ...
	traceID := handler.LastTraceID()
*/
package callbacks
