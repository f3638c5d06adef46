/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"encoding/json"
	"errors"
)

// ProviderError is an upstream model or tool failure.
//
// Detail holds the structured error body some providers attach next to a
// generic message, such as the content filter results Azure OpenAI returns
// with a refusal.
type ProviderError struct {
	Message string `json:"message"`
	Detail  any    `json:"error,omitempty"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

const errorDetailsHeader = "\n\nError details:\n"

// statusMessage renders err for the statusMessage output. With withDetail, a
// pretty-printed rendering of the provider error body is appended; a body
// that cannot be encoded contributes nothing.
func statusMessage(err error, withDetail bool) string {
	if err == nil {
		return "unknown error"
	}
	msg := err.Error()
	if !withDetail {
		return msg
	}

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Detail == nil {
		return msg
	}
	detail, encErr := json.MarshalIndent(pe.Detail, "", "  ")
	if encErr != nil {
		return msg
	}
	return msg + errorDetailsHeader + string(detail)
}
