/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package usage

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/manfredcalvo/agentmlflow/agents/messages"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record keys for the three base counters.
const (
	KeyInputTokens  = "input_tokens"
	KeyOutputTokens = "output_tokens"
	KeyTotalTokens  = "total_tokens"
)

// Usage is the normalized token accounting for one model invocation.
//
// Besides the three base counters it carries an ordered set of breakdown
// buckets (input_<category>, output_<category>, and the bare input/output
// buckets when present). A nil counter means the provider did not report it.
type Usage struct {
	InputTokens  *int64
	OutputTokens *int64
	TotalTokens  *int64

	buckets *orderedmap.OrderedMap[string, any]
}

// Set stores a breakdown bucket. Base counter keys update the typed fields.
func (u *Usage) Set(key string, value any) {
	switch key {
	case KeyInputTokens, KeyOutputTokens, KeyTotalTokens:
		n, ok := toInt64(value)
		if !ok {
			return
		}
		switch key {
		case KeyInputTokens:
			u.InputTokens = &n
		case KeyOutputTokens:
			u.OutputTokens = &n
		default:
			u.TotalTokens = &n
		}
		return
	}
	if u.buckets == nil {
		u.buckets = orderedmap.New[string, any]()
	}
	if n, ok := toInt64(value); ok {
		value = n
	}
	u.buckets.Set(key, value)
}

// Get returns the value recorded under key, including the base counters.
func (u *Usage) Get(key string) (any, bool) {
	switch key {
	case KeyInputTokens:
		return deref(u.InputTokens)
	case KeyOutputTokens:
		return deref(u.OutputTokens)
	case KeyTotalTokens:
		return deref(u.TotalTokens)
	}
	if u.buckets == nil {
		return nil, false
	}
	return u.buckets.Get(key)
}

// Keys lists the defined keys in record order: base counters first, then
// breakdown buckets in the order they were set.
func (u *Usage) Keys() []string {
	var keys []string
	for _, k := range []string{KeyInputTokens, KeyOutputTokens, KeyTotalTokens} {
		if _, ok := u.Get(k); ok {
			keys = append(keys, k)
		}
	}
	if u.buckets != nil {
		for pair := u.buckets.Oldest(); pair != nil; pair = pair.Next() {
			keys = append(keys, pair.Key)
		}
	}
	return keys
}

// Empty reports whether nothing at all was recorded.
func (u *Usage) Empty() bool {
	return len(u.Keys()) == 0
}

// ApplyDetails flattens a detail breakdown into <prefix>_<category> buckets.
//
// When a bare <prefix> bucket already exists, each numeric category count is
// subtracted from it in order, flooring at zero after every step, so later
// categories see the already-reduced base.
func (u *Usage) ApplyDetails(prefix string, details *orderedmap.OrderedMap[string, any]) {
	if details == nil {
		return
	}
	for pair := details.Oldest(); pair != nil; pair = pair.Next() {
		u.Set(prefix+"_"+pair.Key, pair.Value)

		count, ok := toInt64(pair.Value)
		if !ok {
			continue
		}
		base, ok := u.Get(prefix)
		if !ok {
			continue
		}
		if b, ok := toInt64(base); ok {
			u.Set(prefix, max(0, b-count))
		}
	}
}

// MarshalJSON renders the record as an object in record order, omitting
// counters that were not reported.
func (u Usage) MarshalJSON() ([]byte, error) {
	out := orderedmap.New[string, any]()
	for _, k := range u.Keys() {
		v, _ := u.Get(k)
		out.Set(k, v)
	}
	return json.Marshal(out)
}

// Extract derives a usage record from an LLM response.
//
// The nested usage metadata on an AI message is preferred; each base counter
// independently falls back to the flat legacy tokenUsage block in llmOutput
// (promptTokens, completionTokens, totalTokens). Nested detail breakdowns are
// then applied, input before output.
//
// The legacy block is only read when a nested counter is missing; a malformed
// legacy block then is an error and yields no record at all.
func Extract(msg *messages.Message, llmOutput map[string]any) (Usage, error) {
	var nested *messages.UsageMetadata
	if msg != nil && msg.Type == messages.TypeAI {
		nested = msg.UsageMetadata
	}

	var (
		legacy       map[string]any
		legacyParsed bool
	)
	var u Usage
	for _, f := range []struct {
		key       string
		nested    func(*messages.UsageMetadata) *int64
		legacyKey string
	}{
		{KeyInputTokens, func(m *messages.UsageMetadata) *int64 { return m.InputTokens }, "promptTokens"},
		{KeyOutputTokens, func(m *messages.UsageMetadata) *int64 { return m.OutputTokens }, "completionTokens"},
		{KeyTotalTokens, func(m *messages.UsageMetadata) *int64 { return m.TotalTokens }, "totalTokens"},
	} {
		if nested != nil {
			if v := f.nested(nested); v != nil {
				u.Set(f.key, *v)
				continue
			}
		}
		if !legacyParsed {
			var err error
			if legacy, err = legacyUsage(llmOutput); err != nil {
				return Usage{}, err
			}
			legacyParsed = true
		}
		raw, ok := legacy[f.legacyKey]
		if !ok || raw == nil {
			continue
		}
		n, ok := toInt64(raw)
		if !ok {
			return Usage{}, fmt.Errorf("tokenUsage.%s: unexpected %T", f.legacyKey, raw)
		}
		u.Set(f.key, n)
	}

	if nested != nil {
		u.ApplyDetails("input", nested.InputTokenDetails)
		u.ApplyDetails("output", nested.OutputTokenDetails)
	}
	return u, nil
}

var errNotAnObject = errors.New("tokenUsage is not an object")

func legacyUsage(llmOutput map[string]any) (map[string]any, error) {
	raw, ok := llmOutput["tokenUsage"]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errNotAnObject
	}
	return m, nil
}

func deref(p *int64) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return int64(f), true
	default:
		return 0, false
	}
}
