/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
)

// AttributeEnricher enriches metric attributes with additional context.
// The enricher receives the base attributes (model, tool or kind) and returns
// the enriched set.
type AttributeEnricher func(ctx context.Context, baseAttrs []attribute.KeyValue) []attribute.KeyValue

// StaticAttributes returns an enricher that appends fixed attributes, such as
// the experiment a run is exported to. Only use bounded values.
func StaticAttributes(attrs ...attribute.KeyValue) AttributeEnricher {
	return func(_ context.Context, base []attribute.KeyValue) []attribute.KeyValue {
		out := make([]attribute.KeyValue, 0, len(base)+len(attrs))
		out = append(out, base...)
		return append(out, attrs...)
	}
}
