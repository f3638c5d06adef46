/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agenttrace

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	spansOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_spans_opened_total",
			Help: "Total number of spans opened",
		},
		[]string{"span_type"},
	)

	spansClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_spans_closed_total",
			Help: "Total number of spans closed",
		},
		[]string{"span_type"},
	)

	closeMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_span_close_misses_total",
			Help: "Total number of close events for run ids without an open span",
		},
	)

	duplicateRunIDs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_span_duplicate_run_ids_total",
			Help: "Total number of opens for run ids that already had an open span",
		},
		[]string{"policy"},
	)

	backendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_span_backend_failures_total",
			Help: "Total number of spans the backend failed to start",
		},
	)
)
