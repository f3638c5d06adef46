/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_callback_events_total",
			Help: "Total number of callback events received",
		},
		[]string{"event"},
	)

	eventsFiltered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_callback_events_filtered_total",
			Help: "Total number of chain starts dropped by the noise filter",
		},
	)

	handlerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_callback_failures_total",
			Help: "Total number of callback events dropped because handling failed",
		},
		[]string{"event"},
	)
)
