/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace"
	"github.com/manfredcalvo/agentmlflow/agents/agenttrace/report"
	"github.com/manfredcalvo/agentmlflow/agents/callbacks"
	"github.com/manfredcalvo/agentmlflow/agents/callbacks/eventlog"
	"github.com/manfredcalvo/agentmlflow/agents/metrics"
	"github.com/manfredcalvo/agentmlflow/mlflow/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

type replayConfig struct {
	providers    *telemetry.Providers
	handler      callbacks.Config
	experimentID string
	repair       bool
}

type summary struct {
	events      int
	records     []agenttrace.Record
	failed      int
	lastTraceID string
	openSpans   int
}

// replayBatches replays each source as its own agent run. Sources within a
// batch run concurrently; batches run in order, delay apart.
func replayBatches(ctx context.Context, cfg replayConfig, sources []string, size int, delay time.Duration) ([]summary, error) {
	if size < 1 {
		return nil, errors.New("batch size must be positive")
	}
	sums := make([]summary, len(sources))
	for start := 0; start < len(sources); start += size {
		if start > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < min(start+size, len(sources)); i++ {
			g.Go(func() error {
				r, err := openEvents(sources[i])
				if err != nil {
					return err
				}
				defer r.Close()

				sums[i], err = replay(gctx, cfg, r)
				if err != nil {
					return fmt.Errorf("replaying %s: %w", sources[i], err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return sums, nil
}

// replay feeds events through a single handler, as one agent run.
func replay(ctx context.Context, cfg replayConfig, events io.Reader) (summary, error) {
	backend, err := agenttrace.NewOTelBackend(agenttrace.WithTracerProvider(cfg.providers.TracerProvider))
	if err != nil {
		return summary{}, err
	}

	genai := metrics.NewGenAIWithProvider(cfg.providers.MeterProvider, "github.com/manfredcalvo/agentmlflow")
	genai.SetAttributeEnricher(metrics.StaticAttributes(attribute.String("mlflow.experiment_id", cfg.experimentID)))

	collector := report.NewCollector()
	h, err := callbacks.New(backend,
		callbacks.WithConfig(cfg.handler),
		callbacks.WithGenAIMetrics(genai),
		callbacks.WithEngineOptions(agenttrace.WithRecorders(collector, agenttrace.NewDefaultRecorder())),
		callbacks.WithSessionID(uuid.NewString()),
	)
	if err != nil {
		return summary{}, fmt.Errorf("creating handler: %w", err)
	}

	var opts []eventlog.ReaderOption
	if cfg.repair {
		opts = append(opts, eventlog.WithRepair())
	}
	n, err := eventlog.Replay(ctx, events, h, opts...)
	if err != nil {
		return summary{}, err
	}

	sum := summary{
		events:      n,
		records:     collector.Records(),
		failed:      collector.Failed(),
		lastTraceID: h.LastTraceID(),
		openSpans:   h.OpenSpans(),
	}
	log := clog.FromContext(ctx).With("events", sum.events).With("spans", len(sum.records))
	if sum.openSpans > 0 {
		log.With("open_spans", sum.openSpans).Warn("Stream ended with spans still open", "run_ids", h.OpenRunIDs())
	}
	log.Info("Replay finished")
	return sum, nil
}

func (s summary) write(w io.Writer) error {
	if err := report.WriteTable(w, s.records); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d events, %d spans (%d failed)\nlast trace: %s\n",
		s.events, len(s.records), s.failed, s.lastTraceID)
	return err
}
