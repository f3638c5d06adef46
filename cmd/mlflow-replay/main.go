/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Command mlflow-replay replays a recorded stream of agent callback events
// into an MLflow experiment as traces.
//
// Each argument names a JSON Lines file holding one agent run; without
// arguments EVENTS_FILE is read, and "-" means stdin. Runs are replayed in
// batches of BATCH_SIZE, each through its own handler, pausing BATCH_DELAY
// between batches. Configuration comes from the environment, optionally
// seeded from a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/joho/godotenv"
	"github.com/manfredcalvo/agentmlflow/agents/callbacks"
	"github.com/manfredcalvo/agentmlflow/mlflow/experiments"
	"github.com/manfredcalvo/agentmlflow/mlflow/retry"
	"github.com/manfredcalvo/agentmlflow/mlflow/telemetry"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sethvargo/go-envconfig"
)

type config struct {
	DatabricksHost string `env:"DATABRICKS_HOST,required"`
	Token          string `env:"DATABRICKS_TOKEN"`
	ClientID       string `env:"DATABRICKS_CLIENT_ID"`
	ClientSecret   string `env:"DATABRICKS_CLIENT_SECRET"`

	// One of the two is required; a name is created if it does not exist.
	ExperimentID   string `env:"MLFLOW_EXPERIMENT_ID"`
	ExperimentName string `env:"MLFLOW_EXPERIMENT_NAME"`

	// OTLPEndpoint defaults to the tracking server's /v1/traces.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	OTLPProtocol string `env:"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL,default=http/protobuf"`
	ServiceName  string `env:"OTEL_SERVICE_NAME,default=mlflow-replay"`

	HandlerConfig string        `env:"HANDLER_CONFIG"`
	MetricsAddr   string        `env:"METRICS_ADDR"`
	EventsFile    string        `env:"EVENTS_FILE,default=-"`
	RepairEvents  bool          `env:"REPAIR_EVENTS,default=false"`
	BatchSize     int           `env:"BATCH_SIZE,default=1"`
	BatchDelay    time.Duration `env:"BATCH_DELAY,default=0s"`
	FlushTimeout  time.Duration `env:"FLUSH_TIMEOUT,default=30s"`

	Retry retry.Policy `env:",prefix=RETRY_"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		clog.FatalContextf(ctx, "loading .env: %v", err)
	}

	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		clog.FatalContextf(ctx, "processing config: %v", err)
	}
	sources := os.Args[1:]
	if len(sources) == 0 {
		sources = []string{cfg.EventsFile}
	}

	handlerCfg := callbacks.DefaultConfig()
	if cfg.HandlerConfig != "" {
		var err error
		if handlerCfg, err = callbacks.LoadConfig(cfg.HandlerConfig); err != nil {
			clog.FatalContextf(ctx, "loading handler config: %v", err)
		}
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		clog.FatalContextf(ctx, "creating workspace client: %v", err)
	}

	experimentID := cfg.ExperimentID
	if experimentID == "" {
		if cfg.ExperimentName == "" {
			clog.FatalContextf(ctx, "one of MLFLOW_EXPERIMENT_ID or MLFLOW_EXPERIMENT_NAME is required")
		}
		if experimentID, err = client.Ensure(ctx, cfg.ExperimentName); err != nil {
			clog.FatalContextf(ctx, "resolving experiment: %v", err)
		}
	}
	clog.InfoContextf(ctx, "Tracing to experiment %s (%s)", experimentID, client.URL(experimentID))

	tok, err := client.Token()
	if err != nil {
		clog.FatalContextf(ctx, "fetching access token: %v", err)
	}
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = strings.TrimRight(cfg.DatabricksHost, "/") + "/v1/traces"
	}
	providers, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:  cfg.ServiceName,
		Endpoint:     endpoint,
		Protocol:     telemetry.Protocol(cfg.OTLPProtocol),
		ExperimentID: experimentID,
		Token:        tok.AccessToken,
	}, telemetry.WithGlobal())
	if err != nil {
		clog.FatalContextf(ctx, "initializing telemetry: %v", err)
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				clog.FromContext(ctx).With("error", err).Warn("Metrics server stopped")
			}
		}()
		defer srv.Close()
	}

	sums, err := replayBatches(ctx, replayConfig{
		providers:    providers,
		handler:      handlerCfg,
		experimentID: experimentID,
		repair:       cfg.RepairEvents,
	}, sources, cfg.BatchSize, cfg.BatchDelay)

	flushCtx, flushCancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.FlushTimeout)
	defer flushCancel()
	if serr := providers.Shutdown(flushCtx); serr != nil {
		clog.FromContext(ctx).With("error", serr).Warn("Flushing spans failed")
	}
	if err != nil {
		clog.FatalContextf(ctx, "replaying events: %v", err)
	}

	for i, sum := range sums {
		if len(sums) > 1 {
			fmt.Fprintf(os.Stdout, "\n## %s\n\n", sources[i])
		}
		if err := sum.write(os.Stdout); err != nil {
			clog.FatalContextf(ctx, "writing summary: %v", err)
		}
	}
}

func newClient(ctx context.Context, cfg config) (*experiments.Client, error) {
	opts := []experiments.Option{experiments.WithRetryPolicy(cfg.Retry)}
	switch {
	case cfg.ClientID != "":
		opts = append(opts, experiments.WithClientCredentials(cfg.ClientID, cfg.ClientSecret))
	case cfg.Token != "":
		opts = append(opts, experiments.WithToken(cfg.Token))
	default:
		return nil, errors.New("DATABRICKS_TOKEN or DATABRICKS_CLIENT_ID/SECRET is required")
	}
	return experiments.New(ctx, cfg.DatabricksHost, opts...)
}

func openEvents(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}
