/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package telemetry builds the OpenTelemetry providers that carry agent
// spans to an MLflow tracking server and expose GenAI metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// HeaderExperimentID routes exported spans to an MLflow experiment.
const HeaderExperimentID = "x-mlflow-experiment-id"

// Protocol selects the OTLP transport.
type Protocol string

const (
	ProtocolHTTP Protocol = "http/protobuf"
	ProtocolGRPC Protocol = "grpc"
)

// Config describes where spans go.
type Config struct {
	// ServiceName is recorded as the service.name resource attribute.
	ServiceName string
	// Endpoint is the OTLP traces URL, e.g. https://mlflow.example.com/v1/traces.
	Endpoint string
	// Protocol defaults to ProtocolHTTP.
	Protocol Protocol
	// ExperimentID is sent with every export request.
	ExperimentID string
	// Token, when set, is sent as a bearer token.
	Token string
	// Headers are added to every export request.
	Headers map[string]string
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return errors.New("service name is required")
	}
	if c.ExperimentID == "" {
		return errors.New("experiment id is required")
	}
	switch c.Protocol {
	case "", ProtocolHTTP, ProtocolGRPC:
	default:
		return fmt.Errorf("unsupported OTLP protocol %q", c.Protocol)
	}
	return nil
}

func (c Config) headers() map[string]string {
	h := make(map[string]string, len(c.Headers)+2)
	for k, v := range c.Headers {
		h[k] = v
	}
	h[HeaderExperimentID] = c.ExperimentID
	if c.Token != "" {
		h["Authorization"] = "Bearer " + c.Token
	}
	return h
}

// Option configures Init.
type Option func(*options) error

type options struct {
	exporter   sdktrace.SpanExporter
	registerer prometheus.Registerer
	global     bool
}

// WithSpanExporter replaces the OTLP exporter, leaving Endpoint unused.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) error {
		if exp == nil {
			return errors.New("span exporter cannot be nil")
		}
		o.exporter = exp
		return nil
	}
}

// WithRegisterer sets where the Prometheus bridge registers its collector.
// Defaults to prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("registerer cannot be nil")
		}
		o.registerer = reg
		return nil
	}
}

// WithGlobal installs the providers as the otel globals.
func WithGlobal() Option {
	return func(o *options) error {
		o.global = true
		return nil
	}
}

// Providers holds the SDK providers built by Init.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Init builds a batching tracer provider exporting over OTLP and a meter
// provider read by a Prometheus collector.
func Init(ctx context.Context, cfg Config, opts ...Option) (*Providers, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", buildVersion()),
		attribute.String("mlflow.experimentId", cfg.ExperimentID),
	))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exp := o.exporter
	if exp == nil {
		if exp, err = newExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}

	reader, err := otelprom.New(otelprom.WithRegisterer(o.registerer))
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	p := &Providers{
		TracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		),
		MeterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		),
	}
	if o.global {
		otel.SetTracerProvider(p.TracerProvider)
		otel.SetMeterProvider(p.MeterProvider)
	}

	clog.FromContext(ctx).With("endpoint", cfg.Endpoint).
		With("protocol", cfg.protocol()).
		With("experiment_id", cfg.ExperimentID).
		Info("Telemetry initialized")
	return p, nil
}

func (c Config) protocol() Protocol {
	if c.Protocol == "" {
		return ProtocolHTTP
	}
	return c.Protocol
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	var (
		exp sdktrace.SpanExporter
		err error
	)
	switch cfg.protocol() {
	case ProtocolGRPC:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpointURL(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.headers()),
		)
	default:
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.headers()),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s trace exporter: %w", cfg.protocol(), err)
	}
	return exp, nil
}

// ForceFlush exports all ended spans.
func (p *Providers) ForceFlush(ctx context.Context) error {
	if p == nil || p.TracerProvider == nil {
		return nil
	}
	return p.TracerProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops both providers. It is safe on a nil receiver.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider: %w", err))
		}
	}
	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
