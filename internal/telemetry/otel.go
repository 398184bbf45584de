// Package telemetry instruments config fetches and flag evaluations with
// OpenTelemetry metrics and traces.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	meterName  = "flagdock"
	tracerName = "flagdock"
)

// Provider records SDK telemetry through the globally configured
// OpenTelemetry SDK. A nil *Provider is a valid no-op recorder.
type Provider struct {
	tracer trace.Tracer
	meter  metric.Meter

	evaluations   metric.Int64Counter
	fetchSuccess  metric.Int64Counter
	fetchFailure  metric.Int64Counter
	fetchDuration metric.Float64Histogram
	configChanges metric.Int64Counter
}

// New creates a telemetry provider on the global meter and tracer.
func New() (*Provider, error) {
	provider := &Provider{
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(meterName),
	}
	if err := provider.initMetrics(); err != nil {
		return nil, err
	}
	return provider, nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.evaluations, err = p.meter.Int64Counter(
		"flagdock.evaluations",
		metric.WithDescription("Number of flag evaluations"),
	)
	if err != nil {
		return err
	}

	p.fetchSuccess, err = p.meter.Int64Counter(
		"flagdock.fetch.success",
		metric.WithDescription("Number of successful config fetches"),
	)
	if err != nil {
		return err
	}

	p.fetchFailure, err = p.meter.Int64Counter(
		"flagdock.fetch.failure",
		metric.WithDescription("Number of failed config fetches"),
	)
	if err != nil {
		return err
	}

	p.fetchDuration, err = p.meter.Float64Histogram(
		"flagdock.fetch.duration",
		metric.WithDescription("Duration of config fetch operations"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	p.configChanges, err = p.meter.Int64Counter(
		"flagdock.config.changes",
		metric.WithDescription("Number of adopted config changes"),
	)
	if err != nil {
		return err
	}

	return nil
}

// StartSpan starts a trace span; the caller must End it.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordEvaluation records one flag evaluation.
func (p *Provider) RecordEvaluation(ctx context.Context, flagKey string) {
	if p == nil {
		return
	}
	p.evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("flag.key", flagKey),
	))
}

// RecordFetch records one fetch attempt with its outcome and duration.
func (p *Provider) RecordFetch(ctx context.Context, success bool, duration time.Duration) {
	if p == nil {
		return
	}
	p.fetchDuration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", success)))
	if success {
		p.fetchSuccess.Add(ctx, 1)
	} else {
		p.fetchFailure.Add(ctx, 1)
	}
}

// RecordConfigChange records one adopted configuration change.
func (p *Provider) RecordConfigChange(ctx context.Context) {
	if p == nil {
		return
	}
	p.configChanges.Add(ctx, 1)
}
