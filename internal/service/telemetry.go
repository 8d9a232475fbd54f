package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"arena-ai/backend/internal/model"
)

const instrumentationName = "arena-ai/backend/internal/service"

// Span names.
const (
	spanSubmit       = "fanout.submit"
	spanProviderCall = "provider.call"
)

// telemetry holds the instruments recorded by the fan-out. With no SDK installed
// the global providers are no-ops.
type telemetry struct {
	tracer       trace.Tracer
	callDuration metric.Float64Histogram
	callTotal    metric.Int64Counter
	dropped      metric.Int64Counter
}

func newTelemetry() (*telemetry, error) {
	meter := otel.Meter(instrumentationName)

	callDuration, err := meter.Float64Histogram("provider.call.duration",
		metric.WithDescription("Duration of provider calls until a terminal state, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.call.duration histogram: %w", err)
	}

	callTotal, err := meter.Int64Counter("provider.call.total",
		metric.WithDescription("Provider calls by terminal status"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating provider.call.total counter: %w", err)
	}

	dropped, err := meter.Int64Counter("session.patch.dropped",
		metric.WithDescription("Patches discarded because a newer submission superseded them"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session.patch.dropped counter: %w", err)
	}

	return &telemetry{
		tracer:       otel.Tracer(instrumentationName),
		callDuration: callDuration,
		callTotal:    callTotal,
		dropped:      dropped,
	}, nil
}

func (t *telemetry) recordCall(ctx context.Context, provider model.ProviderID, status model.ResponseStatus, d time.Duration) {
	t.callTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("status", string(status)),
	))
	t.callDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("provider", string(provider)),
	))
}

func (t *telemetry) recordDropped(ctx context.Context, provider model.ProviderID) {
	t.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", string(provider))))
}
