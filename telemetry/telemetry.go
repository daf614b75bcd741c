// Package telemetry records spans and metrics for graph maintenance and run
// synchronization.
//
// A nil *Telemetry is valid and records nothing, so callers never need to
// check whether observability was configured.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName names the tracer and meter.
const InstrumentationName = "github.com/sacharya/FleetDeploymentReporting"

// Run outcomes recorded on snitch.sync.runs.
const (
	OutcomeFinished = "finished"
	OutcomeErrored  = "errored"
	OutcomeSkipped  = "skipped"
)

// Telemetry holds the tracer and metric instruments.
type Telemetry struct {
	tracer trace.Tracer

	deleted  metric.Int64Counter
	closed   metric.Int64Counter
	runs     metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates the instruments from the given providers.
func New(mp metric.MeterProvider, tp trace.TracerProvider) (*Telemetry, error) {
	meter := mp.Meter(InstrumentationName)
	t := &Telemetry{tracer: tp.Tracer(InstrumentationName)}

	var err error
	t.deleted, err = meter.Int64Counter(
		"snitch.prune.deleted",
		metric.WithDescription("Nodes deleted while pruning an environment"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create deleted counter: %w", err)
	}

	t.closed, err = meter.Int64Counter(
		"snitch.terminate.closed",
		metric.WithDescription("Relationships closed while terminating an environment"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create closed counter: %w", err)
	}

	t.runs, err = meter.Int64Counter(
		"snitch.sync.runs",
		metric.WithDescription("Runs processed by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create runs counter: %w", err)
	}

	t.duration, err = meter.Float64Histogram(
		"snitch.sync.run.duration",
		metric.WithDescription("Run synchronization duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return t, nil
}

// Noop returns a Telemetry backed by no-op providers.
func Noop() *Telemetry {
	t, _ := New(metricnoop.NewMeterProvider(), tracenoop.NewTracerProvider())
	return t
}

// Start opens a span. On a nil receiver it returns ctx and a non-recording
// span.
func (t *Telemetry) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// End marks span failed when err is non-nil and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// NodesDeleted records n nodes of label deleted by a prune.
func (t *Telemetry) NodesDeleted(ctx context.Context, label string, n int64) {
	if t == nil || t.deleted == nil || n == 0 {
		return
	}
	t.deleted.Add(ctx, n, metric.WithAttributes(attribute.String("label", label)))
}

// RelationshipsClosed records n relationships closed by a terminate.
func (t *Telemetry) RelationshipsClosed(ctx context.Context, environment string, n int64) {
	if t == nil || t.closed == nil || n == 0 {
		return
	}
	t.closed.Add(ctx, n, metric.WithAttributes(attribute.String("environment", environment)))
}

// RunFinished records one run with its outcome and duration.
func (t *Telemetry) RunFinished(ctx context.Context, outcome string, d time.Duration) {
	if t == nil {
		return
	}
	opts := metric.WithAttributes(attribute.String("outcome", outcome))
	if t.runs != nil {
		t.runs.Add(ctx, 1, opts)
	}
	if t.duration != nil {
		t.duration.Record(ctx, float64(d.Milliseconds()), opts)
	}
}
