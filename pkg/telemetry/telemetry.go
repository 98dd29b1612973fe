// Package telemetry wires Prometheus metrics and an OpenTelemetry
// tracer provider for the training driver (SPEC_FULL's AMBIENT STACK /
// DOMAIN STACK telemetry section).
package telemetry

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Metrics holds the Prometheus collectors the epoch driver updates once
// per epoch.
type Metrics struct {
	Loss        prometheus.Gauge
	Eps         prometheus.Gauge
	EpochTime   prometheus.Histogram
	EpochsTotal prometheus.Counter
}

// NewMetrics registers a fresh Metrics set against reg (pass a dedicated
// registry in tests to avoid double-registration panics across runs).
// runID, when non-empty, is attached to every collector as a constant
// "run_id" label so dashboards can isolate one run's series from the
// next one registered against the same process/namespace.
func NewMetrics(reg prometheus.Registerer, namespace, runID string) *Metrics {
	var labels prometheus.Labels
	if runID != "" {
		labels = prometheus.Labels{"run_id": runID}
	}
	m := &Metrics{
		Loss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "loss", Help: "current training loss", ConstLabels: labels,
		}),
		Eps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "step_size", Help: "current SGD step size", ConstLabels: labels,
		}),
		EpochTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "epoch_duration_seconds", Help: "epoch wall-clock duration",
			Buckets: prometheus.DefBuckets, ConstLabels: labels,
		}),
		EpochsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "epochs_total", Help: "epochs completed", ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.Loss, m.Eps, m.EpochTime, m.EpochsTotal)
	return m
}

// ObserveEpoch updates every collector after one epoch completes.
func (m *Metrics) ObserveEpoch(epoch int, loss, eps float64, elapsed time.Duration) {
	m.Loss.Set(loss)
	m.Eps.Set(eps)
	m.EpochTime.Observe(elapsed.Seconds())
	m.EpochsTotal.Inc()
}

// NewTracerProvider builds a Jaeger-exporting trace provider, tagged
// with serviceName and rank so spans from different ranks are
// distinguishable in the backend.
func NewTracerProvider(ctx context.Context, endpoint, serviceName string, rank int) (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(endpoint)))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.Int("rank", rank),
		),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return tp, nil
}
