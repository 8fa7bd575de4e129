// Package observability holds the Prometheus collectors and the tracer shared
// by the routing pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	namespace = "relay"

	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

var (
	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by chosen handler and whether the default was used",
		},
		[]string{"handler", "fallback"},
	)

	RoutingConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "confidence",
			Help:      "Confidence attached to routing decisions",
			Buckets:   []float64{0.5, 0.55, 0.6, 0.7, 0.8, 0.9, 0.95},
		},
		[]string{"handler"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "requests_total",
			Help:      "Processed requests by handler and outcome",
		},
		[]string{"handler", "outcome"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request processing time",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"handler", "mode"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Tool invocations by tool name and outcome",
		},
		[]string{"tool", "outcome"},
	)

	EngineCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "calls_total",
			Help:      "Generation engine calls by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active",
			Help:      "Streaming responses currently in flight",
		},
	)

	MetricsSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "metrics_sink",
			Name:      "errors_total",
			Help:      "Failed metrics record deliveries by sink",
		},
		[]string{"sink"},
	)
)

func Tracer(name string) trace.Tracer {
	return otel.Tracer("relay/" + name)
}
