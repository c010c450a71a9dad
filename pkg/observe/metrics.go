// Package observe holds the relay's OpenTelemetry metric instruments and the
// Prometheus exporter bridge that serves them on /metrics.
//
// Components take a *Metrics at construction time. Tests should build one
// with NewMetrics over their own meter provider; DefaultMetrics uses the
// global provider, which is a no-op until InitProvider runs.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/papercomputeco/relay"

// Metrics holds every metric instrument recorded by the relay.
type Metrics struct {
	// UpstreamRequests counts requests sent upstream. Attributes: kind, status.
	UpstreamRequests metric.Int64Counter

	// UpstreamDuration tracks time to upstream response headers.
	UpstreamDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Attributes: tool, status.
	ToolCalls metric.Int64Counter

	// VisionRetries counts retried vision relay attempts.
	VisionRetries metric.Int64Counter

	// ImageCacheLookups counts image cache lookups. Attribute: result.
	ImageCacheLookups metric.Int64Counter

	// ImageFailures counts image references dropped from a turn.
	ImageFailures metric.Int64Counter

	// TurnsPersisted counts turn log writes. Attribute: status.
	TurnsPersisted metric.Int64Counter

	// ActiveStreams tracks streams currently relayed by the proxy.
	ActiveStreams metric.Int64UpDownCounter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300,
}

// NewMetrics creates every instrument from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.UpstreamRequests, err = m.Int64Counter("relay.upstream.requests",
		metric.WithDescription("Upstream chat completion requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.UpstreamDuration, err = m.Float64Histogram("relay.upstream.duration",
		metric.WithDescription("Latency until upstream response headers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("relay.tool.calls",
		metric.WithDescription("Tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.VisionRetries, err = m.Int64Counter("relay.vision.retries",
		metric.WithDescription("Retried vision relay attempts."),
	); err != nil {
		return nil, err
	}
	if met.ImageCacheLookups, err = m.Int64Counter("relay.image_cache.lookups",
		metric.WithDescription("Image cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.ImageFailures, err = m.Int64Counter("relay.image.failures",
		metric.WithDescription("Image references that could not be resolved."),
	); err != nil {
		return nil, err
	}
	if met.TurnsPersisted, err = m.Int64Counter("relay.turns.persisted",
		metric.WithDescription("Turn log writes by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("relay.active_streams",
		metric.WithDescription("Streams currently relayed."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics built on the global meter
// provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m, or DefaultMetrics when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// RecordUpstream records one upstream request and its header latency.
func (m *Metrics) RecordUpstream(ctx context.Context, kind string, status int, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", strconv.Itoa(status)),
	)
	m.UpstreamRequests.Add(ctx, 1, attrs)
	m.UpstreamDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, failed bool) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", statusLabel(failed)),
		),
	)
}

// RecordCacheLookup records an image cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ImageCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTurnPersisted records one turn log write.
func (m *Metrics) RecordTurnPersisted(ctx context.Context, failed bool) {
	m.TurnsPersisted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", statusLabel(failed))))
}

func statusLabel(failed bool) string {
	if failed {
		return "error"
	}
	return "ok"
}
