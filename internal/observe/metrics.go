// Package observe provides application-wide observability primitives for
// VoxRelay: OpenTelemetry metrics, distributed tracing, and the provider
// bootstrap that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all VoxRelay metrics.
const meterName = "github.com/voxrelay/voxrelay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranslateDuration tracks per-language translation latency.
	TranslateDuration metric.Float64Histogram

	// SynthesizeDuration tracks per-language speech synthesis latency.
	SynthesizeDuration metric.Float64Histogram

	// UtteranceDuration tracks end-to-end fan-out latency per utterance.
	UtteranceDuration metric.Float64Histogram

	// --- Gate counters ---

	// GateUtterances counts utterances emitted by the gate. Attribute:
	//   attribute.String("session_id", ...)
	GateUtterances metric.Int64Counter

	// GateDropped counts partial results dropped by the rate limiter.
	GateDropped metric.Int64Counter

	// GateMalformed counts malformed upstream events dropped on arrival.
	GateMalformed metric.Int64Counter

	// GateOrphans counts buffered results forwarded via the orphan escape hatch.
	GateOrphans metric.Int64Counter

	// DedupSuppressed counts utterances suppressed by the dedup window.
	DedupSuppressed metric.Int64Counter

	// --- Cache counters and gauges ---

	// CacheLookups counts cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// CacheEvictions counts entries removed by capacity or TTL eviction.
	CacheEvictions metric.Int64Counter

	// CacheSize tracks the current entry count of the translation cache.
	CacheSize metric.Int64UpDownCounter

	// --- Fan-out counters ---

	// LanguageFailures counts languages omitted from an utterance's fan-out.
	// Use with attributes:
	//   attribute.String("stage", "translate"|"synthesize"), attribute.String("language", ...)
	LanguageFailures metric.Int64Counter

	// BroadcastSends counts audio deliveries to listeners.
	BroadcastSends metric.Int64Counter

	// ListenersGone counts listeners removed after a gone signal mid-send.
	ListenersGone metric.Int64Counter

	// DynamicsFallbacks counts windows where extraction fell back to neutral
	// dynamics.
	DynamicsFallbacks metric.Int64Counter

	// --- Listener buffer ---

	// BufferOverflowDrops counts chunks dropped from per-listener rings.
	BufferOverflowDrops metric.Int64Counter

	// BufferUtilization records per-connection ring utilization in percent,
	// emitted once per broadcast round.
	BufferUtilization metric.Float64Histogram

	// --- Gauges ---

	// ActiveSessions tracks the number of live broadcast sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveListeners tracks connected listeners across all sessions.
	ActiveListeners metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for sub-second pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// utilizationBuckets defines bucket boundaries for ring utilization percent.
var utilizationBuckets = []float64{0, 10, 25, 50, 75, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranslateDuration, err = m.Float64Histogram("voxrelay.translate.duration",
		metric.WithDescription("Latency of per-language translation calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizeDuration, err = m.Float64Histogram("voxrelay.synthesize.duration",
		metric.WithDescription("Latency of per-language speech synthesis calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("voxrelay.utterance.duration",
		metric.WithDescription("End-to-end fan-out latency per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BufferUtilization, err = m.Float64Histogram("voxrelay.listener_buffer.utilization",
		metric.WithDescription("Per-connection audio buffer utilization in percent."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(utilizationBuckets...),
	); err != nil {
		return nil, err
	}

	// Gate counters.
	if met.GateUtterances, err = m.Int64Counter("voxrelay.gate.utterances",
		metric.WithDescription("Utterances emitted by the partial-result gate."),
	); err != nil {
		return nil, err
	}
	if met.GateDropped, err = m.Int64Counter("voxrelay.gate.dropped",
		metric.WithDescription("Partial results dropped by the rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.GateMalformed, err = m.Int64Counter("voxrelay.gate.malformed",
		metric.WithDescription("Malformed upstream events dropped on arrival."),
	); err != nil {
		return nil, err
	}
	if met.GateOrphans, err = m.Int64Counter("voxrelay.gate.orphans",
		metric.WithDescription("Buffered results forwarded via the orphan escape hatch."),
	); err != nil {
		return nil, err
	}
	if met.DedupSuppressed, err = m.Int64Counter("voxrelay.gate.dedup_suppressed",
		metric.WithDescription("Utterances suppressed by the dedup window."),
	); err != nil {
		return nil, err
	}

	// Cache.
	if met.CacheLookups, err = m.Int64Counter("voxrelay.cache.lookups",
		metric.WithDescription("Translation cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("voxrelay.cache.evictions",
		metric.WithDescription("Translation cache entries evicted."),
	); err != nil {
		return nil, err
	}
	if met.CacheSize, err = m.Int64UpDownCounter("voxrelay.cache.size",
		metric.WithDescription("Current translation cache entry count."),
	); err != nil {
		return nil, err
	}

	// Fan-out.
	if met.LanguageFailures, err = m.Int64Counter("voxrelay.fanout.language_failures",
		metric.WithDescription("Languages omitted from fan-out by stage and language."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastSends, err = m.Int64Counter("voxrelay.fanout.sends",
		metric.WithDescription("Audio deliveries to listeners."),
	); err != nil {
		return nil, err
	}
	if met.ListenersGone, err = m.Int64Counter("voxrelay.fanout.listeners_gone",
		metric.WithDescription("Listeners removed after a connection-gone signal."),
	); err != nil {
		return nil, err
	}
	if met.DynamicsFallbacks, err = m.Int64Counter("voxrelay.dynamics.fallbacks",
		metric.WithDescription("Audio windows where extraction fell back to neutral dynamics."),
	); err != nil {
		return nil, err
	}
	if met.BufferOverflowDrops, err = m.Int64Counter("voxrelay.listener_buffer.overflow_drops",
		metric.WithDescription("Chunks dropped from per-listener audio buffers."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxrelay.active_sessions",
		metric.WithDescription("Number of live broadcast sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("voxrelay.active_listeners",
		metric.WithDescription("Number of connected listeners across all sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCacheLookup records a cache lookup with its result attribute.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLanguageFailure records a language omitted from fan-out at a stage.
func (m *Metrics) RecordLanguageFailure(ctx context.Context, stage, language string) {
	m.LanguageFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("language", language),
		),
	)
}

// RecordUtterance records an utterance emitted by the gate for a session.
func (m *Metrics) RecordUtterance(ctx context.Context, sessionID string) {
	m.GateUtterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
}
