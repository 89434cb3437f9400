// Package observe holds the OpenTelemetry metric instruments for the
// pipeline and the provider setup that exposes them to Prometheus.
//
// Components take a *Metrics at construction. Tests build one with
// NewMetrics over a ManualReader; production code uses DefaultMetrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/GriffinCanCode/lorelens"

// Metrics holds every instrument. All fields are safe for concurrent use.
type Metrics struct {
	// Observations counts capture observations by area and whether OCR ran
	// ("ocr") or the signature cache answered ("cached").
	Observations metric.Int64Counter

	// CaptureFaults counts per-area grab/OCR failures by area.
	CaptureFaults metric.Int64Counter

	// Candidates counts stable candidates by source.
	Candidates metric.Int64Counter

	// BridgeMessages counts bridge messages by outcome: queued, duplicate,
	// dropped (buffer full).
	BridgeMessages metric.Int64Counter

	// ReconnectAttempts counts bridge reconnection attempts.
	ReconnectAttempts metric.Int64Counter

	// ProviderRequests counts provider calls by provider and status.
	ProviderRequests metric.Int64Counter

	// ProviderDuration tracks provider call latency.
	ProviderDuration metric.Float64Histogram

	// CacheLookups counts translation cache lookups by cache (content,
	// name) and result (hit, miss).
	CacheLookups metric.Int64Counter
}

var latencyBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Observations, "lorelens.capture.observations", "Capture observations by area and mode."},
		{&met.CaptureFaults, "lorelens.capture.faults", "Per-area capture or OCR failures."},
		{&met.Candidates, "lorelens.candidates", "Stable candidates by source."},
		{&met.BridgeMessages, "lorelens.bridge.messages", "Bridge messages by outcome."},
		{&met.ReconnectAttempts, "lorelens.bridge.reconnect_attempts", "Bridge reconnection attempts."},
		{&met.ProviderRequests, "lorelens.provider.requests", "Translation provider calls by provider and status."},
		{&met.CacheLookups, "lorelens.cache.lookups", "Translation cache lookups by cache and result."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ProviderDuration, err = m.Float64Histogram("lorelens.provider.duration",
		metric.WithDescription("Latency of translation provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built on the global
// meter provider. Call InitProvider first for the metrics to be exported.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordObservation counts one observation for area.
func (m *Metrics) RecordObservation(ctx context.Context, area string, cached bool) {
	mode := "ocr"
	if cached {
		mode = "cached"
	}
	m.Observations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("area", area),
		attribute.String("mode", mode),
	))
}

// RecordCaptureFault counts a failed area capture.
func (m *Metrics) RecordCaptureFault(ctx context.Context, area string) {
	m.CaptureFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("area", area)))
}

// RecordCandidate counts a stable candidate.
func (m *Metrics) RecordCandidate(ctx context.Context, source string) {
	m.Candidates.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordBridgeMessage counts a bridge message outcome.
func (m *Metrics) RecordBridgeMessage(ctx context.Context, outcome string) {
	m.BridgeMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordReconnect counts a reconnection attempt.
func (m *Metrics) RecordReconnect(ctx context.Context) {
	m.ReconnectAttempts.Add(ctx, 1)
}

// RecordProviderRequest counts a provider call and records its latency.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordCacheLookup counts a translation cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", result),
	))
}

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: create noop metrics: " + err.Error())
	}
	return m
}
