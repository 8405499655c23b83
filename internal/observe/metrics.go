// Package observe provides the OpenTelemetry metric instruments used by the
// narration pipeline.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so they can be scraped from /metrics.
// Tests should use [NewMetrics] with their own [metric.MeterProvider]; code
// that has no metrics configured uses [Discard].
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/jamborta/readaloud"

// Metrics holds all metric instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// ExtractDuration tracks page text extraction including retries.
	ExtractDuration metric.Float64Histogram

	// ExtractAttempts counts range resolution attempts. Use with attribute:
	//   attribute.String("result", "resolved"|"unresolved")
	ExtractAttempts metric.Int64Counter

	// SynthesisDuration tracks on-demand synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// SynthesizedChars counts characters sent for synthesis.
	SynthesizedChars metric.Int64Counter

	// ChunksPlayed counts clips started. Use with attribute:
	//   attribute.String("source", "pregenerated"|"synthesized"|"cache")
	ChunksPlayed metric.Int64Counter

	// GeneratedChunks counts bulk generation requests. Use with attribute:
	//   attribute.String("status", "ok"|"throttled"|"error")
	GeneratedChunks metric.Int64Counter

	// PositionSaves counts position writes. Use with attributes:
	//   attribute.String("store", "local"|"remote"), attribute.String("status", ...)
	PositionSaves metric.Int64Counter

	// PlaybackStops counts narration stops by reason.
	PlaybackStops metric.Int64Counter
}

var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates all instruments using mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ExtractDuration, err = m.Float64Histogram("readaloud.extract.duration",
		metric.WithDescription("Latency of visible page text extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractAttempts, err = m.Int64Counter("readaloud.extract.attempts",
		metric.WithDescription("Range resolution attempts by result."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("readaloud.synthesis.duration",
		metric.WithDescription("Latency of on-demand speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesizedChars, err = m.Int64Counter("readaloud.synthesis.characters",
		metric.WithDescription("Characters sent to the speech backend."),
	); err != nil {
		return nil, err
	}
	if met.ChunksPlayed, err = m.Int64Counter("readaloud.chunks.played",
		metric.WithDescription("Clips started by audio source."),
	); err != nil {
		return nil, err
	}
	if met.GeneratedChunks, err = m.Int64Counter("readaloud.generate.requests",
		metric.WithDescription("Chapter audio generation requests by status."),
	); err != nil {
		return nil, err
	}
	if met.PositionSaves, err = m.Int64Counter("readaloud.position.saves",
		metric.WithDescription("Reading position writes by store and status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStops, err = m.Int64Counter("readaloud.playback.stops",
		metric.WithDescription("Narration stops by reason."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
	discard            *Metrics
	discardOnce        sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance backed by
// [otel.GetMeterProvider]. Panics if instrument creation fails.
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

// Discard returns instruments that record nothing.
func Discard() *Metrics {
	discardOnce.Do(func() {
		var err error
		discard, err = NewMetrics(noop.NewMeterProvider())
		if err != nil {
			panic("observe: failed to create no-op metrics: " + err.Error())
		}
	})
	return discard
}

// Or returns m, or Discard() when m is nil.
func Or(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordExtraction records one finished extraction.
func (m *Metrics) RecordExtraction(ctx context.Context, d time.Duration, attempts int, resolved bool) {
	m.ExtractDuration.Record(ctx, d.Seconds())
	result := "unresolved"
	if resolved {
		result = "resolved"
	}
	m.ExtractAttempts.Add(ctx, int64(attempts), metric.WithAttributes(Attr("result", result)))
}

// RecordSynthesis records one on-demand synthesis call.
func (m *Metrics) RecordSynthesis(ctx context.Context, d time.Duration, chars int) {
	m.SynthesisDuration.Record(ctx, d.Seconds())
	m.SynthesizedChars.Add(ctx, int64(chars))
}

// RecordChunkPlayed records a clip start from source.
func (m *Metrics) RecordChunkPlayed(ctx context.Context, source string) {
	m.ChunksPlayed.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// RecordGenerated records one bulk generation request outcome.
func (m *Metrics) RecordGenerated(ctx context.Context, status string) {
	m.GeneratedChunks.Add(ctx, 1, metric.WithAttributes(Attr("status", status)))
}

// RecordPositionSave records a position write to store.
func (m *Metrics) RecordPositionSave(ctx context.Context, store string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.PositionSaves.Add(ctx, 1, metric.WithAttributes(Attr("store", store), Attr("status", status)))
}

// RecordStop records why narration stopped.
func (m *Metrics) RecordStop(ctx context.Context, reason string) {
	m.PlaybackStops.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
