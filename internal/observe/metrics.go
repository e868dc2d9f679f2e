// Package observe provides OpenTelemetry metrics and tracing for the
// moderation pipeline, exported through Prometheus.
//
// Tests should build a [Metrics] with [NewMetrics] over their own
// MeterProvider instead of using [DefaultMetrics].
package observe

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/maauso/speechguard-api"

// Metrics holds the instruments recorded by the pipeline and HTTP layer.
type Metrics struct {
	// StageDuration tracks pipeline stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// Classifications counts classified segments. Attribute: label.
	Classifications metric.Int64Counter

	// DegradedClassifications counts segments that fell back to UNCLEAR
	// because the backend failed.
	DegradedClassifications metric.Int64Counter

	// DiarizationFailures counts runs whose diarization step failed.
	DiarizationFailures metric.Int64Counter

	// RedactedSeconds accumulates audio removed by redaction.
	RedactedSeconds metric.Float64Counter

	// Runs counts pipeline runs. Attribute: status.
	Runs metric.Int64Counter

	// HTTPRequestDuration tracks request latency. Attributes: method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// stageBuckets spans fast local steps up to long remote transcription jobs.
var stageBuckets = []float64{
	0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("speechguard.stage.duration",
		metric.WithDescription("Latency of a moderation pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stageBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Classifications, err = m.Int64Counter("speechguard.classifications",
		metric.WithDescription("Classified segments by label."),
	); err != nil {
		return nil, err
	}
	if met.DegradedClassifications, err = m.Int64Counter("speechguard.classifications.degraded",
		metric.WithDescription("Segments that fell back to UNCLEAR after a backend failure."),
	); err != nil {
		return nil, err
	}
	if met.DiarizationFailures, err = m.Int64Counter("speechguard.diarization.failures",
		metric.WithDescription("Runs whose diarization step failed."),
	); err != nil {
		return nil, err
	}
	if met.RedactedSeconds, err = m.Float64Counter("speechguard.redacted",
		metric.WithDescription("Audio removed by redaction."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.Runs, err = m.Int64Counter("speechguard.runs",
		metric.WithDescription("Pipeline runs by outcome."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("speechguard.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level Metrics built on the global
// MeterProvider. Call it after [InitProvider].
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

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordStage records how long stage took since start. A nil m records nothing.
func (m *Metrics) RecordStage(ctx context.Context, stage string, start time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordClassification counts one classified segment.
func (m *Metrics) RecordClassification(ctx context.Context, label string, degraded bool) {
	if m == nil {
		return
	}
	m.Classifications.Add(ctx, 1, metric.WithAttributes(attribute.String("label", label)))
	if degraded {
		m.DegradedClassifications.Add(ctx, 1)
	}
}

// RecordDiarizationFailure counts a failed diarization step.
func (m *Metrics) RecordDiarizationFailure(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.DiarizationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordRedacted adds seconds of removed audio.
func (m *Metrics) RecordRedacted(ctx context.Context, seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.RedactedSeconds.Add(ctx, seconds)
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordHTTPRequest records one served request. path should be the route
// pattern, not the raw URL, to keep cardinality bounded.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
			attribute.Int("status", status),
		),
	)
}
