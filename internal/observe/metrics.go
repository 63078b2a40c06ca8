// Package observe provides the observability primitives for voicedesk:
// OpenTelemetry metrics, tracing, trace-aware structured logging, and the
// HTTP middleware for the control surface.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus by [InitProvider]. Tests should build their own [Metrics] with
// [NewMetrics] over a manual reader instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicedesk metrics.
const meterName = "github.com/torqueshop/voicedesk"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks transcription latency per provider.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks time from prompt submission to the end of playback.
	TTSDuration metric.Float64Histogram

	// RecordingDuration tracks the length of captured utterances.
	RecordingDuration metric.Float64Histogram

	// CommitDuration tracks record commit latency.
	CommitDuration metric.Float64Histogram

	// HTTPRequestDuration tracks control-surface request time. Use with
	// attributes: attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// Turns counts answered prompts by step and outcome
	// (ok, retry, failed, cancelled).
	Turns metric.Int64Counter

	// Sessions counts finished conversations by outcome.
	Sessions metric.Int64Counter

	// Commits counts commit attempts by record kind and status.
	Commits metric.Int64Counter

	// MicAcquisitions and MicReleases count microphone handovers. Over any
	// window they must be equal once all sessions have ended.
	MicAcquisitions metric.Int64Counter
	MicReleases     metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by breaker
	// name and target state.
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// MicHeld is 1 while a recording owns the microphone.
	MicHeld metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live conversations.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips and utterance lengths.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 7, 10, 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.STTDuration, "voicedesk.stt.duration", "Latency of speech-to-text transcription."},
		{&met.TTSDuration, "voicedesk.tts.duration", "Time from prompt submission to end of playback."},
		{&met.RecordingDuration, "voicedesk.recording.duration", "Length of captured utterances."},
		{&met.CommitDuration, "voicedesk.commit.duration", "Latency of record commits."},
		{&met.HTTPRequestDuration, "voicedesk.http.request.duration", "Control surface request latency by method and route."},
	}
	for _, h := range histograms {
		inst, err := m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
		if err != nil {
			return nil, err
		}
		*h.dst = inst
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "voicedesk.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "voicedesk.provider.errors", "Total provider errors by provider and kind."},
		{&met.Turns, "voicedesk.turns", "Answered prompts by step and outcome."},
		{&met.Sessions, "voicedesk.sessions", "Finished conversations by outcome."},
		{&met.Commits, "voicedesk.commits", "Commit attempts by record kind and status."},
		{&met.MicAcquisitions, "voicedesk.mic.acquisitions", "Microphone acquisitions."},
		{&met.MicReleases, "voicedesk.mic.releases", "Microphone releases."},
		{&met.BreakerTransitions, "voicedesk.circuit_breaker.transitions", "Circuit breaker state changes by breaker and target state."},
	}
	for _, c := range counters {
		inst, err := m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = inst
	}

	var err error
	if met.MicHeld, err = m.Int64UpDownCounter("voicedesk.mic.held",
		metric.WithDescription("1 while a recording owns the microphone."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicedesk.active_sessions",
		metric.WithDescription("Number of live conversations."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records one provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records the outcome of one prompt/answer cycle.
func (m *Metrics) RecordTurn(ctx context.Context, step, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	))
}

// RecordSession records a finished conversation.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordCommit records one commit attempt and its latency in seconds.
func (m *Metrics) RecordCommit(ctx context.Context, kind, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.Commits.Add(ctx, 1, attrs)
	m.CommitDuration.Record(ctx, seconds, attrs)
}

// MicAcquired records that a recording took the microphone.
func (m *Metrics) MicAcquired(ctx context.Context) {
	m.MicAcquisitions.Add(ctx, 1)
	m.MicHeld.Add(ctx, 1)
}

// MicReleased records that a recording released the microphone.
func (m *Metrics) MicReleased(ctx context.Context) {
	m.MicReleases.Add(ctx, 1)
	m.MicHeld.Add(ctx, -1)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("to", to),
	))
}
