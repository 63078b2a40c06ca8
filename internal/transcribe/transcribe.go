// Package transcribe turns a finished recording into text.
//
// The [Gateway] makes exactly one provider call per recording. Retrying a turn
// means recording again, which is the conversation's job. Every provider call
// runs through a circuit breaker, so a backend that keeps failing is skipped
// quickly. An empty or whitespace-only transcript counts as a failure.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/internal/resilience"
	"github.com/torqueshop/voicedesk/pkg/provider/stt"
)

// ErrTranscriptionFailed wraps every non-cancellation failure: provider
// errors, an open breaker, and empty results.
var ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

// ErrEmptyTranscript is wrapped together with [ErrTranscriptionFailed] when the
// provider heard nothing.
var ErrEmptyTranscript = errors.New("transcribe: empty transcript")

const defaultTimeout = 20 * time.Second

// Option is a functional option for [New].
type Option func(*Gateway)

// WithProviderName labels logs and metrics.
func WithProviderName(name string) Option {
	return func(g *Gateway) {
		g.name = name
	}
}

// WithLanguage sets the BCP-47 language sent with every request.
func WithLanguage(lang string) Option {
	return func(g *Gateway) {
		g.language = lang
	}
}

// WithTimeout bounds each provider call. Default: 20s.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithBreaker replaces the circuit breaker configuration. Name defaults to the
// provider name.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Gateway) {
		g.breakerCfg = cfg
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// Gateway calls an [stt.Provider] behind a circuit breaker.
type Gateway struct {
	provider   stt.Provider
	name       string
	language   string
	timeout    time.Duration
	breakerCfg resilience.CircuitBreakerConfig
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
}

// New returns a Gateway for p.
func New(p stt.Provider, opts ...Option) (*Gateway, error) {
	if p == nil {
		return nil, errors.New("transcribe: provider must not be nil")
	}
	g := &Gateway{
		provider: p,
		name:     "stt",
		timeout:  defaultTimeout,
		breakerCfg: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
	}
	for _, o := range opts {
		o(g)
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if g.breakerCfg.Name == "" {
		g.breakerCfg.Name = "stt:" + g.name
	}
	if g.breakerCfg.OnStateChange == nil {
		m := g.metrics
		g.breakerCfg.OnStateChange = func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(context.Background(), name, to.String())
		}
	}
	g.breaker = resilience.NewCircuitBreaker(g.breakerCfg)
	return g, nil
}

// Transcribe sends rec to the provider and returns the trimmed text. hints are
// forwarded as recognition vocabulary.
//
// If ctx is cancelled the context error is returned as is. Every other failure
// matches [ErrTranscriptionFailed].
func (g *Gateway) Transcribe(ctx context.Context, rec capture.Recording, hints []string) (string, error) {
	ctx, span := observe.StartSpan(ctx, "transcribe")
	defer span.End()

	req := stt.Request{
		PCM:      rec.PCM,
		Format:   rec.Format,
		Language: g.language,
		Hints:    hints,
	}

	start := time.Now()
	var tr stt.Transcript
	err := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		var err error
		tr, err = g.provider.Transcribe(callCtx, req)
		return err
	})
	elapsed := time.Since(start)
	g.metrics.STTDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("provider", g.name)))

	if ctxErr := ctx.Err(); ctxErr != nil {
		g.metrics.RecordProviderRequest(ctx, g.name, "stt", "cancelled")
		return "", ctxErr
	}
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.name, "stt", "error")
		g.metrics.RecordProviderError(ctx, g.name, "stt")
		span.RecordError(err)
		observe.Logger(ctx).Warn("transcribe: provider failed",
			"provider", g.name, "bytes", len(rec.PCM), "err", err)
		return "", fmt.Errorf("%w: %s: %w", ErrTranscriptionFailed, g.name, err)
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		g.metrics.RecordProviderRequest(ctx, g.name, "stt", "empty")
		observe.Logger(ctx).Info("transcribe: empty transcript", "provider", g.name, "bytes", len(rec.PCM))
		return "", fmt.Errorf("%w: %w", ErrTranscriptionFailed, ErrEmptyTranscript)
	}

	g.metrics.RecordProviderRequest(ctx, g.name, "stt", "ok")
	observe.Logger(ctx).Debug("transcribe: ok",
		"provider", g.name, "latency", elapsed, "confidence", tr.Confidence, "text", text)
	return text, nil
}

// BreakerState reports the state of the gateway's circuit breaker.
func (g *Gateway) BreakerState() resilience.State { return g.breaker.State() }
