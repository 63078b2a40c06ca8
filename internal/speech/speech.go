// Package speech plays synthesised prompts through the speaker, one at a time.
//
// [Player.Speak] blocks until the prompt has finished playing. Starting a new
// prompt cancels the one still playing and waits for it to let go of the
// speaker. Synthesis and playback failures are logged and swallowed so a
// broken speaker never stalls a conversation; only cancellation of the
// caller's context is reported.
package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/pkg/audio"
	"github.com/torqueshop/voicedesk/pkg/provider/tts"
)

// Option is a functional option for [New].
type Option func(*Player)

// WithVoice sets the voice passed to the synthesiser.
func WithVoice(v tts.VoiceProfile) Option {
	return func(p *Player) {
		p.voice = v
	}
}

// WithProviderName labels metrics with the synthesiser's name.
func WithProviderName(name string) Option {
	return func(p *Player) {
		p.providerName = name
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Player) {
		p.metrics = m
	}
}

// Player speaks prompts. It is safe for concurrent use, but at most one
// prompt plays at any moment.
type Player struct {
	synth        tts.Provider
	speaker      audio.Speaker
	voice        tts.VoiceProfile
	providerName string
	metrics      *observe.Metrics

	mu  sync.Mutex
	cur *utterance
}

type utterance struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Player that synthesises with synth and plays on speaker.
func New(synth tts.Provider, speaker audio.Speaker, opts ...Option) (*Player, error) {
	if synth == nil {
		return nil, errors.New("speech: tts provider must not be nil")
	}
	if speaker == nil {
		return nil, errors.New("speech: speaker must not be nil")
	}
	p := &Player{synth: synth, speaker: speaker, providerName: "tts"}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Speak plays text and returns once playback has ended, failed, or been
// superseded by another Speak. It returns ctx.Err() only when ctx itself was
// cancelled.
func (p *Player) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ctx.Err()
	}

	playCtx, cancel := context.WithCancel(ctx)
	me := &utterance{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	prev := p.cur
	p.cur = me
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		if p.cur == me {
			p.cur = nil
		}
		p.mu.Unlock()
		close(me.done)
	}()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	start := time.Now()
	err := p.play(playCtx, text)
	status := "ok"
	switch {
	case ctx.Err() != nil:
		status = "cancelled"
	case playCtx.Err() != nil:
		status = "superseded"
	case err != nil:
		status = "error"
		p.metrics.RecordProviderError(ctx, p.providerName, "tts")
		observe.Logger(ctx).Warn("speech: playback failed", "provider", p.providerName, "err", err)
	}
	p.metrics.RecordProviderRequest(ctx, p.providerName, "tts", status)
	p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.providerName)))

	return ctx.Err()
}

// Stop interrupts the prompt that is playing, if any, and waits for it to
// release the speaker.
func (p *Player) Stop() {
	p.mu.Lock()
	cur := p.cur
	p.mu.Unlock()
	if cur != nil {
		cur.cancel()
		<-cur.done
	}
}

func (p *Player) play(ctx context.Context, text string) error {
	chunks, err := p.synth.SynthesizeStream(ctx, tts.Single(text), p.voice)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	defer audio.Drain(chunks)

	out, err := p.speaker.Open(ctx, p.synth.Format())
	if err != nil {
		return fmt.Errorf("speech: open speaker: %w", err)
	}

	var writeErr error
	for chunk := range chunks {
		if err := out.Write(ctx, chunk); err != nil {
			writeErr = fmt.Errorf("speech: write: %w", err)
			break
		}
	}
	if err := out.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("speech: close speaker: %w", err)
	}
	if writeErr == nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return writeErr
}
