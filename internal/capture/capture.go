// Package capture owns the microphone for the duration of one bounded
// recording.
//
// A [Controller] hands out at most one [Handle] at a time. Each handle runs a
// collector goroutine that buffers PCM until it is stopped, cancelled, hits
// the duration ceiling, detects trailing silence after speech, or the device
// stops on its own. Whichever happens first, the collector closes the device
// stream and releases the controller's slot before the handle reports done.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/torqueshop/voicedesk/internal/observe"
	"github.com/torqueshop/voicedesk/pkg/audio"
)

var (
	// ErrDeviceUnavailable is returned by [Controller.Start] when the
	// microphone could not be opened for a reason other than permission.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrTooShort is returned by [Handle.Stop] when the recording holds fewer
	// bytes than the configured minimum.
	ErrTooShort = errors.New("capture: recording too short")

	// ErrBusy is returned by [Controller.Start] while another recording holds
	// the microphone.
	ErrBusy = errors.New("capture: microphone busy")

	// ErrCancelled is returned by [Handle.Stop] after [Handle.Cancel].
	ErrCancelled = errors.New("capture: recording cancelled")
)

const (
	DefaultMaxDuration = 7 * time.Second
	DefaultMinBytes    = 1000
	DefaultSampleRate  = 16000
)

// StopReason records why a recording ended.
type StopReason string

const (
	StopExplicit StopReason = "explicit"
	StopCeiling  StopReason = "ceiling"
	StopSilence  StopReason = "silence"
	StopDevice   StopReason = "device"
	StopContext  StopReason = "context"
	StopCancel   StopReason = "cancel"
)

// Recording is one finished capture.
type Recording struct {
	PCM       []byte
	Format    audio.Format
	Duration  time.Duration
	SizeBytes int
	Reason    StopReason
}

// Config tunes a [Controller]. Zero fields take the package defaults; a zero
// SilenceWindow disables silence detection.
type Config struct {
	// MaxDuration is the hard ceiling after which a recording stops itself.
	MaxDuration time.Duration

	// MinBytes is the smallest buffer [Handle.Stop] accepts.
	MinBytes int

	Format audio.Format

	// SilenceWindow is how much continuous quiet after speech ends a
	// recording early.
	SilenceWindow time.Duration

	// SilenceThreshold is the RMS level below which a frame counts as quiet.
	SilenceThreshold float64
}

func (c Config) withDefaults() Config {
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.MinBytes <= 0 {
		c.MinBytes = DefaultMinBytes
	}
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = DefaultSampleRate
	}
	if c.Format.Channels <= 0 {
		c.Format.Channels = 1
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 500
	}
	return c
}

// Option is a functional option for [New].
type Option func(*Controller)

// WithConfig replaces the controller configuration.
func WithConfig(cfg Config) Option {
	return func(c *Controller) {
		c.cfg = cfg
	}
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// Controller serialises access to a [audio.Microphone].
type Controller struct {
	mic     audio.Microphone
	cfg     Config
	metrics *observe.Metrics

	// slot has capacity one; holding its value means holding the microphone.
	slot chan struct{}
}

// New returns a Controller for mic.
func New(mic audio.Microphone, opts ...Option) (*Controller, error) {
	if mic == nil {
		return nil, errors.New("capture: microphone must not be nil")
	}
	c := &Controller{mic: mic}
	for _, o := range opts {
		o(c)
	}
	c.cfg = c.cfg.withDefaults()
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.slot = make(chan struct{}, 1)
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Start acquires the microphone and begins buffering. The returned handle must
// be finished with [Handle.Stop] or [Handle.Cancel]; the device is also
// released on its own when the ceiling fires or ctx is cancelled.
//
// Start returns [audio.ErrPermissionDenied] (wrapped) when access is refused,
// [ErrDeviceUnavailable] for any other open failure, and [ErrBusy] when a
// recording is already in progress.
func (c *Controller) Start(ctx context.Context) (*Handle, error) {
	select {
	case c.slot <- struct{}{}:
	default:
		return nil, ErrBusy
	}

	stream, err := c.mic.Open(ctx, c.cfg.Format)
	if err != nil {
		<-c.slot
		if errors.Is(err, audio.ErrPermissionDenied) {
			return nil, fmt.Errorf("capture: open microphone: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	c.metrics.MicAcquired(ctx)

	h := &Handle{
		ctrl:   c,
		stream: stream,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go h.collect(ctx)
	return h, nil
}

// Record runs one complete recording: Start, then wait for the ceiling,
// silence, or the device to end it. If ctx is cancelled first the recording is
// cancelled and ctx.Err() is returned.
func (c *Controller) Record(ctx context.Context) (Recording, error) {
	h, err := c.Start(ctx)
	if err != nil {
		return Recording{}, err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		h.Cancel()
		return Recording{}, err
	}
	return h.Stop()
}

// Handle is an in-progress recording.
type Handle struct {
	ctrl   *Controller
	stream audio.InputStream

	stopOnce  sync.Once
	stopCh    chan struct{}
	cancelled bool // written before stopCh is closed

	done   chan struct{}
	buf    bytes.Buffer
	reason StopReason
}

// Done is closed once the device has been released, for whatever reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop ends the recording, waits for the device to be released, and returns
// the buffered audio. It is safe to call after the recording has already
// ended on its own, and more than once.
func (h *Handle) Stop() (Recording, error) {
	h.requestStop(false)
	<-h.done

	if h.reason == StopCancel || h.reason == StopContext {
		return Recording{}, ErrCancelled
	}
	cfg := h.ctrl.cfg
	pcm := h.buf.Bytes()
	rec := Recording{
		PCM:       pcm,
		Format:    cfg.Format,
		Duration:  audio.Duration(pcm, cfg.Format),
		SizeBytes: len(pcm),
		Reason:    h.reason,
	}
	if rec.SizeBytes < cfg.MinBytes {
		return rec, fmt.Errorf("%w: %d bytes, need %d", ErrTooShort, rec.SizeBytes, cfg.MinBytes)
	}
	return rec, nil
}

// Cancel ends the recording, discards the audio, and waits for the device to
// be released.
func (h *Handle) Cancel() {
	h.requestStop(true)
	<-h.done
}

func (h *Handle) requestStop(cancel bool) {
	h.stopOnce.Do(func() {
		h.cancelled = cancel
		close(h.stopCh)
	})
}

// collect is the only goroutine that touches buf, reason and the stream.
func (h *Handle) collect(ctx context.Context) {
	cfg := h.ctrl.cfg
	defer func() {
		if err := h.stream.Close(); err != nil {
			slog.Warn("capture: close microphone", "err", err)
		}
		bg := context.WithoutCancel(ctx)
		h.ctrl.metrics.MicReleased(bg)
		h.ctrl.metrics.RecordingDuration.Record(bg, audio.Duration(h.buf.Bytes(), cfg.Format).Seconds(),
			metric.WithAttributes(observe.Attr("reason", string(h.reason))))
		<-h.ctrl.slot
		close(h.done)
	}()

	ceiling := time.NewTimer(cfg.MaxDuration)
	defer ceiling.Stop()

	var (
		heardSpeech bool
		quiet       time.Duration
	)
	frames := h.stream.Frames()
	for {
		select {
		case <-h.stopCh:
			h.reason = StopExplicit
			if h.cancelled {
				h.reason = StopCancel
				h.buf.Reset()
			}
			return
		case <-ceiling.C:
			h.reason = StopCeiling
			return
		case <-ctx.Done():
			h.reason = StopContext
			h.buf.Reset()
			return
		case f, ok := <-frames:
			if !ok {
				h.reason = StopDevice
				return
			}
			h.buf.Write(f)
			if cfg.SilenceWindow <= 0 {
				continue
			}
			if audio.RMS(f) >= cfg.SilenceThreshold {
				heardSpeech = true
				quiet = 0
				continue
			}
			if heardSpeech {
				quiet += audio.Duration(f, cfg.Format)
				if quiet >= cfg.SilenceWindow {
					h.reason = StopSilence
					return
				}
			}
		}
	}
}
