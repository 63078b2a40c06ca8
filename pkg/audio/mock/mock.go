// Package mock provides recording test doubles for the [audio.Microphone] and
// [audio.Speaker] interfaces.
//
// All mocks are safe for concurrent use. They count every acquisition and
// release so tests can assert that the device is never leaked.
//
//	mic := &mock.Microphone{Frames: [][]byte{make([]byte, 3200)}, Hold: true}
//	in, _ := mic.Open(ctx, audio.Format{SampleRate: 16000, Channels: 1})
//	defer in.Close()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/torqueshop/voicedesk/pkg/audio"
)

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Frames is delivered, in order, on every opened stream.
	Frames [][]byte

	// FrameInterval, when non-zero, paces frame delivery.
	FrameInterval time.Duration

	// Hold keeps the stream open after the last frame until Close is called,
	// as a real device would. When false the frame channel is closed after the
	// last frame, simulating a device that stopped on its own.
	Hold bool

	// OpenErr, if non-nil, is returned by Open and nothing is acquired.
	OpenErr error

	// OpenCalls counts successful acquisitions.
	OpenCalls int

	// CloseCalls counts releases (the first Close of each stream only).
	CloseCalls int

	// Formats records the format of every successful Open.
	Formats []audio.Format
}

var _ audio.Microphone = (*Microphone)(nil)

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context, f audio.Format) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.OpenErr != nil {
		err := m.OpenErr
		m.mu.Unlock()
		return nil, err
	}
	m.OpenCalls++
	m.Formats = append(m.Formats, f)
	frames := make([][]byte, len(m.Frames))
	copy(frames, m.Frames)
	interval := m.FrameInterval
	hold := m.Hold
	m.mu.Unlock()

	s := &InputStream{
		mic:    m,
		frames: make(chan []byte, len(frames)+1),
		done:   make(chan struct{}),
	}
	go s.feed(frames, interval, hold)
	return s, nil
}

// Held returns the number of streams that are currently acquired and not yet
// released.
func (m *Microphone) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCalls - m.CloseCalls
}

// Counts returns the acquisition and release counters.
func (m *Microphone) Counts() (opens, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.OpenCalls, m.CloseCalls
}

// InputStream is the [audio.InputStream] returned by [Microphone.Open].
type InputStream struct {
	mic    *Microphone
	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

func (s *InputStream) feed(frames [][]byte, interval time.Duration, hold bool) {
	defer close(s.frames)
	for _, f := range frames {
		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-s.done:
				return
			}
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
	if hold {
		<-s.done
	}
}

// Frames implements [audio.InputStream].
func (s *InputStream) Frames() <-chan []byte { return s.frames }

// Close implements [audio.InputStream].
func (s *InputStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mic.mu.Lock()
		s.mic.CloseCalls++
		s.mic.mu.Unlock()
	})
	return nil
}

// ─── Speaker ──────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [audio.Speaker].
type Speaker struct {
	mu sync.Mutex

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// WriteErr, if non-nil, is returned by every Write.
	WriteErr error

	// WriteDelay, when non-zero, makes every Write block for that long (or
	// until its context is cancelled) to simulate playback time.
	WriteDelay time.Duration

	// Written records every chunk handed to Write, in order.
	Written [][]byte

	// OpenCalls and CloseCalls count device acquisitions and releases.
	OpenCalls  int
	CloseCalls int
}

var _ audio.Speaker = (*Speaker)(nil)

// Open implements [audio.Speaker].
func (s *Speaker) Open(_ context.Context, _ audio.Format) (audio.OutputStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	s.OpenCalls++
	return &OutputStream{spk: s}, nil
}

// WrittenBytes returns the total number of PCM bytes written.
func (s *Speaker) WrittenBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, w := range s.Written {
		n += len(w)
	}
	return n
}

// OutputStream is the [audio.OutputStream] returned by [Speaker.Open].
type OutputStream struct {
	spk  *Speaker
	once sync.Once
}

// Write implements [audio.OutputStream].
func (o *OutputStream) Write(ctx context.Context, pcm []byte) error {
	o.spk.mu.Lock()
	delay := o.spk.WriteDelay
	werr := o.spk.WriteErr
	o.spk.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if werr != nil {
		return werr
	}

	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	o.spk.mu.Lock()
	o.spk.Written = append(o.spk.Written, cp)
	o.spk.mu.Unlock()
	return nil
}

// Close implements [audio.OutputStream].
func (o *OutputStream) Close() error {
	o.once.Do(func() {
		o.spk.mu.Lock()
		o.spk.CloseCalls++
		o.spk.mu.Unlock()
	})
	return nil
}
