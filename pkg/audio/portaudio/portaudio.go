// Package portaudio implements [audio.Microphone] and [audio.Speaker] on the
// host's default PortAudio devices.
//
// PortAudio must be initialised once per process; [Open] does that and the
// returned [Host] must be closed on shutdown. The package requires cgo and the
// PortAudio development headers at build time.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	pa "github.com/gordonklaus/portaudio"

	"github.com/torqueshop/voicedesk/pkg/audio"
)

const defaultFramesPerBuffer = 1024

var (
	_ audio.Microphone = (*Host)(nil)
	_ audio.Speaker    = (*Speaker)(nil)
)

// Host owns the PortAudio library lifetime and opens the default input
// device. It also hands out a [Speaker] for the default output device.
type Host struct {
	framesPerBuffer int
	closeOnce       sync.Once
}

// Option configures a [Host].
type Option func(*Host)

// WithFramesPerBuffer sets the PortAudio buffer size in frames. Smaller values
// reduce latency at the cost of more callbacks. Default: 1024.
func WithFramesPerBuffer(n int) Option {
	return func(h *Host) {
		if n > 0 {
			h.framesPerBuffer = n
		}
	}
}

// Open initialises PortAudio and returns a ready [Host].
func Open(opts ...Option) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialise: %w", err)
	}
	h := &Host{framesPerBuffer: defaultFramesPerBuffer}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Close terminates PortAudio. Streams must be closed first.
func (h *Host) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = pa.Terminate()
	})
	return err
}

// Speaker returns the default output device.
func (h *Host) Speaker() *Speaker {
	return &Speaker{framesPerBuffer: h.framesPerBuffer}
}

// Open implements [audio.Microphone] on the default input device.
func (h *Host) Open(ctx context.Context, f audio.Format) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	buf := make([]int16, h.framesPerBuffer*channels)
	stream, err := pa.OpenDefaultStream(channels, 0, float64(f.SampleRate), h.framesPerBuffer, buf)
	if err != nil {
		return nil, classify("open input", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classify("start input", err)
	}

	in := &inputStream{
		stream: stream,
		buf:    buf,
		frames: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	in.wg.Add(1)
	go in.readLoop()
	return in, nil
}

// classify maps a PortAudio error onto the audio package's sentinel errors.
// PortAudio has no dedicated permission code; host APIs report it in the
// error text.
func classify(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "not authorized") {
		return fmt.Errorf("portaudio: %s: %w: %v", op, audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("portaudio: %s: %w", op, err)
}

type inputStream struct {
	stream *pa.Stream
	buf    []int16
	frames chan []byte
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// readLoop is the only goroutine that touches stream.Read and buf.
func (s *inputStream) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				continue
			}
			select {
			case <-s.done:
			default:
				slog.Warn("portaudio: input read failed", "err", err)
			}
			return
		}
		chunk := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(v))
		}
		select {
		case s.frames <- chunk:
		case <-s.done:
			return
		}
	}
}

func (s *inputStream) Frames() <-chan []byte { return s.frames }

func (s *inputStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		// Stop unblocks a pending Read.
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop input: %w", stopErr)
		}
		s.wg.Wait()
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close input: %w", closeErr)
		}
	})
	return err
}

// Speaker implements [audio.Speaker] on the default output device.
type Speaker struct {
	framesPerBuffer int
}

// Open implements [audio.Speaker].
func (s *Speaker) Open(ctx context.Context, f audio.Format) (audio.OutputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channels := f.Channels
	if channels <= 0 {
		channels = 1
	}
	buf := make([]int16, s.framesPerBuffer*channels)
	stream, err := pa.OpenDefaultStream(0, channels, float64(f.SampleRate), s.framesPerBuffer, buf)
	if err != nil {
		return nil, classify("open output", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classify("start output", err)
	}
	return &outputStream{stream: stream, buf: buf}, nil
}

type outputStream struct {
	mu      sync.Mutex
	stream  *pa.Stream
	buf     []int16
	pending []byte
	once    sync.Once
}

// Write copies pcm into the device buffer one period at a time. A trailing
// partial period is kept until the next Write or Close.
func (o *outputStream) Write(ctx context.Context, pcm []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.pending = append(o.pending, pcm...)
	period := len(o.buf) * 2
	for len(o.pending) >= period {
		if err := ctx.Err(); err != nil {
			o.pending = nil
			return err
		}
		o.fill(o.pending[:period])
		o.pending = o.pending[period:]
		if err := o.stream.Write(); err != nil && !errors.Is(err, pa.OutputUnderflowed) {
			return fmt.Errorf("portaudio: write: %w", err)
		}
	}
	return nil
}

func (o *outputStream) fill(chunk []byte) {
	for i := range o.buf {
		if i*2+1 < len(chunk) {
			o.buf[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		} else {
			o.buf[i] = 0
		}
	}
}

// Close plays any pending partial period, waits for the device to drain and
// releases it.
func (o *outputStream) Close() error {
	var err error
	o.once.Do(func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if len(o.pending) > 0 {
			o.fill(o.pending)
			o.pending = nil
			_ = o.stream.Write()
		}
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("portaudio: stop output: %w", stopErr)
		}
		if closeErr := o.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("portaudio: close output: %w", closeErr)
		}
	})
	return err
}
