// Package audio defines the local audio device boundary used by the voice
// capture flow: a [Microphone] that yields raw PCM while it is held, and a
// [Speaker] that plays synthesised prompts.
//
// All PCM in this module is 16-bit signed little-endian. The device is an
// exclusive hardware resource; callers own the returned stream and must Close
// it on every exit path. Adapters for real hardware live in sub-packages
// (audio/portaudio); audio/mock provides recording test doubles.
package audio

import (
	"context"
	"errors"
)

// ErrPermissionDenied is returned by [Microphone.Open] when the user or the
// operating system has refused access to the capture device.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the number of 16-bit PCM bytes that make up one
// second of audio in this format. Returns 0 for an invalid format.
func (f Format) BytesPerSecond() int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return f.SampleRate * f.Channels * 2
}

// Microphone acquires the capture device.
//
// Open must either return a live [InputStream] or an error; it never leaves
// the device held on failure. Implementations return [ErrPermissionDenied]
// (possibly wrapped) when access was refused.
type Microphone interface {
	Open(ctx context.Context, f Format) (InputStream, error)
}

// InputStream is a held capture device.
type InputStream interface {
	// Frames delivers PCM chunks as they are captured. The channel is closed
	// when the stream stops, either through Close or because the device failed.
	Frames() <-chan []byte

	// Close stops capture and releases the device. It is safe to call more
	// than once; only the first call releases.
	Close() error
}

// Speaker opens the playback device.
type Speaker interface {
	Open(ctx context.Context, f Format) (OutputStream, error)
}

// OutputStream is an open playback device.
type OutputStream interface {
	// Write queues pcm for playback. It blocks while the device buffer is full
	// and returns ctx.Err() if ctx is cancelled first.
	Write(ctx context.Context, pcm []byte) error

	// Close waits for queued audio to finish playing and releases the device.
	Close() error
}

// Drain reads from ch until it is closed and discards the values. Use it when
// abandoning a producer so its goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
