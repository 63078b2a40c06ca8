// Package stt defines the Provider interface for speech-to-text backends.
//
// The voice capture flow records one bounded utterance per turn and submits it
// as a single batch request, so the central call is [Provider.Transcribe]: a
// PCM recording goes in, a [Transcript] comes out. Retrying is the caller's
// job; providers make exactly one attempt per call.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"

	"github.com/torqueshop/voicedesk/pkg/audio"
)

// ErrEmptyAudio is returned when a request carries no PCM data.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one recorded utterance plus recognition hints.
type Request struct {
	// PCM is 16-bit signed little-endian audio in Format.
	PCM []byte

	// Format is the sample rate and channel count of PCM.
	Format audio.Format

	// Language is a BCP-47 tag ("en", "en-US"). Empty lets the provider
	// auto-detect or use its default.
	Language string

	// Hints lists vocabulary that is likely to appear in the utterance, such
	// as customer names or vehicle makes. Providers that support keyword
	// boosting or prompting use it; others ignore it.
	Hints []string
}

// Transcript is the recognition result for one [Request].
type Transcript struct {
	// Text is the recognised speech. It may be empty when the provider heard
	// nothing; callers decide whether that is a failure.
	Text string

	// Confidence is the overall confidence (0.0–1.0), or zero when the
	// provider does not report one.
	Confidence float64

	// Latency is the wall-clock time the provider call took.
	Latency time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe submits req and returns the recognised text.
	//
	// Returns an error when the backend cannot be reached, rejects the
	// request, or ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
