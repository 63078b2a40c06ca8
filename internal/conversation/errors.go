package conversation

import (
	"context"
	"errors"

	"github.com/torqueshop/voicedesk/internal/capture"
	"github.com/torqueshop/voicedesk/internal/commit"
	"github.com/torqueshop/voicedesk/internal/transcribe"
	"github.com/torqueshop/voicedesk/pkg/audio"
)

var (
	// ErrNoEntityMatch is the terminal error when a spoken customer or
	// vehicle matches nothing.
	ErrNoEntityMatch = errors.New("conversation: no matching customer or vehicle")

	// ErrNoVehicles is the terminal error when the matched customer owns no
	// vehicles.
	ErrNoVehicles = errors.New("conversation: customer has no vehicles")

	// ErrNoItems is the terminal error when the user finishes without adding
	// a line item. Nothing is committed.
	ErrNoItems = errors.New("conversation: no line items")

	// ErrCancelled is the cause recorded when the user cancels a session by
	// control or by voice.
	ErrCancelled = errors.New("conversation: cancelled by user")
)

// ErrorKind is the user-facing failure taxonomy.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindPermissionDenied
	KindDeviceUnavailable
	KindTooShort
	KindTranscriptionFailed
	KindNoEntityMatch
	KindNoItems
	KindCommitFailed
	KindCancelled
	KindInternal
)

// String returns the snake_case name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindTooShort:
		return "too_short"
	case KindTranscriptionFailed:
		return "transcription_failed"
	case KindNoEntityMatch:
		return "no_entity_match"
	case KindNoItems:
		return "no_items"
	case KindCommitFailed:
		return "commit_failed"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Kind classifies err. Gateway failures caused by a timeout keep their
// gateway kind; only a bare context error counts as cancellation.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrCancelled), errors.Is(err, capture.ErrCancelled):
		return KindCancelled
	case errors.Is(err, audio.ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable), errors.Is(err, capture.ErrBusy):
		return KindDeviceUnavailable
	case errors.Is(err, capture.ErrTooShort):
		return KindTooShort
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		return KindTranscriptionFailed
	case errors.Is(err, ErrNoEntityMatch), errors.Is(err, ErrNoVehicles):
		return KindNoEntityMatch
	case errors.Is(err, ErrNoItems), errors.Is(err, commit.ErrNoItems):
		return KindNoItems
	case errors.Is(err, commit.ErrCommitFailed):
		return KindCommitFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// retryable reports whether a failed turn may be re-prompted.
func retryable(err error) bool {
	k := Kind(err)
	return k == KindTooShort || k == KindTranscriptionFailed
}
