package conversation

import "time"

// EventType classifies an entry in a session's event log.
type EventType string

const (
	// EventTransition records entry into a new state.
	EventTransition EventType = "transition"

	// EventSpeak records a prompt that finished playing.
	EventSpeak EventType = "speak"

	// EventListen records the start of a microphone capture.
	EventListen EventType = "listen"

	// EventHeard records a recognised utterance.
	EventHeard EventType = "heard"

	// EventFailure records a failed turn or a terminal error.
	EventFailure EventType = "failure"
)

// Event is one entry of a session's append-only log.
type Event struct {
	Seq  int       `json:"seq"`
	At   time.Time `json:"at"`
	Type EventType `json:"type"`
	Step Step      `json:"step"`
	Text string    `json:"text,omitempty"`
}
