package conversation

import (
	"github.com/torqueshop/voicedesk/internal/lineitem"
	"github.com/torqueshop/voicedesk/pkg/shop"
)

// Snapshot is a point-in-time copy of a session for display.
type Snapshot struct {
	ID         string          `json:"id"`
	Mode       shop.RecordKind `json:"mode"`
	Step       Step            `json:"step"`
	Customer   *shop.Customer  `json:"customer,omitempty"`
	Candidates []shop.Vehicle  `json:"candidateVehicles,omitempty"`
	Vehicle    *shop.Vehicle   `json:"vehicle,omitempty"`
	Items      []shop.LineItem `json:"items"`
	Total      float64         `json:"total"`

	// Transcript holds every recognised utterance in order.
	Transcript []string `json:"transcript"`
	Events     []Event  `json:"events"`

	// Error is the most recent failure, cleared by the next successful turn.
	Error string `json:"error,omitempty"`
}

// ItemCount returns the number of line items.
func (s Snapshot) ItemCount() int { return len(s.Items) }

// Snapshot returns a copy of the session's current data.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:         s.id,
		Mode:       s.mode,
		Step:       s.state.Step(),
		Candidates: append([]shop.Vehicle(nil), s.candidates...),
		Items:      s.ledger.Items(),
		Total:      lineitem.RoundCents(s.ledger.Total()),
		Transcript: []string{},
		Events:     append([]Event(nil), s.events...),
		Error:      s.errMsg,
	}
	if s.customer != nil {
		c := *s.customer
		snap.Customer = &c
	}
	if s.vehicle != nil {
		v := *s.vehicle
		snap.Vehicle = &v
	}
	for _, e := range s.events {
		if e.Type == EventHeard {
			snap.Transcript = append(snap.Transcript, e.Text)
		}
	}
	return snap
}
