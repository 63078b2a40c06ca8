package conversation

import "github.com/torqueshop/voicedesk/pkg/shop"

// Step names a conversation state. It is the value logged, exported as a
// metric attribute and reported by the HTTP surface.
type Step string

const (
	StepIdle               Step = "idle"
	StepAskingCustomer     Step = "asking_customer"
	StepListeningCustomer  Step = "listening_customer"
	StepAskingVehicle      Step = "asking_vehicle"
	StepListeningVehicle   Step = "listening_vehicle"
	StepAskingItemHours    Step = "asking_item_hours"
	StepListeningItemHours Step = "listening_item_hours"
	StepAskingItemPrice    Step = "asking_item_price"
	StepListeningItemPrice Step = "listening_item_price"
	StepAskingMore         Step = "asking_more"
	StepListeningMore      Step = "listening_more"
	StepCreating           Step = "creating"
	StepComplete           Step = "complete"
	StepCancelled          Step = "cancelled"
)

// Terminal reports whether no further transition leaves s.
func (s Step) Terminal() bool {
	return s == StepIdle || s == StepComplete || s == StepCancelled
}

// Listening reports whether s waits on the microphone.
func (s Step) Listening() bool {
	switch s {
	case StepListeningCustomer, StepListeningVehicle, StepListeningItemHours,
		StepListeningItemPrice, StepListeningMore:
		return true
	}
	return false
}

// State is one variant of the conversation state machine. Each variant carries
// exactly the data that is valid in its step, so a state such as "listening
// for a vehicle" cannot exist without a matched customer.
type State interface {
	Step() Step
	state()
}

// Target is the customer and vehicle a session has settled on.
type Target struct {
	Customer shop.Customer
	Vehicle  shop.Vehicle
}

type (
	// Idle is the resting state. Err is the failure that ended the session,
	// or nil before the first run.
	Idle struct{ Err error }

	AskingCustomer    struct{}
	ListeningCustomer struct{}

	// AskingVehicle disambiguates among the vehicles Customer owns.
	AskingVehicle struct {
		Customer   shop.Customer
		Candidates []shop.Vehicle
	}
	ListeningVehicle struct {
		Customer   shop.Customer
		Candidates []shop.Vehicle
	}

	AskingItemHours    struct{ Target Target }
	ListeningItemHours struct{ Target Target }

	// AskingItemPrice holds the service and hours parsed from the previous
	// answer until a price completes the item.
	AskingItemPrice struct {
		Target  Target
		Service string
		Hours   float64
	}
	ListeningItemPrice struct {
		Target  Target
		Service string
		Hours   float64
	}

	// AskingMore optionally confirms the item that was just added before
	// asking for another.
	AskingMore struct {
		Target Target
		Added  *shop.LineItem
	}
	ListeningMore struct{ Target Target }

	// Creating holds the record being committed.
	Creating struct{ Record shop.Record }

	Complete  struct{ Receipt shop.Receipt }
	Cancelled struct{}
)

func (Idle) Step() Step               { return StepIdle }
func (AskingCustomer) Step() Step     { return StepAskingCustomer }
func (ListeningCustomer) Step() Step  { return StepListeningCustomer }
func (AskingVehicle) Step() Step      { return StepAskingVehicle }
func (ListeningVehicle) Step() Step   { return StepListeningVehicle }
func (AskingItemHours) Step() Step    { return StepAskingItemHours }
func (ListeningItemHours) Step() Step { return StepListeningItemHours }
func (AskingItemPrice) Step() Step    { return StepAskingItemPrice }
func (ListeningItemPrice) Step() Step { return StepListeningItemPrice }
func (AskingMore) Step() Step         { return StepAskingMore }
func (ListeningMore) Step() Step      { return StepListeningMore }
func (Creating) Step() Step           { return StepCreating }
func (Complete) Step() Step           { return StepComplete }
func (Cancelled) Step() Step          { return StepCancelled }

func (Idle) state()               {}
func (AskingCustomer) state()     {}
func (ListeningCustomer) state()  {}
func (AskingVehicle) state()      {}
func (ListeningVehicle) state()   {}
func (AskingItemHours) state()    {}
func (ListeningItemHours) state() {}
func (AskingItemPrice) state()    {}
func (ListeningItemPrice) state() {}
func (AskingMore) state()         {}
func (ListeningMore) state()      {}
func (Creating) state()           {}
func (Complete) state()           {}
func (Cancelled) state()          {}
