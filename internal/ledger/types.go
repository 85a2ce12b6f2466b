package ledger

import (
	"errors"
	"time"
)

// State is the processing state of an inbound event.
type State string

const (
	StateReceived State = "RECEIVED"
	StateVerified State = "VERIFIED"
	StateRejected State = "REJECTED"
	StateApplied  State = "APPLIED"
	StateFailed   State = "FAILED"
)

// Event is one recorded webhook delivery.
type Event struct {
	ID           string
	DeliveryID   string
	UserRef      string
	UserID       *string
	EventType    string
	RawPayload   []byte
	State        State
	RejectReason *string
	ReceivedAt   time.Time
	VerifiedAt   *time.Time
	FinishedAt   *time.Time
}

// ClaimResult is the outcome of an atomic claim attempt.
type ClaimResult struct {
	// NewlyClaimed is true when this attempt owns the delivery and must
	// proceed to application. It is also true when a previous attempt
	// ended FAILED and the claim was re-armed for retry.
	NewlyClaimed bool

	// Previous holds the existing record when NewlyClaimed is false.
	Previous *Event
}

var ErrEventNotFound = errors.New("event not found")
