package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload marks a payload that cannot be parsed at all or is
// missing its required routing fields. Terminal for the delivery: a
// redelivery of the same bytes cannot become well-formed.
var ErrMalformedPayload = errors.New("malformed payload")

// Envelope carries the routing fields extracted from a verified payload.
// Only the fields needed to route and attribute the event are typed;
// everything else stays in the raw bytes and is forwarded verbatim, so
// aggregator additions pass through untouched.
type Envelope struct {
	// DeliveryID is the sender-assigned delivery identifier, if any.
	DeliveryID string

	// UserRef is the aggregator's user reference. Required.
	UserRef string

	// Type is the event-type discriminator ("activity", "sleep", ...).
	// Passed through verbatim; unknown values are not an error.
	Type string

	// Raw is the exact payload bytes as received.
	Raw []byte
}

// envelopeWire is the partially-typed view of the payload: required
// routing fields plus whatever else the sender includes.
type envelopeWire struct {
	DeliveryID string `json:"delivery_id"`
	Type       string `json:"type"`
	User       struct {
		UserID string `json:"user_id"`
	} `json:"user"`
}

// ParseEnvelope decodes a verified raw payload into its routing envelope.
// Returns ErrMalformedPayload when the payload is not a JSON object or
// the user reference is absent.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if wire.User.UserID == "" {
		return nil, fmt.Errorf("%w: missing user.user_id", ErrMalformedPayload)
	}

	return &Envelope{
		DeliveryID: wire.DeliveryID,
		UserRef:    wire.User.UserID,
		Type:       wire.Type,
		Raw:        raw,
	}, nil
}
