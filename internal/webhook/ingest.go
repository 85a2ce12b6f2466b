package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/biothread/vitalgate/internal/ledger"
	"github.com/biothread/vitalgate/internal/metrics"
	"github.com/biothread/vitalgate/internal/users"
)

// DeliveryLedger is the durable claim-and-record store for deliveries.
type DeliveryLedger interface {
	Claim(ctx context.Context, deliveryID, userRef, eventType string, rawPayload []byte) (ledger.ClaimResult, error)
	MarkApplied(ctx context.Context, deliveryID, userID string) error
	MarkFailed(ctx context.Context, deliveryID, reason string) error
	RecordRejected(ctx context.Context, deliveryID, userRef, eventType string, rawPayload []byte, reason string) error
}

// UserResolver maps an aggregator user reference to a local user id.
type UserResolver interface {
	Resolve(ctx context.Context, externalRef string) (string, error)
}

// Applier performs the downstream write for a claimed delivery.
type Applier interface {
	Apply(ctx context.Context, d Delivery) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, d Delivery) error

func (f ApplierFunc) Apply(ctx context.Context, d Delivery) error { return f(ctx, d) }

// Delivery is a verified, attributed event handed to an Applier.
type Delivery struct {
	DeliveryID string
	UserID     string
	UserRef    string
	EventType  string
	Payload    []byte
}

// Outcome classifies the result of ingesting one delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// Result is what the HTTP boundary needs to answer the sender.
type Result struct {
	Outcome    Outcome
	DeliveryID string

	// Reason is set for rejections. Logged and recorded, never sent to
	// the sender verbatim.
	Reason string
}

// Ingestor runs the verified-payload half of the pipeline: parse, resolve
// user, claim, apply, record outcome. It holds no per-request state; all
// coordination between concurrent deliveries goes through the ledger.
type Ingestor struct {
	ledger       DeliveryLedger
	users        UserResolver
	passthrough  Applier
	handlers     map[string]Applier
	storeTimeout time.Duration
	logger       *slog.Logger
}

// NewIngestor creates an Ingestor. passthrough handles every event type
// without a registered handler, which keeps unknown aggregator additions
// flowing instead of bouncing.
func NewIngestor(dl DeliveryLedger, ur UserResolver, passthrough Applier, storeTimeout time.Duration, logger *slog.Logger) *Ingestor {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Ingestor{
		ledger:       dl,
		users:        ur,
		passthrough:  passthrough,
		handlers:     make(map[string]Applier),
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// RegisterHandler routes an event type to a specific applier. Types
// without a handler go to the passthrough applier.
func (i *Ingestor) RegisterHandler(eventType string, a Applier) {
	i.handlers[eventType] = a
}

// Ingest processes one verified delivery. The raw bytes must already have
// passed signature verification.
//
// Errors are only returned for transient store failures (the sender
// should retry); every terminal condition is expressed in the Result.
func (i *Ingestor) Ingest(ctx context.Context, raw []byte) (Result, error) {
	metrics.EventsReceivedTotal.Inc()
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	env, err := ParseEnvelope(raw)
	if err != nil {
		// Structurally invalid; retrying cannot fix it. No ledger
		// record: there is nothing trustworthy to key it by.
		metrics.EventsRejectedTotal.WithLabelValues("malformed_payload").Inc()
		i.logger.Warn("rejecting malformed payload", "error", err)
		return Result{Outcome: OutcomeRejected, Reason: "malformed payload"}, nil
	}

	deliveryID := env.DeliveryID
	if deliveryID == "" {
		deliveryID = ledger.DeriveDeliveryID(env.UserRef, env.Type, env.Raw)
	}

	sctx, cancel := context.WithTimeout(ctx, i.storeTimeout)
	defer cancel()

	userID, err := i.users.Resolve(sctx, env.UserRef)
	if errors.Is(err, users.ErrNoSuchUser) {
		// Unlinked account or configuration mismatch. Recorded for
		// operator visibility, terminal for the delivery.
		metrics.EventsRejectedTotal.WithLabelValues("no_such_user").Inc()
		i.logger.Warn("rejecting delivery for unmapped user",
			"delivery_id", deliveryID,
			"user_ref", env.UserRef,
			"event_type", env.Type,
		)
		if err := i.ledger.RecordRejected(sctx, deliveryID, env.UserRef, env.Type, env.Raw, "no such user"); err != nil {
			return Result{}, fmt.Errorf("record rejection: %w", err)
		}
		return Result{Outcome: OutcomeRejected, DeliveryID: deliveryID, Reason: "no such user"}, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolve user: %w", err)
	}

	claim, err := i.ledger.Claim(sctx, deliveryID, env.UserRef, env.Type, env.Raw)
	if err != nil {
		return Result{}, fmt.Errorf("claim delivery: %w", err)
	}

	if !claim.NewlyClaimed {
		return i.replayResult(deliveryID, claim.Previous), nil
	}

	handler := i.handlers[env.Type]
	if handler == nil {
		handler = i.passthrough
	}

	d := Delivery{
		DeliveryID: deliveryID,
		UserID:     userID,
		UserRef:    env.UserRef,
		EventType:  env.Type,
		Payload:    env.Raw,
	}
	if err := handler.Apply(sctx, d); err != nil {
		// Claimed but not applied. FAILED keeps the retry path open:
		// a redelivery with the same id re-arms the claim.
		metrics.EventsFailedTotal.Inc()
		i.logger.Error("downstream apply failed",
			"delivery_id", deliveryID,
			"event_type", env.Type,
			"error", err,
		)
		if ferr := i.ledger.MarkFailed(sctx, deliveryID, err.Error()); ferr != nil {
			i.logger.Error("failed to record FAILED outcome", "delivery_id", deliveryID, "error", ferr)
		}
		return Result{Outcome: OutcomeFailed, DeliveryID: deliveryID}, nil
	}

	if err := i.ledger.MarkApplied(sctx, deliveryID, userID); err != nil {
		// Outcome unknown to the sender; surface as transient so it
		// redelivers. The stale-claim window keeps the record from
		// wedging.
		return Result{}, fmt.Errorf("record applied outcome: %w", err)
	}

	metrics.EventsAppliedTotal.Inc()
	i.logger.Info("delivery applied",
		"delivery_id", deliveryID,
		"user_id", userID,
		"event_type", env.Type,
	)
	return Result{Outcome: OutcomeApplied, DeliveryID: deliveryID}, nil
}

// replayResult maps a previously recorded outcome onto this redelivery.
// Replays of applied (or still in-flight) deliveries are not errors; the
// sender must see success or it will retry indefinitely.
func (i *Ingestor) replayResult(deliveryID string, prev *ledger.Event) Result {
	metrics.EventsDuplicateTotal.Inc()

	if prev == nil {
		return Result{Outcome: OutcomeDuplicate, DeliveryID: deliveryID}
	}

	switch prev.State {
	case ledger.StateRejected:
		reason := "rejected"
		if prev.RejectReason != nil {
			reason = *prev.RejectReason
		}
		return Result{Outcome: OutcomeRejected, DeliveryID: deliveryID, Reason: reason}
	case ledger.StateFailed:
		return Result{Outcome: OutcomeFailed, DeliveryID: deliveryID}
	default:
		i.logger.Debug("replay short-circuited", "delivery_id", deliveryID, "state", string(prev.State))
		return Result{Outcome: OutcomeDuplicate, DeliveryID: deliveryID}
	}
}
