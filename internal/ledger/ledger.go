package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// staleClaimAfter bounds how long a claim may sit without a recorded
// outcome. A handler that died between claim and outcome leaves a
// VERIFIED row behind; once the window passes, a redelivery may re-arm
// the claim instead of being short-circuited against a row that never
// applied.
const staleClaimAfter = time.Minute

// Ledger records inbound webhook deliveries and enforces at-most-once
// application per delivery id. All coordination between concurrent
// handlers goes through the database; the UNIQUE constraint on
// delivery_id is the claim.
type Ledger struct {
	db *sql.DB
}

func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Claim atomically reserves deliveryID for this attempt.
//
// Exactly one of three things happens:
//   - no record exists: a VERIFIED row is inserted and the caller owns the
//     delivery (NewlyClaimed=true);
//   - a FAILED record exists, or a VERIFIED claim went stale without an
//     outcome: the claim is re-armed so a legitimate redelivery can retry
//     (NewlyClaimed=true);
//   - any other record exists: this is a replay and the previous record is
//     returned unchanged (NewlyClaimed=false).
func (l *Ledger) Claim(ctx context.Context, deliveryID, userRef, eventType string, rawPayload []byte) (ClaimResult, error) {
	if deliveryID == "" {
		return ClaimResult{}, fmt.Errorf("deliveryID is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	id := uuid.NewString()

	res, err := l.db.ExecContext(ctx, `
INSERT INTO inbound_events(id, delivery_id, user_ref, event_type, raw_payload, state, received_at, verified_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(delivery_id) DO NOTHING;
`, id, deliveryID, userRef, eventType, rawPayload, StateVerified, now, now)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("claim delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return ClaimResult{NewlyClaimed: true}, nil
	}

	// The delivery id is already on record. A FAILED outcome means the
	// previous attempt claimed but could not apply; a stale VERIFIED row
	// means the previous attempt died before recording an outcome. Both
	// re-arm the claim so this redelivery can retry. The state guard and
	// the verified_at refresh keep two concurrent redeliveries from both
	// winning.
	cutoff := time.Now().UTC().Add(-staleClaimAfter).Format(time.RFC3339Nano)
	res, err = l.db.ExecContext(ctx, `
UPDATE inbound_events
SET state = ?, verified_at = ?, finished_at = NULL, reject_reason = NULL
WHERE delivery_id = ?
  AND (state = ? OR (state = ? AND verified_at <= ?));
`, StateVerified, now, deliveryID, StateFailed, StateVerified, cutoff)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("re-arm failed delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return ClaimResult{NewlyClaimed: true}, nil
	}

	prev, err := l.GetByDeliveryID(ctx, deliveryID)
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{NewlyClaimed: false, Previous: prev}, nil
}

// MarkApplied records the durable application of a claimed delivery.
func (l *Ledger) MarkApplied(ctx context.Context, deliveryID, userID string) error {
	return l.finish(ctx, deliveryID, StateApplied, &userID, nil)
}

// MarkFailed records a downstream failure after a successful claim. The
// record stays FAILED (never ambiguous) and a redelivery with the same
// delivery id may retry via Claim.
func (l *Ledger) MarkFailed(ctx context.Context, deliveryID, reason string) error {
	return l.finish(ctx, deliveryID, StateFailed, nil, &reason)
}

func (l *Ledger) finish(ctx context.Context, deliveryID string, state State, userID, reason *string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := l.db.ExecContext(ctx, `
UPDATE inbound_events
SET state = ?, user_id = COALESCE(?, user_id), reject_reason = ?, finished_at = ?
WHERE delivery_id = ? AND state = ?;
`, state, userID, reason, now, deliveryID, StateVerified)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record outcome: delivery %q not in claimed state", deliveryID)
	}
	return nil
}

// RecordRejected stores a terminal rejection for operator visibility.
// It never overwrites an existing record for the same delivery id.
func (l *Ledger) RecordRejected(ctx context.Context, deliveryID, userRef, eventType string, rawPayload []byte, reason string) error {
	if deliveryID == "" {
		return fmt.Errorf("deliveryID is empty")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(ctx, `
INSERT INTO inbound_events(id, delivery_id, user_ref, event_type, raw_payload, state, reject_reason, received_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(delivery_id) DO NOTHING;
`, uuid.NewString(), deliveryID, userRef, eventType, rawPayload, StateRejected, reason, now, now)
	if err != nil {
		return fmt.Errorf("record rejection: %w", err)
	}
	return nil
}

// GetByDeliveryID returns the record for a delivery id.
func (l *Ledger) GetByDeliveryID(ctx context.Context, deliveryID string) (*Event, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, delivery_id, user_ref, user_id, event_type, raw_payload, state, reject_reason, received_at, verified_at, finished_at
FROM inbound_events
WHERE delivery_id = ?;
`, deliveryID)
	return scanEvent(row)
}

// Get returns the record with the given row id.
func (l *Ledger) Get(ctx context.Context, id string) (*Event, error) {
	row := l.db.QueryRowContext(ctx, `
SELECT id, delivery_id, user_ref, user_id, event_type, raw_payload, state, reject_reason, received_at, verified_at, finished_at
FROM inbound_events
WHERE id = ?;
`, id)
	return scanEvent(row)
}

// List returns recent events, newest first.
func (l *Ledger) List(ctx context.Context, limit, offset int) ([]*Event, error) {
	if limit <= 0 {
		limit = 25
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
SELECT id, delivery_id, user_ref, user_id, event_type, raw_payload, state, reject_reason, received_at, verified_at, finished_at
FROM inbound_events
ORDER BY received_at DESC, rowid DESC
LIMIT ? OFFSET ?;
`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// CountByState returns event counts grouped by processing state.
func (l *Ledger) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT state, COUNT(*) FROM inbound_events GROUP BY state;
`)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("count events: %w", err)
		}
		counts[State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		ev           Event
		userRef      sql.NullString
		userID       sql.NullString
		eventType    sql.NullString
		stateS       string
		rejectReason sql.NullString
		receivedAtS  string
		verifiedAtS  sql.NullString
		finishedAtS  sql.NullString
	)
	err := row.Scan(
		&ev.ID, &ev.DeliveryID, &userRef, &userID, &eventType, &ev.RawPayload,
		&stateS, &rejectReason, &receivedAtS, &verifiedAtS, &finishedAtS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	ev.State = State(stateS)
	if userRef.Valid {
		ev.UserRef = userRef.String
	}
	if userID.Valid {
		ev.UserID = &userID.String
	}
	if eventType.Valid {
		ev.EventType = eventType.String
	}
	if rejectReason.Valid {
		ev.RejectReason = &rejectReason.String
	}
	if t, err := time.Parse(time.RFC3339Nano, receivedAtS); err == nil {
		ev.ReceivedAt = t
	}
	if verifiedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, verifiedAtS.String); err == nil {
			ev.VerifiedAt = &t
		}
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			ev.FinishedAt = &t
		}
	}
	return &ev, nil
}
