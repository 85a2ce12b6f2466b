package webhook_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"

	"github.com/biothread/vitalgate/internal/ledger"
	"github.com/biothread/vitalgate/internal/users"
	"github.com/biothread/vitalgate/internal/webhook"
	"github.com/biothread/vitalgate/internal/webhook/mocks"
)

func newTestSlogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), &buf
}

func strptr(s string) *string { return &s }

func TestIngestAppliesNewDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"user":{"user_id":"abc123"},"type":"activity","data":[{"steps":9000}]}`)

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)

	var claimedID string
	mockLedger.EXPECT().
		Claim(gomock.Any(), gomock.Any(), "abc123", "activity", raw).
		DoAndReturn(func(_ context.Context, deliveryID, _, _ string, _ []byte) (ledger.ClaimResult, error) {
			claimedID = deliveryID
			return ledger.ClaimResult{NewlyClaimed: true}, nil
		})
	mockApplier.EXPECT().
		Apply(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, d webhook.Delivery) error {
			assert.Equal(t, "user-1", d.UserID)
			assert.Equal(t, "activity", d.EventType)
			assert.Equal(t, raw, d.Payload)
			return nil
		})
	mockLedger.EXPECT().
		MarkApplied(gomock.Any(), gomock.Any(), "user-1").
		Return(nil)

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, result.Outcome)
	// No sender-assigned id in the payload, so the id is derived.
	assert.True(t, strings.HasPrefix(claimedID, "drv_"), "derived delivery id, got %q", claimedID)
	assert.Equal(t, claimedID, result.DeliveryID)
}

func TestIngestUsesSenderDeliveryID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"delivery_id":"dlv-42","user":{"user_id":"abc123"},"type":"sleep"}`)

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().
		Claim(gomock.Any(), "dlv-42", "abc123", "sleep", raw).
		Return(ledger.ClaimResult{NewlyClaimed: true}, nil)
	mockApplier.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(nil)
	mockLedger.EXPECT().MarkApplied(gomock.Any(), "dlv-42", "user-1").Return(nil)

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, result.Outcome)
	assert.Equal(t, "dlv-42", result.DeliveryID)
}

func TestIngestShortCircuitsReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"delivery_id":"dlv-42","user":{"user_id":"abc123"},"type":"sleep"}`)
	prev := &ledger.Event{DeliveryID: "dlv-42", State: ledger.StateApplied}

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().
		Claim(gomock.Any(), "dlv-42", "abc123", "sleep", raw).
		Return(ledger.ClaimResult{NewlyClaimed: false, Previous: prev}, nil)
	// Applier must NOT be called: at-most-once application.

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeDuplicate, result.Outcome)
}

func TestIngestReplayOfRejectedDelivery(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"delivery_id":"dlv-42","user":{"user_id":"abc123"},"type":"sleep"}`)
	prev := &ledger.Event{
		DeliveryID:   "dlv-42",
		State:        ledger.StateRejected,
		RejectReason: strptr("no such user"),
	}

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().
		Claim(gomock.Any(), "dlv-42", "abc123", "sleep", raw).
		Return(ledger.ClaimResult{NewlyClaimed: false, Previous: prev}, nil)

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeRejected, result.Outcome)
	assert.Equal(t, "no such user", result.Reason)
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No collaborator expectations: nothing may be recorded for a
	// payload with no trustworthy identity.
	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)

	for _, raw := range []string{
		`not json`,
		`{"type":"activity"}`, // no user reference
		``,
	} {
		result, err := ing.Ingest(context.Background(), []byte(raw))
		assert.NoError(t, err)
		assert.Equal(t, webhook.OutcomeRejected, result.Outcome, "payload: %q", raw)
	}
}

func TestIngestRejectsUnknownUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, logBuf := newTestSlogger()

	raw := []byte(`{"user":{"user_id":"ghost"},"type":"activity"}`)

	mockUsers.EXPECT().Resolve(gomock.Any(), "ghost").Return("", users.ErrNoSuchUser)
	mockLedger.EXPECT().
		RecordRejected(gomock.Any(), gomock.Any(), "ghost", "activity", raw, "no such user").
		Return(nil)

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeRejected, result.Outcome)
	assert.Equal(t, "no such user", result.Reason)
	assert.Contains(t, logBuf.String(), "unmapped user")
}

func TestIngestMarksFailedOnApplyError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"delivery_id":"dlv-9","user":{"user_id":"abc123"},"type":"body"}`)

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().
		Claim(gomock.Any(), "dlv-9", "abc123", "body", raw).
		Return(ledger.ClaimResult{NewlyClaimed: true}, nil)
	mockApplier.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(errors.New("downstream write refused"))
	mockLedger.EXPECT().MarkFailed(gomock.Any(), "dlv-9", "downstream write refused").Return(nil)

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	result, err := ing.Ingest(context.Background(), raw)

	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeFailed, result.Outcome)
}

func TestIngestSurfacesStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	mockApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	raw := []byte(`{"delivery_id":"dlv-9","user":{"user_id":"abc123"},"type":"body"}`)

	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().
		Claim(gomock.Any(), "dlv-9", "abc123", "body", raw).
		Return(ledger.ClaimResult{}, errors.New("database is locked"))

	ing := webhook.NewIngestor(mockLedger, mockUsers, mockApplier, time.Second, slogger)
	_, err := ing.Ingest(context.Background(), raw)

	assert.Error(t, err)
}

func TestIngestRoutesByEventType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockLedger := mocks.NewMockDeliveryLedger(ctrl)
	mockUsers := mocks.NewMockUserResolver(ctrl)
	passthrough := mocks.NewMockApplier(ctrl)
	activityApplier := mocks.NewMockApplier(ctrl)
	slogger, _ := newTestSlogger()

	ing := webhook.NewIngestor(mockLedger, mockUsers, passthrough, time.Second, slogger)
	ing.RegisterHandler("activity", activityApplier)

	// Registered type goes to its handler.
	activityRaw := []byte(`{"delivery_id":"dlv-a","user":{"user_id":"abc123"},"type":"activity"}`)
	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().Claim(gomock.Any(), "dlv-a", "abc123", "activity", activityRaw).Return(ledger.ClaimResult{NewlyClaimed: true}, nil)
	activityApplier.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(nil)
	mockLedger.EXPECT().MarkApplied(gomock.Any(), "dlv-a", "user-1").Return(nil)

	result, err := ing.Ingest(context.Background(), activityRaw)
	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, result.Outcome)

	// Unknown type is accepted and routed to the passthrough.
	unknownRaw := []byte(`{"delivery_id":"dlv-b","user":{"user_id":"abc123"},"type":"hydration_v2"}`)
	mockUsers.EXPECT().Resolve(gomock.Any(), "abc123").Return("user-1", nil)
	mockLedger.EXPECT().Claim(gomock.Any(), "dlv-b", "abc123", "hydration_v2", unknownRaw).Return(ledger.ClaimResult{NewlyClaimed: true}, nil)
	passthrough.EXPECT().Apply(gomock.Any(), gomock.Any()).Return(nil)
	mockLedger.EXPECT().MarkApplied(gomock.Any(), "dlv-b", "user-1").Return(nil)

	result, err = ing.Ingest(context.Background(), unknownRaw)
	assert.NoError(t, err)
	assert.Equal(t, webhook.OutcomeApplied, result.Outcome)
}
