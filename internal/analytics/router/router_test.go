package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	env := types.Envelope{
		EventType: enums.EventNotificationRequested,
		Payload:   []byte(`{"user_id":"x"}`),
	}
	err := router.Handle(context.Background(), env)
	require.ErrorIs(t, err, ErrUnsupportedEventType)
}

func TestRouterRoutesToOverride(t *testing.T) {
	handler := &stubHandler{}
	router, _ := newTestRouter(t, map[enums.OutboxEventType]Handler{
		enums.EventPayoutDeferred: handler,
	})
	data, _ := json.Marshal(payloads.TransactionEvent{TransactionID: uuid.New()})

	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventPayoutDeferred, Payload: data})
	require.NoError(t, err)
	require.True(t, handler.called)
	_, ok := handler.payload.(*payloads.TransactionEvent)
	require.True(t, ok, "payload should be decoded before dispatch")
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventPaymentEscrowed})
	require.ErrorIs(t, err, types.ErrEmptyPayload)
	require.Empty(t, writer.inserted)
}

func TestPaymentEscrowedRow(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	paidAt := time.Date(2026, 5, 16, 10, 30, 0, 0, time.UTC)
	event := payloads.TransactionEvent{
		TransactionID:    uuid.New(),
		PaymentReference: "TLP-8K2M4Q7W1Z3X",
		BuyerID:          uuid.New(),
		SellerID:         uuid.New(),
		Status:           enums.TransactionStatusInEscrow,
		AmountKobo:       500000,
		CommissionKobo:   15000,
		SellerShareKobo:  485000,
		GatewayFeeKobo:   7500,
		MatchTier:        enums.MatchTierChannelAmount,
		OccurredAt:       paidAt,
	}
	data, _ := json.Marshal(event)

	err := router.Handle(context.Background(), types.Envelope{
		EventID:    uuid.New(),
		EventType:  enums.EventPaymentEscrowed,
		OccurredAt: paidAt.Add(time.Minute),
		Payload:    data,
	})
	require.NoError(t, err)
	require.Len(t, writer.inserted, 1)

	row := writer.inserted[0]
	require.Equal(t, "payment_escrowed", row.EventType)
	require.Equal(t, paidAt, row.OccurredAt)
	require.Equal(t, "TLP-8K2M4Q7W1Z3X", *row.PaymentReference)
	require.EqualValues(t, 500000, *row.AmountKobo)
	require.EqualValues(t, 15000, *row.CommissionKobo)
	require.EqualValues(t, 485000, *row.SellerShareKobo)
	require.Equal(t, "channel_amount", *row.MatchTier)
	require.Nil(t, row.RefundRequestID)
	require.Nil(t, row.TransferReference)
	require.True(t, row.Payload.Valid)
}

func TestRefundRowsCarryAmountsOnlyWhenRefunded(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	base := payloads.RefundEvent{
		RefundRequestID: uuid.New(),
		TransactionID:   uuid.New(),
		GrossKobo:       500000,
		GatewayFeeKobo:  7500,
		NetKobo:         492500,
	}

	requested := base
	requested.Status = enums.RefundRequestStatusRequested
	refunded := base
	refunded.Status = enums.RefundRequestStatusRefunded

	for _, ev := range []struct {
		kind    enums.OutboxEventType
		payload payloads.RefundEvent
	}{
		{enums.EventRefundRequested, requested},
		{enums.EventRefundResolved, refunded},
	} {
		data, _ := json.Marshal(ev.payload)
		require.NoError(t, router.Handle(context.Background(), types.Envelope{EventID: uuid.New(), EventType: ev.kind, Payload: data}))
	}

	require.Len(t, writer.inserted, 2)
	require.Nil(t, writer.inserted[0].RefundNetKobo)
	require.NotNil(t, writer.inserted[1].RefundNetKobo)
	require.EqualValues(t, 492500, *writer.inserted[1].RefundNetKobo)
	require.Equal(t, base.RefundRequestID.String(), *writer.inserted[1].RefundRequestID)
}

func TestUnmatchedRow(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	data, _ := json.Marshal(payloads.UnmatchedPaymentEvent{
		UnmatchedEventID: uuid.New(),
		GatewayEventID:   "evt_889",
		Reason:           enums.UnmatchedReasonAmountMismatch,
		AmountKobo:       12000000,
		HighValue:        true,
	})

	err := router.Handle(context.Background(), types.Envelope{EventID: uuid.New(), EventType: enums.EventUnmatchedPaymentRecorded, Payload: data})
	require.NoError(t, err)
	require.Len(t, writer.inserted, 1)
	require.Nil(t, writer.inserted[0].TransactionID)
	require.Equal(t, string(enums.UnmatchedReasonAmountMismatch), *writer.inserted[0].Reason)
}

func TestWriterFailureSurfaces(t *testing.T) {
	router, writer := newTestRouter(t, nil)
	writer.err = errors.New("bigquery down")
	data, _ := json.Marshal(payloads.TransactionEvent{TransactionID: uuid.New()})

	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventPayoutCompleted, Payload: data})
	require.Error(t, err)
}

func newTestRouter(t *testing.T, overrides map[enums.OutboxEventType]Handler) (*Router, *fakeWriter) {
	t.Helper()
	writer := &fakeWriter{}
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), overrides)
	require.NoError(t, err)
	return router, writer
}

type stubHandler struct {
	called  bool
	payload any
}

func (s *stubHandler) Handle(_ context.Context, _ types.Envelope, payload any) error {
	s.called = true
	s.payload = payload
	return nil
}

type fakeWriter struct {
	inserted []types.SettlementEventRow
	err      error
}

func (f *fakeWriter) InsertSettlement(_ context.Context, row types.SettlementEventRow) error {
	if f.err == nil {
		f.inserted = append(f.inserted, row)
	}
	return f.err
}

func TestRouterCoversEverySettlementEvent(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	for _, event := range enums.OutboxEventTypes() {
		_, routed := router.routes[event]
		require.Equal(t, event.IsSettlementEvent(), routed, "event %s", event)
	}
}
