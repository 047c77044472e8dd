package router

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/tradeline-backend/internal/analytics"
	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/tradeline-backend/internal/analytics/writer"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

type transactionHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newTransactionHandler(writer Writer, logg *logger.Logger) Handler {
	return &transactionHandler{writer: writer, logg: logg}
}

func (h *transactionHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.TransactionEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":     envelope.EventType,
		"transaction_id": event.TransactionID,
		"status":         event.Status,
	})

	row, err := baseRow(envelope, event.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build settlement row", err)
		return err
	}
	row.TransactionID = idColumn(event.TransactionID)
	row.PaymentReference = textColumn(event.PaymentReference)
	row.BuyerID = idColumn(event.BuyerID)
	row.SellerID = idColumn(event.SellerID)
	row.Status = textColumn(event.Status)
	row.AmountKobo = koboColumn(event.AmountKobo)
	row.CommissionKobo = koboColumn(event.CommissionKobo)
	row.SellerShareKobo = koboColumn(event.SellerShareKobo)
	row.GatewayFeeKobo = koboColumn(event.GatewayFeeKobo)
	row.MatchTier = textColumn(event.MatchTier)
	row.TransferReference = textColumn(event.TransferReference)
	row.Reason = textColumn(event.Reason)

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement row", err)
		return err
	}
	return nil
}

type refundHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newRefundHandler(writer Writer, logg *logger.Logger) Handler {
	return &refundHandler{writer: writer, logg: logg}
}

func (h *refundHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.RefundEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":        envelope.EventType,
		"refund_request_id": event.RefundRequestID,
		"status":            event.Status,
	})

	row, err := baseRow(envelope, event.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build settlement row", err)
		return err
	}
	row.TransactionID = idColumn(event.TransactionID)
	row.RefundRequestID = idColumn(event.RefundRequestID)
	row.PaymentReference = textColumn(event.PaymentReference)
	row.BuyerID = idColumn(event.BuyerID)
	row.SellerID = idColumn(event.SellerID)
	row.Status = textColumn(event.Status)
	row.Reason = textColumn(event.Reason)
	// Only an approved refund moves money; requests and denials carry no amounts.
	if event.Status == enums.RefundRequestStatusRefunded {
		row.AmountKobo = koboColumn(event.GrossKobo)
		row.GatewayFeeKobo = koboColumn(event.GatewayFeeKobo)
		row.RefundNetKobo = koboColumn(event.NetKobo)
	}

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement row", err)
		return err
	}
	return nil
}

type unmatchedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newUnmatchedHandler(writer Writer, logg *logger.Logger) Handler {
	return &unmatchedHandler{writer: writer, logg: logg}
}

func (h *unmatchedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.UnmatchedPaymentEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":       envelope.EventType,
		"gateway_event_id": event.GatewayEventID,
		"reason":           event.Reason,
	})

	row, err := baseRow(envelope, event.OccurredAt, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build settlement row", err)
		return err
	}
	row.PaymentReference = textColumn(event.Reference)
	row.AmountKobo = koboColumn(event.AmountKobo)
	row.Reason = textColumn(event.Reason)
	if event.HighValue {
		h.logg.Warn(logCtx, "high value unmatched payment recorded")
	}

	if err := h.writer.InsertSettlement(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement row", err)
		return err
	}
	return nil
}

func baseRow(envelope types.Envelope, payloadAt time.Time, payload any) (types.SettlementEventRow, error) {
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.SettlementEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.SettlementEventRow{
		EventID:    envelope.EventID.String(),
		EventType:  string(envelope.EventType),
		OccurredAt: analytics.EventTimestamp(payloadAt, envelope.OccurredAt, time.Now()),
		Payload:    payloadJSON,
	}, nil
}
