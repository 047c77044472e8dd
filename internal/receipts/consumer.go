package receipts

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

const receiptConsumer = "receipt-generator"

type deliverer interface {
	GenerateAndDeliver(ctx context.Context, details Details) (string, error)
}

// Consumer turns receipt_requested events into stored receipts. Failures nack
// so Pub/Sub redelivers later.
type Consumer struct {
	generator    deliverer
	subscription *pubsub.Subscriber
	ledger       idempotency.Ledger
	logg         *logger.Logger
}

func NewConsumer(generator deliverer, subscription *pubsub.Subscriber, ledger idempotency.Ledger, logg *logger.Logger) (*Consumer, error) {
	switch {
	case generator == nil:
		return nil, errors.New("receipt generator required")
	case subscription == nil:
		return nil, errors.New("receipt subscription required")
	case ledger == nil:
		return nil, errors.New("idempotency ledger required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{generator: generator, subscription: subscription, ledger: ledger, logg: logg}, nil
}

// Run blocks until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID string, attributes map[string]string, data []byte) bool {
	if attributes["event_type"] != string(enums.EventReceiptRequested) {
		return true
	}
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": attributes["event_type"],
	})

	envelope, err := outbox.DecodeEnvelope(data)
	if err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return true
	}
	eventID, err := envelope.ID()
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return true
	}
	var payload payloads.ReceiptRequestedEvent
	if err := envelope.DecodeData(&payload); err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return true
	}

	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"transaction_id":    payload.TransactionID.String(),
		"payment_reference": payload.PaymentReference,
	})
	details := Details{
		TransactionID:    payload.TransactionID,
		PaymentReference: payload.PaymentReference,
		ProductTitle:     payload.ProductTitle,
		BuyerName:        payload.BuyerName,
		BuyerEmail:       payload.BuyerEmail,
		SellerName:       payload.SellerName,
		AmountKobo:       payload.AmountKobo,
		PaidAt:           payload.PaidAt,
	}
	out := idempotency.Once(ctx, c.ledger, receiptConsumer, eventID, func(ctx context.Context) error {
		_, err := c.generator.GenerateAndDeliver(ctx, details)
		if err != nil && !pkgerrors.Retryable(err) {
			return idempotency.Permanent(err)
		}
		return err
	})
	out.Report(logCtx, c.logg, "receipt delivery")
	return out.Ack
}
