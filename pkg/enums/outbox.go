package enums

import "slices"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateTransaction    OutboxAggregateType = "transaction"
	AggregateRefundRequest  OutboxAggregateType = "refund_request"
	AggregateUnmatchedEvent OutboxAggregateType = "unmatched_event"
	AggregateNotification   OutboxAggregateType = "notification"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateTransaction,
	AggregateRefundRequest,
	AggregateUnmatchedEvent,
	AggregateNotification,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return slices.Contains(validAggregateTypes, a)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, validAggregateTypes)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentEscrowed          OutboxEventType = "payment_escrowed"
	EventPaymentCancelled         OutboxEventType = "payment_cancelled"
	EventPayoutInitiated          OutboxEventType = "payout_initiated"
	EventPayoutDeferred           OutboxEventType = "payout_deferred"
	EventPayoutCompleted          OutboxEventType = "payout_completed"
	EventPayoutFailed             OutboxEventType = "payout_failed"
	EventPayoutReversed           OutboxEventType = "payout_reversed"
	EventRefundRequested          OutboxEventType = "refund_requested"
	EventRefundResolved           OutboxEventType = "refund_resolved"
	EventUnmatchedPaymentRecorded OutboxEventType = "unmatched_payment_recorded"
	EventReceiptRequested         OutboxEventType = "receipt_requested"
	EventNotificationRequested    OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentEscrowed,
	EventPaymentCancelled,
	EventPayoutInitiated,
	EventPayoutDeferred,
	EventPayoutCompleted,
	EventPayoutFailed,
	EventPayoutReversed,
	EventRefundRequested,
	EventRefundResolved,
	EventUnmatchedPaymentRecorded,
	EventReceiptRequested,
	EventNotificationRequested,
}

// OutboxEventTypes lists every event the outbox can carry.
func OutboxEventTypes() []OutboxEventType {
	return slices.Clone(validOutboxEventTypes)
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return slices.Contains(validOutboxEventTypes, e)
}

// IsSettlementEvent reports whether the event describes a money movement
// that analytics should record.
func (e OutboxEventType) IsSettlementEvent() bool {
	switch e {
	case EventReceiptRequested, EventNotificationRequested:
		return false
	default:
		return e.IsValid()
	}
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, validOutboxEventTypes)
}
