// Package registry knows, for every outbox event type, which aggregate it
// belongs to, which topic it is published on and what its payload decodes
// into.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

// ErrUndeliverable marks a row that will never publish no matter how often it
// is retried. The publisher dead-letters it straight away.
var ErrUndeliverable = errors.New("undeliverable outbox event")

// Undeliverable tags err with ErrUndeliverable.
func Undeliverable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUndeliverable, err)
}

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func(outbox.PayloadEnvelope) (any, error)
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

// describe binds an event type to payload type T.
func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		decode: func(env outbox.PayloadEnvelope) (any, error) {
			payload := new(T)
			if err := env.DecodeData(payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}
}

func settlementDescriptors() []EventDescriptor {
	return []EventDescriptor{
		describe[payloads.TransactionEvent](enums.EventPaymentEscrowed, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPaymentCancelled, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPayoutInitiated, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPayoutDeferred, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPayoutCompleted, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPayoutFailed, enums.AggregateTransaction),
		describe[payloads.TransactionEvent](enums.EventPayoutReversed, enums.AggregateTransaction),
		describe[payloads.RefundEvent](enums.EventRefundRequested, enums.AggregateRefundRequest),
		describe[payloads.RefundEvent](enums.EventRefundResolved, enums.AggregateRefundRequest),
		describe[payloads.UnmatchedPaymentEvent](enums.EventUnmatchedPaymentRecorded, enums.AggregateUnmatchedEvent),
		describe[payloads.ReceiptRequestedEvent](enums.EventReceiptRequested, enums.AggregateTransaction),
		describe[payloads.NotificationRequestedEvent](enums.EventNotificationRequested, enums.AggregateNotification),
	}
}

// NewEventRegistry routes every event type to the domain topic; consumers
// filter on the event_type attribute. It fails if an event type the outbox
// can carry has no descriptor.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.DomainTopic == "" {
		return nil, errors.New("domain topic is required")
	}
	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range settlementDescriptors() {
		desc.Topic = cfg.DomainTopic
		reg.routes[desc.EventType] = desc
	}
	for _, eventType := range enums.OutboxEventTypes() {
		if _, ok := reg.routes[eventType]; !ok {
			return nil, fmt.Errorf("no route for event type %s", eventType)
		}
	}
	return reg, nil
}

// Resolve validates the row against its descriptor and decodes the payload.
// Every failure is undeliverable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Undeliverable(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, Undeliverable(fmt.Errorf("aggregate mismatch: %s events belong to %s, row has %s", event.EventType, desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, Undeliverable(errors.New("missing aggregate_id"))
	}

	env, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Undeliverable(fmt.Errorf("%s: %w", event.EventType, err))
	}
	payload, err := desc.decode(env)
	if err != nil {
		return nil, Undeliverable(fmt.Errorf("%s: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
