package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/router"
	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/idempotency"
)

const analyticsConsumerName = "settlement-analytics"

// errNotSettlementEvent marks envelopes that share the domain topic but are not analytics input.
var errNotSettlementEvent = errors.New("not a settlement event")

// Handler defines how to process analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

// Handle calls the underlying function.
func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

// Service consumes settlement events from Pub/Sub, handling each event once
// per the Redis claim ledger.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	ledger       idempotency.Ledger
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, ledger idempotency.Ledger, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case ledger == nil:
		return nil, errors.New("idempotency ledger is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{subscription: subscription, handler: handler, ledger: ledger, logg: logg}, nil
}

// Run consumes until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		if s.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether msg should be acked. Envelopes that cannot be
// parsed ack straight away since redelivery cannot fix them.
func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) bool {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := s.buildEnvelope(msg)
	switch {
	case errors.Is(err, errNotSettlementEvent):
		return true
	case err != nil:
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return true
	}
	logCtx = s.logg.WithFields(logCtx, envelope.LogFields())

	out := idempotency.Once(logCtx, s.ledger, analyticsConsumerName, envelope.EventID, func(ctx context.Context) error {
		err := s.handler.Handle(ctx, *envelope)
		if errors.Is(err, router.ErrUnsupportedEventType) {
			return idempotency.Permanent(err)
		}
		return err
	})
	out.Report(logCtx, s.logg, "settlement event recording")
	return out.Ack
}

func (s *Service) buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	attr := func(name string) string { return strings.TrimSpace(msg.Attributes[name]) }
	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	if !eventType.IsSettlementEvent() {
		return nil, errNotSettlementEvent
	}

	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}

	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID, err := uuid.Parse(attr("aggregate_id"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_id: %w", err)
	}

	// the publisher mirrors event_id and created_at into attributes; older
	// envelopes may lack them in the body
	if strings.TrimSpace(stored.EventID) == "" {
		stored.EventID = attr("event_id")
	}
	eventID, err := stored.ID()
	if err != nil {
		return nil, err
	}
	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
