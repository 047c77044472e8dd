package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertSettlement(ctx context.Context, row types.SettlementEventRow) error
}

// Handler receives an envelope plus its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(types.Envelope) (any, error)
	handler Handler
}

func routeTo[T any](h Handler) route {
	return route{
		decode: func(env types.Envelope) (any, error) {
			payload := new(T)
			if err := env.Decode(payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		handler: h,
	}
}

// Router dispatches settlement envelopes by event type.
type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter wires the row builders for every settlement event. overrides
// replace the handler of an already routed event and keep its decoder.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	switch {
	case writer == nil:
		return nil, errors.New("writer is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}

	transaction := routeTo[payloads.TransactionEvent](newTransactionHandler(writer, logg))
	refund := routeTo[payloads.RefundEvent](newRefundHandler(writer, logg))
	routes := map[enums.OutboxEventType]route{
		enums.EventPaymentEscrowed:          transaction,
		enums.EventPaymentCancelled:         transaction,
		enums.EventPayoutInitiated:          transaction,
		enums.EventPayoutDeferred:           transaction,
		enums.EventPayoutCompleted:          transaction,
		enums.EventPayoutFailed:             transaction,
		enums.EventPayoutReversed:           transaction,
		enums.EventRefundRequested:          refund,
		enums.EventRefundResolved:           refund,
		enums.EventUnmatchedPaymentRecorded: routeTo[payloads.UnmatchedPaymentEvent](newUnmatchedHandler(writer, logg)),
	}
	for _, event := range enums.OutboxEventTypes() {
		if _, ok := routes[event]; event.IsSettlementEvent() && !ok {
			return nil, fmt.Errorf("settlement event %s has no analytics route", event)
		}
	}

	for event, custom := range overrides {
		if r, ok := routes[event]; ok && custom != nil {
			r.handler = custom
			routes[event] = r
		}
	}
	return &Router{routes: routes}, nil
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	payload, err := rt.decode(envelope)
	if err != nil {
		return err
	}
	return rt.handler.Handle(ctx, envelope, payload)
}
