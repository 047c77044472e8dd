package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

var ErrEmptyPayload = errors.New("analytics envelope has no payload")

// Envelope is one settlement event as the analytics pipeline sees it: the
// outbox envelope joined with the routing attributes of its Pub/Sub message.
type Envelope struct {
	EventID       uuid.UUID
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	OccurredAt    time.Time
	Payload       json.RawMessage
}

// Decode unmarshals the event payload into dest.
func (e Envelope) Decode(dest any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyPayload, e.EventType)
	}
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}

func (e Envelope) LogFields() map[string]any {
	return map[string]any{
		"event_id":       e.EventID.String(),
		"event_type":     e.EventType,
		"aggregate_type": e.AggregateType,
		"aggregate_id":   e.AggregateID.String(),
		"occurred_at":    e.OccurredAt.Format(time.RFC3339Nano),
	}
}
