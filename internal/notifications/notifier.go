package notifications

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

// Payload is the user-facing content of one notification.
type Payload struct {
	Title         string
	Message       string
	Link          *string
	TransactionID *uuid.UUID
	Data          map[string]string
}

// Notifier queues notifications through the outbox so they commit together
// with the state change that caused them. Delivery happens in the worker.
type Notifier struct {
	emitter outbox.Emitter
}

func NewNotifier(emitter outbox.Emitter) *Notifier {
	return &Notifier{emitter: emitter}
}

func (n *Notifier) Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, notificationType enums.NotificationType, payload Payload) error {
	if n == nil || n.emitter == nil {
		return errors.New("notifier not configured")
	}
	if userID == uuid.Nil {
		return errors.New("notification user required")
	}
	if !notificationType.IsValid() {
		return errors.New("unknown notification type " + string(notificationType))
	}
	return n.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventNotificationRequested,
		AggregateType: enums.AggregateNotification,
		AggregateID:   userID,
		Data: payloads.NotificationRequestedEvent{
			UserID:        userID,
			Type:          notificationType,
			Title:         payload.Title,
			Message:       payload.Message,
			Link:          payload.Link,
			TransactionID: payload.TransactionID,
			Data:          payload.Data,
		},
	})
}
