package notifications

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

const (
	deliveryConsumer = "notification-delivery"
	// BadgeInteraction counts notifications received since the last read-all.
	BadgeInteraction = "unread_notifications"
)

type creator interface {
	Create(ctx context.Context, notification *models.Notification) (bool, error)
}

type userLookup interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type badgeCounter interface {
	Record(ctx context.Context, subjectID, interactionType string) (int64, error)
}

// Consumer stores requested notifications and pushes them to the user's device.
type Consumer struct {
	repo         creator
	users        userLookup
	pusher       Pusher
	badges       badgeCounter
	subscription *pubsub.Subscriber
	ledger       idempotency.Ledger
	logg         *logger.Logger
}

// NewConsumer builds the notification delivery consumer. badges may be nil.
func NewConsumer(repo creator, users userLookup, pusher Pusher, badges badgeCounter, subscription *pubsub.Subscriber, ledger idempotency.Ledger, logg *logger.Logger) (*Consumer, error) {
	switch {
	case repo == nil:
		return nil, errors.New("notifications repository required")
	case users == nil:
		return nil, errors.New("user lookup required")
	case pusher == nil:
		return nil, errors.New("pusher required")
	case subscription == nil:
		return nil, errors.New("notification subscription required")
	case ledger == nil:
		return nil, errors.New("idempotency ledger required")
	case logg == nil:
		return nil, errors.New("logger required")
	}
	return &Consumer{
		repo:         repo,
		users:        users,
		pusher:       pusher,
		badges:       badges,
		subscription: subscription,
		ledger:       ledger,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
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
	if attributes["event_type"] != string(enums.EventNotificationRequested) {
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

	out := idempotency.Once(ctx, c.ledger, deliveryConsumer, eventID, func(ctx context.Context) error {
		var payload payloads.NotificationRequestedEvent
		if err := envelope.DecodeData(&payload); err != nil {
			return idempotency.Permanent(err)
		}
		if payload.UserID == uuid.Nil {
			return idempotency.Permanent(errors.New("user id missing"))
		}
		logCtx = c.logg.WithFields(logCtx, map[string]any{
			"user_id":           payload.UserID.String(),
			"notification_type": payload.Type,
		})
		return c.deliver(ctx, logCtx, eventID, payload)
	})
	out.Report(logCtx, c.logg, "notification delivery")
	return out.Ack
}

// deliver persists first; a push failure never loses the in-app notification.
func (c *Consumer) deliver(ctx, logCtx context.Context, eventID uuid.UUID, payload payloads.NotificationRequestedEvent) error {
	notification := &models.Notification{
		ID:      eventID,
		UserID:  payload.UserID,
		Type:    payload.Type,
		Title:   payload.Title,
		Message: payload.Message,
		Link:    payload.Link,
	}
	created, err := c.repo.Create(ctx, notification)
	if err != nil {
		return err
	}
	if !created {
		c.logg.Info(logCtx, "notification already stored")
		return nil
	}

	var badge int64
	if c.badges != nil {
		if badge, err = c.badges.Record(ctx, payload.UserID.String(), BadgeInteraction); err != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "badge counter unavailable")
		}
	}

	user, err := c.users.FindByID(ctx, payload.UserID)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "push skipped, user lookup failed")
		return nil
	}
	if user.PushToken == nil {
		return nil
	}
	target, err := ParsePushTarget(*user.PushToken)
	if err != nil {
		if !errors.Is(err, ErrNoPushTarget) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid push token")
		}
		return nil
	}
	data := map[string]string{"notification_id": eventID.String(), "type": string(payload.Type)}
	for k, v := range payload.Data {
		data[k] = v
	}
	if payload.TransactionID != nil {
		data["transaction_id"] = payload.TransactionID.String()
	}
	if err := c.pusher.Push(ctx, target, PushMessage{Title: payload.Title, Body: payload.Message, Badge: badge, Data: data}); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "push delivery failed")
		return nil
	}
	c.logg.Info(logCtx, "notification delivered")
	return nil
}
