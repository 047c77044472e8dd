package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelope(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)
	txID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPaymentEscrowed,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txID,
			Data:          payloads.TransactionEvent{TransactionID: txID, PaymentReference: "TLP-AAAAAAAAAAAA", AmountKobo: 500000},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.Equal(t, 1, envelope.Version)

	var data payloads.TransactionEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "TLP-AAAAAAAAAAAA", data.PaymentReference)
}

func TestEmitRollsBackWithCaller(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventPayoutCompleted,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   uuid.New(),
			Data:          map[string]string{},
		}))
		return assert.AnError
	})

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitKeepsCallerTimestampAndActor(t *testing.T) {
	occurred := time.Date(2026, 5, 16, 10, 30, 0, 0, time.UTC)
	actor := &ActorRef{UserID: uuid.New(), Role: enums.UserRoleAdmin}
	row, err := newRow(DomainEvent{
		EventType:     enums.EventRefundResolved,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   uuid.New(),
		Actor:         actor,
		OccurredAt:    occurred,
		Data:          payloads.RefundEvent{},
	}, time.Now())
	require.NoError(t, err)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.True(t, envelope.OccurredAt.Equal(occurred))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, actor.UserID, envelope.Actor.UserID)
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	db := dbtest.Open(t)
	svc := NewService(NewRepository(db), nil)

	err := svc.Emit(context.Background(), db, DomainEvent{EventType: "nope", AggregateID: uuid.New()})
	assert.Error(t, err)

	err = svc.Emit(context.Background(), db, DomainEvent{EventType: enums.EventPayoutFailed, AggregateType: enums.AggregateTransaction})
	assert.ErrorContains(t, err, "aggregate id required")

	err = svc.Emit(context.Background(), db, DomainEvent{EventType: enums.EventPayoutFailed, AggregateType: "wallet", AggregateID: uuid.New()})
	assert.ErrorContains(t, err, "unknown aggregate type")

	assert.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
}
