package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

const defaultDLQListed = 50

// ErrDeadLetterNotFound is returned when replaying an event that is not in
// the DLQ.
var ErrDeadLetterNotFound = errors.New("dead-lettered event not found")

// DLQRepository stores events the publisher gave up on and lets an operator
// send them back through the outbox.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ErrorMessage != nil {
		entry.SetErrorMessage(*entry.ErrorMessage)
	}
	return tx.Create(&entry).Error
}

// List returns the most recent dead letters first, optionally only those
// with the given reason.
func (r *DLQRepository) List(ctx context.Context, limit int, reason enums.OutboxDLQErrorReason) ([]models.OutboxDLQ, error) {
	if limit <= 0 {
		limit = defaultDLQListed
	}
	query := r.db.WithContext(ctx)
	if reason != "" {
		query = query.Where("error_reason = ?", reason)
	}
	var rows []models.OutboxDLQ
	err := query.
		Order("failed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Replay puts a dead-lettered event back in the publisher's queue with a
// fresh attempt budget and removes it from the DLQ. The outbox row may
// already have been purged by the cleanup job, so it is recreated from the
// DLQ copy under the original id; consumers dedupe on that id.
func (r *DLQRepository) Replay(ctx context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	var entry models.OutboxDLQ
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", eventID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDeadLetterNotFound
			}
			return fmt.Errorf("load dead letter: %w", err)
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ?", eventID).
			Updates(map[string]any{
				"published_at":  nil,
				"last_error":    nil,
				"attempt_count": 0,
			})
		if res.Error != nil {
			return fmt.Errorf("requeue outbox event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			restored := entry.Requeued(time.Now())
			if err := tx.Create(&restored).Error; err != nil {
				return fmt.Errorf("restore outbox event: %w", err)
			}
		}

		if err := tx.Delete(&models.OutboxDLQ{}, "id = ?", entry.ID).Error; err != nil {
			return fmt.Errorf("remove dead letter: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
