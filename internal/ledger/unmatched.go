package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

type UnmatchedRepository struct {
	db *gorm.DB
}

func NewUnmatchedRepository(db *gorm.DB) *UnmatchedRepository {
	return &UnmatchedRepository{db: db}
}

func (r *UnmatchedRepository) WithTx(tx *gorm.DB) *UnmatchedRepository {
	if tx == nil {
		return r
	}
	return &UnmatchedRepository{db: tx}
}

// Record stores the event once per (gateway_event_id, reason). created is
// false when a replay found the row already there.
func (r *UnmatchedRepository) Record(ctx context.Context, event *models.UnmatchedEvent) (bool, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *UnmatchedRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.UnmatchedEvent, error) {
	var event models.UnmatchedEvent
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkResolved links an open event to the transaction it was assigned to.
func (r *UnmatchedRepository) MarkResolved(ctx context.Context, id, transactionID, adminID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.UnmatchedEvent{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Updates(map[string]any{
			"resolved_transaction_id": transactionID,
			"resolved_by":             adminID,
			"resolved_at":             time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

type UnmatchedListParams struct {
	OpenOnly bool
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *UnmatchedRepository) List(ctx context.Context, params UnmatchedListParams) ([]models.UnmatchedEvent, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.UnmatchedEvent{})
	if params.OpenOnly {
		query = query.Where("resolved_at IS NULL")
	}
	var rows []models.UnmatchedEvent
	if err := pagination.Keyset(query, params.Limit, params.Cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.UnmatchedEvent) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}
