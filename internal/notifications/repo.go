package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

// Repository persists in-app notifications. Every read and write except the
// retention purge is scoped to one recipient.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) inbox(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

// Create inserts the notification unless one with the same id exists. The
// worker uses the outbox event id, so a redelivered event stores nothing.
func (r *Repository) Create(ctx context.Context, n *models.Notification) (bool, error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	return res.RowsAffected > 0, res.Error
}

// Page returns one newest-first page of the user's inbox and the cursor of
// the next page.
func (r *Repository) Page(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int, after *pagination.Cursor) ([]models.Notification, *pagination.Cursor, error) {
	query := r.inbox(ctx, userID)
	if unreadOnly {
		query = query.Where("read_at IS NULL")
	}
	var rows []models.Notification
	if err := pagination.Keyset(query, limit, after).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return rows, next, nil
}

// MarkRead stamps read_at once; reading an already read notification is a
// no-op. It reports false when the user has no such notification.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error) {
	var current models.Notification
	err := r.inbox(ctx, userID).Select("id", "read_at").Where("id = ?", id).Take(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	case err != nil:
		return false, err
	case current.ReadAt != nil:
		return true, nil
	}
	return true, r.inbox(ctx, userID).Where("id = ? AND read_at IS NULL", id).UpdateColumn("read_at", at).Error
}

func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.inbox(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore purges up to limit notifications read before cutoff,
// oldest first. Unread notifications are never purged.
func (r *Repository) DeleteReadBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	oldest := r.db.Model(&models.Notification{}).
		Select("id").
		Where("read_at IS NOT NULL AND read_at < ?", cutoff).
		Order("read_at").
		Limit(limit)
	res := r.db.WithContext(ctx).Where("id IN (?)", oldest).Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
