package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

// Service is the inbox API behind the notification routes.
type Service interface {
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type inboxStore interface {
	Page(ctx context.Context, userID uuid.UUID, unreadOnly bool, limit int, after *pagination.Cursor) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
}

type badgeResetter interface {
	Reset(ctx context.Context, subjectID, interactionType string) error
}

type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

type inbox struct {
	store  inboxStore
	badges badgeResetter
	now    func() time.Time
}

// NewService wires the inbox. badges may be nil.
func NewService(store inboxStore, badges badgeResetter) (Service, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &inbox{store: store, badges: badges, now: func() time.Time { return time.Now().UTC() }}, nil
}

func requireID(id uuid.UUID, what string) error {
	if id == uuid.Nil {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "%s id required", what)
	}
	return nil
}

func (s *inbox) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := requireID(params.UserID, "user"); err != nil {
		return nil, err
	}
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, next, err := s.store.Page(ctx, params.UserID, params.UnreadOnly, params.Limit, after)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	return &ListResult{Items: rows, Cursor: pagination.NextCursor(next)}, nil
}

func (s *inbox) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if err := requireID(userID, "user"); err != nil {
		return err
	}
	if err := requireID(notificationID, "notification"); err != nil {
		return err
	}
	found, err := s.store.MarkRead(ctx, userID, notificationID, s.now())
	switch {
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	case !found:
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

// MarkAllRead also clears the unread badge; a stale badge is cosmetic, so a
// reset failure does not fail the call.
func (s *inbox) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := requireID(userID, "user"); err != nil {
		return 0, err
	}
	count, err := s.store.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	if s.badges != nil {
		_ = s.badges.Reset(ctx, userID.String(), BadgeInteraction)
	}
	return count, nil
}
