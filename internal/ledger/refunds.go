package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

// OutstandingRefundConstraint is the partial unique index allowing one open
// request per transaction.
const OutstandingRefundConstraint = "uq_refund_requests_outstanding"

type RefundRepository struct {
	db *gorm.DB
}

func NewRefundRepository(db *gorm.DB) *RefundRepository {
	return &RefundRepository{db: db}
}

func (r *RefundRepository) WithTx(tx *gorm.DB) *RefundRepository {
	if tx == nil {
		return r
	}
	return &RefundRepository{db: tx}
}

func (r *RefundRepository) Create(ctx context.Context, req *models.RefundRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *RefundRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// HasOutstanding reports whether an unresolved request exists for the transaction.
func (r *RefundRepository) HasOutstanding(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("transaction_id = ? AND status = ?", transactionID, enums.RefundRequestStatusRequested).
		Count(&count).Error
	return count > 0, err
}

// Resolve closes a request that is still outstanding. Returns 0 rows when a
// concurrent resolution won.
func (r *RefundRepository) Resolve(ctx context.Context, id uuid.UUID, status enums.RefundRequestStatus, fields map[string]any) (int64, error) {
	updates := map[string]any{"status": status, "updated_at": time.Now().UTC()}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ? AND status = ?", id, enums.RefundRequestStatusRequested).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// SetGatewayStatus records the outcome of a gateway refund attempt.
func (r *RefundRepository) SetGatewayStatus(ctx context.Context, id uuid.UUID, status enums.GatewayRefundStatus, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gateway_status":   status,
			"gateway_attempts": gorm.Expr("gateway_attempts + 1"),
			"last_error":       lastError,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// SetGatewayOutcome records a status reported by the gateway without
// counting it as one of our attempts.
func (r *RefundRepository) SetGatewayOutcome(ctx context.Context, id uuid.UUID, status enums.GatewayRefundStatus, lastError *string) error {
	return r.db.WithContext(ctx).
		Model(&models.RefundRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"gateway_status": status,
			"last_error":     lastError,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// FindApprovedByTransaction returns the approved request for a refunded transaction.
func (r *RefundRepository) FindApprovedByTransaction(ctx context.Context, transactionID uuid.UUID) (*models.RefundRequest, error) {
	var req models.RefundRequest
	err := r.db.WithContext(ctx).
		Where("transaction_id = ? AND status = ?", transactionID, enums.RefundRequestStatusRefunded).
		First(&req).Error
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListGatewayPending returns approved refunds whose gateway call has not gone through.
func (r *RefundRepository) ListGatewayPending(ctx context.Context, maxAttempts, limit int) ([]models.RefundRequest, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND gateway_status = ?", enums.RefundRequestStatusRefunded, enums.GatewayRefundStatusPending)
	if maxAttempts > 0 {
		query = query.Where("gateway_attempts < ?", maxAttempts)
	}
	var rows []models.RefundRequest
	err := query.Order("updated_at ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

type RefundListParams struct {
	Status *enums.RefundRequestStatus
	Limit  int
	Cursor *pagination.Cursor
}

func (r *RefundRepository) List(ctx context.Context, params RefundListParams) ([]models.RefundRequest, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.RefundRequest{})
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	var rows []models.RefundRequest
	if err := pagination.Keyset(query, params.Limit, params.Cursor).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(row models.RefundRequest) pagination.Cursor {
		return pagination.Cursor{CreatedAt: row.CreatedAt, ID: row.ID}
	})
	return rows, next, nil
}
