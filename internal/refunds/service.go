// Package refunds handles buyer refund requests and their admin resolution,
// including the gateway refund of collected funds.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	dbpkg "github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const (
	defaultGatewayTimeout = 15 * time.Second
	defaultMaxAttempts    = 5
	maxReasonLength       = 1000
)

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

func ParseDecision(value string) (Decision, error) {
	switch Decision(strings.ToLower(strings.TrimSpace(value))) {
	case DecisionApprove:
		return DecisionApprove, nil
	case DecisionDeny:
		return DecisionDeny, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "decision must be approve or deny")
}

type gateway interface {
	Refund(ctx context.Context, req paystack.RefundRequest) (*paystack.Refund, error)
}

type refunder interface {
	Refund(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, note string) (*models.Transaction, error)
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, notificationType enums.NotificationType, payload notifications.Payload) error
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Options struct {
	GatewayTimeout time.Duration
	// MaxGatewayAttempts bounds the refund-retry job per request.
	MaxGatewayAttempts int
}

type Service struct {
	db       dbClient
	store    *ledger.Store
	gateway  gateway
	machine  refunder
	emitter  outbox.Emitter
	notifier notifier
	logg     *logger.Logger
	opts     Options
	now      func() time.Time
}

func NewService(db dbClient, store *ledger.Store, gw gateway, machine refunder, emitter outbox.Emitter, notifier notifier, logg *logger.Logger, opts Options) (*Service, error) {
	if db == nil || store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger required")
	}
	if gw == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	}
	if machine == nil || emitter == nil || notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow machine, emitter and notifier required")
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if opts.MaxGatewayAttempts <= 0 {
		opts.MaxGatewayAttempts = defaultMaxAttempts
	}
	return &Service{
		db:       db,
		store:    store,
		gateway:  gw,
		machine:  machine,
		emitter:  emitter,
		notifier: notifier,
		logg:     logg,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// RequestRefund opens a refund request for the buyer of a transaction that
// has not moved past escrow.
func (s *Service) RequestRefund(ctx context.Context, txID, buyerID uuid.UUID, reason string) (*models.RefundRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is required")
	}
	if len(reason) > maxReasonLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reason is too long")
	}
	txn, err := s.store.Transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if txn.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can request a refund")
	}
	if txn.Status != enums.TransactionStatusAwaitingPayment && txn.Status != enums.TransactionStatusInEscrow {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refunds can only be requested before delivery is confirmed").
			WithDetails(map[string]any{"status": txn.Status})
	}

	req := &models.RefundRequest{
		TransactionID: txn.ID,
		BuyerID:       buyerID,
		Reason:        reason,
		Status:        enums.RefundRequestStatusRequested,
		GatewayStatus: enums.GatewayRefundStatusNotRequired,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.store.Refunds.WithTx(tx).Create(ctx, req); err != nil {
			if dbpkg.IsUniqueViolation(err, ledger.OutstandingRefundConstraint) {
				return pkgerrors.New(pkgerrors.CodeConflict, "a refund request is already pending for this transaction")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
		}
		return s.emit(ctx, tx, enums.EventRefundRequested, req, txn)
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.withFields(ctx, req, txn), "refund requested")
	return req, nil
}

// ResolveRefund approves or denies an outstanding request. Approval claims
// the transaction before any money moves, so it loses cleanly to a payout
// that started first.
func (s *Service) ResolveRefund(ctx context.Context, requestID uuid.UUID, decision Decision, adminID uuid.UUID, note string) (*models.RefundRequest, error) {
	req, err := s.store.Refunds.FindByID(ctx, requestID)
	if err != nil {
		return nil, notFoundOr(err, "refund request not found", "load refund request")
	}
	if req.Status != enums.RefundRequestStatusRequested {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund request already resolved").
			WithDetails(map[string]any{"status": req.Status})
	}
	txn, err := s.store.Transactions.FindByID(ctx, req.TransactionID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	ctx = s.withFields(ctx, req, txn)

	switch decision {
	case DecisionDeny:
		return s.deny(ctx, req, txn, adminID, note)
	case DecisionApprove:
		return s.approve(ctx, req, txn, adminID, note)
	}
	return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be approve or deny")
}

func (s *Service) deny(ctx context.Context, req *models.RefundRequest, txn *models.Transaction, adminID uuid.UUID, note string) (*models.RefundRequest, error) {
	now := s.now()
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.resolve(ctx, tx, req, enums.RefundRequestStatusRejected, adminID, note, now, nil); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventRefundResolved, req, txn); err != nil {
			return err
		}
		txID := txn.ID
		return s.notify(ctx, tx, req.BuyerID, enums.NotificationTypeRefundRejected, notifications.Payload{
			Title:         "Refund request declined",
			Message:       declineMessage(txn.PaymentReference, note),
			TransactionID: &txID,
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "refund denied")
	return req, nil
}

func (s *Service) approve(ctx context.Context, req *models.RefundRequest, txn *models.Transaction, adminID uuid.UUID, note string) (*models.RefundRequest, error) {
	collected := txn.Status == enums.TransactionStatusInEscrow
	var amounts map[string]any
	if collected {
		amounts = map[string]any{
			"gross_kobo":       txn.AmountKobo,
			"gateway_fee_kobo": txn.GatewayFeeKobo,
			"net_kobo":         txn.AmountKobo - txn.GatewayFeeKobo,
			"gateway_status":   enums.GatewayRefundStatusPending,
		}
	}

	now := s.now()
	var refunded *models.Transaction
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		refunded, err = s.machine.Refund(ctx, tx, txn, escrow.ActorUser(enums.UserRoleAdmin, adminID), "refund request "+req.ID.String())
		if err != nil {
			if errors.Is(err, escrow.ErrAlreadyApplied) || pkgerrors.IsCode(err, pkgerrors.CodeConflict) || pkgerrors.IsCode(err, pkgerrors.CodeInvariantViolation) {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction can no longer be refunded").
					WithDetails(map[string]any{"status": statusOf(refunded, txn)})
			}
			return err
		}
		if err := s.resolve(ctx, tx, req, enums.RefundRequestStatusRefunded, adminID, note, now, amounts); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, enums.EventRefundResolved, req, refunded); err != nil {
			return err
		}
		txID := txn.ID
		return s.notify(ctx, tx, req.BuyerID, enums.NotificationTypeRefundApproved, notifications.Payload{
			Title:         "Refund approved",
			Message:       approvalMessage(txn.PaymentReference, req.NetKobo, collected),
			TransactionID: &txID,
			Data:          map[string]string{"net_amount": money.FormatNaira(req.NetKobo)},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "refund approved")

	if collected {
		if err := s.submitGatewayRefund(ctx, req, refunded); err != nil {
			// the request stays pending for the refund-retry job
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "gateway refund deferred")
		}
	}
	return req, nil
}

func (s *Service) resolve(ctx context.Context, tx *gorm.DB, req *models.RefundRequest, status enums.RefundRequestStatus, adminID uuid.UUID, note string, at time.Time, extra map[string]any) error {
	fields := map[string]any{"resolved_by": adminID, "resolved_at": at}
	var notePtr *string
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		notePtr = &trimmed
		fields["resolution_note"] = trimmed
	}
	for k, v := range extra {
		fields[k] = v
	}
	rows, err := s.store.Refunds.WithTx(tx).Resolve(ctx, req.ID, status, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve refund request")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "refund request was resolved concurrently")
	}
	req.Status = status
	req.ResolvedBy = &adminID
	req.ResolvedAt = &at
	req.ResolutionNote = notePtr
	if extra != nil {
		req.GrossKobo = extra["gross_kobo"].(int64)
		req.GatewayFeeKobo = extra["gateway_fee_kobo"].(int64)
		req.NetKobo = extra["net_kobo"].(int64)
		req.GatewayStatus = enums.GatewayRefundStatusPending
	}
	return nil
}

// submitGatewayRefund asks the gateway to return the net amount. A repeat
// after an unclear failure is safe: the gateway refuses a second refund of
// the same charge, which is read as success.
func (s *Service) submitGatewayRefund(ctx context.Context, req *models.RefundRequest, txn *models.Transaction) error {
	reference := txn.PaymentReference
	if txn.GatewayReference != nil && *txn.GatewayReference != "" {
		reference = *txn.GatewayReference
	}
	callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
	_, callErr := s.gateway.Refund(callCtx, paystack.RefundRequest{
		TransactionReference: reference,
		AmountKobo:           req.NetKobo,
		MerchantNote:         "Tradeline refund " + txn.PaymentReference,
	})
	cancel()

	status := enums.GatewayRefundStatusProcessed
	var lastErr *string
	switch {
	case callErr == nil, paystack.IsAlreadyRefunded(callErr):
	case paystack.IsRejected(callErr):
		status = enums.GatewayRefundStatusFailed
		msg := callErr.Error()
		lastErr = &msg
	default:
		status = enums.GatewayRefundStatusPending
		msg := callErr.Error()
		lastErr = &msg
	}
	if err := s.store.Refunds.SetGatewayStatus(ctx, req.ID, status, lastErr); err != nil {
		return multierr.Append(callErr, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record gateway refund"))
	}
	req.GatewayStatus = status
	req.GatewayAttempts++
	req.LastError = lastErr
	if status == enums.GatewayRefundStatusFailed {
		s.logg.Error(ctx, "gateway refused refund", callErr)
		return nil
	}
	if status == enums.GatewayRefundStatusPending {
		return callErr
	}
	return nil
}

// RetryPendingGatewayRefunds resubmits approved refunds whose gateway call
// did not go through. It returns how many were accepted.
func (s *Service) RetryPendingGatewayRefunds(ctx context.Context, limit int) (int, error) {
	rows, err := s.store.Refunds.ListGatewayPending(ctx, s.opts.MaxGatewayAttempts, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending gateway refunds")
	}
	var (
		errs     error
		accepted int
	)
	for i := range rows {
		req := &rows[i]
		txn, err := s.store.Transactions.FindByID(ctx, req.TransactionID)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", req.ID, err))
			continue
		}
		if err := s.submitGatewayRefund(s.withFields(ctx, req, txn), req, txn); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", req.ID, err))
			continue
		}
		if req.GatewayStatus == enums.GatewayRefundStatusProcessed {
			accepted++
		}
	}
	return accepted, errs
}

// HandleRefundEvent applies a refund.* webhook to the approved request of
// the refunded charge. Events for charges we never refunded are ignored.
func (s *Service) HandleRefundEvent(ctx context.Context, eventType string, event *paystack.RefundEvent) error {
	txn, err := s.store.Transactions.FindByGatewayReference(ctx, event.TransactionReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithField(ctx, "gateway_reference", event.TransactionReference), "refund event for unknown charge")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	req, err := s.store.Refunds.FindApprovedByTransaction(ctx, txn.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logg.Warn(s.logg.WithTransactionID(ctx, txn.ID.String()), "refund event without an approved request")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	ctx = s.withFields(ctx, req, txn)

	status := enums.GatewayRefundStatusProcessed
	var lastErr *string
	if eventType == paystack.EventRefundFailed || strings.EqualFold(event.Status, paystack.RefundStatusFailed) {
		status = enums.GatewayRefundStatusFailed
		msg := "gateway reported refund failed"
		lastErr = &msg
	}
	if err := s.store.Refunds.SetGatewayOutcome(ctx, req.ID, status, lastErr); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund outcome")
	}
	if status == enums.GatewayRefundStatusFailed {
		s.logg.Error(ctx, "gateway refund failed", nil)
	} else {
		s.logg.Info(ctx, "gateway refund processed")
	}
	return nil
}

// RefundPage is one page of refund requests.
type RefundPage struct {
	Items  []models.RefundRequest `json:"items"`
	Cursor string                 `json:"cursor"`
}

// ListPending pages through outstanding requests for the admin queue.
func (s *Service) ListPending(ctx context.Context, params pagination.Params) (*RefundPage, error) {
	status := enums.RefundRequestStatusRequested
	query := ledger.RefundListParams{Status: &status, Limit: params.Limit}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor
	rows, next, err := s.store.Refunds.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund requests")
	}
	return &RefundPage{Items: rows, Cursor: pagination.NextCursor(next)}, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, req *models.RefundRequest, txn *models.Transaction) error {
	occurred := s.now()
	err := s.emitter.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   req.ID,
		OccurredAt:    occurred,
		Data: payloads.RefundEvent{
			RefundRequestID:  req.ID,
			TransactionID:    txn.ID,
			PaymentReference: txn.PaymentReference,
			BuyerID:          txn.BuyerID,
			SellerID:         txn.SellerID,
			Status:           req.Status,
			GatewayStatus:    req.GatewayStatus,
			GrossKobo:        req.GrossKobo,
			GatewayFeeKobo:   req.GatewayFeeKobo,
			NetKobo:          req.NetKobo,
			Reason:           req.Reason,
			ResolvedBy:       req.ResolvedBy,
			OccurredAt:       occurred,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue "+string(eventType))
	}
	return nil
}

func (s *Service) notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, kind enums.NotificationType, payload notifications.Payload) error {
	if err := s.notifier.Notify(ctx, tx, userID, kind, payload); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue refund notification")
	}
	return nil
}

func (s *Service) withFields(ctx context.Context, req *models.RefundRequest, txn *models.Transaction) context.Context {
	ctx = s.logg.WithTransactionID(ctx, txn.ID.String())
	ctx = s.logg.WithReference(ctx, txn.PaymentReference)
	return s.logg.WithField(ctx, "refund_request_id", req.ID.String())
}

func approvalMessage(reference string, netKobo int64, collected bool) string {
	if !collected {
		return fmt.Sprintf("Your payment %s was cancelled. No funds had been collected.", reference)
	}
	return fmt.Sprintf("Your refund of %s for %s is on its way to your bank account.", money.FormatNaira(netKobo), reference)
}

func declineMessage(reference, note string) string {
	msg := fmt.Sprintf("Your refund request for %s was declined.", reference)
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		msg += " " + trimmed
	}
	return msg
}

func statusOf(current, fallback *models.Transaction) enums.TransactionStatus {
	if current != nil {
		return current.Status
	}
	return fallback.Status
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
