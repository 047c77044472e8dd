// Package payouts releases escrowed funds to sellers once delivery is
// confirmed, deferring when the platform balance cannot cover the share.
package payouts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const (
	transferReferencePrefix = "tlpo-"
	defaultBalanceTimeout   = 5 * time.Second
	defaultGatewayTimeout   = 15 * time.Second
)

type Outcome string

const (
	OutcomeCompleted        Outcome = "completed"
	OutcomeTransferPending  Outcome = "transfer_pending"
	OutcomeOTPRequired      Outcome = "otp_required"
	OutcomeDeferred         Outcome = "deferred"
	OutcomeFailed           Outcome = "failed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeUnknownTransfer  Outcome = "unknown_transfer"
)

type Result struct {
	Outcome     Outcome             `json:"outcome"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type gateway interface {
	Balance(ctx context.Context) (int64, error)
	CreateTransferRecipient(ctx context.Context, req paystack.RecipientRequest) (*paystack.Recipient, error)
	InitiateTransfer(ctx context.Context, req paystack.TransferRequest) (*paystack.Transfer, error)
	FinalizeTransfer(ctx context.Context, transferCode, otp string) (*paystack.Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (*paystack.Transfer, error)
}

type lifecycle interface {
	BeginTransfer(ctx context.Context, tx *gorm.DB, txn *models.Transaction, transferReference, actor string) (*models.Transaction, error)
	DeferPayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, reason string) (*models.Transaction, error)
	RecordTransferCode(ctx context.Context, tx *gorm.DB, txn *models.Transaction, transferCode string, otpRequired bool) error
	CompletePayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor string) (*models.Transaction, error)
	FailPayout(ctx context.Context, tx *gorm.DB, txn *models.Transaction, to enums.TransactionStatus, actor, reason string) (*models.Transaction, error)
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type observer interface {
	ObservePayout(outcome string)
}

type Options struct {
	BalanceTimeout time.Duration
	GatewayTimeout time.Duration
}

type Engine struct {
	db      dbClient
	store   *ledger.Store
	gateway gateway
	machine lifecycle
	metrics observer
	logg    *logger.Logger
	opts    Options
}

func NewEngine(db dbClient, store *ledger.Store, gw gateway, machine lifecycle, metrics observer, logg *logger.Logger, opts Options) (*Engine, error) {
	if db == nil || store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger required")
	}
	if gw == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway required")
	}
	if machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow machine required")
	}
	if opts.BalanceTimeout <= 0 {
		opts.BalanceTimeout = defaultBalanceTimeout
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	return &Engine{db: db, store: store, gateway: gw, machine: machine, metrics: metrics, logg: logg, opts: opts}, nil
}

// TransferReference is the gateway reference of the single payout a
// transaction can ever have.
func TransferReference(txID uuid.UUID) string {
	return transferReferencePrefix + strings.ReplaceAll(txID.String(), "-", "")
}

// ConfirmDelivery is called by the buyer. It pays the seller right away when
// the platform balance allows and otherwise queues the payout.
func (e *Engine) ConfirmDelivery(ctx context.Context, txID, userID uuid.UUID) (*Result, error) {
	txn, err := e.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	ctx = e.withTxFields(ctx, txn)
	if txn.BuyerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can confirm delivery")
	}
	if txn.Status != enums.TransactionStatusInEscrow {
		err := pkgerrors.New(pkgerrors.CodeInvariantViolation, "delivery can only be confirmed while funds are in escrow").
			WithDetails(map[string]any{"status": txn.Status})
		e.logError(ctx, "delivery confirmation rejected", err)
		return nil, err
	}
	outstanding, err := e.store.Refunds.HasOutstanding(ctx, txn.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check refund requests")
	}
	if outstanding {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "a refund request is pending for this transaction")
	}

	actor := escrow.ActorUser(enums.UserRoleUser, userID)
	recipient, err := e.ensureRecipient(ctx, txn.SellerID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeUpstreamUnavailable) {
			return e.deferPayout(ctx, txn, actor, "payout destination could not be provisioned")
		}
		return nil, err
	}

	held, err := e.store.Escrows.FindByTransactionID(ctx, txn.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow")
	}
	balance, err := e.Balance(ctx)
	if err != nil {
		e.logWarn(ctx, "balance check failed, deferring payout")
		return e.deferPayout(ctx, txn, actor, "balance check failed")
	}
	if balance < held.SellerShareKobo {
		return e.deferPayout(ctx, txn, actor, "insufficient platform balance")
	}
	return e.transfer(ctx, txn, recipient, held.SellerShareKobo, actor)
}

// ForcePayout lets an admin push a deferred payout without the balance check.
func (e *Engine) ForcePayout(ctx context.Context, txID, adminID uuid.UUID) (*Result, error) {
	txn, err := e.load(ctx, txID)
	if err != nil {
		return nil, err
	}
	ctx = e.withTxFields(ctx, txn)
	if txn.Status != enums.TransactionStatusConfirmedPendingPayout {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only deferred payouts can be forced").
			WithDetails(map[string]any{"status": txn.Status})
	}
	return e.PayDeferred(ctx, txn, escrow.ActorUser(enums.UserRoleAdmin, adminID))
}

// PayDeferred starts the transfer of a confirmed_pending_payout transaction.
// Callers are responsible for any liquidity check.
func (e *Engine) PayDeferred(ctx context.Context, txn *models.Transaction, actor string) (*Result, error) {
	recipient, err := e.ensureRecipient(ctx, txn.SellerID)
	if err != nil {
		return nil, err
	}
	return e.transfer(ctx, txn, recipient, txn.SellerShareKobo, actor)
}

// Balance returns the gateway balance under a bounded timeout.
func (e *Engine) Balance(ctx context.Context) (int64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.BalanceTimeout)
	defer cancel()
	balance, err := e.gateway.Balance(callCtx)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeUpstreamUnavailable, err, "check gateway balance")
	}
	return balance, nil
}

func (e *Engine) deferPayout(ctx context.Context, txn *models.Transaction, actor, reason string) (*Result, error) {
	var updated *models.Transaction
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		updated, err = e.machine.DeferPayout(ctx, tx, txn, actor, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logInfo(e.logg.WithField(ctx, "reason", reason), "payout deferred")
	return e.result(OutcomeDeferred, updated), nil
}

func (e *Engine) ensureRecipient(ctx context.Context, sellerID uuid.UUID) (string, error) {
	seller, err := e.store.Users.FindByID(ctx, sellerID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "seller not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller")
	}
	if seller.PayoutRecipientCode != nil && *seller.PayoutRecipientCode != "" {
		return *seller.PayoutRecipientCode, nil
	}
	if !seller.HasBankDetails() {
		return "", pkgerrors.New(pkgerrors.CodeMissingPayoutDestination, "seller has no payout bank details")
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.GatewayTimeout)
	defer cancel()
	recipient, err := e.gateway.CreateTransferRecipient(callCtx, paystack.RecipientRequest{
		Name:          *seller.BankAccountName,
		AccountNumber: *seller.BankAccountNumber,
		BankCode:      *seller.BankCode,
	})
	if err != nil {
		if paystack.IsRejected(err) {
			return "", pkgerrors.Wrap(pkgerrors.CodeMissingPayoutDestination, err, "seller bank details were rejected")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeUpstreamUnavailable, err, "create transfer recipient")
	}
	if err := e.store.Users.SaveRecipientCode(ctx, seller.ID, recipient.RecipientCode); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save recipient code")
	}
	return recipient.RecipientCode, nil
}

func (e *Engine) load(ctx context.Context, txID uuid.UUID) (*models.Transaction, error) {
	txn, err := e.store.Transactions.FindByID(ctx, txID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func (e *Engine) result(outcome Outcome, txn *models.Transaction) *Result {
	if e.metrics != nil {
		e.metrics.ObservePayout(string(outcome))
	}
	return &Result{Outcome: outcome, Transaction: txn}
}

func (e *Engine) withTxFields(ctx context.Context, txn *models.Transaction) context.Context {
	if e.logg == nil {
		return ctx
	}
	ctx = e.logg.WithTransactionID(ctx, txn.ID.String())
	return e.logg.WithReference(ctx, txn.PaymentReference)
}

func (e *Engine) logInfo(ctx context.Context, msg string) {
	if e.logg != nil {
		e.logg.Info(ctx, msg)
	}
}

func (e *Engine) logWarn(ctx context.Context, msg string) {
	if e.logg != nil {
		e.logg.Warn(ctx, msg)
	}
}

func (e *Engine) logError(ctx context.Context, msg string, err error) {
	if e.logg != nil {
		e.logg.Error(ctx, msg, err)
	}
}
