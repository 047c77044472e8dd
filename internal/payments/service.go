// Package payments is the single entry point for starting a purchase: it
// resolves where the buyer should send money and records the pending
// transaction that reconciliation later matches against.
package payments

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
	dbpkg "github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const (
	maxReferenceAttempts  = 5
	defaultGatewayTimeout = 15 * time.Second
)

type gateway interface {
	CreateCustomer(ctx context.Context, req paystack.CustomerRequest) (*paystack.Customer, error)
	CreateDedicatedAccount(ctx context.Context, customerCode, preferredBank string) (*paystack.DedicatedAccount, error)
}

type dbClient interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type canceller interface {
	Cancel(ctx context.Context, tx *gorm.DB, txn *models.Transaction, actor, reason string, expired bool) (*models.Transaction, error)
}

// ManualAccount is the platform collection account used when dedicated
// accounts are disabled.
type ManualAccount struct {
	Number   string
	BankName string
	Name     string
}

type Options struct {
	DedicatedAccounts bool
	PreferredBank     string
	Manual            ManualAccount
	PaymentTTL        time.Duration
	GatewayTimeout    time.Duration
}

// Instructions tell the buyer exactly where and how much to pay. When Reused
// is set they belong to the pending purchase on the channel, which may be for
// a different product than the one requested.
type Instructions struct {
	TransactionID uuid.UUID         `json:"transaction_id"`
	ProductID     uuid.UUID         `json:"product_id"`
	Reference     string            `json:"reference"`
	AmountKobo    int64             `json:"-"`
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	ChannelType   enums.ChannelType `json:"channel_type"`
	AccountNumber string            `json:"account_number"`
	BankName      string            `json:"bank_name"`
	AccountName   string            `json:"account_name"`
	QuoteRef      bool              `json:"quote_reference"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Reused        bool              `json:"reused"`
}

type Service struct {
	db      dbClient
	store   *ledger.Store
	gateway gateway
	machine canceller
	opts    Options
	logg    *logger.Logger
	newRef  func() (string, error)
}

func NewService(db dbClient, store *ledger.Store, gw gateway, machine canceller, opts Options, logg *logger.Logger) (*Service, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	}
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger store required")
	}
	if machine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "escrow machine required")
	}
	if opts.DedicatedAccounts && gw == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway required for dedicated accounts")
	}
	if !opts.DedicatedAccounts && strings.TrimSpace(opts.Manual.Number) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "manual collection account required")
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	return &Service{
		db:      db,
		store:   store,
		gateway: gw,
		machine: machine,
		opts:    opts,
		logg:    logg,
		newRef:  NewReference,
	}, nil
}

// InitiatePayment returns payment instructions for buyerID purchasing
// productID. A pending transaction on the same channel is handed back
// instead of creating a second one.
func (s *Service) InitiatePayment(ctx context.Context, buyerID, productID uuid.UUID) (*Instructions, error) {
	product, err := s.store.Products.FindByID(ctx, productID)
	if err != nil {
		return nil, notFoundOr(err, "product not found", "load product")
	}
	if product.Sold {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "product already sold")
	}
	buyer, err := s.store.Users.FindByID(ctx, buyerID)
	if err != nil {
		return nil, notFoundOr(err, "buyer not found", "load buyer")
	}
	if buyer.ID == product.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sellers cannot buy their own product")
	}

	ch, err := s.resolveChannel(ctx, buyer, product)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.Transactions.FindPendingByChannel(ctx, buyer.ID, ch.key); err == nil {
		return s.instructions(existing, true), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}

	for attempt := 0; attempt < maxReferenceAttempts; attempt++ {
		reference, err := s.newRef()
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate reference")
		}
		txn := &models.Transaction{
			PaymentReference:     reference,
			BuyerID:              buyer.ID,
			SellerID:             product.SellerID,
			ProductID:            product.ID,
			AmountKobo:           product.PriceKobo,
			Status:               enums.TransactionStatusAwaitingPayment,
			ChannelType:          ch.channelType,
			ChannelKey:           ch.key,
			ChannelAccountNumber: ch.accountNumber,
			ChannelBankName:      ch.bankName,
			ChannelAccountName:   ch.accountName,
			ChannelCustomerCode:  ch.customerCode,
		}
		err = s.store.Transactions.Create(ctx, txn)
		if err == nil {
			s.logCreated(ctx, txn)
			return s.instructions(txn, false), nil
		}
		if !dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
		}

		// a concurrent initiation on the same channel won; hand back its row
		winner, findErr := s.store.Transactions.FindPendingByChannel(ctx, buyer.ID, ch.key)
		if findErr == nil {
			return s.instructions(winner, true), nil
		}
		if !errors.Is(findErr, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load pending transaction")
		}
		// otherwise the reference collided; try a fresh one
	}
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique payment reference")
}

// CancelPayment lets the buyer abandon an unpaid transaction.
func (s *Service) CancelPayment(ctx context.Context, txID, buyerID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.store.Transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if txn.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the buyer can cancel this payment")
	}
	if txn.Status != enums.TransactionStatusAwaitingPayment && txn.Status != enums.TransactionStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only unpaid transactions can be cancelled").
			WithDetails(map[string]any{"status": txn.Status})
	}

	var out *models.Transaction
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		updated, err := s.machine.Cancel(ctx, tx, txn, "buyer:"+buyerID.String(), "cancelled by buyer", false)
		out = updated
		return err
	})
	if err != nil && !errors.Is(err, escrow.ErrAlreadyApplied) {
		return nil, err
	}
	if out == nil {
		out = txn
	}
	return out, nil
}

// ExpireStale cancels unpaid transactions older than the payment TTL. A row
// that was paid or cancelled in the meantime is skipped.
func (s *Service) ExpireStale(ctx context.Context, now time.Time, limit int) (int, error) {
	cutoff := now.UTC().Add(-s.opts.PaymentTTL)
	rows, err := s.store.Transactions.ListByStatusCreatedBefore(ctx, enums.TransactionStatusAwaitingPayment, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale payments")
	}
	expired := 0
	var errs error
	for i := range rows {
		txn := &rows[i]
		err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.machine.Cancel(ctx, tx, txn, escrow.ActorSystem, "payment window expired", true)
			return err
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, escrow.ErrAlreadyApplied), pkgerrors.IsCode(err, pkgerrors.CodeConflict):
		default:
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", txn.PaymentReference, err))
		}
	}
	return expired, errs
}

// GetTransaction returns the transaction to one of its parties or an admin.
func (s *Service) GetTransaction(ctx context.Context, txID, userID uuid.UUID, role enums.UserRole) (*models.Transaction, error) {
	txn, err := s.store.Transactions.FindByID(ctx, txID)
	if err != nil {
		return nil, notFoundOr(err, "transaction not found", "load transaction")
	}
	if role != enums.UserRoleAdmin && txn.BuyerID != userID && txn.SellerID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "not a party to this transaction")
	}
	return txn, nil
}

// TransactionPage is one page of transactions.
type TransactionPage struct {
	Items  []models.Transaction
	Cursor string
}

// ListTransactions pages through transactions newest first. A nil status
// lists every status; a nil party lists every user's rows.
func (s *Service) ListTransactions(ctx context.Context, status *enums.TransactionStatus, party *uuid.UUID, params pagination.Params) (*TransactionPage, error) {
	query := ledger.TransactionListParams{Status: status, UserID: party, Limit: params.Limit}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor
	rows, next, err := s.store.Transactions.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list transactions")
	}
	return &TransactionPage{Items: rows, Cursor: pagination.NextCursor(next)}, nil
}

// Instructions rebuilds the payment instructions of a stored transaction.
func (s *Service) Instructions(txn *models.Transaction) *Instructions {
	return s.instructions(txn, false)
}

func (s *Service) instructions(txn *models.Transaction, reused bool) *Instructions {
	return &Instructions{
		TransactionID: txn.ID,
		ProductID:     txn.ProductID,
		Reference:     txn.PaymentReference,
		AmountKobo:    txn.AmountKobo,
		Amount:        money.KoboToNaira(txn.AmountKobo).StringFixed(2),
		Currency:      money.Currency,
		ChannelType:   txn.ChannelType,
		AccountNumber: txn.ChannelAccountNumber,
		BankName:      txn.ChannelBankName,
		AccountName:   txn.ChannelAccountName,
		QuoteRef:      txn.ChannelType == enums.ChannelTypeManualTransfer,
		ExpiresAt:     txn.CreatedAt.Add(s.opts.PaymentTTL).UTC(),
		Reused:        reused,
	}
}

func (s *Service) logCreated(ctx context.Context, txn *models.Transaction) {
	if s.logg == nil {
		return
	}
	logCtx := s.logg.WithTransactionID(ctx, txn.ID.String())
	logCtx = s.logg.WithReference(logCtx, txn.PaymentReference)
	logCtx = s.logg.WithField(logCtx, "channel_type", txn.ChannelType)
	s.logg.Info(logCtx, "payment initiated")
}

func notFoundOr(err error, notFound, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, notFound)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
