// Package escrow owns the transaction lifecycle. Every status change goes
// through Apply, which turns a legal edge into one conditional update plus an
// audit row in the caller's database transaction.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/commission"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
)

// ErrAlreadyApplied reports that the row already sits at the requested
// status. Callers treat it as an idempotent success.
var ErrAlreadyApplied = errors.New("transition already applied")

// Actors recorded on transition rows.
const (
	ActorSystem  = "system"
	ActorWebhook = "webhook"
)

// ActorUser formats a user actor for the transition log.
func ActorUser(role enums.UserRole, id uuid.UUID) string {
	return fmt.Sprintf("%s:%s", role, id)
}

var edges = map[enums.TransactionStatus][]enums.TransactionStatus{
	enums.TransactionStatusAwaitingPayment: {
		enums.TransactionStatusInEscrow,
		enums.TransactionStatusRefunded,
		enums.TransactionStatusCancelled,
	},
	enums.TransactionStatusInEscrow: {
		enums.TransactionStatusTransferInitiated,
		enums.TransactionStatusConfirmedPendingPayout,
		enums.TransactionStatusRefunded,
	},
	enums.TransactionStatusConfirmedPendingPayout: {
		enums.TransactionStatusTransferInitiated,
	},
	enums.TransactionStatusTransferInitiated: {
		enums.TransactionStatusCompleted,
		enums.TransactionStatusTransferFailed,
		enums.TransactionStatusReversed,
	},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to enums.TransactionStatus) bool {
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Transition describes one requested status change.
type Transition struct {
	TransactionID uuid.UUID
	From          enums.TransactionStatus
	To            enums.TransactionStatus
	Fields        map[string]any
	Actor         string
	Note          string
}

type splitter interface {
	Split(amountKobo int64) (commission.Split, error)
}

type notifier interface {
	Notify(ctx context.Context, tx *gorm.DB, userID uuid.UUID, notificationType enums.NotificationType, payload notifications.Payload) error
}

// Machine applies lifecycle transitions and queues their side effects.
type Machine struct {
	store    *ledger.Store
	splitter splitter
	emitter  outbox.Emitter
	notifier notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewMachine(store *ledger.Store, splitter splitter, emitter outbox.Emitter, notifier notifier, logg *logger.Logger) (*Machine, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "ledger store required")
	}
	if splitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "commission calculator required")
	}
	if emitter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "outbox emitter required")
	}
	if notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifier required")
	}
	return &Machine{
		store:    store,
		splitter: splitter,
		emitter:  emitter,
		notifier: notifier,
		logg:     logg,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Apply moves the transaction along one edge inside tx and returns the
// updated row. The row is only touched when it is still in t.From.
func (m *Machine) Apply(ctx context.Context, tx *gorm.DB, t Transition) (*models.Transaction, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transition requires a database transaction")
	}
	if !CanTransition(t.From, t.To) {
		err := pkgerrors.New(pkgerrors.CodeInvariantViolation, fmt.Sprintf("illegal transition %s -> %s", t.From, t.To)).
			WithDetails(map[string]any{"transaction_id": t.TransactionID, "from": t.From, "to": t.To})
		m.logError(ctx, t.TransactionID, "illegal escrow transition requested", err)
		return nil, err
	}

	repo := m.store.Transactions.WithTx(tx)
	rows, err := repo.CompareAndSetStatus(ctx, t.TransactionID, t.From, t.To, t.Fields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction status")
	}

	current, err := repo.FindByID(ctx, t.TransactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}

	if rows == 0 {
		if current.Status == t.To {
			return current, ErrAlreadyApplied
		}
		return current, pkgerrors.New(pkgerrors.CodeConflict, "transaction changed state concurrently").
			WithDetails(map[string]any{"status": current.Status, "expected": t.From})
	}

	transition := &models.TransactionTransition{
		TransactionID:    current.ID,
		PaymentReference: current.PaymentReference,
		FromStatus:       t.From,
		ToStatus:         t.To,
		Actor:            actorOrSystem(t.Actor),
		CreatedAt:        m.now(),
	}
	if t.Note != "" {
		note := t.Note
		transition.Note = &note
	}
	if err := repo.InsertTransition(ctx, transition); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transition")
	}

	if m.logg != nil {
		logCtx := m.logg.WithTransactionID(ctx, current.ID.String())
		logCtx = m.logg.WithReference(logCtx, current.PaymentReference)
		logCtx = m.logg.WithFields(logCtx, map[string]any{"from": t.From, "to": t.To, "actor": transition.Actor})
		m.logg.Info(logCtx, "transaction transitioned")
	}
	return current, nil
}

func (m *Machine) logError(ctx context.Context, txID uuid.UUID, msg string, err error) {
	if m.logg == nil {
		return
	}
	m.logg.Error(m.logg.WithTransactionID(ctx, txID.String()), msg, err)
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return ActorSystem
	}
	return actor
}
