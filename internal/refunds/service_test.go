package refunds

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tradeline-backend/internal/commission"
	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	dbpkg "github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

type fakeGateway struct {
	errs     []error
	requests []paystack.RefundRequest
}

func (g *fakeGateway) Refund(_ context.Context, req paystack.RefundRequest) (*paystack.Refund, error) {
	g.requests = append(g.requests, req)
	if len(g.errs) > 0 {
		err := g.errs[0]
		g.errs = g.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &paystack.Refund{ID: 1, AmountKobo: req.AmountKobo, Status: paystack.RefundStatusPending}, nil
}

type harness struct {
	db      *gorm.DB
	store   *ledger.Store
	machine *escrow.Machine
	gateway *fakeGateway
	svc     *Service
	buyer   models.User
	seller  models.User
	admin   models.User
	product models.Product
	txn     models.Transaction
}

func newHarness(t *testing.T, escrowed bool) *harness {
	t.Helper()
	db := dbtest.Open(t)
	store := ledger.NewStore(db)
	calc, err := commission.NewFlat(decimal.RequireFromString("0.03"))
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	notifier := notifications.NewNotifier(emitter)
	machine, err := escrow.NewMachine(store, calc, emitter, notifier, nil)
	require.NoError(t, err)

	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	admin := dbtest.SeedUser(t, db, "ops@example.com", dbtest.WithRole(enums.UserRoleAdmin))
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)
	txn := dbtest.SeedTransaction(t, db, buyer, product, enums.TransactionStatusAwaitingPayment, "TLP-REFUND000001", time.Time{})
	if escrowed {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			out, err := machine.EnterEscrow(context.Background(), tx, &txn, escrow.Payment{
				GatewayReference: "T4099260516",
				GatewayFeeKobo:   7500,
				Tier:             enums.MatchTierReference,
			})
			if err == nil {
				txn = *out
			}
			return err
		}))
	}

	gw := &fakeGateway{}
	svc, err := NewService(dbpkg.Wrap(db), store, gw, machine, emitter, notifier, nil, Options{MaxGatewayAttempts: 3})
	require.NoError(t, err)
	return &harness{db: db, store: store, machine: machine, gateway: gw, svc: svc, buyer: buyer, seller: seller, admin: admin, product: product, txn: txn}
}

func (h *harness) request(t *testing.T) *models.RefundRequest {
	t.Helper()
	req, err := h.svc.RequestRefund(context.Background(), h.txn.ID, h.buyer.ID, "item never arrived")
	require.NoError(t, err)
	return req
}

func TestRequestRefundValidation(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	_, err := h.svc.RequestRefund(ctx, h.txn.ID, h.buyer.ID, "   ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.RequestRefund(ctx, h.txn.ID, h.seller.ID, "not mine")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.RequestRefund(ctx, uuid.New(), h.buyer.ID, "missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	h.request(t)
	_, err = h.svc.RequestRefund(ctx, h.txn.ID, h.buyer.ID, "again")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestApproveEscrowedRefund(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := h.request(t)

	resolved, err := h.svc.ResolveRefund(ctx, req.ID, DecisionApprove, h.admin.ID, "seller unresponsive")
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusRefunded, resolved.Status)
	assert.Equal(t, int64(500000), resolved.GrossKobo)
	assert.Equal(t, int64(7500), resolved.GatewayFeeKobo)
	assert.Equal(t, int64(492500), resolved.NetKobo)
	assert.Equal(t, enums.GatewayRefundStatusProcessed, resolved.GatewayStatus)

	require.Len(t, h.gateway.requests, 1)
	assert.Equal(t, "T4099260516", h.gateway.requests[0].TransactionReference)
	assert.Equal(t, int64(492500), h.gateway.requests[0].AmountKobo)

	txn, err := h.store.Transactions.FindByID(ctx, h.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusRefunded, txn.Status)

	product, err := h.store.Products.FindByID(ctx, h.product.ID)
	require.NoError(t, err)
	assert.Nil(t, product.SoldTransactionID)

	wallet, err := h.store.Wallet.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), wallet.ReservedKobo)
	assert.Equal(t, int64(0), wallet.AvailableKobo)

	stored, err := h.store.Refunds.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayRefundStatusProcessed, stored.GatewayStatus)
	assert.Equal(t, 1, stored.GatewayAttempts)
}

func TestApproveAwaitingPaymentNeedsNoGateway(t *testing.T) {
	h := newHarness(t, false)
	req := h.request(t)

	resolved, err := h.svc.ResolveRefund(context.Background(), req.ID, DecisionApprove, h.admin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayRefundStatusNotRequired, resolved.GatewayStatus)
	assert.Empty(t, h.gateway.requests)
}

func TestDenyLeavesTransactionUntouched(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := h.request(t)

	resolved, err := h.svc.ResolveRefund(ctx, req.ID, DecisionDeny, h.admin.ID, "tracking shows delivered")
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusRejected, resolved.Status)
	require.NotNil(t, resolved.ResolutionNote)

	txn, err := h.store.Transactions.FindByID(ctx, h.txn.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusInEscrow, txn.Status)

	_, err = h.svc.ResolveRefund(ctx, req.ID, DecisionApprove, h.admin.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	// a denied request does not block a new one
	h.request(t)
}

func TestApproveLosesToStartedPayout(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := h.request(t)

	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		_, err := h.machine.BeginTransfer(ctx, tx, &h.txn, "tlpo-test", escrow.ActorSystem)
		return err
	}))

	_, err := h.svc.ResolveRefund(ctx, req.ID, DecisionApprove, h.admin.ID, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Empty(t, h.gateway.requests)

	stored, err := h.store.Refunds.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.RefundRequestStatusRequested, stored.Status)
}

func TestGatewayFailureIsRetried(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gateway.errs = []error{&paystack.Error{Op: "refund", Kind: paystack.KindAmbiguous, Message: "timeout"}}
	req := h.request(t)

	resolved, err := h.svc.ResolveRefund(ctx, req.ID, DecisionApprove, h.admin.ID, "")
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayRefundStatusPending, resolved.GatewayStatus)

	h.gateway.errs = []error{&paystack.Error{Op: "refund", Kind: paystack.KindRejected, Message: "Transaction has been fully reversed"}}
	accepted, err := h.svc.RetryPendingGatewayRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.gateway.requests, 2)

	stored, err := h.store.Refunds.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayRefundStatusProcessed, stored.GatewayStatus)
	assert.Equal(t, 2, stored.GatewayAttempts)

	accepted, err = h.svc.RetryPendingGatewayRefunds(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, accepted)
	assert.Len(t, h.gateway.requests, 2)
}

func TestHandleRefundEvent(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	req := h.request(t)
	_, err := h.svc.ResolveRefund(ctx, req.ID, DecisionApprove, h.admin.ID, "")
	require.NoError(t, err)

	err = h.svc.HandleRefundEvent(ctx, paystack.EventRefundFailed, &paystack.RefundEvent{
		Status:               paystack.RefundStatusFailed,
		TransactionReference: "T4099260516",
	})
	require.NoError(t, err)
	stored, err := h.store.Refunds.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.GatewayRefundStatusFailed, stored.GatewayStatus)
	assert.Equal(t, 1, stored.GatewayAttempts)

	require.NoError(t, h.svc.HandleRefundEvent(ctx, paystack.EventRefundProcessed, &paystack.RefundEvent{TransactionReference: "unknown"}))
}

func TestListPending(t *testing.T) {
	h := newHarness(t, true)
	req := h.request(t)

	page, err := h.svc.ListPending(context.Background(), pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, req.ID, page.Items[0].ID)
	assert.Empty(t, page.Cursor)

	_, err = h.svc.ListPending(context.Background(), pagination.Params{Cursor: "not-a-cursor"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision(" Approve ")
	require.NoError(t, err)
	assert.Equal(t, DecisionApprove, d)
	_, err = ParseDecision("maybe")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
