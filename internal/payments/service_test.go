package payments

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
	customers   int
	accounts    int
	customerErr error
	accountErr  error
}

func (f *fakeGateway) CreateCustomer(_ context.Context, req paystack.CustomerRequest) (*paystack.Customer, error) {
	f.customers++
	if f.customerErr != nil {
		return nil, f.customerErr
	}
	return &paystack.Customer{Email: req.Email, CustomerCode: "CUS_test"}, nil
}

func (f *fakeGateway) CreateDedicatedAccount(_ context.Context, customerCode, _ string) (*paystack.DedicatedAccount, error) {
	f.accounts++
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	account := &paystack.DedicatedAccount{AccountNumber: "9930001234", AccountName: "TRADELINE/BUYER"}
	account.Bank.Name = "Wema Bank"
	return account, nil
}

func newTestService(t *testing.T, gw *fakeGateway, opts Options) (*Service, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	store := ledger.NewStore(db)
	calc, err := commission.NewFlat(decimal.RequireFromString("0.03"))
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(db), nil)
	machine, err := escrow.NewMachine(store, calc, emitter, notifications.NewNotifier(emitter), nil)
	require.NoError(t, err)
	if opts.PaymentTTL == 0 {
		opts.PaymentTTL = 48 * time.Hour
	}
	svc, err := NewService(dbpkg.Wrap(db), store, gw, machine, opts, nil)
	require.NoError(t, err)
	return svc, db
}

func TestInitiatePaymentReusesPendingTransaction(t *testing.T) {
	gw := &fakeGateway{}
	svc, db := newTestService(t, gw, Options{DedicatedAccounts: true})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)

	first, err := svc.InitiatePayment(ctx, buyer.ID, product.ID)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.True(t, IsReference(first.Reference))
	assert.Equal(t, "5000.00", first.Amount)
	assert.Equal(t, "9930001234", first.AccountNumber)
	assert.Equal(t, enums.ChannelTypeDedicatedAccount, first.ChannelType)

	second, err := svc.InitiatePayment(ctx, buyer.ID, product.ID)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.Reference, second.Reference)
	assert.Equal(t, 1, gw.accounts, "dedicated account is provisioned once")

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	txn, err := svc.GetTransaction(ctx, first.TransactionID, buyer.ID, enums.UserRoleUser)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusAwaitingPayment, txn.Status)
	assert.Equal(t, "acct:9930001234", txn.ChannelKey)
}

func TestInitiatePaymentReusedChannelNamesPendingProduct(t *testing.T) {
	svc, db := newTestService(t, &fakeGateway{}, Options{DedicatedAccounts: true})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	first := dbtest.SeedProduct(t, db, seller.ID, 500000)
	second := dbtest.SeedProduct(t, db, seller.ID, 250000)

	a, err := svc.InitiatePayment(ctx, buyer.ID, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, a.ProductID)

	b, err := svc.InitiatePayment(ctx, buyer.ID, second.ID)
	require.NoError(t, err)
	assert.True(t, b.Reused)
	assert.Equal(t, first.ID, b.ProductID, "instructions must name the product still awaiting payment")
	assert.Equal(t, "5000.00", b.Amount)
	assert.Equal(t, a.TransactionID, b.TransactionID)
}

func TestInitiatePaymentValidation(t *testing.T) {
	svc, db := newTestService(t, &fakeGateway{}, Options{DedicatedAccounts: true})
	ctx := context.Background()
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)

	_, err := svc.InitiatePayment(ctx, seller.ID, product.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.InitiatePayment(ctx, uuid.New(), product.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.InitiatePayment(ctx, seller.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	_, err = ledger.NewProductRepository(db).MarkSold(ctx, product.ID, uuid.New(), time.Now())
	require.NoError(t, err)
	_, err = svc.InitiatePayment(ctx, buyer.ID, product.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestInitiatePaymentGatewayFailure(t *testing.T) {
	gw := &fakeGateway{accountErr: &paystack.Error{Op: "create_dedicated_account", Kind: paystack.KindTransient, Message: "timeout"}}
	svc, db := newTestService(t, gw, Options{DedicatedAccounts: true})
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)

	_, err := svc.InitiatePayment(context.Background(), buyer.ID, product.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUpstreamUnavailable))

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestInitiatePaymentManualChannel(t *testing.T) {
	svc, db := newTestService(t, nil, Options{Manual: ManualAccount{Number: "0011223344", BankName: "GTBank", Name: "Tradeline Escrow"}})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	first := dbtest.SeedProduct(t, db, seller.ID, 500000)
	second := dbtest.SeedProduct(t, db, seller.ID, 250000)

	a, err := svc.InitiatePayment(ctx, buyer.ID, first.ID)
	require.NoError(t, err)
	assert.True(t, a.QuoteRef)
	assert.Equal(t, "0011223344", a.AccountNumber)

	b, err := svc.InitiatePayment(ctx, buyer.ID, second.ID)
	require.NoError(t, err)
	assert.False(t, b.Reused)
	assert.NotEqual(t, a.Reference, b.Reference)
}

func TestInitiatePaymentRetriesReferenceCollision(t *testing.T) {
	svc, db := newTestService(t, nil, Options{Manual: ManualAccount{Number: "0011223344"}})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	taken := dbtest.SeedProduct(t, db, seller.ID, 100000)
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)
	dbtest.SeedTransaction(t, db, buyer, taken, enums.TransactionStatusInEscrow, "TLP-COLLISION001", time.Time{})

	refs := []string{"TLP-COLLISION001", "TLP-FRESH0000001"}
	svc.newRef = func() (string, error) {
		ref := refs[0]
		refs = refs[1:]
		return ref, nil
	}

	out, err := svc.InitiatePayment(ctx, buyer.ID, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "TLP-FRESH0000001", out.Reference)
}

func TestCancelPayment(t *testing.T) {
	svc, db := newTestService(t, &fakeGateway{}, Options{DedicatedAccounts: true})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	product := dbtest.SeedProduct(t, db, seller.ID, 500000)

	out, err := svc.InitiatePayment(ctx, buyer.ID, product.ID)
	require.NoError(t, err)

	_, err = svc.CancelPayment(ctx, out.TransactionID, seller.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	cancelled, err := svc.CancelPayment(ctx, out.TransactionID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCancelled, cancelled.Status)

	again, err := svc.CancelPayment(ctx, out.TransactionID, buyer.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCancelled, again.Status)

	fresh, err := svc.InitiatePayment(ctx, buyer.ID, product.ID)
	require.NoError(t, err)
	assert.NotEqual(t, out.Reference, fresh.Reference)
}

func TestExpireStaleCancelsOnlyOldUnpaidTransactions(t *testing.T) {
	svc, db := newTestService(t, &fakeGateway{}, Options{DedicatedAccounts: true, PaymentTTL: time.Hour})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	other := dbtest.SeedUser(t, db, "other@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	oldProduct := dbtest.SeedProduct(t, db, seller.ID, 500000)
	newProduct := dbtest.SeedProduct(t, db, seller.ID, 250000)

	old, err := svc.InitiatePayment(ctx, buyer.ID, oldProduct.ID)
	require.NoError(t, err)
	fresh, err := svc.InitiatePayment(ctx, other.ID, newProduct.ID)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.Transaction{}).
		Where("id = ?", old.TransactionID).
		Update("created_at", now.Add(-2*time.Hour)).Error)

	expired, err := svc.ExpireStale(ctx, now, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	txn, err := svc.GetTransaction(ctx, old.TransactionID, buyer.ID, enums.UserRoleUser)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCancelled, txn.Status)

	txn, err = svc.GetTransaction(ctx, fresh.TransactionID, other.ID, enums.UserRoleUser)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusAwaitingPayment, txn.Status)

	expired, err = svc.ExpireStale(ctx, now, 50)
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestListTransactionsFiltersByPartyAndStatus(t *testing.T) {
	svc, db := newTestService(t, &fakeGateway{}, Options{DedicatedAccounts: true})
	ctx := context.Background()
	buyer := dbtest.SeedUser(t, db, "buyer@example.com")
	other := dbtest.SeedUser(t, db, "other@example.com")
	seller := dbtest.SeedUser(t, db, "seller@example.com")
	first := dbtest.SeedProduct(t, db, seller.ID, 500000)
	second := dbtest.SeedProduct(t, db, seller.ID, 250000)

	mine, err := svc.InitiatePayment(ctx, buyer.ID, first.ID)
	require.NoError(t, err)
	theirs, err := svc.InitiatePayment(ctx, other.ID, second.ID)
	require.NoError(t, err)
	_, err = svc.CancelPayment(ctx, theirs.TransactionID, other.ID)
	require.NoError(t, err)

	page, err := svc.ListTransactions(ctx, nil, &buyer.ID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, mine.TransactionID, page.Items[0].ID)

	page, err = svc.ListTransactions(ctx, nil, &seller.ID, pagination.Params{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	cancelled := enums.TransactionStatusCancelled
	page, err = svc.ListTransactions(ctx, &cancelled, nil, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, theirs.TransactionID, page.Items[0].ID)
	assert.Empty(t, page.Cursor)

	_, err = svc.ListTransactions(ctx, nil, nil, pagination.Params{Cursor: "garbage"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestNewReferenceFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref, err := NewReference()
		require.NoError(t, err)
		assert.True(t, IsReference(ref), ref)
		seen[ref] = true
	}
	assert.Len(t, seen, 50)
	assert.False(t, IsReference("TLP-abc"))
}
