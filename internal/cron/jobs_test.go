package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

type fakeExpirer struct {
	now   time.Time
	limit int
	err   error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, now time.Time, limit int) (int, error) {
	f.now, f.limit = now, limit
	return 3, f.err
}

func TestPaymentExpiryJob(t *testing.T) {
	expirer := &fakeExpirer{}
	jobIface, err := NewPaymentExpiryJob(PaymentExpiryJobParams{Logger: quietLogger(), Payments: expirer, BatchSize: 25})
	require.NoError(t, err)
	job := jobIface.(*paymentExpiryJob)
	now := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now, expirer.now)
	assert.Equal(t, 25, expirer.limit)

	expirer.err = errors.New("db down")
	assert.Error(t, job.Run(context.Background()))
}

type fakeStalePayments struct {
	status enums.TransactionStatus
	cutoff time.Time
	rows   []models.Transaction
}

func (f *fakeStalePayments) ListByStatusCreatedBefore(_ context.Context, status enums.TransactionStatus, cutoff time.Time, _ int) ([]models.Transaction, error) {
	f.status, f.cutoff = status, cutoff
	return f.rows, nil
}

type fakeVerifier struct {
	calls   []string
	results map[string]*reconciliation.Result
	errs    map[string]error
}

func (f *fakeVerifier) VerifyByReference(_ context.Context, reference string) (*reconciliation.Result, error) {
	f.calls = append(f.calls, reference)
	if err := f.errs[reference]; err != nil {
		return nil, err
	}
	if res, ok := f.results[reference]; ok {
		return res, nil
	}
	return &reconciliation.Result{Outcome: reconciliation.OutcomeNotPaid}, nil
}

func TestPaymentVerificationJobVerifiesEachUnpaidTransaction(t *testing.T) {
	reader := &fakeStalePayments{rows: []models.Transaction{
		{PaymentReference: "TLP-AAAAAAAAAAAA"},
		{PaymentReference: "TLP-BBBBBBBBBBBB"},
		{PaymentReference: "TLP-CCCCCCCCCCCC"},
	}}
	verifier := &fakeVerifier{
		results: map[string]*reconciliation.Result{"TLP-AAAAAAAAAAAA": {Outcome: reconciliation.OutcomeMatched}},
		errs: map[string]error{
			"TLP-BBBBBBBBBBBB": pkgerrors.New(pkgerrors.CodeConflict, "product already sold"),
			"TLP-CCCCCCCCCCCC": pkgerrors.New(pkgerrors.CodeUpstreamUnavailable, "verify transaction"),
		},
	}
	jobIface, err := NewPaymentVerificationJob(PaymentVerificationJobParams{Logger: quietLogger(), Reader: reader, Verifier: verifier})
	require.NoError(t, err)
	job := jobIface.(*paymentVerificationJob)
	now := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	require.Error(t, err, "upstream failure surfaces")
	assert.NotContains(t, err.Error(), "TLP-BBBBBBBBBBBB", "recorded conflicts are not failures")
	assert.Len(t, verifier.calls, 3)
	assert.Equal(t, enums.TransactionStatusAwaitingPayment, reader.status)
	assert.Equal(t, now.Add(-defaultVerifyAfter), reader.cutoff)
}

type fakeStaleTransfers struct {
	cutoff time.Time
	rows   []models.Transaction
}

func (f *fakeStaleTransfers) ListStaleTransfers(_ context.Context, cutoff time.Time, _ int) ([]models.Transaction, error) {
	f.cutoff = cutoff
	return f.rows, nil
}

type fakeTransferReconciler struct {
	seen []uuid.UUID
}

func (f *fakeTransferReconciler) ReconcileTransfer(_ context.Context, txn *models.Transaction) (*payouts.Result, error) {
	f.seen = append(f.seen, txn.ID)
	return &payouts.Result{Outcome: payouts.OutcomeCompleted, Transaction: txn}, nil
}

func TestTransferReconcileJob(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	reader := &fakeStaleTransfers{rows: []models.Transaction{{ID: first}, {ID: second}}}
	reconciler := &fakeTransferReconciler{}
	jobIface, err := NewTransferReconcileJob(TransferReconcileJobParams{
		Logger:     quietLogger(),
		Reader:     reader,
		Reconciler: reconciler,
		StaleAfter: time.Hour,
	})
	require.NoError(t, err)
	job := jobIface.(*transferReconcileJob)
	now := time.Date(2026, 5, 16, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []uuid.UUID{first, second}, reconciler.seen)
	assert.Equal(t, now.Add(-time.Hour), reader.cutoff)
}

type fakeRefundRetrier struct {
	limit int
}

func (f *fakeRefundRetrier) RetryPendingGatewayRefunds(_ context.Context, limit int) (int, error) {
	f.limit = limit
	return 1, nil
}

func TestRefundRetryJob(t *testing.T) {
	retrier := &fakeRefundRetrier{}
	job, err := NewRefundRetryJob(RefundRetryJobParams{Logger: quietLogger(), Refunds: retrier})
	require.NoError(t, err)
	assert.Equal(t, "refund-retry", job.Name())
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, defaultBatchSize, retrier.limit)
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	_, err := NewPayoutRetryJob(PayoutRetryJobParams{Logger: quietLogger()})
	assert.Error(t, err)
	_, err = NewPaymentVerificationJob(PaymentVerificationJobParams{Logger: quietLogger(), Reader: &fakeStalePayments{}})
	assert.Error(t, err)
	_, err = NewTransferReconcileJob(TransferReconcileJobParams{Reader: &fakeStaleTransfers{}})
	assert.Error(t, err)
	_, err = NewRefundRetryJob(RefundRetryJobParams{Logger: quietLogger()})
	assert.Error(t, err)
}
