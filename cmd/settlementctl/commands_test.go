package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/internal/cron"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	"github.com/angelmondragon/tradeline-backend/pkg/auth"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

var fixedNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakePayouts struct {
	forcedTx, forcedBy uuid.UUID
	otp                string
	balance            int64
}

func (f *fakePayouts) ForcePayout(_ context.Context, txID, adminID uuid.UUID) (*payouts.Result, error) {
	f.forcedTx, f.forcedBy = txID, adminID
	return &payouts.Result{Outcome: payouts.OutcomeOTPRequired}, nil
}

func (f *fakePayouts) FinalizeOTP(_ context.Context, _, _ uuid.UUID, otp string) (*payouts.Result, error) {
	f.otp = otp
	return &payouts.Result{Outcome: payouts.OutcomeCompleted}, nil
}

func (f *fakePayouts) Balance(context.Context) (int64, error) { return f.balance, nil }

type fakeRefunds struct {
	decision refunds.Decision
	note     string
	params   pagination.Params
	items    []models.RefundRequest
}

func (f *fakeRefunds) ListPending(_ context.Context, params pagination.Params) (*refunds.RefundPage, error) {
	f.params = params
	return &refunds.RefundPage{Items: f.items, Cursor: "next-1"}, nil
}

func (f *fakeRefunds) ResolveRefund(_ context.Context, id uuid.UUID, decision refunds.Decision, _ uuid.UUID, note string) (*models.RefundRequest, error) {
	f.decision, f.note = decision, note
	return &models.RefundRequest{ID: id, Status: enums.RefundRequestStatusRefunded}, nil
}

type fakeReconciliation struct {
	openOnly  bool
	reference string
	assigned  [2]uuid.UUID
	items     []models.UnmatchedEvent
}

func (f *fakeReconciliation) ListUnmatched(_ context.Context, openOnly bool, _ pagination.Params) (*reconciliation.UnmatchedPage, error) {
	f.openOnly = openOnly
	return &reconciliation.UnmatchedPage{Items: f.items}, nil
}

func (f *fakeReconciliation) AssignUnmatched(_ context.Context, eventID, txID, _ uuid.UUID) (*reconciliation.Result, error) {
	f.assigned = [2]uuid.UUID{eventID, txID}
	return &reconciliation.Result{Outcome: reconciliation.OutcomeMatched, Tier: enums.MatchTierManual}, nil
}

func (f *fakeReconciliation) VerifyByReference(_ context.Context, reference string) (*reconciliation.Result, error) {
	f.reference = reference
	return &reconciliation.Result{Outcome: reconciliation.OutcomeNotPaid}, nil
}

type fakeJobs struct {
	ran []string
	err error
}

func (f *fakeJobs) RunOnce(_ context.Context, name string) error {
	f.ran = append(f.ran, name)
	return f.err
}

type fakeRevoker struct {
	jti       string
	expiresAt time.Time
}

func (f *fakeRevoker) Revoke(_ context.Context, jti string, expiresAt time.Time) error {
	f.jti, f.expiresAt = jti, expiresAt
	return nil
}

type fakeDeadLetters struct {
	rows     []models.OutboxDLQ
	replayed uuid.UUID
}

func (f *fakeDeadLetters) List(_ context.Context, limit int, reason enums.OutboxDLQErrorReason) ([]models.OutboxDLQ, error) {
	var out []models.OutboxDLQ
	for _, row := range f.rows {
		if reason == "" || row.ErrorReason == reason {
			out = append(out, row)
		}
	}
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDeadLetters) Replay(_ context.Context, eventID uuid.UUID) (*models.OutboxDLQ, error) {
	for _, row := range f.rows {
		if row.EventID == eventID {
			f.replayed = eventID
			return &row, nil
		}
	}
	return nil, outbox.ErrDeadLetterNotFound
}

type harness struct {
	out    *bytes.Buffer
	cli    *cli
	b      *backend
	closed bool
}

func newHarness() *harness {
	h := &harness{out: &bytes.Buffer{}}
	h.b = &backend{
		Payouts:        &fakePayouts{balance: 12_345_050},
		Refunds:        &fakeRefunds{},
		Reconciliation: &fakeReconciliation{},
		Jobs:           &fakeJobs{},
		JobNames:       []string{"payment-verification", "payout-retry"},
		Revocations:    &fakeRevoker{},
		DeadLetters:    &fakeDeadLetters{},
		close:          func() { h.closed = true },
	}
	h.cli = &cli{
		out: h.out,
		now: func() time.Time { return fixedNow },
		loadConfig: func() (*config.Config, error) {
			return &config.Config{JWT: config.JWTConfig{Secret: "test-secret", Issuer: "tradeline-test"}}, nil
		},
		connect: func(context.Context, *config.Config) (*backend, error) { return h.b, nil },
	}
	return h
}

func (h *harness) run(args ...string) error {
	root := newRootCmd(h.cli)
	root.SetArgs(args)
	root.SetOut(h.out)
	root.SetErr(h.out)
	return root.ExecuteContext(context.Background())
}

func TestJobsRunNamedJob(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("jobs", "run", "payout-retry"))
	assert.Equal(t, []string{"payout-retry"}, h.b.Jobs.(*fakeJobs).ran)
	assert.Contains(t, h.out.String(), "payout-retry completed")
	assert.True(t, h.closed)
}

func TestJobsRunFullCycleWhenLocked(t *testing.T) {
	h := newHarness()
	h.b.Jobs.(*fakeJobs).err = cron.ErrLocked
	err := h.run("jobs", "run")
	require.Error(t, err)
	assert.ErrorIs(t, err, cron.ErrLocked)
	assert.Equal(t, []string{""}, h.b.Jobs.(*fakeJobs).ran)
}

func TestJobsList(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("jobs", "list"))
	assert.Equal(t, "payment-verification\npayout-retry\n", h.out.String())
}

func TestTokenMintProducesVerifiableToken(t *testing.T) {
	h := newHarness()
	userID := uuid.New()
	h.cli.now = time.Now
	require.NoError(t, h.run("token", "mint", "--user", userID.String(), "--role", "user", "--jti", "ops-1"))

	claims, err := auth.ParseAccessToken(config.JWTConfig{Secret: "test-secret", Issuer: "tradeline-test"}, strings.TrimSpace(h.out.String()))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, enums.UserRoleUser, claims.Role)
	assert.Equal(t, "ops-1", claims.ID)
}

func TestTokenMintRejectsUnknownRole(t *testing.T) {
	h := newHarness()
	err := h.run("token", "mint", "--user", uuid.NewString(), "--role", "superuser")
	assert.Error(t, err)
	assert.Empty(t, h.out.String())
}

func TestTokenRevoke(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("token", "revoke", "jti-9", "--ttl", "2h"))
	rev := h.b.Revocations.(*fakeRevoker)
	assert.Equal(t, "jti-9", rev.jti)
	assert.Equal(t, fixedNow.Add(2*time.Hour), rev.expiresAt)
}

func TestPayoutsForceRequiresAdmin(t *testing.T) {
	h := newHarness()
	err := h.run("payouts", "force", uuid.NewString())
	assert.Error(t, err)
	assert.Equal(t, uuid.Nil, h.b.Payouts.(*fakePayouts).forcedTx)
}

func TestPayoutsForce(t *testing.T) {
	h := newHarness()
	txID, adminID := uuid.New(), uuid.New()
	require.NoError(t, h.run("payouts", "force", txID.String(), "--admin", adminID.String()))
	fake := h.b.Payouts.(*fakePayouts)
	assert.Equal(t, txID, fake.forcedTx)
	assert.Equal(t, adminID, fake.forcedBy)
	assert.Contains(t, h.out.String(), `"outcome": "otp_required"`)
}

func TestPayoutsFinalizeOTPTrims(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("payouts", "finalize-otp", uuid.NewString(), " 123456 ", "--admin", uuid.NewString()))
	assert.Equal(t, "123456", h.b.Payouts.(*fakePayouts).otp)
}

func TestPayoutsBalanceInNaira(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("payouts", "balance"))
	assert.Equal(t, "₦123,450.50\n", h.out.String())
}

func TestRefundsResolve(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("refunds", "resolve", uuid.NewString(), "APPROVE", "--admin", uuid.NewString(), "--note", " item never shipped "))
	fake := h.b.Refunds.(*fakeRefunds)
	assert.Equal(t, refunds.DecisionApprove, fake.decision)
	assert.Equal(t, "item never shipped", fake.note)
}

func TestRefundsResolveRejectsUnknownDecision(t *testing.T) {
	h := newHarness()
	err := h.run("refunds", "resolve", uuid.NewString(), "maybe", "--admin", uuid.NewString())
	assert.Error(t, err)
	assert.False(t, h.closed)
}

func TestRefundsListPrintsCursor(t *testing.T) {
	h := newHarness()
	h.b.Refunds.(*fakeRefunds).items = []models.RefundRequest{{ID: uuid.New(), TransactionID: uuid.New(), Reason: "damaged", CreatedAt: fixedNow}}
	require.NoError(t, h.run("refunds", "list", "--limit", "5"))
	assert.Equal(t, 5, h.b.Refunds.(*fakeRefunds).params.Limit)
	assert.Contains(t, h.out.String(), "damaged")
	assert.Contains(t, h.out.String(), "next cursor: next-1")
}

func TestUnmatchedListDefaultsToOpen(t *testing.T) {
	h := newHarness()
	h.b.Reconciliation.(*fakeReconciliation).items = []models.UnmatchedEvent{{ID: uuid.New(), GatewayEventID: "evt_77", AmountKobo: 250000, Reason: enums.UnmatchedReasonNoMatch}}
	require.NoError(t, h.run("unmatched", "list"))
	assert.True(t, h.b.Reconciliation.(*fakeReconciliation).openOnly)
	assert.Contains(t, h.out.String(), "₦2,500.00")

	h = newHarness()
	require.NoError(t, h.run("unmatched", "list", "--all"))
	assert.False(t, h.b.Reconciliation.(*fakeReconciliation).openOnly)
}

func TestUnmatchedAssign(t *testing.T) {
	h := newHarness()
	eventID, txID := uuid.New(), uuid.New()
	require.NoError(t, h.run("unmatched", "assign", eventID.String(), txID.String(), "--admin", uuid.NewString()))
	assert.Equal(t, [2]uuid.UUID{eventID, txID}, h.b.Reconciliation.(*fakeReconciliation).assigned)
	assert.Contains(t, h.out.String(), "manual")
}

func TestVerify(t *testing.T) {
	h := newHarness()
	require.NoError(t, h.run("verify", " TL-REF-1 "))
	assert.Equal(t, "TL-REF-1", h.b.Reconciliation.(*fakeReconciliation).reference)
}

func TestConnectFailureSurfaces(t *testing.T) {
	h := newHarness()
	h.cli.connect = func(context.Context, *config.Config) (*backend, error) {
		return nil, errors.New("connect redis: refused")
	}
	err := h.run("verify", "TL-REF-1")
	assert.ErrorContains(t, err, "refused")
}

func TestOutboxDeadLettersAndReplay(t *testing.T) {
	h := newHarness()
	msg := "rpc error: code = NotFound desc = topic tradeline-settlement-events"
	eventID := uuid.New()
	h.b.DeadLetters.(*fakeDeadLetters).rows = []models.OutboxDLQ{{
		EventID:      eventID,
		EventType:    enums.EventPayoutCompleted,
		ErrorReason:  enums.OutboxDLQReasonNonRetryable,
		ErrorMessage: &msg,
		AttemptCount: 1,
		FailedAt:     fixedNow,
	}}

	require.NoError(t, h.run("outbox", "dead-letters"))
	assert.Contains(t, h.out.String(), eventID.String())
	assert.Contains(t, h.out.String(), "non_retryable")

	require.NoError(t, h.run("outbox", "replay", eventID.String()))
	assert.Equal(t, eventID, h.b.DeadLetters.(*fakeDeadLetters).replayed)
	assert.Contains(t, h.out.String(), "requeued "+eventID.String())

	err := h.run("outbox", "replay", uuid.NewString())
	assert.ErrorIs(t, err, outbox.ErrDeadLetterNotFound)

	h.out.Reset()
	require.NoError(t, h.run("outbox", "dead-letters", "--reason", "max_attempts"))
	assert.NotContains(t, h.out.String(), eventID.String())

	assert.Error(t, h.run("outbox", "dead-letters", "--reason", "gave_up"))
}
