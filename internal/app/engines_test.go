package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/db/dbtest"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

func testConfig() *config.Config {
	return &config.Config{
		FeatureFlags: config.FeatureFlagsConfig{DedicatedAccounts: true},
		Paystack:     config.PaystackConfig{SecretKey: "sk_test_123", Currency: "NGN", Timeout: time.Second},
		Escrow: config.EscrowConfig{
			CommissionSchedule: config.CommissionScheduleFlat,
			FlatRatePercent:    "3",
			MatchWindow:        20 * time.Minute,
			PaymentTTL:         48 * time.Hour,
			VerifyAfter:        10 * time.Minute,
			TransferStaleAfter: 30 * time.Minute,
			HighValueNaira:     "500000",
		},
		Scheduler: config.SchedulerConfig{BatchSize: 50},
	}
}

func TestBuildEnginesWiresEveryComponent(t *testing.T) {
	cfg := testConfig()
	gateway, err := paystack.NewClient(cfg.Paystack.SecretKey, paystack.WithBaseURL("http://127.0.0.1:0"))
	require.NoError(t, err)

	engines, err := BuildEngines(cfg, logger.New(logger.Options{ServiceName: "test"}), db.Wrap(dbtest.Open(t)), gateway, nil)
	require.NoError(t, err)
	assert.NotNil(t, engines.Store)
	assert.NotNil(t, engines.Payments)
	assert.NotNil(t, engines.Payouts)
	assert.NotNil(t, engines.Refunds)
	assert.NotNil(t, engines.Reconciliation)
	assert.NotNil(t, engines.Webhooks)
}

func TestBuildEnginesRejectsUnknownCommissionSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Escrow.CommissionSchedule = "progressive"
	gateway, err := paystack.NewClient(cfg.Paystack.SecretKey)
	require.NoError(t, err)

	_, err = BuildEngines(cfg, logger.New(logger.Options{ServiceName: "test"}), db.Wrap(dbtest.Open(t)), gateway, nil)
	assert.Error(t, err)
}

func TestBuildJobsOrder(t *testing.T) {
	cfg := testConfig()
	logg := logger.New(logger.Options{ServiceName: "test"})
	dbClient := db.Wrap(dbtest.Open(t))
	gateway, err := paystack.NewClient(cfg.Paystack.SecretKey)
	require.NoError(t, err)
	engines, err := BuildEngines(cfg, logg, dbClient, gateway, nil)
	require.NoError(t, err)

	jobs, err := BuildJobs(cfg, logg, dbClient, engines)
	require.NoError(t, err)

	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	assert.Equal(t, []string{
		"payment-verification",
		"payment-expiry",
		"transfer-reconcile",
		"payout-retry",
		"refund-retry",
		"notification-cleanup",
		"outbox-retention",
	}, names)
}
