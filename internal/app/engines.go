// Package app assembles the settlement engines shared by the api, the cron
// worker and settlementctl.
package app

import (
	"fmt"

	"github.com/angelmondragon/tradeline-backend/internal/commission"
	"github.com/angelmondragon/tradeline-backend/internal/escrow"
	"github.com/angelmondragon/tradeline-backend/internal/ledger"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/internal/payments"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	paystackwebhook "github.com/angelmondragon/tradeline-backend/internal/webhooks/paystack"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/metrics"
	"github.com/angelmondragon/tradeline-backend/pkg/outbox"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

const maxRefundGatewayAttempts = 5

type Engines struct {
	Store          *ledger.Store
	Outbox         *outbox.Service
	Machine        *escrow.Machine
	Payments       *payments.Service
	Payouts        *payouts.Engine
	Refunds        *refunds.Service
	Reconciliation *reconciliation.Engine
	Webhooks       *paystackwebhook.Service
}

// NewGateway builds the Paystack client with gateway-call metrics attached.
func NewGateway(cfg *config.Config, m *metrics.SettlementMetrics) (*paystack.Client, error) {
	var opts []paystack.Option
	if m != nil {
		opts = append(opts, paystack.WithObserver(m))
	}
	client, err := paystack.NewFromConfig(cfg.Paystack, opts...)
	if err != nil {
		return nil, fmt.Errorf("paystack client: %w", err)
	}
	return client, nil
}

// BuildEngines wires every settlement component over one database client and
// one gateway client.
func BuildEngines(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gateway *paystack.Client, m *metrics.SettlementMetrics) (*Engines, error) {
	if dbClient == nil {
		return nil, fmt.Errorf("database client required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("paystack client required")
	}

	store := ledger.NewStore(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	notifier := notifications.NewNotifier(emitter)

	splitter, err := commission.FromConfig(cfg.Escrow)
	if err != nil {
		return nil, err
	}

	machine, err := escrow.NewMachine(store, splitter, emitter, notifier, logg)
	if err != nil {
		return nil, fmt.Errorf("escrow machine: %w", err)
	}

	paymentSvc, err := payments.NewService(dbClient, store, gateway, machine, payments.Options{
		DedicatedAccounts: cfg.FeatureFlags.DedicatedAccounts,
		PreferredBank:     cfg.Paystack.PreferredBank,
		Manual: payments.ManualAccount{
			Number:   cfg.Escrow.ManualAccountNumber,
			BankName: cfg.Escrow.ManualBankName,
			Name:     cfg.Escrow.ManualAccountName,
		},
		PaymentTTL:     cfg.Escrow.PaymentTTL,
		GatewayTimeout: cfg.Paystack.Timeout,
	}, logg)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	payoutEngine, err := payouts.NewEngine(dbClient, store, gateway, machine, m, logg, payouts.Options{
		BalanceTimeout: cfg.Paystack.BalanceTimeout,
		GatewayTimeout: cfg.Paystack.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("payout engine: %w", err)
	}

	refundSvc, err := refunds.NewService(dbClient, store, gateway, machine, emitter, notifier, logg, refunds.Options{
		GatewayTimeout:     cfg.Paystack.Timeout,
		MaxGatewayAttempts: maxRefundGatewayAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("refund service: %w", err)
	}

	reconciler, err := reconciliation.NewEngine(dbClient, store, machine, gateway, emitter, m, logg, reconciliation.Options{
		MatchWindow:    cfg.Escrow.MatchWindow,
		HighValueKobo:  cfg.Escrow.HighValueKobo(),
		GatewayTimeout: cfg.Paystack.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("reconciliation engine: %w", err)
	}

	webhooks, err := paystackwebhook.NewService(paystackwebhook.ServiceParams{
		Reconciler: reconciler,
		Payouts:    payoutEngine,
		Refunds:    refundSvc,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook service: %w", err)
	}

	return &Engines{
		Store:          store,
		Outbox:         emitter,
		Machine:        machine,
		Payments:       paymentSvc,
		Payouts:        payoutEngine,
		Refunds:        refundSvc,
		Reconciliation: reconciler,
		Webhooks:       webhooks,
	}, nil
}
