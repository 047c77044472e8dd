package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/tradeline-backend/api/controllers"
	analyticscontrollers "github.com/angelmondragon/tradeline-backend/api/controllers/analytics"
	webhookcontrollers "github.com/angelmondragon/tradeline-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tradeline-backend/api/middleware"
	"github.com/angelmondragon/tradeline-backend/internal/analytics"
	"github.com/angelmondragon/tradeline-backend/internal/notifications"
	"github.com/angelmondragon/tradeline-backend/internal/payments"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	"github.com/angelmondragon/tradeline-backend/pkg/auth/session"
	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
	pkgredis "github.com/angelmondragon/tradeline-backend/pkg/redis"
)

type PaymentService interface {
	InitiatePayment(ctx context.Context, buyerID, productID uuid.UUID) (*payments.Instructions, error)
	CancelPayment(ctx context.Context, txID, buyerID uuid.UUID) (*models.Transaction, error)
	GetTransaction(ctx context.Context, txID, userID uuid.UUID, role enums.UserRole) (*models.Transaction, error)
	ListTransactions(ctx context.Context, status *enums.TransactionStatus, party *uuid.UUID, params pagination.Params) (*payments.TransactionPage, error)
	Instructions(txn *models.Transaction) *payments.Instructions
}

type PayoutService interface {
	ConfirmDelivery(ctx context.Context, txID, userID uuid.UUID) (*payouts.Result, error)
	ForcePayout(ctx context.Context, txID, adminID uuid.UUID) (*payouts.Result, error)
	FinalizeOTP(ctx context.Context, txID, adminID uuid.UUID, otp string) (*payouts.Result, error)
}

type RefundService interface {
	RequestRefund(ctx context.Context, txID, buyerID uuid.UUID, reason string) (*models.RefundRequest, error)
	ListPending(ctx context.Context, params pagination.Params) (*refunds.RefundPage, error)
	ResolveRefund(ctx context.Context, requestID uuid.UUID, decision refunds.Decision, adminID uuid.UUID, note string) (*models.RefundRequest, error)
}

type ReconciliationService interface {
	ListUnmatched(ctx context.Context, openOnly bool, params pagination.Params) (*reconciliation.UnmatchedPage, error)
	AssignUnmatched(ctx context.Context, eventID, txID, adminID uuid.UUID) (*reconciliation.Result, error)
	VerifyByReference(ctx context.Context, reference string) (*reconciliation.Result, error)
}

type WebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type ReceiptSigner interface {
	SignedReadURL(bucket, object string, expires time.Duration) (string, error)
}

// RequestStore backs idempotent replay and request throttling.
type RequestStore interface {
	pkgredis.ReplayStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// Dependencies carries everything the HTTP surface talks to.
type Dependencies struct {
	Store          RequestStore
	Revocations    session.RevocationChecker
	Readiness      []controllers.ReadinessCheck
	Payments       PaymentService
	Payouts        PayoutService
	Refunds        RefundService
	Reconciliation ReconciliationService
	Notifications  notifications.Service
	Analytics      analytics.Service
	Receipts       ReceiptSigner
	Webhooks       webhookcontrollers.PaystackWebhookService
	WebhookGuard   WebhookGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App),
	)

	paymentPolicy := middleware.NewRateLimitPolicy(
		"payments",
		cfg.RateLimit.Window,
		cfg.RateLimit.PaymentPerIP,
		cfg.RateLimit.PaymentPerUser,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness...))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paystack", webhookcontrollers.PaystackWebhook(deps.Webhooks, cfg.Paystack, deps.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Revocations, logg))
		r.Use(middleware.Idempotency(deps.Store, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/payments", func(r chi.Router) {
			r.With(middleware.RateLimit(paymentPolicy, deps.Store, logg)).Post("/", controllers.InitiatePayment(deps.Payments, logg))
			r.Get("/{transactionID}", controllers.GetPayment(deps.Payments, logg))
			r.Get("/{transactionID}/instructions", controllers.PaymentInstructions(deps.Payments, logg))
			r.Post("/{transactionID}/cancel", controllers.CancelPayment(deps.Payments, logg))
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", controllers.ListMyTransactions(deps.Payments, logg))
			r.Post("/{transactionID}/confirm-delivery", controllers.ConfirmDelivery(deps.Payouts, logg))
			r.Post("/{transactionID}/refund", controllers.RequestRefund(deps.Refunds, logg))
			r.Get("/{transactionID}/receipt", controllers.TransactionReceipt(deps.Payments, deps.Receipts, cfg.Receipts.SignedURLTTL, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationID}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.UserRoleAdmin))
			r.Get("/ping", controllers.AdminPing())

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", controllers.AdminListTransactions(deps.Payments, logg))
				r.Post("/{transactionID}/force-payout", controllers.AdminForcePayout(deps.Payouts, logg))
				r.Post("/{transactionID}/finalize-otp", controllers.AdminFinalizeOTP(deps.Payouts, logg))
			})
			r.Route("/refunds", func(r chi.Router) {
				r.Get("/", controllers.AdminListRefunds(deps.Refunds, logg))
				r.Post("/{refundID}/resolve", controllers.AdminResolveRefund(deps.Refunds, logg))
			})
			r.Route("/unmatched", func(r chi.Router) {
				r.Get("/", controllers.AdminListUnmatched(deps.Reconciliation, logg))
				r.Post("/{eventID}/assign", controllers.AdminAssignUnmatched(deps.Reconciliation, logg))
			})
			r.Post("/payments/{reference}/verify", controllers.AdminVerifyPayment(deps.Reconciliation, logg))
			r.Get("/analytics/settlements", analyticscontrollers.SettlementAnalytics(deps.Analytics, logg))
		})
	})

	return r
}
