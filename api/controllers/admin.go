package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	"github.com/angelmondragon/tradeline-backend/api/validators"
	"github.com/angelmondragon/tradeline-backend/internal/payouts"
	"github.com/angelmondragon/tradeline-backend/internal/reconciliation"
	"github.com/angelmondragon/tradeline-backend/internal/refunds"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

type refundAdmin interface {
	ListPending(ctx context.Context, params pagination.Params) (*refunds.RefundPage, error)
	ResolveRefund(ctx context.Context, requestID uuid.UUID, decision refunds.Decision, adminID uuid.UUID, note string) (*models.RefundRequest, error)
}

type payoutAdmin interface {
	ForcePayout(ctx context.Context, txID, adminID uuid.UUID) (*payouts.Result, error)
	FinalizeOTP(ctx context.Context, txID, adminID uuid.UUID, otp string) (*payouts.Result, error)
}

type reconciliationAdmin interface {
	ListUnmatched(ctx context.Context, openOnly bool, params pagination.Params) (*reconciliation.UnmatchedPage, error)
	AssignUnmatched(ctx context.Context, eventID, txID, adminID uuid.UUID) (*reconciliation.Result, error)
	VerifyByReference(ctx context.Context, reference string) (*reconciliation.Result, error)
}

type reconciliationResultView struct {
	Outcome          reconciliation.Outcome `json:"outcome"`
	Tier             enums.MatchTier        `json:"tier,omitempty"`
	UnmatchedReason  enums.UnmatchedReason  `json:"unmatched_reason,omitempty"`
	UnmatchedEventID *uuid.UUID             `json:"unmatched_event_id,omitempty"`
	Transaction      *transactionView       `json:"transaction,omitempty"`
}

func newReconciliationResultView(res *reconciliation.Result) reconciliationResultView {
	out := reconciliationResultView{
		Outcome:          res.Outcome,
		Tier:             res.Tier,
		UnmatchedReason:  res.UnmatchedReason,
		UnmatchedEventID: res.UnmatchedEventID,
	}
	if res.Transaction != nil {
		view := newTransactionView(res.Transaction)
		out.Transaction = &view
	}
	return out
}

// AdminListRefunds returns the queue of refund requests awaiting a decision.
func AdminListRefunds(svc refundAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListPending(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]refundView, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, newRefundView(&page.Items[i]))
		}
		responses.WriteSuccess(w, pageView[refundView]{Items: items, Cursor: page.Cursor})
	}
}

type resolveRefundBody struct {
	Decision string `json:"decision" validate:"required,oneof=approve deny"`
	Note     string `json:"note" validate:"max=1000"`
}

func AdminResolveRefund(svc refundAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		requestID, err := validators.ParseUUIDParam(r, "refundID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body resolveRefundBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		decision, err := refunds.ParseDecision(body.Decision)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid decision"))
			return
		}

		req, err := svc.ResolveRefund(r.Context(), requestID, decision, adminID, validators.SanitizeString(body.Note, 1000))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRefundView(req))
	}
}

// AdminForcePayout pays a seller without the buyer's confirmation.
func AdminForcePayout(svc payoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.ForcePayout(r.Context(), txID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPayoutResultView(res))
	}
}

type finalizeOTPBody struct {
	OTP string `json:"otp" validate:"required,min=4,max=10"`
}

func AdminFinalizeOTP(svc payoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body finalizeOTPBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.FinalizeOTP(r.Context(), txID, adminID, strings.TrimSpace(body.OTP))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPayoutResultView(res))
	}
}

// AdminListUnmatched pages through parked gateway events. status=all includes
// resolved ones.
func AdminListUnmatched(svc reconciliationAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params, err := pageParams(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		openOnly := true
		switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("status"))) {
		case "", "open":
		case "all":
			openOnly = false
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "status must be open or all"))
			return
		}

		page, err := svc.ListUnmatched(r.Context(), openOnly, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]unmatchedView, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, newUnmatchedView(&page.Items[i]))
		}
		responses.WriteSuccess(w, pageView[unmatchedView]{Items: items, Cursor: page.Cursor})
	}
}

type assignUnmatchedBody struct {
	TransactionID string `json:"transaction_id" validate:"required,uuid"`
}

func AdminAssignUnmatched(svc reconciliationAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		eventID, err := validators.ParseUUIDParam(r, "eventID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body assignUnmatchedBody
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := uuid.Parse(body.TransactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id"))
			return
		}

		res, err := svc.AssignUnmatched(r.Context(), eventID, txID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReconciliationResultView(res))
	}
}

// AdminVerifyPayment asks the gateway about a reference and settles it if the
// charge succeeded.
func AdminVerifyPayment(svc reconciliationAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := strings.TrimSpace(chi.URLParam(r, "reference"))
		if reference == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}
		res, err := svc.VerifyByReference(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newReconciliationResultView(res))
	}
}
