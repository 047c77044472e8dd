package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/api/responses"
	"github.com/angelmondragon/tradeline-backend/api/validators"
	"github.com/angelmondragon/tradeline-backend/internal/payments"
	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tradeline-backend/pkg/errors"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/pagination"
)

type paymentService interface {
	InitiatePayment(ctx context.Context, buyerID, productID uuid.UUID) (*payments.Instructions, error)
	CancelPayment(ctx context.Context, txID, buyerID uuid.UUID) (*models.Transaction, error)
	GetTransaction(ctx context.Context, txID, userID uuid.UUID, role enums.UserRole) (*models.Transaction, error)
	ListTransactions(ctx context.Context, status *enums.TransactionStatus, party *uuid.UUID, params pagination.Params) (*payments.TransactionPage, error)
	Instructions(txn *models.Transaction) *payments.Instructions
}

type initiatePaymentRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
}

// InitiatePayment starts a purchase and returns where the buyer should send
// money. Repeating the call for the same product reuses the pending row.
func InitiatePayment(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productID, err := uuid.Parse(body.ProductID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		instructions, err := svc.InitiatePayment(r.Context(), buyerID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if instructions.Reused {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, instructions)
	}
}

// GetPayment returns a transaction to one of its parties or an admin.
func GetPayment(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, ok := loadTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		responses.WriteSuccess(w, newTransactionView(txn))
	}
}

// PaymentInstructions repeats the transfer instructions for an unpaid
// transaction.
func PaymentInstructions(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, ok := loadTransaction(w, r, svc, logg)
		if !ok {
			return
		}
		if txn.Status != enums.TransactionStatusAwaitingPayment {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "transaction is no longer awaiting payment").
				WithDetails(map[string]any{"status": txn.Status}))
			return
		}
		responses.WriteSuccess(w, svc.Instructions(txn))
	}
}

func CancelPayment(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buyerID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		txID, err := validators.ParseUUIDParam(r, "transactionID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txn, err := svc.CancelPayment(r.Context(), txID, buyerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newTransactionView(txn))
	}
}

// ListMyTransactions pages through transactions where the caller is buyer
// or seller.
func ListMyTransactions(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, _, err := requestActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeTransactionPage(w, r, svc, &userID, logg)
	}
}

// AdminListTransactions pages through every transaction, optionally by status.
func AdminListTransactions(svc paymentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeTransactionPage(w, r, svc, nil, logg)
	}
}

func writeTransactionPage(w http.ResponseWriter, r *http.Request, svc paymentService, party *uuid.UUID, logg *logger.Logger) {
	params, err := pageParams(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}

	var status *enums.TransactionStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		parsed, err := enums.ParseTransactionStatus(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}
		status = &parsed
	}

	page, err := svc.ListTransactions(r.Context(), status, party, params)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, pageView[transactionView]{Items: newTransactionViews(page.Items), Cursor: page.Cursor})
}

func loadTransaction(w http.ResponseWriter, r *http.Request, svc paymentService, logg *logger.Logger) (*models.Transaction, bool) {
	userID, role, err := requestActor(r)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	txID, err := validators.ParseUUIDParam(r, "transactionID")
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	txn, err := svc.GetTransaction(r.Context(), txID, userID, role)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return nil, false
	}
	return txn, true
}

func pageParams(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}, nil
}
