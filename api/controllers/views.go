package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/db/models"
	"github.com/angelmondragon/tradeline-backend/pkg/enums"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
)

// Amounts leave the API as naira decimal strings; kobo never crosses the
// HTTP boundary.

type transactionView struct {
	ID                  uuid.UUID               `json:"id"`
	PaymentReference    string                  `json:"payment_reference"`
	BuyerID             uuid.UUID               `json:"buyer_id"`
	SellerID            uuid.UUID               `json:"seller_id"`
	ProductID           uuid.UUID               `json:"product_id"`
	Status              enums.TransactionStatus `json:"status"`
	Amount              string                  `json:"amount"`
	Commission          string                  `json:"commission"`
	SellerShare         string                  `json:"seller_share"`
	GatewayFee          string                  `json:"gateway_fee"`
	Currency            string                  `json:"currency"`
	ChannelType         enums.ChannelType       `json:"channel_type"`
	AccountNumber       string                  `json:"account_number"`
	BankName            string                  `json:"bank_name"`
	OTPRequired         bool                    `json:"otp_required,omitempty"`
	HasReceipt          bool                    `json:"has_receipt"`
	PaidAt              *time.Time              `json:"paid_at,omitempty"`
	DeliveryConfirmedAt *time.Time              `json:"delivery_confirmed_at,omitempty"`
	CompletedAt         *time.Time              `json:"completed_at,omitempty"`
	CancelledAt         *time.Time              `json:"cancelled_at,omitempty"`
	RefundedAt          *time.Time              `json:"refunded_at,omitempty"`
	CreatedAt           time.Time               `json:"created_at"`
}

func newTransactionView(txn *models.Transaction) transactionView {
	return transactionView{
		ID:                  txn.ID,
		PaymentReference:    txn.PaymentReference,
		BuyerID:             txn.BuyerID,
		SellerID:            txn.SellerID,
		ProductID:           txn.ProductID,
		Status:              txn.Status,
		Amount:              naira(txn.AmountKobo),
		Commission:          naira(txn.CommissionKobo),
		SellerShare:         naira(txn.SellerShareKobo),
		GatewayFee:          naira(txn.GatewayFeeKobo),
		Currency:            money.Currency,
		ChannelType:         txn.ChannelType,
		AccountNumber:       txn.ChannelAccountNumber,
		BankName:            txn.ChannelBankName,
		OTPRequired:         txn.OTPRequired,
		HasReceipt:          txn.ReceiptURL != nil && *txn.ReceiptURL != "",
		PaidAt:              txn.PaidAt,
		DeliveryConfirmedAt: txn.DeliveryConfirmedAt,
		CompletedAt:         txn.CompletedAt,
		CancelledAt:         txn.CancelledAt,
		RefundedAt:          txn.RefundedAt,
		CreatedAt:           txn.CreatedAt,
	}
}

func newTransactionViews(rows []models.Transaction) []transactionView {
	out := make([]transactionView, 0, len(rows))
	for i := range rows {
		out = append(out, newTransactionView(&rows[i]))
	}
	return out
}

type refundView struct {
	ID             uuid.UUID                 `json:"id"`
	TransactionID  uuid.UUID                 `json:"transaction_id"`
	BuyerID        uuid.UUID                 `json:"buyer_id"`
	Reason         string                    `json:"reason"`
	Status         enums.RefundRequestStatus `json:"status"`
	Gross          string                    `json:"gross"`
	GatewayFee     string                    `json:"gateway_fee"`
	Net            string                    `json:"net"`
	GatewayStatus  enums.GatewayRefundStatus `json:"gateway_status"`
	ResolutionNote *string                   `json:"resolution_note,omitempty"`
	ResolvedBy     *uuid.UUID                `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time                `json:"resolved_at,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
}

func newRefundView(req *models.RefundRequest) refundView {
	return refundView{
		ID:             req.ID,
		TransactionID:  req.TransactionID,
		BuyerID:        req.BuyerID,
		Reason:         req.Reason,
		Status:         req.Status,
		Gross:          naira(req.GrossKobo),
		GatewayFee:     naira(req.GatewayFeeKobo),
		Net:            naira(req.NetKobo),
		GatewayStatus:  req.GatewayStatus,
		ResolutionNote: req.ResolutionNote,
		ResolvedBy:     req.ResolvedBy,
		ResolvedAt:     req.ResolvedAt,
		CreatedAt:      req.CreatedAt,
	}
}

type unmatchedView struct {
	ID                    uuid.UUID             `json:"id"`
	GatewayEventID        string                `json:"gateway_event_id"`
	EventType             string                `json:"event_type"`
	Amount                string                `json:"amount"`
	ChannelIdentifier     *string               `json:"channel_identifier,omitempty"`
	Email                 *string               `json:"email,omitempty"`
	ExtractedReference    *string               `json:"extracted_reference,omitempty"`
	Reason                enums.UnmatchedReason `json:"reason"`
	HighValue             bool                  `json:"high_value"`
	ResolvedTransactionID *uuid.UUID            `json:"resolved_transaction_id,omitempty"`
	ResolvedAt            *time.Time            `json:"resolved_at,omitempty"`
	CreatedAt             time.Time             `json:"created_at"`
}

func newUnmatchedView(ev *models.UnmatchedEvent) unmatchedView {
	return unmatchedView{
		ID:                    ev.ID,
		GatewayEventID:        ev.GatewayEventID,
		EventType:             ev.EventType,
		Amount:                naira(ev.AmountKobo),
		ChannelIdentifier:     ev.ChannelIdentifier,
		Email:                 ev.Email,
		ExtractedReference:    ev.ExtractedReference,
		Reason:                ev.Reason,
		HighValue:             ev.HighValue,
		ResolvedTransactionID: ev.ResolvedTransactionID,
		ResolvedAt:            ev.ResolvedAt,
		CreatedAt:             ev.CreatedAt,
	}
}

type pageView[T any] struct {
	Items  []T    `json:"items"`
	Cursor string `json:"cursor"`
}

func naira(kobo int64) string {
	return money.KoboToNaira(kobo).StringFixed(2)
}
