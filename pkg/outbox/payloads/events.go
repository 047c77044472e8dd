package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/tradeline-backend/pkg/enums"
)

// TransactionEvent describes one lifecycle step of a transaction. It backs
// every payment_* and payout_* event.
type TransactionEvent struct {
	TransactionID     uuid.UUID               `json:"transaction_id"`
	PaymentReference  string                  `json:"payment_reference"`
	BuyerID           uuid.UUID               `json:"buyer_id"`
	SellerID          uuid.UUID               `json:"seller_id"`
	ProductID         uuid.UUID               `json:"product_id"`
	Status            enums.TransactionStatus `json:"status"`
	AmountKobo        int64                   `json:"amount_kobo"`
	CommissionKobo    int64                   `json:"commission_kobo"`
	SellerShareKobo   int64                   `json:"seller_share_kobo"`
	GatewayFeeKobo    int64                   `json:"gateway_fee_kobo,omitempty"`
	MatchTier         enums.MatchTier         `json:"match_tier,omitempty"`
	TransferReference string                  `json:"transfer_reference,omitempty"`
	Reason            string                  `json:"reason,omitempty"`
	OccurredAt        time.Time               `json:"occurred_at"`
}

// RefundEvent is emitted when a refund is requested or resolved.
type RefundEvent struct {
	RefundRequestID  uuid.UUID                 `json:"refund_request_id"`
	TransactionID    uuid.UUID                 `json:"transaction_id"`
	PaymentReference string                    `json:"payment_reference"`
	BuyerID          uuid.UUID                 `json:"buyer_id"`
	SellerID         uuid.UUID                 `json:"seller_id"`
	Status           enums.RefundRequestStatus `json:"status"`
	GatewayStatus    enums.GatewayRefundStatus `json:"gateway_status,omitempty"`
	GrossKobo        int64                     `json:"gross_kobo"`
	GatewayFeeKobo   int64                     `json:"gateway_fee_kobo"`
	NetKobo          int64                     `json:"net_kobo"`
	Reason           string                    `json:"reason,omitempty"`
	ResolvedBy       *uuid.UUID                `json:"resolved_by,omitempty"`
	OccurredAt       time.Time                 `json:"occurred_at"`
}

// UnmatchedPaymentEvent flags an inbound payment that needs manual review.
type UnmatchedPaymentEvent struct {
	UnmatchedEventID uuid.UUID             `json:"unmatched_event_id"`
	GatewayEventID   string                `json:"gateway_event_id"`
	Reason           enums.UnmatchedReason `json:"reason"`
	AmountKobo       int64                 `json:"amount_kobo"`
	Reference        string                `json:"reference,omitempty"`
	HighValue        bool                  `json:"high_value"`
	OccurredAt       time.Time             `json:"occurred_at"`
}

// ReceiptRequestedEvent carries everything the receipt renderer prints.
type ReceiptRequestedEvent struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	PaymentReference string    `json:"payment_reference"`
	ProductTitle     string    `json:"product_title"`
	BuyerName        string    `json:"buyer_name"`
	BuyerEmail       string    `json:"buyer_email"`
	SellerName       string    `json:"seller_name"`
	AmountKobo       int64     `json:"amount_kobo"`
	CommissionKobo   int64     `json:"commission_kobo"`
	SellerShareKobo  int64     `json:"seller_share_kobo"`
	PaidAt           time.Time `json:"paid_at"`
}

// NotificationRequestedEvent asks the worker to store and push a user notification.
type NotificationRequestedEvent struct {
	UserID        uuid.UUID              `json:"user_id"`
	Type          enums.NotificationType `json:"type"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Link          *string                `json:"link,omitempty"`
	TransactionID *uuid.UUID             `json:"transaction_id,omitempty"`
	Data          map[string]string      `json:"data,omitempty"`
}
