package paystack

import (
	"encoding/json"
	"time"
)

const (
	TransferStatusSuccess  = "success"
	TransferStatusPending  = "pending"
	TransferStatusOTP      = "otp"
	TransferStatusFailed   = "failed"
	TransferStatusReversed = "reversed"
	TransferStatusReceived = "received"

	ChargeStatusSuccess = "success"

	RefundStatusPending    = "pending"
	RefundStatusProcessing = "processing"
	RefundStatusProcessed  = "processed"
	RefundStatusFailed     = "failed"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type CustomerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type Customer struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

type DedicatedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Bank          struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"bank"`
}

type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type Recipient struct {
	RecipientCode string `json:"recipient_code"`
	Name          string `json:"name"`
}

type TransferRequest struct {
	Source        string `json:"source"`
	AmountKobo    int64  `json:"amount"`
	RecipientCode string `json:"recipient"`
	Reference     string `json:"reference"`
	Reason        string `json:"reason,omitempty"`
}

type Transfer struct {
	ID           int64  `json:"id"`
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	AmountKobo   int64  `json:"amount"`
	Status       string `json:"status"`
}

// Charge is a collected payment as reported by verify or a charge webhook.
type Charge struct {
	ID              int64           `json:"id"`
	Reference       string          `json:"reference"`
	Status          string          `json:"status"`
	AmountKobo      int64           `json:"amount"`
	FeesKobo        int64           `json:"fees"`
	Currency        string          `json:"currency"`
	Channel         string          `json:"channel"`
	PaidAt          *time.Time      `json:"paid_at"`
	CreatedAt       *time.Time      `json:"created_at"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
	Customer        struct {
		Email        string `json:"email"`
		CustomerCode string `json:"customer_code"`
	} `json:"customer"`
	Authorization struct {
		ReceiverBankAccountNumber string `json:"receiver_bank_account_number"`
		ReceiverBank              string `json:"receiver_bank"`
		SenderName                string `json:"sender_name"`
		Narration                 string `json:"narration"`
	} `json:"authorization"`
}

// MetadataMap decodes metadata when the gateway sent an object; it is an
// empty string on charges created without metadata.
func (c Charge) MetadataMap() map[string]any {
	if len(c.Metadata) == 0 || c.Metadata[0] != '{' {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(c.Metadata, &out); err != nil {
		return nil
	}
	return out
}

type RefundRequest struct {
	TransactionReference string `json:"transaction"`
	AmountKobo           int64  `json:"amount,omitempty"`
	MerchantNote         string `json:"merchant_note,omitempty"`
}

type Refund struct {
	ID          int64  `json:"id"`
	AmountKobo  int64  `json:"amount"`
	Status      string `json:"status"`
	Transaction struct {
		Reference string `json:"reference"`
	} `json:"transaction"`
}

type balanceEntry struct {
	Currency string `json:"currency"`
	Balance  int64  `json:"balance"`
}
