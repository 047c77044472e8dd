package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw request body.
const SignatureHeader = "X-Paystack-Signature"

const (
	EventChargeSuccess    = "charge.success"
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
	EventRefundProcessed  = "refund.processed"
	EventRefundFailed     = "refund.failed"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Sign computes the signature the gateway would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against body in constant time.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return fmt.Errorf("%w: signing secret not configured", ErrInvalidSignature)
	}
	provided, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || len(provided) == 0 {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the outer webhook envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent validates the envelope shape without interpreting data.
func ParseEvent(body []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(evt.Event) == "" {
		return nil, fmt.Errorf("%w: event is required", ErrInvalidPayload)
	}
	trimmed := strings.TrimSpace(string(evt.Data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: data must be an object", ErrInvalidPayload)
	}
	return &evt, nil
}

// Charge decodes a charge.* payload.
func (e *Event) Charge() (*Charge, error) {
	var charge Charge
	if err := json.Unmarshal(e.Data, &charge); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if charge.AmountKobo <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidPayload)
	}
	return &charge, nil
}

// Transfer decodes a transfer.* payload.
func (e *Event) Transfer() (*Transfer, error) {
	var transfer Transfer
	if err := json.Unmarshal(e.Data, &transfer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(transfer.Reference) == "" {
		return nil, fmt.Errorf("%w: transfer reference is required", ErrInvalidPayload)
	}
	return &transfer, nil
}

// RefundEvent is the refund.* payload shape.
type RefundEvent struct {
	Status               string `json:"status"`
	TransactionReference string `json:"transaction_reference"`
	AmountKobo           int64  `json:"amount"`
	RefundReference      string `json:"refund_reference"`
}

// Refund decodes a refund.* payload.
func (e *Event) Refund() (*RefundEvent, error) {
	var refund RefundEvent
	if err := json.Unmarshal(e.Data, &refund); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(refund.TransactionReference) == "" {
		return nil, fmt.Errorf("%w: transaction reference is required", ErrInvalidPayload)
	}
	return &refund, nil
}

// DedupKey identifies one delivery of one logical event. The gateway has no
// event id, so it is derived from the event kind and the object identity.
func (e *Event) DedupKey() string {
	var probe struct {
		ID           json.Number `json:"id"`
		Reference    string      `json:"reference"`
		TransferCode string      `json:"transfer_code"`
		TxReference  string      `json:"transaction_reference"`
	}
	_ = json.Unmarshal(e.Data, &probe)
	ident := probe.ID.String()
	for _, candidate := range []string{probe.Reference, probe.TransferCode, probe.TxReference} {
		if ident != "" {
			break
		}
		ident = candidate
	}
	if ident == "" {
		sum := sha512.Sum512(e.Data)
		ident = hex.EncodeToString(sum[:16])
	}
	return e.Event + ":" + ident
}
