package reconciliation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/tradeline-backend/internal/payments"
	"github.com/angelmondragon/tradeline-backend/pkg/paystack"
)

// PaymentEvent is a collected payment as reported by the gateway, from a
// webhook or from a verify poll.
type PaymentEvent struct {
	GatewayEventID   string
	EventType        string
	GatewayReference string
	Reference        string
	Narration        string
	Metadata         map[string]any
	AmountKobo       int64
	FeeKobo          int64
	AccountNumber    string
	CustomerCode     string
	Email            string
	OccurredAt       time.Time
	Raw              json.RawMessage
}

// EventFromCharge adapts a gateway charge. eventID is the dedup key of the
// delivery the charge came from.
func EventFromCharge(eventID string, charge *paystack.Charge, raw json.RawMessage) PaymentEvent {
	occurred := time.Now().UTC()
	switch {
	case charge.PaidAt != nil:
		occurred = charge.PaidAt.UTC()
	case charge.CreatedAt != nil:
		occurred = charge.CreatedAt.UTC()
	}
	gatewayRef := strings.TrimSpace(charge.Reference)
	if gatewayRef == "" && charge.ID != 0 {
		gatewayRef = strconv.FormatInt(charge.ID, 10)
	}
	if eventID == "" {
		eventID = fmt.Sprintf("%s:%d", paystack.EventChargeSuccess, charge.ID)
	}
	if len(raw) == 0 {
		raw, _ = json.Marshal(charge)
	}
	return PaymentEvent{
		GatewayEventID:   eventID,
		EventType:        paystack.EventChargeSuccess,
		GatewayReference: gatewayRef,
		Reference:        charge.Reference,
		Narration:        charge.Authorization.Narration,
		Metadata:         charge.MetadataMap(),
		AmountKobo:       charge.AmountKobo,
		FeeKobo:          charge.FeesKobo,
		AccountNumber:    strings.TrimSpace(charge.Authorization.ReceiverBankAccountNumber),
		CustomerCode:     strings.TrimSpace(charge.Customer.CustomerCode),
		Email:            strings.ToLower(strings.TrimSpace(charge.Customer.Email)),
		OccurredAt:       occurred,
		Raw:              raw,
	}
}

// ExtractReference returns the first payment reference found in the
// event's reference, metadata or narration.
func (e PaymentEvent) ExtractReference() string {
	for _, text := range e.searchable() {
		if ref := payments.ReferencePattern.FindString(strings.ToUpper(text)); ref != "" {
			return ref
		}
	}
	return ""
}

func (e PaymentEvent) searchable() []string {
	out := []string{e.Reference}
	out = append(out, flattenStrings(e.Metadata)...)
	return append(out, e.Narration)
}

// flattenStrings collects string leaves in key order so extraction is stable.
func flattenStrings(value any) []string {
	switch v := value.(type) {
	case string:
		return []string{v}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out []string
		for _, k := range keys {
			out = append(out, flattenStrings(v[k])...)
		}
		return out
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, flattenStrings(item)...)
		}
		return out
	default:
		return nil
	}
}
