package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// SettlementEventRow mirrors the settlement_events BigQuery schema. One row is
// written per money-moving lifecycle event.
type SettlementEventRow struct {
	EventID           string             `bigquery:"event_id"`
	EventType         string             `bigquery:"event_type"`
	OccurredAt        time.Time          `bigquery:"occurred_at"`
	TransactionID     *string            `bigquery:"transaction_id"`
	RefundRequestID   *string            `bigquery:"refund_request_id"`
	PaymentReference  *string            `bigquery:"payment_reference"`
	BuyerID           *string            `bigquery:"buyer_id"`
	SellerID          *string            `bigquery:"seller_id"`
	Status            *string            `bigquery:"status"`
	AmountKobo        *int64             `bigquery:"amount_kobo"`
	CommissionKobo    *int64             `bigquery:"commission_kobo"`
	SellerShareKobo   *int64             `bigquery:"seller_share_kobo"`
	GatewayFeeKobo    *int64             `bigquery:"gateway_fee_kobo"`
	RefundNetKobo     *int64             `bigquery:"refund_net_kobo"`
	MatchTier         *string            `bigquery:"match_tier"`
	TransferReference *string            `bigquery:"transfer_reference"`
	Reason            *string            `bigquery:"reason"`
	Payload           cbigquery.NullJSON `bigquery:"payload"`
}
