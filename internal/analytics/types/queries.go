package types

import "time"

// SettlementQueryRequest bounds the dashboard window. End is exclusive.
type SettlementQueryRequest struct {
	Start time.Time
	End   time.Time
}

// TimeSeriesPoint describes a single date/value pair returned by the query service.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// LabelValue is one bucket of a breakdown, such as a match tier.
type LabelValue struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// SettlementQueryResponse wraps the settlement KPIs for the admin dashboard.
type SettlementQueryResponse struct {
	EscrowedKobo    []TimeSeriesPoint `json:"escrowed_kobo"`
	PaidOutKobo     []TimeSeriesPoint `json:"paid_out_kobo"`
	CommissionKobo  []TimeSeriesPoint `json:"commission_kobo"`
	RefundedKobo    []TimeSeriesPoint `json:"refunded_kobo"`
	MatchTiers      []LabelValue      `json:"match_tiers"`
	DeferredPayouts int64             `json:"deferred_payouts"`
	UnmatchedEvents int64             `json:"unmatched_events"`
}
