package enums

import "slices"

// UnmatchedReason explains why a gateway event was parked for review.
// TransactionClosed and DuplicatePayment mark money that arrived after the
// transaction stopped accepting it.
type UnmatchedReason string

const (
	UnmatchedReasonNoMatch            UnmatchedReason = "no_match"
	UnmatchedReasonAmbiguous          UnmatchedReason = "ambiguous"
	UnmatchedReasonAmountMismatch     UnmatchedReason = "amount_mismatch"
	UnmatchedReasonProductAlreadySold UnmatchedReason = "product_already_sold"
	UnmatchedReasonUnknownTransfer    UnmatchedReason = "unknown_transfer"
	UnmatchedReasonTransactionClosed  UnmatchedReason = "transaction_closed"
	UnmatchedReasonDuplicatePayment   UnmatchedReason = "duplicate_payment"
)

var validUnmatchedReasons = []UnmatchedReason{
	UnmatchedReasonNoMatch,
	UnmatchedReasonAmbiguous,
	UnmatchedReasonAmountMismatch,
	UnmatchedReasonProductAlreadySold,
	UnmatchedReasonUnknownTransfer,
	UnmatchedReasonTransactionClosed,
	UnmatchedReasonDuplicatePayment,
}

// String implements fmt.Stringer.
func (u UnmatchedReason) String() string {
	return string(u)
}

// IsValid reports whether the value is a known UnmatchedReason.
func (u UnmatchedReason) IsValid() bool {
	return slices.Contains(validUnmatchedReasons, u)
}

// ParseUnmatchedReason converts raw input into a UnmatchedReason.
func ParseUnmatchedReason(value string) (UnmatchedReason, error) {
	return parse("unmatched reason", value, validUnmatchedReasons)
}
