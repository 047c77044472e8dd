package enums

import "slices"

// RefundRequestStatus tracks a buyer refund request through admin review.
type RefundRequestStatus string

const (
	RefundRequestStatusRequested RefundRequestStatus = "refund_requested"
	RefundRequestStatusRefunded  RefundRequestStatus = "refunded"
	RefundRequestStatusRejected  RefundRequestStatus = "rejected"
)

var validRefundRequestStatuses = []RefundRequestStatus{
	RefundRequestStatusRequested,
	RefundRequestStatusRefunded,
	RefundRequestStatusRejected,
}

// String implements fmt.Stringer.
func (r RefundRequestStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundRequestStatus.
func (r RefundRequestStatus) IsValid() bool {
	return slices.Contains(validRefundRequestStatuses, r)
}

// ParseRefundRequestStatus converts raw input into a RefundRequestStatus.
func ParseRefundRequestStatus(value string) (RefundRequestStatus, error) {
	return parse("refund request status", value, validRefundRequestStatuses)
}
