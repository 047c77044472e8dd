package enums

import "slices"

// GatewayRefundStatus tracks the money movement half of an approved refund.
type GatewayRefundStatus string

const (
	GatewayRefundStatusNotRequired GatewayRefundStatus = "not_required"
	GatewayRefundStatusPending     GatewayRefundStatus = "pending"
	GatewayRefundStatusProcessed   GatewayRefundStatus = "processed"
	GatewayRefundStatusFailed      GatewayRefundStatus = "failed"
)

var validGatewayRefundStatuses = []GatewayRefundStatus{
	GatewayRefundStatusNotRequired,
	GatewayRefundStatusPending,
	GatewayRefundStatusProcessed,
	GatewayRefundStatusFailed,
}

// String implements fmt.Stringer.
func (g GatewayRefundStatus) String() string {
	return string(g)
}

// IsValid reports whether the value is a known GatewayRefundStatus.
func (g GatewayRefundStatus) IsValid() bool {
	return slices.Contains(validGatewayRefundStatuses, g)
}

// ParseGatewayRefundStatus converts raw input into a GatewayRefundStatus.
func ParseGatewayRefundStatus(value string) (GatewayRefundStatus, error) {
	return parse("gateway refund status", value, validGatewayRefundStatuses)
}
