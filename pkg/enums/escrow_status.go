package enums

import "slices"

// EscrowStatus tracks the held funds for a paid transaction.
type EscrowStatus string

const (
	EscrowStatusInEscrow       EscrowStatus = "in_escrow"
	EscrowStatusReleased       EscrowStatus = "released"
	EscrowStatusCompleted      EscrowStatus = "completed"
	EscrowStatusTransferFailed EscrowStatus = "transfer_failed"
	EscrowStatusReversed       EscrowStatus = "reversed"
	EscrowStatusRefunded       EscrowStatus = "refunded"
)

var validEscrowStatuses = []EscrowStatus{
	EscrowStatusInEscrow,
	EscrowStatusReleased,
	EscrowStatusCompleted,
	EscrowStatusTransferFailed,
	EscrowStatusReversed,
	EscrowStatusRefunded,
}

// String implements fmt.Stringer.
func (e EscrowStatus) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EscrowStatus.
func (e EscrowStatus) IsValid() bool {
	return slices.Contains(validEscrowStatuses, e)
}

// ParseEscrowStatus converts raw input into a EscrowStatus.
func ParseEscrowStatus(value string) (EscrowStatus, error) {
	return parse("escrow status", value, validEscrowStatuses)
}
