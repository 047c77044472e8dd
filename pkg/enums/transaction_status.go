package enums

import "slices"

// TransactionStatus maps to the transaction_status enum in Postgres.
type TransactionStatus string

const (
	TransactionStatusAwaitingPayment        TransactionStatus = "awaiting_payment"
	TransactionStatusInEscrow               TransactionStatus = "in_escrow"
	TransactionStatusConfirmedPendingPayout TransactionStatus = "confirmed_pending_payout"
	TransactionStatusTransferInitiated      TransactionStatus = "transfer_initiated"
	TransactionStatusCompleted              TransactionStatus = "completed"
	TransactionStatusTransferFailed         TransactionStatus = "transfer_failed"
	TransactionStatusReversed               TransactionStatus = "reversed"
	TransactionStatusRefundRequested        TransactionStatus = "refund_requested"
	TransactionStatusRefunded               TransactionStatus = "refunded"
	TransactionStatusCancelled              TransactionStatus = "cancelled"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusAwaitingPayment,
	TransactionStatusInEscrow,
	TransactionStatusConfirmedPendingPayout,
	TransactionStatusTransferInitiated,
	TransactionStatusCompleted,
	TransactionStatusTransferFailed,
	TransactionStatusReversed,
	TransactionStatusRefundRequested,
	TransactionStatusRefunded,
	TransactionStatusCancelled,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	return slices.Contains(validTransactionStatuses, t)
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	return parse("transaction status", value, validTransactionStatuses)
}

// IsTerminal reports whether no further transition can leave the status.
func (t TransactionStatus) IsTerminal() bool {
	switch t {
	case TransactionStatusCompleted, TransactionStatusTransferFailed, TransactionStatusReversed,
		TransactionStatusRefunded, TransactionStatusCancelled:
		return true
	default:
		return false
	}
}
