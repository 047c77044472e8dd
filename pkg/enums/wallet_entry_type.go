package enums

import "slices"

// WalletEntryType classifies platform wallet ledger rows.
type WalletEntryType string

const (
	WalletEntryCommissionReserved WalletEntryType = "commission_reserved"
	WalletEntryCommissionEarned   WalletEntryType = "commission_earned"
	WalletEntryCommissionReleased WalletEntryType = "commission_released"
)

var validWalletEntryTypes = []WalletEntryType{
	WalletEntryCommissionReserved,
	WalletEntryCommissionEarned,
	WalletEntryCommissionReleased,
}

// String implements fmt.Stringer.
func (w WalletEntryType) String() string {
	return string(w)
}

// IsValid reports whether the value is a known WalletEntryType.
func (w WalletEntryType) IsValid() bool {
	return slices.Contains(validWalletEntryTypes, w)
}

// ParseWalletEntryType converts raw input into a WalletEntryType.
func ParseWalletEntryType(value string) (WalletEntryType, error) {
	return parse("wallet entry type", value, validWalletEntryTypes)
}
