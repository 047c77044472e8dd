package enums

import "slices"

// ChannelType identifies how a buyer pays into escrow.
type ChannelType string

const (
	ChannelTypeDedicatedAccount ChannelType = "dedicated_account"
	ChannelTypeManualTransfer   ChannelType = "manual_transfer"
)

var validChannelTypes = []ChannelType{
	ChannelTypeDedicatedAccount,
	ChannelTypeManualTransfer,
}

// String implements fmt.Stringer.
func (c ChannelType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ChannelType.
func (c ChannelType) IsValid() bool {
	return slices.Contains(validChannelTypes, c)
}

// ParseChannelType converts raw input into a ChannelType.
func ParseChannelType(value string) (ChannelType, error) {
	return parse("channel type", value, validChannelTypes)
}
