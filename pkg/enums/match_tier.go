package enums

import "slices"

// MatchTier records which reconciliation strategy matched a payment.
type MatchTier string

const (
	MatchTierReference      MatchTier = "reference"
	MatchTierChannelAmount  MatchTier = "channel_amount"
	MatchTierIdentityWindow MatchTier = "identity_window"
	MatchTierManual         MatchTier = "manual"
)

var validMatchTiers = []MatchTier{
	MatchTierReference,
	MatchTierChannelAmount,
	MatchTierIdentityWindow,
	MatchTierManual,
}

// String implements fmt.Stringer.
func (m MatchTier) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MatchTier.
func (m MatchTier) IsValid() bool {
	return slices.Contains(validMatchTiers, m)
}

// ParseMatchTier converts raw input into a MatchTier.
func ParseMatchTier(value string) (MatchTier, error) {
	return parse("match tier", value, validMatchTiers)
}
