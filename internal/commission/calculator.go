package commission

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/money"
)

// Split is the result of dividing a paid amount between platform and seller.
// CommissionKobo + SellerShareKobo always equals AmountKobo.
type Split struct {
	AmountKobo      int64
	CommissionKobo  int64
	SellerShareKobo int64
}

// Tier is one marginal band. UpToKobo of zero marks the open-ended top band.
type Tier struct {
	UpToKobo int64
	Rate     decimal.Decimal
}

// Calculator applies one commission schedule to every amount.
type Calculator struct {
	name  string
	tiers []Tier
}

// NewFlat charges the same rate on the whole amount.
func NewFlat(rate decimal.Decimal) (*Calculator, error) {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("flat commission rate %s out of range", rate)
	}
	return &Calculator{name: config.CommissionScheduleFlat, tiers: []Tier{{Rate: rate}}}, nil
}

// NewTiered charges each band of the amount at its own rate.
func NewTiered(tiers []Tier) (*Calculator, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("tiered schedule requires at least one tier")
	}
	var prev int64
	for i, tier := range tiers {
		if tier.Rate.IsNegative() || tier.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("tier %d rate %s out of range", i, tier.Rate)
		}
		last := i == len(tiers)-1
		if last && tier.UpToKobo != 0 {
			return nil, fmt.Errorf("last tier must be open-ended")
		}
		if !last && tier.UpToKobo <= prev {
			return nil, fmt.Errorf("tier %d upper bound must increase", i)
		}
		prev = tier.UpToKobo
	}
	return &Calculator{name: config.CommissionScheduleTiered, tiers: tiers}, nil
}

// DefaultTiers is the marketplace's marginal schedule, bounds in naira:
// 10k at 6.5%, 20k at 5.5%, 50k at 4.5%, 100k at 4%, then 2.5%.
func DefaultTiers() []Tier {
	pct := func(v string) decimal.Decimal {
		return decimal.RequireFromString(v).Div(decimal.NewFromInt(100))
	}
	naira := func(n int64) int64 { return n * money.KoboPerNaira }
	return []Tier{
		{UpToKobo: naira(10_000), Rate: pct("6.5")},
		{UpToKobo: naira(20_000), Rate: pct("5.5")},
		{UpToKobo: naira(50_000), Rate: pct("4.5")},
		{UpToKobo: naira(100_000), Rate: pct("4")},
		{Rate: pct("2.5")},
	}
}

// FromConfig builds the configured schedule.
func FromConfig(cfg config.EscrowConfig) (*Calculator, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.CommissionSchedule)) {
	case config.CommissionScheduleTiered:
		return NewTiered(DefaultTiers())
	case config.CommissionScheduleFlat, "":
		return NewFlat(cfg.FlatRate())
	default:
		return nil, fmt.Errorf("unknown commission schedule %q", cfg.CommissionSchedule)
	}
}

// Name reports the schedule in use.
func (c *Calculator) Name() string {
	return c.name
}

// Split computes the commission rounded half-up to the kobo and gives the
// remainder to the seller.
func (c *Calculator) Split(amountKobo int64) (Split, error) {
	if amountKobo <= 0 {
		return Split{}, fmt.Errorf("amount must be positive, got %d", amountKobo)
	}

	total := decimal.Zero
	var lower int64
	for _, tier := range c.tiers {
		upper := tier.UpToKobo
		if upper == 0 || upper > amountKobo {
			upper = amountKobo
		}
		if upper > lower {
			band := decimal.NewFromInt(upper - lower)
			total = total.Add(band.Mul(tier.Rate))
		}
		if upper == amountKobo {
			break
		}
		lower = upper
	}

	// Round is half away from zero, which is half-up for positive amounts.
	commissionKobo := total.Round(0).IntPart()
	if commissionKobo > amountKobo {
		commissionKobo = amountKobo
	}
	return Split{
		AmountKobo:      amountKobo,
		CommissionKobo:  commissionKobo,
		SellerShareKobo: amountKobo - commissionKobo,
	}, nil
}
