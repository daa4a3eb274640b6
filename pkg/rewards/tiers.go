package rewards

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tier is one referral-rate bracket. A referrer qualifies when either threshold is met.
type Tier struct {
	Level     int
	MinCount  int64
	MinVolume decimal.Decimal // USD
	Rate      decimal.Decimal
}

// Tiers is ordered from the highest bracket down; the last entry is the floor.
var Tiers = []Tier{
	{Level: 5, MinCount: 20, MinVolume: decimal.NewFromInt(500_000), Rate: decimal.RequireFromString("0.8")},
	{Level: 4, MinCount: 10, MinVolume: decimal.NewFromInt(250_000), Rate: decimal.RequireFromString("0.7")},
	{Level: 3, MinCount: 5, MinVolume: decimal.NewFromInt(100_000), Rate: decimal.RequireFromString("0.6")},
	{Level: 2, MinCount: 3, MinVolume: decimal.NewFromInt(50_000), Rate: decimal.RequireFromString("0.5")},
	{Level: 1, MinCount: 0, MinVolume: decimal.Zero, Rate: decimal.RequireFromString("0.4")},
}

// TierFor returns the first bracket whose count or volume threshold is met.
func TierFor(count int64, volume decimal.Decimal) Tier {
	for _, t := range Tiers[:len(Tiers)-1] {
		if count >= t.MinCount || volume.GreaterThanOrEqual(t.MinVolume) {
			return t
		}
	}
	return Tiers[len(Tiers)-1]
}

// TierLevelByRate maps a stored referral rate back to its level, 0 if unknown.
func TierLevelByRate(rate decimal.Decimal) int {
	for _, t := range Tiers {
		if t.Rate.Equal(rate) {
			return t.Level
		}
	}
	return 0
}

// TierCaseSQL renders the tier table as a SQL CASE over the given count and volume columns.
func TierCaseSQL(countCol, volumeCol string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, t := range Tiers[:len(Tiers)-1] {
		fmt.Fprintf(&b, " WHEN %s >= %d OR %s >= %s THEN %s", countCol, t.MinCount, volumeCol, t.MinVolume.String(), t.Rate.String())
	}
	fmt.Fprintf(&b, " ELSE %s END", Tiers[len(Tiers)-1].Rate.String())
	return b.String()
}

// Multipliers holds the two UTC cutoffs of the early-adopter multiplier.
// Before the first cutoff rewards are tripled, before the second doubled.
type Multipliers struct {
	First  time.Time
	Second time.Time
}

// DefaultMultipliers are the cutoffs of the original referral program.
var DefaultMultipliers = Multipliers{
	First:  time.Date(2022, 7, 22, 17, 0, 0, 0, time.UTC),
	Second: time.Date(2022, 12, 13, 0, 0, 0, 0, time.UTC),
}

func NewMultipliers(cutoffs []time.Time) Multipliers {
	if len(cutoffs) != 2 {
		return DefaultMultipliers
	}
	return Multipliers{First: cutoffs[0].UTC(), Second: cutoffs[1].UTC()}
}

// For returns the multiplier for a deposit made at t.
func (m Multipliers) For(t time.Time) int64 {
	switch {
	case t.Before(m.First):
		return 3
	case t.Before(m.Second):
		return 2
	default:
		return 1
	}
}

// CaseSQL renders the multiplier as a SQL CASE over a timestamptz column.
func (m Multipliers) CaseSQL(col string) string {
	const layout = "2006-01-02 15:04:05+00"
	return fmt.Sprintf("CASE WHEN %s < '%s' THEN 3 WHEN %s < '%s' THEN 2 ELSE 1 END",
		col, m.First.UTC().Format(layout), col, m.Second.UTC().Format(layout))
}
