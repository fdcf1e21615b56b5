// risk/profile.go
package risk

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier names a risk profile.
type Tier string

const (
	Low    Tier = "low"
	Medium Tier = "medium"
	High   Tier = "high"
)

// Profile bounds how deep the ladder may grow and how much of the balance
// is kept out of the sizing.
type Profile struct {
	Tier                  Tier
	MaxLevels             int
	BalanceBufferFraction decimal.Decimal
}

// profiles is the static tier table.
var profiles = map[Tier]Profile{
	Low:    {Tier: Low, MaxLevels: 4, BalanceBufferFraction: decimal.RequireFromString("0.3")},
	Medium: {Tier: Medium, MaxLevels: 5, BalanceBufferFraction: decimal.RequireFromString("0.2")},
	High:   {Tier: High, MaxLevels: 6, BalanceBufferFraction: decimal.RequireFromString("0.1")},
}

// ParseTier accepts tier names case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := profiles[t]; !ok {
		return "", fmt.Errorf("%w: unknown risk tier %q (expected low, medium or high)", ErrInvalidConfiguration, s)
	}
	return t, nil
}

// ProfileFor returns the profile of a tier.
func ProfileFor(t Tier) (Profile, error) {
	p, ok := profiles[t]
	if !ok {
		return Profile{}, fmt.Errorf("%w: unknown risk tier %q", ErrInvalidConfiguration, t)
	}
	return p, nil
}

// Validate checks maxLevels >= 1 and buffer in [0, 1).
func (p Profile) Validate() error {
	if p.MaxLevels < 1 {
		return fmt.Errorf("%w: max levels must be at least 1, got %d", ErrInvalidConfiguration, p.MaxLevels)
	}
	if p.BalanceBufferFraction.IsNegative() || p.BalanceBufferFraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: balance buffer fraction must be in [0, 1), got %s", ErrInvalidConfiguration, p.BalanceBufferFraction)
	}
	return nil
}
