package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" HIGH ")
	require.NoError(t, err)
	assert.Equal(t, High, tier)

	_, err = ParseTier("extreme")
	assert.True(t, errors.Is(err, ErrInvalidConfiguration))
}

func TestProfileTable(t *testing.T) {
	for _, tier := range []Tier{Low, Medium, High} {
		p, err := ProfileFor(tier)
		require.NoError(t, err)
		assert.NoError(t, p.Validate(), "tier %s", tier)
	}

	high, _ := ProfileFor(High)
	assert.Equal(t, 6, high.MaxLevels)
	assert.True(t, high.BalanceBufferFraction.Equal(decimal.RequireFromString("0.1")))
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		wantErr bool
	}{
		{"zero levels", Profile{MaxLevels: 0, BalanceBufferFraction: decimal.Zero}, true},
		{"negative buffer", Profile{MaxLevels: 3, BalanceBufferFraction: decimal.NewFromFloat(-0.1)}, true},
		{"buffer of one", Profile{MaxLevels: 3, BalanceBufferFraction: decimal.NewFromInt(1)}, true},
		{"zero buffer", Profile{MaxLevels: 1, BalanceBufferFraction: decimal.Zero}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.profile.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidConfiguration))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
