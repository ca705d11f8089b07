package presale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTerms = Terms{
	Rate:               10_000_000,
	BonusThresholdSOL:  2,
	BonusPercentage:    10,
	MinContributionSOL: 0.0001,
	MaxContributionSOL: 10,
}

func TestCalculateOWFN(t *testing.T) {
	tests := []struct {
		name      string
		sol       string
		wantBase  float64
		wantBonus float64
		wantTotal float64
		applied   bool
	}{
		{"above threshold", "2.5", 25_000_000, 2_500_000, 27_500_000, true},
		{"exactly at threshold", "2", 20_000_000, 2_000_000, 22_000_000, true},
		{"below threshold", "1.999999999", 19_999_999.99, 0, 19_999_999.99, false},
		{"small amount", "0.0001", 1_000, 0, 1_000, false},
		{"zero", "0", 0, 0, 0, false},
		{"whitespace tolerated", " 3 ", 30_000_000, 3_000_000, 33_000_000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateOWFN(tt.sol, testTerms)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantBase, got.Base, 1e-6)
			assert.InDelta(t, tt.wantBonus, got.Bonus, 1e-6)
			assert.InDelta(t, tt.wantTotal, got.Total, 1e-6)
			assert.Equal(t, tt.applied, got.BonusApplied)
		})
	}
}

func TestCalculateOWFN_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1..2"} {
		_, err := CalculateOWFN(in, testTerms)
		assert.Error(t, err, "input %q", in)
	}
}

func TestCalculateOWFN_NoBonusConfigured(t *testing.T) {
	terms := testTerms
	terms.BonusPercentage = 0

	got, err := CalculateOWFN("5", terms)
	require.NoError(t, err)
	assert.Equal(t, float64(50_000_000), got.Total)
	assert.False(t, got.BonusApplied)
}

func TestCalculateOWFNLamports_MatchesDecimal(t *testing.T) {
	fromLamports := CalculateOWFNLamports(2_500_000_000, testTerms)
	fromString, err := CalculateOWFN("2.5", testTerms)
	require.NoError(t, err)
	assert.Equal(t, fromString, fromLamports)
}

func TestCalculateOWFN_DecimalExactness(t *testing.T) {
	terms := Terms{Rate: 3, BonusThresholdSOL: 0.3, BonusPercentage: 10}

	// float64(0.3) is slightly below 3/10; the threshold must still match.
	got, err := CalculateOWFN("0.3", terms)
	require.NoError(t, err)
	assert.True(t, got.BonusApplied)
	assert.InDelta(t, 0.99, got.Total, 1e-12)
}

func TestLamportsToSOL(t *testing.T) {
	assert.Equal(t, 1.0, LamportsToSOL(LamportsPerSOL))
	assert.Equal(t, 0.000000001, LamportsToSOL(1))
	assert.Equal(t, 0.0, LamportsToSOL(0))
}
