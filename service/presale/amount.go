package presale

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// OWFNAmount is the token allocation for a contribution.
type OWFNAmount struct {
	Base         float64 `json:"base"`
	Bonus        float64 `json:"bonus"`
	Total        float64 `json:"total"`
	BonusApplied bool    `json:"bonus_applied"`
}

// CalculateOWFN converts a decimal SOL amount into OWFN:
//
//	base  = sol * rate
//	bonus = base * bonusPercentage / 100   iff sol >= bonusThreshold
//	total = base + bonus
//
// The arithmetic is exact; results are rounded to float64 only at the end.
func CalculateOWFN(solAmount string, terms Terms) (OWFNAmount, error) {
	sol, ok := new(big.Rat).SetString(strings.TrimSpace(solAmount))
	if !ok {
		return OWFNAmount{}, fmt.Errorf("invalid SOL amount %q", solAmount)
	}
	if sol.Sign() < 0 {
		return OWFNAmount{}, fmt.Errorf("SOL amount cannot be negative: %q", solAmount)
	}
	return calculate(sol, terms), nil
}

// CalculateOWFNLamports is CalculateOWFN for an integer lamport amount.
func CalculateOWFNLamports(lamports uint64, terms Terms) OWFNAmount {
	sol := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(lamports),
		big.NewInt(LamportsPerSOL),
	)
	return calculate(sol, terms)
}

func calculate(sol *big.Rat, terms Terms) OWFNAmount {
	base := new(big.Rat).Mul(sol, decimalRat(terms.Rate))

	bonus := new(big.Rat)
	applied := false
	if terms.BonusPercentage > 0 && sol.Cmp(decimalRat(terms.BonusThresholdSOL)) >= 0 {
		bonus.Mul(base, decimalRat(terms.BonusPercentage))
		bonus.Quo(bonus, big.NewRat(100, 1))
		applied = true
	}

	total := new(big.Rat).Add(base, bonus)

	b, _ := base.Float64()
	bo, _ := bonus.Float64()
	t, _ := total.Float64()
	return OWFNAmount{Base: b, Bonus: bo, Total: t, BonusApplied: applied}
}

// LamportsToSOL converts lamports to SOL.
func LamportsToSOL(lamports uint64) float64 {
	f, _ := new(big.Rat).SetFrac(
		new(big.Int).SetUint64(lamports),
		big.NewInt(LamportsPerSOL),
	).Float64()
	return f
}

// decimalRat reads a configured float as the decimal it was written as, so
// 0.1 is exactly 1/10 rather than its binary approximation.
func decimalRat(f float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'f', -1, 64))
	if !ok {
		return new(big.Rat)
	}
	return r
}
