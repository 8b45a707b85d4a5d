package pricing

import "github.com/shopspring/decimal"

// Allocate splits total across lines in proportion to weights, in cents. Every line but the
// last is rounded down, and the last line absorbs the remainder so the shares always sum to
// total exactly and none of them goes negative.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return shares
	}

	sum := decimal.Zero
	for _, w := range weights {
		if w.IsPositive() {
			sum = sum.Add(w)
		}
	}

	allocated := decimal.Zero
	last := len(weights) - 1
	for i := 0; i < last; i++ {
		shares[i] = decimal.Zero
		if sum.IsZero() || !weights[i].IsPositive() {
			continue
		}
		shares[i] = total.Mul(weights[i]).Div(sum).RoundFloor(2)
		allocated = allocated.Add(shares[i])
	}
	shares[last] = total.Sub(allocated)
	return shares
}
