package analytics

import (
	"github.com/shopspring/decimal"
)

// OIChange returns the absolute and fractional open-interest change versus the
// previous candle. The fraction is 0 when previousOI is 0.
func OIChange(currentOI, previousOI int64) (int64, decimal.Decimal) {
	change := currentOI - previousOI
	if previousOI == 0 {
		return change, decimal.Zero
	}
	pct := decimal.NewFromInt(change).Div(decimal.NewFromInt(previousOI))
	return change, pct
}

// PriceChangePct returns (current - previous) / previous, or nil when the
// previous close is absent or non-positive (the change is then undefined and
// no feature depending on it may fire).
func PriceChangePct(current decimal.Decimal, previous *decimal.Decimal) *decimal.Decimal {
	if previous == nil || !previous.IsPositive() {
		return nil
	}
	pct := current.Sub(*previous).Div(*previous)
	return &pct
}

// AverageGreek returns the arithmetic mean of the collected samples, or nil
// when there are none. Greeks are the one place floats are allowed.
func AverageGreek(samples []float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	avg := sum / float64(len(samples))
	return &avg
}

// GammaSpike returns (last - first) / |first| when both gammas were observed
// and first is non-zero, else zero.
func GammaSpike(first, last *float64) decimal.Decimal {
	if first == nil || last == nil || *first == 0 {
		return decimal.Zero
	}
	f := *first
	if f < 0 {
		f = -f
	}
	return decimal.NewFromFloat(*last - *first).Div(decimal.NewFromFloat(f))
}

// VWAP computes the volume-weighted average price over paired samples, or nil
// when the inputs are empty, mismatched, or carry zero total quantity.
func VWAP(prices []decimal.Decimal, quantities []int64) *decimal.Decimal {
	if len(prices) == 0 || len(prices) != len(quantities) {
		return nil
	}
	sumPQ := decimal.Zero
	var sumQ int64
	for i, p := range prices {
		sumPQ = sumPQ.Add(p.Mul(decimal.NewFromInt(quantities[i])))
		sumQ += quantities[i]
	}
	if sumQ == 0 {
		return nil
	}
	v := sumPQ.Div(decimal.NewFromInt(sumQ))
	return &v
}
