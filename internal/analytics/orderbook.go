// Package analytics holds the pure computation kernel of the pipeline:
// order-book analysis, per-candle metrics, candle scoring and seller-state
// detection. Nothing in here does I/O; everything is deterministic on its
// inputs so the workers stay trivially testable.
package analytics

import (
	"sort"

	"github.com/shopspring/decimal"

	"sellerpanic/internal/model"
)

// whaleMultiplier: a level is a "big" order when its quantity exceeds this
// multiple of the side's median quantity.
var whaleMultiplier = decimal.NewFromInt(5)

// BookMetrics is the full analysis of one order-book snapshot.
type BookMetrics struct {
	// Top-3 levels by quantity, padded with zero entries to length 3.
	SupportLevels    []model.BookLevel
	Support          decimal.Decimal // mean of the non-zero support prices
	ResistanceLevels []model.BookLevel
	Resistance       decimal.Decimal

	TBQ            int64
	TSQ            int64
	OrderBookRatio decimal.Decimal // TBQ / (TBQ+TSQ), 0.5 for an empty book
	BidAskSpread   decimal.Decimal // (ask0 - bid0) / bid0, 0 when bid0 = 0
	BigBidCount    int64
	BigAskCount    int64
}

var neutralRatio = decimal.NewFromFloat(0.5)

// AnalyzeBook computes all order-book metrics for one snapshot. The four
// slices are positional: index 0 is the best level on each side.
func AnalyzeBook(bidPrices []decimal.Decimal, bidQuantities []int64, askPrices []decimal.Decimal, askQuantities []int64) BookMetrics {
	supLevels, supAvg := topThreeByQuantity(bidPrices, bidQuantities)
	resLevels, resAvg := topThreeByQuantity(askPrices, askQuantities)

	var tbq, tsq int64
	for _, q := range bidQuantities {
		tbq += q
	}
	for _, q := range askQuantities {
		tsq += q
	}

	ratio := neutralRatio
	if tbq+tsq > 0 {
		ratio = decimal.NewFromInt(tbq).Div(decimal.NewFromInt(tbq + tsq))
	}

	spread := decimal.Zero
	if len(bidPrices) > 0 && len(askPrices) > 0 && bidPrices[0].IsPositive() {
		spread = askPrices[0].Sub(bidPrices[0]).Div(bidPrices[0])
	}

	return BookMetrics{
		SupportLevels:    supLevels,
		Support:          supAvg,
		ResistanceLevels: resLevels,
		Resistance:       resAvg,
		TBQ:              tbq,
		TSQ:              tsq,
		OrderBookRatio:   ratio,
		BidAskSpread:     spread,
		BigBidCount:      countBigQuantities(bidQuantities),
		BigAskCount:      countBigQuantities(askQuantities),
	}
}

// topThreeByQuantity picks the three levels with the largest quantity,
// tie-broken by higher price, padded with (0, 0) to exactly three entries.
// The returned average is the mean of the non-zero-price picks.
func topThreeByQuantity(prices []decimal.Decimal, quantities []int64) ([]model.BookLevel, decimal.Decimal) {
	n := len(prices)
	if len(quantities) < n {
		n = len(quantities)
	}
	levels := make([]model.BookLevel, 0, n)
	for i := 0; i < n; i++ {
		levels = append(levels, model.BookLevel{Price: prices[i], Quantity: quantities[i]})
	}

	sort.SliceStable(levels, func(i, j int) bool {
		if levels[i].Quantity != levels[j].Quantity {
			return levels[i].Quantity > levels[j].Quantity
		}
		return levels[i].Price.GreaterThan(levels[j].Price)
	})

	if len(levels) > 3 {
		levels = levels[:3]
	}
	for len(levels) < 3 {
		levels = append(levels, model.BookLevel{Price: decimal.Zero})
	}

	sum := decimal.Zero
	count := 0
	for _, l := range levels {
		if l.Price.IsPositive() {
			sum = sum.Add(l.Price)
			count++
		}
	}
	avg := decimal.Zero
	if count > 0 {
		avg = sum.Div(decimal.NewFromInt(int64(count)))
	}
	return levels, avg
}

// countBigQuantities counts levels whose quantity strictly exceeds
// whaleMultiplier times the side's median quantity.
func countBigQuantities(quantities []int64) int64 {
	if len(quantities) == 0 {
		return 0
	}

	sorted := make([]int64, len(quantities))
	copy(sorted, quantities)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var median decimal.Decimal
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		median = decimal.NewFromInt(sorted[mid])
	} else {
		median = decimal.NewFromInt(sorted[mid-1] + sorted[mid]).Div(decimal.NewFromInt(2))
	}

	threshold := median.Mul(whaleMultiplier)
	var count int64
	for _, q := range quantities {
		if decimal.NewFromInt(q).GreaterThan(threshold) {
			count++
		}
	}
	return count
}
