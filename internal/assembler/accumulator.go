package assembler

import (
	"time"

	"github.com/shopspring/decimal"

	"sellerpanic/internal/analytics"
	"sellerpanic/internal/model"
)

// bookSnapshot is one order-book observation within a minute. Only the last
// snapshot of the minute feeds the analyzer, so the accumulator keeps just
// the most recent one.
type bookSnapshot struct {
	bidPrices     []decimal.Decimal
	bidQuantities []int64
	askPrices     []decimal.Decimal
	askQuantities []int64
}

// accumulator aggregates the ticks of one (instrument, minute) pair. It lives
// from the first tick of the minute until rollover or sweep finalizes it.
type accumulator struct {
	instrumentKey string
	minute        time.Time

	open          decimal.Decimal
	high          decimal.Decimal
	low           decimal.Decimal
	close         decimal.Decimal
	previousClose *decimal.Decimal

	volume int64 // feed-reported cumulative volume, latest wins
	oi     int64

	firstGamma *float64
	lastGamma  *float64

	lastBook *bookSnapshot

	deltas []float64
	gammas []float64
	thetas []float64
	vegas  []float64
	rhos   []float64
	ivs    []float64

	tickCount int
}

func newAccumulator(t *model.Tick) *accumulator {
	acc := &accumulator{
		instrumentKey: t.InstrumentKey,
		minute:        t.CandleMinute,
		open:          t.LTP,
		high:          t.LTP,
		low:           t.LTP,
		previousClose: t.PreviousClose,
		firstGamma:    t.Gamma,
	}
	acc.apply(t)
	return acc
}

// apply folds one tick into the accumulator.
func (a *accumulator) apply(t *model.Tick) {
	if t.LTP.GreaterThan(a.high) {
		a.high = t.LTP
	}
	if t.LTP.LessThan(a.low) {
		a.low = t.LTP
	}
	a.close = t.LTP
	a.volume = t.Volume
	a.oi = t.OI
	if t.Gamma != nil {
		a.lastGamma = t.Gamma
	}

	if t.HasOrderBook() {
		a.lastBook = &bookSnapshot{
			bidPrices:     t.BidPrices,
			bidQuantities: t.BidQuantities,
			askPrices:     t.AskPrices,
			askQuantities: t.AskQuantities,
		}
	}

	appendSample(&a.deltas, t.Delta)
	appendSample(&a.gammas, t.Gamma)
	appendSample(&a.thetas, t.Theta)
	appendSample(&a.vegas, t.Vega)
	appendSample(&a.rhos, t.Rho)
	appendSample(&a.ivs, t.IV)

	a.tickCount++
}

func appendSample(dst *[]float64, v *float64) {
	if v != nil {
		*dst = append(*dst, *v)
	}
}

// finalize turns the accumulator into a completed candle. previous is the
// instrument's previously finalized candle, nil for the first one.
func (a *accumulator) finalize(previous *model.Candle, scorer *analytics.Scorer) model.Candle {
	c := model.Candle{
		InstrumentKey:   a.instrumentKey,
		CandleTimestamp: a.minute,
		Open:            a.open,
		High:            a.high,
		Low:             a.low,
		Close:           a.close,
		PreviousClose:   a.previousClose,
		Volume:          a.volume,
		OI:              a.oi,
		// Finalization keeps no per-tick prices, so close stands in for vwap.
		VWAP:       a.close,
		AvgDelta:   analytics.AverageGreek(a.deltas),
		AvgGamma:   analytics.AverageGreek(a.gammas),
		AvgTheta:   analytics.AverageGreek(a.thetas),
		AvgVega:    analytics.AverageGreek(a.vegas),
		AvgRho:     analytics.AverageGreek(a.rhos),
		AvgIV:      analytics.AverageGreek(a.ivs),
		GammaSpike: analytics.GammaSpike(a.firstGamma, a.lastGamma),
		TickCount:  a.tickCount,
	}

	if previous != nil {
		change, pct := analytics.OIChange(a.oi, previous.OI)
		c.OIChange = &change
		c.OIChangePct = &pct
	}

	if a.lastBook != nil {
		book := analytics.AnalyzeBook(a.lastBook.bidPrices, a.lastBook.bidQuantities,
			a.lastBook.askPrices, a.lastBook.askQuantities)
		c.SupportLevels = book.SupportLevels
		c.Support = &book.Support
		c.ResistanceLevels = book.ResistanceLevels
		c.Resistance = &book.Resistance
		c.TBQ = &book.TBQ
		c.TSQ = &book.TSQ
		c.OrderBookRatio = &book.OrderBookRatio
		c.BidAskSpread = &book.BidAskSpread
		c.BigBidCount = &book.BigBidCount
		c.BigAskCount = &book.BigAskCount
	}

	c.CandleScore = scorer.Score(analytics.ScoreInput{
		Volume:         c.Volume,
		OIChangePct:    c.OIChangePct,
		OrderBookRatio: c.OrderBookRatio,
		High:           c.High,
		Low:            c.Low,
		Close:          c.Close,
		GammaSpike:     c.GammaSpike,
		BidAskSpread:   c.BidAskSpread,
	})

	return c
}
