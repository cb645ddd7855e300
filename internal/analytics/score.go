package analytics

import (
	"github.com/shopspring/decimal"
)

// ScoreWeights weight the individual components of a candle score. They come
// from configuration; every weight's effect is independently observable.
type ScoreWeights struct {
	Volume        float64 `yaml:"volume"`
	OI            float64 `yaml:"oi"`
	OrderBook     float64 `yaml:"orderbook"`
	Volatility    float64 `yaml:"volatility"`
	Greek         float64 `yaml:"greek"`
	SpreadPenalty float64 `yaml:"spread_penalty"`
}

// DefaultScoreWeights returns the production defaults.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Volume:        1.0,
		OI:            0.8,
		OrderBook:     0.6,
		Volatility:    0.5,
		Greek:         0.4,
		SpreadPenalty: 0.3,
	}
}

// ScoreInput carries the per-candle metrics the scorer consumes. Absent
// inputs contribute zero to their component.
type ScoreInput struct {
	Volume    int64
	AvgVolume *int64

	OIChangePct    *decimal.Decimal
	OrderBookRatio *decimal.Decimal

	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal

	GammaSpike   decimal.Decimal
	BidAskSpread *decimal.Decimal
}

// Scorer computes the importance score of a candle as a weighted sum of
// volume, OI-change, order-book imbalance, volatility and gamma components,
// minus a spread penalty, floored at zero.
type Scorer struct {
	weights ScoreWeights
}

// NewScorer creates a Scorer with the given weights.
func NewScorer(w ScoreWeights) *Scorer {
	return &Scorer{weights: w}
}

// Score computes the total candle score for in.
func (s *Scorer) Score(in ScoreInput) decimal.Decimal {
	score := s.volumeScore(in.Volume, in.AvgVolume)
	score = score.Add(s.oiScore(in.OIChangePct))
	score = score.Add(s.orderBookScore(in.OrderBookRatio))
	score = score.Add(s.volatilityScore(in.High, in.Low, in.Close))
	score = score.Add(s.greekScore(in.GammaSpike))
	score = score.Sub(s.spreadPenalty(in.BidAskSpread))

	if score.IsNegative() {
		return decimal.Zero
	}
	return score
}

// volumeScore is (volume/avg)*1000 relative to a known average, else raw
// volume scaled down by 100.
func (s *Scorer) volumeScore(volume int64, avgVolume *int64) decimal.Decimal {
	v := decimal.NewFromInt(volume)
	var raw decimal.Decimal
	if avgVolume != nil && *avgVolume > 0 {
		raw = v.Div(decimal.NewFromInt(*avgVolume)).Mul(decimal.NewFromInt(1000))
	} else {
		raw = v.Div(decimal.NewFromInt(100))
	}
	return raw.Mul(decimal.NewFromFloat(s.weights.Volume))
}

// oiScore is |oi_change_pct| * 10000: both building and unwinding matter.
func (s *Scorer) oiScore(oiChangePct *decimal.Decimal) decimal.Decimal {
	if oiChangePct == nil {
		return decimal.Zero
	}
	return oiChangePct.Abs().Mul(decimal.NewFromInt(10000)).Mul(decimal.NewFromFloat(s.weights.OI))
}

// orderBookScore is distance from the neutral 0.5 ratio, scaled by 2000.
func (s *Scorer) orderBookScore(ratio *decimal.Decimal) decimal.Decimal {
	if ratio == nil {
		return decimal.Zero
	}
	return ratio.Sub(neutralRatio).Abs().Mul(decimal.NewFromInt(2000)).Mul(decimal.NewFromFloat(s.weights.OrderBook))
}

// volatilityScore is the candle range relative to close, scaled by 5000.
func (s *Scorer) volatilityScore(high, low, close decimal.Decimal) decimal.Decimal {
	if close.IsZero() {
		return decimal.Zero
	}
	return high.Sub(low).Div(close).Mul(decimal.NewFromInt(5000)).Mul(decimal.NewFromFloat(s.weights.Volatility))
}

// greekScore is |gamma_spike| * 1000.
func (s *Scorer) greekScore(gammaSpike decimal.Decimal) decimal.Decimal {
	return gammaSpike.Abs().Mul(decimal.NewFromInt(1000)).Mul(decimal.NewFromFloat(s.weights.Greek))
}

// spreadPenalty is spread * 5000; subtracted from the total.
func (s *Scorer) spreadPenalty(spread *decimal.Decimal) decimal.Decimal {
	if spread == nil {
		return decimal.Zero
	}
	return spread.Mul(decimal.NewFromInt(5000)).Mul(decimal.NewFromFloat(s.weights.SpreadPenalty))
}
