package analytics

import (
	"github.com/shopspring/decimal"

	"sellerpanic/internal/model"
)

// Feature names in the order the detector evaluates them.
const (
	FeatureShortCovering   = "SHORT_COVERING"
	FeatureGammaSpike      = "GAMMA_SPIKE"
	FeatureOrderBookPanic  = "ORDER_BOOK_PANIC"
	FeatureLiquidityDrying = "LIQUIDITY_DRYING"
	FeatureStrongBuying    = "STRONG_BUYING"
)

// DetectorThresholds parameterize the five seller-behavior features and the
// BUY cutoff. All of them are configuration, never constants in the code.
type DetectorThresholds struct {
	OIDecrease     float64 `yaml:"oi_decrease"`      // short covering: oi_change_pct below this
	PriceIncrease  float64 `yaml:"price_increase"`   // short covering: price_change_pct above this
	GammaSpike     float64 `yaml:"gamma_spike"`      // |gamma_spike| above this
	OrderBookPanic float64 `yaml:"order_book_panic"` // order_book_ratio below this
	Spread         float64 `yaml:"spread"`           // bid_ask_spread above this
	VWAPDeviation  float64 `yaml:"vwap_deviation"`   // (close - vwap)/vwap above this
	PanicScoreBuy  float64 `yaml:"panic_score_buy"`  // panic score at or above this recommends BUY
}

// DefaultDetectorThresholds returns the production defaults.
func DefaultDetectorThresholds() DetectorThresholds {
	return DetectorThresholds{
		OIDecrease:     -0.003,
		PriceIncrease:  0.005,
		GammaSpike:     0.30,
		OrderBookPanic: 0.35,
		Spread:         0.005,
		VWAPDeviation:  0.01,
		PanicScoreBuy:  60.0,
	}
}

// DetectorInput is the slice of candle metrics the detector reads. Nil
// pointers mean "unknown"; a feature whose inputs are unknown never fires.
type DetectorInput struct {
	OIChangePct    *decimal.Decimal
	Price          decimal.Decimal // candle close
	PreviousClose  *decimal.Decimal
	VWAP           decimal.Decimal
	GammaSpike     decimal.Decimal
	OrderBookRatio *decimal.Decimal
	BidAskSpread   *decimal.Decimal
}

// Detection is the detector's verdict for one candle.
type Detection struct {
	State          model.SellerState
	Recommendation model.Recommendation
	Confidence     decimal.Decimal // [0, 1]
	PanicScore     decimal.Decimal // [0, 100]
	Signals        []string        // fired feature names, in evaluation order

	ShortCovering      bool
	GammaSpikeDetected bool
	OrderBookPanic     bool
	LiquidityDrying    bool
	StrongBuying       bool
}

// Detector classifies seller behavior from candle metrics.
//
// Patterns, strongest first: short covering (OI down, price up, sellers
// forced to buy back), gamma spike (dealers hedging), order-book panic
// (ask-heavy book), liquidity drying (wide spread), strong buying (close well
// above VWAP).
type Detector struct {
	t DetectorThresholds
}

// NewDetector creates a Detector with the given thresholds.
func NewDetector(t DetectorThresholds) *Detector {
	return &Detector{t: t}
}

var (
	maxPanicScore = decimal.NewFromInt(100)
	maxConfidence = decimal.NewFromFloat(0.9)
)

// Detect runs all five features, accumulates the panic score and resolves the
// state and recommendation. It never errors: missing inputs degrade to a
// NEUTRAL/WAIT verdict with confidence 0.5.
func (d *Detector) Detect(in DetectorInput) Detection {
	priceChangePct := PriceChangePct(in.Price, in.PreviousClose)

	res := Detection{
		ShortCovering:      d.shortCovering(in.OIChangePct, priceChangePct),
		GammaSpikeDetected: d.gammaSpike(in.GammaSpike),
		OrderBookPanic:     d.orderBookPanic(in.OrderBookRatio),
		LiquidityDrying:    d.liquidityDrying(in.BidAskSpread),
		StrongBuying:       d.strongBuying(in.Price, in.VWAP),
	}

	if res.ShortCovering {
		res.Signals = append(res.Signals, FeatureShortCovering)
	}
	if res.GammaSpikeDetected {
		res.Signals = append(res.Signals, FeatureGammaSpike)
	}
	if res.OrderBookPanic {
		res.Signals = append(res.Signals, FeatureOrderBookPanic)
	}
	if res.LiquidityDrying {
		res.Signals = append(res.Signals, FeatureLiquidityDrying)
	}
	if res.StrongBuying {
		res.Signals = append(res.Signals, FeatureStrongBuying)
	}

	res.PanicScore = d.panicScore(res, in.OIChangePct, in.OrderBookRatio)
	res.State, res.Recommendation, res.Confidence = d.resolve(res.PanicScore, res.ShortCovering, len(res.Signals))
	return res
}

func (d *Detector) shortCovering(oiChangePct, priceChangePct *decimal.Decimal) bool {
	if oiChangePct == nil || priceChangePct == nil {
		return false
	}
	oiDecreasing := oiChangePct.LessThan(decimal.NewFromFloat(d.t.OIDecrease))
	priceIncreasing := priceChangePct.GreaterThan(decimal.NewFromFloat(d.t.PriceIncrease))
	return oiDecreasing && priceIncreasing
}

func (d *Detector) gammaSpike(spike decimal.Decimal) bool {
	return spike.Abs().GreaterThan(decimal.NewFromFloat(d.t.GammaSpike))
}

func (d *Detector) orderBookPanic(ratio *decimal.Decimal) bool {
	return ratio != nil && ratio.LessThan(decimal.NewFromFloat(d.t.OrderBookPanic))
}

func (d *Detector) liquidityDrying(spread *decimal.Decimal) bool {
	return spread != nil && spread.GreaterThan(decimal.NewFromFloat(d.t.Spread))
}

func (d *Detector) strongBuying(price, vwap decimal.Decimal) bool {
	if !vwap.IsPositive() {
		return false
	}
	deviation := price.Sub(vwap).Div(vwap)
	return deviation.GreaterThan(decimal.NewFromFloat(d.t.VWAPDeviation))
}

// panicScore sums the feature contributions, with bonus points for a severe
// OI unwind and for an extreme order-book imbalance, capped at 100.
func (d *Detector) panicScore(res Detection, oiChangePct, orderBookRatio *decimal.Decimal) decimal.Decimal {
	score := decimal.Zero

	if res.ShortCovering {
		points := decimal.NewFromInt(30)
		if oiChangePct != nil && oiChangePct.Abs().GreaterThan(decimal.NewFromFloat(0.01)) {
			points = points.Add(decimal.NewFromInt(10))
		}
		score = score.Add(points)
	}
	if res.GammaSpikeDetected {
		score = score.Add(decimal.NewFromInt(25))
	}
	if res.OrderBookPanic {
		points := decimal.NewFromInt(20)
		if orderBookRatio != nil && orderBookRatio.LessThan(decimal.NewFromFloat(0.25)) {
			points = points.Add(decimal.NewFromInt(10))
		}
		score = score.Add(points)
	}
	if res.LiquidityDrying {
		score = score.Add(decimal.NewFromInt(15))
	}
	if res.StrongBuying {
		score = score.Add(decimal.NewFromInt(10))
	}

	if score.GreaterThan(maxPanicScore) {
		return maxPanicScore
	}
	return score
}

// resolve applies the state rules in order.
func (d *Detector) resolve(panicScore decimal.Decimal, shortCovering bool, signalCount int) (model.SellerState, model.Recommendation, decimal.Decimal) {
	if panicScore.GreaterThanOrEqual(decimal.NewFromFloat(d.t.PanicScoreBuy)) {
		confidence := panicScore.Div(maxPanicScore)
		if confidence.GreaterThan(maxConfidence) {
			confidence = maxConfidence
		}
		return model.SellerPanic, model.Buy, confidence
	}

	if signalCount >= 2 && !shortCovering {
		return model.ProfitBooking, model.Wait, decimal.NewFromFloat(0.6)
	}

	return model.Neutral, model.Wait, decimal.NewFromFloat(0.5)
}
