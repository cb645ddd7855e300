package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SellerState classifies seller behavior detected from a candle.
type SellerState string

const (
	SellerPanic   SellerState = "SELLER_PANIC"
	ProfitBooking SellerState = "PROFIT_BOOKING"
	// SellerDirection is unreachable under the current detector rules but is
	// kept in the vocabulary for forward compatibility.
	SellerDirection SellerState = "SELLER_DIRECTION"
	Neutral         SellerState = "NEUTRAL"
)

// Recommendation is the action derived from a seller state.
type Recommendation string

const (
	Buy  Recommendation = "BUY"
	Sell Recommendation = "SELL"
	Wait Recommendation = "WAIT"
)

// Signal is the analyzer's verdict for one candle.
type Signal struct {
	InstrumentKey   string    `json:"instrument_key"`
	CandleTimestamp time.Time `json:"candle_timestamp"`
	SignalTimestamp time.Time `json:"signal_timestamp"`

	SellerState    SellerState     `json:"seller_state"`
	Recommendation Recommendation  `json:"recommendation"`
	Confidence     decimal.Decimal `json:"confidence"`  // [0, 1]
	PanicScore     decimal.Decimal `json:"panic_score"` // [0, 100]

	// Feature flags, in the detector's evaluation order.
	ShortCovering      bool `json:"short_covering"`
	GammaSpikeDetected bool `json:"gamma_spike_detected"`
	OrderBookPanic     bool `json:"order_book_panic"`
	LiquidityDrying    bool `json:"liquidity_drying"`
	StrongBuying       bool `json:"strong_buying"`

	// Names of the features that fired, in firing order.
	Signals []string `json:"signals"`

	// Price context copied from the source candle.
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	Support     *decimal.Decimal `json:"support,omitempty"`
	Resistance  *decimal.Decimal `json:"resistance,omitempty"`
	CandleScore decimal.Decimal  `json:"candle_score"`

	// OI context copied from the source candle.
	OIChange    *int64           `json:"oi_change,omitempty"`
	OIChangePct *decimal.Decimal `json:"oi_change_pct,omitempty"`
}
