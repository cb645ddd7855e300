package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// BookLevel is one (price, quantity) order-book entry.
type BookLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

// Candle is a completed one-minute aggregate for a single instrument,
// enriched with order-book, open-interest and Greek-derived metrics.
// Emitted exactly once per (instrument_key, candle_timestamp).
type Candle struct {
	InstrumentKey   string    `json:"instrument_key"`
	CandleTimestamp time.Time `json:"candle_timestamp"` // minute start, IST

	// OHLC
	Open          decimal.Decimal  `json:"open"`
	High          decimal.Decimal  `json:"high"`
	Low           decimal.Decimal  `json:"low"`
	Close         decimal.Decimal  `json:"close"`
	PreviousClose *decimal.Decimal `json:"previous_close,omitempty"`

	// Volume & OI
	Volume      int64            `json:"volume"`
	OI          int64            `json:"oi"`
	OIChange    *int64           `json:"oi_change,omitempty"`
	OIChangePct *decimal.Decimal `json:"oi_change_pct,omitempty"`

	// VWAP approximated by close; see assembler docs.
	VWAP decimal.Decimal `json:"vwap"`

	// Support/resistance from the last order-book snapshot of the minute.
	// Exactly three entries each when a snapshot existed, nil otherwise.
	SupportLevels    []BookLevel      `json:"support_levels,omitempty"`
	Support          *decimal.Decimal `json:"support,omitempty"`
	ResistanceLevels []BookLevel      `json:"resistance_levels,omitempty"`
	Resistance       *decimal.Decimal `json:"resistance,omitempty"`

	// Order-book metrics
	TBQ            *int64           `json:"tbq,omitempty"`
	TSQ            *int64           `json:"tsq,omitempty"`
	OrderBookRatio *decimal.Decimal `json:"order_book_ratio,omitempty"`
	BidAskSpread   *decimal.Decimal `json:"bid_ask_spread,omitempty"`
	BigBidCount    *int64           `json:"big_bid_count,omitempty"`
	BigAskCount    *int64           `json:"big_ask_count,omitempty"`

	// Averaged Greeks over the minute's non-null samples.
	AvgDelta *float64 `json:"avg_delta,omitempty"`
	AvgGamma *float64 `json:"avg_gamma,omitempty"`
	AvgTheta *float64 `json:"avg_theta,omitempty"`
	AvgVega  *float64 `json:"avg_vega,omitempty"`
	AvgRho   *float64 `json:"avg_rho,omitempty"`
	AvgIV    *float64 `json:"avg_iv,omitempty"`

	// GammaSpike = (last - first) / |first| within the minute, 0 when undefined.
	GammaSpike decimal.Decimal `json:"gamma_spike"`

	CandleScore decimal.Decimal `json:"candle_score"`
	TickCount   int             `json:"tick_count"`
}

// Key returns the candle's uniqueness key: "instrument@unix-minute".
func (c *Candle) Key() string {
	return c.InstrumentKey + "@" + c.CandleTimestamp.UTC().Format("2006-01-02T15:04")
}

// JSON returns the JSON-encoded candle (errors ignored for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
