package model

import (
	"time"

	"github.com/shopspring/decimal"

	"sellerpanic/internal/markethours"
)

// Tick is a single market update for one option instrument, as decoded from
// the broker feed. Prices are decimals to avoid binary-float drift; Greeks are
// the only values allowed to live as floats.
type Tick struct {
	InstrumentKey string `json:"instrument_key"`

	// RawTimestamp is the broker's epoch-milliseconds timestamp.
	RawTimestamp int64 `json:"raw_timestamp"`

	// CandleMinute is RawTimestamp truncated to the minute in IST. It decides
	// which candle this tick joins.
	CandleMinute time.Time `json:"candle_minute"`

	LTP    decimal.Decimal `json:"ltp"`
	LTQ    int64           `json:"ltq"`
	Volume int64           `json:"volume"` // cumulative day volume
	OI     int64           `json:"oi"`

	PreviousClose *decimal.Decimal `json:"previous_close,omitempty"`

	// Order book, up to 30 levels, index 0 = best.
	BidPrices     []decimal.Decimal `json:"bid_prices,omitempty"`
	BidQuantities []int64           `json:"bid_quantities,omitempty"`
	AskPrices     []decimal.Decimal `json:"ask_prices,omitempty"`
	AskQuantities []int64           `json:"ask_quantities,omitempty"`

	// Broker-reported totals; recomputable from levels when absent.
	TBQ *int64 `json:"tbq,omitempty"`
	TSQ *int64 `json:"tsq,omitempty"`

	// Option Greeks.
	Delta *float64 `json:"delta,omitempty"`
	Gamma *float64 `json:"gamma,omitempty"`
	Theta *float64 `json:"theta,omitempty"`
	Vega  *float64 `json:"vega,omitempty"`
	Rho   *float64 `json:"rho,omitempty"`
	IV    *float64 `json:"iv,omitempty"`
}

// HasOrderBook reports whether the tick carries at least one depth level on
// both sides.
func (t *Tick) HasOrderBook() bool {
	return len(t.BidPrices) > 0 && len(t.AskPrices) > 0
}

// CandleMinute truncates an epoch-milliseconds timestamp to its minute
// boundary in IST. All candle bucketing goes through this one function.
func CandleMinute(rawMs int64) time.Time {
	return time.Unix(0, rawMs*int64(time.Millisecond)).In(markethours.IST).Truncate(time.Minute)
}
