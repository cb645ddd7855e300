package upstox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Int64 decodes int64 fields from the feed's protobuf-to-JSON mapping, which
// quotes 64-bit integers as strings. Plain numbers are accepted too.
type Int64 int64

func (n *Int64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("upstox: int64 field %q: %w", s, err)
	}
	*n = Int64(v)
	return nil
}

func (n Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(n), 10))), nil
}

// FeedResponse is one websocket frame in "full" mode. A frame can carry
// updates for several instruments at once.
type FeedResponse struct {
	Feeds map[string]InstrumentFeed `json:"feeds"`
}

// InstrumentFeed wraps the full feed for one instrument. The field arrives as
// "fullFeed" or abbreviated "ff" depending on the decode path upstream.
type InstrumentFeed struct {
	FullFeed *FullFeed `json:"fullFeed"`
	FF       *FullFeed `json:"ff"`
}

// Full returns whichever full-feed variant is present.
func (f InstrumentFeed) Full() *FullFeed {
	if f.FullFeed != nil {
		return f.FullFeed
	}
	return f.FF
}

// FullFeed carries the market data for derivatives under marketFF.
type FullFeed struct {
	MarketFF *MarketFull `json:"marketFF"`
}

// MarketFull is the full market snapshot for one instrument.
type MarketFull struct {
	LTPC         *LTPC         `json:"ltpc"`
	MarketLevel  *MarketLevel  `json:"marketLevel"`
	OptionGreeks *OptionGreeks `json:"optionGreeks"`

	OI  Int64    `json:"oi"`
	IV  *float64 `json:"iv"`
	TBQ *Int64   `json:"tbq"`
	TSQ *Int64   `json:"tsq"`

	ATP *decimal.Decimal `json:"atp"`
	VTT Int64            `json:"vtt"` // cumulative volume traded today
}

// LTPC is the last-trade block: price, time, quantity and previous close.
type LTPC struct {
	LTP decimal.Decimal  `json:"ltp"`
	LTT Int64            `json:"ltt"` // epoch milliseconds
	LTQ Int64            `json:"ltq"`
	CP  *decimal.Decimal `json:"cp"` // previous day close
}

// MarketLevel holds the depth ladder, up to 30 levels in full mode.
type MarketLevel struct {
	BidAskQuote []BidAskQuote `json:"bidAskQuote"`
}

// BidAskQuote is one depth level.
type BidAskQuote struct {
	BidPrice    decimal.Decimal `json:"bidP"`
	BidQuantity Int64           `json:"bidQ"`
	AskPrice    decimal.Decimal `json:"askP"`
	AskQuantity Int64           `json:"askQ"`
}

// OptionGreeks carries per-tick option Greeks.
type OptionGreeks struct {
	Delta *float64 `json:"delta"`
	Gamma *float64 `json:"gamma"`
	Theta *float64 `json:"theta"`
	Vega  *float64 `json:"vega"`
	Rho   *float64 `json:"rho"`
}
