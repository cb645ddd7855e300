package ingest

import (
	"encoding/json"
	"fmt"

	"sellerpanic/internal/model"
	"sellerpanic/pkg/upstox"
)

// FrameDecoder turns one raw feed frame into ticks. A frame may carry updates
// for several instruments; frames with no usable market data decode to an
// empty slice without error.
type FrameDecoder interface {
	Decode(frame []byte) ([]model.Tick, error)
}

// UpstoxDecoder decodes full-mode Upstox feed frames.
type UpstoxDecoder struct{}

func (UpstoxDecoder) Decode(frame []byte) ([]model.Tick, error) {
	var resp upstox.FeedResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("ingest: decode frame: %w", err)
	}

	var ticks []model.Tick
	for key, feed := range resp.Feeds {
		full := feed.Full()
		if full == nil || full.MarketFF == nil || full.MarketFF.LTPC == nil {
			continue
		}
		ticks = append(ticks, tickFromMarket(key, full.MarketFF))
	}
	return ticks, nil
}

func tickFromMarket(instrumentKey string, m *upstox.MarketFull) model.Tick {
	t := model.Tick{
		InstrumentKey: instrumentKey,
		RawTimestamp:  int64(m.LTPC.LTT),
		CandleMinute:  model.CandleMinute(int64(m.LTPC.LTT)),
		LTP:           m.LTPC.LTP,
		LTQ:           int64(m.LTPC.LTQ),
		Volume:        int64(m.VTT),
		OI:            int64(m.OI),
		PreviousClose: m.LTPC.CP,
		IV:            m.IV,
	}

	if m.TBQ != nil {
		v := int64(*m.TBQ)
		t.TBQ = &v
	}
	if m.TSQ != nil {
		v := int64(*m.TSQ)
		t.TSQ = &v
	}

	if m.MarketLevel != nil {
		for _, q := range m.MarketLevel.BidAskQuote {
			t.BidPrices = append(t.BidPrices, q.BidPrice)
			t.BidQuantities = append(t.BidQuantities, int64(q.BidQuantity))
			t.AskPrices = append(t.AskPrices, q.AskPrice)
			t.AskQuantities = append(t.AskQuantities, int64(q.AskQuantity))
		}
	}

	if g := m.OptionGreeks; g != nil {
		t.Delta = g.Delta
		t.Gamma = g.Gamma
		t.Theta = g.Theta
		t.Vega = g.Vega
		t.Rho = g.Rho
	}
	return t
}
