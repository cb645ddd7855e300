package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sellerpanic/internal/markethours"
	"sellerpanic/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decP(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleCandle() *model.Candle {
	oiChange := int64(-50_000)
	tbq, tsq := int64(6900), int64(6450)
	bigBid, bigAsk := int64(1), int64(0)
	avgDelta := 0.52
	return &model.Candle{
		InstrumentKey:   "NSE_FO|61755",
		CandleTimestamp: time.Date(2026, 8, 24, 9, 15, 0, 0, markethours.IST),
		Open:            dec("180"),
		High:            dec("181"),
		Low:             dec("179.5"),
		Close:           dec("179.5"),
		PreviousClose:   decP("181.20"),
		Volume:          125000,
		OI:              7_950_000,
		OIChange:        &oiChange,
		OIChangePct:     decP("-0.00625"),
		VWAP:            dec("179.5"),
		SupportLevels: []model.BookLevel{
			{Price: dec("182.00"), Quantity: 1950},
			{Price: dec("181.90"), Quantity: 1350},
			{Price: dec("181.80"), Quantity: 1200},
		},
		Support: decP("181.90"),
		ResistanceLevels: []model.BookLevel{
			{Price: dec("182.50"), Quantity: 1800},
			{Price: dec("182.65"), Quantity: 1275},
			{Price: dec("182.55"), Quantity: 1200},
		},
		Resistance:     decP("182.5667"),
		TBQ:            &tbq,
		TSQ:            &tsq,
		OrderBookRatio: decP("0.5169"),
		BidAskSpread:   decP("0.001923"),
		BigBidCount:    &bigBid,
		BigAskCount:    &bigAsk,
		AvgDelta:       &avgDelta,
		GammaSpike:     dec("0.55"),
		CandleScore:    dec("312.5"),
		TickCount:      3,
	}
}

func sampleSignal() *model.Signal {
	return &model.Signal{
		InstrumentKey:   "NSE_FO|61755",
		CandleTimestamp: time.Date(2026, 8, 24, 9, 15, 0, 0, markethours.IST),
		SignalTimestamp: time.Date(2026, 8, 24, 9, 16, 1, 0, markethours.IST),
		SellerState:     model.SellerPanic,
		Recommendation:  model.Buy,
		Confidence:      dec("0.9"),
		PanicScore:      dec("100"),
		ShortCovering:   true,
		StrongBuying:    true,
		Signals:         []string{"SHORT_COVERING", "STRONG_BUYING"},
		EntryPrice:      dec("185.00"),
		Support:         decP("181.90"),
		CandleScore:     dec("312.5"),
	}
}

func TestInsertCandle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertCandle(ctx, sampleCandle()))

	n, err := s.CandleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Decimal columns hold the exact textual value.
	var close, pct string
	err = s.DB().QueryRow(`SELECT close, oi_change_pct FROM candles`).Scan(&close, &pct)
	require.NoError(t, err)
	assert.Equal(t, "179.5", close)
	assert.Equal(t, "-0.00625", pct)
}

func TestInsertCandleDuplicateIgnored(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := sampleCandle()
	require.NoError(t, s.InsertCandle(ctx, c))
	require.NoError(t, s.InsertCandle(ctx, c), "redelivery must not error")

	n, err := s.CandleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertCandleSparse(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	c := &model.Candle{
		InstrumentKey:   "NSE_FO|61755",
		CandleTimestamp: time.Date(2026, 8, 24, 9, 15, 0, 0, markethours.IST),
		Open:            dec("180"),
		High:            dec("180"),
		Low:             dec("180"),
		Close:           dec("180"),
		VWAP:            dec("180"),
		GammaSpike:      decimal.Zero,
		CandleScore:     decimal.Zero,
		TickCount:       1,
	}
	require.NoError(t, s.InsertCandle(ctx, c))

	var support any
	err := s.DB().QueryRow(`SELECT support_level_1 FROM candles`).Scan(&support)
	require.NoError(t, err)
	assert.Nil(t, support, "missing book data maps to NULL")
}

func TestInsertSignal(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertSignal(ctx, sampleSignal()))

	n, err := s.SignalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var state, names string
	err = s.DB().QueryRow(`SELECT seller_state, signals FROM signals`).Scan(&state, &names)
	require.NoError(t, err)
	assert.Equal(t, "SELLER_PANIC", state)
	assert.JSONEq(t, `["SHORT_COVERING","STRONG_BUYING"]`, names)
}

func TestInsertSignalAllowsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sig := sampleSignal()
	require.NoError(t, s.InsertSignal(ctx, sig))
	require.NoError(t, s.InsertSignal(ctx, sig))

	n, err := s.SignalCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestDistinctMinutesBothStored(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first := sampleCandle()
	second := sampleCandle()
	second.CandleTimestamp = first.CandleTimestamp.Add(time.Minute)

	require.NoError(t, s.InsertCandle(ctx, first))
	require.NoError(t, s.InsertCandle(ctx, second))

	n, err := s.CandleCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
