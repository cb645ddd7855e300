package analyzer

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sellerpanic/internal/analytics"
	"sellerpanic/internal/eventlog"
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

func panicCandle() model.Candle {
	oiChange := int64(-66_000)
	return model.Candle{
		InstrumentKey:   "NSE_FO|61755",
		CandleTimestamp: time.Date(2026, 8, 24, 9, 15, 0, 0, markethours.IST),
		Open:            dec("182.00"),
		High:            dec("185.50"),
		Low:             dec("181.80"),
		Close:           dec("185.00"),
		PreviousClose:   decP("182.00"),
		VWAP:            dec("182.50"),
		OIChange:        &oiChange,
		OIChangePct:     decP("-0.008"),
		GammaSpike:      dec("0.55"),
		OrderBookRatio:  decP("0.28"),
		BidAskSpread:    decP("0.008"),
		Support:         decP("181.90"),
		Resistance:      decP("182.57"),
		CandleScore:     dec("312.5"),
		TickCount:       14,
	}
}

func newTestAnalyzer(log eventlog.Log) *Analyzer {
	return New(log, analytics.NewDetector(analytics.DefaultDetectorThresholds()), "test", 0, nil)
}

func TestAnalyzeBuildsBuySignal(t *testing.T) {
	a := newTestAnalyzer(eventlog.NewMemory(0))
	c := panicCandle()

	sig := a.Analyze(&c)

	assert.Equal(t, model.SellerPanic, sig.SellerState)
	assert.Equal(t, model.Buy, sig.Recommendation)
	assert.True(t, sig.PanicScore.Equal(dec("100")))
	assert.True(t, sig.Confidence.Equal(dec("0.9")))
	assert.True(t, sig.ShortCovering)
	assert.True(t, sig.StrongBuying)
	assert.Len(t, sig.Signals, 5)

	// Price and OI context are copied from the candle.
	assert.True(t, sig.EntryPrice.Equal(c.Close))
	assert.Equal(t, c.Support, sig.Support)
	assert.Equal(t, c.Resistance, sig.Resistance)
	assert.True(t, sig.CandleScore.Equal(c.CandleScore))
	assert.Equal(t, c.OIChange, sig.OIChange)
	assert.Equal(t, c.InstrumentKey, sig.InstrumentKey)
	assert.True(t, sig.CandleTimestamp.Equal(c.CandleTimestamp))
	assert.False(t, sig.SignalTimestamp.IsZero())
}

func TestAnalyzeQuietCandle(t *testing.T) {
	a := newTestAnalyzer(eventlog.NewMemory(0))
	c := model.Candle{
		InstrumentKey:   "NSE_FO|61755",
		CandleTimestamp: time.Date(2026, 8, 24, 9, 15, 0, 0, markethours.IST),
		Close:           dec("182.00"),
		PreviousClose:   decP("181.90"),
		VWAP:            dec("181.95"),
		OIChangePct:     decP("0.0001"),
		OrderBookRatio:  decP("0.5"),
		BidAskSpread:    decP("0.001"),
	}

	sig := a.Analyze(&c)

	assert.Equal(t, model.Neutral, sig.SellerState)
	assert.Equal(t, model.Wait, sig.Recommendation)
	assert.True(t, sig.PanicScore.IsZero())
	assert.Empty(t, sig.Signals)
}

func readEntries(t *testing.T, log eventlog.Log, stream string) []eventlog.Entry {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, log.EnsureGroup(ctx, stream, "check"))
	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: stream, Group: "check", Consumer: "check", Count: 100,
	})
	require.NoError(t, err)
	return entries
}

func TestHandleEntryPublishesSignal(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory(0)
	a := newTestAnalyzer(log)

	require.NoError(t, log.EnsureGroup(ctx, eventlog.StreamCandles, Group))
	payload, err := model.Wrap(model.EventCandleCompleted, panicCandle())
	require.NoError(t, err)
	_, err = log.Publish(ctx, eventlog.StreamCandles, payload)
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: eventlog.StreamCandles, Group: Group, Consumer: "test", Count: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	a.handleEntry(ctx, entries[0])

	signals := readEntries(t, log, eventlog.StreamSignals)
	require.Len(t, signals, 1)

	env, err := model.Unwrap(signals[0].Payload)
	require.NoError(t, err)
	sig, err := env.Signal()
	require.NoError(t, err)
	assert.Equal(t, model.Buy, sig.Recommendation)

	pending, err := log.PendingCount(ctx, eventlog.StreamCandles, Group)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestBuySignalLogCarriesEventID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx := context.Background()
	log := eventlog.NewMemory(0)
	a := newTestAnalyzer(log)

	require.NoError(t, log.EnsureGroup(ctx, eventlog.StreamCandles, Group))
	payload, err := model.Wrap(model.EventCandleCompleted, panicCandle())
	require.NoError(t, err)
	_, err = log.Publish(ctx, eventlog.StreamCandles, payload)
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: eventlog.StreamCandles, Group: Group, Consumer: "test", Count: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	env, err := model.Unwrap(entries[0].Payload)
	require.NoError(t, err)

	a.handleEntry(ctx, entries[0])

	// The buy-signal log line names the candle event that produced it.
	assert.Contains(t, buf.String(), `"event_id":"`+env.EventID.String()+`"`)
}

func TestHandleEntrySkipsNonPositivePreviousClose(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory(0)
	a := newTestAnalyzer(log)

	c := panicCandle()
	c.PreviousClose = decP("-1")

	require.NoError(t, log.EnsureGroup(ctx, eventlog.StreamCandles, Group))
	payload, err := model.Wrap(model.EventCandleCompleted, c)
	require.NoError(t, err)
	_, err = log.Publish(ctx, eventlog.StreamCandles, payload)
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: eventlog.StreamCandles, Group: Group, Consumer: "test", Count: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	a.handleEntry(ctx, entries[0])

	n, err := log.StreamLength(ctx, eventlog.StreamSignals)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no signal for a skipped candle")

	pending, err := log.PendingCount(ctx, eventlog.StreamCandles, Group)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending, "skipped candles are still acked")
}

func TestHandleEntryPoisonAcked(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory(0)
	a := newTestAnalyzer(log)

	require.NoError(t, log.EnsureGroup(ctx, eventlog.StreamCandles, Group))
	_, err := log.Publish(ctx, eventlog.StreamCandles, []byte("garbage"))
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: eventlog.StreamCandles, Group: Group, Consumer: "test", Count: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	a.handleEntry(ctx, entries[0])

	pending, err := log.PendingCount(ctx, eventlog.StreamCandles, Group)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}
