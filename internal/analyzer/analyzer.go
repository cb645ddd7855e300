// Package analyzer consumes completed candles, runs the seller-state
// detector and publishes the resulting signals.
package analyzer

import (
	"context"
	"log/slog"
	"time"

	"sellerpanic/internal/analytics"
	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/logger"
	"sellerpanic/internal/metrics"
	"sellerpanic/internal/model"
)

const (
	Group     = "analyzer"
	readCount = 64
)

// Analyzer is the candle-to-signal worker.
type Analyzer struct {
	log      eventlog.Log
	detector *analytics.Detector
	met      *metrics.Metrics
	consumer string
	block    time.Duration
}

// New creates an Analyzer reading the candles stream as the given consumer.
// met may be nil in tests.
func New(log eventlog.Log, detector *analytics.Detector, consumer string, block time.Duration, met *metrics.Metrics) *Analyzer {
	return &Analyzer{
		log:      log,
		detector: detector,
		met:      met,
		consumer: consumer,
		block:    block,
	}
}

// Run consumes candles until ctx is cancelled.
func (a *Analyzer) Run(ctx context.Context) error {
	if err := a.log.EnsureGroup(ctx, eventlog.StreamCandles, Group); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := a.log.ReadGroup(ctx, eventlog.ReadArgs{
			Stream:   eventlog.StreamCandles,
			Group:    Group,
			Consumer: a.consumer,
			Count:    readCount,
			Block:    a.block,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("candle read failed", "err", err)
			continue
		}

		for _, entry := range entries {
			a.handleEntry(ctx, entry)
		}
	}
}

func (a *Analyzer) handleEntry(ctx context.Context, entry eventlog.Entry) {
	env, err := model.Unwrap(entry.Payload)
	var candle model.Candle
	if err == nil {
		candle, err = env.Candle()
	}
	if err != nil {
		slog.Warn("dropping undecodable candle entry", "id", entry.ID, "err", err)
		if a.met != nil {
			a.met.DecodeFailures.WithLabelValues(eventlog.StreamCandles).Inc()
		}
		a.ack(ctx, entry.ID)
		return
	}
	ctx = logger.WithEventID(ctx, env.EventID)

	// A non-positive previous close is a producer bug; the one candle is
	// skipped rather than poisoning the detector.
	if candle.PreviousClose != nil && !candle.PreviousClose.IsPositive() {
		slog.Warn("skipping candle with non-positive previous close",
			"instrument", candle.InstrumentKey,
			"candle_minute", candle.CandleTimestamp,
			"previous_close", candle.PreviousClose)
		a.ack(ctx, entry.ID)
		return
	}

	signal := a.Analyze(&candle)

	payload, err := model.Wrap(model.EventSignalGenerated, signal)
	if err != nil {
		slog.Error("signal encode failed", "instrument", candle.InstrumentKey, "err", err)
		a.ack(ctx, entry.ID)
		return
	}

	start := time.Now()
	if _, err := a.log.Publish(ctx, eventlog.StreamSignals, payload); err != nil {
		// Left unacked; the entry redelivers and the detector reruns, which
		// is idempotent.
		slog.Error("signal publish failed",
			append(logger.WithEvent(ctx), "instrument", candle.InstrumentKey, "err", err)...)
		return
	}
	if a.met != nil {
		a.met.PublishDur.Observe(time.Since(start).Seconds())
		a.met.SignalsTotal.WithLabelValues(string(signal.SellerState)).Inc()
	}
	a.ack(ctx, entry.ID)

	if signal.Recommendation == model.Buy {
		slog.Info("buy signal", append(logger.WithEvent(ctx),
			"instrument", signal.InstrumentKey,
			"candle_minute", signal.CandleTimestamp,
			"state", signal.SellerState,
			"panic_score", signal.PanicScore,
			"confidence", signal.Confidence,
			"signals", signal.Signals)...)
	}
}

// Analyze runs the detector over one candle and builds its Signal. Pure given
// the candle; exported for tests.
func (a *Analyzer) Analyze(c *model.Candle) model.Signal {
	start := time.Now()
	det := a.detector.Detect(analytics.DetectorInput{
		OIChangePct:    c.OIChangePct,
		Price:          c.Close,
		PreviousClose:  c.PreviousClose,
		VWAP:           c.VWAP,
		GammaSpike:     c.GammaSpike,
		OrderBookRatio: c.OrderBookRatio,
		BidAskSpread:   c.BidAskSpread,
	})
	if a.met != nil {
		a.met.AnalyzeDur.Observe(time.Since(start).Seconds())
	}

	return model.Signal{
		InstrumentKey:   c.InstrumentKey,
		CandleTimestamp: c.CandleTimestamp,
		SignalTimestamp: time.Now(),

		SellerState:    det.State,
		Recommendation: det.Recommendation,
		Confidence:     det.Confidence,
		PanicScore:     det.PanicScore,

		ShortCovering:      det.ShortCovering,
		GammaSpikeDetected: det.GammaSpikeDetected,
		OrderBookPanic:     det.OrderBookPanic,
		LiquidityDrying:    det.LiquidityDrying,
		StrongBuying:       det.StrongBuying,
		Signals:            det.Signals,

		EntryPrice:  c.Close,
		Support:     c.Support,
		Resistance:  c.Resistance,
		CandleScore: c.CandleScore,

		OIChange:    c.OIChange,
		OIChangePct: c.OIChangePct,
	}
}

func (a *Analyzer) ack(ctx context.Context, id string) {
	if err := a.log.Ack(ctx, eventlog.StreamCandles, Group, id); err != nil {
		slog.Error("candle ack failed", "id", id, "err", err)
	}
}
