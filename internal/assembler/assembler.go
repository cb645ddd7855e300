// Package assembler groups the tick stream into one-minute candles per
// instrument and publishes each completed candle. Finalization is event
// driven: a tick for a strictly later minute closes the older accumulator,
// and a 30 second wall-clock sweep closes accumulators of instruments that
// stopped ticking.
package assembler

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"sellerpanic/internal/analytics"
	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/metrics"
	"sellerpanic/internal/model"
)

const (
	Group         = "assembler"
	sweepInterval = 30 * time.Second
	readCount     = 64

	publishAttempts = 3
	publishBackoff  = 200 * time.Millisecond
)

type accKey struct {
	instrument string
	minuteUnix int64
}

// Assembler is the tick-to-candle worker. Not safe for concurrent use; one
// goroutine owns all accumulator state.
type Assembler struct {
	log      eventlog.Log
	scorer   *analytics.Scorer
	met      *metrics.Metrics
	consumer string
	block    time.Duration

	accumulators map[accKey]*accumulator
	previous     map[string]model.Candle // last finalized candle per instrument
	finalized    map[string]int64        // latest finalized minute per instrument (unix)

	// now is swappable so tests can drive the sweep.
	now func() time.Time
}

// New creates an Assembler reading the ticks stream as the given consumer.
// met may be nil in tests.
func New(log eventlog.Log, scorer *analytics.Scorer, consumer string, block time.Duration, met *metrics.Metrics) *Assembler {
	return &Assembler{
		log:          log,
		scorer:       scorer,
		met:          met,
		consumer:     consumer,
		block:        block,
		accumulators: make(map[accKey]*accumulator),
		previous:     make(map[string]model.Candle),
		finalized:    make(map[string]int64),
		now:          time.Now,
	}
}

// Run consumes ticks until ctx is cancelled, then flushes every open
// accumulator so no observed minute is lost on shutdown.
func (a *Assembler) Run(ctx context.Context) error {
	if err := a.log.EnsureGroup(ctx, eventlog.StreamTicks, Group); err != nil {
		return err
	}

	lastSweep := a.now()
	for {
		if ctx.Err() != nil {
			a.flushAll()
			return nil
		}

		entries, err := a.log.ReadGroup(ctx, eventlog.ReadArgs{
			Stream:   eventlog.StreamTicks,
			Group:    Group,
			Consumer: a.consumer,
			Count:    readCount,
			Block:    a.block,
		})
		if err != nil {
			if ctx.Err() != nil {
				a.flushAll()
				return nil
			}
			slog.Error("tick read failed", "err", err)
			continue
		}

		for _, entry := range entries {
			a.handleEntry(ctx, entry)
		}

		if a.now().Sub(lastSweep) >= sweepInterval {
			a.Sweep(ctx)
			lastSweep = a.now()
		}
	}
}

func (a *Assembler) handleEntry(ctx context.Context, entry eventlog.Entry) {
	env, err := model.Unwrap(entry.Payload)
	if err == nil {
		var tick model.Tick
		tick, err = env.Tick()
		if err == nil {
			a.Process(ctx, &tick)
		}
	}
	if err != nil {
		// Poison entries are acked so they never redeliver.
		slog.Warn("dropping undecodable tick entry", "id", entry.ID, "err", err)
		if a.met != nil {
			a.met.DecodeFailures.WithLabelValues(eventlog.StreamTicks).Inc()
		}
	}

	if err := a.log.Ack(ctx, eventlog.StreamTicks, Group, entry.ID); err != nil {
		slog.Error("tick ack failed", "id", entry.ID, "err", err)
	}
}

// Process folds one tick into its accumulator, finalizing any older minute of
// the same instrument first. Exported for tests; Run is the only production
// caller.
func (a *Assembler) Process(ctx context.Context, t *model.Tick) {
	minute := t.CandleMinute.Unix()

	if last, ok := a.finalized[t.InstrumentKey]; ok && minute < last {
		slog.Info("dropping out-of-order tick",
			"instrument", t.InstrumentKey, "candle_minute", t.CandleMinute)
		if a.met != nil {
			a.met.DroppedTicks.Inc()
		}
		return
	}

	// Rollover: a strictly later tick closes every older open minute of the
	// same instrument, oldest first. A failed publish keeps its minute
	// buffered and blocks the later ones so candles reach the stream in
	// order; the sweep retries them.
	var stale []accKey
	for k := range a.accumulators {
		if k.instrument == t.InstrumentKey && k.minuteUnix < minute {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].minuteUnix < stale[j].minuteUnix })
	for _, k := range stale {
		if err := a.finalize(ctx, k); err != nil {
			break
		}
	}

	k := accKey{instrument: t.InstrumentKey, minuteUnix: minute}
	if acc, ok := a.accumulators[k]; ok {
		acc.apply(t)
	} else {
		a.accumulators[k] = newAccumulator(t)
	}
	a.updateOpenGauge()
}

// Sweep finalizes every accumulator whose minute has fully elapsed. It bounds
// the candle latency of instruments that stop ticking and retries candles
// whose publish failed on an earlier pass.
func (a *Assembler) Sweep(ctx context.Context) {
	cutoff := a.now().Add(-time.Minute).Unix()
	var stale []accKey
	for k := range a.accumulators {
		if k.minuteUnix <= cutoff {
			stale = append(stale, k)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].minuteUnix < stale[j].minuteUnix })

	failed := make(map[string]bool)
	for _, k := range stale {
		if failed[k.instrument] {
			continue
		}
		if err := a.finalize(ctx, k); err != nil {
			failed[k.instrument] = true
		}
	}
}

func (a *Assembler) flushAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var keys []accKey
	for k := range a.accumulators {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].instrument != keys[j].instrument {
			return keys[i].instrument < keys[j].instrument
		}
		return keys[i].minuteUnix < keys[j].minuteUnix
	})

	failed := make(map[string]bool)
	for _, k := range keys {
		if failed[k.instrument] {
			continue
		}
		if err := a.finalize(ctx, k); err != nil {
			failed[k.instrument] = true
		}
	}
}

// finalize closes one accumulator and publishes its candle. On a publish
// failure the accumulator stays in place, and previous/finalized are left
// untouched, so the next rollover or sweep retries with the same inputs;
// nothing downstream ever depends on a candle that never reached the stream.
func (a *Assembler) finalize(ctx context.Context, k accKey) error {
	acc, ok := a.accumulators[k]
	if !ok {
		return nil
	}

	var prev *model.Candle
	if p, ok := a.previous[k.instrument]; ok {
		prev = &p
	}
	candle := acc.finalize(prev, a.scorer)

	payload, err := model.Wrap(model.EventCandleCompleted, candle)
	if err != nil {
		// An unencodable candle never improves on retry.
		delete(a.accumulators, k)
		slog.Error("candle encode failed", "instrument", k.instrument, "err", err)
		return nil
	}

	start := time.Now()
	if err := a.publishCandle(ctx, payload); err != nil {
		slog.Error("candle publish failed, buffered for retry",
			"instrument", k.instrument, "candle_minute", candle.CandleTimestamp, "err", err)
		return err
	}

	delete(a.accumulators, k)
	a.previous[k.instrument] = candle
	if k.minuteUnix > a.finalized[k.instrument] {
		a.finalized[k.instrument] = k.minuteUnix
	}

	if a.met != nil {
		a.met.PublishDur.Observe(time.Since(start).Seconds())
		a.met.CandlesTotal.Inc()
	}
	a.updateOpenGauge()

	slog.Info("candle completed",
		"instrument", candle.InstrumentKey,
		"candle_minute", candle.CandleTimestamp,
		"close", candle.Close,
		"ticks", candle.TickCount,
		"score", candle.CandleScore)
	return nil
}

// publishCandle rides out short log outages with a doubling backoff before
// handing the candle back to the sweep.
func (a *Assembler) publishCandle(ctx context.Context, payload []byte) error {
	backoff := publishBackoff
	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		if _, err = a.log.Publish(ctx, eventlog.StreamCandles, payload); err == nil {
			return nil
		}
	}
	return err
}

func (a *Assembler) updateOpenGauge() {
	if a.met != nil {
		a.met.OpenCandles.Set(float64(len(a.accumulators)))
	}
}
