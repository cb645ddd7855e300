// Package persist drains the candles and signals streams into the relational
// store. Both streams are consumed under one group with distinct consumer
// names, and pending entries abandoned by a dead consumer are reclaimed after
// an idle threshold.
package persist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/logger"
	"sellerpanic/internal/metrics"
	"sellerpanic/internal/model"
	"sellerpanic/internal/store/sqlite"
)

const (
	Group = "persister"

	readCount       = 64
	reclaimInterval = time.Minute
	reclaimMinIdle  = time.Minute
	reclaimBatch    = 100
)

// Persister is the storage worker.
type Persister struct {
	log   eventlog.Log
	store *sqlite.Store
	met   *metrics.Metrics
	block time.Duration
}

// New creates a Persister. met may be nil in tests.
func New(log eventlog.Log, store *sqlite.Store, block time.Duration, met *metrics.Metrics) *Persister {
	return &Persister{
		log:   log,
		store: store,
		met:   met,
		block: block,
	}
}

// Run consumes both streams until ctx is cancelled.
func (p *Persister) Run(ctx context.Context) error {
	for _, stream := range []string{eventlog.StreamCandles, eventlog.StreamSignals} {
		if err := p.log.EnsureGroup(ctx, stream, Group); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.consume(ctx, eventlog.StreamCandles, "persister-candles", p.insertCandle)
	}()
	go func() {
		defer wg.Done()
		p.consume(ctx, eventlog.StreamSignals, "persister-signals", p.insertSignal)
	}()
	wg.Wait()
	return nil
}

// inserter decodes an envelope and writes the row. A false ok means the
// payload was malformed (poison, acked without retry); an error means the
// store rejected the write (left pending for redelivery).
type inserter func(ctx context.Context, env *model.Envelope) (ok bool, err error)

// consume is one stream's read-insert-ack loop.
func (p *Persister) consume(ctx context.Context, stream, consumer string, insert inserter) {
	lastReclaim := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}

		entries, err := p.log.ReadGroup(ctx, eventlog.ReadArgs{
			Stream:   stream,
			Group:    Group,
			Consumer: consumer,
			Count:    readCount,
			Block:    p.block,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("persist read failed", "stream", stream, "err", err)
			continue
		}

		for _, entry := range entries {
			p.handleEntry(ctx, stream, entry, insert)
		}

		if time.Since(lastReclaim) >= reclaimInterval {
			p.reclaim(ctx, stream, consumer, insert)
			lastReclaim = time.Now()
		}
	}
}

// reclaim re-processes entries another consumer read but never acked.
func (p *Persister) reclaim(ctx context.Context, stream, consumer string, insert inserter) {
	entries, err := p.log.Reclaim(ctx, stream, Group, consumer, reclaimMinIdle, reclaimBatch)
	if err != nil {
		slog.Error("persist reclaim failed", "stream", stream, "err", err)
		return
	}
	for _, entry := range entries {
		if p.met != nil {
			p.met.EntriesReclaimed.Inc()
		}
		p.handleEntry(ctx, stream, entry, insert)
	}

	if p.met != nil {
		if pending, err := p.log.PendingCount(ctx, stream, Group); err == nil {
			p.met.PendingEntries.WithLabelValues(stream, Group).Set(float64(pending))
		}
	}
}

func (p *Persister) handleEntry(ctx context.Context, stream string, entry eventlog.Entry, insert inserter) {
	env, err := model.Unwrap(entry.Payload)
	if err != nil {
		slog.Warn("dropping undecodable entry", "stream", stream, "id", entry.ID, "err", err)
		if p.met != nil {
			p.met.DecodeFailures.WithLabelValues(stream).Inc()
		}
		p.ack(ctx, stream, entry.ID)
		return
	}
	ctx = logger.WithEventID(ctx, env.EventID)

	start := time.Now()
	ok, err := insert(ctx, env)
	if err != nil {
		// Left unacked so the entry redelivers once the store recovers.
		slog.Error("persist insert failed",
			append(logger.WithEvent(ctx), "stream", stream, "id", entry.ID, "err", err)...)
		return
	}
	if !ok {
		slog.Warn("dropping mistyped entry", "stream", stream, "id", entry.ID, "event_type", env.EventType)
		if p.met != nil {
			p.met.DecodeFailures.WithLabelValues(stream).Inc()
		}
	} else if p.met != nil {
		p.met.InsertDur.Observe(time.Since(start).Seconds())
	}
	p.ack(ctx, stream, entry.ID)
}

func (p *Persister) insertCandle(ctx context.Context, env *model.Envelope) (bool, error) {
	candle, err := env.Candle()
	if err != nil {
		return false, nil
	}
	return true, p.store.InsertCandle(ctx, &candle)
}

func (p *Persister) insertSignal(ctx context.Context, env *model.Envelope) (bool, error) {
	signal, err := env.Signal()
	if err != nil {
		return false, nil
	}
	return true, p.store.InsertSignal(ctx, &signal)
}

func (p *Persister) ack(ctx context.Context, stream, id string) {
	if err := p.log.Ack(ctx, stream, Group, id); err != nil {
		slog.Error("persist ack failed", "stream", stream, "id", id, "err", err)
	}
}
