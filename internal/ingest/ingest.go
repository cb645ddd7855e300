// Package ingest connects to the broker market feed and publishes every
// decoded tick onto the "ticks" stream.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/metrics"
	"sellerpanic/internal/model"
)

const (
	backoffInitial = 5 * time.Second
	backoffMax     = 60 * time.Second
)

// Feed is an open market-data connection.
type Feed interface {
	Subscribe(instrumentKeys []string) error
	Read() ([]byte, error)
	Close() error
}

// Dialer opens a fresh Feed. The ingestor redials through it after every
// connection loss.
type Dialer func(ctx context.Context) (Feed, error)

// Ingestor streams broker frames into the event log.
type Ingestor struct {
	dial        Dialer
	decoder     FrameDecoder
	log         eventlog.Log
	instruments []string
	met         *metrics.Metrics
	health      *metrics.HealthStatus
}

// New creates an Ingestor. met and health may be nil in tests.
func New(dial Dialer, decoder FrameDecoder, log eventlog.Log, instruments []string, met *metrics.Metrics, health *metrics.HealthStatus) *Ingestor {
	return &Ingestor{
		dial:        dial,
		decoder:     decoder,
		log:         log,
		instruments: instruments,
		met:         met,
		health:      health,
	}
}

// Run dials, subscribes and pumps frames until ctx is cancelled. Connection
// loss triggers a redial with exponential backoff and jitter; the backoff
// resets after a successful connect.
func (i *Ingestor) Run(ctx context.Context) error {
	backoff := backoffInitial

	for {
		if ctx.Err() != nil {
			return nil
		}

		feed, err := i.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("feed dial failed", "err", err, "retry_in", backoff)
			if i.met != nil {
				i.met.FeedReconnects.Inc()
			}
			if !sleepCtx(ctx, withJitter(backoff)) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		if err := feed.Subscribe(i.instruments); err != nil {
			slog.Error("feed subscribe failed", "err", err)
			feed.Close()
			if !sleepCtx(ctx, withJitter(backoff)) {
				return nil
			}
			backoff = nextBackoff(backoff)
			continue
		}

		slog.Info("feed connected", "instruments", len(i.instruments))
		backoff = backoffInitial
		i.setFeedConnected(true)

		// feed.Read has no deadline; cancellation closes the connection to
		// unblock it.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				feed.Close()
			case <-watchDone:
			}
		}()

		err = i.pump(ctx, feed)
		close(watchDone)
		feed.Close()
		i.setFeedConnected(false)
		if ctx.Err() != nil {
			return nil
		}
		slog.Warn("feed disconnected", "err", err)
		if i.met != nil {
			i.met.FeedReconnects.Inc()
		}
	}
}

// pump reads frames until the connection or the context dies.
func (i *Ingestor) pump(ctx context.Context, feed Feed) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := feed.Read()
		if err != nil {
			return err
		}
		i.handleFrame(ctx, frame)
	}
}

func (i *Ingestor) handleFrame(ctx context.Context, frame []byte) {
	ticks, err := i.decoder.Decode(frame)
	if err != nil {
		slog.Warn("frame decode failed", "err", err)
		if i.met != nil {
			i.met.DecodeFailures.WithLabelValues(eventlog.StreamTicks).Inc()
		}
		return
	}

	for _, tick := range ticks {
		payload, err := model.Wrap(model.EventTickReceived, tick)
		if err != nil {
			slog.Error("tick encode failed", "instrument", tick.InstrumentKey, "err", err)
			continue
		}

		start := time.Now()
		_, err = i.log.Publish(ctx, eventlog.StreamTicks, payload)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("tick publish failed", "instrument", tick.InstrumentKey, "err", err)
			continue
		}
		if i.met != nil {
			i.met.PublishDur.Observe(time.Since(start).Seconds())
			i.met.TicksTotal.Inc()
		}
		if i.health != nil {
			i.health.SetLastTickTime(time.Now())
		}
	}
}

func (i *Ingestor) setFeedConnected(v bool) {
	if i.health != nil {
		i.health.SetFeedConnected(v)
	}
}

// withJitter spreads redials across up to an extra 25% of the delay.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
