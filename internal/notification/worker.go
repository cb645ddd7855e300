package notification

import (
	"context"
	"log/slog"
	"time"

	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/model"
)

const (
	Group     = "notifier"
	readCount = 16
)

// Worker consumes the signals stream and fans BUY signals out to the
// configured notifiers. WAIT signals are acked silently.
type Worker struct {
	log       eventlog.Log
	notifiers []Notifier
	consumer  string
	block     time.Duration
}

// NewWorker creates the notification worker.
func NewWorker(log eventlog.Log, consumer string, block time.Duration, notifiers ...Notifier) *Worker {
	return &Worker{
		log:       log,
		notifiers: notifiers,
		consumer:  consumer,
		block:     block,
	}
}

// Run consumes signals until ctx is cancelled. Every entry is acked whether
// or not delivery succeeded: a missed alert is preferable to a repeated one.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.log.EnsureGroup(ctx, eventlog.StreamSignals, Group); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		entries, err := w.log.ReadGroup(ctx, eventlog.ReadArgs{
			Stream:   eventlog.StreamSignals,
			Group:    Group,
			Consumer: w.consumer,
			Count:    readCount,
			Block:    w.block,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("signal read failed", "err", err)
			continue
		}

		for _, entry := range entries {
			w.handleEntry(ctx, entry)
		}
	}
}

func (w *Worker) handleEntry(ctx context.Context, entry eventlog.Entry) {
	env, err := model.Unwrap(entry.Payload)
	var signal model.Signal
	if err == nil {
		signal, err = env.Signal()
	}
	if err != nil {
		slog.Warn("dropping undecodable signal entry", "id", entry.ID, "err", err)
	} else if signal.Recommendation == model.Buy {
		alert := FromSignal(&signal)
		for _, n := range w.notifiers {
			if err := n.Send(ctx, alert); err != nil {
				slog.Error("alert delivery failed", "title", alert.Title, "err", err)
			}
		}
	}

	if err := w.log.Ack(ctx, eventlog.StreamSignals, Group, entry.ID); err != nil {
		slog.Error("signal ack failed", "id", entry.ID, "err", err)
	}
}
