// Package notification pushes generated BUY signals to external channels
// (Telegram, generic webhooks). Delivery is best effort; a failed send never
// blocks or replays the pipeline.
package notification

import (
	"context"
	"fmt"
	"log/slog"

	"sellerpanic/internal/model"
)

// Alert is one outbound notification.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier delivers alerts to one channel.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// FromSignal renders a signal into an alert.
func FromSignal(s *model.Signal) Alert {
	return Alert{
		Title: fmt.Sprintf("%s %s", s.Recommendation, s.InstrumentKey),
		Message: fmt.Sprintf(
			"state=%s panic_score=%s confidence=%s entry=%s candle=%s features=%v",
			s.SellerState,
			s.PanicScore.StringFixed(0),
			s.Confidence.StringFixed(2),
			s.EntryPrice.StringFixed(2),
			s.CandleTimestamp.Format("15:04"),
			s.Signals,
		),
	}
}

// LogNotifier writes alerts to the process log, used when no external channel
// is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	slog.Info("signal alert", "title", alert.Title, "message", alert.Message)
	return nil
}
