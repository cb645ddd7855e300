package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types carried on the log. Payloads are a tagged variant on
// "event_type"; consumers decode into the concrete type matching the stream
// they read and drop unknown tags.
const (
	EventTickReceived    = "tick.received"
	EventCandleCompleted = "candle.completed"
	EventSignalGenerated = "signal.generated"
)

// ErrUnknownEventType is returned when an envelope carries a tag the decoder
// does not recognize.
var ErrUnknownEventType = errors.New("model: unknown event type")

// Envelope wraps every payload published on the event log.
type Envelope struct {
	EventID   uuid.UUID       `json:"event_id"`
	EventType string          `json:"event_type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Wrap encodes v into an envelope of the given type.
func Wrap(eventType string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:   uuid.New(),
		EventType: eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("model: marshal %s envelope: %w", eventType, err)
	}
	return b, nil
}

// Unwrap parses an envelope from raw payload bytes.
func Unwrap(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("model: unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Tick decodes the envelope's payload as a Tick.
func (e *Envelope) Tick() (Tick, error) {
	if e.EventType != EventTickReceived {
		return Tick{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	var t Tick
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return Tick{}, fmt.Errorf("model: unmarshal tick: %w", err)
	}
	return t, nil
}

// Candle decodes the envelope's payload as a Candle.
func (e *Envelope) Candle() (Candle, error) {
	if e.EventType != EventCandleCompleted {
		return Candle{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	var c Candle
	if err := json.Unmarshal(e.Data, &c); err != nil {
		return Candle{}, fmt.Errorf("model: unmarshal candle: %w", err)
	}
	return c, nil
}

// Signal decodes the envelope's payload as a Signal.
func (e *Envelope) Signal() (Signal, error) {
	if e.EventType != EventSignalGenerated {
		return Signal{}, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	var s Signal
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return Signal{}, fmt.Errorf("model: unmarshal signal: %w", err)
	}
	return s, nil
}
