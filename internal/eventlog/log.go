// Package eventlog abstracts the durable append-only stream the workers
// communicate through. The production implementation is Redis Streams; an
// in-memory implementation backs the tests. Delivery is at-least-once: an
// entry read through a group stays pending until acknowledged, and consumers
// must tolerate re-delivery of the same entry ID.
package eventlog

import (
	"context"
	"errors"
	"time"
)

// Stream names used by the pipeline.
const (
	StreamTicks   = "ticks"
	StreamCandles = "candles"
	StreamSignals = "signals"
)

// ErrClosed is returned by operations on a closed log.
var ErrClosed = errors.New("eventlog: closed")

// Entry is one (entry_id, payload) pair from a stream. IDs are opaque but
// monotone within a stream.
type Entry struct {
	ID      string
	Payload []byte
}

// ReadArgs parameterize a consumer-group read.
type ReadArgs struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64         // max entries to return
	Block    time.Duration // max time to wait for new entries
}

// Log is a durable, ordered, append-only log of named streams with
// consumer-group semantics.
type Log interface {
	// Publish atomically appends payload to stream and returns the new entry
	// ID. Streams are trimmed approximately to the configured maximum length.
	Publish(ctx context.Context, stream string, payload []byte) (string, error)

	// EnsureGroup idempotently creates a consumer group reading from the
	// beginning of the stream, creating the stream if needed.
	EnsureGroup(ctx context.Context, stream, group string) error

	// ReadGroup blocks up to args.Block for entries never delivered to the
	// group, returns up to args.Count of them, and moves each into the
	// group's pending list assigned to args.Consumer.
	ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error)

	// Ack removes entries from the group's pending list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// Reclaim transfers pending entries idle for at least minIdle to the
	// given consumer and returns them for reprocessing.
	Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error)

	// StreamLength returns the number of entries currently in the stream.
	StreamLength(ctx context.Context, stream string) (int64, error)

	// PendingCount returns the number of delivered-but-unacked entries for
	// the group.
	PendingCount(ctx context.Context, stream, group string) (int64, error)

	Close() error
}
