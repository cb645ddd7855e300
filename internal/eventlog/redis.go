package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultMaxStreamLen   = 10000
	defaultPublishTimeout = 2 * time.Second
)

// RedisConfig configures the Redis-backed event log.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// MaxStreamLen bounds each stream's length (approximate trimming).
	MaxStreamLen int64

	// PublishTimeout bounds a single XADD round trip.
	PublishTimeout time.Duration
}

// RedisLog implements Log on Redis Streams: XADD with MAXLEN for publish,
// XREADGROUP/XACK for consumption, XPENDING/XCLAIM for reclaim.
type RedisLog struct {
	client         *goredis.Client
	maxStreamLen   int64
	publishTimeout time.Duration
}

// NewRedis connects to Redis and pings the server.
func NewRedis(cfg RedisConfig) (*RedisLog, error) {
	if cfg.MaxStreamLen <= 0 {
		cfg.MaxStreamLen = defaultMaxStreamLen
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventlog: redis ping: %w", err)
	}

	slog.Info("event log connected", "addr", cfg.Addr, "max_stream_len", cfg.MaxStreamLen)
	return &RedisLog{
		client:         client,
		maxStreamLen:   cfg.MaxStreamLen,
		publishTimeout: cfg.PublishTimeout,
	}, nil
}

// Publish appends payload to stream. A failed publish surfaces as an error to
// the caller; there is no local buffering.
func (l *RedisLog) Publish(ctx context.Context, stream string, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.publishTimeout)
	defer cancel()

	id, err := l.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: l.maxStreamLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventlog: xadd %s: %w", stream, err)
	}
	return id, nil
}

// EnsureGroup creates the group at entry "0" so a fresh group sees the whole
// retained stream. BUSYGROUP means it already exists.
func (l *RedisLog) EnsureGroup(ctx context.Context, stream, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("eventlog: xgroup create %s/%s: %w", stream, group, err)
	}
	return nil
}

func (l *RedisLog) ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error) {
	results, err := l.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    args.Group,
		Consumer: args.Consumer,
		Streams:  []string{args.Stream, ">"},
		Count:    args.Count,
		Block:    args.Block,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil // block timed out, no new entries
		}
		return nil, fmt.Errorf("eventlog: xreadgroup %s/%s: %w", args.Stream, args.Group, err)
	}

	var entries []Entry
	for _, stream := range results {
		for _, msg := range stream.Messages {
			entries = append(entries, Entry{ID: msg.ID, Payload: messageData(msg)})
		}
	}
	return entries, nil
}

func (l *RedisLog) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("eventlog: xack %s/%s: %w", stream, group, err)
	}
	return nil
}

// Reclaim steals pending entries idle for at least minIdle, regardless of
// which consumer they were delivered to.
func (l *RedisLog) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	pending, err := l.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   minIdle,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: xpending %s/%s: %w", stream, group, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}

	claimed, err := l.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: xclaim %s/%s: %w", stream, group, err)
	}

	entries := make([]Entry, 0, len(claimed))
	for _, msg := range claimed {
		entries = append(entries, Entry{ID: msg.ID, Payload: messageData(msg)})
	}
	if len(entries) > 0 {
		slog.Info("reclaimed pending entries", "stream", stream, "group", group, "count", len(entries))
	}
	return entries, nil
}

func (l *RedisLog) StreamLength(ctx context.Context, stream string) (int64, error) {
	n, err := l.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("eventlog: xlen %s: %w", stream, err)
	}
	return n, nil
}

func (l *RedisLog) PendingCount(ctx context.Context, stream, group string) (int64, error) {
	p, err := l.client.XPending(ctx, stream, group).Result()
	if err != nil {
		if err == goredis.Nil || strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("eventlog: xpending %s/%s: %w", stream, group, err)
	}
	return p.Count, nil
}

func (l *RedisLog) Close() error {
	return l.client.Close()
}

// messageData extracts the "data" field published by Publish. Entries written
// by other producers without that field decode to nil and are dropped by the
// envelope parser downstream.
func messageData(msg goredis.XMessage) []byte {
	if s, ok := msg.Values["data"].(string); ok {
		return []byte(s)
	}
	return nil
}
