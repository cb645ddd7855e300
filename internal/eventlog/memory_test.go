package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublishOrder(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)

	id1, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)
	id2, err := l.Publish(ctx, StreamTicks, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "1-0", id1)
	assert.Equal(t, "2-0", id2)

	n, err := l.StreamLength(ctx, StreamTicks)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))
	entries, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", string(entries[0].Payload))
	assert.Equal(t, "b", string(entries[1].Payload))
}

func TestMemoryGroupDeliversOnce(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)
	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))

	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)

	first, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestMemoryAckClearsPending(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)
	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))

	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)

	entries, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	pending, err := l.PendingCount(ctx, StreamTicks, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, l.Ack(ctx, StreamTicks, "g", entries[0].ID))
	pending, err = l.PendingCount(ctx, StreamTicks, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

// A consumer that dies between read and ack leaves its entry pending; after
// the idle threshold another consumer reclaims and finishes it.
func TestMemoryAtLeastOnceReclaim(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	require.NoError(t, l.EnsureGroup(ctx, StreamSignals, "g"))
	for _, p := range []string{"one", "two", "three"} {
		_, err := l.Publish(ctx, StreamSignals, []byte(p))
		require.NoError(t, err)
	}

	entries, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamSignals, Group: "g", Consumer: "dead", Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// First and third processed; the consumer crashes before acking the second.
	require.NoError(t, l.Ack(ctx, StreamSignals, "g", entries[0].ID, entries[2].ID))

	// Too early: nothing is idle enough yet.
	got, err := l.Reclaim(ctx, StreamSignals, "g", "alive", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	now = base.Add(2 * time.Minute)
	got, err = l.Reclaim(ctx, StreamSignals, "g", "alive", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entries[1].ID, got[0].ID)
	assert.Equal(t, "two", string(got[0].Payload))

	require.NoError(t, l.Ack(ctx, StreamSignals, "g", got[0].ID))

	pending, err := l.PendingCount(ctx, StreamSignals, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)

	length, err := l.StreamLength(ctx, StreamSignals)
	require.NoError(t, err)
	assert.Equal(t, int64(3), length)
}

func TestMemoryReclaimResetsIdle(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))
	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)
	_, err = l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	got, err := l.Reclaim(ctx, StreamTicks, "g", "c2", time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// The transfer restarts the idle clock: an immediate second reclaim
	// finds nothing.
	got, err = l.Reclaim(ctx, StreamTicks, "g", "c3", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryReclaimDropsTrimmedEntries(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(2)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))
	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)

	entries, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Two more entries push the pending one out of the capped stream.
	_, err = l.Publish(ctx, StreamTicks, []byte("b"))
	require.NoError(t, err)
	_, err = l.Publish(ctx, StreamTicks, []byte("c"))
	require.NoError(t, err)

	now = base.Add(2 * time.Minute)
	got, err := l.Reclaim(ctx, StreamTicks, "g", "c2", time.Minute, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	pending, err := l.PendingCount(ctx, StreamTicks, "g")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending, "trimmed entries leave the pending list")
}

func TestMemoryTrimsToMaxLen(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(2)

	for _, p := range []string{"a", "b", "c"} {
		_, err := l.Publish(ctx, StreamTicks, []byte(p))
		require.NoError(t, err)
	}

	n, err := l.StreamLength(ctx, StreamTicks)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))
	entries, err := l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", string(entries[0].Payload))
	assert.Equal(t, "c", string(entries[1].Payload))
}

func TestMemoryReadGroupBlocksUntilPublish(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)
	require.NoError(t, l.EnsureGroup(ctx, StreamTicks, "g"))

	done := make(chan []Entry, 1)
	go func() {
		entries, _ := l.ReadGroup(ctx, ReadArgs{
			Stream: StreamTicks, Group: "g", Consumer: "c1", Count: 1, Block: 5 * time.Second,
		})
		done <- entries
	}()

	time.Sleep(20 * time.Millisecond)
	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	require.NoError(t, err)

	select {
	case entries := <-done:
		require.Len(t, entries, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked read never woke up")
	}
}

func TestMemoryClosed(t *testing.T) {
	ctx := context.Background()
	l := NewMemory(0)
	require.NoError(t, l.Close())

	_, err := l.Publish(ctx, StreamTicks, []byte("a"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = l.ReadGroup(ctx, ReadArgs{Stream: StreamTicks, Group: "g"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, l.EnsureGroup(ctx, StreamTicks, "g"), ErrClosed)

	// Closing twice is fine.
	require.NoError(t, l.Close())
}
