package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/model"
)

// fakeFeed serves queued frames, then blocks until closed.
type fakeFeed struct {
	mu         sync.Mutex
	frames     [][]byte
	subscribed []string
	done       chan struct{}
	closeOnce  sync.Once
}

func newFakeFeed(frames ...[]byte) *fakeFeed {
	return &fakeFeed{frames: frames, done: make(chan struct{})}
}

func (f *fakeFeed) Subscribe(instrumentKeys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = instrumentKeys
	return nil
}

func (f *fakeFeed) Read() ([]byte, error) {
	f.mu.Lock()
	if len(f.frames) > 0 {
		frame := f.frames[0]
		f.frames = f.frames[1:]
		f.mu.Unlock()
		return frame, nil
	}
	f.mu.Unlock()

	<-f.done
	return nil, errors.New("connection closed")
}

func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}

func TestRunPublishesDecodedTicks(t *testing.T) {
	log := eventlog.NewMemory(0)
	feed := newFakeFeed([]byte(fullFrame), []byte(fullFrame))
	dial := func(ctx context.Context) (Feed, error) { return feed, nil }

	ing := New(dial, UpstoxDecoder{}, log, []string{"NSE_FO|61755"}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- ing.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := log.StreamLength(context.Background(), eventlog.StreamTicks)
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}

	assert.Equal(t, []string{"NSE_FO|61755"}, feed.subscribed)
}

func TestRunStopsWhileReadBlocked(t *testing.T) {
	log := eventlog.NewMemory(0)
	feed := newFakeFeed() // no frames queued, Read blocks immediately
	dial := func(ctx context.Context) (Feed, error) { return feed, nil }

	ing := New(dial, UpstoxDecoder{}, log, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- ing.Run(ctx) }()

	// Give Run time to dial and park in Read before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop while Read was blocked")
	}
}

func TestHandleFrame(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory(0)
	ing := New(nil, UpstoxDecoder{}, log, nil, nil, nil)

	ing.handleFrame(ctx, []byte(fullFrame))

	require.NoError(t, log.EnsureGroup(ctx, eventlog.StreamTicks, "check"))
	entries, err := log.ReadGroup(ctx, eventlog.ReadArgs{
		Stream: eventlog.StreamTicks, Group: "check", Consumer: "check", Count: 10,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	env, err := model.Unwrap(entries[0].Payload)
	require.NoError(t, err)
	tick, err := env.Tick()
	require.NoError(t, err)
	assert.Equal(t, "NSE_FO|61755", tick.InstrumentKey)
	assert.Equal(t, "182.35", tick.LTP.String())
}

func TestHandleFrameUndecodable(t *testing.T) {
	ctx := context.Background()
	log := eventlog.NewMemory(0)
	ing := New(nil, UpstoxDecoder{}, log, nil, nil, nil)

	ing.handleFrame(ctx, []byte("binary noise"))

	n, err := log.StreamLength(ctx, eventlog.StreamTicks)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNextBackoffDoublesToCap(t *testing.T) {
	assert.Equal(t, 10*time.Second, nextBackoff(5*time.Second))
	assert.Equal(t, 20*time.Second, nextBackoff(10*time.Second))
	assert.Equal(t, 40*time.Second, nextBackoff(20*time.Second))
	assert.Equal(t, 60*time.Second, nextBackoff(40*time.Second))
	assert.Equal(t, 60*time.Second, nextBackoff(60*time.Second))
}

func TestWithJitterBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := withJitter(8 * time.Second)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}
