package eventlog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryLog is an in-process Log used by tests and dry runs. It mirrors the
// Redis semantics the pipeline relies on: monotone entry IDs, group cursors,
// pending lists and idle-based reclaim.
type MemoryLog struct {
	mu      sync.Mutex
	streams map[string]*memStream
	maxLen  int64
	waitCh  chan struct{} // closed and replaced on every publish
	closed  bool

	// now is swappable so tests can control reclaim idle times.
	now func() time.Time
}

type memStream struct {
	seq     uint64
	entries []memEntry
	groups  map[string]*memGroup
}

type memEntry struct {
	seq     uint64
	payload []byte
}

type memGroup struct {
	cursor  uint64                 // highest seq ever delivered to the group
	pending map[uint64]*memPending // seq -> delivery state
}

type memPending struct {
	consumer    string
	deliveredAt time.Time
}

// NewMemory creates an empty in-memory log. maxLen <= 0 means unbounded.
func NewMemory(maxLen int64) *MemoryLog {
	return &MemoryLog{
		streams: make(map[string]*memStream),
		maxLen:  maxLen,
		waitCh:  make(chan struct{}),
		now:     time.Now,
	}
}

func (l *MemoryLog) stream(name string) *memStream {
	s, ok := l.streams[name]
	if !ok {
		s = &memStream{groups: make(map[string]*memGroup)}
		l.streams[name] = s
	}
	return s
}

func entryID(seq uint64) string {
	return strconv.FormatUint(seq, 10) + "-0"
}

func parseEntryID(id string) (uint64, error) {
	seqPart, _, _ := strings.Cut(id, "-")
	seq, err := strconv.ParseUint(seqPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("eventlog: bad entry id %q: %w", id, err)
	}
	return seq, nil
}

func (l *MemoryLog) Publish(_ context.Context, stream string, payload []byte) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return "", ErrClosed
	}

	s := l.stream(stream)
	s.seq++
	buf := make([]byte, len(payload))
	copy(buf, payload)
	s.entries = append(s.entries, memEntry{seq: s.seq, payload: buf})

	if l.maxLen > 0 && int64(len(s.entries)) > l.maxLen {
		s.entries = s.entries[int64(len(s.entries))-l.maxLen:]
	}

	close(l.waitCh)
	l.waitCh = make(chan struct{})
	return entryID(s.seq), nil
}

func (l *MemoryLog) EnsureGroup(_ context.Context, stream, group string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	s := l.stream(stream)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{pending: make(map[uint64]*memPending)}
	}
	return nil
}

func (l *MemoryLog) ReadGroup(ctx context.Context, args ReadArgs) ([]Entry, error) {
	deadline := time.Now().Add(args.Block)
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return nil, ErrClosed
		}
		entries := l.takeNew(args)
		waitCh := l.waitCh
		l.mu.Unlock()

		if len(entries) > 0 {
			return entries, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-waitCh:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

// takeNew must be called with the lock held.
func (l *MemoryLog) takeNew(args ReadArgs) []Entry {
	s, ok := l.streams[args.Stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[args.Group]
	if !ok {
		return nil
	}

	var out []Entry
	for _, e := range s.entries {
		if e.seq <= g.cursor {
			continue
		}
		out = append(out, Entry{ID: entryID(e.seq), Payload: e.payload})
		g.cursor = e.seq
		g.pending[e.seq] = &memPending{consumer: args.Consumer, deliveredAt: l.now()}
		if args.Count > 0 && int64(len(out)) >= args.Count {
			break
		}
	}
	return out
}

func (l *MemoryLog) Ack(_ context.Context, stream, group string, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	s, ok := l.streams[stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	for _, id := range ids {
		seq, err := parseEntryID(id)
		if err != nil {
			return err
		}
		delete(g.pending, seq)
	}
	return nil
}

func (l *MemoryLog) Reclaim(_ context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	s, ok := l.streams[stream]
	if !ok {
		return nil, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	cutoff := l.now().Add(-minIdle)
	var seqs []uint64
	for seq, p := range g.pending {
		if !p.deliveredAt.After(cutoff) {
			seqs = append(seqs, seq)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if count > 0 && int64(len(seqs)) > count {
		seqs = seqs[:count]
	}

	var out []Entry
	for _, seq := range seqs {
		var payload []byte
		for _, e := range s.entries {
			if e.seq == seq {
				payload = e.payload
				break
			}
		}
		if payload == nil {
			// Trimmed out of the stream; nothing left to redeliver.
			delete(g.pending, seq)
			continue
		}
		out = append(out, Entry{ID: entryID(seq), Payload: payload})
		g.pending[seq] = &memPending{consumer: consumer, deliveredAt: l.now()}
	}
	return out, nil
}

func (l *MemoryLog) StreamLength(_ context.Context, stream string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[stream]
	if !ok {
		return 0, nil
	}
	return int64(len(s.entries)), nil
}

func (l *MemoryLog) PendingCount(_ context.Context, stream, group string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.streams[stream]
	if !ok {
		return 0, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return 0, nil
	}
	return int64(len(g.pending)), nil
}

func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.waitCh)
	}
	return nil
}
