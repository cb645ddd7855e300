// Package orchestrator supervises the pipeline workers: it restarts crashed
// workers with backoff, escalates when one crashes too often, and shuts the
// pipeline down in dependency order so in-flight minutes drain before the
// downstream stops.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sellerpanic/internal/metrics"
)

const (
	defaultRestartBackoff = time.Second
	defaultCrashLimit     = 5
	defaultCrashWindow    = time.Minute
	defaultStopGrace      = 10 * time.Second
)

// ErrEscalated is wrapped in the error returned when a worker exceeded the
// crash budget and the whole pipeline was brought down.
var ErrEscalated = fmt.Errorf("orchestrator: crash limit exceeded")

// Config bounds the restart policy.
type Config struct {
	RestartBackoff time.Duration // minimum delay before a crashed worker restarts
	CrashLimit     int           // crashes tolerated per window before escalation
	CrashWindow    time.Duration
	StopGrace      time.Duration // per-worker drain budget during shutdown
}

func (c *Config) applyDefaults() {
	if c.RestartBackoff < defaultRestartBackoff {
		c.RestartBackoff = defaultRestartBackoff
	}
	if c.CrashLimit <= 0 {
		c.CrashLimit = defaultCrashLimit
	}
	if c.CrashWindow <= 0 {
		c.CrashWindow = defaultCrashWindow
	}
	if c.StopGrace <= 0 {
		c.StopGrace = defaultStopGrace
	}
}

type worker struct {
	name   string
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor runs named workers and applies the restart policy. Workers are
// stopped in the order they were added, so add them upstream first.
type Supervisor struct {
	cfg Config
	met *metrics.Metrics

	workers []*worker

	mu       sync.Mutex
	crashes  map[string][]time.Time
	escalate error

	rootCancel context.CancelFunc

	// now is swappable so tests can compress the crash window.
	now func() time.Time
}

// New creates a Supervisor. met may be nil in tests.
func New(cfg Config, met *metrics.Metrics) *Supervisor {
	cfg.applyDefaults()
	return &Supervisor{
		cfg:     cfg,
		met:     met,
		crashes: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Add registers a worker. Call before Run; order defines shutdown order.
func (s *Supervisor) Add(name string, run func(ctx context.Context) error) {
	s.workers = append(s.workers, &worker{
		name: name,
		run:  run,
		done: make(chan struct{}),
	})
}

// Run starts all workers and blocks until ctx is cancelled or a worker
// escalates. It returns nil after a clean ordered shutdown, or an error
// wrapping ErrEscalated.
func (s *Supervisor) Run(ctx context.Context) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s.rootCancel = rootCancel
	defer rootCancel()

	for _, w := range s.workers {
		wctx, cancel := context.WithCancel(rootCtx)
		w.cancel = cancel
		go s.supervise(wctx, w)
	}

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case <-rootCtx.Done():
		// A worker escalated; fall through to the ordered stop.
	}

	s.stopOrdered()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.escalate
}

// supervise runs one worker until its context dies, restarting on crashes.
func (s *Supervisor) supervise(ctx context.Context, w *worker) {
	defer close(w.done)

	for {
		err := w.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			slog.Info("worker stopped cleanly", "worker", w.name)
			return
		}

		slog.Error("worker crashed", "worker", w.name, "err", err)
		if s.met != nil {
			s.met.WorkerRestarts.WithLabelValues(w.name).Inc()
		}
		if s.recordCrash(w.name, err) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RestartBackoff):
		}
	}
}

// recordCrash returns true when the worker exhausted its crash budget; the
// whole supervisor is then cancelled.
func (s *Supervisor) recordCrash(name string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.cfg.CrashWindow)
	recent := s.crashes[name][:0]
	for _, t := range s.crashes[name] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	recent = append(recent, now)
	s.crashes[name] = recent

	if len(recent) > s.cfg.CrashLimit {
		if s.escalate == nil {
			s.escalate = fmt.Errorf("%w: worker %s: %v", ErrEscalated, name, cause)
		}
		slog.Error("crash limit exceeded, stopping pipeline",
			"worker", name, "crashes", len(recent), "window", s.cfg.CrashWindow)
		s.rootCancel()
		return true
	}
	return false
}

// stopOrdered cancels workers in registration order, giving each up to
// StopGrace to drain before moving on.
func (s *Supervisor) stopOrdered() {
	for _, w := range s.workers {
		w.cancel()
		select {
		case <-w.done:
		case <-time.After(s.cfg.StopGrace):
			slog.Warn("worker did not stop within grace", "worker", w.name, "grace", s.cfg.StopGrace)
		}
	}
}
