// Package metrics registers the pipeline's Prometheus metrics and serves the
// /metrics and /healthz endpoints.
package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the pipeline.
type Metrics struct {
	TicksTotal     prometheus.Counter
	CandlesTotal   prometheus.Counter
	SignalsTotal   *prometheus.CounterVec // labels: state
	DroppedTicks   prometheus.Counter     // out-of-order or stale ticks discarded
	DecodeFailures *prometheus.CounterVec // labels: stream

	FeedReconnects prometheus.Counter

	PublishDur prometheus.Histogram
	InsertDur  prometheus.Histogram
	AnalyzeDur prometheus.Histogram

	PendingEntries   *prometheus.GaugeVec // labels: stream, group
	EntriesReclaimed prometheus.Counter

	OpenCandles    prometheus.Gauge
	WorkerRestarts *prometheus.CounterVec // labels: worker
	MarketState    prometheus.Gauge       // 0=closed, 1=open
}

// New registers and returns all pipeline metrics on the default registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_ticks_total",
			Help: "Total ticks ingested from the market feed",
		}),
		CandlesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_candles_total",
			Help: "Total 1m candles finalized",
		}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_signals_total",
			Help: "Total signals generated (by seller state)",
		}, []string{"state"}),
		DroppedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_dropped_ticks_total",
			Help: "Ticks dropped for arriving after their candle was finalized",
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_decode_failures_total",
			Help: "Stream entries acknowledged without processing due to decode failure",
		}, []string{"stream"}),

		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_feed_reconnects_total",
			Help: "Market feed reconnection attempts",
		}),

		PublishDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_publish_duration_seconds",
			Help:    "Event log publish latency",
			Buckets: prometheus.DefBuckets,
		}),
		InsertDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_insert_duration_seconds",
			Help:    "Relational store insert latency",
			Buckets: prometheus.DefBuckets,
		}),
		AnalyzeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_analyze_duration_seconds",
			Help:    "Scoring plus detection latency per candle",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),

		PendingEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_pending_entries",
			Help: "Delivered-but-unacked entries per stream and group",
		}, []string{"stream", "group"}),
		EntriesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_entries_reclaimed_total",
			Help: "Pending entries reclaimed from stalled consumers",
		}),

		OpenCandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_open_candles",
			Help: "Candle accumulators currently open in the assembler",
		}),
		WorkerRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_worker_restarts_total",
			Help: "Supervisor restarts per worker",
		}, []string{"worker"}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_market_state",
			Help: "Market session state (0=closed, 1=open)",
		}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.SignalsTotal,
		m.DroppedTicks,
		m.DecodeFailures,
		m.FeedReconnects,
		m.PublishDur,
		m.InsertDur,
		m.AnalyzeDur,
		m.PendingEntries,
		m.EntriesReclaimed,
		m.OpenCandles,
		m.WorkerRestarts,
		m.MarketState,
	)

	return m
}

// HealthStatus tracks component liveness for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected bool      `json:"feed_connected"`
	LastTickTime  time.Time `json:"last_tick_time"`
	LogConnected  bool      `json:"log_connected"`
	StoreOK       bool      `json:"store_ok"`
	StartedAt     time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLogConnected(v bool) {
	h.mu.Lock()
	h.LogConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetStoreOK(v bool) {
	h.mu.Lock()
	h.StoreOK = v
	h.mu.Unlock()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overall := "healthy"
	code := http.StatusOK
	if !h.FeedConnected || !h.LogConnected || !h.StoreOK {
		overall = "degraded"
		code = http.StatusServiceUnavailable
	}
	if !h.LogConnected && !h.StoreOK {
		overall = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status        string `json:"status"`
		Uptime        string `json:"uptime"`
		FeedConnected bool   `json:"feed_connected"`
		LastTickTime  string `json:"last_tick_time"`
		TickAge       string `json:"tick_age"`
		LogConnected  bool   `json:"log_connected"`
		StoreOK       bool   `json:"store_ok"`
	}{
		Status:        overall,
		Uptime:        time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected: h.FeedConnected,
		LastTickTime:  h.LastTickTime.Format(time.RFC3339),
		TickAge:       tickAge,
		LogConnected:  h.LogConnected,
		StoreOK:       h.StoreOK,
	}

	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(status)
}

// Server exposes /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
}

// NewServer creates the metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
