// Binary pipeline runs the full option-flow pipeline: broker feed ingestion,
// one-minute candle assembly, seller-state analysis and relational
// persistence, all communicating over the event log.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sellerpanic/config"
	"sellerpanic/internal/analytics"
	"sellerpanic/internal/analyzer"
	"sellerpanic/internal/assembler"
	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/ingest"
	"sellerpanic/internal/logger"
	"sellerpanic/internal/markethours"
	"sellerpanic/internal/metrics"
	"sellerpanic/internal/notification"
	"sellerpanic/internal/orchestrator"
	"sellerpanic/internal/persist"
	"sellerpanic/internal/store/sqlite"
	"sellerpanic/pkg/upstox"
)

func main() {
	cfg := config.Load()
	logger.Init("pipeline", logger.ParseLevel(cfg.LogLevel))

	slog.Info("starting pipeline",
		"redis", cfg.RedisAddr,
		"sqlite", cfg.SQLitePath,
		"instruments", len(cfg.Instruments),
		"market", markethours.StatusString(time.Now()))

	met := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	log, err := eventlog.NewRedis(eventlog.RedisConfig{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxStreamLen: cfg.MaxStreamLen,
	})
	if err != nil {
		slog.Error("event log connect failed", "err", err)
		os.Exit(1)
	}
	health.SetLogConnected(true)

	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		slog.Error("sqlite open failed", "err", err)
		os.Exit(1)
	}
	health.SetStoreOK(true)

	sup := orchestrator.New(orchestrator.Config{}, met)

	// Workers are added upstream first; shutdown runs in the same order, so
	// the ingestor stops before the assembler drains.
	if cfg.UpstoxAccessToken != "" {
		client := upstox.NewClient(cfg.UpstoxAccessToken)
		dial := func(ctx context.Context) (ingest.Feed, error) {
			conn, err := client.DialFeed(ctx)
			if err != nil {
				return nil, err
			}
			return upstoxFeed{conn}, nil
		}
		ing := ingest.New(dial, ingest.UpstoxDecoder{}, log, cfg.Instruments, met, health)
		sup.Add("ingestor", ing.Run)
	} else {
		slog.Warn("no broker access token, running without live feed (use mockfeed to produce ticks)")
		health.SetFeedConnected(true)
	}

	asm := assembler.New(log, analytics.NewScorer(cfg.Scorer), hostConsumer("assembler"), cfg.ConsumerBlock, met)
	sup.Add("assembler", asm.Run)

	ana := analyzer.New(log, analytics.NewDetector(cfg.Detector), hostConsumer("analyzer"), cfg.ConsumerBlock, met)
	sup.Add("analyzer", ana.Run)

	per := persist.New(log, store, cfg.ConsumerBlock, met)
	sup.Add("persister", per.Run)

	not := notification.NewWorker(log, hostConsumer("notifier"), cfg.ConsumerBlock, buildNotifiers(cfg)...)
	sup.Add("notifier", not.Run)

	sup.Add("markethours", func(ctx context.Context) error {
		return watchMarketHours(ctx, met)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = sup.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsSrv.Stop(shutdownCtx)
	if cerr := log.Close(); cerr != nil {
		slog.Error("event log close failed", "err", cerr)
	}
	if cerr := store.Close(); cerr != nil {
		slog.Error("sqlite close failed", "err", cerr)
	}

	if err != nil {
		slog.Error("pipeline exited abnormally", "err", err)
		os.Exit(1)
	}
	slog.Info("pipeline stopped")
}

// upstoxFeed adapts the broker connection to the ingest.Feed contract.
type upstoxFeed struct {
	*upstox.FeedConn
}

func (f upstoxFeed) Subscribe(instrumentKeys []string) error {
	return f.FeedConn.Subscribe("sellerpanic-pipeline", instrumentKeys)
}

// watchMarketHours mirrors the session state into metrics and the log. It
// never gates the pipeline; ticks outside market hours still flow.
func watchMarketHours(ctx context.Context, met *metrics.Metrics) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	wasOpen := markethours.IsMarketOpen(time.Now())
	setMarketGauge(met, wasOpen)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			open := markethours.IsMarketOpen(time.Now())
			if open != wasOpen {
				slog.Info("market session changed", "status", markethours.StatusString(time.Now()))
				wasOpen = open
			}
			setMarketGauge(met, open)
		}
	}
}

func setMarketGauge(met *metrics.Metrics, open bool) {
	if open {
		met.MarketState.Set(1)
	} else {
		met.MarketState.Set(0)
	}
}

// buildNotifiers assembles the alert channels from config, falling back to
// the log-only notifier when none is configured.
func buildNotifiers(cfg *config.Config) []notification.Notifier {
	var notifiers []notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.AlertWebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, notification.LogNotifier{})
	}
	return notifiers
}

func hostConsumer(worker string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return worker + "-" + host
}
