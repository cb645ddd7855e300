// Package config loads the process-wide configuration: environment variables
// for infrastructure endpoints, with an optional YAML file overriding the
// detector thresholds and scorer weights. The returned Config is immutable
// after Load; workers receive it by value at startup.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sellerpanic/internal/analytics"
)

// Config holds all application configuration.
type Config struct {
	// Event log (Redis Streams)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MaxStreamLen  int64
	ConsumerBlock time.Duration

	// Relational store
	SQLitePath string

	// Observability
	MetricsAddr string
	LogLevel    string

	// Upstox feed (empty access token = mock/offline mode)
	UpstoxFeedURL     string
	UpstoxAccessToken string
	UpstoxTOTPSecret  string

	// Instrument keys to subscribe, comma-separated in the env var.
	Instruments []string

	// Alerting (empty = log-only notifier)
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string

	// Analytics tuning; YAML-overridable.
	Detector analytics.DetectorThresholds
	Scorer   analytics.ScoreWeights
}

// tuningFile is the YAML shape of the optional CONFIG_FILE.
type tuningFile struct {
	Detector analytics.DetectorThresholds `yaml:"detector"`
	Scorer   analytics.ScoreWeights       `yaml:"scorer"`
}

// Load reads configuration from environment variables with sensible defaults,
// then applies the YAML tuning file named by CONFIG_FILE, if any. Missing
// mandatory configuration is fatal: the process must not start half-wired.
func Load() *Config {
	cfg := &Config{
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		MaxStreamLen:  int64(getEnvInt("MAX_STREAM_LEN", 10000)),
		ConsumerBlock: time.Duration(getEnvInt("CONSUMER_BLOCK_MS", 1000)) * time.Millisecond,

		SQLitePath:  getEnv("SQLITE_PATH", "data/signals.db"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		UpstoxFeedURL:     getEnv("UPSTOX_FEED_URL", "wss://api.upstox.com/v3/feed/market-data-feed"),
		UpstoxAccessToken: getEnv("UPSTOX_ACCESS_TOKEN", ""),
		UpstoxTOTPSecret:  getEnv("UPSTOX_TOTP_SECRET", ""),

		Instruments: splitList(getEnv("INSTRUMENT_KEYS", "")),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),

		Detector: analytics.DefaultDetectorThresholds(),
		Scorer:   analytics.DefaultScoreWeights(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			log.Fatalf("[config] %v", err)
		}
	}

	return cfg
}

// applyFile overlays detector thresholds and scorer weights from a YAML file.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	tuning := tuningFile{Detector: c.Detector, Scorer: c.Scorer}
	if err := yaml.Unmarshal(raw, &tuning); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	c.Detector = tuning.Detector
	c.Scorer = tuning.Scorer
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
