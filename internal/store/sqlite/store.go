// Package sqlite is the relational store for completed candles and generated
// signals. One writer connection, WAL mode, short-lived transactions.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"sellerpanic/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const insertTimeout = 5 * time.Second

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite opened", "path", path)
	return &Store{db: db}, nil
}

// Decimal columns are TEXT so values round-trip without float drift.
func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			instrument_key     TEXT    NOT NULL,
			candle_timestamp   INTEGER NOT NULL,
			open               TEXT    NOT NULL,
			high               TEXT    NOT NULL,
			low                TEXT    NOT NULL,
			close              TEXT    NOT NULL,
			previous_close     TEXT,
			volume             INTEGER NOT NULL,
			oi                 INTEGER NOT NULL,
			oi_change          INTEGER,
			oi_change_pct      TEXT,
			vwap               TEXT    NOT NULL,
			support_level_1    TEXT,
			support_qty_1      INTEGER,
			support_level_2    TEXT,
			support_qty_2      INTEGER,
			support_level_3    TEXT,
			support_qty_3      INTEGER,
			support            TEXT,
			resistance_level_1 TEXT,
			resistance_qty_1   INTEGER,
			resistance_level_2 TEXT,
			resistance_qty_2   INTEGER,
			resistance_level_3 TEXT,
			resistance_qty_3   INTEGER,
			resistance         TEXT,
			tbq                INTEGER,
			tsq                INTEGER,
			order_book_ratio   TEXT,
			bid_ask_spread     TEXT,
			big_bid_count      INTEGER,
			big_ask_count      INTEGER,
			avg_delta          REAL,
			avg_gamma          REAL,
			avg_theta          REAL,
			avg_vega           REAL,
			avg_rho            REAL,
			avg_iv             REAL,
			gamma_spike        TEXT    NOT NULL,
			candle_score       TEXT    NOT NULL,
			tick_count         INTEGER NOT NULL,
			UNIQUE (instrument_key, candle_timestamp)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			instrument_key   TEXT    NOT NULL,
			candle_timestamp INTEGER NOT NULL,
			signal_timestamp INTEGER NOT NULL,
			seller_state     TEXT    NOT NULL,
			recommendation   TEXT    NOT NULL,
			confidence       TEXT    NOT NULL,
			panic_score      TEXT    NOT NULL,
			short_covering   INTEGER NOT NULL,
			gamma_spike      INTEGER NOT NULL,
			order_book_panic INTEGER NOT NULL,
			liquidity_drying INTEGER NOT NULL,
			strong_buying    INTEGER NOT NULL,
			signals          TEXT    NOT NULL,
			entry_price      TEXT    NOT NULL,
			support          TEXT,
			resistance       TEXT,
			candle_score     TEXT    NOT NULL,
			oi_change        INTEGER,
			oi_change_pct    TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_signals_instrument_ts
			ON signals (instrument_key, candle_timestamp);
	`)
	return err
}

// InsertCandle inserts one candle row. Redelivered candles hit the unique key
// and are ignored.
func (s *Store) InsertCandle(ctx context.Context, c *model.Candle) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	sup := paddedLevels(c.SupportLevels)
	res := paddedLevels(c.ResistanceLevels)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candles (
			instrument_key, candle_timestamp,
			open, high, low, close, previous_close,
			volume, oi, oi_change, oi_change_pct, vwap,
			support_level_1, support_qty_1, support_level_2, support_qty_2,
			support_level_3, support_qty_3, support,
			resistance_level_1, resistance_qty_1, resistance_level_2, resistance_qty_2,
			resistance_level_3, resistance_qty_3, resistance,
			tbq, tsq, order_book_ratio, bid_ask_spread, big_bid_count, big_ask_count,
			avg_delta, avg_gamma, avg_theta, avg_vega, avg_rho, avg_iv,
			gamma_spike, candle_score, tick_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.InstrumentKey, c.CandleTimestamp.Unix(),
		c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), decPtr(c.PreviousClose),
		c.Volume, c.OI, c.OIChange, decPtr(c.OIChangePct), c.VWAP.String(),
		sup[0].price, sup[0].qty, sup[1].price, sup[1].qty,
		sup[2].price, sup[2].qty, decPtr(c.Support),
		res[0].price, res[0].qty, res[1].price, res[1].qty,
		res[2].price, res[2].qty, decPtr(c.Resistance),
		c.TBQ, c.TSQ, decPtr(c.OrderBookRatio), decPtr(c.BidAskSpread), c.BigBidCount, c.BigAskCount,
		c.AvgDelta, c.AvgGamma, c.AvgTheta, c.AvgVega, c.AvgRho, c.AvgIV,
		c.GammaSpike.String(), c.CandleScore.String(), c.TickCount,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert candle %s: %w", c.Key(), err)
	}
	return nil
}

// InsertSignal inserts one signal row. Signals carry no natural key, so a
// replayed stream inserts duplicates; downstream readers deduplicate on
// (instrument_key, candle_timestamp) when they care.
func (s *Store) InsertSignal(ctx context.Context, sig *model.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	names, err := json.Marshal(sig.Signals)
	if err != nil {
		return fmt.Errorf("sqlite marshal signal names: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO signals (
			instrument_key, candle_timestamp, signal_timestamp,
			seller_state, recommendation, confidence, panic_score,
			short_covering, gamma_spike, order_book_panic, liquidity_drying, strong_buying,
			signals, entry_price, support, resistance, candle_score,
			oi_change, oi_change_pct
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.InstrumentKey, sig.CandleTimestamp.Unix(), sig.SignalTimestamp.Unix(),
		string(sig.SellerState), string(sig.Recommendation), sig.Confidence.String(), sig.PanicScore.String(),
		sig.ShortCovering, sig.GammaSpikeDetected, sig.OrderBookPanic, sig.LiquidityDrying, sig.StrongBuying,
		string(names), sig.EntryPrice.String(), decPtr(sig.Support), decPtr(sig.Resistance), sig.CandleScore.String(),
		sig.OIChange, decPtr(sig.OIChangePct),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert signal %s@%d: %w", sig.InstrumentKey, sig.CandleTimestamp.Unix(), err)
	}
	return nil
}

// CandleCount returns the number of stored candle rows.
func (s *Store) CandleCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candles`).Scan(&n)
	return n, err
}

// SignalCount returns the number of stored signal rows.
func (s *Store) SignalCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type levelCols struct {
	price any
	qty   any
}

// paddedLevels maps up to three book levels onto nullable column pairs.
func paddedLevels(levels []model.BookLevel) [3]levelCols {
	var out [3]levelCols
	for i := 0; i < 3; i++ {
		if i < len(levels) {
			out[i] = levelCols{price: levels[i].Price.String(), qty: levels[i].Quantity}
		}
	}
	return out
}

func decPtr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}
