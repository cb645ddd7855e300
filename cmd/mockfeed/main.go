// Binary mockfeed publishes synthetic option ticks to the ticks stream so the
// pipeline can be exercised end to end without broker credentials. Prices
// follow a mean-reverting random walk with a 30-level book and Greeks;
// occasional panic bursts flip the book ask-heavy and unwind OI to provoke
// BUY signals downstream.
package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"sellerpanic/config"
	"sellerpanic/internal/eventlog"
	"sellerpanic/internal/logger"
	"sellerpanic/internal/model"
)

const bookLevels = 30

func main() {
	var (
		instrument = flag.String("instrument", "NSE_FO|61755", "instrument key to publish")
		basePrice  = flag.Float64("price", 182.00, "seed price for the random walk")
		interval   = flag.Duration("interval", 100*time.Millisecond, "delay between ticks")
		panicProb  = flag.Float64("panic", 0.15, "probability of entering a panic burst each minute")
	)
	flag.Parse()

	cfg := config.Load()
	logger.Init("mockfeed", logger.ParseLevel(cfg.LogLevel))

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
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := newGenerator(*instrument, *basePrice, *panicProb)
	slog.Info("mockfeed started",
		"instrument", *instrument, "price", *basePrice, "interval", *interval)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var published int64
	for {
		select {
		case <-ctx.Done():
			slog.Info("mockfeed stopped", "ticks", published)
			return
		case <-ticker.C:
			tick := gen.next(time.Now())
			payload, err := model.Wrap(model.EventTickReceived, tick)
			if err != nil {
				slog.Error("tick encode failed", "err", err)
				continue
			}
			if _, err := log.Publish(ctx, eventlog.StreamTicks, payload); err != nil {
				slog.Error("tick publish failed", "err", err)
				continue
			}
			published++
			if published%100 == 0 {
				slog.Info("ticks published",
					"count", published, "ltp", tick.LTP, "oi", tick.OI, "panic", gen.inPanic)
			}
		}
	}
}

// generator holds the random-walk state for one synthetic instrument.
type generator struct {
	instrument string
	basePrice  float64
	price      float64
	volume     int64
	oi         int64
	gamma      float64
	panicProb  float64

	inPanic    bool
	panicUntil time.Time
	lastSwitch time.Time

	rng *rand.Rand
}

func newGenerator(instrument string, basePrice, panicProb float64) *generator {
	return &generator{
		instrument: instrument,
		basePrice:  basePrice,
		price:      basePrice,
		oi:         8326800,
		gamma:      0.0015,
		panicProb:  panicProb,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *generator) next(now time.Time) model.Tick {
	g.maybeSwitchScenario(now)

	// Mean-reverting random walk, wider steps during panic.
	vol := 0.002
	drift := 0.0
	if g.inPanic {
		vol = 0.006
		drift = 0.003 // sellers covering push the price up
	}
	change := g.price*(g.rng.NormFloat64()*vol+drift) + (g.basePrice-g.price)*0.01
	g.price += change
	if g.price < g.basePrice*0.7 {
		g.price = g.basePrice * 0.7
	}
	if g.price > g.basePrice*1.3 {
		g.price = g.basePrice * 1.3
	}

	ltq := int64(75 * (1 + g.rng.Intn(8)))
	g.volume += ltq
	if g.inPanic {
		g.oi -= int64(g.rng.Intn(40000) + 10000) // unwinding
		g.gamma *= 1.04
	} else {
		g.oi += int64(g.rng.Intn(10000) - 4500)
		g.gamma = 0.0015
	}
	if g.oi < 0 {
		g.oi = 0
	}

	ltp := decimal.NewFromFloat(g.price).Round(2)
	prevClose := decimal.NewFromFloat(g.basePrice * 0.98).Round(2)

	bidP, bidQ, askP, askQ := g.orderBook(ltp)
	var tbq, tsq int64
	for i := range bidQ {
		tbq += bidQ[i]
		tsq += askQ[i]
	}

	delta := clamp(0.45+g.rng.NormFloat64()*0.02, 0.05, 0.95)
	theta := -12.5 + g.rng.NormFloat64()*0.5
	vega := 9.8 + g.rng.NormFloat64()*0.3
	rho := 1.2 + g.rng.NormFloat64()*0.05
	iv := clamp(0.16+g.rng.NormFloat64()*0.01, 0.05, 0.9)
	gamma := g.gamma

	return model.Tick{
		InstrumentKey: g.instrument,
		RawTimestamp:  now.UnixMilli(),
		CandleMinute:  model.CandleMinute(now.UnixMilli()),
		LTP:           ltp,
		LTQ:           ltq,
		Volume:        g.volume,
		OI:            g.oi,
		PreviousClose: &prevClose,
		BidPrices:     bidP,
		BidQuantities: bidQ,
		AskPrices:     askP,
		AskQuantities: askQ,
		TBQ:           &tbq,
		TSQ:           &tsq,
		Delta:         &delta,
		Gamma:         &gamma,
		Theta:         &theta,
		Vega:          &vega,
		Rho:           &rho,
		IV:            &iv,
	}
}

// maybeSwitchScenario rolls the panic dice once a minute.
func (g *generator) maybeSwitchScenario(now time.Time) {
	if g.inPanic && now.After(g.panicUntil) {
		g.inPanic = false
		slog.Info("panic burst over")
	}
	if now.Sub(g.lastSwitch) < time.Minute {
		return
	}
	g.lastSwitch = now
	if !g.inPanic && g.rng.Float64() < g.panicProb {
		g.inPanic = true
		g.panicUntil = now.Add(time.Duration(60+g.rng.Intn(120)) * time.Second)
		slog.Info("entering panic burst", "until", g.panicUntil.Format("15:04:05"))
	}
}

// orderBook builds a 30-level ladder around ltp. During panic the ask side
// carries several times the bid quantity, driving the book ratio below the
// detector's panic threshold.
func (g *generator) orderBook(ltp decimal.Decimal) ([]decimal.Decimal, []int64, []decimal.Decimal, []int64) {
	spreadPct := 0.001 + g.rng.Float64()*0.002
	if g.inPanic {
		spreadPct = 0.006 + g.rng.Float64()*0.004
	}
	half := ltp.Mul(decimal.NewFromFloat(spreadPct / 2))
	tickSize := decimal.NewFromFloat(0.05)

	bestBid := ltp.Sub(half)
	bestAsk := ltp.Add(half)

	bidP := make([]decimal.Decimal, 0, bookLevels)
	bidQ := make([]int64, 0, bookLevels)
	askP := make([]decimal.Decimal, 0, bookLevels)
	askQ := make([]int64, 0, bookLevels)

	for i := 0; i < bookLevels; i++ {
		step := tickSize.Mul(decimal.NewFromInt(int64(i)))
		bidP = append(bidP, bestBid.Sub(step).Round(2))
		askP = append(askP, bestAsk.Add(step).Round(2))

		bq := int64(75 + g.rng.Intn(1925))
		aq := int64(75 + g.rng.Intn(1925))
		if g.inPanic {
			bq /= 3
			aq *= 3
		}
		bidQ = append(bidQ, bq)
		askQ = append(askQ, aq)
	}
	return bidP, bidQ, askP, askQ
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
