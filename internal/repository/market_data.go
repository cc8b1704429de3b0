package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	"FinRisk/internal/services/features"
	applogger "FinRisk/pkg/logger"
)

// MarketData assembles snapshots from live prices and daily history.
type MarketData struct {
	history   domrepo.HistoryStore
	prices    domrepo.PriceStore
	advWindow int
	benchmark string
	fetchers  int
	l         *applogger.Logger
	now       func() time.Time
}

type MarketDataOption func(*MarketData)

func WithADVWindow(n int) MarketDataOption { return func(m *MarketData) { m.advWindow = n } }

// WithBenchmark always includes symbol in snapshots, for beta.
func WithBenchmark(symbol string) MarketDataOption {
	return func(m *MarketData) { m.benchmark = symbol }
}

func WithMarketLogger(l *applogger.Logger) MarketDataOption { return func(m *MarketData) { m.l = l } }

func WithMarketClock(now func() time.Time) MarketDataOption {
	return func(m *MarketData) { m.now = now }
}

func NewMarketData(history domrepo.HistoryStore, prices domrepo.PriceStore, opts ...MarketDataOption) *MarketData {
	m := &MarketData{
		history:   history,
		prices:    prices,
		advWindow: 20,
		fetchers:  8,
		l:         applogger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot loads lookback daily returns and ADV per symbol. A symbol whose
// history cannot be read is left out and logged; consumers treat it as
// missing data. Without a live price the last close is used.
func (m *MarketData) Snapshot(ctx context.Context, symbols []string, lookback int) (models.MarketSnapshot, error) {
	if m.benchmark != "" {
		symbols = appendUnique(symbols, m.benchmark)
	}
	snap := models.MarketSnapshot{
		Prices:  m.prices.Prices(symbols),
		Returns: make(map[string]models.ReturnSeries, len(symbols)),
		ADV:     make(map[string]float64, len(symbols)),
		AsOf:    m.now(),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fetchers)
	for _, sym := range symbols {
		g.Go(func() error {
			candles, err := m.history.GetLatestNCandles(gctx, sym, lookback+1, domrepo.TF1d)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				m.l.Warn("price history unavailable", applogger.String("symbol", sym), applogger.Error(err))
				return nil
			}
			series := features.SimpleReturns(sym, candles)
			adv, advOK := features.AverageDailyVolume(candles, m.advWindow)

			mu.Lock()
			defer mu.Unlock()
			snap.Returns[sym] = series
			if advOK {
				snap.ADV[sym] = adv
			}
			if _, live := snap.Prices[sym]; !live && len(candles) > 0 {
				snap.Prices[sym] = candles[len(candles)-1].Close
				m.l.Warn("no live price, using last close",
					applogger.String("symbol", sym),
					applogger.Error(models.ErrStaleData),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.MarketSnapshot{}, models.AsTimeout(fmt.Errorf("market snapshot: %w", err), "market snapshot")
	}
	return snap, nil
}

func (m *MarketData) PriceHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	from, to = features.AlignFromTo(from, to, string(domrepo.TF1d))
	return m.history.GetCandles(ctx, symbol, from, to, domrepo.TF1d)
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(append(make([]string, 0, len(xs)+1), xs...), x)
}
