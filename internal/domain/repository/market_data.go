package repository

import (
	"context"
	"time"

	"FinRisk/internal/domain/models"
)

// Timeframe represents candle resolution buckets.
type Timeframe string

const (
	TF1m Timeframe = "1m"
	TF1h Timeframe = "1h"
	TF1d Timeframe = "1d"
)

// HistoryStore provides read-only access to price history.
type HistoryStore interface {
	GetCandles(ctx context.Context, symbol string, from, to time.Time, tf Timeframe) ([]models.Candle, error)
	GetLatestNCandles(ctx context.Context, symbol string, n int, tf Timeframe) ([]models.Candle, error)
}

// MarketDataProvider assembles the market inputs of a risk computation.
type MarketDataProvider interface {
	Snapshot(ctx context.Context, symbols []string, lookback int) (models.MarketSnapshot, error)
	PriceHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
}
