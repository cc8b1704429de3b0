package service

import (
	"context"

	"FinRisk/internal/domain/models"
)

// VaRCalculator computes VaR and ES for a portfolio.
type VaRCalculator interface {
	Compute(ctx context.Context, method models.VaRMethod, rc models.RiskContext, confidence float64, horizonDays int) (models.VaRResult, error)
}

// StressTester runs shock scenarios and historical replays.
type StressTester interface {
	ApplyScenario(scenario models.StressScenario, positions []models.Position, prices map[string]float64) models.StressResult
	RunHistoricalBacktest(ctx context.Context, scenario models.StressScenario, positions []models.Position, initialValue float64) (models.HistoricalBacktestResult, error)
}

// MetricsSource yields the current RiskMetrics of an account, from cache
// when fresh.
type MetricsSource interface {
	Current(ctx context.Context, accountID string) (models.RiskMetrics, error)
}

// CachedMetrics returns a snapshot no older than the cache TTL, if any.
type CachedMetrics interface {
	Cached(accountID string) (models.RiskMetrics, bool)
}
