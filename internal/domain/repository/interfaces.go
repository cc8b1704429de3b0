package repository

import (
	"context"
	"time"

	"FinRisk/internal/domain/models"
)

// QuoteStream is a live last-price feed.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Quote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PositionProvider exposes the read-only position and account views.
type PositionProvider interface {
	Positions(ctx context.Context, accountID string) ([]models.Position, error)
	Account(ctx context.Context, accountID string) (models.AccountSnapshot, error)
	Accounts(ctx context.Context) ([]string, error)
}

// PriceStore holds the latest known price per symbol.
type PriceStore interface {
	Prices(symbols []string) map[string]float64
	UpdatePrice(symbol string, price float64, at time.Time)
}

// AlertPublisher delivers alerts to downstream consumers.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert models.RiskAlert) error
}

// SnapshotStore publishes RiskMetrics snapshots for external readers.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, m models.RiskMetrics) error
	LoadSnapshot(ctx context.Context, accountID string) (models.RiskMetrics, bool, error)
}

// ResultSink persists stress and backtest results.
type ResultSink interface {
	SaveStressResult(ctx context.Context, r models.StressResult) error
	SaveBacktestResult(ctx context.Context, r models.HistoricalBacktestResult) error
}

// ScenarioStore is keyed by scenario id.
type ScenarioStore interface {
	Save(ctx context.Context, s models.StressScenario) error
	Get(ctx context.Context, id string) (models.StressScenario, error)
	List(ctx context.Context) ([]models.StressScenario, error)
	Delete(ctx context.Context, id string) error
}

type Metrics interface {
	RecordComputation(method string, seconds float64)
	RecordError(kind string)
	RecordGateDecision(allowed bool, seconds float64)
	RecordViolation(code string)
	RecordAlert(severity string)
	RecordCache(hit bool)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
