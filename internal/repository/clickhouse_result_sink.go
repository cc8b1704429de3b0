package repository

import (
	"context"
	"database/sql"
	"fmt"

	"FinRisk/internal/domain/models"
	pkgch "FinRisk/pkg/clickhouse"
)

// CHResultSink appends stress and backtest results to ClickHouse.
type CHResultSink struct {
	db       *sql.DB
	database string
}

func NewCHResultSink(ch *pkgch.Client) *CHResultSink {
	return &CHResultSink{db: ch.DB(), database: ch.Database()}
}

func (s *CHResultSink) SaveStressResult(ctx context.Context, r models.StressResult) error {
	q := fmt.Sprintf("INSERT INTO %s.stress_results (computed_at, scenario_id, account_id, portfolio_pnl, impacts) VALUES (?, ?, ?, ?, ?)", s.database)
	if _, err := s.db.ExecContext(ctx, q, r.ComputedAt, r.ScenarioID, r.AccountID, r.PortfolioPnL, r.PositionImpacts); err != nil {
		return fmt.Errorf("insert stress result %s/%s: %w", r.ScenarioID, r.AccountID, err)
	}
	return nil
}

func (s *CHResultSink) SaveBacktestResult(ctx context.Context, r models.HistoricalBacktestResult) error {
	q := fmt.Sprintf("INSERT INTO %s.backtest_results (computed_at, scenario_id, account_id, initial_value, total_pnl, max_drawdown, sharpe, points) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", s.database)
	var sharpe *float64
	if r.SharpeDefined {
		v := r.SharpeRatio
		sharpe = &v
	}
	_, err := s.db.ExecContext(ctx, q,
		r.ComputedAt, r.ScenarioID, r.AccountID,
		r.InitialValue, r.TotalPnL, r.MaxDrawdown, sharpe, uint32(len(r.EquityCurve)),
	)
	if err != nil {
		return fmt.Errorf("insert backtest result %s/%s: %w", r.ScenarioID, r.AccountID, err)
	}
	return nil
}
