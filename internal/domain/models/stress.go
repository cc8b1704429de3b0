package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type ScenarioSource string

const (
	ScenarioManual     ScenarioSource = "manual"
	ScenarioHistorical ScenarioSource = "historical"
)

// TimeRange is an inclusive [Start, End] window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// StressScenario maps symbols to fractional price shocks (-0.25 is a 25% drop).
// Symbols absent from Shocks are unshocked.
type StressScenario struct {
	ID          string             `json:"id" yaml:"id" validate:"required,max=64"`
	Name        string             `json:"name" yaml:"name" validate:"required"`
	Description string             `json:"description,omitempty" yaml:"description"`
	Shocks      map[string]float64 `json:"shocks" yaml:"shocks" validate:"dive,keys,required,endkeys,gt=-1"`
	Window      *TimeRange         `json:"window,omitempty" yaml:"-"`
	Source      ScenarioSource     `json:"source" yaml:"source"`
	CreatedAt   time.Time          `json:"created_at" yaml:"-"`
}

// Shock returns the configured shock for symbol, zero when absent.
func (s StressScenario) Shock(symbol string) float64 {
	return s.Shocks[symbol]
}

type StressResult struct {
	ScenarioID      string             `json:"scenario_id"`
	AccountID       string             `json:"account_id,omitempty"`
	PortfolioPnL    float64            `json:"portfolio_pnl"`
	PositionImpacts map[string]float64 `json:"position_impacts"`
	ComputedAt      time.Time          `json:"computed_at"`
}

type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// HistoricalBacktestResult replays a scenario window against current positions.
// SharpeRatio is NaN when SharpeDefined is false.
type HistoricalBacktestResult struct {
	ScenarioID    string        `json:"scenario_id"`
	AccountID     string        `json:"account_id,omitempty"`
	InitialValue  float64       `json:"initial_value"`
	TotalPnL      float64       `json:"total_pnl"`
	MaxDrawdown   float64       `json:"max_drawdown"`
	SharpeRatio   float64       `json:"sharpe_ratio"`
	SharpeDefined bool          `json:"sharpe_defined"`
	EquityCurve   []EquityPoint `json:"equity_curve"`
	ComputedAt    time.Time     `json:"computed_at"`
}

// MarshalJSON writes an undefined Sharpe ratio as null since JSON has no NaN.
func (r HistoricalBacktestResult) MarshalJSON() ([]byte, error) {
	type plain HistoricalBacktestResult
	out := struct {
		plain
		SharpeRatio *float64 `json:"sharpe_ratio"`
	}{plain: plain(r)}
	if r.SharpeDefined {
		v := r.SharpeRatio
		out.SharpeRatio = &v
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal backtest result: %w", err)
	}
	return b, nil
}

// ResultKey identifies a stored stress or backtest result.
type ResultKey struct {
	ScenarioID string
	AccountID  string
}
