package models

import (
	"fmt"
	"time"
)

// Metric names understood by monitoring rules.
const (
	MetricVaR95             = "var_95"
	MetricVaR99             = "var_99"
	MetricExpectedShortfall = "expected_shortfall"
	MetricMaxDrawdown       = "max_drawdown"
	MetricBeta              = "beta"
	MetricConcentrationRisk = "concentration_risk"
	MetricLiquidityRisk     = "liquidity_risk"
	MetricGrossExposure     = "gross_exposure"
	MetricNetExposure       = "net_exposure"
	MetricLeverage          = "leverage"
	MetricPositionCount     = "position_count"
	MetricUnrealizedPnL     = "unrealized_pnl"
)

// MetricKind describes the value domain of a metric.
type MetricKind int

const (
	KindAmount       MetricKind = iota // non-negative currency amount
	KindSignedAmount                   // currency amount of either sign
	KindRatio                          // fraction in [0, 1]
	KindDrawdown                       // fraction in [-1, 0]
	KindFactor                         // unbounded real
	KindCount                          // non-negative integer
)

var metricKinds = map[string]MetricKind{
	MetricVaR95:             KindAmount,
	MetricVaR99:             KindAmount,
	MetricExpectedShortfall: KindAmount,
	MetricMaxDrawdown:       KindDrawdown,
	MetricBeta:              KindFactor,
	MetricConcentrationRisk: KindRatio,
	MetricLiquidityRisk:     KindRatio,
	MetricGrossExposure:     KindAmount,
	MetricNetExposure:       KindSignedAmount,
	MetricLeverage:          KindFactor,
	MetricPositionCount:     KindCount,
	MetricUnrealizedPnL:     KindSignedAmount,
}

// KindOf reports the value kind of a metric name.
func KindOf(metric string) (MetricKind, bool) {
	k, ok := metricKinds[metric]
	return k, ok
}

// Accepts reports whether threshold lies inside the kind's domain.
func (k MetricKind) Accepts(threshold float64) bool {
	switch k {
	case KindAmount:
		return threshold >= 0
	case KindRatio:
		return threshold >= 0 && threshold <= 1
	case KindDrawdown:
		return threshold >= -1 && threshold <= 0
	case KindCount:
		return threshold >= 0 && threshold == float64(int64(threshold))
	default:
		return true
	}
}

// RiskMetrics is the per-account snapshot produced by the aggregator.
// A metric listed in Unavailable could not be computed; its field holds zero.
type RiskMetrics struct {
	AccountID         string            `json:"account_id"`
	VaR95             float64           `json:"var_95"`
	VaR99             float64           `json:"var_99"`
	ExpectedShortfall float64           `json:"expected_shortfall"`
	MaxDrawdown       float64           `json:"max_drawdown"`
	Beta              float64           `json:"beta"`
	ConcentrationRisk float64           `json:"concentration_risk"`
	LiquidityRisk     float64           `json:"liquidity_risk"`
	GrossExposure     float64           `json:"gross_exposure"`
	NetExposure       float64           `json:"net_exposure"`
	Leverage          float64           `json:"leverage"`
	PositionCount     int               `json:"position_count"`
	UnrealizedPnL     float64           `json:"unrealized_pnl"`
	Method            VaRMethodTag      `json:"method"`
	ComputedAt        time.Time         `json:"computed_at"`
	Unavailable       map[string]string `json:"unavailable,omitempty"`
}

// MarkUnavailable records why a metric could not be computed.
func (m *RiskMetrics) MarkUnavailable(metric, reason string) {
	if m.Unavailable == nil {
		m.Unavailable = make(map[string]string)
	}
	m.Unavailable[metric] = reason
}

// Value looks a metric up by name. Unknown or unavailable metrics
// return ErrMissingMetric.
func (m RiskMetrics) Value(metric string) (float64, error) {
	if reason, ok := m.Unavailable[metric]; ok {
		return 0, fmt.Errorf("%s unavailable (%s): %w", metric, reason, ErrMissingMetric)
	}
	switch metric {
	case MetricVaR95:
		return m.VaR95, nil
	case MetricVaR99:
		return m.VaR99, nil
	case MetricExpectedShortfall:
		return m.ExpectedShortfall, nil
	case MetricMaxDrawdown:
		return m.MaxDrawdown, nil
	case MetricBeta:
		return m.Beta, nil
	case MetricConcentrationRisk:
		return m.ConcentrationRisk, nil
	case MetricLiquidityRisk:
		return m.LiquidityRisk, nil
	case MetricGrossExposure:
		return m.GrossExposure, nil
	case MetricNetExposure:
		return m.NetExposure, nil
	case MetricLeverage:
		return m.Leverage, nil
	case MetricPositionCount:
		return float64(m.PositionCount), nil
	case MetricUnrealizedPnL:
		return m.UnrealizedPnL, nil
	}
	return 0, fmt.Errorf("unknown metric %q: %w", metric, ErrMissingMetric)
}
