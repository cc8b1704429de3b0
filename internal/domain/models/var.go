package models

import "time"

// VaRMethodTag names the method that produced a VaRResult.
type VaRMethodTag string

const (
	MethodHistorical VaRMethodTag = "historical"
	MethodParametric VaRMethodTag = "parametric"
	MethodMonteCarlo VaRMethodTag = "monte_carlo"
)

// VaRResult is a loss estimate expressed as a positive amount.
// ExpectedShortfall is never below VaR.
type VaRResult struct {
	Method            VaRMethodTag `json:"method"`
	Confidence        float64      `json:"confidence"`
	HorizonDays       int          `json:"horizon_days"`
	VaR               float64      `json:"var"`
	ExpectedShortfall float64      `json:"expected_shortfall"`
	Observations      int          `json:"observations"`
	ComputedAt        time.Time    `json:"computed_at"`
}

// VaRMethod is a closed set of VaR methods, each carrying its own parameters.
// Only the three types below implement it.
type VaRMethod interface {
	Tag() VaRMethodTag
	isVaRMethod()
}

// HistoricalMethod revalues the portfolio over past joint returns.
type HistoricalMethod struct {
	Lookback        int `json:"lookback" yaml:"lookback"`
	MinObservations int `json:"min_observations" yaml:"min_observations"`
}

// ParametricMethod assumes jointly normal returns. With FullCovariance false
// only per-symbol variances are used.
type ParametricMethod struct {
	Lookback        int  `json:"lookback" yaml:"lookback"`
	MinObservations int  `json:"min_observations" yaml:"min_observations"`
	FullCovariance  bool `json:"full_covariance" yaml:"full_covariance"`
}

// MonteCarloMethod simulates from a multivariate normal fitted to history.
// Results are identical for a given Seed regardless of Workers.
type MonteCarloMethod struct {
	Lookback        int   `json:"lookback" yaml:"lookback"`
	MinObservations int   `json:"min_observations" yaml:"min_observations"`
	Simulations     int   `json:"simulations" yaml:"simulations"`
	Seed            int64 `json:"seed" yaml:"seed"`
	Workers         int   `json:"workers" yaml:"workers"`
}

func (HistoricalMethod) Tag() VaRMethodTag { return MethodHistorical }
func (ParametricMethod) Tag() VaRMethodTag { return MethodParametric }
func (MonteCarloMethod) Tag() VaRMethodTag { return MethodMonteCarlo }

func (HistoricalMethod) isVaRMethod() {}
func (ParametricMethod) isVaRMethod() {}
func (MonteCarloMethod) isVaRMethod() {}
