package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	"FinRisk/internal/domain/service"
	"FinRisk/internal/services/stress"
	applogger "FinRisk/pkg/logger"
)

// ContextLoader assembles the RiskContext of an account.
type ContextLoader interface {
	Context(ctx context.Context, accountID string) (models.RiskContext, error)
}

// ScenarioEngine is the stress engine including historical scenario creation.
type ScenarioEngine interface {
	service.StressTester
	CreateHistoricalScenario(ctx context.Context, spec stress.HistoricalScenarioSpec) (models.StressScenario, error)
}

// MethodParams are the configured parameters of each VaR method.
type MethodParams struct {
	Historical models.HistoricalMethod
	Parametric models.ParametricMethod
	MonteCarlo models.MonteCarloMethod
}

// Method resolves a method tag to its configured parameters.
func (p MethodParams) Method(tag models.VaRMethodTag) (models.VaRMethod, error) {
	switch tag {
	case models.MethodHistorical:
		return p.Historical, nil
	case models.MethodParametric:
		return p.Parametric, nil
	case models.MethodMonteCarlo:
		return p.MonteCarlo, nil
	}
	return nil, fmt.Errorf("method %q: %w", tag, models.ErrUnknownMethod)
}

// RiskService serves on-demand VaR, stress and backtest requests and keeps
// the latest result per scenario and account.
type RiskService struct {
	loader    ContextLoader
	calc      service.VaRCalculator
	engine    ScenarioEngine
	scenarios domrepo.ScenarioStore
	sink      domrepo.ResultSink
	jobs      *JobRegistry
	params    MethodParams
	timeout   time.Duration
	l         *applogger.Logger

	mu        sync.RWMutex
	stress    map[models.ResultKey]models.StressResult
	backtests map[models.ResultKey]models.HistoricalBacktestResult
}

type RiskServiceOption func(*RiskService)

// WithResultSink also persists every result.
func WithResultSink(s domrepo.ResultSink) RiskServiceOption {
	return func(r *RiskService) { r.sink = s }
}

func WithRiskServiceLogger(l *applogger.Logger) RiskServiceOption {
	return func(r *RiskService) { r.l = l }
}

// WithJobTimeout bounds background jobs and synchronous computations.
func WithJobTimeout(d time.Duration) RiskServiceOption {
	return func(r *RiskService) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewRiskService(loader ContextLoader, calc service.VaRCalculator, engine ScenarioEngine, scenarios domrepo.ScenarioStore, jobs *JobRegistry, params MethodParams, opts ...RiskServiceOption) *RiskService {
	r := &RiskService{
		loader:    loader,
		calc:      calc,
		engine:    engine,
		scenarios: scenarios,
		jobs:      jobs,
		params:    params,
		timeout:   2 * time.Minute,
		l:         applogger.Nop(),
		stress:    make(map[models.ResultKey]models.StressResult),
		backtests: make(map[models.ResultKey]models.HistoricalBacktestResult),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RiskService) Jobs() *JobRegistry { return r.jobs }

func (r *RiskService) ComputeVaR(ctx context.Context, accountID string, tag models.VaRMethodTag, confidence float64, horizonDays int) (models.VaRResult, error) {
	method, err := r.params.Method(tag)
	if err != nil {
		return models.VaRResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	rc, err := r.loader.Context(ctx, accountID)
	if err != nil {
		return models.VaRResult{}, models.AsTimeout(err, "load risk context")
	}
	return r.calc.Compute(ctx, method, rc, confidence, horizonDays)
}

// SubmitVaR runs ComputeVaR as a background job.
func (r *RiskService) SubmitVaR(accountID string, tag models.VaRMethodTag, confidence float64, horizonDays int) *Job[models.VaRResult] {
	return SubmitJob(r.jobs, "var:"+string(tag), r.timeout, func(ctx context.Context) (models.VaRResult, error) {
		return r.ComputeVaR(ctx, accountID, tag, confidence, horizonDays)
	})
}

func (r *RiskService) RunStress(ctx context.Context, accountID, scenarioID string) (models.StressResult, error) {
	sc, err := r.scenarios.Get(ctx, scenarioID)
	if err != nil {
		return models.StressResult{}, err
	}
	rc, err := r.loader.Context(ctx, accountID)
	if err != nil {
		return models.StressResult{}, models.AsTimeout(err, "load risk context")
	}
	res := r.engine.ApplyScenario(sc, rc.Positions, rc.Market.Prices)
	res.AccountID = accountID

	r.mu.Lock()
	r.stress[models.ResultKey{ScenarioID: scenarioID, AccountID: accountID}] = res
	r.mu.Unlock()
	if r.sink != nil {
		if err := r.sink.SaveStressResult(ctx, res); err != nil {
			r.l.Warn("persist stress result", applogger.String("scenario", scenarioID), applogger.Error(err))
		}
	}
	return res, nil
}

func (r *RiskService) RunBacktest(ctx context.Context, accountID, scenarioID string, initialValue float64) (models.HistoricalBacktestResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	sc, err := r.scenarios.Get(ctx, scenarioID)
	if err != nil {
		return models.HistoricalBacktestResult{}, err
	}
	positions, err := r.positions(ctx, accountID)
	if err != nil {
		return models.HistoricalBacktestResult{}, err
	}
	res, err := r.engine.RunHistoricalBacktest(ctx, sc, positions, initialValue)
	if err != nil {
		return models.HistoricalBacktestResult{}, models.AsTimeout(err, "backtest "+scenarioID)
	}
	res.AccountID = accountID

	r.mu.Lock()
	r.backtests[models.ResultKey{ScenarioID: scenarioID, AccountID: accountID}] = res
	r.mu.Unlock()
	if r.sink != nil {
		if err := r.sink.SaveBacktestResult(ctx, res); err != nil {
			r.l.Warn("persist backtest result", applogger.String("scenario", scenarioID), applogger.Error(err))
		}
	}
	return res, nil
}

// SubmitBacktest runs RunBacktest as a background job.
func (r *RiskService) SubmitBacktest(accountID, scenarioID string, initialValue float64) *Job[models.HistoricalBacktestResult] {
	return SubmitJob(r.jobs, "backtest", r.timeout, func(ctx context.Context) (models.HistoricalBacktestResult, error) {
		return r.RunBacktest(ctx, accountID, scenarioID, initialValue)
	})
}

func (r *RiskService) positions(ctx context.Context, accountID string) ([]models.Position, error) {
	rc, err := r.loader.Context(ctx, accountID)
	if err != nil {
		return nil, models.AsTimeout(err, "load risk context")
	}
	return rc.Positions, nil
}

func (r *RiskService) StressResult(key models.ResultKey) (models.StressResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.stress[key]
	return res, ok
}

func (r *RiskService) BacktestResult(key models.ResultKey) (models.HistoricalBacktestResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.backtests[key]
	return res, ok
}

func (r *RiskService) CreateHistoricalScenario(ctx context.Context, spec stress.HistoricalScenarioSpec) (models.StressScenario, error) {
	return r.engine.CreateHistoricalScenario(ctx, spec)
}

func (r *RiskService) Scenarios() domrepo.ScenarioStore { return r.scenarios }
