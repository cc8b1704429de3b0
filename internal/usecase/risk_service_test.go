package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/services/stress"
)

type fakeLoader struct {
	rc models.RiskContext
}

func (f fakeLoader) Context(_ context.Context, id string) (models.RiskContext, error) {
	if id != f.rc.AccountID {
		return models.RiskContext{}, models.ErrAccountNotFound
	}
	return f.rc, nil
}

type candleHistory map[string][]models.Candle

func (h candleHistory) PriceHistory(_ context.Context, symbol string, from, to time.Time) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range h[symbol] {
		if !c.Bucket.Before(from) && !c.Bucket.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

type recordingSink struct {
	mu        sync.Mutex
	stress    []models.StressResult
	backtests []models.HistoricalBacktestResult
}

func (s *recordingSink) SaveStressResult(_ context.Context, r models.StressResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stress = append(s.stress, r)
	return nil
}

func (s *recordingSink) SaveBacktestResult(_ context.Context, r models.HistoricalBacktestResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backtests = append(s.backtests, r)
	return nil
}

func bd(i int) time.Time { return time.Date(2020, 3, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i) }

func newTestRiskService(t *testing.T) (*RiskService, *recordingSink) {
	t.Helper()
	rc := models.RiskContext{
		AccountID: "acct-1",
		Positions: []models.Position{
			{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 150},
			{Symbol: "MSFT", Quantity: 50, AvgEntryPrice: 300},
		},
		Account: models.AccountSnapshot{AccountID: "acct-1", Equity: 100000},
		Market:  models.MarketSnapshot{Prices: map[string]float64{"AAPL": 150, "MSFT": 300}},
	}
	history := candleHistory{
		"AAPL": {{Symbol: "AAPL", Bucket: bd(0), Close: 150}, {Symbol: "AAPL", Bucket: bd(1), Close: 140}, {Symbol: "AAPL", Bucket: bd(2), Close: 160}},
		"MSFT": {{Symbol: "MSFT", Bucket: bd(0), Close: 300}, {Symbol: "MSFT", Bucket: bd(2), Close: 300}},
	}
	store, err := stress.NewMemoryStore(models.StressScenario{
		ID: "crash", Name: "Crash", Shocks: map[string]float64{"AAPL": -0.2, "MSFT": -0.25},
	})
	require.NoError(t, err)
	engine := stress.NewEngine(history, stress.WithStore(store))
	sink := &recordingSink{}
	svc := NewRiskService(fakeLoader{rc}, &fakeCalc{var95: 1200, var99: 1800}, engine, store, NewJobRegistry(time.Hour),
		MethodParams{Historical: models.HistoricalMethod{Lookback: 252}},
		WithResultSink(sink), WithJobTimeout(5*time.Second))
	return svc, sink
}

func TestRiskService_RunStress(t *testing.T) {
	svc, sink := newTestRiskService(t)

	res, err := svc.RunStress(context.Background(), "acct-1", "crash")
	require.NoError(t, err)
	assert.InDelta(t, -6750, res.PortfolioPnL, 1e-9)
	assert.InDelta(t, -3000, res.PositionImpacts["AAPL"], 1e-9)
	assert.Equal(t, "acct-1", res.AccountID)

	stored, ok := svc.StressResult(models.ResultKey{ScenarioID: "crash", AccountID: "acct-1"})
	require.True(t, ok)
	assert.InDelta(t, -6750, stored.PortfolioPnL, 1e-9)
	assert.Len(t, sink.stress, 1)

	_, err = svc.RunStress(context.Background(), "acct-1", "missing")
	assert.ErrorIs(t, err, models.ErrScenarioNotFound)
}

func TestRiskService_HistoricalScenarioAndBacktest(t *testing.T) {
	svc, sink := newTestRiskService(t)

	sc, err := svc.CreateHistoricalScenario(context.Background(), stress.HistoricalScenarioSpec{
		ID: "march", Name: "March", Symbols: []string{"AAPL", "MSFT"}, Start: bd(0), End: bd(2),
	})
	require.NoError(t, err)
	assert.InDelta(t, 160.0/150.0-1, sc.Shocks["AAPL"], 1e-12)
	_, err = svc.Scenarios().Get(context.Background(), "march")
	require.NoError(t, err, "created scenarios are stored")

	res, err := svc.RunBacktest(context.Background(), "acct-1", "march", 100000)
	require.NoError(t, err)
	require.Len(t, res.EquityCurve, 3)
	assert.InDelta(t, 99000, res.EquityCurve[1].Value, 1e-9)
	assert.InDelta(t, 1000, res.TotalPnL, 1e-9)
	assert.Len(t, sink.backtests, 1)

	_, ok := svc.BacktestResult(models.ResultKey{ScenarioID: "march", AccountID: "acct-1"})
	assert.True(t, ok)

	_, err = svc.RunBacktest(context.Background(), "acct-1", "crash", 100000)
	assert.ErrorIs(t, err, models.ErrInvalidScenario, "manual scenarios have no window")
}

func TestRiskService_ComputeVaR(t *testing.T) {
	svc, _ := newTestRiskService(t)

	res, err := svc.ComputeVaR(context.Background(), "acct-1", models.MethodHistorical, 0.99, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1800, res.VaR, 1e-12)

	_, err = svc.ComputeVaR(context.Background(), "acct-1", "garch", 0.99, 1)
	assert.ErrorIs(t, err, models.ErrUnknownMethod)

	_, err = svc.ComputeVaR(context.Background(), "acct-x", models.MethodHistorical, 0.99, 1)
	assert.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestRiskService_SubmitJobs(t *testing.T) {
	svc, _ := newTestRiskService(t)

	j := svc.SubmitVaR("acct-1", models.MethodHistorical, 0.95, 1)
	res, err := j.Wait(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1200, res.VaR, 1e-12)

	snap, ok := svc.Jobs().Get(j.ID())
	require.True(t, ok)
	assert.Equal(t, JobSucceeded, snap.Status)
	assert.Equal(t, "var:historical", snap.Kind)

	_, err = svc.CreateHistoricalScenario(context.Background(), stress.HistoricalScenarioSpec{
		ID: "march", Name: "March", Symbols: []string{"AAPL"}, Start: bd(0), End: bd(2),
	})
	require.NoError(t, err)
	bj := svc.SubmitBacktest("acct-1", "march", 50000)
	bt, err := bj.Wait(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1000, bt.TotalPnL, 1e-9)
}
