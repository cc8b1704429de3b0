package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FinRisk/internal/domain/models"
)

func flatReturns(n int, r float64) models.ReturnSeries {
	s := models.ReturnSeries{Returns: make([]float64, n)}
	for i := range s.Returns {
		if i%2 == 0 {
			s.Returns[i] = r
		} else {
			s.Returns[i] = -r
		}
	}
	return s
}

// concentratedBook holds AAPL at 60% and MSFT at 40% of a 10,000 gross book.
func concentratedBook() (*fakePositions, *fakeMarket) {
	pos := &fakePositions{
		positions: map[string][]models.Position{"acct-1": {
			{Symbol: "AAPL", Quantity: 60, AvgEntryPrice: 90},
			{Symbol: "MSFT", Quantity: 40, AvgEntryPrice: 100},
		}},
		accounts: map[string]models.AccountSnapshot{"acct-1": {AccountID: "acct-1", Equity: 20000, AvailableMargin: 10000}},
	}
	mkt := &fakeMarket{snap: models.MarketSnapshot{
		Prices: map[string]float64{"AAPL": 100, "MSFT": 100},
		Returns: map[string]models.ReturnSeries{
			"AAPL": flatReturns(30, 0.01),
			"MSFT": flatReturns(30, 0.02),
		},
		ADV: map[string]float64{"AAPL": 600, "MSFT": 4000},
	}}
	return pos, mkt
}

func TestMetricsAggregator_RefreshComputesMetrics(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{var95: 150, es95: 190, var99: 220}
	snaps := &fakeSnapshots{}
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt, WithSnapshotStore(snaps))

	m, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)

	assert.InDelta(t, 0.6, m.ConcentrationRisk, 1e-12)
	assert.InDelta(t, 10000, m.GrossExposure, 1e-9)
	assert.InDelta(t, 10000, m.NetExposure, 1e-9)
	assert.InDelta(t, 0.5, m.Leverage, 1e-12)
	assert.InDelta(t, 0.64, m.LiquidityRisk, 1e-12)
	assert.InDelta(t, 600, m.UnrealizedPnL, 1e-9)
	assert.Equal(t, 2, m.PositionCount)
	assert.InDelta(t, 150, m.VaR95, 1e-12)
	assert.InDelta(t, 220, m.VaR99, 1e-12)
	assert.InDelta(t, 190, m.ExpectedShortfall, 1e-12)
	assert.Equal(t, models.MethodHistorical, m.Method)
	assert.LessOrEqual(t, m.MaxDrawdown, 0.0)

	_, err = m.Value(models.MetricBeta)
	assert.ErrorIs(t, err, models.ErrMissingMetric, "beta needs a benchmark")

	require.Len(t, snaps.saved, 1)
	assert.Equal(t, "acct-1", snaps.saved[0].AccountID)
}

func TestMetricsAggregator_CachedHonoursTTL(t *testing.T) {
	pos, mkt := concentratedBook()
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	clock := now
	var mu sync.Mutex
	agg := NewMetricsAggregator(AggregatorConfig{TTL: time.Minute}, &fakeCalc{}, pos, mkt,
		WithAggregatorClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }))

	_, ok := agg.Cached("acct-1")
	assert.False(t, ok)

	_, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	m, ok := agg.Cached("acct-1")
	require.True(t, ok)
	assert.Equal(t, now, m.ComputedAt)

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()
	_, ok = agg.Cached("acct-1")
	assert.False(t, ok)
}

func TestMetricsAggregator_CurrentServesCache(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{}
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt)

	for i := 0; i < 3; i++ {
		_, err := agg.Current(context.Background(), "acct-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calc.calls.Load())
}

func TestMetricsAggregator_ConcurrentRefreshSharesComputation(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{entered: make(chan struct{}), release: make(chan struct{})}
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]models.RiskMetrics, callers)
	errs := make([]error, callers)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = agg.RefreshAccount(context.Background(), "acct-1")
	}()
	<-calc.entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = agg.RefreshAccount(context.Background(), "acct-1")
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(calc.release)
	wg.Wait()

	assert.Equal(t, int32(1), calc.calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.InDelta(t, 0.6, results[i].ConcentrationRisk, 1e-12)
	}
}

func TestMetricsAggregator_OtherAccountsNotBlocked(t *testing.T) {
	pos, mkt := concentratedBook()
	pos.positions["acct-2"] = pos.positions["acct-1"]
	pos.accounts["acct-2"] = models.AccountSnapshot{AccountID: "acct-2", Equity: 20000}
	calc := &fakeCalc{entered: make(chan struct{}), release: make(chan struct{})}
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt)

	go func() { _, _ = agg.RefreshAccount(context.Background(), "acct-1") }()
	<-calc.entered

	// acct-2 has its own flight; a short deadline shows it is not queued behind acct-1.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_, _ = agg.RefreshAccount(ctx, "acct-2")
		close(done)
	}()
	assert.Eventually(t, func() bool { return calc.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(calc.release)
	<-done
}

func TestMetricsAggregator_WaiterDeadlineIsTimeout(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{release: make(chan struct{})}
	defer close(calc.release)
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := agg.RefreshAccount(ctx, "acct-1")
	assert.ErrorIs(t, err, models.ErrTimeout)
}

func TestMetricsAggregator_SequentialRefreshWithinTTLComputesOnce(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{}
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	clock := now
	var mu sync.Mutex
	agg := NewMetricsAggregator(AggregatorConfig{TTL: time.Minute}, calc, pos, mkt,
		WithAggregatorClock(func() time.Time { mu.Lock(); defer mu.Unlock(); return clock }))

	first, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		m, err := agg.RefreshAccount(context.Background(), "acct-1")
		require.NoError(t, err)
		assert.Equal(t, first.ComputedAt, m.ComputedAt)
	}
	rc := models.RiskContext{AccountID: "acct-1", Positions: pos.positions["acct-1"], Account: pos.accounts["acct-1"], Market: mkt.snap}
	_, err = agg.Refresh(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calc.calls.Load())

	mu.Lock()
	clock = now.Add(2 * time.Minute)
	mu.Unlock()
	m, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calc.calls.Load(), "expired snapshot is recomputed")
	assert.Equal(t, now.Add(2*time.Minute), m.ComputedAt)
}

func TestMetricsAggregator_CancelledWaiterIsNotTimeout(t *testing.T) {
	pos, mkt := concentratedBook()
	calc := &fakeCalc{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(calc.release)
	agg := NewMetricsAggregator(AggregatorConfig{}, calc, pos, mkt)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := agg.RefreshAccount(ctx, "acct-1")
		errc <- err
	}()
	<-calc.entered
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, models.ErrTimeout)
	assert.Equal(t, "canceled", models.ErrorKind(err))
}

func TestMetricsAggregator_VaRFailureIsFlagged(t *testing.T) {
	pos, mkt := concentratedBook()
	agg := NewMetricsAggregator(AggregatorConfig{}, &fakeCalc{err: models.ErrInsufficientData}, pos, mkt)

	m, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "insufficient_data", m.Unavailable[models.MetricVaR99])
	_, err = m.Value(models.MetricVaR95)
	assert.ErrorIs(t, err, models.ErrMissingMetric)

	conc, err := m.Value(models.MetricConcentrationRisk)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, conc, 1e-12)
}

func TestMetricsAggregator_MissingADVFlagsLiquidity(t *testing.T) {
	pos, mkt := concentratedBook()
	delete(mkt.snap.ADV, "MSFT")
	agg := NewMetricsAggregator(AggregatorConfig{}, &fakeCalc{}, pos, mkt)

	m, err := agg.RefreshAccount(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Zero(t, m.LiquidityRisk)
	assert.Contains(t, m.Unavailable[models.MetricLiquidityRisk], "MSFT")
}

func TestMetricsAggregator_BetaAndDrawdown(t *testing.T) {
	returns := make([]float64, 30)
	for i := range returns {
		returns[i] = 0.001 * float64(i%5-2)
	}
	returns[28], returns[29] = 0.1, -0.5
	rc := models.RiskContext{
		AccountID: "acct-b",
		Positions: []models.Position{{Symbol: "AAPL", Quantity: 100, AvgEntryPrice: 100}},
		Account:   models.AccountSnapshot{Equity: 10000},
		Market: models.MarketSnapshot{
			Prices: map[string]float64{"AAPL": 100},
			Returns: map[string]models.ReturnSeries{
				"AAPL": {Returns: returns},
				"SPY":  {Returns: returns},
			},
		},
	}
	agg := NewMetricsAggregator(AggregatorConfig{Benchmark: "SPY"}, &fakeCalc{}, &fakePositions{}, &fakeMarket{})

	m, err := agg.Refresh(context.Background(), rc)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, m.Beta, 1e-9)
	assert.NotContains(t, m.Unavailable, models.MetricBeta)

	// the last two days take 11,000 down to 6,000
	assert.InDelta(t, (6000.0-11000.0)/11000.0, m.MaxDrawdown, 0.01)
}

func TestPathDrawdown(t *testing.T) {
	assert.InDelta(t, -0.2, pathDrawdown(100, []float64{0, -20, 10}), 1e-12)
	assert.Zero(t, pathDrawdown(100, []float64{5, 5}))
	assert.Zero(t, pathDrawdown(0, []float64{-5}))
}
