package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/stat"

	"FinRisk/internal/domain/models"
	domrepo "FinRisk/internal/domain/repository"
	"FinRisk/internal/service/cache"
	applogger "FinRisk/pkg/logger"
	"FinRisk/pkg/metrics"
)

// LevelCalculator computes VaR at several confidence levels from one distribution.
type LevelCalculator interface {
	ComputeLevels(ctx context.Context, method models.VaRMethod, rc models.RiskContext, horizonDays int, confidences ...float64) ([]models.VaRResult, error)
}

// AggregatorConfig tunes metric computation.
type AggregatorConfig struct {
	Method      models.VaRMethod
	HorizonDays int
	Lookback    int
	TTL         time.Duration
	Timeout     time.Duration
	// LiquidityThreshold is the fraction of ADV at which a position scores 1.
	LiquidityThreshold float64
	Benchmark          string
	MinBetaObs         int
}

func (c *AggregatorConfig) applyDefaults() {
	if c.Method == nil {
		c.Method = models.HistoricalMethod{}
	}
	if c.HorizonDays < 1 {
		c.HorizonDays = 1
	}
	if c.Lookback <= 0 {
		c.Lookback = 252
	}
	if c.TTL <= 0 {
		c.TTL = 300 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.LiquidityThreshold <= 0 {
		c.LiquidityThreshold = 0.1
	}
	if c.MinBetaObs <= 0 {
		c.MinBetaObs = 20
	}
}

// MetricsAggregator computes and caches RiskMetrics per account. Concurrent
// refreshes of one account share a single computation.
type MetricsAggregator struct {
	cfg       AggregatorConfig
	calc      LevelCalculator
	positions domrepo.PositionProvider
	market    domrepo.MarketDataProvider
	snapshots domrepo.SnapshotStore
	cache     *cache.TTLCache
	flight    singleflight.Group
	metrics   domrepo.Metrics
	l         *applogger.Logger
	now       func() time.Time
}

type AggregatorOption func(*MetricsAggregator)

func WithAggregatorLogger(l *applogger.Logger) AggregatorOption {
	return func(a *MetricsAggregator) { a.l = l }
}

func WithAggregatorMetrics(m domrepo.Metrics) AggregatorOption {
	return func(a *MetricsAggregator) { a.metrics = m }
}

func WithSnapshotStore(s domrepo.SnapshotStore) AggregatorOption {
	return func(a *MetricsAggregator) { a.snapshots = s }
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *MetricsAggregator) { a.now = now }
}

func NewMetricsAggregator(cfg AggregatorConfig, calc LevelCalculator, positions domrepo.PositionProvider, market domrepo.MarketDataProvider, opts ...AggregatorOption) *MetricsAggregator {
	cfg.applyDefaults()
	a := &MetricsAggregator{
		cfg:       cfg,
		calc:      calc,
		positions: positions,
		market:    market,
		metrics:   metrics.Nop{},
		l:         applogger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.cache = cache.NewTTLCache(cache.WithClock(a.now))
	return a
}

// Cached returns the account's metrics while they are younger than the TTL.
func (a *MetricsAggregator) Cached(accountID string) (models.RiskMetrics, bool) {
	v, ok := a.cache.Get(accountID)
	a.metrics.RecordCache(ok)
	if !ok {
		return models.RiskMetrics{}, false
	}
	return v.(models.RiskMetrics), true
}

// Current serves the cached snapshot or refreshes it.
func (a *MetricsAggregator) Current(ctx context.Context, accountID string) (models.RiskMetrics, error) {
	if m, ok := a.Cached(accountID); ok {
		return m, nil
	}
	return a.RefreshAccount(ctx, accountID)
}

// Context assembles the RiskContext of an account from the providers.
func (a *MetricsAggregator) Context(ctx context.Context, accountID string) (models.RiskContext, error) {
	acct, err := a.positions.Account(ctx, accountID)
	if err != nil {
		return models.RiskContext{}, err
	}
	positions, err := a.positions.Positions(ctx, accountID)
	if err != nil {
		return models.RiskContext{}, err
	}
	rc := models.RiskContext{AccountID: accountID, Positions: positions, Account: acct}
	snap, err := a.market.Snapshot(ctx, rc.Symbols(), a.cfg.Lookback)
	if err != nil {
		return models.RiskContext{}, fmt.Errorf("account %s: %w", accountID, err)
	}
	rc.Market = snap
	return rc, nil
}

// RefreshAccount returns the account's metrics, recomputing them only when the
// cached snapshot is older than the TTL.
func (a *MetricsAggregator) RefreshAccount(ctx context.Context, accountID string) (models.RiskMetrics, error) {
	return a.refresh(ctx, accountID, func(fctx context.Context) (models.RiskContext, error) {
		return a.Context(fctx, accountID)
	})
}

// Refresh computes metrics for rc unless a snapshot younger than the TTL
// exists. A refresh already in flight for the same account is joined instead
// of started again.
func (a *MetricsAggregator) Refresh(ctx context.Context, rc models.RiskContext) (models.RiskMetrics, error) {
	return a.refresh(ctx, rc.AccountID, func(context.Context) (models.RiskContext, error) { return rc, nil })
}

func (a *MetricsAggregator) refresh(ctx context.Context, accountID string, load func(context.Context) (models.RiskContext, error)) (models.RiskMetrics, error) {
	if accountID == "" {
		return models.RiskMetrics{}, fmt.Errorf("empty account id: %w", models.ErrInvalidInput)
	}
	ch := a.flight.DoChan(accountID, func() (interface{}, error) {
		// At most one computation per account per TTL.
		if v, ok := a.cache.Get(accountID); ok {
			return v, nil
		}
		// Detached from the first caller so a cancelled waiter does not
		// abort the computation others are sharing.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Timeout)
		defer cancel()
		rc, err := load(fctx)
		if err != nil {
			return nil, models.AsTimeout(err, "load risk context")
		}
		m, err := a.compute(fctx, rc)
		if err != nil {
			return nil, err
		}
		a.cache.Set(accountID, m, a.cfg.TTL)
		a.publish(fctx, m)
		return m, nil
	})
	select {
	case <-ctx.Done():
		return models.RiskMetrics{}, models.AsTimeout(ctx.Err(), "refresh metrics "+accountID)
	case res := <-ch:
		if res.Err != nil {
			a.metrics.RecordError(models.ErrorKind(res.Err))
			return models.RiskMetrics{}, res.Err
		}
		return res.Val.(models.RiskMetrics), nil
	}
}

func (a *MetricsAggregator) publish(ctx context.Context, m models.RiskMetrics) {
	if a.snapshots == nil {
		return
	}
	if err := a.snapshots.SaveSnapshot(ctx, m); err != nil {
		a.l.Warn("publish metrics snapshot", applogger.String("account", m.AccountID), applogger.Error(err))
	}
}

type holding struct {
	models.Holding
	mv float64
}

func (a *MetricsAggregator) compute(ctx context.Context, rc models.RiskContext) (models.RiskMetrics, error) {
	start := time.Now()
	m := models.RiskMetrics{AccountID: rc.AccountID, Method: a.cfg.Method.Tag(), ComputedAt: a.now()}

	book := rc.Holdings()
	holdings := make([]holding, 0, len(book))
	price := make(map[string]float64, len(book))
	for _, h := range book {
		if !h.Quoted {
			a.l.Warn("no price for position, using entry price",
				applogger.String("account", rc.AccountID),
				applogger.String("symbol", h.Symbol),
				applogger.Error(models.ErrStaleData),
			)
		}
		mv := h.MarketValue()
		holdings = append(holdings, holding{Holding: h, mv: mv})
		price[h.Symbol] = h.Price
		m.GrossExposure += math.Abs(mv)
		m.NetExposure += mv
	}
	for _, p := range rc.Positions {
		if px, ok := price[p.Symbol]; ok {
			m.UnrealizedPnL += (px - p.AvgEntryPrice) * p.Quantity
		}
	}
	m.PositionCount = len(holdings)
	m.ConcentrationRisk, _ = models.Concentration(models.Exposures(book))
	if rc.Account.Equity > 0 {
		m.Leverage = m.GrossExposure / rc.Account.Equity
	} else {
		m.MarkUnavailable(models.MetricLeverage, "non-positive equity")
	}

	levels, err := a.calc.ComputeLevels(ctx, a.cfg.Method, rc, a.cfg.HorizonDays, 0.95, 0.99)
	switch {
	case errors.Is(err, models.ErrTimeout):
		return models.RiskMetrics{}, err
	case err != nil:
		reason := models.ErrorKind(err)
		m.MarkUnavailable(models.MetricVaR95, reason)
		m.MarkUnavailable(models.MetricVaR99, reason)
		m.MarkUnavailable(models.MetricExpectedShortfall, reason)
		a.l.Warn("var unavailable", applogger.String("account", rc.AccountID), applogger.Error(err))
	default:
		m.VaR95 = levels[0].VaR
		m.VaR99 = levels[1].VaR
		m.ExpectedShortfall = levels[0].ExpectedShortfall
	}

	a.liquidity(&m, holdings, rc.Market.ADV)

	path, pathErr := pnlPath(holdings, rc.Market.Returns, a.cfg.Lookback)
	if pathErr != nil {
		m.MarkUnavailable(models.MetricMaxDrawdown, pathErr.Error())
		m.MarkUnavailable(models.MetricBeta, pathErr.Error())
	} else {
		base := rc.Account.Equity
		if base <= 0 {
			base = m.GrossExposure
		}
		m.MaxDrawdown = pathDrawdown(base, path)
		a.beta(&m, path, rc.Market.Returns)
	}

	if len(m.Unavailable) > 0 {
		a.l.Warn("risk metrics partially unavailable",
			applogger.String("account", rc.AccountID),
			applogger.Any("unavailable", m.Unavailable),
			applogger.Error(models.ErrStaleData),
		)
	}
	a.metrics.RecordLatency("metrics_refresh", time.Since(start).Seconds())
	return m, nil
}

// liquidity is the value-weighted min(1, |q|/ADV / threshold).
func (a *MetricsAggregator) liquidity(m *models.RiskMetrics, holdings []holding, adv map[string]float64) {
	if m.GrossExposure == 0 {
		return
	}
	score := 0.0
	for _, h := range holdings {
		v, ok := adv[h.Symbol]
		if !ok || v <= 0 {
			m.MarkUnavailable(models.MetricLiquidityRisk, "no ADV for "+h.Symbol)
			return
		}
		s := math.Min(1, math.Abs(h.Quantity)/v/a.cfg.LiquidityThreshold)
		score += s * math.Abs(h.mv) / m.GrossExposure
	}
	m.LiquidityRisk = score
}

// beta regresses the portfolio's return path on the benchmark.
func (a *MetricsAggregator) beta(m *models.RiskMetrics, path []float64, returns map[string]models.ReturnSeries) {
	if a.cfg.Benchmark == "" {
		m.MarkUnavailable(models.MetricBeta, "no benchmark configured")
		return
	}
	bench, ok := returns[a.cfg.Benchmark]
	n := min(len(path), bench.Len())
	if !ok || n < a.cfg.MinBetaObs || m.GrossExposure == 0 {
		m.MarkUnavailable(models.MetricBeta, "insufficient benchmark history")
		return
	}
	rp := make([]float64, n)
	for i, pnl := range path[len(path)-n:] {
		rp[i] = pnl / m.GrossExposure
	}
	rb := bench.Tail(n)
	v := stat.Variance(rb, nil)
	if !(v > 0) {
		m.MarkUnavailable(models.MetricBeta, "flat benchmark")
		return
	}
	m.Beta = stat.Covariance(rp, rb, nil) / v
}

// pnlPath is the daily P&L of today's holdings replayed over history,
// aligned on the most recent common observations.
func pnlPath(holdings []holding, returns map[string]models.ReturnSeries, lookback int) ([]float64, error) {
	if len(holdings) == 0 {
		return nil, fmt.Errorf("no positions: %w", models.ErrInsufficientData)
	}
	n := lookback
	for _, h := range holdings {
		s, ok := returns[h.Symbol]
		if !ok || s.Len() < 2 {
			return nil, fmt.Errorf("no history for %s: %w", h.Symbol, models.ErrInsufficientData)
		}
		n = min(n, s.Len())
	}
	path := make([]float64, n)
	for _, h := range holdings {
		for i, r := range returns[h.Symbol].Tail(n) {
			path[i] += h.mv * r
		}
	}
	return path, nil
}

// pathDrawdown walks value = base + cumulative P&L and returns the worst
// peak-to-trough decline as a non-positive fraction.
func pathDrawdown(base float64, path []float64) float64 {
	if base <= 0 {
		return 0
	}
	v, peak, worst := base, base, 0.0
	for _, pnl := range path {
		v += pnl
		if v > peak {
			peak = v
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return math.Max(worst, -1)
}
