package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FinRisk/internal/domain/models"
)

type fakePositions struct {
	positions map[string][]models.Position
	accounts  map[string]models.AccountSnapshot
}

func (f *fakePositions) Positions(_ context.Context, id string) ([]models.Position, error) {
	p, ok := f.positions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, models.ErrAccountNotFound)
	}
	return p, nil
}

func (f *fakePositions) Account(_ context.Context, id string) (models.AccountSnapshot, error) {
	a, ok := f.accounts[id]
	if !ok {
		return models.AccountSnapshot{}, fmt.Errorf("%s: %w", id, models.ErrAccountNotFound)
	}
	return a, nil
}

func (f *fakePositions) Accounts(context.Context) ([]string, error) {
	var out []string
	for id := range f.accounts {
		out = append(out, id)
	}
	return out, nil
}

type fakeMarket struct {
	snap models.MarketSnapshot
}

func (f *fakeMarket) Snapshot(context.Context, []string, int) (models.MarketSnapshot, error) {
	return f.snap, nil
}

func (f *fakeMarket) PriceHistory(context.Context, string, time.Time, time.Time) ([]models.Candle, error) {
	return nil, nil
}

// fakeCalc returns fixed VaR levels, optionally blocking until release closes.
type fakeCalc struct {
	var95, es95, var99 float64
	err                error
	calls              atomic.Int32
	entered            chan struct{}
	release            chan struct{}
	once               sync.Once
}

func (f *fakeCalc) ComputeLevels(ctx context.Context, method models.VaRMethod, _ models.RiskContext, horizon int, confidences ...float64) ([]models.VaRResult, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.once.Do(func() { close(f.entered) })
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, models.AsTimeout(ctx.Err(), "fake")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.VaRResult, len(confidences))
	for i, c := range confidences {
		v, es := f.var95, f.es95
		if c > 0.95 {
			v, es = f.var99, f.var99
		}
		out[i] = models.VaRResult{Method: method.Tag(), Confidence: c, HorizonDays: horizon, VaR: v, ExpectedShortfall: es}
	}
	return out, nil
}

func (f *fakeCalc) Compute(ctx context.Context, method models.VaRMethod, rc models.RiskContext, confidence float64, horizon int) (models.VaRResult, error) {
	res, err := f.ComputeLevels(ctx, method, rc, horizon, confidence)
	if err != nil {
		return models.VaRResult{}, err
	}
	return res[0], nil
}

type fakeSource struct {
	mu      sync.Mutex
	metrics map[string]models.RiskMetrics
	errs    map[string]error
	calls   int
}

func (f *fakeSource) set(id string, m models.RiskMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.AccountID = id
	f.metrics[id] = m
}

func (f *fakeSource) Current(_ context.Context, id string) (models.RiskMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.errs[id]; err != nil {
		return models.RiskMetrics{}, err
	}
	m, ok := f.metrics[id]
	if !ok {
		return models.RiskMetrics{}, models.ErrAccountNotFound
	}
	return m, nil
}

func (f *fakeSource) Accounts(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.metrics)+len(f.errs))
	for id := range f.metrics {
		ids = append(ids, id)
	}
	for id := range f.errs {
		if _, ok := f.metrics[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	alerts []models.RiskAlert
	err    error
}

func (f *fakePublisher) PublishAlert(_ context.Context, a models.RiskAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, a)
	return nil
}

type fakeCached struct {
	m     models.RiskMetrics
	ok    bool
	panic bool
}

func (f fakeCached) Cached(string) (models.RiskMetrics, bool) {
	if f.panic {
		panic("cache corrupted")
	}
	return f.m, f.ok
}

type fakeSnapshots struct {
	mu    sync.Mutex
	saved []models.RiskMetrics
}

func (f *fakeSnapshots) SaveSnapshot(_ context.Context, m models.RiskMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, m)
	return nil
}

func (f *fakeSnapshots) LoadSnapshot(context.Context, string) (models.RiskMetrics, bool, error) {
	return models.RiskMetrics{}, false, errors.New("not used")
}
