package stress

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/domain/repository"
	"FinRisk/internal/services/features"
	applogger "FinRisk/pkg/logger"
)

// PriceHistory is the slice of market data the engine reads.
type PriceHistory interface {
	PriceHistory(ctx context.Context, symbol string, from, to time.Time) ([]models.Candle, error)
}

// Engine applies shock scenarios and replays historical windows.
type Engine struct {
	history PriceHistory
	store   repository.ScenarioStore
	logger  *applogger.Logger
	now     func() time.Time
}

type Option func(*Engine)

func WithLogger(l *applogger.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStore makes CreateHistoricalScenario persist what it builds.
func WithStore(s repository.ScenarioStore) Option { return func(e *Engine) { e.store = s } }

func NewEngine(history PriceHistory, opts ...Option) *Engine {
	e := &Engine{
		history: history,
		logger:  applogger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyScenario shocks current prices and reports each symbol's P&L change
// relative to its current unrealized P&L. Symbols without a shock are
// unshocked. The current price falls back to the mark, then the entry price.
func (e *Engine) ApplyScenario(scenario models.StressScenario, positions []models.Position, prices map[string]float64) models.StressResult {
	res := models.StressResult{
		ScenarioID:      scenario.ID,
		PositionImpacts: make(map[string]float64, len(positions)),
		ComputedAt:      e.now(),
	}
	for _, p := range positions {
		current := currentPrice(p, prices)
		shocked := current * (1 + scenario.Shock(p.Symbol))
		baseline := (current - p.AvgEntryPrice) * p.Quantity
		impact := (shocked-p.AvgEntryPrice)*p.Quantity - baseline

		res.PositionImpacts[p.Symbol] += impact
		res.PortfolioPnL += impact
	}
	return res
}

func currentPrice(p models.Position, prices map[string]float64) float64 {
	if px, ok := prices[p.Symbol]; ok && px > 0 {
		return px
	}
	if p.MarkPrice > 0 {
		return p.MarkPrice
	}
	return p.AvgEntryPrice
}

// HistoricalScenarioSpec describes a scenario derived from a past window.
type HistoricalScenarioSpec struct {
	ID          string
	Name        string
	Description string
	Symbols     []string
	Start       time.Time
	End         time.Time
}

// CreateHistoricalScenario sets each symbol's shock to its close-to-close
// change over [Start, End]. A symbol needs at least two closes in the window.
func (e *Engine) CreateHistoricalScenario(ctx context.Context, spec HistoricalScenarioSpec) (models.StressScenario, error) {
	if !spec.Start.Before(spec.End) {
		return models.StressScenario{}, fmt.Errorf("window %s..%s is empty: %w",
			spec.Start.Format(time.DateOnly), spec.End.Format(time.DateOnly), models.ErrInvalidScenario)
	}
	if len(spec.Symbols) == 0 {
		return models.StressScenario{}, fmt.Errorf("no symbols: %w", models.ErrInvalidScenario)
	}

	window := models.TimeRange{Start: spec.Start, End: spec.End}
	shocks := make(map[string]float64, len(spec.Symbols))
	for _, sym := range spec.Symbols {
		closes, err := e.closes(ctx, sym, window)
		if err != nil {
			return models.StressScenario{}, err
		}
		if len(closes) < 2 {
			return models.StressScenario{}, fmt.Errorf("%s has %d closes in window: %w", sym, len(closes), models.ErrNoHistoricalData)
		}
		shocks[sym] = closes[len(closes)-1].Close/closes[0].Close - 1
	}

	scenario := models.StressScenario{
		ID:          spec.ID,
		Name:        spec.Name,
		Description: spec.Description,
		Shocks:      shocks,
		Window:      &window,
		Source:      models.ScenarioHistorical,
		CreatedAt:   e.now(),
	}
	if err := Validate(scenario); err != nil {
		return models.StressScenario{}, err
	}
	if e.store != nil {
		if err := e.store.Save(ctx, scenario); err != nil {
			return models.StressScenario{}, fmt.Errorf("save scenario %s: %w", scenario.ID, err)
		}
	}

	e.logger.Info("historical scenario created",
		applogger.String("scenario", scenario.ID),
		applogger.Strings("symbols", spec.Symbols),
	)
	return scenario, nil
}

// closes returns positive closes inside window, oldest first.
func (e *Engine) closes(ctx context.Context, symbol string, window models.TimeRange) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, models.AsTimeout(err, "price history")
	}
	candles, err := e.history.PriceHistory(ctx, symbol, window.Start, window.End)
	if err != nil {
		return nil, models.AsTimeout(fmt.Errorf("price history %s: %w", symbol, err), "price history")
	}
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.Close > 0 && window.Contains(c.Bucket) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket.Before(out[j].Bucket) })
	return out, nil
}

// RunHistoricalBacktest marks today's positions through the scenario window.
// Prices are forward-filled on the union of trading days; the curve starts
// at initialValue.
func (e *Engine) RunHistoricalBacktest(ctx context.Context, scenario models.StressScenario, positions []models.Position, initialValue float64) (models.HistoricalBacktestResult, error) {
	if scenario.Window == nil {
		return models.HistoricalBacktestResult{}, fmt.Errorf("scenario %s has no time window: %w", scenario.ID, models.ErrInvalidScenario)
	}
	window := *scenario.Window

	qty := make(map[string]float64)
	for _, p := range positions {
		qty[p.Symbol] += p.Quantity
	}
	symbols := make([]string, 0, len(qty))
	for sym, q := range qty {
		if q != 0 {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	history := make(map[string][]models.Candle, len(symbols))
	days := make(map[int64]time.Time)
	var missing []string
	for _, sym := range symbols {
		closes, err := e.closes(ctx, sym, window)
		if err != nil {
			return models.HistoricalBacktestResult{}, err
		}
		if len(closes) == 0 {
			missing = append(missing, sym)
			continue
		}
		history[sym] = closes
		for _, c := range closes {
			days[c.Bucket.Unix()] = c.Bucket
		}
	}
	if len(missing) > 0 {
		return models.HistoricalBacktestResult{}, fmt.Errorf("no prices for %s: %w", strings.Join(missing, ","), models.ErrNoHistoricalData)
	}
	if len(symbols) > 0 && len(days) == 0 {
		return models.HistoricalBacktestResult{}, fmt.Errorf("scenario %s: %w", scenario.ID, models.ErrNoHistoricalData)
	}

	calendar := make([]time.Time, 0, len(days))
	for _, d := range days {
		calendar = append(calendar, d)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i].Before(calendar[j]) })
	if len(calendar) == 0 {
		calendar = append(calendar, window.Start)
	}

	curve := make([]models.EquityPoint, len(calendar))
	cursor := make(map[string]int, len(symbols))
	for i, day := range calendar {
		value := initialValue
		for _, sym := range symbols {
			bars := history[sym]
			k := cursor[sym]
			for k+1 < len(bars) && !bars[k+1].Bucket.After(day) {
				k++
			}
			cursor[sym] = k
			value += qty[sym] * (bars[k].Close - bars[0].Close)
		}
		curve[i] = models.EquityPoint{Timestamp: day, Value: value}
	}

	res := models.HistoricalBacktestResult{
		ScenarioID:   scenario.ID,
		InitialValue: initialValue,
		TotalPnL:     curve[len(curve)-1].Value - initialValue,
		MaxDrawdown:  maxDrawdown(curve),
		EquityCurve:  curve,
		ComputedAt:   e.now(),
	}
	res.SharpeRatio, res.SharpeDefined = sharpe(curve, features.BarsPerYearForTF(string(repository.TF1d)))
	if !res.SharpeDefined {
		e.logger.Debug("sharpe undefined for short or flat curve",
			applogger.String("scenario", scenario.ID),
			applogger.Int("points", len(curve)),
		)
	}
	return res, nil
}

// maxDrawdown is the worst peak-to-trough decline as a non-positive fraction.
func maxDrawdown(curve []models.EquityPoint) float64 {
	worst := 0.0
	peak := math.Inf(-1)
	for _, p := range curve {
		if p.Value > peak {
			peak = p.Value
		}
		if peak > 0 {
			if dd := (p.Value - peak) / peak; dd < worst {
				worst = dd
			}
		}
	}
	return worst
}

// sharpe annualizes mean/std of period returns. It needs two returns and a
// non-zero deviation; otherwise it reports NaN and false.
func sharpe(curve []models.EquityPoint, periodsPerYear float64) (float64, bool) {
	returns := make([]float64, 0, len(curve))
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev == 0 {
			continue
		}
		returns = append(returns, (curve[i].Value-prev)/math.Abs(prev))
	}
	if len(returns) < 2 {
		return math.NaN(), false
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if !(std > 0) {
		return math.NaN(), false
	}
	return mean / std * math.Sqrt(periodsPerYear), true
}
