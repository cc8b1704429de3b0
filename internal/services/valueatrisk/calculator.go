package valueatrisk

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"FinRisk/internal/domain/models"
	"FinRisk/internal/domain/repository"
	applogger "FinRisk/pkg/logger"
	"FinRisk/pkg/metrics"
)

// Defaults fill method parameters left at zero.
type Defaults struct {
	Lookback        int
	MinObservations int
	Simulations     int
	Workers         int
}

func defaultDefaults() Defaults {
	return Defaults{
		Lookback:        252,
		MinObservations: 30,
		Simulations:     10000,
		Workers:         runtime.NumCPU(),
	}
}

// Calculator computes VaR and expected shortfall with the method chosen per call.
type Calculator struct {
	logger   *applogger.Logger
	metrics  repository.Metrics
	now      func() time.Time
	defaults Defaults
}

type Option func(*Calculator)

func WithLogger(l *applogger.Logger) Option {
	return func(c *Calculator) { c.logger = l }
}

func WithMetrics(m repository.Metrics) Option {
	return func(c *Calculator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Calculator) { c.now = now }
}

func WithDefaults(d Defaults) Option {
	return func(c *Calculator) {
		if d.Lookback > 0 {
			c.defaults.Lookback = d.Lookback
		}
		if d.MinObservations > 0 {
			c.defaults.MinObservations = d.MinObservations
		}
		if d.Simulations > 0 {
			c.defaults.Simulations = d.Simulations
		}
		if d.Workers > 0 {
			c.defaults.Workers = d.Workers
		}
	}
}

func NewCalculator(opts ...Option) *Calculator {
	c := &Calculator{
		logger:   applogger.Nop(),
		metrics:  metrics.Nop{},
		now:      time.Now,
		defaults: defaultDefaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute returns VaR and ES at one confidence level.
func (c *Calculator) Compute(ctx context.Context, method models.VaRMethod, rc models.RiskContext, confidence float64, horizonDays int) (models.VaRResult, error) {
	res, err := c.ComputeLevels(ctx, method, rc, horizonDays, confidence)
	if err != nil {
		return models.VaRResult{}, err
	}
	return res[0], nil
}

// ComputeLevels evaluates several confidence levels against one loss
// distribution, so the levels are mutually consistent.
func (c *Calculator) ComputeLevels(ctx context.Context, method models.VaRMethod, rc models.RiskContext, horizonDays int, confidences ...float64) ([]models.VaRResult, error) {
	if method == nil {
		return nil, fmt.Errorf("nil method: %w", models.ErrUnknownMethod)
	}
	if horizonDays < 1 {
		return nil, fmt.Errorf("horizon %d days: %w", horizonDays, models.ErrInvalidInput)
	}
	if len(confidences) == 0 {
		return nil, fmt.Errorf("no confidence level: %w", models.ErrInvalidInput)
	}
	for _, cl := range confidences {
		if !(cl > 0 && cl < 1) {
			return nil, fmt.Errorf("confidence %v outside (0,1): %w", cl, models.ErrInvalidInput)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, models.AsTimeout(err, "var")
	}

	start := time.Now()
	dist, obs, err := c.distribution(ctx, method, rc, horizonDays)
	elapsed := time.Since(start)
	tag := string(method.Tag())
	if err != nil {
		c.metrics.RecordError(models.ErrorKind(err))
		c.logger.Warn("var computation failed",
			applogger.String("account", rc.AccountID),
			applogger.String("method", tag),
			applogger.Error(err),
		)
		return nil, err
	}
	c.metrics.RecordComputation(tag, elapsed.Seconds())

	now := c.now()
	out := make([]models.VaRResult, len(confidences))
	for i, cl := range confidences {
		v, es := dist.at(cl)
		out[i] = models.VaRResult{
			Method:            method.Tag(),
			Confidence:        cl,
			HorizonDays:       horizonDays,
			VaR:               v,
			ExpectedShortfall: es,
			Observations:      obs,
			ComputedAt:        now,
		}
	}
	c.logger.Debug("var computed",
		applogger.String("account", rc.AccountID),
		applogger.String("method", tag),
		applogger.Int("observations", obs),
		applogger.Duration("elapsed_ms", elapsed),
	)
	return out, nil
}

func (c *Calculator) distribution(ctx context.Context, method models.VaRMethod, rc models.RiskContext, horizonDays int) (lossDistribution, int, error) {
	book, err := bookFromContext(rc)
	if err != nil {
		return nil, 0, err
	}
	if book.empty() {
		return flat{}, 0, nil
	}

	switch m := method.(type) {
	case models.HistoricalMethod:
		return c.historical(ctx, m, book, rc.Market.Returns, horizonDays)
	case models.ParametricMethod:
		return c.parametric(ctx, m, book, rc.Market.Returns, horizonDays)
	case models.MonteCarloMethod:
		return c.monteCarlo(ctx, m, book, rc.Market.Returns, horizonDays)
	default:
		return nil, 0, fmt.Errorf("%T: %w", method, models.ErrUnknownMethod)
	}
}

func (c *Calculator) window(lookback, minObs int) (int, int) {
	if lookback <= 0 {
		lookback = c.defaults.Lookback
	}
	if minObs <= 0 {
		minObs = c.defaults.MinObservations
	}
	return lookback, minObs
}

// lossDistribution answers VaR and ES at any confidence level.
type lossDistribution interface {
	at(confidence float64) (varLoss, es float64)
}

// empirical holds ascending P&L outcomes, multiplied by scale when read.
type empirical struct {
	sorted []float64
	scale  float64
}

func (e empirical) at(confidence float64) (float64, float64) {
	v, es := tailLoss(e.sorted, confidence)
	return v * e.scale, es * e.scale
}

// gaussian is a zero-mean normal P&L with horizon-scaled deviation sigma.
type gaussian struct {
	sigma float64
}

func (g gaussian) at(confidence float64) (float64, float64) {
	return math.Max(0, zScore(confidence)*g.sigma), g.sigma * normalES(confidence)
}

// flat is the distribution of an empty book.
type flat struct{}

func (flat) at(float64) (float64, float64) { return 0, 0 }
