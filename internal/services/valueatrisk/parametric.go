package valueatrisk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"FinRisk/internal/domain/models"
	applogger "FinRisk/pkg/logger"
)

// parametric uses sigma_p^2 = e' S e. S is the full sample covariance when a
// joint window exists, otherwise the per-symbol variances.
func (c *Calculator) parametric(ctx context.Context, m models.ParametricMethod, book exposureBook, returns map[string]models.ReturnSeries, horizonDays int) (lossDistribution, int, error) {
	lookback, minObs := c.window(m.Lookback, m.MinObservations)

	var (
		variance float64
		obs      int
	)
	full := false
	if m.FullCovariance {
		joint, err := jointReturns(book, returns, lookback, minObs)
		switch {
		case err == nil:
			obs, _ = joint.Dims()
			e := book.vector()
			variance = mat.Inner(e, covariance(joint), e)
			full = true
		case errors.Is(err, models.ErrInsufficientData):
			c.logger.Debug("joint window too short, using diagonal covariance", applogger.Error(err))
		default:
			return nil, 0, err
		}
	}
	if !full {
		vars, n, err := marginalVariances(book, returns, lookback, minObs)
		if err != nil {
			return nil, 0, err
		}
		obs = n
		for i, e := range book.exposures {
			variance += e * e * vars[i]
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, models.AsTimeout(err, "parametric var")
	}

	if !(variance > 0) || math.IsInf(variance, 0) {
		return nil, 0, fmt.Errorf("portfolio variance %v: %w", variance, models.ErrDegenerateVariance)
	}
	return gaussian{sigma: math.Sqrt(variance) * math.Sqrt(float64(horizonDays))}, obs, nil
}
