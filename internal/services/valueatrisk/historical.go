package valueatrisk

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"FinRisk/internal/domain/models"
)

// historical revalues today's exposures over each past period of the joint
// window and scales the one-day outcomes by sqrt(horizon).
func (c *Calculator) historical(ctx context.Context, m models.HistoricalMethod, book exposureBook, returns map[string]models.ReturnSeries, horizonDays int) (lossDistribution, int, error) {
	lookback, minObs := c.window(m.Lookback, m.MinObservations)
	joint, err := jointReturns(book, returns, lookback, minObs)
	if err != nil {
		return nil, 0, err
	}
	if err := ctx.Err(); err != nil {
		return nil, 0, models.AsTimeout(err, "historical var")
	}

	t, _ := joint.Dims()
	var pnl mat.VecDense
	pnl.MulVec(joint, book.vector())

	outcomes := make([]float64, t)
	copy(outcomes, pnl.RawVector().Data)
	sort.Float64s(outcomes)

	return empirical{sorted: outcomes, scale: math.Sqrt(float64(horizonDays))}, t, nil
}
