package valueatrisk

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"FinRisk/internal/domain/models"
	applogger "FinRisk/pkg/logger"
)

// mcChunk is the unit of parallel work. Chunk j always covers the same draws
// and is seeded with seed+j, so the outcome vector does not depend on how
// many workers run.
const mcChunk = 1000

// monteCarlo draws horizon returns r = mu*h + sqrt(h)*L*z from a normal fitted
// to the joint window, with L the Cholesky factor of the sample covariance.
func (c *Calculator) monteCarlo(ctx context.Context, m models.MonteCarloMethod, book exposureBook, returns map[string]models.ReturnSeries, horizonDays int) (lossDistribution, int, error) {
	lookback, minObs := c.window(m.Lookback, m.MinObservations)
	joint, err := jointReturns(book, returns, lookback, minObs)
	if err != nil {
		return nil, 0, err
	}
	obs, n := joint.Dims()

	sims := m.Simulations
	if sims <= 0 {
		sims = c.defaults.Simulations
	}
	workers := m.Workers
	if workers <= 0 {
		workers = c.defaults.Workers
	}

	factor, err := c.choleskyFactor(covariance(joint))
	if err != nil {
		return nil, 0, err
	}

	// P&L = h*(e.mu) + sqrt(h)*(L'e).z, so each draw reduces to one dot product.
	e := book.vector()
	var loadings mat.VecDense
	loadings.MulVec(factor.T(), e)
	w := loadings.RawVector().Data
	h := float64(horizonDays)
	drift := h * mat.Dot(e, mat.NewVecDense(n, columnMeans(joint)))
	sqrtH := math.Sqrt(h)

	outcomes := make([]float64, sims)
	chunks := (sims + mcChunk - 1) / mcChunk

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for j := 0; j < chunks; j++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(m.Seed + int64(j)))
			lo := j * mcChunk
			hi := lo + mcChunk
			if hi > sims {
				hi = sims
			}
			for i := lo; i < hi; i++ {
				if (i-lo)&255 == 255 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				dot := 0.0
				for k := 0; k < n; k++ {
					dot += w[k] * rng.NormFloat64()
				}
				outcomes[i] = drift + sqrtH*dot
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, models.AsTimeout(err, "monte carlo var")
	}
	// Wait can return nil while the parent deadline has just passed.
	if err := ctx.Err(); err != nil {
		return nil, 0, models.AsTimeout(err, "monte carlo var")
	}

	sort.Float64s(outcomes)
	return empirical{sorted: outcomes, scale: 1}, obs, nil
}

// choleskyFactor returns the lower factor of cov, falling back to the square
// root of its diagonal when cov is not positive definite.
func (c *Calculator) choleskyFactor(cov *mat.SymDense) (mat.Matrix, error) {
	var chol mat.Cholesky
	if chol.Factorize(cov) {
		var l mat.TriDense
		chol.LTo(&l)
		return &l, nil
	}

	vars := diagOf(cov)
	n := len(vars)
	d := mat.NewDiagDense(n, nil)
	nonZero := false
	for i, v := range vars {
		if v > 0 {
			d.SetDiag(i, math.Sqrt(v))
			nonZero = true
		}
	}
	if !nonZero {
		return nil, fmt.Errorf("covariance has no positive variance: %w", models.ErrDegenerateVariance)
	}
	c.logger.Debug("covariance not positive definite, using diagonal factor", applogger.Int("symbols", n))
	return d, nil
}
