package valueatrisk

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// tailLoss reads VaR and ES off ascending P&L outcomes. The quantile index is
// floor((1-c)N); ES averages every outcome at or below it, so ES >= VaR.
func tailLoss(sorted []float64, confidence float64) (varLoss, es float64) {
	n := len(sorted)
	if n == 0 {
		return 0, 0
	}
	k := int(math.Floor((1 - confidence) * float64(n)))
	if k >= n {
		k = n - 1
	}
	varLoss = math.Max(0, -sorted[k])

	sum := 0.0
	for _, v := range sorted[:k+1] {
		sum += v
	}
	es = math.Max(varLoss, -sum/float64(k+1))
	return varLoss, es
}

func zScore(confidence float64) float64 {
	return distuv.UnitNormal.Quantile(confidence)
}

// normalES is the expected shortfall multiplier phi(z)/(1-c) of a unit normal.
func normalES(confidence float64) float64 {
	return distuv.UnitNormal.Prob(zScore(confidence)) / (1 - confidence)
}

func sampleVariance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	return stat.Variance(xs, nil)
}

func covariance(returns *mat.Dense) *mat.SymDense {
	_, n := returns.Dims()
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)
	return cov
}

func columnMeans(returns *mat.Dense) []float64 {
	_, n := returns.Dims()
	mu := make([]float64, n)
	for j := range mu {
		mu[j] = stat.Mean(mat.Col(nil, j, returns), nil)
	}
	return mu
}

func diagOf(cov *mat.SymDense) []float64 {
	n, _ := cov.Dims()
	out := make([]float64, n)
	for i := range out {
		out[i] = cov.At(i, i)
	}
	return out
}
