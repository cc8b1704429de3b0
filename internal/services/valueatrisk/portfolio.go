package valueatrisk

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"FinRisk/internal/domain/models"
)

// exposureBook is the portfolio reduced to one signed exposure per symbol.
type exposureBook struct {
	symbols   []string
	exposures []float64
}

func (b exposureBook) empty() bool { return len(b.symbols) == 0 }

func (b exposureBook) vector() *mat.VecDense {
	return mat.NewVecDense(len(b.exposures), append([]float64(nil), b.exposures...))
}

// bookFromContext nets positions per symbol and prices them. A held symbol
// without a usable price is an input error.
func bookFromContext(rc models.RiskContext) (exposureBook, error) {
	qty := make(map[string]float64, len(rc.Positions))
	price := make(map[string]float64, len(rc.Positions))
	for _, p := range rc.Positions {
		if p.Quantity == 0 {
			continue
		}
		px, ok := rc.Market.Price(p)
		if !ok {
			return exposureBook{}, fmt.Errorf("no price for %s: %w", p.Symbol, models.ErrInsufficientData)
		}
		qty[p.Symbol] += p.Quantity
		price[p.Symbol] = px
	}

	var b exposureBook
	for sym, q := range qty {
		if q == 0 {
			continue
		}
		b.symbols = append(b.symbols, sym)
	}
	sort.Strings(b.symbols)
	b.exposures = make([]float64, len(b.symbols))
	for i, sym := range b.symbols {
		b.exposures[i] = qty[sym] * price[sym]
	}
	return b, nil
}

// jointReturns aligns the most recent common window of every symbol's series
// into a T x n matrix, one row per period. Dated series are matched on date;
// otherwise series are aligned on their latest observation.
func jointReturns(b exposureBook, returns map[string]models.ReturnSeries, lookback, minObs int) (*mat.Dense, error) {
	series := make([]models.ReturnSeries, len(b.symbols))
	dated := true
	for i, sym := range b.symbols {
		s, ok := returns[sym]
		if !ok || s.Len() == 0 {
			return nil, fmt.Errorf("no return series for %s: %w", sym, models.ErrInsufficientData)
		}
		series[i] = s
		if len(s.Dates) != len(s.Returns) {
			dated = false
		}
	}

	var cols [][]float64
	if dated {
		cols = alignByDate(series, lookback)
	} else {
		cols = alignByTail(series, lookback)
	}
	t := len(cols[0])
	if t < minObs {
		return nil, fmt.Errorf("%d joint observations, need %d: %w", t, minObs, models.ErrInsufficientData)
	}

	n := len(cols)
	data := make([]float64, t*n)
	for j, col := range cols {
		for row, r := range col {
			data[row*n+j] = r
		}
	}
	return mat.NewDense(t, n, data), nil
}

func alignByTail(series []models.ReturnSeries, lookback int) [][]float64 {
	t := -1
	for _, s := range series {
		if l := len(s.Tail(lookback)); t < 0 || l < t {
			t = l
		}
	}
	cols := make([][]float64, len(series))
	for i, s := range series {
		cols[i] = s.Returns[len(s.Returns)-t:]
	}
	return cols
}

func alignByDate(series []models.ReturnSeries, lookback int) [][]float64 {
	index := make([]map[int64]int, len(series))
	for i, s := range series {
		index[i] = make(map[int64]int, len(s.Dates))
		for k, d := range s.Dates {
			index[i][d.Unix()] = k
		}
	}

	var common []int64
	for _, d := range series[0].Dates {
		key := d.Unix()
		inAll := true
		for i := 1; i < len(series); i++ {
			if _, ok := index[i][key]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			common = append(common, key)
		}
	}
	if lookback > 0 && len(common) > lookback {
		common = common[len(common)-lookback:]
	}

	cols := make([][]float64, len(series))
	for i, s := range series {
		col := make([]float64, len(common))
		for row, key := range common {
			col[row] = s.Returns[index[i][key]]
		}
		cols[i] = col
	}
	return cols
}

// marginalVariances uses each symbol's own history, so series of unequal
// length still contribute their full window.
func marginalVariances(b exposureBook, returns map[string]models.ReturnSeries, lookback, minObs int) ([]float64, int, error) {
	vars := make([]float64, len(b.symbols))
	obs := -1
	for i, sym := range b.symbols {
		s, ok := returns[sym]
		if !ok {
			return nil, 0, fmt.Errorf("no return series for %s: %w", sym, models.ErrInsufficientData)
		}
		tail := s.Tail(lookback)
		if len(tail) < minObs {
			return nil, 0, fmt.Errorf("%s has %d observations, need %d: %w", sym, len(tail), minObs, models.ErrInsufficientData)
		}
		vars[i] = sampleVariance(tail)
		if obs < 0 || len(tail) < obs {
			obs = len(tail)
		}
	}
	return vars, obs, nil
}
