package features

import (
	"time"

	"FinRisk/internal/domain/models"
)

// SimpleReturns computes r_t = C_t / C_{t-1} - 1 as a series dated by the
// later bar. Bars with a non-positive close yield a zero return.
func SimpleReturns(symbol string, candles []models.Candle) models.ReturnSeries {
	s := models.ReturnSeries{Symbol: symbol}
	if len(candles) < 2 {
		return s
	}
	s.Returns = make([]float64, 0, len(candles)-1)
	s.Dates = make([]time.Time, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		r := 0.0
		if prev > 0 && cur > 0 {
			r = cur/prev - 1
		}
		s.Returns = append(s.Returns, r)
		s.Dates = append(s.Dates, candles[i].Bucket)
	}
	return s
}

// AverageDailyVolume averages the volume of the last window bars.
// ok is false when there are no bars with volume.
func AverageDailyVolume(candles []models.Candle, window int) (float64, bool) {
	if window <= 0 || window > len(candles) {
		window = len(candles)
	}
	sum := 0.0
	n := 0
	for _, c := range candles[len(candles)-window:] {
		if c.Volume <= 0 {
			continue
		}
		sum += c.Volume
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// BarsPerYearForTF returns the number of bars per year for a timeframe.
// Daily bars follow the trading calendar.
func BarsPerYearForTF(tf string) float64 {
	switch tf {
	case "1m":
		return 252 * 390
	case "1h":
		return 252 * 6.5
	default:
		return 252
	}
}

// AlignFromTo rounds a time range to bar boundaries.
func AlignFromTo(from, to time.Time, tf string) (time.Time, time.Time) {
	switch tf {
	case "1m":
		return from.Truncate(time.Minute), to.Truncate(time.Minute)
	case "1h":
		return from.Truncate(time.Hour), to.Truncate(time.Hour)
	default:
		return truncateDay(from), truncateDay(to)
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
