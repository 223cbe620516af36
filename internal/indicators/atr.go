package indicators

import "math"

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first
// bar has no previous close and uses high-low.
func TrueRange(high, low, closes []float64) []float64 {
	n := min(len(high), len(low), len(closes))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := high[i] - low[i]
		if i > 0 {
			tr = math.Max(tr, math.Abs(high[i]-closes[i-1]))
			tr = math.Max(tr, math.Abs(low[i]-closes[i-1]))
		}
		out[i] = tr
	}
	return out
}

// ATR is the rolling mean of the true range.
func ATR(high, low, closes []float64, window int) []float64 {
	return RollingMean(TrueRange(high, low, closes), window)
}

// LastATR averages the last period true ranges, skipping the first bar.
func LastATR(high, low, closes []float64, period int) float64 {
	tr := TrueRange(high, low, closes)
	if len(tr) < 2 || period <= 0 {
		return 0
	}
	tr = tr[1:]
	if len(tr) > period {
		tr = tr[len(tr)-period:]
	}
	sum := 0.0
	for _, v := range tr {
		sum += v
	}
	return sum / float64(period)
}
