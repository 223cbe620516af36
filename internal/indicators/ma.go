package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// MeanOrSMA is SMA over period, falling back to the mean of everything
// available when the series is shorter than period.
func MeanOrSMA(values []float64, period int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < period || period <= 0 {
		return SMA(values, len(values))
	}
	return SMA(values, period)
}

// RollingMean returns the trailing window mean at every index; indexes
// before the first full window are NaN.
func RollingMean(values []float64, window int) []float64 {
	out := nanSeries(len(values))
	if window <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// RollingSum is RollingMean without the division.
func RollingSum(values []float64, window int) []float64 {
	out := RollingMean(values, window)
	for i := range out {
		out[i] *= float64(window)
	}
	return out
}

// Shift lags a series by n positions, filling the head with NaN.
func Shift(values []float64, n int) []float64 {
	out := nanSeries(len(values))
	for i := n; i < len(values); i++ {
		out[i] = values[i-n]
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
