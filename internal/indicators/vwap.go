package indicators

import "math"

// VWAP is the rolling volume-weighted typical price (high+low+close)/3.
func VWAP(high, low, closes, volume []float64, window int) []float64 {
	n := min(len(high), len(low), len(closes), len(volume))
	weighted := make([]float64, n)
	for i := 0; i < n; i++ {
		weighted[i] = (high[i] + low[i] + closes[i]) / 3 * volume[i]
	}
	num := RollingSum(weighted, window)
	den := RollingSum(volume[:n], window)
	out := nanSeries(n)
	for i := range out {
		if den[i] != 0 && !math.IsNaN(den[i]) {
			out[i] = num[i] / den[i]
		}
	}
	return out
}

// VWMA is the volume-weighted mean close of the last period bars, falling
// back to the plain mean when the window traded no volume.
func VWMA(closes, volume []float64, period int) float64 {
	n := min(len(closes), len(volume))
	if n == 0 || period <= 0 {
		return 0
	}
	start := max(n-period, 0)
	var num, den float64
	for i := start; i < n; i++ {
		num += closes[i] * volume[i]
		den += volume[i]
	}
	if den == 0 {
		return SMA(closes[start:n], n-start)
	}
	return num / den
}

// VolumeGrowth compares the mean volume of the last short bars with the
// long-short bars before them, in percent. Short series report 0.
func VolumeGrowth(volume []float64, short, long int) float64 {
	if short <= 0 || long <= short || len(volume) < long {
		return 0
	}
	recent := SMA(volume, short)
	past := SMA(volume[len(volume)-long:len(volume)-short], long-short)
	if past == 0 {
		return 0
	}
	return (recent - past) / past * 100
}
