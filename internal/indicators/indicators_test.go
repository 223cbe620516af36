package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	assert.InDelta(t, 3.5, SMA([]float64{1, 2, 3, 4}, 2), 1e-9)
	assert.Zero(t, SMA([]float64{1}, 2))
	assert.InDelta(t, 1.5, MeanOrSMA([]float64{1, 2}, 5), 1e-9)
}

func TestRollingMeanAndShift(t *testing.T) {
	got := RollingMean([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 5)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2, got[2], 1e-9)
	assert.InDelta(t, 4, got[4], 1e-9)

	shifted := Shift(got, 1)
	assert.True(t, math.IsNaN(shifted[2]))
	assert.InDelta(t, 2, shifted[3], 1e-9)
}

func TestRollingExtremes(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5, 9, 2}
	hi := RollingMax(values, 3)
	lo := RollingMin(values, 3)
	assert.InDelta(t, 4, hi[2], 1e-9)
	assert.InDelta(t, 9, hi[6], 1e-9)
	assert.InDelta(t, 1, lo[3], 1e-9)
	assert.InDelta(t, 2, lo[6], 1e-9)
}

func TestTrueRangeAndATR(t *testing.T) {
	high := []float64{10, 12, 11}
	low := []float64{8, 9, 7}
	closes := []float64{9, 11, 8}

	tr := TrueRange(high, low, closes)
	assert.Equal(t, []float64{2, 3, 4}, tr)

	atr := ATR(high, low, closes, 2)
	assert.InDelta(t, 3.5, atr[2], 1e-9)
	assert.InDelta(t, 3.5, LastATR(high, low, closes, 2), 1e-9)
}

func TestVWAP(t *testing.T) {
	high := []float64{11, 12}
	low := []float64{9, 10}
	closes := []float64{10, 11}
	volume := []float64{1, 3}

	v := VWAP(high, low, closes, volume, 2)
	assert.True(t, math.IsNaN(v[0]))
	assert.InDelta(t, (10*1+11*3)/4.0, v[1], 1e-9)
}

func TestRSI(t *testing.T) {
	assert.InDelta(t, 100, RSI([]float64{1, 2, 3, 4}, 14), 1e-9)
	assert.InDelta(t, 50, RSI([]float64{1, 2, 1}, 2), 1e-9)
	assert.Zero(t, RSI([]float64{1}, 14))
}

func TestVWMA(t *testing.T) {
	closes := []float64{100, 10, 20}
	volume := []float64{50, 1, 3}
	assert.InDelta(t, (10*1+20*3)/4.0, VWMA(closes, volume, 2), 1e-9)
	assert.InDelta(t, 15, VWMA(closes, []float64{9, 0, 0}, 2), 1e-9, "no volume falls back to the mean")
	assert.Zero(t, VWMA(nil, nil, 3))
}

func TestVolumeGrowth(t *testing.T) {
	volume := []float64{10, 10, 10, 20, 20}
	assert.InDelta(t, 100, VolumeGrowth(volume, 2, 5), 1e-9)
	assert.Zero(t, VolumeGrowth(volume[:3], 2, 5))
	assert.Zero(t, VolumeGrowth([]float64{0, 0, 0, 1, 1}, 2, 5))
}
