package series

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	out := SMA(values, 3)

	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 0.0, out[1])
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
	assert.InDelta(t, 5.0, out[5], 1e-9)
}

func TestEMASeedsWithSMA(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15, 16, 17}
	out := EMA(values, 4)

	// First three entries are unseeded zero, the fourth is the seed SMA.
	assert.Equal(t, 0.0, out[0])
	assert.InDelta(t, 11.5, out[3], 1e-9)
	// Subsequent values should move monotonically toward the trend.
	assert.Greater(t, out[7], out[3])
}

func TestRSIAllGainsIsMax(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(i)
	}
	out := RSI(values, 14)
	assert.InDelta(t, 100.0, out[14], 1e-9)
}

func TestRSIAllLossesIsZero(t *testing.T) {
	values := make([]float64, 20)
	for i := range values {
		values[i] = float64(20 - i)
	}
	out := RSI(values, 14)
	assert.InDelta(t, 0.0, out[14], 1e-9)
}

func TestOBVTracksDirection(t *testing.T) {
	closes := []float64{10, 11, 10, 10, 12}
	volumes := []int64{100, 200, 300, 400, 500}
	out := OBV(closes, volumes)

	assert.Equal(t, 0.0, out[0])
	assert.Equal(t, 200.0, out[1])  // up day adds volume
	assert.Equal(t, -100.0, out[2]) // down day subtracts volume
	assert.Equal(t, -100.0, out[3]) // flat day carries forward
	assert.Equal(t, 400.0, out[4])  // up day adds volume again
}

func TestBollingerWidensWithVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100}
	upper, lower := Bollinger(flat, 5, 2)
	assert.InDelta(t, 100.0, upper[4], 1e-9)
	assert.InDelta(t, 100.0, lower[4], 1e-9)

	volatile := []float64{90, 110, 90, 110, 100}
	upperV, lowerV := Bollinger(volatile, 5, 2)
	assert.Greater(t, upperV[4]-lowerV[4], upper[4]-lower[4])
}
