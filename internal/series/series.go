// Package series implements pure, allocation-light indicator math over an
// ordered sequence of OHLCV bars. Nothing here touches the database or the
// network; every function takes a slice and returns a slice or a scalar.
package series

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is one OHLCV observation, ordered ascending by Date within a Series.
type Bar struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Series is an immutable, date-ascending run of bars for a single stock.
type Series []Bar

// Closes returns the close prices as float64, the working precision for the
// indicator math below — signals carry decimal.Decimal, but swing
// detection, OLS fitting, and SMA/EMA smoothing are tolerant of float64's
// precision loss at these magnitudes.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i], _ = b.Close.Float64()
	}
	return out
}

func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i], _ = b.High.Float64()
	}
	return out
}

func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i], _ = b.Low.Float64()
	}
	return out
}

// SMA returns the simple moving average over window at each index; indexes
// before the window has filled are NaN-free zero entries and should be
// ignored by the caller (checked via index >= window-1).
func SMA(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
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

// EMA returns the exponential moving average over window, seeded with the
// SMA of the first window values.
func EMA(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if len(values) < window {
		return out
	}
	k := 2.0 / float64(window+1)

	var seed float64
	for i := 0; i < window; i++ {
		seed += values[i]
	}
	seed /= float64(window)
	out[window-1] = seed

	for i := window; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

// RSI returns the Wilder relative-strength-index over window.
func RSI(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	if len(values) <= window {
		return out
	}

	var gainSum, lossSum float64
	for i := 1; i <= window; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(window)
	avgLoss := lossSum / float64(window)
	out[window] = rsiFromAverages(avgGain, avgLoss)

	for i := window + 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		var gain, loss float64
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = (avgGain*float64(window-1) + gain) / float64(window)
		avgLoss = (avgLoss*float64(window-1) + loss) / float64(window)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// MACD returns the MACD line, the signal line, and the histogram for the
// standard 12/26/9 configuration.
func MACD(values []float64) (macd, signal, histogram []float64) {
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	macd = make([]float64, len(values))
	for i := range values {
		if fast[i] != 0 && slow[i] != 0 {
			macd[i] = fast[i] - slow[i]
		}
	}
	signal = EMA(macd, 9)
	histogram = make([]float64, len(values))
	for i := range values {
		histogram[i] = macd[i] - signal[i]
	}
	return macd, signal, histogram
}

// Bollinger returns the upper and lower bands at window width and the given
// standard-deviation multiple (typically 2).
func Bollinger(values []float64, window int, numStdDev float64) (upper, lower []float64) {
	mid := SMA(values, window)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))

	for i := range values {
		if i < window-1 {
			continue
		}
		var sumSq float64
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - mid[i]
			sumSq += d * d
		}
		stdDev := math.Sqrt(sumSq / float64(window))
		upper[i] = mid[i] + numStdDev*stdDev
		lower[i] = mid[i] - numStdDev*stdDev
	}
	return upper, lower
}

// OBV returns the on-balance-volume running total.
func OBV(closes []float64, volumes []int64) []float64 {
	out := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		switch {
		case closes[i] > closes[i-1]:
			out[i] = out[i-1] + float64(volumes[i])
		case closes[i] < closes[i-1]:
			out[i] = out[i-1] - float64(volumes[i])
		default:
			out[i] = out[i-1]
		}
	}
	return out
}
