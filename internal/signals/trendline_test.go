package signals

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/series"
)

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// buildDescendingTrendlineSeries constructs a 60-bar series with three
// swing-highs at indexes 10, 25, and 40 (heights 100, 90, 80 — a perfectly
// linear descending trendline), flat baseline elsewhere, and a confirmed
// breakout at index 50.
func buildDescendingTrendlineSeries(t *testing.T) series.Series {
	t.Helper()

	const n = 60
	highs := make([]float64, n)
	peaks := []struct {
		idx    int
		height float64
	}{{10, 100}, {25, 90}, {40, 80}}

	for _, p := range peaks {
		for k := -5; k <= 5; k++ {
			idx := p.idx + k
			if idx < 0 || idx >= n {
				continue
			}
			val := p.height - float64(abs(k))*2
			if val > highs[idx] {
				highs[idx] = val
			}
		}
	}

	slope := (peaks[2].height - peaks[0].height) / float64(peaks[2].idx-peaks[0].idx)
	intercept := peaks[0].height - slope*float64(peaks[0].idx)
	tl := func(i int) float64 { return slope*float64(i) + intercept }

	closes := make([]float64, n)
	for i := 41; i <= 48; i++ {
		closes[i] = tl(i) - 5
	}
	closes[49] = tl(49) - 2
	// Post-breakout closes rise bar over bar, so bar 50 does not become a
	// fourth swing-high that would extend the lower-high run past it.
	for i := 50; i < n; i++ {
		closes[i] = tl(i) + 3 + float64(i-50)*1.0
	}
	// Fill the pre-breakout region with values well under any swing high so
	// nothing there accidentally qualifies as a swing point.
	for i := 0; i < 41; i++ {
		if closes[i] == 0 {
			closes[i] = highs[i] - 1
			if closes[i] < 1 {
				closes[i] = 1
			}
		}
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, n)
	for i := 0; i < n; i++ {
		h := highs[i]
		if h < closes[i]+1 {
			h = closes[i] + 1
		}
		s[i] = series.Bar{
			Date:   base.AddDate(0, 0, i),
			Open:   decimal.NewFromFloat(closes[i] - 0.5),
			High:   decimal.NewFromFloat(h),
			Low:    decimal.NewFromFloat(closes[i] - 2),
			Close:  decimal.NewFromFloat(closes[i]),
			Volume: 1_000_000,
		}
	}
	return s
}

func TestTrendlineFamilyDetectsBreakout(t *testing.T) {
	s := buildDescendingTrendlineSeries(t)
	emissions := TrendlineFamily(s)
	require.NotEmpty(t, emissions)

	var breakouts []Emission
	for _, e := range emissions {
		if e.StrategyName == models.StrategyDescendingTrendlineBreakout {
			breakouts = append(breakouts, e)
		}
	}
	require.Len(t, breakouts, 1)
	assert.Equal(t, s[50].Date, breakouts[0].SignalDate)
	assert.Equal(t, models.SignalBuy, breakouts[0].SignalType)
}

func TestTrendlineFamilyNoSignalsOnUptrend(t *testing.T) {
	const n = 30
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, n)
	for i := 0; i < n; i++ {
		price := 100 + float64(i)
		s[i] = series.Bar{
			Date:   base.AddDate(0, 0, i),
			Open:   decimal.NewFromFloat(price - 0.5),
			High:   decimal.NewFromFloat(price + 1),
			Low:    decimal.NewFromFloat(price - 1),
			Close:  decimal.NewFromFloat(price),
			Volume: 1000,
		}
	}
	assert.Empty(t, TrendlineFamily(s))
}

func TestOLSFitRecoversExactLine(t *testing.T) {
	xs := []float64{0, 1, 2, 3}
	ys := []float64{10, 8, 6, 4}
	slope, intercept := olsFit(xs, ys)
	assert.InDelta(t, -2.0, slope, 1e-9)
	assert.InDelta(t, 10.0, intercept, 1e-9)
}

func TestLongestLowerHighRunSkipsNonLowerHighsInsteadOfResetting(t *testing.T) {
	swingIdx := []int{0, 5, 10, 15, 20}
	highs := make([]float64, 21)
	highs[0] = 100
	highs[5] = 50
	highs[10] = 90
	highs[15] = 40
	highs[20] = 30
	// A contiguous-run-with-reset implementation would answer [10, 15, 20]
	// (length 3, discarding 0 and 5 once 10 breaks the decrease). The
	// greedy-skip subsequence search instead finds [0, 5, 15, 20] (length 4)
	// by skipping over index 10 rather than restarting at it.
	run := longestLowerHighRun(swingIdx, highs)
	assert.Equal(t, []int{0, 5, 15, 20}, run)
}

func TestLongestLowerHighRunMatchesReferenceFourPointExample(t *testing.T) {
	swingIdx := []int{0, 1, 2, 3, 4}
	highs := []float64{100, 95, 110, 90, 85}
	run := longestLowerHighRun(swingIdx, highs)
	assert.Equal(t, []int{0, 1, 3, 4}, run)
}
