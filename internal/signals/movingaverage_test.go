package signals

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/series"
)

func TestMAFamilyNilWhenTooShort(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, 50)
	for i := range s {
		s[i] = series.Bar{
			Date:  base.AddDate(0, 0, i),
			Open:  decimal.NewFromInt(100),
			High:  decimal.NewFromInt(101),
			Low:   decimal.NewFromInt(99),
			Close: decimal.NewFromInt(100),
		}
	}
	assert.Nil(t, MAFamily(s))
}

func TestMAEmissionBuildsFromBar(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := series.Series{
		{Date: base, Close: decimal.NewFromInt(10)},
		{Date: base.AddDate(0, 0, 1), Close: decimal.NewFromInt(12)},
	}
	e := maEmission(s, 1, models.StrategyGoldenCross, models.SignalBuy, map[string]any{"ma50": 11.0})
	assert.Equal(t, models.StrategyGoldenCross, e.StrategyName)
	assert.Equal(t, models.SignalBuy, e.SignalType)
	assert.True(t, e.SignalDate.Equal(s[1].Date))
	assert.True(t, e.SignalPrice.Equal(decimal.NewFromInt(12)))
}

func TestMAFamilyGoldenCrossOnSharpRamp(t *testing.T) {
	// A long flat plateau at 100 followed by a late, sharp ramp produces a
	// ma50/ma200 golden cross near the end of the series, inside the
	// strategy's 10-bar lookback.
	const plateauLen = 211
	const rampLen = 10
	n := plateauLen + rampLen
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, n)
	for i := 0; i < plateauLen; i++ {
		s[i] = series.Bar{
			Date:  base.AddDate(0, 0, i),
			Open:  decimal.NewFromInt(100),
			High:  decimal.NewFromInt(101),
			Low:   decimal.NewFromInt(99),
			Close: decimal.NewFromInt(100),
		}
	}
	for k := 0; k < rampLen; k++ {
		i := plateauLen + k
		price := 100 + float64(k+1)*20
		s[i] = series.Bar{
			Date:  base.AddDate(0, 0, i),
			Open:  decimal.NewFromFloat(price - 5),
			High:  decimal.NewFromFloat(price + 2),
			Low:   decimal.NewFromFloat(price - 6),
			Close: decimal.NewFromFloat(price),
		}
	}

	emissions := MAFamily(s)
	var goldenCrosses int
	for _, e := range emissions {
		if e.StrategyName == models.StrategyGoldenCross {
			goldenCrosses++
		}
	}
	assert.GreaterOrEqual(t, goldenCrosses, 1, "expected at least one golden cross emitted on a sharp late ramp")
}

func TestMAFamilyDetectsCrossAtIndex200(t *testing.T) {
	// 201 bars, flat at 100 except for a spike on the very last bar (index
	// 200). ma200[199] still needs to be a valid (fully-windowed) average for
	// the cross at i=200 to be checked at all, so this only passes if the
	// lookback floor lets i=200 through.
	const n = 201
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := make(series.Series, n)
	for i := 0; i < n-1; i++ {
		s[i] = series.Bar{
			Date:  base.AddDate(0, 0, i),
			Open:  decimal.NewFromInt(100),
			High:  decimal.NewFromInt(101),
			Low:   decimal.NewFromInt(99),
			Close: decimal.NewFromInt(100),
		}
	}
	s[n-1] = series.Bar{
		Date:  base.AddDate(0, 0, n-1),
		Open:  decimal.NewFromInt(450),
		High:  decimal.NewFromInt(510),
		Low:   decimal.NewFromInt(440),
		Close: decimal.NewFromInt(500),
	}

	emissions := MAFamily(s)
	var found bool
	for _, e := range emissions {
		if e.StrategyName == models.StrategyGoldenCross && e.SignalDate.Equal(s[n-1].Date) {
			found = true
		}
	}
	assert.True(t, found, "expected a golden cross at index 200, the boundary the old start>=201 floor excluded")
}
