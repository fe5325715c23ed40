package signals

import (
	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/series"
)

// MAFamily runs the golden/death-cross, support/resistance, breakout, and
// alignment strategies over s. Unlike TrendlineFamily these signals are
// keyed on point-in-time crossing events rather than a re-derivable
// snapshot, so the caller must upsert rather than delete-and-reinsert them.
func MAFamily(s series.Series) []Emission {
	if len(s) < 200 {
		return nil
	}
	closes := s.Closes()
	highs := s.Highs()
	lows := s.Lows()
	opens := make([]float64, len(s))
	for i, b := range s {
		opens[i], _ = b.Open.Float64()
	}

	ma20 := series.SMA(closes, 20)
	ma50 := series.SMA(closes, 50)
	ma200 := series.SMA(closes, 200)

	var emissions []Emission

	lookback := 10
	start := len(s) - lookback
	if start < 200 {
		start = 200
	}

	for i := start; i < len(s); i++ {
		prevDiff := ma50[i-1] - ma200[i-1]
		currDiff := ma50[i] - ma200[i]

		if prevDiff <= 0 && currDiff > 0 {
			emissions = append(emissions, maEmission(s, i, models.StrategyGoldenCross, models.SignalBuy, map[string]any{
				"ma50": ma50[i], "ma200": ma200[i],
			}))
		}
		if prevDiff >= 0 && currDiff < 0 {
			emissions = append(emissions, maEmission(s, i, models.StrategyDeathCross, models.SignalSell, map[string]any{
				"ma50": ma50[i], "ma200": ma200[i],
			}))
		}

		for _, ma := range []struct {
			name   string
			values []float64
		}{{"ma20", ma20}, {"ma50", ma50}, {"ma200", ma200}} {
			val := ma.values[i]
			if val == 0 {
				continue
			}
			bullish := closes[i] > opens[i]

			lowDist := absF(lows[i]-val) / val * 100
			if lowDist <= 2 && closes[i] > val && bullish {
				emissions = append(emissions, maEmission(s, i, models.StrategyMASupport, models.SignalBuy, map[string]any{
					"ma": ma.name, "value": val,
				}))
			}
			highDist := absF(highs[i]-val) / val * 100
			if highDist <= 2 && closes[i] < val && !bullish {
				emissions = append(emissions, maEmission(s, i, models.StrategyMAResistance, models.SignalSell, map[string]any{
					"ma": ma.name, "value": val,
				}))
			}

			prevVal := ma.values[i-1]
			if prevVal == 0 {
				continue
			}
			if closes[i-1] <= prevVal && closes[i] > val {
				emissions = append(emissions, maEmission(s, i, models.StrategyMABreakoutUp, models.SignalBuy, map[string]any{
					"ma": ma.name, "value": val,
				}))
			}
			if closes[i-1] >= prevVal && closes[i] < val {
				emissions = append(emissions, maEmission(s, i, models.StrategyMABreakoutDown, models.SignalSell, map[string]any{
					"ma": ma.name, "value": val,
				}))
			}
		}

		bullishNow := ma20[i] > ma50[i] && ma50[i] > ma200[i]
		bullishPrev := ma20[i-1] > ma50[i-1] && ma50[i-1] > ma200[i-1]
		if bullishNow && !bullishPrev {
			emissions = append(emissions, maEmission(s, i, models.StrategyMABullishAlignment, models.SignalBuy, map[string]any{
				"ma20": ma20[i], "ma50": ma50[i], "ma200": ma200[i],
			}))
		}

		bearishNow := ma20[i] < ma50[i] && ma50[i] < ma200[i]
		bearishPrev := ma20[i-1] < ma50[i-1] && ma50[i-1] < ma200[i-1]
		if bearishNow && !bearishPrev {
			emissions = append(emissions, maEmission(s, i, models.StrategyMABearishAlignment, models.SignalSell, map[string]any{
				"ma20": ma20[i], "ma50": ma50[i], "ma200": ma200[i],
			}))
		}
	}

	return emissions
}

func maEmission(s series.Series, i int, strategy string, signalType models.SignalType, details map[string]any) Emission {
	return Emission{
		StrategyName: strategy,
		SignalDate:   s[i].Date,
		SignalType:   signalType,
		SignalPrice:  s[i].Close,
		Details:      details,
	}
}
