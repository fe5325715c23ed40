// Package signals implements the four strategy families that turn a
// stock's stored OHLCV history into buy/sell/pullback/approaching signal
// emissions: descending-trendline breakout, approaching-breakout,
// pullback, and the moving-average cross family.
package signals

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/series"
)

// SwingWindow is the symmetric comparison width used to classify a bar as
// a local swing-high or swing-low.
const SwingWindow = 5

// Emission is one candidate signal produced by a strategy pass, not yet
// written to storage.
type Emission struct {
	StrategyName string
	SignalDate   time.Time
	SignalType   models.SignalType
	SignalPrice  decimal.Decimal
	Details      map[string]any
}

// swingHighs returns the indexes of bars whose high is strictly greater
// than every other high within SwingWindow bars on both sides.
func swingHighs(highs []float64) []int {
	var idx []int
	for i := range highs {
		if isSwing(highs, i, true) {
			idx = append(idx, i)
		}
	}
	return idx
}

func isSwing(values []float64, i int, high bool) bool {
	lo := i - SwingWindow
	hi := i + SwingWindow
	if lo < 0 || hi >= len(values) {
		return false
	}
	for j := lo; j <= hi; j++ {
		if j == i {
			continue
		}
		if high && values[j] >= values[i] {
			return false
		}
		if !high && values[j] <= values[i] {
			return false
		}
	}
	return true
}

// longestLowerHighRun builds a strictly-decreasing subsequence of swing-high
// indexes: for every candidate start, it greedily extends by skipping over
// any swing-high that doesn't continue the decrease (rather than abandoning
// the run), then keeps the longest subsequence found across all starts.
// This mirrors find_lower_highs's exhaustive-start, skip-don't-reset search:
// e.g. prices [100, 95, 110, 90, 85] yield the 4-point subsequence
// [100, 95, 90, 85], not a 3-point contiguous run. Because each extension
// takes the first lower high it meets, the result is not always the longest
// strictly-decreasing subsequence: prices [100, 90, 95, 94, 93] yield
// [95, 94, 93], not [100, 95, 94, 93].
func longestLowerHighRun(swingIdx []int, highs []float64) []int {
	if len(swingIdx) == 0 {
		return nil
	}
	var best []int
	for start := 0; start < len(swingIdx); start++ {
		current := []int{swingIdx[start]}
		for _, idx := range swingIdx[start+1:] {
			if highs[idx] < highs[current[len(current)-1]] {
				current = append(current, idx)
			}
		}
		if len(current) > len(best) {
			best = current
		}
	}
	return best
}

// olsFit fits y = slope*x + intercept by ordinary least squares over the
// given (x, y) pairs.
func olsFit(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	if n == 0 {
		return 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}

// TrendlineFamily runs the descending-trendline breakout, approaching, and
// pullback strategies over s and returns every candidate emission.
func TrendlineFamily(s series.Series) []Emission {
	if len(s) < 3 {
		return nil
	}
	highs := s.Highs()
	closes := s.Closes()
	opens := make([]float64, len(s))
	for i, b := range s {
		opens[i], _ = b.Open.Float64()
	}

	swings := swingHighs(highs)
	lowerHighs := longestLowerHighRun(swings, highs)
	if len(lowerHighs) < 3 {
		return nil
	}

	xs := make([]float64, len(lowerHighs))
	ys := make([]float64, len(lowerHighs))
	for i, idx := range lowerHighs {
		xs[i] = float64(idx)
		ys[i] = highs[idx]
	}
	slope, intercept := olsFit(xs, ys)
	if slope >= 0 {
		return nil
	}
	tl := func(i int) float64 { return slope*float64(i) + intercept }

	var emissions []Emission
	lastLowerHigh := lowerHighs[len(lowerHighs)-1]
	firstBreakoutIdx := -1

	for i := lastLowerHigh + 1; i < len(s); i++ {
		if i == 0 {
			continue
		}
		if closes[i-1] <= tl(i-1) && closes[i] > tl(i) {
			if firstBreakoutIdx == -1 {
				firstBreakoutIdx = i
			}
			emissions = append(emissions, Emission{
				StrategyName: models.StrategyDescendingTrendlineBreakout,
				SignalDate:   s[i].Date,
				SignalType:   models.SignalBuy,
				SignalPrice:  s[i].Close,
				Details: map[string]any{
					"slope":             slope,
					"intercept":         intercept,
					"trendline_value":   tl(i),
					"breakout_confirmed": true,
					"breakout_date":     s[i].Date.Format("2006-01-02"),
				},
			})
		}
	}

	approachWindow := 5
	if approachWindow > len(s) {
		approachWindow = len(s)
	}
	for i := len(s) - approachWindow; i < len(s); i++ {
		if i < 0 || i <= lastLowerHigh {
			continue
		}
		tlv := tl(i)
		if closes[i] >= tlv || tlv <= 0 {
			continue
		}
		distancePct := (tlv - closes[i]) / closes[i] * 100
		bullish := closes[i] > opens[i]
		if distancePct > 0 && distancePct <= 3 && bullish {
			emissions = append(emissions, Emission{
				StrategyName: models.StrategyApproachingBreakout,
				SignalDate:   s[i].Date,
				SignalType:   models.SignalApproaching,
				SignalPrice:  s[i].Close,
				Details: map[string]any{
					"slope":               slope,
					"intercept":           intercept,
					"trendline_value":     tlv,
					"distance_percent":    distancePct,
					"breakout_confirmed":  nil,
					"breakout_date":       nil,
				},
			})
		}
	}

	pullbackWindow := 10
	if pullbackWindow > len(s) {
		pullbackWindow = len(s)
	}
	for i := len(s) - pullbackWindow; i < len(s); i++ {
		if i < 0 || i <= lastLowerHigh {
			continue
		}
		// Pullback only makes sense after a confirmed breakout: before that
		// the trendline hasn't been broken, so there is nothing to pull
		// back toward.
		if firstBreakoutIdx == -1 || i < firstBreakoutIdx {
			continue
		}
		tlv := tl(i)
		if tlv == 0 {
			continue
		}
		distPct := absF((closes[i] - tlv) / tlv * 100)
		if distPct <= 3 {
			emissions = append(emissions, Emission{
				StrategyName: models.StrategyPullbackBuy,
				SignalDate:   s[i].Date,
				SignalType:   models.SignalPullback,
				SignalPrice:  s[i].Close,
				Details: map[string]any{
					"slope":            slope,
					"intercept":        intercept,
					"trendline_value":  tlv,
					"distance_percent": distPct,
				},
			})
		}
	}

	return emissions
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ConfirmApproaching walks forward from each unresolved approaching-breakout
// signal found in existing (loaded from storage, in no particular order) and
// marks it confirmed if the series breaks above the trendline within the
// next 3 bars. It returns an updated copy of the Details map for each signal
// that needs a storage update; signals with no change are omitted.
func ConfirmApproaching(s series.Series, dateIndex map[time.Time]int, existing []models.Signal) map[int64]map[string]any {
	updates := make(map[int64]map[string]any)
	highs := s.Highs()

	for _, sig := range existing {
		if sig.StrategyName != models.StrategyApproachingBreakout {
			continue
		}
		if confirmed, ok := sig.Details["breakout_confirmed"].(bool); ok && confirmed {
			continue
		}
		idx, ok := dateIndex[sig.SignalDate]
		if !ok {
			continue
		}
		slope, _ := sig.Details["slope"].(float64)
		intercept, _ := sig.Details["intercept"].(float64)
		tl := func(i int) float64 { return slope*float64(i) + intercept }
		// The stored intercept belongs to the bar indexing of the pass that
		// emitted the signal; anchor on the stored trendline value at the
		// signal bar so a shifted history window does not move the line.
		if tv, ok := sig.Details["trendline_value"].(float64); ok {
			tl = func(i int) float64 { return tv + slope*float64(i-idx) }
		}

		for j := idx + 1; j <= idx+3 && j < len(s); j++ {
			if highs[j] > tl(j) {
				details := cloneDetails(sig.Details)
				details["breakout_confirmed"] = true
				details["breakout_date"] = s[j].Date.Format("2006-01-02")
				updates[sig.ID] = details
				break
			}
		}
	}
	return updates
}

func cloneDetails(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
