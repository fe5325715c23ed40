package signals

import "github.com/tricalas/stock-analyzer/internal/series"

// Family groups related strategies for write-semantics purposes: the
// trendline family's breakout and pullback signals are delete-then-reinserted
// per analysis pass since they are fully re-derivable from the current
// series, and its approaching_breakout signals are upserted so their
// confirmation flag survives; the MA family is pure-upserted since its
// signals are point-in-time crossing events that must not be silently
// dropped and regenerated.
type Family string

const (
	FamilyTrendline Family = "trendline"
	FamilyMA        Family = "ma"
)

// Strategy is the common capability every signal-emitting strategy
// implements, letting the analyzer dispatch over a closed set of variants
// instead of branching on strategy-name strings.
type Strategy interface {
	Name() string
	Family() Family
	Analyze(s series.Series) []Emission
}

type trendlineStrategy struct{}

func (trendlineStrategy) Name() string       { return "trendline" }
func (trendlineStrategy) Family() Family      { return FamilyTrendline }
func (trendlineStrategy) Analyze(s series.Series) []Emission { return TrendlineFamily(s) }

type movingAverageStrategy struct{}

func (movingAverageStrategy) Name() string       { return "moving_average" }
func (movingAverageStrategy) Family() Family      { return FamilyMA }
func (movingAverageStrategy) Analyze(s series.Series) []Emission { return MAFamily(s) }

// DefaultStrategies returns the strategy set the signal analyzer runs by
// default: the trendline breakout family and the moving-average family.
func DefaultStrategies() []Strategy {
	return []Strategy{trendlineStrategy{}, movingAverageStrategy{}}
}
