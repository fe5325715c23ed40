package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tricalas/stock-analyzer/internal/signals"
)

func TestOnlyMATrueForSingleMAFamily(t *testing.T) {
	assert.True(t, onlyMA([]signals.Family{signals.FamilyMA}))
}

func TestOnlyMAFalseForMixedOrEmptyOrTrendline(t *testing.T) {
	assert.False(t, onlyMA(nil))
	assert.False(t, onlyMA([]signals.Family{signals.FamilyTrendline}))
	assert.False(t, onlyMA([]signals.Family{signals.FamilyTrendline, signals.FamilyMA}))
}

func TestEnabledStrategiesReturnsAllWhenNoFamiliesGiven(t *testing.T) {
	a := &Analyzer{strategies: signals.DefaultStrategies()}
	assert.Equal(t, a.strategies, a.enabledStrategies(nil))
}

func TestEnabledStrategiesFiltersByFamily(t *testing.T) {
	a := &Analyzer{strategies: signals.DefaultStrategies()}
	out := a.enabledStrategies([]signals.Family{signals.FamilyMA})
	assert.NotEmpty(t, out)
	for _, s := range out {
		assert.Equal(t, signals.FamilyMA, s.Family())
	}
}

func TestCountersAddTracksOutcomes(t *testing.T) {
	c := &Counters{}
	c.add(true, false, 3)
	c.add(true, false, 2)
	c.add(false, false, 0)
	c.add(true, true, 0)

	snap := c.Snapshot()
	assert.Equal(t, 4, snap.Processed)
	assert.Equal(t, 2, snap.Success)
	assert.Equal(t, 1, snap.Failed)
	assert.Equal(t, 1, snap.Skipped)
	assert.Equal(t, 5, snap.Emitted)
}
