package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tricalas/stock-analyzer/internal/models"
)

func mustParse(t *testing.T, layout, value string) time.Time {
	t.Helper()
	tm, err := time.Parse(layout, value)
	assert.NoError(t, err)
	return tm
}

func TestLastTradingDayWeekendRollback(t *testing.T) {
	saturday := mustParse(t, "2006-01-02 15:04", "2026-02-07 10:00") // a Saturday
	assert.Equal(t, time.Saturday, saturday.Weekday())

	got := LastTradingDay(models.MarketKR, saturday)
	assert.Equal(t, time.Friday, got.Weekday())
	assert.Equal(t, "2026-02-06", got.Format("2006-01-02"))
}

func TestLastTradingDaySundayRollsBackToFriday(t *testing.T) {
	sunday := mustParse(t, "2006-01-02 15:04", "2026-02-08 10:00")
	got := LastTradingDay(models.MarketKR, sunday)
	assert.Equal(t, "2026-02-06", got.Format("2006-01-02"))
}

func TestLastTradingDayUSBeforeCloseRollsBackOneDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)

	// A Wednesday at 10:00 ET — market is open, not yet settled.
	midday := time.Date(2026, 2, 4, 10, 0, 0, 0, loc)
	got := LastTradingDay(models.MarketUS, midday)
	assert.Equal(t, "2026-02-03", got.Format("2006-01-02"))
}

func TestLastTradingDayUSAfterCloseKeepsSameDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)

	afterClose := time.Date(2026, 2, 4, 17, 0, 0, 0, loc)
	got := LastTradingDay(models.MarketUS, afterClose)
	assert.Equal(t, "2026-02-04", got.Format("2006-01-02"))
}
