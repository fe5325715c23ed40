// Package freshness decides, per stock, whether a collection run should
// skip it, fetch only the missing tail, or refetch its whole history.
package freshness

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
)

// Mode is the freshness verdict for one stock.
type Mode string

const (
	ModeSkip        Mode = "skip"
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// MinRecords is the row count below which a stock is always treated as
// needing a full refetch, regardless of its last stored date — a handful
// of rows isn't enough history for the signal analyzer's strategies.
const MinRecords = 60

var usEastern *time.Location

func init() {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	usEastern = loc
}

// Verdict is the oracle's decision for a single stock.
type Verdict struct {
	Mode     Mode
	LastDate time.Time // zero when Mode == ModeFull
}

// Evaluate inspects stock's stored history and returns the collection mode
// the engine should use for it.
func Evaluate(ctx context.Context, db *pgxpool.Pool, stock models.Stock) (Verdict, error) {
	if stock.HistoryRecordsCount < MinRecords {
		return Verdict{Mode: ModeFull}, nil
	}

	var lastDate time.Time
	err := data.QueryRowWithRetry(ctx, db,
		`SELECT date FROM price_history WHERE stock_id = $1 ORDER BY date DESC LIMIT 1`,
		func(row pgx.Row) error { return row.Scan(&lastDate) },
		stock.ID,
	)
	if err != nil {
		return Verdict{Mode: ModeFull}, nil
	}
	if lastDate.IsZero() {
		return Verdict{Mode: ModeFull}, nil
	}

	cutoff := LastTradingDay(stock.Market, time.Now())
	lastDateOnly := truncateDate(lastDate)
	if !lastDateOnly.Before(cutoff) {
		return Verdict{Mode: ModeSkip, LastDate: lastDateOnly}, nil
	}
	return Verdict{Mode: ModeIncremental, LastDate: lastDateOnly}, nil
}

// LastTradingDay computes the most recent calendar day the given market's
// exchange was open for trading, as of now.
//
// This canonicalizes the two divergent definitions found across the
// reference implementation's history: unconditional weekend roll-back
// (Saturday/Sunday both resolve to the preceding Friday) for every market,
// plus an additional same-day roll-back for the US market when called
// before 16:30 America/New_York — thirty minutes past the 16:00 close, so
// a session that hasn't finished settling isn't mistaken for a completed
// trading day. The KR market has no such pre-close rollback: its domestic
// feed settles same-day.
func LastTradingDay(market models.Market, now time.Time) time.Time {
	day := now
	if market == models.MarketUS {
		eastern := now.In(usEastern)
		day = eastern
		if eastern.Hour() < 16 || (eastern.Hour() == 16 && eastern.Minute() < 30) {
			day = eastern.AddDate(0, 0, -1)
		}
	}
	day = truncateDate(day)

	switch day.Weekday() {
	case time.Saturday:
		day = day.AddDate(0, 0, -1)
	case time.Sunday:
		day = day.AddDate(0, 0, -2)
	}
	return day
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
