// Package analysis implements the Signal Analyzer: it loads each selected
// stock's stored price history, runs the configured strategy set over it,
// and writes the resulting buy/sell/pullback/approaching signals.
package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/series"
	"github.com/tricalas/stock-analyzer/internal/signals"
)

// MinRecordsTrendline and MinRecordsMA gate which stocks are eligible for
// each strategy family: the trendline family needs enough bars to find
// three lower-highs, the MA family needs a full 200-day SMA.
const (
	MinRecordsTrendline = 60
	MinRecordsMA        = 200
)

// Params configures a single analysis run.
type Params struct {
	Families   []signals.Family // nil means run every registered strategy
	ForceFull  bool             // bypass the delta filter
	Days       int              // history window to load, default 120
	MaxWorkers int
	StockIDs   []int64
}

// Counters mirrors collection.Counters for the analysis pass.
type Counters struct {
	mu        sync.Mutex
	Total     int // size of the universe, set once before dispatch begins
	Processed int
	Success   int
	Failed    int
	Skipped   int
	Emitted   int
}

func (c *Counters) add(success, skipped bool, emitted int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Processed++
	switch {
	case skipped:
		c.Skipped++
	case success:
		c.Success++
		c.Emitted += emitted
	default:
		c.Failed++
	}
}

func (c *Counters) setTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Total = total
}

func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{Total: c.Total, Processed: c.Processed, Success: c.Success, Failed: c.Failed, Skipped: c.Skipped, Emitted: c.Emitted}
}

type ProgressFn func(Counters)

// StatusPoller reports whether the owning task has been cancelled; mirrors
// collection.StatusPoller so the task runner can supply the same closure to
// both engines without either importing the tasks package directly.
type StatusPoller func(ctx context.Context) (cancelled bool)

// Analyzer runs the configured strategies against stored history.
type Analyzer struct {
	conn       *data.Conn
	strategies []signals.Strategy
	tracer     trace.Tracer
}

// New builds a Signal Analyzer with the default strategy set.
func New(conn *data.Conn) *Analyzer {
	return &Analyzer{conn: conn, strategies: signals.DefaultStrategies(), tracer: otel.Tracer("signal-analyzer")}
}

// Run executes a single analysis pass over the selected universe, invoking
// progress at the start, every 10 completions and at the end, and
// isCancelled before each stock is dispatched, so the caller's task-runner
// layer can reflect progress and honor cancellation.
func (a *Analyzer) Run(ctx context.Context, params Params, progress ProgressFn, isCancelled StatusPoller) (Counters, error) {
	stocks, err := a.loadUniverse(ctx, params)
	if err != nil {
		return Counters{}, fmt.Errorf("analysis: loading universe: %w", err)
	}

	maxWorkers := params.MaxWorkers
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if maxWorkers > 20 {
		maxWorkers = 20
	}

	counters := &Counters{}
	counters.setTotal(len(stocks))
	if progress != nil {
		progress(counters.Snapshot())
	}

	sem := semaphore.NewWeighted(int64(maxWorkers))
	var wg sync.WaitGroup

	days := params.Days
	if days <= 0 {
		days = 120
	}

	for _, stock := range stocks {
		if isCancelled != nil && isCancelled(ctx) {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(stock models.Stock) {
			defer wg.Done()
			defer sem.Release(1)
			a.processOne(ctx, stock, params, days, counters)

			snap := counters.Snapshot()
			if snap.Processed%10 == 0 && progress != nil {
				progress(snap)
			}
		}(stock)
	}
	wg.Wait()

	if progress != nil {
		progress(counters.Snapshot())
	}
	return counters.Snapshot(), nil
}

func (a *Analyzer) loadUniverse(ctx context.Context, params Params) ([]models.Stock, error) {
	minRecords := MinRecordsTrendline
	if onlyMA(params.Families) {
		minRecords = MinRecordsMA
	}

	query := `SELECT id, symbol, market, exchange, market_cap, current_price,
		ma90_price, history_records_count, history_updated_at, signal_analyzed_at, is_active
		FROM stocks WHERE is_active = true AND history_records_count >= $1`
	args := []interface{}{minRecords}

	if len(params.StockIDs) > 0 {
		query = `SELECT id, symbol, market, exchange, market_cap, current_price,
			ma90_price, history_records_count, history_updated_at, signal_analyzed_at, is_active
			FROM stocks WHERE id = ANY($1)`
		rows, err := a.conn.DB.Query(ctx, query, params.StockIDs)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return scanStocks(rows)
	}

	if !params.ForceFull {
		query += ` AND (signal_analyzed_at IS NULL OR history_updated_at > signal_analyzed_at)`
	}

	rows, err := a.conn.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

func onlyMA(families []signals.Family) bool {
	if len(families) != 1 {
		return false
	}
	return families[0] == signals.FamilyMA
}

func scanStocks(rows pgx.Rows) ([]models.Stock, error) {
	var out []models.Stock
	for rows.Next() {
		var s models.Stock
		if err := rows.Scan(&s.ID, &s.Symbol, &s.Market, &s.Exchange, &s.MarketCap,
			&s.CurrentPrice, &s.MA90Price, &s.HistoryRecordsCount, &s.HistoryUpdatedAt,
			&s.SignalAnalyzedAt, &s.IsActive); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (a *Analyzer) processOne(ctx context.Context, stock models.Stock, params Params, days int, counters *Counters) {
	ctx, span := a.tracer.Start(ctx, "analyze_stock", trace.WithAttributes(
		attribute.String("stock.symbol", stock.Symbol),
	))
	defer span.End()

	logEntry := logrus.WithFields(logrus.Fields{"stock_symbol": stock.Symbol})

	s, err := a.loadSeries(ctx, stock.ID, days)
	if err != nil {
		span.RecordError(err)
		logEntry.WithError(err).Error("failed to load price series")
		counters.add(false, false, 0)
		return
	}
	if len(s) == 0 {
		counters.add(true, true, 0)
		return
	}

	existing, err := a.loadApproachingSignals(ctx, stock.ID)
	if err != nil {
		logEntry.WithError(err).Warn("failed to load existing approaching signals")
	} else {
		dateIndex := make(map[time.Time]int, len(s))
		for i, bar := range s {
			dateIndex[bar.Date] = i
		}
		updates := signals.ConfirmApproaching(s, dateIndex, existing)
		for id, details := range updates {
			if err := a.updateSignalDetails(ctx, id, details); err != nil {
				logEntry.WithError(err).Warn("failed to persist approaching-signal confirmation")
			}
		}
	}

	emitted := 0
	for _, strat := range a.enabledStrategies(params.Families) {
		emissions := strat.Analyze(s)
		if strat.Family() == signals.FamilyTrendline {
			deleteSet, upsertSet := partitionTrendlineEmissions(emissions)
			if err := a.replaceTrendlineSignals(ctx, stock, deleteSet); err != nil {
				logEntry.WithError(err).Error("failed to write trendline signals")
				continue
			}
			if err := a.upsertSignals(ctx, stock, upsertSet); err != nil {
				logEntry.WithError(err).Error("failed to write approaching-breakout signals")
				continue
			}
		} else {
			if err := a.upsertSignals(ctx, stock, emissions); err != nil {
				logEntry.WithError(err).Error("failed to write MA signals")
				continue
			}
		}
		emitted += len(emissions)
	}

	if _, err := data.ExecWithRetry(ctx, a.conn.DB,
		`UPDATE stocks SET signal_analyzed_at = now() WHERE id = $1`, stock.ID); err != nil {
		logEntry.WithError(err).Warn("failed to stamp signal_analyzed_at")
	}

	counters.add(true, false, emitted)
}

// partitionTrendlineEmissions splits a trendline-family Analyze() result
// into the subset that is safe to delete-then-reinsert
// (models.TrendlineDeleteSet) and the approaching_breakout subset, which
// must be upserted so a confirmation written by ConfirmApproaching is never
// clobbered by the next pass's delete.
func partitionTrendlineEmissions(emissions []signals.Emission) (deleteSet, upsertSet []signals.Emission) {
	for _, e := range emissions {
		if e.StrategyName == models.StrategyApproachingBreakout {
			upsertSet = append(upsertSet, e)
		} else {
			deleteSet = append(deleteSet, e)
		}
	}
	return deleteSet, upsertSet
}

func (a *Analyzer) enabledStrategies(families []signals.Family) []signals.Strategy {
	if len(families) == 0 {
		return a.strategies
	}
	wanted := make(map[signals.Family]bool, len(families))
	for _, f := range families {
		wanted[f] = true
	}
	var out []signals.Strategy
	for _, s := range a.strategies {
		if wanted[s.Family()] {
			out = append(out, s)
		}
	}
	return out
}

func (a *Analyzer) loadSeries(ctx context.Context, stockID int64, days int) (series.Series, error) {
	rows, err := a.conn.DB.Query(ctx, `
		SELECT date, open, high, low, close, volume FROM price_history
		WHERE stock_id = $1 ORDER BY date DESC LIMIT $2`, stockID, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bars series.Series
	for rows.Next() {
		var b series.Bar
		var volume int64
		if err := rows.Scan(&b.Date, &b.Open, &b.High, &b.Low, &b.Close, &volume); err != nil {
			return nil, err
		}
		b.Volume = volume
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to ascending order since the query fetched newest-first.
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

func (a *Analyzer) loadApproachingSignals(ctx context.Context, stockID int64) ([]models.Signal, error) {
	rows, err := a.conn.DB.Query(ctx, `
		SELECT id, signal_date, strategy_name, details FROM signals
		WHERE stock_id = $1 AND strategy_name = $2 AND signal_date >= now() - interval '10 days'`,
		stockID, models.StrategyApproachingBreakout)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		var detailsJSON []byte
		if err := rows.Scan(&sig.ID, &sig.SignalDate, &sig.StrategyName, &detailsJSON); err != nil {
			return nil, err
		}
		sig.Details = decodeDetails(detailsJSON)
		out = append(out, sig)
	}
	return out, rows.Err()
}
