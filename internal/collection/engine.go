// Package collection implements the bounded-parallel driver that keeps
// stock price histories up to date: for each stock in the selected
// universe it consults the freshness oracle, calls the broker client for
// whatever date range is missing, and persists the result.
package collection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/freshness"
	"github.com/tricalas/stock-analyzer/internal/kis"
	"github.com/tricalas/stock-analyzer/internal/models"
)

// Universe selects which stocks a collection run should touch.
type Universe string

const (
	UniverseAllActive    Universe = "all_active"
	UniverseTaggedOnly   Universe = "tagged_only"
	UniverseTopByMarket  Universe = "top_N_by_market_cap"
)

// Params configures a single collection run.
type Params struct {
	Universe   Universe
	Limit      int // only consulted for UniverseTopByMarket
	Days       int
	MaxWorkers int
	StockIDs   []int64 // when non-empty, overrides Universe (used by retry_failed)
	TaskID     string  // the owning Task row's id, stamped onto each collection_logs row
}

// Counters is the shared, mutex-guarded progress state a collection run
// accumulates; the task runner reads a snapshot of it to refresh its Task
// row's progress fields.
type Counters struct {
	mu          sync.Mutex
	Total       int // size of the universe, set once before dispatch begins
	Processed   int
	Success     int
	Failed      int
	Skipped     int
	Incremental int
	Full        int
	Records     int
}

func (c *Counters) setTotal(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Total = total
}

func (c *Counters) add(success, skipped bool, incremental bool, records int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Processed++
	if skipped {
		c.Skipped++
		c.Success++
	} else if success {
		c.Success++
		if incremental {
			c.Incremental++
		} else {
			c.Full++
		}
		c.Records += records
	} else {
		c.Failed++
	}
}

// Snapshot returns a copy of the counters for safe reading from another
// goroutine.
func (c *Counters) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Counters{
		Total: c.Total, Processed: c.Processed, Success: c.Success, Failed: c.Failed,
		Skipped: c.Skipped, Incremental: c.Incremental, Full: c.Full, Records: c.Records,
	}
}

// StatusPoller reports whether the owning task has been cancelled; the
// task runner supplies this so the engine never imports the tasks package
// directly (avoiding an import cycle between the two).
type StatusPoller func(ctx context.Context) (cancelled bool)

// ProgressFn is invoked periodically with a Counters snapshot so the
// caller can refresh a Task row's progress fields.
type ProgressFn func(snapshot Counters)

// Engine runs collection passes against the broker client and database.
type Engine struct {
	conn   *data.Conn
	broker *kis.Client
	tracer trace.Tracer
	rowLog *zap.SugaredLogger
}

// New builds a Collection Engine bound to conn's database and a broker
// client constructed from conn's credentials.
func New(conn *data.Conn) *Engine {
	rowLogger, err := zap.NewProduction()
	if err != nil {
		rowLogger = zap.NewNop()
	}
	return &Engine{
		conn:   conn,
		broker: kis.NewClient(conn),
		tracer: otel.Tracer("collection-engine"),
		rowLog: rowLogger.Sugar(),
	}
}

// Run executes a single collection pass, invoking progress at the start,
// every 10 completions and at the end, and isCancelled before each stock is
// dispatched, so the caller's task-runner layer can reflect progress and
// honor cancellation.
func (e *Engine) Run(ctx context.Context, params Params, progress ProgressFn, isCancelled StatusPoller) (Counters, error) {
	stocks, err := e.loadUniverse(ctx, params)
	if err != nil {
		return Counters{}, fmt.Errorf("collection: loading universe: %w", err)
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
			e.processOne(ctx, stock, params, counters)

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

func (e *Engine) loadUniverse(ctx context.Context, params Params) ([]models.Stock, error) {
	if len(params.StockIDs) > 0 {
		return e.loadByIDs(ctx, params.StockIDs)
	}

	query := `SELECT id, symbol, market, exchange, market_cap, current_price,
		ma90_price, history_records_count, history_updated_at, signal_analyzed_at, is_active
		FROM stocks WHERE is_active = true`
	switch params.Universe {
	case UniverseTaggedOnly:
		query += ` AND id IN (SELECT stock_id FROM stock_tag_assignments)`
	case UniverseTopByMarket:
		query += ` ORDER BY market_cap DESC NULLS LAST`
		if params.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d", params.Limit)
		}
	}

	rows, err := e.conn.DB.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
}

func (e *Engine) loadByIDs(ctx context.Context, ids []int64) ([]models.Stock, error) {
	rows, err := e.conn.DB.Query(ctx, `SELECT id, symbol, market, exchange, market_cap, current_price,
		ma90_price, history_records_count, history_updated_at, signal_analyzed_at, is_active
		FROM stocks WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStocks(rows)
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

func (e *Engine) processOne(ctx context.Context, stock models.Stock, params Params, counters *Counters) {
	ctx, span := e.tracer.Start(ctx, "collect_stock", trace.WithAttributes(
		attribute.String("stock.symbol", stock.Symbol),
		attribute.String("stock.market", string(stock.Market)),
	))
	defer span.End()

	logEntry := logrus.WithFields(logrus.Fields{"stock_symbol": stock.Symbol, "market": stock.Market})

	verdict, err := freshness.Evaluate(ctx, e.conn.DB, stock)
	if err != nil {
		logEntry.WithError(err).Error("freshness evaluation failed")
		counters.add(false, false, false, 0)
		return
	}
	if verdict.Mode == freshness.ModeSkip {
		counters.add(true, true, false, 0)
		return
	}

	logID, err := e.insertCollectionLog(ctx, params.TaskID, stock)
	if err != nil {
		logEntry.WithError(err).Error("failed to create collection log row")
	}

	days := params.Days
	if days <= 0 {
		days = 100
	}
	now := time.Now()
	start := now.AddDate(0, 0, -days)
	if verdict.Mode == freshness.ModeIncremental && !verdict.LastDate.IsZero() {
		start = verdict.LastDate.AddDate(0, 0, 1)
	}

	bars, err := e.fetchBars(ctx, stock, start, now)
	if err != nil {
		span.RecordError(err)
		logEntry.WithError(err).Warn("broker fetch failed")
		e.finishCollectionLog(ctx, logID, models.CollectionLogFailed, 0, err.Error())
		counters.add(false, false, false, 0)
		return
	}

	saved, err := e.persistBars(ctx, stock, bars)
	if err != nil {
		span.RecordError(err)
		logEntry.WithError(err).Error("persisting bars failed")
		e.finishCollectionLog(ctx, logID, models.CollectionLogFailed, saved, err.Error())
		counters.add(false, false, false, 0)
		return
	}

	if err := e.refreshStockDerived(ctx, stock.ID); err != nil {
		logEntry.WithError(err).Warn("failed to refresh derived stock fields")
	}

	e.finishCollectionLog(ctx, logID, models.CollectionLogSuccess, saved, "")
	counters.add(true, false, verdict.Mode == freshness.ModeIncremental, saved)
}

func (e *Engine) fetchBars(ctx context.Context, stock models.Stock, start, end time.Time) ([]kis.Bar, error) {
	startStr := start.Format("20060102")
	endStr := end.Format("20060102")

	if stock.Market == models.MarketKR {
		return e.broker.GetKROHLCV(ctx, stock.Symbol, startStr, endStr, 'D')
	}
	return e.broker.GetUSOHLCV(ctx, stock.Symbol, kis.ExchangeCode(stock.Exchange), 'D')
}

func (e *Engine) persistBars(ctx context.Context, stock models.Stock, bars []kis.Bar) (int, error) {
	saved := 0
	for i := len(bars) - 1; i >= 0; i-- { // broker returns newest-first; persist ascending
		bar := bars[i]
		date, err := time.Parse("20060102", bar.Date)
		if err != nil {
			e.rowLog.Debugw("dropping row with unparseable date", "stock_id", stock.ID, "raw_date", bar.Date)
			continue
		}
		open, err1 := decimal.NewFromString(bar.Open)
		high, err2 := decimal.NewFromString(bar.High)
		low, err3 := decimal.NewFromString(bar.Low)
		closePrice, err4 := decimal.NewFromString(bar.Close)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			e.rowLog.Debugw("dropping row with unparseable price field", "stock_id", stock.ID, "date", bar.Date)
			continue
		}
		if !validOHLC(open, high, low, closePrice) {
			e.rowLog.Debugw("dropping row failing OHLC invariant", "stock_id", stock.ID, "date", bar.Date)
			continue
		}

		volume := parseVolume(bar.Volume)
		_, err = data.ExecWithRetry(ctx, e.conn.DB, `
			INSERT INTO price_history (stock_id, date, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (stock_id, date) DO UPDATE
			SET open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
			    close = EXCLUDED.close, volume = EXCLUDED.volume`,
			stock.ID, date, open, high, low, closePrice, volume)
		if err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}

func validOHLC(open, high, low, close decimal.Decimal) bool {
	if low.IsNegative() || high.IsNegative() || open.IsNegative() || close.IsNegative() {
		return false
	}
	maxOC := decimal.Max(open, close)
	minOC := decimal.Min(open, close)
	if low.GreaterThan(minOC) || maxOC.GreaterThan(high) {
		return false
	}
	if low.IsZero() {
		return true
	}
	rangeRatio := high.Sub(low).Div(low)
	return rangeRatio.LessThan(decimal.NewFromInt(10))
}

func parseVolume(s string) int64 {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return v.IntPart()
}

func (e *Engine) refreshStockDerived(ctx context.Context, stockID int64) error {
	var count int
	err := data.QueryRowWithRetry(ctx, e.conn.DB,
		`SELECT COUNT(*) FROM price_history WHERE stock_id = $1`,
		func(row pgx.Row) error { return row.Scan(&count) }, stockID)
	if err != nil {
		return err
	}

	var ma90 decimal.NullDecimal
	if count >= freshness.MinRecords {
		limit := 90
		if count < limit {
			limit = count
		}
		if err := data.QueryRowWithRetry(ctx, e.conn.DB, `
			SELECT AVG(close) FROM (
				SELECT close FROM price_history WHERE stock_id = $1 ORDER BY date DESC LIMIT $2
			) recent`, func(row pgx.Row) error { return row.Scan(&ma90) }, stockID, limit); err != nil {
			return err
		}
	}

	_, err = data.ExecWithRetry(ctx, e.conn.DB, `
		UPDATE stocks SET history_records_count = $1, ma90_price = $2, history_updated_at = now()
		WHERE id = $3`, count, ma90, stockID)
	return err
}

func (e *Engine) insertCollectionLog(ctx context.Context, taskID string, stock models.Stock) (int64, error) {
	var id int64
	var taskIDArg interface{}
	if taskID != "" {
		taskIDArg = taskID
	}
	err := data.QueryRowWithRetry(ctx, e.conn.DB, `
		INSERT INTO collection_logs (task_id, stock_id, stock_symbol, status, started_at)
		VALUES ($1, $2, $3, 'running', now()) RETURNING id`,
		func(row pgx.Row) error { return row.Scan(&id) }, taskIDArg, stock.ID, stock.Symbol)
	return id, err
}

func (e *Engine) finishCollectionLog(ctx context.Context, id int64, status models.CollectionLogStatus, records int, errMsg string) {
	if id == 0 {
		return
	}
	_, err := data.ExecWithRetry(ctx, e.conn.DB, `
		UPDATE collection_logs SET status = $1, records_saved = $2, error_message = $3, completed_at = now()
		WHERE id = $4`, status, records, errMsg, id)
	if err != nil {
		logrus.WithError(err).Warn("failed to finalize collection log row")
	}
}
