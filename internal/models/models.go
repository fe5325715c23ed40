// Package models defines the persistent types shared across the collection
// engine, the signal analyzer, and the task runner.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies which upstream exchange family a stock trades on.
type Market string

const (
	MarketKR Market = "KR"
	MarketUS Market = "US"
)

// Stock is the root aggregate: it owns its price history, its signals, and
// its collection log rows.
type Stock struct {
	ID                  int64
	Symbol              string
	Market              Market
	Exchange            string
	MarketCap           decimal.NullDecimal
	CurrentPrice        decimal.NullDecimal
	MA90Price           decimal.NullDecimal
	HistoryRecordsCount int
	HistoryUpdatedAt    *time.Time
	SignalAnalyzedAt    *time.Time
	IsActive            bool
}

// PriceHistory is one OHLCV bar for a stock on a given date.
type PriceHistory struct {
	StockID int64
	Date    time.Time
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  int64
}

// SignalType classifies the directional meaning of a Signal row.
type SignalType string

const (
	SignalBuy         SignalType = "buy"
	SignalSell        SignalType = "sell"
	SignalPullback    SignalType = "pullback"
	SignalApproaching SignalType = "approaching"
	SignalHold        SignalType = "hold"
)

// Strategy names, one per emitting strategy. Kept as a closed set of
// constants rather than a free string so a typo doesn't silently create a
// new, orphaned strategy bucket.
const (
	StrategyDescendingTrendlineBreakout = "descending_trendline_breakout"
	StrategyApproachingBreakout         = "approaching_breakout"
	StrategyPullbackBuy                 = "pullback_buy"
	StrategyGoldenCross                 = "golden_cross"
	StrategyDeathCross                  = "death_cross"
	StrategyMASupport                   = "ma_support"
	StrategyMAResistance                = "ma_resistance"
	StrategyMABreakoutUp                = "ma_breakout_up"
	StrategyMABreakoutDown              = "ma_breakout_down"
	StrategyMABullishAlignment          = "ma_bullish_alignment"
	StrategyMABearishAlignment          = "ma_bearish_alignment"
)

// TrendlineDeleteSet lists the trendline-family strategy names whose signal
// set is fully re-derivable from the current series and is therefore safe
// to delete-then-reinsert on every analysis pass. StrategyApproachingBreakout
// is deliberately excluded: its rows carry a breakout_confirmed flag set by
// a later pass once the trendline is actually broken, and a blind
// delete-then-reinsert would wipe that confirmation the moment it is set,
// since a confirmed approaching row is no longer re-emitted as "approaching"
// on the pass that confirmed it. It is upserted instead, alongside the MA
// family.
var TrendlineDeleteSet = []string{
	StrategyDescendingTrendlineBreakout,
	StrategyPullbackBuy,
}

// Signal is a materialized strategy outcome for a stock on a given date.
type Signal struct {
	ID            int64
	StockID       int64
	SignalDate    time.Time
	StrategyName  string
	SignalType    SignalType
	SignalPrice   decimal.Decimal
	CurrentPrice  decimal.NullDecimal
	ReturnPercent decimal.NullDecimal
	Details       map[string]any
	IsActive      bool
	AnalyzedAt    time.Time
	UpdatedAt     time.Time
}

// TaskType distinguishes the three job kinds the runner dispatches.
type TaskType string

const (
	TaskHistoryCollection TaskType = "history_collection"
	TaskSignalAnalysis    TaskType = "signal_analysis"
	TaskMASignalAnalysis  TaskType = "ma_signal_analysis"
)

// TaskStatus is the lifecycle state of a Task row. There is no "queued"
// state: a launched task is running the moment its row is created, since
// dispatch onto the worker pool is synchronous with task creation.
type TaskStatus string

const (
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task tracks a single long-running job's progress and outcome.
type Task struct {
	ID                string
	Type              TaskType
	Status            TaskStatus
	TotalItems        int
	CurrentItem       int
	CurrentStockName  string
	SuccessCount      int
	FailedCount       int
	Message           string
	ErrorMessage      string
	StartedAt         time.Time
	CompletedAt       *time.Time
}

// CollectionLogStatus is the per-stock outcome of one collection attempt.
type CollectionLogStatus string

const (
	CollectionLogRunning CollectionLogStatus = "running"
	CollectionLogSuccess CollectionLogStatus = "success"
	CollectionLogFailed  CollectionLogStatus = "failed"
)

// CollectionLog is one stock's outcome within a single collection Task.
type CollectionLog struct {
	ID            int64
	TaskID        string
	StockID       int64
	StockSymbol   string
	StockName     string
	Status        CollectionLogStatus
	RecordsSaved  int
	ErrorMessage  string
	StartedAt     time.Time
	CompletedAt   *time.Time
}
