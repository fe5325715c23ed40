// Package app composes the engine's components into the job-invocation
// entry points the CLI (and, eventually, any scheduler or HTTP layer)
// calls: collect, analyze, ma-analyze, list, status, cancel, restart, and
// retry-failed.
package app

import (
	"context"

	"github.com/tricalas/stock-analyzer/internal/analysis"
	"github.com/tricalas/stock-analyzer/internal/collection"
	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
	"github.com/tricalas/stock-analyzer/internal/signals"
	"github.com/tricalas/stock-analyzer/internal/tasks"
)

// App wires together a Conn and every component built on top of it.
type App struct {
	Conn      *data.Conn
	Engine    *collection.Engine
	Analyzer  *analysis.Analyzer
	Runner    *tasks.Runner
}

// New builds an App from conn and runs the task runner's startup
// reconciliation sweep before returning.
func New(ctx context.Context, conn *data.Conn) (*App, error) {
	if err := data.Migrate(ctx, conn.DB); err != nil {
		return nil, err
	}
	a := &App{
		Conn:     conn,
		Engine:   collection.New(conn),
		Analyzer: analysis.New(conn),
		Runner:   tasks.New(conn),
	}
	if err := a.Runner.Reconcile(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// CollectHistory launches a history-collection job over the given universe
// and returns its task_id.
func (a *App) CollectHistory(ctx context.Context, params collection.Params) (string, error) {
	total := len(params.StockIDs) // best-effort; the driver refines this once the universe is loaded
	return a.Runner.Launch(ctx, models.TaskHistoryCollection, total, func(ctx context.Context, reporter *tasks.Reporter) error {
		params.TaskID = reporter.TaskID()
		_, err := a.Engine.Run(ctx, params, func(snap collection.Counters) {
			reporter.Update(ctx, snap.Total, snap.Processed, snap.Success, snap.Failed, "")
		}, func(ctx context.Context) bool { return reporter.IsCancelled(ctx) })
		return err
	})
}

// AnalyzeSignals launches a trendline-family analysis job and returns its
// task_id.
func (a *App) AnalyzeSignals(ctx context.Context, params analysis.Params) (string, error) {
	params.Families = []signals.Family{signals.FamilyTrendline}
	return a.runAnalysis(ctx, models.TaskSignalAnalysis, params)
}

// AnalyzeMASignals launches a moving-average-family analysis job and
// returns its task_id.
func (a *App) AnalyzeMASignals(ctx context.Context, params analysis.Params) (string, error) {
	params.Families = []signals.Family{signals.FamilyMA}
	return a.runAnalysis(ctx, models.TaskMASignalAnalysis, params)
}

func (a *App) runAnalysis(ctx context.Context, taskType models.TaskType, params analysis.Params) (string, error) {
	total := len(params.StockIDs)
	return a.Runner.Launch(ctx, taskType, total, func(ctx context.Context, reporter *tasks.Reporter) error {
		_, err := a.Analyzer.Run(ctx, params, func(snap analysis.Counters) {
			reporter.Update(ctx, snap.Total, snap.Processed, snap.Success, snap.Failed, "")
		}, func(ctx context.Context) bool { return reporter.IsCancelled(ctx) })
		return err
	})
}

// RetryFailed re-launches collection for exactly the stocks that failed
// under a previous collection task.
func (a *App) RetryFailed(ctx context.Context, taskID string, days int) (string, error) {
	return a.Runner.RetryFailed(ctx, taskID, days, a.Engine)
}

// Restart re-launches a task with default parameters for its type.
func (a *App) Restart(ctx context.Context, taskID string) (string, error) {
	return a.Runner.Restart(ctx, taskID, func(ctx context.Context, taskType models.TaskType) (string, error) {
		switch taskType {
		case models.TaskHistoryCollection:
			return a.CollectHistory(ctx, collection.Params{Universe: collection.UniverseAllActive, Days: 100, MaxWorkers: 5})
		case models.TaskSignalAnalysis:
			return a.AnalyzeSignals(ctx, analysis.Params{MaxWorkers: 5})
		case models.TaskMASignalAnalysis:
			return a.AnalyzeMASignals(ctx, analysis.Params{MaxWorkers: 5})
		default:
			return "", nil
		}
	})
}
