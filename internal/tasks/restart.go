package tasks

import (
	"context"
	"fmt"

	"github.com/tricalas/stock-analyzer/internal/collection"
	"github.com/tricalas/stock-analyzer/internal/models"
)

// Restart re-launches taskID's job with default parameters for its
// task_type and returns the new task's id.
func (r *Runner) Restart(ctx context.Context, taskID string, launch func(context.Context, models.TaskType) (string, error)) (string, error) {
	original, err := r.Get(ctx, taskID)
	if err != nil {
		return "", err
	}
	return launch(ctx, original.Type)
}

// RetryFailed reads the CollectionLog rows marked failed under taskID and
// launches a new collection run scoped to exactly that stock set.
func (r *Runner) RetryFailed(ctx context.Context, taskID string, days int, engine *collection.Engine) (string, error) {
	rows, err := r.conn.DB.Query(ctx,
		`SELECT DISTINCT stock_id FROM collection_logs WHERE task_id = $1 AND status = $2`,
		taskID, models.CollectionLogFailed)
	if err != nil {
		return "", fmt.Errorf("tasks: loading failed stock ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("tasks: no failed stocks recorded for task %s", taskID)
	}

	params := collection.Params{StockIDs: ids, Days: days, MaxWorkers: 5}
	return r.Launch(ctx, models.TaskHistoryCollection, len(ids), func(ctx context.Context, reporter *Reporter) error {
		params.TaskID = reporter.TaskID()
		_, err := engine.Run(ctx, params, func(snap collection.Counters) {
			reporter.Update(ctx, snap.Total, snap.Processed, snap.Success, snap.Failed, "")
		}, func(ctx context.Context) bool { return reporter.IsCancelled(ctx) })
		return err
	})
}
