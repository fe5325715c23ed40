package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/sirupsen/logrus"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
)

func (r *Runner) insertTask(ctx context.Context, t models.Task) error {
	_, err := data.ExecWithRetry(ctx, r.conn.DB, `
		INSERT INTO tasks (task_id, task_type, status, total_items, current_item,
			current_stock_name, success_count, failed_count, message, error_message, started_at)
		VALUES ($1, $2, $3, $4, 0, '', 0, 0, '', '', $5)`,
		t.ID, t.Type, t.Status, t.TotalItems, t.StartedAt)
	if err != nil {
		return err
	}
	r.cacheTask(ctx, t)
	return nil
}

func (r *Runner) updateProgress(ctx context.Context, taskID string, totalItems, currentItem, success, failed int, currentStockName string) {
	_, err := data.ExecWithRetry(ctx, r.conn.DB, `
		UPDATE tasks SET total_items = $1, current_item = $2, success_count = $3,
			failed_count = $4, current_stock_name = $5
		WHERE task_id = $6`, totalItems, currentItem, success, failed, currentStockName, taskID)
	if err != nil {
		logrus.WithError(err).WithField("task_id", taskID).Warn("failed to persist task progress")
		return
	}
	r.publish(ctx, taskID, "progress")
}

func (r *Runner) finishTask(ctx context.Context, taskID string, status models.TaskStatus, message, errMsg string) error {
	_, err := data.ExecWithRetry(ctx, r.conn.DB, `
		UPDATE tasks SET status = $1, message = $2, error_message = $3, completed_at = now()
		WHERE task_id = $4`, status, message, errMsg, taskID)
	if err != nil {
		return err
	}
	r.publish(ctx, taskID, string(status))
	return nil
}

func (r *Runner) loadTask(ctx context.Context, taskID string) (models.Task, error) {
	if r.conn.Cache != nil {
		if raw, err := r.conn.Cache.Get(ctx, "task:"+taskID).Result(); err == nil && raw != "" {
			var t models.Task
			if json.Unmarshal([]byte(raw), &t) == nil {
				return t, nil
			}
		}
	}

	var t models.Task
	err := data.QueryRowWithRetry(ctx, r.conn.DB, `
		SELECT task_id, task_type, status, total_items, current_item, current_stock_name,
			success_count, failed_count, message, error_message, started_at, completed_at
		FROM tasks WHERE task_id = $1`,
		func(row pgx.Row) error { return row.Scan(&t.ID, &t.Type, &t.Status, &t.TotalItems,
			&t.CurrentItem, &t.CurrentStockName, &t.SuccessCount, &t.FailedCount,
			&t.Message, &t.ErrorMessage, &t.StartedAt, &t.CompletedAt) },
		taskID)
	if err != nil {
		return models.Task{}, fmt.Errorf("tasks: task not found: %s", taskID)
	}
	return t, nil
}

// cacheTask mirrors a Task row into Redis for fast reads; best-effort, the
// database row remains authoritative.
func (r *Runner) cacheTask(ctx context.Context, t models.Task) {
	if r.conn.Cache == nil {
		return
	}
	serialized, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.conn.Cache.Set(ctx, "task:"+t.ID, serialized, time.Hour).Err(); err != nil {
		logrus.WithError(err).Debug("redis task cache write failed")
	}
}

// Reconcile marks any Task row still running past the soft time limit as
// failed. It runs once at process start to clean up after a crash that
// left a row stuck mid-job.
func (r *Runner) Reconcile(ctx context.Context) error {
	cutoff := time.Now().Add(-SoftTimeLimit)
	tag, err := data.ExecWithRetry(ctx, r.conn.DB, `
		UPDATE tasks SET status = $1, error_message = $2, completed_at = now()
		WHERE status = $3 AND started_at < $4`,
		models.TaskFailed, "stale task reconciled at startup", models.TaskRunning, cutoff)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		logrus.WithField("count", tag.RowsAffected()).Warn("reconciled stale running tasks at startup")
	}
	return nil
}
