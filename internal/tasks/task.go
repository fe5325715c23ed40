// Package tasks is the Task Runner: the generic substrate the collection
// engine and signal analyzer submit long-running jobs to. It owns Task
// persistence, progress broadcast, and the cancel/restart/retry protocol.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/sirupsen/logrus"

	"github.com/tricalas/stock-analyzer/internal/data"
	"github.com/tricalas/stock-analyzer/internal/models"
)

// SoftTimeLimit bounds how long a single job may run before the runner
// cancels its context out from under it, overridable via
// TASK_SOFT_TIME_LIMIT_SECONDS (in seconds) for tests.
var SoftTimeLimit = loadSoftTimeLimit()

func loadSoftTimeLimit() time.Duration {
	const defaultLimit = 59 * time.Minute
	raw := os.Getenv("TASK_SOFT_TIME_LIMIT_SECONDS")
	if raw == "" {
		return defaultLimit
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return defaultLimit
	}
	return time.Duration(seconds) * time.Second
}

// Driver is the function signature a job registers with the runner. It
// receives a context that is cancelled when the Task is cancelled or hits
// its soft time limit, and a Reporter to publish progress.
type Driver func(ctx context.Context, reporter *Reporter) error

// Runner dispatches jobs onto goroutines, persists their Task rows, and
// answers get/list_running/cancel/restart/retry_failed queries.
type Runner struct {
	conn *data.Conn

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds a Task Runner bound to conn's database (authoritative) and
// Redis cache (progress overlay, optional).
func New(conn *data.Conn) *Runner {
	return &Runner{
		conn:    conn,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Reporter lets a running driver push progress updates back through the
// runner without holding a reference to the Runner's internals.
type Reporter struct {
	runner *Runner
	taskID string
}

// Update refreshes the Task row's progress fields.
func (r *Reporter) Update(ctx context.Context, totalItems, currentItem, success, failed int, currentStockName string) {
	r.runner.updateProgress(ctx, r.taskID, totalItems, currentItem, success, failed, currentStockName)
}

// TaskID returns the id of the Task row this reporter is bound to, so a
// driver can stamp it onto rows it writes as it works (e.g. collection_logs).
func (r *Reporter) TaskID() string {
	return r.taskID
}

// IsCancelled reports whether the task has been asked to stop. Drivers
// should poll this at least once per ten units of work and at every
// upstream-call boundary.
func (r *Reporter) IsCancelled(ctx context.Context) bool {
	status, err := r.runner.taskStatus(ctx, r.taskID)
	if err != nil {
		return false
	}
	return status == models.TaskCancelled
}

// Launch creates a Task row, registers its cancel function, and runs
// driver on its own goroutine. It returns immediately with the new
// task_id.
func (r *Runner) Launch(ctx context.Context, taskType models.TaskType, totalItems int, driver Driver) (string, error) {
	taskID := uuid.New().String()
	now := time.Now()

	if err := r.insertTask(ctx, models.Task{
		ID: taskID, Type: taskType, Status: models.TaskRunning,
		TotalItems: totalItems, StartedAt: now,
	}); err != nil {
		return "", fmt.Errorf("tasks: creating task row: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.Background(), SoftTimeLimit)
	r.mu.Lock()
	r.cancels[taskID] = cancel
	r.mu.Unlock()

	go func() {
		defer cancel()
		reporter := &Reporter{runner: r, taskID: taskID}

		err := driver(runCtx, reporter)

		r.mu.Lock()
		delete(r.cancels, taskID)
		r.mu.Unlock()

		status := models.TaskCompleted
		message := "completed successfully"
		errMsg := ""

		switch {
		case runCtx.Err() == context.DeadlineExceeded:
			status = models.TaskFailed
			message = "aborted: exceeded soft time limit"
			errMsg = message
		default:
			current, statusErr := r.taskStatus(context.Background(), taskID)
			if statusErr == nil && current == models.TaskCancelled {
				status = models.TaskCancelled
				message = "cancelled by request"
			} else if err != nil {
				status = models.TaskFailed
				message = err.Error()
				errMsg = err.Error()
			}
		}

		if finishErr := r.finishTask(context.Background(), taskID, status, message, errMsg); finishErr != nil {
			logrus.WithError(finishErr).WithField("task_id", taskID).Error("failed to finalize task row")
		}
	}()

	return taskID, nil
}

// Cancel transitions the Task row to cancelled and cancels its context so
// the driver observes the stop request on its next poll.
func (r *Runner) Cancel(ctx context.Context, taskID string) error {
	_, err := data.ExecWithRetry(ctx, r.conn.DB,
		`UPDATE tasks SET status = $1 WHERE task_id = $2 AND status = $3`,
		models.TaskCancelled, taskID, models.TaskRunning)
	if err != nil {
		return err
	}

	r.mu.Lock()
	cancel, ok := r.cancels[taskID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	r.publish(ctx, taskID, "cancelled")
	return nil
}

// Get loads a single Task row.
func (r *Runner) Get(ctx context.Context, taskID string) (models.Task, error) {
	return r.loadTask(ctx, taskID)
}

// ListRunning returns every Task row currently in the running state.
func (r *Runner) ListRunning(ctx context.Context) ([]models.Task, error) {
	rows, err := r.conn.DB.Query(ctx, `
		SELECT task_id, task_type, status, total_items, current_item, current_stock_name,
			success_count, failed_count, message, error_message, started_at, completed_at
		FROM tasks WHERE status = $1`, models.TaskRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.Type, &t.Status, &t.TotalItems, &t.CurrentItem, &t.CurrentStockName,
		&t.SuccessCount, &t.FailedCount, &t.Message, &t.ErrorMessage, &t.StartedAt, &t.CompletedAt)
	return t, err
}

func (r *Runner) taskStatus(ctx context.Context, taskID string) (models.TaskStatus, error) {
	var status models.TaskStatus
	err := data.QueryRowWithRetry(ctx, r.conn.DB,
		`SELECT status FROM tasks WHERE task_id = $1`,
		func(row pgx.Row) error { return row.Scan(&status) }, taskID)
	return status, err
}

func (r *Runner) publish(ctx context.Context, taskID, event string) {
	if r.conn.Cache == nil {
		return
	}
	// Drop the cached copy so the next read sees the mutated row.
	r.conn.Cache.Del(ctx, "task:"+taskID)
	payload, _ := json.Marshal(map[string]string{"task_id": taskID, "event": event})
	if err := r.conn.Cache.Publish(ctx, "task_status:"+taskID, payload).Err(); err != nil {
		logrus.WithError(err).Debug("redis publish failed, progress overlay degraded")
	}
}
