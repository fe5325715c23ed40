package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tricalas/stock-analyzer/internal/models"
)

// fakeTaskRow adapts a fixed models.Task to the pgx.Row interface scanTask
// expects, without needing a live database.
type fakeTaskRow struct {
	task models.Task
}

func (f fakeTaskRow) Scan(dest ...interface{}) error {
	*(dest[0].(*string)) = f.task.ID
	*(dest[1].(*models.TaskType)) = f.task.Type
	*(dest[2].(*models.TaskStatus)) = f.task.Status
	*(dest[3].(*int)) = f.task.TotalItems
	*(dest[4].(*int)) = f.task.CurrentItem
	*(dest[5].(*string)) = f.task.CurrentStockName
	*(dest[6].(*int)) = f.task.SuccessCount
	*(dest[7].(*int)) = f.task.FailedCount
	*(dest[8].(*string)) = f.task.Message
	*(dest[9].(*string)) = f.task.ErrorMessage
	*(dest[10].(*time.Time)) = f.task.StartedAt
	*(dest[11].(**time.Time)) = f.task.CompletedAt
	return nil
}

func TestScanTask(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := models.Task{
		ID: "abc-123", Type: models.TaskHistoryCollection, Status: models.TaskRunning,
		TotalItems: 10, CurrentItem: 3, CurrentStockName: "AAPL",
		SuccessCount: 2, FailedCount: 1, Message: "in progress", ErrorMessage: "",
		StartedAt: started,
	}
	got, err := scanTask(fakeTaskRow{task: want})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSoftTimeLimitDefault(t *testing.T) {
	assert.Equal(t, 59*time.Minute, SoftTimeLimit)
}
