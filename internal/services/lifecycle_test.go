package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sicet-backend-go/internal/models"
)

type recordingAlerts struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingAlerts) Notify(_ context.Context, alertIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, alertIDs...)
}

var taskCols = []string{"id", "todolist_id", "kpi_id", "status", "value", "alert_checked", "created_by", "completed_by", "created_at", "updated_at", "completed_at"}

func TestDeriveTodolistStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"no tasks", nil, models.TodolistPending},
		{"all pending", []string{"pending", "pending"}, models.TodolistPending},
		{"one completed", []string{"completed", "pending"}, models.TodolistInProgress},
		{"one discarded", []string{"discarded", "pending"}, models.TodolistInProgress},
		{"all completed", []string{"completed", "completed"}, models.TodolistCompleted},
		{"completed and discarded", []string{"completed", "discarded"}, models.TodolistCompleted},
		{"all discarded", []string{"discarded"}, models.TodolistCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveTodolistStatus(tc.statuses))
		})
	}
}

func newTestLifecycle(t *testing.T) (*Lifecycle, sqlmock.Sqlmock, *recordingAlerts) {
	database, mock := newMockDB(t)
	alerts := &recordingAlerts{}
	lifecycle := NewLifecycle(database, zap.NewNop(), alerts)
	fixed := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	lifecycle.Now = func() time.Time { return fixed }
	return lifecycle, mock, alerts
}

func TestUpdateTaskRederivesStatusAndRecordsKPIAlert(t *testing.T) {
	lifecycle, mock, alerts := newTestLifecycle(t)
	created := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT todolist_id FROM tasks WHERE id").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows([]string{"todolist_id"}).AddRow("tl-1"))
	mock.ExpectQuery("FROM todolists WHERE id = \\$1 FOR UPDATE").
		WithArgs("tl-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "status"}).AddRow("tl-1", "DABC1234", "pending"))
	mock.ExpectQuery("SELECT id, todolist_id, kpi_id, status, value").
		WithArgs("task-1").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("task-1", "tl-1", "KTEMP001", "pending", nil, false, nil, nil, created, created, nil))
	mock.ExpectQuery("SELECT value FROM kpis WHERE id").
		WithArgs("KTEMP001").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).
			AddRow(`[{"name":"temperatura","type":"number","required":true,"max":8}]`))
	mock.ExpectExec("INSERT INTO kpi_alert_logs").
		WithArgs(sqlmock.AnyArg(), "task-1", "KTEMP001", "tl-1", "DABC1234", "temperatura", "12", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE tasks").
		WithArgs("task-1", "completed", []byte(`{"temperatura": 12}`), true, "op-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status FROM tasks WHERE todolist_id").
		WithArgs("tl-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed").AddRow("pending"))
	mock.ExpectExec("UPDATE todolists").
		WithArgs("tl-1", models.TodolistInProgress, nil, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := lifecycle.UpdateTask(context.Background(), "task-1", "op-1", TaskUpdate{
		Status: "Completed",
		Value:  json.RawMessage(`{"temperatura": 12}`),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, task.Status)
	assert.True(t, task.AlertChecked)
	require.NotNil(t, task.CompletedBy)
	assert.Equal(t, "op-1", *task.CompletedBy)
	assert.Len(t, alerts.ids, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskCompletesTodolistOnLastTask(t *testing.T) {
	lifecycle, mock, alerts := newTestLifecycle(t)
	created := time.Date(2024, 1, 9, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT todolist_id FROM tasks WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"todolist_id"}).AddRow("tl-1"))
	mock.ExpectQuery("FROM todolists WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "status"}).AddRow("tl-1", "DABC1234", "in_progress"))
	mock.ExpectQuery("SELECT id, todolist_id, kpi_id, status, value").
		WillReturnRows(sqlmock.NewRows(taskCols).
			AddRow("task-2", "tl-1", "KTEMP001", "pending", nil, false, nil, nil, created, created, nil))
	mock.ExpectExec("UPDATE tasks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT status FROM tasks WHERE todolist_id").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed").AddRow("discarded"))
	mock.ExpectExec("UPDATE todolists").
		WithArgs("tl-1", models.TodolistCompleted, sqlmock.AnyArg(), "op-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	task, err := lifecycle.UpdateTask(context.Background(), "task-2", "op-1", TaskUpdate{Status: "discarded"})
	require.NoError(t, err)
	assert.Equal(t, models.TaskDiscarded, task.Status)
	assert.False(t, task.AlertChecked)
	assert.Empty(t, alerts.ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskRejectsCompletedTodolist(t *testing.T) {
	lifecycle, mock, _ := newTestLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT todolist_id FROM tasks WHERE id").
		WillReturnRows(sqlmock.NewRows([]string{"todolist_id"}).AddRow("tl-1"))
	mock.ExpectQuery("FROM todolists WHERE id = \\$1 FOR UPDATE").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "status"}).AddRow("tl-1", "DABC1234", "completed"))
	mock.ExpectRollback()

	_, err := lifecycle.UpdateTask(context.Background(), "task-1", "op-1", TaskUpdate{Status: "pending"})
	assert.EqualError(t, err, "Todolist already completed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTaskValidatesInput(t *testing.T) {
	lifecycle, _, _ := newTestLifecycle(t)

	_, err := lifecycle.UpdateTask(context.Background(), "task-1", "op-1", TaskUpdate{Status: "done"})
	assert.EqualError(t, err, "Invalid task status")

	_, err = lifecycle.UpdateTask(context.Background(), "task-1", "op-1", TaskUpdate{Status: "completed", Value: json.RawMessage(`{bad`)})
	assert.EqualError(t, err, "Invalid task value")
}

func TestDiscardPendingCompletesTodolist(t *testing.T) {
	lifecycle, mock, _ := newTestLifecycle(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM todolists WHERE id = \\$1 FOR UPDATE").
		WithArgs("tl-9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "status"}).AddRow("tl-9", "DABC1234", "pending"))
	mock.ExpectExec("SET status = 'discarded'").
		WithArgs("tl-9", "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectQuery("SELECT status FROM tasks WHERE todolist_id").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("discarded").AddRow("discarded").AddRow("completed"))
	mock.ExpectExec("UPDATE todolists").
		WithArgs("tl-9", models.TodolistCompleted, sqlmock.AnyArg(), "admin-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	status, err := lifecycle.DiscardPending(context.Background(), "tl-9", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.TodolistCompleted, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
