package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"sicet-backend-go/internal/db"
	"sicet-backend-go/internal/models"
)

// IsTerminalTaskStatus treats discarded tasks as resolved, like completed ones.
func IsTerminalTaskStatus(status string) bool {
	return status == models.TaskCompleted || status == models.TaskDiscarded
}

// DeriveTodolistStatus aggregates task statuses into the todolist status.
// A todolist without tasks stays pending.
func DeriveTodolistStatus(statuses []string) string {
	if len(statuses) == 0 {
		return models.TodolistPending
	}
	terminal := 0
	for _, status := range statuses {
		if IsTerminalTaskStatus(status) {
			terminal++
		}
	}
	switch {
	case terminal == len(statuses):
		return models.TodolistCompleted
	case terminal > 0:
		return models.TodolistInProgress
	default:
		return models.TodolistPending
	}
}

// KPIAlertSender delivers KPI alerts recorded during a task update.
type KPIAlertSender interface {
	Notify(ctx context.Context, alertIDs []string)
}

type TaskUpdate struct {
	Status string
	Value  json.RawMessage
}

type Lifecycle struct {
	DB     *sqlx.DB
	Logger *zap.Logger
	Alerts KPIAlertSender
	Now    func() time.Time
}

func NewLifecycle(database *sqlx.DB, logger *zap.Logger, alerts KPIAlertSender) *Lifecycle {
	return &Lifecycle{DB: database, Logger: logger.Named("lifecycle"), Alerts: alerts, Now: time.Now}
}

type lockedTodolist struct {
	ID       string `db:"id"`
	DeviceID string `db:"device_id"`
	Status   string `db:"status"`
}

// UpdateTask writes a task and re-derives its todolist status in the same
// transaction. The todolist row lock serializes concurrent task updates.
func (l *Lifecycle) UpdateTask(ctx context.Context, taskID, actorID string, update TaskUpdate) (models.Task, error) {
	status := strings.ToLower(strings.TrimSpace(update.Status))
	if status != models.TaskPending && !IsTerminalTaskStatus(status) {
		return models.Task{}, ErrBadRequest("Invalid task status")
	}
	if len(update.Value) > 0 && !json.Valid(update.Value) {
		return models.Task{}, ErrBadRequest("Invalid task value")
	}

	now := l.Now().UTC()
	var task models.Task
	var alertIDs []string
	err := db.WithTx(ctx, l.DB, func(tx *sqlx.Tx) error {
		var todolistID string
		if err := tx.GetContext(ctx, &todolistID, `SELECT todolist_id FROM tasks WHERE id = $1`, taskID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound("Task not found")
			}
			return err
		}
		var todolist lockedTodolist
		if err := tx.GetContext(ctx, &todolist, `SELECT id, device_id, status FROM todolists WHERE id = $1 FOR UPDATE`, todolistID); err != nil {
			return err
		}
		if todolist.Status == models.TodolistCompleted {
			return ErrBadRequest("Todolist already completed")
		}
		if err := tx.GetContext(ctx, &task, `
SELECT id, todolist_id, kpi_id, status, value, alert_checked, created_by, completed_by, created_at, updated_at, completed_at
FROM tasks
WHERE id = $1
`, taskID); err != nil {
			return err
		}

		task.Status = status
		if len(update.Value) > 0 {
			task.Value = types.JSONText(update.Value)
		}
		task.UpdatedAt = now
		if IsTerminalTaskStatus(status) {
			task.CompletedBy = nullableString(actorID)
			task.CompletedAt = &now
		} else {
			task.CompletedBy = nil
			task.CompletedAt = nil
		}

		if status == models.TaskCompleted && !task.AlertChecked {
			ids, err := recordKPIViolations(ctx, tx, task, todolist.DeviceID, now)
			if err != nil {
				return err
			}
			alertIDs = ids
			task.AlertChecked = true
		}

		if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = $2, value = $3, alert_checked = $4, completed_by = $5, completed_at = $6, updated_at = $7
WHERE id = $1
`, task.ID, task.Status, jsonOrNull(task.Value), task.AlertChecked, task.CompletedBy, task.CompletedAt, now); err != nil {
			return err
		}
		_, err := recomputeTodolistStatus(ctx, tx, todolistID, actorID, now)
		return err
	})
	if err != nil {
		return models.Task{}, err
	}
	if len(alertIDs) > 0 && l.Alerts != nil {
		l.Logger.Info("kpi alerts recorded", zap.String("task_id", task.ID), zap.Int("count", len(alertIDs)))
		l.Alerts.Notify(ctx, alertIDs)
	}
	return task, nil
}

// DiscardPending marks every pending task of an open todolist as discarded,
// which completes the todolist.
func (l *Lifecycle) DiscardPending(ctx context.Context, todolistID, actorID string) (string, error) {
	now := l.Now().UTC()
	var derived string
	err := db.WithTx(ctx, l.DB, func(tx *sqlx.Tx) error {
		var todolist lockedTodolist
		if err := tx.GetContext(ctx, &todolist, `SELECT id, device_id, status FROM todolists WHERE id = $1 FOR UPDATE`, todolistID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound("Todolist not found")
			}
			return err
		}
		if todolist.Status == models.TodolistCompleted {
			return ErrBadRequest("Todolist already completed")
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE tasks
SET status = 'discarded', completed_by = $2, completed_at = $3, updated_at = $3
WHERE todolist_id = $1 AND status = 'pending'
`, todolistID, nullableString(actorID), now); err != nil {
			return err
		}
		status, err := recomputeTodolistStatus(ctx, tx, todolistID, actorID, now)
		derived = status
		return err
	})
	return derived, err
}

// recomputeTodolistStatus is the single place where a todolist status is
// derived from its tasks. Callers must hold the todolist row lock.
func recomputeTodolistStatus(ctx context.Context, tx *sqlx.Tx, todolistID, actorID string, now time.Time) (string, error) {
	statuses := []string{}
	if err := tx.SelectContext(ctx, &statuses, `SELECT status FROM tasks WHERE todolist_id = $1`, todolistID); err != nil {
		return "", err
	}
	status := DeriveTodolistStatus(statuses)
	var completionDate *time.Time
	var completedBy *string
	if status == models.TodolistCompleted {
		completionDate = &now
		completedBy = nullableString(actorID)
	}
	_, err := tx.ExecContext(ctx, `
UPDATE todolists
SET status = $2, completion_date = $3, completed_by = $4
WHERE id = $1
`, todolistID, status, completionDate, completedBy)
	return status, err
}

func recordKPIViolations(ctx context.Context, tx *sqlx.Tx, task models.Task, deviceID string, now time.Time) ([]string, error) {
	var fields models.KPIFields
	if err := tx.GetContext(ctx, &fields, `SELECT value FROM kpis WHERE id = $1`, task.KPIID); err != nil {
		return nil, err
	}
	violations := CheckKPIValue(fields, task.Value)
	ids := make([]string, 0, len(violations))
	for _, violation := range violations {
		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
INSERT INTO kpi_alert_logs (id, task_id, kpi_id, todolist_id, device_id, field, trigger_value, message, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9)
`, id, task.ID, task.KPIID, task.TodolistID, deviceID, violation.Field, violation.Value, violation.Message, now); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func nullableString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func jsonOrNull(value types.JSONText) interface{} {
	if len(value) == 0 || string(value) == "null" {
		return nil
	}
	return []byte(value)
}
