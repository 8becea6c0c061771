package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sicet-backend-go/internal/models"
)

// OverdueCandidate is an open todolist not yet alerted, with its device.
type OverdueCandidate struct {
	models.Todolist
	DeviceName     string `db:"device_name"`
	DeviceLocation string `db:"device_location"`
}

type OverdueStore interface {
	OpenTodolists(ctx context.Context, scheduledBefore time.Time) ([]OverdueCandidate, error)
	Recipients(ctx context.Context, scope, targetID string) ([]string, error)
	ClaimTodolistAlert(ctx context.Context, todolistID, deviceID string, recipients []string, at time.Time) (string, bool, error)
	MarkTodolistAlertSent(ctx context.Context, claimID string, at time.Time) error
	MarkTodolistAlertFailed(ctx context.Context, claimID, message string) error
}

// PendingKPIAlert is a kpi_alert_logs row awaiting delivery.
type PendingKPIAlert struct {
	ID           string    `db:"id"`
	KPIID        string    `db:"kpi_id"`
	KPIName      string    `db:"kpi_name"`
	TodolistID   string    `db:"todolist_id"`
	DeviceID     string    `db:"device_id"`
	DeviceName   string    `db:"device_name"`
	Field        string    `db:"field"`
	TriggerValue string    `db:"trigger_value"`
	Message      string    `db:"message"`
	CreatedAt    time.Time `db:"created_at"`
}

type KPIAlertStore interface {
	PendingKPIAlerts(ctx context.Context, ids []string) ([]PendingKPIAlert, error)
	Recipients(ctx context.Context, scope, targetID string) ([]string, error)
	MarkKPIAlerts(ctx context.Context, ids []string, status string, recipients []string, at time.Time, message string) error
}

// AlertRepository is the Postgres implementation of the alert stores.
type AlertRepository struct {
	DB *sqlx.DB
}

func NewAlertRepository(database *sqlx.DB) *AlertRepository {
	return &AlertRepository{DB: database}
}

func (r *AlertRepository) OpenTodolists(ctx context.Context, scheduledBefore time.Time) ([]OverdueCandidate, error) {
	items := []OverdueCandidate{}
	err := r.DB.SelectContext(ctx, &items, `
SELECT `+todolistColumns+`, d.name AS device_name, d.location AS device_location
FROM todolists t
JOIN devices d ON d.id = t.device_id
WHERE t.status <> 'completed'
  AND t.scheduled_execution < $1
  AND NOT EXISTS (SELECT 1 FROM todolist_alert_logs l WHERE l.todolist_id = t.id)
ORDER BY t.scheduled_execution, t.id`, scheduledBefore)
	return items, err
}

func (r *AlertRepository) Recipients(ctx context.Context, scope, targetID string) ([]string, error) {
	emails := []string{}
	err := r.DB.SelectContext(ctx, &emails, `
SELECT email FROM alert_subscriptions
WHERE scope = $1 AND target_id = $2 AND active = TRUE
ORDER BY email`, scope, targetID)
	return emails, err
}

// ClaimTodolistAlert inserts the pending log row. The unique todolist_id
// makes the claim succeed for exactly one caller.
func (r *AlertRepository) ClaimTodolistAlert(ctx context.Context, todolistID, deviceID string, recipients []string, at time.Time) (string, bool, error) {
	var id string
	err := r.DB.GetContext(ctx, &id, `
INSERT INTO todolist_alert_logs (id, todolist_id, device_id, status, recipients, created_at)
VALUES ($1,$2,$3,'pending',$4,$5)
ON CONFLICT (todolist_id) DO NOTHING
RETURNING id`, uuid.NewString(), todolistID, deviceID, pq.StringArray(recipients), at)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (r *AlertRepository) MarkTodolistAlertSent(ctx context.Context, claimID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx, `
UPDATE todolist_alert_logs SET status = 'sent', sent_at = $2 WHERE id = $1 AND status = 'pending'`, claimID, at)
	return err
}

func (r *AlertRepository) MarkTodolistAlertFailed(ctx context.Context, claimID, message string) error {
	_, err := r.DB.ExecContext(ctx, `
UPDATE todolist_alert_logs SET status = 'failed', error_message = $2 WHERE id = $1 AND status = 'pending'`, claimID, message)
	return err
}

func (r *AlertRepository) PendingKPIAlerts(ctx context.Context, ids []string) ([]PendingKPIAlert, error) {
	items := []PendingKPIAlert{}
	err := r.DB.SelectContext(ctx, &items, `
SELECT l.id, l.kpi_id, k.name AS kpi_name, l.todolist_id, l.device_id, d.name AS device_name,
       l.field, l.trigger_value, l.message, l.created_at
FROM kpi_alert_logs l
JOIN kpis k ON k.id = l.kpi_id
JOIN devices d ON d.id = l.device_id
WHERE l.id = ANY($1) AND l.status = 'pending'
ORDER BY l.kpi_id, l.created_at`, pq.Array(ids))
	return items, err
}

func (r *AlertRepository) MarkKPIAlerts(ctx context.Context, ids []string, status string, recipients []string, at time.Time, message string) error {
	var sentAt *time.Time
	var errorMessage *string
	if status == models.AlertSent {
		sentAt = &at
	} else {
		errorMessage = &message
	}
	_, err := r.DB.ExecContext(ctx, `
UPDATE kpi_alert_logs
SET status = $2, recipients = $3, sent_at = $4, error_message = $5
WHERE id = ANY($1) AND status = 'pending'`, pq.Array(ids), status, pq.StringArray(recipients), sentAt, errorMessage)
	return err
}

type AlertLogFilter struct {
	Status string
	Limit  int
}

func ListTodolistAlertLogs(ctx context.Context, db *sqlx.DB, filter AlertLogFilter) ([]models.TodolistAlertLog, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	items := []models.TodolistAlertLog{}
	query := `SELECT id, todolist_id, device_id, status, recipients, sent_at, error_message, created_at FROM todolist_alert_logs`
	args := []interface{}{limit}
	if filter.Status != "" {
		query += ` WHERE status = $2`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	err := db.SelectContext(ctx, &items, query, args...)
	return items, err
}

func ListKPIAlertLogs(ctx context.Context, db *sqlx.DB, filter AlertLogFilter) ([]models.KPIAlertLog, error) {
	limit := filter.Limit
	if limit < 1 || limit > 500 {
		limit = 100
	}
	items := []models.KPIAlertLog{}
	query := `
SELECT id, task_id, kpi_id, todolist_id, device_id, field, trigger_value, message, status, recipients,
       sent_at, error_message, created_at
FROM kpi_alert_logs`
	args := []interface{}{limit}
	if filter.Status != "" {
		query += ` WHERE status = $2`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC LIMIT $1`
	err := db.SelectContext(ctx, &items, query, args...)
	return items, err
}
