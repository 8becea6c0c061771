package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sicet-backend-go/internal/models"
)

type SubscriptionInput struct {
	Scope    string
	TargetID string
	Email    string
}

func ListSubscriptions(ctx context.Context, db *sqlx.DB, scope string) ([]models.AlertSubscription, error) {
	items := []models.AlertSubscription{}
	query := `SELECT id, scope, target_id, email, active, created_at FROM alert_subscriptions`
	args := []interface{}{}
	if scope != "" {
		query += ` WHERE scope = $1`
		args = append(args, scope)
	}
	query += ` ORDER BY scope, target_id, email`
	err := db.SelectContext(ctx, &items, query, args...)
	return items, err
}

// CreateSubscription registers an email for alerts about a KPI (scope kpi) or
// about the todolists of a device (scope todolist).
func CreateSubscription(ctx context.Context, db *sqlx.DB, input SubscriptionInput) (models.AlertSubscription, error) {
	scope := strings.TrimSpace(input.Scope)
	target := strings.TrimSpace(input.TargetID)
	switch scope {
	case models.ScopeKPI:
		if !IsKPIID(target) {
			return models.AlertSubscription{}, ErrBadRequest("Invalid KPI id")
		}
	case models.ScopeTodolist:
		if !IsDeviceID(target) {
			return models.AlertSubscription{}, ErrBadRequest("Invalid device id")
		}
	default:
		return models.AlertSubscription{}, ErrBadRequest("Invalid scope")
	}
	email, err := NormalizeEmail(input.Email)
	if err != nil {
		return models.AlertSubscription{}, err
	}
	sub := models.AlertSubscription{
		ID:        uuid.NewString(),
		Scope:     scope,
		TargetID:  target,
		Email:     email,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	res, err := db.ExecContext(ctx, `
INSERT INTO alert_subscriptions (id, scope, target_id, email, active, created_at)
VALUES ($1,$2,$3,$4,TRUE,$5)
ON CONFLICT (scope, target_id, email) DO NOTHING
`, sub.ID, sub.Scope, sub.TargetID, sub.Email, sub.CreatedAt)
	if err != nil {
		return models.AlertSubscription{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.AlertSubscription{}, ErrConflict("Subscription already exists")
	}
	return sub, nil
}

func DeleteSubscription(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM alert_subscriptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound("Subscription not found")
	}
	return nil
}
