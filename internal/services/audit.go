package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sicet-backend-go/internal/models"
)

// RecordAudit appends an audit entry. Pass the surrounding tx so the entry
// commits with the change it describes.
func RecordAudit(ctx context.Context, exec sqlx.ExecerContext, actorID, action, objectType, objectID string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = exec.ExecContext(ctx, `
INSERT INTO audit_logs (id, actor_id, action, object_type, object_id, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, uuid.NewString(), nullableString(actorID), action, objectType, objectID, payload, time.Now().UTC())
	return err
}

func ListAuditLogs(ctx context.Context, db *sqlx.DB, objectType string, limit int) ([]models.AuditLog, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}
	items := []models.AuditLog{}
	query := `SELECT id, actor_id, action, object_type, object_id, details, created_at FROM audit_logs`
	args := []interface{}{}
	if objectType != "" {
		query += ` WHERE object_type = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, objectType, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}
	err := db.SelectContext(ctx, &items, query, args...)
	return items, err
}
