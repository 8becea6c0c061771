package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sicet-backend-go/internal/models"
)

const templateColumns = `id, name, description, device_ids, kpi_ids, created_by, created_at, updated_at`

// TemplateInput is a named set of device and KPI filters reused by exports.
type TemplateInput struct {
	Name        string
	Description string
	DeviceIDs   []string
	KPIIDs      []string
}

func validateTemplateInput(input TemplateInput) (TemplateInput, error) {
	name, err := NormalizeRequired(input.Name, "Template name is required")
	if err != nil {
		return input, err
	}
	input.Name = name
	input.Description = strings.TrimSpace(input.Description)
	input.DeviceIDs = uniqueSorted(input.DeviceIDs)
	input.KPIIDs = uniqueSorted(input.KPIIDs)
	for _, id := range input.DeviceIDs {
		if !IsDeviceID(id) {
			return input, ErrBadRequest(fmt.Sprintf("Invalid device id %s", id))
		}
	}
	for _, id := range input.KPIIDs {
		if !IsKPIID(id) {
			return input, ErrBadRequest(fmt.Sprintf("Invalid KPI id %s", id))
		}
	}
	if len(input.DeviceIDs) == 0 && len(input.KPIIDs) == 0 {
		return input, ErrBadRequest("Template must select at least one device or KPI")
	}
	return input, nil
}

func ListTemplates(ctx context.Context, db *sqlx.DB) ([]models.ReportTemplate, error) {
	items := []models.ReportTemplate{}
	err := db.SelectContext(ctx, &items, `SELECT `+templateColumns+` FROM report_templates ORDER BY name, id`)
	return items, err
}

func GetTemplate(ctx context.Context, db sqlx.QueryerContext, id string) (models.ReportTemplate, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ReportTemplate{}, ErrBadRequest("Invalid template id")
	}
	var template models.ReportTemplate
	if err := sqlx.GetContext(ctx, db, &template, `SELECT `+templateColumns+` FROM report_templates WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ReportTemplate{}, ErrNotFound("Template not found")
		}
		return models.ReportTemplate{}, err
	}
	return template, nil
}

func CreateTemplate(ctx context.Context, db *sqlx.DB, actorID string, input TemplateInput) (models.ReportTemplate, error) {
	input, err := validateTemplateInput(input)
	if err != nil {
		return models.ReportTemplate{}, err
	}
	now := time.Now().UTC()
	template := models.ReportTemplate{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		DeviceIDs:   pq.StringArray(input.DeviceIDs),
		KPIIDs:      pq.StringArray(input.KPIIDs),
		CreatedBy:   nullableString(actorID),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := db.ExecContext(ctx, `
INSERT INTO report_templates (id, name, description, device_ids, kpi_ids, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
`, template.ID, template.Name, template.Description, template.DeviceIDs, template.KPIIDs, template.CreatedBy, now); err != nil {
		return models.ReportTemplate{}, err
	}
	return template, nil
}

func UpdateTemplate(ctx context.Context, db *sqlx.DB, id string, input TemplateInput) (models.ReportTemplate, error) {
	input, err := validateTemplateInput(input)
	if err != nil {
		return models.ReportTemplate{}, err
	}
	res, err := db.ExecContext(ctx, `
UPDATE report_templates SET name = $2, description = $3, device_ids = $4, kpi_ids = $5, updated_at = $6
WHERE id = $1
`, id, input.Name, input.Description, pq.StringArray(input.DeviceIDs), pq.StringArray(input.KPIIDs), time.Now().UTC())
	if err != nil {
		return models.ReportTemplate{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.ReportTemplate{}, ErrNotFound("Template not found")
	}
	return GetTemplate(ctx, db, id)
}

func DeleteTemplate(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM report_templates WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound("Template not found")
	}
	return nil
}
