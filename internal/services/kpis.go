package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"sicet-backend-go/internal/models"
)

const kpiColumns = `id, name, description, value, deleted, created_at, updated_at`

var fieldTypes = map[string]bool{
	models.FieldText:    true,
	models.FieldNumber:  true,
	models.FieldBoolean: true,
	models.FieldSelect:  true,
	models.FieldDate:    true,
}

type KPIInput struct {
	Name        string
	Description string
	Fields      models.KPIFields
}

// ValidateKPIFields checks a value schema and returns it with names trimmed.
func ValidateKPIFields(fields models.KPIFields) (models.KPIFields, error) {
	if len(fields) == 0 {
		return nil, ErrBadRequest("At least one field is required")
	}
	seen := map[string]bool{}
	cleaned := make(models.KPIFields, 0, len(fields))
	for i, field := range fields {
		field.Name = strings.TrimSpace(field.Name)
		field.Type = strings.ToLower(strings.TrimSpace(field.Type))
		if field.Name == "" {
			return nil, ErrBadRequest(fmt.Sprintf("Field %d: name is required", i+1))
		}
		if seen[field.Name] {
			return nil, ErrBadRequest(fmt.Sprintf("Field %s is duplicated", field.Name))
		}
		seen[field.Name] = true
		if !fieldTypes[field.Type] {
			return nil, ErrBadRequest(fmt.Sprintf("Field %s: invalid type", field.Name))
		}
		if field.Type != models.FieldNumber {
			field.Min, field.Max = nil, nil
		}
		if field.Min != nil && field.Max != nil && *field.Min > *field.Max {
			return nil, ErrBadRequest(fmt.Sprintf("Field %s: min is greater than max", field.Name))
		}
		if field.Type == models.FieldSelect {
			field.Options = CleanTags(field.Options)
			if len(field.Options) == 0 {
				return nil, ErrBadRequest(fmt.Sprintf("Field %s: options are required", field.Name))
			}
		} else {
			field.Options = nil
		}
		cleaned = append(cleaned, field)
	}
	return cleaned, nil
}

func ListKPIs(ctx context.Context, db *sqlx.DB, includeDeleted bool) ([]models.KPI, error) {
	query := `SELECT ` + kpiColumns + ` FROM kpis`
	if !includeDeleted {
		query += ` WHERE deleted = FALSE`
	}
	query += ` ORDER BY name, id`
	items := []models.KPI{}
	err := db.SelectContext(ctx, &items, query)
	return items, err
}

func GetKPI(ctx context.Context, db *sqlx.DB, id string) (models.KPI, error) {
	var kpi models.KPI
	if err := db.GetContext(ctx, &kpi, `SELECT `+kpiColumns+` FROM kpis WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.KPI{}, ErrNotFound("KPI not found")
		}
		return models.KPI{}, err
	}
	return kpi, nil
}

func validateKPIInput(input KPIInput) (KPIInput, error) {
	name, err := NormalizeRequired(input.Name, "KPI name is required")
	if err != nil {
		return input, err
	}
	fields, err := ValidateKPIFields(input.Fields)
	if err != nil {
		return input, err
	}
	input.Name = name
	input.Description = strings.TrimSpace(input.Description)
	input.Fields = fields
	return input, nil
}

func CreateKPI(ctx context.Context, db *sqlx.DB, input KPIInput) (models.KPI, error) {
	input, err := validateKPIInput(input)
	if err != nil {
		return models.KPI{}, err
	}
	id, err := freeID(ctx, db, "kpis", NewKPIID)
	if err != nil {
		return models.KPI{}, err
	}
	now := time.Now().UTC()
	kpi := models.KPI{ID: id, Name: input.Name, Description: input.Description, Value: input.Fields, CreatedAt: now, UpdatedAt: now}
	if _, err := db.ExecContext(ctx, `
INSERT INTO kpis (id, name, description, value, deleted, created_at, updated_at)
VALUES ($1,$2,$3,$4,FALSE,$5,$5)
`, kpi.ID, kpi.Name, kpi.Description, kpi.Value, now); err != nil {
		return models.KPI{}, err
	}
	return kpi, nil
}

// UpdateKPI edits name and schema. Past task values are left untouched.
func UpdateKPI(ctx context.Context, db *sqlx.DB, id string, input KPIInput) (models.KPI, error) {
	input, err := validateKPIInput(input)
	if err != nil {
		return models.KPI{}, err
	}
	res, err := db.ExecContext(ctx, `
UPDATE kpis SET name = $2, description = $3, value = $4, updated_at = $5
WHERE id = $1 AND deleted = FALSE
`, id, input.Name, input.Description, input.Fields, time.Now().UTC())
	if err != nil {
		return models.KPI{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.KPI{}, ErrNotFound("KPI not found")
	}
	return GetKPI(ctx, db, id)
}

func DeleteKPI(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, `UPDATE kpis SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound("KPI not found")
	}
	return nil
}
