package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sicet-backend-go/internal/models"
)

const maxDeviceTags = 12

const deviceColumns = `id, name, location, description, tags, deleted, created_at, updated_at`

type DeviceInput struct {
	Name        string
	Location    string
	Description string
	Tags        []string
}

type DeviceFilter struct {
	Search         string
	Tag            string
	IncludeDeleted bool
}

func CleanTags(tags []string) []string {
	seen := make(map[string]bool)
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		value := strings.TrimSpace(tag)
		key := strings.ToLower(value)
		if value == "" || seen[key] {
			continue
		}
		seen[key] = true
		cleaned = append(cleaned, value)
		if len(cleaned) >= maxDeviceTags {
			break
		}
	}
	return cleaned
}

func NormalizeRequired(value, message string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrBadRequest(message)
	}
	return trimmed, nil
}

func ListDevices(ctx context.Context, db *sqlx.DB, filter DeviceFilter) ([]models.Device, error) {
	clauses := []string{}
	args := []interface{}{}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted = FALSE")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		args = append(args, "%"+strings.ToLower(search)+"%")
		clauses = append(clauses, fmt.Sprintf("(lower(name) LIKE $%d OR lower(location) LIKE $%d OR lower(id) LIKE $%d)", len(args), len(args), len(args)))
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		args = append(args, tag)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}
	query := `SELECT ` + deviceColumns + ` FROM devices`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY name, id"
	items := []models.Device{}
	err := db.SelectContext(ctx, &items, query, args...)
	return items, err
}

func GetDevice(ctx context.Context, db *sqlx.DB, id string) (models.Device, error) {
	var device models.Device
	if err := db.GetContext(ctx, &device, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Device{}, ErrNotFound("Device not found")
		}
		return models.Device{}, err
	}
	return device, nil
}

func validateDeviceInput(input DeviceInput) (DeviceInput, error) {
	name, err := NormalizeRequired(input.Name, "Device name is required")
	if err != nil {
		return input, err
	}
	input.Name = name
	input.Location = strings.TrimSpace(input.Location)
	input.Description = strings.TrimSpace(input.Description)
	input.Tags = CleanTags(input.Tags)
	return input, nil
}

// CreateDevice assigns a fresh D-prefixed id, retrying on the rare collision.
func CreateDevice(ctx context.Context, db *sqlx.DB, input DeviceInput) (models.Device, error) {
	input, err := validateDeviceInput(input)
	if err != nil {
		return models.Device{}, err
	}
	id, err := freeID(ctx, db, "devices", NewDeviceID)
	if err != nil {
		return models.Device{}, err
	}
	now := time.Now().UTC()
	device := models.Device{
		ID:          id,
		Name:        input.Name,
		Location:    input.Location,
		Description: input.Description,
		Tags:        pq.StringArray(input.Tags),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := db.ExecContext(ctx, `
INSERT INTO devices (id, name, location, description, tags, deleted, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,FALSE,$6,$6)
`, device.ID, device.Name, device.Location, device.Description, device.Tags, now); err != nil {
		return models.Device{}, err
	}
	return device, nil
}

func UpdateDevice(ctx context.Context, db *sqlx.DB, id string, input DeviceInput) (models.Device, error) {
	input, err := validateDeviceInput(input)
	if err != nil {
		return models.Device{}, err
	}
	res, err := db.ExecContext(ctx, `
UPDATE devices SET name = $2, location = $3, description = $4, tags = $5, updated_at = $6
WHERE id = $1 AND deleted = FALSE
`, id, input.Name, input.Location, input.Description, pq.StringArray(input.Tags), time.Now().UTC())
	if err != nil {
		return models.Device{}, err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return models.Device{}, ErrNotFound("Device not found")
	}
	return GetDevice(ctx, db, id)
}

// DeleteDevice soft-deletes; todolists keep referencing the row.
func DeleteDevice(ctx context.Context, db *sqlx.DB, id string) error {
	res, err := db.ExecContext(ctx, `UPDATE devices SET deleted = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`, id, time.Now().UTC())
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound("Device not found")
	}
	return nil
}

func freeID(ctx context.Context, db *sqlx.DB, table string, generate func() (string, error)) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := generate()
		if err != nil {
			return "", err
		}
		var exists bool
		if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = $1)`, candidate); err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free id in %s", table)
}
