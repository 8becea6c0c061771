package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"sicet-backend-go/internal/db"
	"sicet-backend-go/internal/models"
)

const todolistColumns = `t.id, t.device_id, t.scheduled_execution, t.status, t.time_slot_type, t.time_slot_start,
t.time_slot_end, t.completion_date, t.completed_by, t.created_at`

// TodolistView is a todolist with its device name and derived expiry.
type TodolistView struct {
	models.Todolist
	DeviceName string `db:"device_name" json:"deviceName"`
	TaskCount  int    `db:"task_count" json:"taskCount"`
	Expired    bool   `db:"-" json:"expired"`
}

type TaskView struct {
	models.Task
	KPIName   string           `db:"kpi_name" json:"kpiName"`
	KPIFields models.KPIFields `db:"kpi_value" json:"kpiFields"`
}

type TodolistDetail struct {
	TodolistView
	Tasks []TaskView `json:"tasks"`
}

type TodolistFilter struct {
	DeviceID string
	Status   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type TodolistInput struct {
	DeviceID  string
	Scheduled []time.Time
	SlotType  string
	SlotStart *string
	SlotEnd   *string
	KPIIDs    []string
}

func ListTodolists(ctx context.Context, db *sqlx.DB, clock Clock, filter TodolistFilter) ([]TodolistView, int, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	clauses := []string{}
	args := []interface{}{}
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		clauses = append(clauses, fmt.Sprintf("t.device_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		clauses = append(clauses, fmt.Sprintf("t.status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		clauses = append(clauses, fmt.Sprintf("t.scheduled_execution >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		clauses = append(clauses, fmt.Sprintf("t.scheduled_execution <= $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := db.GetContext(ctx, &total, "SELECT count(*) FROM todolists t "+where, args...); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`
SELECT %s, d.name AS device_name,
       (SELECT count(*) FROM tasks k WHERE k.todolist_id = t.id) AS task_count
FROM todolists t
JOIN devices d ON d.id = t.device_id
%s
ORDER BY t.scheduled_execution DESC, t.id
LIMIT $%d OFFSET $%d`, todolistColumns, where, len(args)-1, len(args))
	items := []TodolistView{}
	if err := db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, 0, err
	}
	now := clock.Current()
	for i := range items {
		items[i].Expired = clock.Overdue(items[i].Todolist, now)
	}
	return items, total, nil
}

func GetTodolist(ctx context.Context, db *sqlx.DB, clock Clock, id string) (TodolistDetail, error) {
	var detail TodolistDetail
	if err := db.GetContext(ctx, &detail.TodolistView, `
SELECT `+todolistColumns+`, d.name AS device_name,
       (SELECT count(*) FROM tasks k WHERE k.todolist_id = t.id) AS task_count
FROM todolists t
JOIN devices d ON d.id = t.device_id
WHERE t.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TodolistDetail{}, ErrNotFound("Todolist not found")
		}
		return TodolistDetail{}, err
	}
	detail.Expired = clock.Overdue(detail.Todolist, clock.Current())
	detail.Tasks = []TaskView{}
	if err := db.SelectContext(ctx, &detail.Tasks, `
SELECT k.id, k.todolist_id, k.kpi_id, k.status, k.value, k.alert_checked, k.created_by, k.completed_by,
       k.created_at, k.updated_at, k.completed_at, p.name AS kpi_name, p.value AS kpi_value
FROM tasks k
JOIN kpis p ON p.id = k.kpi_id
WHERE k.todolist_id = $1
ORDER BY p.name, k.id`, id); err != nil {
		return TodolistDetail{}, err
	}
	return detail, nil
}

// CreateTodolists schedules one todolist per requested instant, each with one
// pending task per KPI.
func CreateTodolists(ctx context.Context, database *sqlx.DB, actorID string, input TodolistInput) ([]models.Todolist, error) {
	if !IsDeviceID(input.DeviceID) {
		return nil, ErrBadRequest("Invalid device id")
	}
	if len(input.Scheduled) == 0 {
		return nil, ErrBadRequest("At least one scheduled execution is required")
	}
	if len(input.Scheduled) > 366 {
		return nil, ErrBadRequest("Too many scheduled executions")
	}
	kpiIDs := uniqueSorted(input.KPIIDs)
	if len(kpiIDs) == 0 {
		return nil, ErrBadRequest("At least one KPI is required")
	}
	for _, kpiID := range kpiIDs {
		if !IsKPIID(kpiID) {
			return nil, ErrBadRequest(fmt.Sprintf("Invalid KPI id %s", kpiID))
		}
	}
	slotType, err := ValidateTimeSlot(input.SlotType, input.SlotStart, input.SlotEnd)
	if err != nil {
		return nil, err
	}
	var start, end *string
	if slotType == models.SlotCustom {
		start, end = input.SlotStart, input.SlotEnd
	}

	now := time.Now().UTC()
	created := make([]models.Todolist, 0, len(input.Scheduled))
	err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		var deviceActive bool
		if err := tx.GetContext(ctx, &deviceActive, `SELECT EXISTS(SELECT 1 FROM devices WHERE id = $1 AND deleted = FALSE)`, input.DeviceID); err != nil {
			return err
		}
		if !deviceActive {
			return ErrNotFound("Device not found")
		}
		var activeKPIs int
		if err := tx.GetContext(ctx, &activeKPIs, `SELECT count(*) FROM kpis WHERE id = ANY($1) AND deleted = FALSE`, pq.Array(kpiIDs)); err != nil {
			return err
		}
		if activeKPIs != len(kpiIDs) {
			return ErrNotFound("KPI not found")
		}
		for _, scheduled := range input.Scheduled {
			todolist := models.Todolist{
				ID:                 uuid.NewString(),
				DeviceID:           input.DeviceID,
				ScheduledExecution: scheduled,
				Status:             models.TodolistPending,
				TimeSlotType:       slotType,
				TimeSlotStart:      start,
				TimeSlotEnd:        end,
				CreatedAt:          now,
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO todolists (id, device_id, scheduled_execution, status, time_slot_type, time_slot_start, time_slot_end, created_at)
VALUES ($1,$2,$3,'pending',$4,$5,$6,$7)
`, todolist.ID, todolist.DeviceID, todolist.ScheduledExecution, slotType, start, end, now); err != nil {
				return err
			}
			for _, kpiID := range kpiIDs {
				if _, err := tx.ExecContext(ctx, `
INSERT INTO tasks (id, todolist_id, kpi_id, status, alert_checked, created_by, created_at, updated_at)
VALUES ($1,$2,$3,'pending',FALSE,$4,$5,$5)
`, uuid.NewString(), todolist.ID, kpiID, nullableString(actorID), now); err != nil {
					return err
				}
			}
			created = append(created, todolist)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteTodolist removes a todolist; its tasks and alert logs cascade.
func DeleteTodolist(ctx context.Context, database *sqlx.DB, actorID, id string) error {
	return db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM todolists WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return ErrNotFound("Todolist not found")
		}
		return RecordAudit(ctx, tx, actorID, "delete", "todolist", id, nil)
	})
}

func uniqueSorted(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	sort.Strings(out)
	return out
}
