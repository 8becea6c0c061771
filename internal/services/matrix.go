package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"sicet-backend-go/internal/db"
	"sicet-backend-go/internal/models"
)

const (
	GroupSingle    = "single"
	GroupComposite = "composite"

	signatureSeparator = "|"
)

// Signature is the stable key of a KPI combination: sorted, deduplicated ids.
func Signature(kpiIDs []string) string {
	return strings.Join(uniqueSorted(kpiIDs), signatureSeparator)
}

// GroupTypeOf returns single for one KPI, composite for more and "" for none.
func GroupTypeOf(kpiIDs []string) string {
	switch n := len(uniqueSorted(kpiIDs)); {
	case n == 0:
		return ""
	case n == 1:
		return GroupSingle
	default:
		return GroupComposite
	}
}

type MatrixCell struct {
	TodolistID         string     `json:"todolistId"`
	ScheduledExecution time.Time  `json:"scheduledExecution"`
	Status             string     `json:"status"`
	TimeSlotType       string     `json:"timeSlotType"`
	TimeSlotStart      *string    `json:"timeSlotStart,omitempty"`
	TimeSlotEnd        *string    `json:"timeSlotEnd,omitempty"`
	CompletionDate     *time.Time `json:"completionDate,omitempty"`
	Expired            bool       `json:"expired"`
	Completed          bool       `json:"completed"`
}

type MatrixGroup struct {
	Signature string       `json:"signature"`
	Type      string       `json:"type"`
	KPIIDs    []string     `json:"kpiIds"`
	Cells     []MatrixCell `json:"todolists"`
}

type MatrixDevice struct {
	DeviceID   string        `json:"deviceId"`
	DeviceName string        `json:"deviceName"`
	Groups     []MatrixGroup `json:"groups"`
}

type MatrixQuery struct {
	Range    DateRange
	DeviceID string
}

type BulkDeleteRequest struct {
	MatrixQuery
	Signature string
	Type      string
}

type BulkDeleteResult struct {
	DeletedTodolists int `json:"deletedTodolists"`
	DeletedTasks     int `json:"deletedTasks"`
}

type Matrix struct {
	DB     *sqlx.DB
	Clock  Clock
	Logger *zap.Logger
}

func NewMatrix(database *sqlx.DB, clock Clock, logger *zap.Logger) *Matrix {
	return &Matrix{DB: database, Clock: clock, Logger: logger.Named("matrix")}
}

type matrixRow struct {
	models.Todolist
	DeviceName string         `db:"device_name"`
	KPIIDs     pq.StringArray `db:"kpi_ids"`
}

// Read loads the todolists in range and groups them by device, then by KPI
// signature. Todolists without tasks carry no signature and are left out.
func (m *Matrix) Read(ctx context.Context, query MatrixQuery) ([]MatrixDevice, error) {
	if query.Range.IsZero() {
		return nil, ErrBadRequest("startDate and endDate are required")
	}
	start, end := query.Range.Bounds()
	args := []interface{}{start, end}
	deviceClause := ""
	if query.DeviceID != "" {
		args = append(args, query.DeviceID)
		deviceClause = "AND t.device_id = $3"
	}
	rows := []matrixRow{}
	if err := m.DB.SelectContext(ctx, &rows, `
SELECT `+todolistColumns+`, d.name AS device_name,
       COALESCE(array_agg(k.kpi_id ORDER BY k.kpi_id) FILTER (WHERE k.kpi_id IS NOT NULL), '{}') AS kpi_ids
FROM todolists t
JOIN devices d ON d.id = t.device_id
LEFT JOIN tasks k ON k.todolist_id = t.id
WHERE t.scheduled_execution >= $1 AND t.scheduled_execution < $2 `+deviceClause+`
GROUP BY t.id, d.name
ORDER BY d.name, t.device_id, t.scheduled_execution`, args...); err != nil {
		return nil, err
	}
	return m.group(rows), nil
}

func (m *Matrix) group(rows []matrixRow) []MatrixDevice {
	now := m.Clock.Current()
	devices := []MatrixDevice{}
	deviceIndex := map[string]int{}
	groupIndex := map[string]map[string]int{}
	for _, row := range rows {
		signature := Signature(row.KPIIDs)
		if signature == "" {
			continue
		}
		di, ok := deviceIndex[row.DeviceID]
		if !ok {
			di = len(devices)
			deviceIndex[row.DeviceID] = di
			groupIndex[row.DeviceID] = map[string]int{}
			devices = append(devices, MatrixDevice{DeviceID: row.DeviceID, DeviceName: row.DeviceName, Groups: []MatrixGroup{}})
		}
		gi, ok := groupIndex[row.DeviceID][signature]
		if !ok {
			gi = len(devices[di].Groups)
			groupIndex[row.DeviceID][signature] = gi
			devices[di].Groups = append(devices[di].Groups, MatrixGroup{
				Signature: signature,
				Type:      GroupTypeOf(row.KPIIDs),
				KPIIDs:    uniqueSorted(row.KPIIDs),
				Cells:     []MatrixCell{},
			})
		}
		devices[di].Groups[gi].Cells = append(devices[di].Groups[gi].Cells, MatrixCell{
			TodolistID:         row.ID,
			ScheduledExecution: row.ScheduledExecution,
			Status:             row.Status,
			TimeSlotType:       row.TimeSlotType,
			TimeSlotStart:      row.TimeSlotStart,
			TimeSlotEnd:        row.TimeSlotEnd,
			CompletionDate:     row.CompletionDate,
			Expired:            m.Clock.Overdue(row.Todolist, now),
			Completed:          row.Status == models.TodolistCompleted,
		})
	}
	for i := range devices {
		groups := devices[i].Groups
		sort.SliceStable(groups, func(a, b int) bool {
			if groups[a].Type != groups[b].Type {
				return groups[a].Type == GroupSingle
			}
			return groups[a].Signature < groups[b].Signature
		})
	}
	return devices
}

type matrixTask struct {
	ID         string `db:"id"`
	TodolistID string `db:"todolist_id"`
	KPIID      string `db:"kpi_id"`
}

// BulkDelete removes every todolist in range whose current KPI signature
// equals the requested one. The match is recomputed under row locks, so ids
// seen by the client are never trusted.
func (m *Matrix) BulkDelete(ctx context.Context, actorID string, req BulkDeleteRequest) (BulkDeleteResult, error) {
	if req.Range.IsZero() {
		return BulkDeleteResult{}, ErrBadRequest("startDate and endDate are required")
	}
	ids := uniqueSorted(strings.Split(req.Signature, signatureSeparator))
	signature := strings.Join(ids, signatureSeparator)
	if signature == "" || signature != strings.TrimSpace(req.Signature) {
		return BulkDeleteResult{}, ErrBadRequest("Invalid group signature")
	}
	if req.Type != GroupSingle && req.Type != GroupComposite {
		return BulkDeleteResult{}, ErrBadRequest("Invalid group type")
	}
	if GroupTypeOf(ids) != req.Type {
		return BulkDeleteResult{}, ErrBadRequest("Group type does not match signature")
	}

	start, end := req.Range.Bounds()
	var result BulkDeleteResult
	err := db.WithTx(ctx, m.DB, func(tx *sqlx.Tx) error {
		args := []interface{}{start, end}
		deviceClause := ""
		if req.DeviceID != "" {
			args = append(args, req.DeviceID)
			deviceClause = "AND device_id = $3"
		}
		candidates := []string{}
		if err := tx.SelectContext(ctx, &candidates, `
SELECT id FROM todolists
WHERE scheduled_execution >= $1 AND scheduled_execution < $2 `+deviceClause+`
ORDER BY id
FOR UPDATE`, args...); err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}
		tasks := []matrixTask{}
		if err := tx.SelectContext(ctx, &tasks, `
SELECT id, todolist_id, kpi_id FROM tasks WHERE todolist_id = ANY($1) ORDER BY todolist_id, id`, pq.Array(candidates)); err != nil {
			return err
		}
		byTodolist := map[string][]matrixTask{}
		for _, task := range tasks {
			byTodolist[task.TodolistID] = append(byTodolist[task.TodolistID], task)
		}
		matched := []string{}
		for _, id := range candidates {
			owned := byTodolist[id]
			kpis := make([]string, 0, len(owned))
			for _, task := range owned {
				kpis = append(kpis, task.KPIID)
			}
			if Signature(kpis) != signature {
				continue
			}
			matched = append(matched, id)
			for _, task := range owned {
				if err := RecordAudit(ctx, tx, actorID, "matrix_delete", "task", task.ID, map[string]interface{}{
					"todolist_id": task.TodolistID,
					"kpi_id":      task.KPIID,
					"signature":   signature,
					"group_type":  req.Type,
				}); err != nil {
					return err
				}
				result.DeletedTasks++
			}
		}
		if len(matched) == 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM todolists WHERE id = ANY($1)`, pq.Array(matched))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if int(affected) != len(matched) {
			return fmt.Errorf("matrix delete: expected %d rows, deleted %d", len(matched), affected)
		}
		result.DeletedTodolists = len(matched)
		return nil
	})
	if err != nil {
		return BulkDeleteResult{}, err
	}
	m.Logger.Info("matrix group deleted",
		zap.String("signature", signature),
		zap.String("type", req.Type),
		zap.String("actor_id", actorID),
		zap.Int("todolists", result.DeletedTodolists),
		zap.Int("tasks", result.DeletedTasks),
	)
	return result, nil
}
