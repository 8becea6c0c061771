package services

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"sicet-backend-go/internal/models"
)

const (
	ExportTodolists = "todolists"
	ExportTasks     = "tasks"
	ExportDevices   = "devices"
	ExportKPIs      = "kpis"
)

const (
	defaultExportPageSize = 1000
	exportTimeLayout      = "2006-01-02 15:04"
)

// ExportRequest is a validated export query. Nothing in it has touched the
// database yet.
type ExportRequest struct {
	Kind       string
	Format     string
	Range      DateRange
	DeviceID   string
	KPIID      string
	TemplateID string
}

func usesDateRange(kind string) bool {
	return kind == ExportTodolists || kind == ExportTasks
}

// ParseExportRequest checks kind, format, ids and dates. Todolist and task
// exports require a date range.
func ParseExportRequest(kind, format, startRaw, endRaw, deviceID, kpiID, templateID string, loc *time.Location) (ExportRequest, error) {
	req := ExportRequest{
		Kind:       strings.ToLower(strings.TrimSpace(kind)),
		Format:     strings.ToLower(strings.TrimSpace(format)),
		DeviceID:   strings.TrimSpace(deviceID),
		KPIID:      strings.TrimSpace(kpiID),
		TemplateID: strings.TrimSpace(templateID),
	}
	switch req.Kind {
	case ExportTodolists, ExportTasks, ExportDevices, ExportKPIs:
	default:
		return ExportRequest{}, ErrBadRequest("Unsupported export type")
	}
	switch req.Format {
	case FormatCSV, FormatJSON, FormatXLSX:
	default:
		return ExportRequest{}, ErrBadRequest("Unsupported export format")
	}
	if usesDateRange(req.Kind) {
		dates, err := ParseDateRange(startRaw, endRaw, loc, true)
		if err != nil {
			return ExportRequest{}, err
		}
		req.Range = dates
	}
	if req.DeviceID != "" && !IsDeviceID(req.DeviceID) {
		return ExportRequest{}, ErrBadRequest("Invalid device id")
	}
	if req.KPIID != "" && !IsKPIID(req.KPIID) {
		return ExportRequest{}, ErrBadRequest("Invalid KPI id")
	}
	return req, nil
}

// Filename is <kind>_<start>_<end>.<ext>, or <kind>_<timestamp>.<ext> when
// the export is not bounded by dates.
func (r ExportRequest) Filename(now time.Time) string {
	if !r.Range.IsZero() {
		return fmt.Sprintf("%s_%s.%s", r.Kind, r.Range.Label(), r.Format)
	}
	return fmt.Sprintf("%s_%s.%s", r.Kind, now.Format("20060102-150405"), r.Format)
}

type Exporter struct {
	DB       *sqlx.DB
	Clock    Clock
	PageSize int
	Logger   *zap.Logger
}

func NewExporter(database *sqlx.DB, clock Clock, pageSize int, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{DB: database, Clock: clock, PageSize: pageSize, Logger: logger.Named("export")}
}

// exportSource is one paginated table read. query has two trailing
// placeholders for LIMIT and OFFSET.
type exportSource struct {
	columns []string
	query   string
	args    []interface{}
	row     func(rows *sqlx.Rows) ([]string, error)
}

// ExportJob is a prepared export whose filters have been resolved.
type ExportJob struct {
	Request  ExportRequest
	exporter *Exporter
	source   exportSource
}

// Prepare resolves the optional template and builds the query. Errors here
// happen before any byte of the export is written.
func (e *Exporter) Prepare(ctx context.Context, req ExportRequest) (*ExportJob, error) {
	var filter exportFilter
	if req.DeviceID != "" {
		filter.deviceIDs = append(filter.deviceIDs, []string{req.DeviceID})
	}
	if req.KPIID != "" {
		filter.kpiIDs = append(filter.kpiIDs, []string{req.KPIID})
	}
	if req.TemplateID != "" {
		template, err := GetTemplate(ctx, e.DB, req.TemplateID)
		if err != nil {
			return nil, err
		}
		if len(template.DeviceIDs) > 0 {
			filter.deviceIDs = append(filter.deviceIDs, []string(template.DeviceIDs))
		}
		if len(template.KPIIDs) > 0 {
			filter.kpiIDs = append(filter.kpiIDs, []string(template.KPIIDs))
		}
	}
	var source exportSource
	switch req.Kind {
	case ExportTodolists:
		source = e.todolistSource(req.Range, filter)
	case ExportTasks:
		source = e.taskSource(req.Range, filter)
	case ExportDevices:
		source = deviceSource(filter)
	case ExportKPIs:
		source = kpiSource(filter)
	default:
		return nil, ErrBadRequest("Unsupported export type")
	}
	return &ExportJob{Request: req, exporter: e, source: source}, nil
}

// Stream pages through the source ordered by primary key and writes every
// row in the requested format. It returns the number of data rows written.
func (j *ExportJob) Stream(ctx context.Context, w io.Writer) (int, error) {
	writer, err := newRowWriter(j.Request.Format, j.Request.Kind, w)
	if err != nil {
		return 0, err
	}
	if err := writer.Header(j.source.columns); err != nil {
		return 0, err
	}
	pageSize := j.exporter.PageSize
	if pageSize <= 0 {
		pageSize = defaultExportPageSize
	}
	total := 0
	for offset := 0; ; offset += pageSize {
		args := append(append([]interface{}{}, j.source.args...), pageSize, offset)
		count, err := j.page(ctx, writer, args)
		total += count
		if err != nil {
			return total, err
		}
		if count < pageSize {
			break
		}
	}
	if err := writer.Close(); err != nil {
		return total, err
	}
	j.exporter.Logger.Info("export written",
		zap.String("kind", j.Request.Kind),
		zap.String("format", j.Request.Format),
		zap.Int("rows", total),
	)
	return total, nil
}

func (j *ExportJob) page(ctx context.Context, writer rowWriter, args []interface{}) (int, error) {
	rows, err := j.exporter.DB.QueryxContext(ctx, j.source.query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		values, err := j.source.row(rows)
		if err != nil {
			return count, err
		}
		if err := writer.Row(values); err != nil {
			return count, err
		}
		count++
	}
	return count, rows.Err()
}

// exportFilter holds id sets that must all match; each set is one ANY clause.
type exportFilter struct {
	deviceIDs [][]string
	kpiIDs    [][]string
}

type clauseBuilder struct {
	clauses []string
	args    []interface{}
}

func (b *clauseBuilder) add(format string, value interface{}) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf(format, len(b.args)))
}

func (b *clauseBuilder) where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *clauseBuilder) paging() string {
	return fmt.Sprintf("LIMIT $%d OFFSET $%d", len(b.args)+1, len(b.args)+2)
}

type todolistExportRow struct {
	models.Todolist
	DeviceName       string  `db:"device_name"`
	CompletedByEmail *string `db:"completed_by_email"`
	KPIIDs           string  `db:"kpi_ids"`
}

func (e *Exporter) todolistSource(dates DateRange, filter exportFilter) exportSource {
	from, to := dates.Bounds()
	b := &clauseBuilder{}
	b.add("t.scheduled_execution >= $%d", from)
	b.add("t.scheduled_execution < $%d", to)
	for _, ids := range filter.deviceIDs {
		b.add("t.device_id = ANY($%d)", pq.Array(ids))
	}
	for _, ids := range filter.kpiIDs {
		b.add("EXISTS (SELECT 1 FROM tasks f WHERE f.todolist_id = t.id AND f.kpi_id = ANY($%d))", pq.Array(ids))
	}
	query := fmt.Sprintf(`
SELECT %s, d.name AS device_name, u.email AS completed_by_email,
       COALESCE((SELECT string_agg(DISTINCT k.kpi_id, '|' ORDER BY k.kpi_id) FROM tasks k WHERE k.todolist_id = t.id), '') AS kpi_ids
FROM todolists t
JOIN devices d ON d.id = t.device_id
LEFT JOIN profiles u ON u.id = t.completed_by
%s
ORDER BY t.id
%s`, todolistColumns, b.where(), b.paging())
	clock := e.Clock
	return exportSource{
		columns: []string{"id", "device_id", "device_name", "scheduled_execution", "time_slot_type", "time_slot_start",
			"time_slot_end", "status", "expired", "completion_date", "completed_by", "kpi_ids"},
		query: query,
		args:  b.args,
		row: func(rows *sqlx.Rows) ([]string, error) {
			var item todolistExportRow
			if err := rows.StructScan(&item); err != nil {
				return nil, err
			}
			now := clock.Current()
			return []string{
				item.ID,
				item.DeviceID,
				item.DeviceName,
				formatExportTime(item.ScheduledExecution, clock),
				item.TimeSlotType,
				derefString(item.TimeSlotStart),
				derefString(item.TimeSlotEnd),
				item.Status,
				strconv.FormatBool(clock.Overdue(item.Todolist, now)),
				formatExportTimePtr(item.CompletionDate, clock),
				derefString(item.CompletedByEmail),
				item.KPIIDs,
			}, nil
		},
	}
}

type taskExportRow struct {
	ID               string         `db:"id"`
	TodolistID       string         `db:"todolist_id"`
	DeviceID         string         `db:"device_id"`
	DeviceName       string         `db:"device_name"`
	Scheduled        time.Time      `db:"scheduled_execution"`
	KPIID            string         `db:"kpi_id"`
	KPIName          string         `db:"kpi_name"`
	Status           string         `db:"status"`
	Value            types.JSONText `db:"value"`
	AlertChecked     bool           `db:"alert_checked"`
	CompletedByEmail *string        `db:"completed_by_email"`
	CompletedAt      *time.Time     `db:"completed_at"`
}

func (e *Exporter) taskSource(dates DateRange, filter exportFilter) exportSource {
	from, to := dates.Bounds()
	b := &clauseBuilder{}
	b.add("t.scheduled_execution >= $%d", from)
	b.add("t.scheduled_execution < $%d", to)
	for _, ids := range filter.deviceIDs {
		b.add("t.device_id = ANY($%d)", pq.Array(ids))
	}
	for _, ids := range filter.kpiIDs {
		b.add("k.kpi_id = ANY($%d)", pq.Array(ids))
	}
	query := fmt.Sprintf(`
SELECT k.id, k.todolist_id, t.device_id, d.name AS device_name, t.scheduled_execution, k.kpi_id,
       p.name AS kpi_name, k.status, k.value, k.alert_checked, u.email AS completed_by_email, k.completed_at
FROM tasks k
JOIN todolists t ON t.id = k.todolist_id
JOIN devices d ON d.id = t.device_id
JOIN kpis p ON p.id = k.kpi_id
LEFT JOIN profiles u ON u.id = k.completed_by
%s
ORDER BY k.id
%s`, b.where(), b.paging())
	clock := e.Clock
	return exportSource{
		columns: []string{"id", "todolist_id", "device_id", "device_name", "scheduled_execution", "kpi_id",
			"kpi_name", "status", "value", "alert_checked", "completed_by", "completed_at"},
		query: query,
		args:  b.args,
		row: func(rows *sqlx.Rows) ([]string, error) {
			var item taskExportRow
			if err := rows.StructScan(&item); err != nil {
				return nil, err
			}
			return []string{
				item.ID,
				item.TodolistID,
				item.DeviceID,
				item.DeviceName,
				formatExportTime(item.Scheduled, clock),
				item.KPIID,
				item.KPIName,
				item.Status,
				string(item.Value),
				strconv.FormatBool(item.AlertChecked),
				derefString(item.CompletedByEmail),
				formatExportTimePtr(item.CompletedAt, clock),
			}, nil
		},
	}
}

func deviceSource(filter exportFilter) exportSource {
	b := &clauseBuilder{clauses: []string{"deleted = FALSE"}}
	for _, ids := range filter.deviceIDs {
		b.add("id = ANY($%d)", pq.Array(ids))
	}
	return exportSource{
		columns: []string{"id", "name", "location", "description", "tags"},
		query:   fmt.Sprintf("SELECT %s FROM devices %s ORDER BY id %s", deviceColumns, b.where(), b.paging()),
		args:    b.args,
		row: func(rows *sqlx.Rows) ([]string, error) {
			var device models.Device
			if err := rows.StructScan(&device); err != nil {
				return nil, err
			}
			return []string{device.ID, device.Name, device.Location, device.Description, strings.Join(device.Tags, ";")}, nil
		},
	}
}

func kpiSource(filter exportFilter) exportSource {
	b := &clauseBuilder{clauses: []string{"deleted = FALSE"}}
	for _, ids := range filter.kpiIDs {
		b.add("id = ANY($%d)", pq.Array(ids))
	}
	return exportSource{
		columns: []string{"id", "name", "description", "fields"},
		query:   fmt.Sprintf("SELECT %s FROM kpis %s ORDER BY id %s", kpiColumns, b.where(), b.paging()),
		args:    b.args,
		row: func(rows *sqlx.Rows) ([]string, error) {
			var kpi models.KPI
			if err := rows.StructScan(&kpi); err != nil {
				return nil, err
			}
			fields, err := kpi.Value.Value()
			if err != nil {
				return nil, err
			}
			return []string{kpi.ID, kpi.Name, kpi.Description, string(fields.([]byte))}, nil
		},
	}
}

func formatExportTime(value time.Time, clock Clock) string {
	return value.In(clock.loc()).Format(exportTimeLayout)
}

func formatExportTimePtr(value *time.Time, clock Clock) string {
	if value == nil {
		return ""
	}
	return formatExportTime(*value, clock)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
