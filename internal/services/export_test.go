package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var deviceCols = []string{"id", "name", "location", "description", "tags", "deleted", "created_at", "updated_at"}

func TestParseExportRequestValidation(t *testing.T) {
	cases := []struct {
		name    string
		kind    string
		format  string
		start   string
		end     string
		message string
	}{
		{"unknown kind", "users", "csv", "", "", "Unsupported export type"},
		{"unknown format", "devices", "pdf", "", "", "Unsupported export format"},
		{"missing dates", "todolists", "csv", "", "", "startDate and endDate are required"},
		{"bad start", "tasks", "json", "2024/01/01", "2024-01-31", "Invalid startDate, expected YYYY-MM-DD"},
		{"reversed", "tasks", "xlsx", "2024-02-01", "2024-01-31", "startDate must not be after endDate"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseExportRequest(tc.kind, tc.format, tc.start, tc.end, "", "", "", time.UTC)
			serr, ok := AsServiceError(err)
			require.True(t, ok)
			assert.Equal(t, 400, serr.Status)
			assert.Equal(t, tc.message, serr.Message)
		})
	}

	_, err := ParseExportRequest("devices", "csv", "", "", "bad", "", "", time.UTC)
	assert.Error(t, err)
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)

	req, err := ParseExportRequest("Todolists", "CSV", "2024-01-01", "2024-01-31", "", "", "", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "todolists_2024-01-01_2024-01-31.csv", req.Filename(now))

	req, err = ParseExportRequest("devices", "xlsx", "2024-01-01", "2024-01-31", "", "", "", time.UTC)
	require.NoError(t, err)
	assert.True(t, req.Range.IsZero())
	assert.Equal(t, "devices_20240304-050607.xlsx", req.Filename(now))
}

func TestExportDevicesPagesByPrimaryKey(t *testing.T) {
	database, mock := newMockDB(t)
	exporter := NewExporter(database, fixedClock(time.Now()), 2, zap.NewNop())
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM devices WHERE deleted = FALSE ORDER BY id LIMIT").
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(deviceCols).
			AddRow("DAAAAAA1", "Cella 1", "Magazzino", "", "{frigo,nord}", false, created, created).
			AddRow("DAAAAAA2", "Cella 2", "Magazzino", "Bassa, temperatura", "{}", false, created, created))
	mock.ExpectQuery("FROM devices WHERE deleted = FALSE ORDER BY id LIMIT").
		WithArgs(2, 2).
		WillReturnRows(sqlmock.NewRows(deviceCols).
			AddRow("DAAAAAA3", "Forno", "Cucina", "", "{}", false, created, created))

	req, err := ParseExportRequest("devices", "csv", "", "", "", "", "", time.UTC)
	require.NoError(t, err)
	job, err := exporter.Prepare(context.Background(), req)
	require.NoError(t, err)

	var out bytes.Buffer
	count, err := job.Stream(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	records, err := csv.NewReader(strings.NewReader(strings.TrimPrefix(out.String(), "\xEF\xBB\xBF"))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"id", "name", "location", "description", "tags"}, records[0])
	assert.Equal(t, []string{"DAAAAAA1", "Cella 1", "Magazzino", "", "frigo;nord"}, records[1])
	assert.Equal(t, "Bassa, temperatura", records[2][3])
	assert.Equal(t, "DAAAAAA3", records[3][0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportTodolistsJSONMarksExpired(t *testing.T) {
	database, mock := newMockDB(t)
	exporter := NewExporter(database, fixedClock(time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)), 100, zap.NewNop())
	day := func(d int) time.Time { return time.Date(2024, 1, d, 9, 30, 0, 0, time.UTC) }
	cols := []string{"id", "device_id", "scheduled_execution", "status", "time_slot_type", "time_slot_start",
		"time_slot_end", "completion_date", "completed_by", "created_at", "device_name", "completed_by_email", "kpi_ids"}

	mock.ExpectQuery("FROM todolists t").
		WithArgs(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), pq.Array([]string{"DAAAAAA1"}), 100, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("tl-1", "DAAAAAA1", day(5), "pending", "standard", nil, nil, nil, nil, day(1), "Cella 1", nil, "K1|K2").
			AddRow("tl-2", "DAAAAAA1", day(6), "completed", "standard", nil, nil, day(6), "op-1", day(1), "Cella 1", "op@sicet.it", "K1"))

	req, err := ParseExportRequest("todolists", "json", "2024-01-01", "2024-01-31", "DAAAAAA1", "", "", time.UTC)
	require.NoError(t, err)
	job, err := exporter.Prepare(context.Background(), req)
	require.NoError(t, err)

	var out bytes.Buffer
	count, err := job.Stream(context.Background(), &out)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	var rows []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "true", rows[0]["expired"])
	assert.Equal(t, "2024-01-05 09:30", rows[0]["scheduled_execution"])
	assert.Equal(t, "K1|K2", rows[0]["kpi_ids"])
	assert.Equal(t, "false", rows[1]["expired"])
	assert.Equal(t, "op@sicet.it", rows[1]["completed_by"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportUnknownTemplateFailsBeforeStreaming(t *testing.T) {
	database, mock := newMockDB(t)
	exporter := NewExporter(database, fixedClock(time.Now()), 100, zap.NewNop())
	templateID := "3f1c2c4e-8d7b-4f55-9a3c-2f9d9e7a1b10"

	mock.ExpectQuery("FROM report_templates WHERE id").
		WithArgs(templateID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	req, err := ParseExportRequest("kpis", "csv", "", "", "", "", templateID, time.UTC)
	require.NoError(t, err)
	_, err = exporter.Prepare(context.Background(), req)
	serr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, 404, serr.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestXLSXWriterProducesReadableSheet(t *testing.T) {
	var out bytes.Buffer
	writer, err := newRowWriter(FormatXLSX, ExportDevices, &out)
	require.NoError(t, err)
	require.NoError(t, writer.Header([]string{"id", "name"}))
	require.NoError(t, writer.Row([]string{"DAAAAAA1", "Cella 1"}))
	require.NoError(t, writer.Close())

	book, err := excelize.OpenReader(&out)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(ExportDevices)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "name"}, {"DAAAAAA1", "Cella 1"}}, rows)
}

func TestJSONWriterEmptyTable(t *testing.T) {
	var out bytes.Buffer
	writer, err := newRowWriter(FormatJSON, ExportKPIs, &out)
	require.NoError(t, err)
	require.NoError(t, writer.Header([]string{"id"}))
	require.NoError(t, writer.Close())

	var rows []map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &rows))
	assert.Empty(t, rows)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestCSVWriterFailsWhenBOMCannotBeWritten(t *testing.T) {
	writer, err := newRowWriter(FormatCSV, ExportDevices, brokenWriter{})
	assert.EqualError(t, err, "connection reset")
	assert.Nil(t, writer)

	var out bytes.Buffer
	writer, err = newRowWriter(FormatCSV, ExportDevices, &out)
	require.NoError(t, err)
	require.NoError(t, writer.Header([]string{"id"}))
	require.NoError(t, writer.Close())
	assert.Equal(t, "\xEF\xBB\xBFid\n", out.String())
}
