package services

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// rowWriter serializes a table one row at a time.
type rowWriter interface {
	Header(columns []string) error
	Row(values []string) error
	Close() error
}

func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "application/octet-stream"
}

func newRowWriter(format, sheet string, w io.Writer) (rowWriter, error) {
	switch format {
	case FormatCSV:
		writer, err := newCSVWriter(w)
		if err != nil {
			return nil, err
		}
		return writer, nil
	case FormatJSON:
		return &jsonRowWriter{out: bufio.NewWriter(w)}, nil
	case FormatXLSX:
		return newXLSXWriter(sheet, w)
	}
	return nil, ErrBadRequest("Unsupported export format")
}

type csvRowWriter struct {
	out *csv.Writer
}

func newCSVWriter(w io.Writer) (*csvRowWriter, error) {
	// BOM so spreadsheet apps detect UTF-8.
	if _, err := w.Write([]byte("\xEF\xBB\xBF")); err != nil {
		return nil, err
	}
	return &csvRowWriter{out: csv.NewWriter(w)}, nil
}

func (c *csvRowWriter) Header(columns []string) error {
	return c.out.Write(columns)
}

func (c *csvRowWriter) Row(values []string) error {
	return c.out.Write(values)
}

func (c *csvRowWriter) Close() error {
	c.out.Flush()
	return c.out.Error()
}

// jsonRowWriter streams an array of objects keeping column order.
type jsonRowWriter struct {
	out     *bufio.Writer
	columns []string
	rows    int
}

func (j *jsonRowWriter) Header(columns []string) error {
	j.columns = columns
	_, err := j.out.WriteString("[")
	return err
}

func (j *jsonRowWriter) Row(values []string) error {
	if j.rows > 0 {
		if _, err := j.out.WriteString(","); err != nil {
			return err
		}
	}
	j.rows++
	if _, err := j.out.WriteString("\n{"); err != nil {
		return err
	}
	for i, column := range j.columns {
		if i > 0 {
			_ = j.out.WriteByte(',')
		}
		key, _ := json.Marshal(column)
		value := ""
		if i < len(values) {
			value = values[i]
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return err
		}
		_, _ = j.out.Write(key)
		_ = j.out.WriteByte(':')
		if _, err := j.out.Write(encoded); err != nil {
			return err
		}
	}
	_, err := j.out.WriteString("}")
	return err
}

func (j *jsonRowWriter) Close() error {
	if _, err := j.out.WriteString("\n]\n"); err != nil {
		return err
	}
	return j.out.Flush()
}

type xlsxRowWriter struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	out    io.Writer
	row    int
	style  int
}

func newXLSXWriter(sheet string, w io.Writer) (*xlsxRowWriter, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to open stream writer: %w", err)
	}
	return &xlsxRowWriter{file: f, stream: stream, out: w, style: style}, nil
}

func (x *xlsxRowWriter) Header(columns []string) error {
	if err := x.stream.SetColWidth(1, len(columns), 22); err != nil {
		return err
	}
	return x.write(columns, excelize.RowOpts{StyleID: x.style})
}

func (x *xlsxRowWriter) Row(values []string) error {
	return x.write(values)
}

func (x *xlsxRowWriter) write(values []string, opts ...excelize.RowOpts) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return err
	}
	row := make([]interface{}, len(values))
	for i, value := range values {
		row[i] = value
	}
	return x.stream.SetRow(cell, row, opts...)
}

func (x *xlsxRowWriter) Close() error {
	defer x.file.Close()
	if err := x.stream.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	_, err := x.file.WriteTo(x.out)
	return err
}
