package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/names-scraper/pkg/model"
	"github.com/xuri/excelize/v2"
)

const xlsxSheet = "Names"

// XLSXSink collects records in a workbook that is written to disk on Close.
type XLSXSink struct {
	path   string
	file   *excelize.File
	row    int
	closed bool
}

// NewXLSXSink prepares a workbook with a header row. In Resume mode an
// existing workbook is loaded and rows are added below its last row.
//
// The workbook is only written by Close, so rows of a run that never closed
// its sinks are missing from the file.
func NewXLSXSink(path string, mode Mode) (*XLSXSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("xlsx", "open", err)
	}
	if mode == Resume {
		if _, err := os.Stat(path); err == nil {
			return reopenXLSX(path)
		}
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		f.Close()
		return nil, wrapErr("xlsx", "open", err)
	}
	s := &XLSXSink{path: path, file: f, row: 1}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := s.setRow(header); err != nil {
		f.Close()
		return nil, wrapErr("xlsx", "write header", err)
	}
	return s, nil
}

func reopenXLSX(path string) (*XLSXSink, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, wrapErr("xlsx", "open", err)
	}
	rows, err := f.GetRows(xlsxSheet)
	if err != nil {
		f.Close()
		return nil, wrapErr("xlsx", "open", err)
	}
	return &XLSXSink{path: path, file: f, row: len(rows) + 1}, nil
}

func (s *XLSXSink) Format() string { return "xlsx" }

func (s *XLSXSink) Path() string { return s.path }

func (s *XLSXSink) setRow(values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		return err
	}
	if err := s.file.SetSheetRow(xlsxSheet, cell, &values); err != nil {
		return err
	}
	s.row++
	return nil
}

func (s *XLSXSink) Append(_ context.Context, records []model.Record) error {
	if s.closed {
		return wrapErr("xlsx", "append", ErrClosed)
	}
	for _, r := range records {
		row := recordRow(r)
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = v
		}
		if err := s.setRow(values); err != nil {
			return wrapErr("xlsx", "append", fmt.Errorf("row %d: %w", s.row, err))
		}
	}
	return nil
}

// Close saves the workbook.
func (s *XLSXSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer s.file.Close()

	_ = s.file.SetColWidth(xlsxSheet, "A", "B", 24)
	_ = s.file.SetColWidth(xlsxSheet, "C", "C", 60)
	_ = s.file.SetColWidth(xlsxSheet, "D", "D", 48)
	_ = s.file.SetColWidth(xlsxSheet, "E", "E", 10)

	return wrapErr("xlsx", "save", s.file.SaveAs(s.path))
}
