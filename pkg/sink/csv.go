package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

// Columns is the field order shared by the tabular formats.
var Columns = []string{"display_name", "native_script_name", "meaning", "url", "category"}

func recordRow(r model.Record) []string {
	return []string{r.DisplayName, r.NativeName, r.Meaning, r.URL, string(r.Category)}
}

// CSVSink writes records to a CSV file with a header row.
type CSVSink struct {
	path   string
	file   *os.File
	closed bool
}

// NewCSVSink opens the CSV file at path. The header is written whenever the
// file starts out empty.
func NewCSVSink(path string, mode Mode) (*CSVSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("csv", "open", err)
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if mode == Resume {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, wrapErr("csv", "open", err)
	}

	s := &CSVSink{path: path, file: f}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, wrapErr("csv", "open", err)
	}
	if info.Size() > 0 {
		return s, nil
	}
	if err := s.write([][]string{Columns}); err != nil {
		f.Close()
		return nil, wrapErr("csv", "write header", err)
	}
	return s, nil
}

func (s *CSVSink) Format() string { return "csv" }

func (s *CSVSink) Path() string { return s.path }

// Append encodes the whole batch first and writes it with a single write.
func (s *CSVSink) Append(_ context.Context, records []model.Record) error {
	if s.closed {
		return wrapErr("csv", "append", ErrClosed)
	}
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = recordRow(r)
	}
	return wrapErr("csv", "append", s.write(rows))
}

func (s *CSVSink) write(rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *CSVSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return wrapErr("csv", "close", s.file.Close())
}
