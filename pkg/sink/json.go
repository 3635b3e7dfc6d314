package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

// JSONSink streams records into a JSON array. The file is a valid JSON
// document once Close has returned.
type JSONSink struct {
	path   string
	file   *os.File
	count  int
	closed bool
}

// NewJSONSink opens the JSON file at path. In Resume mode an existing array
// is reopened: its closing bracket is cut off and new elements follow the
// old ones. A file left unterminated by an interrupted run is accepted.
func NewJSONSink(path string, mode Mode) (*JSONSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrapErr("json", "open", err)
	}
	if mode == Resume {
		if s, err := reopenJSON(path); err != nil || s != nil {
			return s, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, wrapErr("json", "open", err)
	}
	if _, err := f.WriteString("["); err != nil {
		f.Close()
		return nil, wrapErr("json", "open", err)
	}
	return &JSONSink{path: path, file: f}, nil
}

// reopenJSON returns nil, nil when there is no array to continue.
func reopenJSON(path string) (*JSONSink, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("json", "open", err)
	}

	body := bytes.TrimRight(data, " \t\r\n")
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] != '[' {
		return nil, wrapErr("json", "open", fmt.Errorf("%s does not hold a JSON array", path))
	}
	if body[len(body)-1] == ']' {
		body = bytes.TrimRight(body[:len(body)-1], " \t\r\n")
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, wrapErr("json", "open", err)
	}
	if err := f.Truncate(int64(len(body))); err != nil {
		f.Close()
		return nil, wrapErr("json", "open", err)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, wrapErr("json", "open", err)
	}

	s := &JSONSink{path: path, file: f}
	if len(body) > 1 {
		// count only drives the separator between elements
		s.count = 1
	}
	return s, nil
}

func (s *JSONSink) Format() string { return "json" }

func (s *JSONSink) Path() string { return s.path }

// Append writes all elements of the batch with a single write.
func (s *JSONSink) Append(_ context.Context, records []model.Record) error {
	if s.closed {
		return wrapErr("json", "append", ErrClosed)
	}
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return wrapErr("json", "encode", err)
		}
		if s.count+i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString("\n  ")
		buf.Write(data)
	}

	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return wrapErr("json", "append", err)
	}
	if err := s.file.Sync(); err != nil {
		return wrapErr("json", "append", err)
	}
	s.count += len(records)
	return nil
}

// Close terminates the array.
func (s *JSONSink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if _, err := s.file.WriteString("\n]\n"); err != nil {
		s.file.Close()
		return wrapErr("json", "close", err)
	}
	return wrapErr("json", "close", s.file.Close())
}
