package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrCorrupt is returned when the progress file does not match the schema.
var ErrCorrupt = errors.New("corrupt progress file")

const stateSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "categories"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "categories": {
      "type": "object",
      "propertyNames": {"enum": ["male", "female"]},
      "additionalProperties": {
        "type": "object",
        "required": ["completed_pages"],
        "properties": {
          "completed_pages": {
            "type": "array",
            "items": {"type": "integer", "minimum": 1},
            "uniqueItems": true
          },
          "total_pages": {"type": "integer", "minimum": 0},
          "records": {"type": "integer", "minimum": 0}
        }
      }
    },
    "total_records": {"type": "integer", "minimum": 0},
    "last_updated": {"type": "string"}
  }
}`

var compiledSchema = jsonschema.MustCompileString("progress.schema.json", stateSchema)

// FileStore keeps progress in a JSON file. Saves replace the file atomically.
type FileStore struct {
	path string
}

// NewFileStore creates a store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the progress file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads and validates the progress file.
func (s *FileStore) Load(_ context.Context) (State, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("read %s: %w", s.path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}

	state := NewState()
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if state.Categories == nil {
		state.Categories = NewState().Categories
	}
	return state, nil
}

// Save writes state to a temporary file, syncs it and renames it over the
// progress file.
func (s *FileStore) Save(_ context.Context, state State) error {
	if state.Version == 0 {
		state.Version = StateVersion
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}
	return nil
}

// Clear removes the progress file.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", s.path, err)
	}
	return nil
}
