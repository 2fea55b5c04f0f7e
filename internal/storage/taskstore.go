package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/valter-silva-au/taskmaster/pkg/models"
)

// Sentinel lookup errors, shared with the models package so callers can
// match them with errors.Is regardless of which layer wrapped them.
var (
	ErrTaskNotFound    = models.ErrTaskNotFound
	ErrSubtaskNotFound = models.ErrSubtaskNotFound
)

// TaskStore reads and writes tasks.json with full-file semantics.
type TaskStore interface {
	// Read loads the whole file. A missing file reads as an empty task list.
	Read(path string) (*models.TasksFile, error)
	// Write replaces the whole file atomically.
	Write(path string, data *models.TasksFile) error
	// Update runs read, fn, write as one step under the store's writer lock.
	// Nothing is written when fn returns an error.
	Update(path string, fn func(data *models.TasksFile) error) error
}

type jsonTaskStore struct {
	mu sync.Mutex
}

// NewTaskStore creates a TaskStore backed by JSON files. A single store
// serialises all writers inside the process; the lock file next to tasks.json
// serialises writers across processes.
func NewTaskStore() TaskStore {
	return &jsonTaskStore{}
}

func (s *jsonTaskStore) Read(path string) (*models.TasksFile, error) {
	return readTasksFile(path)
}

func (s *jsonTaskStore) Write(path string, data *models.TasksFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	return writeTasksFile(path, data)
}

func (s *jsonTaskStore) Update(path string, fn func(data *models.TasksFile) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := lockFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()

	data, err := readTasksFile(path)
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return writeTasksFile(path, data)
}

func readTasksFile(path string) (*models.TasksFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &models.TasksFile{Tasks: []models.Task{}}, nil
		}
		return nil, fmt.Errorf("reading tasks file: %w", err)
	}

	var data models.TasksFile
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parsing tasks file %s: %w", path, err)
		}
	}
	if data.Tasks == nil {
		data.Tasks = []models.Task{}
	}
	data.LinkSubtasks()
	return &data, nil
}

func writeTasksFile(path string, data *models.TasksFile) error {
	if data == nil {
		return fmt.Errorf("writing tasks file: nil data")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating tasks directory: %w", err)
	}

	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling tasks file: %w", err)
	}
	out = append(out, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("creating temp tasks file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp tasks file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp tasks file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing tasks file: %w", err)
	}
	return nil
}
