package screening

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileRecordStore keeps every application record in a single JSON file. The
// file is rewritten through a temporary file and renamed into place. It is
// safe for concurrent use within one process only.
type FileRecordStore struct {
	mutex sync.Mutex
	path  string
	now   func() time.Time
}

// NewFileRecordStore returns a store backed by applications.json in dir.
func NewFileRecordStore(dir string) (*FileRecordStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create record directory %s: %w", dir, err)
	}
	return &FileRecordStore{path: filepath.Join(dir, "applications.json"), now: time.Now}, nil
}

// Path returns the location of the records file.
func (s *FileRecordStore) Path() string {
	return s.path
}

func (s *FileRecordStore) Upsert(ctx context.Context, applicationID, cvText string) (*UpsertResult, error) {
	var result *UpsertResult
	err := s.update(func(table *recordTable) {
		result = table.upsert(applicationID, cvText, s.now())
	})
	return result, err
}

func (s *FileRecordStore) UpdateAnalysis(ctx context.Context, applicationID string, extracted map[string]any, score int, flags []string) error {
	return s.update(func(table *recordTable) {
		table.updateAnalysis(applicationID, extracted, score, flags, s.now())
	})
}

func (s *FileRecordStore) SetDecision(ctx context.Context, applicationID, decision, notes string) error {
	return s.update(func(table *recordTable) {
		table.setDecision(applicationID, decision, notes, s.now())
	})
}

func (s *FileRecordStore) Get(ctx context.Context, applicationID string) (*Application, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	table, err := s.load()
	if err != nil {
		return nil, err
	}
	return table.get(applicationID)
}

func (s *FileRecordStore) update(fn func(table *recordTable)) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	table, err := s.load()
	if err != nil {
		return err
	}
	fn(table)
	return s.save(table)
}

func (s *FileRecordStore) load() (*recordTable, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newRecordTable(), nil
		}
		return nil, fmt.Errorf("failed to read records file: %w", err)
	}
	table := newRecordTable()
	if err := json.Unmarshal(data, table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal records: %w", err)
	}
	if table.Rows == nil {
		table.Rows = map[string]*Application{}
	}
	return table, nil
}

func (s *FileRecordStore) save(table *recordTable) error {
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".applications-*")
	if err != nil {
		return fmt.Errorf("failed to create records file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write records file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close records file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to commit records file: %w", err)
	}
	return nil
}
