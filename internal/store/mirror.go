package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mapcal/mapcal/internal/calendar"
)

// Record is the durable form of a calendar entry.
type Record struct {
	ID        string            `json:"id"`
	Document  calendar.Document `json:"document"`
	Revision  int64             `json:"revision"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Mirror persists calendar records. Save must be durable when it returns.
type Mirror interface {
	// Load returns every persisted record.
	Load(ctx context.Context) ([]Record, error)

	// Save creates or replaces the record for rec.ID.
	Save(ctx context.Context, rec Record) error

	// Delete removes the record for id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

const fileSuffix = ".json"

// FileMirror stores one JSON file per calendar in a directory.
type FileMirror struct {
	dir string
}

// NewFileMirror creates a file mirror rooted at dir, creating the directory if needed.
func NewFileMirror(dir string) (*FileMirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileMirror{dir: dir}, nil
}

// Load reads every calendar file in the directory.
func (m *FileMirror) Load(_ context.Context) ([]Record, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	records := make([]Record, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileSuffix) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entry.Name(), err)
		}
		if rec.ID == "" {
			rec.ID = strings.TrimSuffix(entry.Name(), fileSuffix)
		}
		if rec.Document.Events == nil {
			rec.Document.Events = make(map[int][]calendar.Event)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save writes the record to a temp file, syncs it and renames it over the old file.
func (m *FileMirror) Save(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	tmp, err := os.CreateTemp(m.dir, rec.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, m.path(rec.ID)); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Delete removes the calendar file.
func (m *FileMirror) Delete(_ context.Context, id string) error {
	err := os.Remove(m.path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return nil
}

func (m *FileMirror) path(id string) string {
	return filepath.Join(m.dir, id+fileSuffix)
}

// InMemoryMirror keeps records in memory.
// This is intended for testing. Production should use FileMirror or PostgresMirror.
type InMemoryMirror struct {
	mu      sync.RWMutex
	records map[string]Record
	failErr error
}

// NewInMemoryMirror creates an empty in-memory mirror.
func NewInMemoryMirror() *InMemoryMirror {
	return &InMemoryMirror{records: make(map[string]Record)}
}

// FailWith makes subsequent Save and Delete calls return err. Pass nil to recover.
func (m *InMemoryMirror) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Load returns copies of all records.
func (m *InMemoryMirror) Load(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Document = rec.Document.Clone()
		out = append(out, rec)
	}
	return out, nil
}

// Save stores a copy of the record.
func (m *InMemoryMirror) Save(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	rec.Document = rec.Document.Clone()
	m.records[rec.ID] = rec
	return nil
}

// Delete removes the record.
func (m *InMemoryMirror) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failErr != nil {
		return m.failErr
	}
	delete(m.records, id)
	return nil
}

// Record returns the stored record for id.
func (m *InMemoryMirror) Record(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Ensure implementations satisfy Mirror.
var (
	_ Mirror = (*FileMirror)(nil)
	_ Mirror = (*InMemoryMirror)(nil)
)
