package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// ErrNoSnapshot is returned by LoadSnapshot when nothing has been saved yet.
var ErrNoSnapshot = errors.New("no snapshot saved")

// FileStore keeps the context snapshot in a single JSON file. Writes go to a
// temporary file in the same directory and are renamed into place, so a
// reader never sees a partial document.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) SaveSnapshot(ctx context.Context, data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".context-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) LoadSnapshot(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

// Exists reports whether a snapshot has been written.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// SnapshotStore is the persistence contract shared by every backend.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, data []byte) error
	LoadSnapshot(ctx context.Context) ([]byte, error)
}

// Tee writes to a primary store and mirrors the write to secondaries.
// Only primary failures are returned; mirror failures are logged.
type Tee struct {
	primary SnapshotStore
	mirrors []SnapshotStore
}

// NewTee builds a Tee. Nil mirrors are skipped.
func NewTee(primary SnapshotStore, mirrors ...SnapshotStore) *Tee {
	t := &Tee{primary: primary}
	for _, m := range mirrors {
		if m != nil {
			t.mirrors = append(t.mirrors, m)
		}
	}
	return t
}

func (t *Tee) SaveSnapshot(ctx context.Context, data []byte) error {
	if err := t.primary.SaveSnapshot(ctx, data); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.SaveSnapshot(ctx, data); err != nil {
			log.Printf("[WARN] [Store] Snapshot mirror write failed: %v", err)
		}
	}
	return nil
}

func (t *Tee) LoadSnapshot(ctx context.Context) ([]byte, error) {
	return t.primary.LoadSnapshot(ctx)
}
