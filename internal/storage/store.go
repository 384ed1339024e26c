package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
)

// Store is shared access to one project's files. Writes are serialized by
// mu; obtain Stores through Root.Store so a project has exactly one.
type Store struct {
	id  string
	dir string
	now func() time.Time

	mu sync.Mutex
}

func newStore(id, dir string, now func() time.Time) *Store {
	return &Store{id: id, dir: dir, now: now}
}

// ID returns the project identifier.
func (s *Store) ID() string { return s.id }

// Dir returns the project directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) CanonicalPath() string   { return filepath.Join(s.dir, CanonicalFile) }
func (s *Store) BackupPath() string      { return filepath.Join(s.dir, BackupFile) }
func (s *Store) LockPath() string        { return filepath.Join(s.dir, LockFile) }
func (s *Store) CheckpointsPath() string { return filepath.Join(s.dir, CheckpointDir) }

// Load parses the canonical file.
func (s *Store) Load() (*document.Document, error) {
	data, err := os.ReadFile(s.CanonicalPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: load %s: %w", s.id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: load %s: %w", s.id, err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", s.id, err)
	}
	return doc, nil
}

// Save copies the current canonical file over the backup, then replaces the
// canonical file atomically. On failure the canonical file is unchanged.
func (s *Store) Save(doc *document.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("storage: save %s: %w", s.id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDir(); err != nil {
		return fmt.Errorf("storage: save %s: %w", s.id, err)
	}
	if info, err := os.Stat(s.CanonicalPath()); err == nil && info.Mode().IsRegular() {
		if err := copyFile(s.CanonicalPath(), s.BackupPath()); err != nil {
			return fmt.Errorf("storage: save %s: backup: %w", s.id, err)
		}
	}
	if err := writeAtomic(s.CanonicalPath(), data); err != nil {
		return fmt.Errorf("storage: save %s: %w", s.id, err)
	}
	return nil
}

// RestoreBackup replaces the canonical file with the backup bytes.
func (s *Store) RestoreBackup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDir(); err != nil {
		return fmt.Errorf("storage: restore backup %s: %w", s.id, err)
	}
	if err := copyFile(s.BackupPath(), s.CanonicalPath()); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: restore backup %s: %w", s.id, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: restore backup %s: %w", s.id, err)
	}
	return nil
}

// Remove deletes the whole project directory.
func (s *Store) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("storage: remove %s: %w", s.id, err)
	}
	return nil
}

// requireDir fails with apperr.ErrNotFound once the project directory is
// gone, so a late save cannot recreate a deleted project.
func (s *Store) requireDir() error {
	info, err := os.Stat(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", s.dir)
	}
	return nil
}
