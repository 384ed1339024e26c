package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/checksum"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/models"
)

// File names inside a project directory.
const (
	CanonicalFile = "project.json"
	BackupFile    = "project.json.bak"
	LockFile      = "project.lock"
	CheckpointDir = "checkpoints"
)

// renameFile is swapped in tests to simulate a crash before the rename step.
var renameFile = os.Rename

// Root implements Provider backed by a projects directory on the local file system.
type Root struct {
	root  string // absolute path to the projects directory
	now   func() time.Time
	newID func() string

	mu     sync.Mutex
	stores map[string]*Store
}

// RootOption configures a Root.
type RootOption func(*Root)

// WithClock overrides the time source used for seeds, checkpoints, and lock info.
func WithClock(now func() time.Time) RootOption {
	return func(r *Root) { r.now = now }
}

// WithIDGenerator overrides project identifier allocation.
func WithIDGenerator(gen func() string) RootOption {
	return func(r *Root) { r.newID = gen }
}

// NewRoot creates a Root for the given directory.
// The directory must already exist.
func NewRoot(dir string, opts ...RootOption) (*Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	r := &Root{
		root:   abs,
		now:    time.Now,
		newID:  shortID,
		stores: make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Dir returns the absolute projects directory.
func (r *Root) Dir() string { return r.root }

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// projectDir resolves a project identifier to its directory and rejects
// anything that is not a single plain path element.
func (r *Root) projectDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") ||
		strings.ContainsAny(id, `/\`) || filepath.Base(id) != id {
		return "", fmt.Errorf("storage: invalid project id %q: %w", id, apperr.ErrInvalidName)
	}
	return filepath.Join(r.root, id), nil
}

// Store returns the Store for a project. Every call for the same id returns
// the same *Store so writes to one project share a single mutex.
func (r *Root) Store(id string) (*Store, error) {
	dir, err := r.projectDir(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[id]; ok {
		return s, nil
	}
	s := newStore(id, dir, r.now)
	r.stores[id] = s
	return s, nil
}

// Exists reports whether the project directory is present.
func (r *Root) Exists(id string) bool {
	dir, err := r.projectDir(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Create allocates a project identifier, creates its directory, and writes
// the metadata seed as the canonical file.
func (r *Root) Create(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("storage: project name is empty: %w", apperr.ErrInvalidName)
	}

	var id, dir string
	for attempt := 0; ; attempt++ {
		id = r.newID()
		d, err := r.projectDir(id)
		if err != nil {
			return "", err
		}
		err = os.Mkdir(d, 0o755)
		if err == nil {
			dir = d
			break
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= 4 {
			return "", fmt.Errorf("storage: create project dir: %w", err)
		}
	}

	s, err := r.Store(id)
	if err != nil {
		return "", err
	}
	if err := s.Save(document.New(name, r.now())); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return id, nil
}

// Delete removes a project's entire directory tree.
func (r *Root) Delete(id string) error {
	dir, err := r.projectDir(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", id, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete %s: %w", id, err)
	}

	s, err := r.Store(id)
	if err != nil {
		return err
	}
	return s.Remove()
}

// List returns every valid project directory, sorted by identifier.
// A directory is a valid project iff its canonical or backup file is non-empty.
func (r *Root) List() ([]models.ProjectInfo, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []models.ProjectInfo
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, ok := r.describe(e.Name())
		if !ok {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// Info describes one project, or returns apperr.ErrNotFound when the
// directory is missing or not a valid project.
func (r *Root) Info(id string) (models.ProjectInfo, error) {
	if _, err := r.projectDir(id); err != nil {
		return models.ProjectInfo{}, err
	}
	info, ok := r.describe(id)
	if !ok {
		return models.ProjectInfo{}, fmt.Errorf("storage: project %s: %w", id, apperr.ErrNotFound)
	}
	return info, nil
}

func (r *Root) describe(id string) (models.ProjectInfo, bool) {
	dir := filepath.Join(r.root, id)
	canonical, canonErr := os.ReadFile(filepath.Join(dir, CanonicalFile))
	backup, bakErr := os.ReadFile(filepath.Join(dir, BackupFile))
	mainOK := canonErr == nil && len(canonical) > 0
	bakOK := bakErr == nil && len(backup) > 0
	if !mainOK && !bakOK {
		return models.ProjectInfo{}, false
	}

	info := models.ProjectInfo{ID: id, Name: id}

	var doc *document.Document
	if mainOK {
		doc, _ = document.Parse(canonical)
	}
	if doc == nil && bakOK {
		info.Recovering = true
		doc, _ = document.Parse(backup)
	}
	if doc != nil {
		info.Name = doc.Metadata.GetString(document.KeyProjectName, id)
		info.CreatedAt = doc.Metadata.CreatedAt
	}

	parts := [][]byte{canonical, backup}
	cps, _ := os.ReadDir(filepath.Join(dir, CheckpointDir))
	for _, cp := range cps {
		if strings.HasSuffix(cp.Name(), checkpointExt) {
			info.Checkpoints++
			parts = append(parts, []byte(cp.Name()))
		}
	}
	info.Checksum = checksum.Sum(parts...)

	target := CanonicalFile
	if !mainOK {
		target = BackupFile
	}
	if st, err := os.Stat(filepath.Join(dir, target)); err == nil {
		info.UpdatedAt = st.ModTime()
	}
	return info, true
}

// writeAtomic writes content: tmp file → fsync → rename. The parent
// directory must exist; it is never created here, so a save cannot
// resurrect a deleted project.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := renameFile(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// copyFile replaces dst with a verbatim copy of src.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeAtomic(dst, data)
}
