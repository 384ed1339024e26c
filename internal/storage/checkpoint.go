package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
)

const (
	checkpointExt       = ".json"
	checkpointSep       = "__"
	checkpointStampFmt  = "20060102150405"
	checkpointLabelFmt  = "2006-01-02 15:04:05"
	defaultCheckpointNm = "Backup"
)

// Checkpoint is one entry of a project's version history, derived from its
// filename alone.
type Checkpoint struct {
	Filename  string    `json:"filename"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Parsed    bool      `json:"parsed"`
}

// Label is the text offered to the user when choosing a checkpoint.
func (c Checkpoint) Label() string {
	if !c.Parsed {
		return c.Filename
	}
	return fmt.Sprintf("%s (saved: %s)", c.Name, c.Timestamp.Format(checkpointLabelFmt))
}

// SanitizeName keeps letters, digits, spaces, and underscores, trims the
// result, and falls back to "Backup" when nothing is left.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '_' {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return defaultCheckpointNm
	}
	return out
}

// ParseCheckpointFilename splits name__YYYYMMDDHHMMSS.json. A stem with
// other than exactly one separator comes back with Parsed false.
func ParseCheckpointFilename(filename string) Checkpoint {
	cp := Checkpoint{Filename: filename}
	stem := strings.TrimSuffix(filename, checkpointExt)
	parts := strings.Split(stem, checkpointSep)
	if len(parts) != 2 {
		return cp
	}
	ts, err := time.ParseInLocation(checkpointStampFmt, parts[1], time.Local)
	if err != nil {
		return cp
	}
	cp.Name = parts[0]
	cp.Timestamp = ts
	cp.Parsed = true
	return cp
}

// CreateCheckpoint writes doc into the checkpoints directory and returns the
// new filename. An existing checkpoint is never overwritten. Every failure
// wraps apperr.ErrCheckpointFailed.
func (s *Store) CreateCheckpoint(doc *document.Document, name string) (string, error) {
	data, err := doc.Marshal()
	if err != nil {
		return "", fmt.Errorf("storage: checkpoint %s: %w: %v", s.id, apperr.ErrCheckpointFailed, err)
	}
	filename := SanitizeName(name) + checkpointSep + s.now().Format(checkpointStampFmt) + checkpointExt

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireDir(); err != nil {
		return "", fmt.Errorf("storage: checkpoint %s: %w: %w", s.id, apperr.ErrCheckpointFailed, err)
	}
	if err := os.MkdirAll(s.CheckpointsPath(), 0o755); err != nil {
		return "", fmt.Errorf("storage: checkpoint %s: %w: %v", s.id, apperr.ErrCheckpointFailed, err)
	}
	path := filepath.Join(s.CheckpointsPath(), filename)
	if _, err := os.Lstat(path); err == nil {
		return "", fmt.Errorf("storage: checkpoint %s: %w: %s: %w",
			s.id, apperr.ErrCheckpointFailed, filename, apperr.ErrAlreadyExists)
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("storage: checkpoint %s: %w: %v", s.id, apperr.ErrCheckpointFailed, err)
	}
	return filename, nil
}

// ListCheckpoints returns the project's checkpoints, most recent first.
// Entries whose names do not parse follow, by filename descending.
func (s *Store) ListCheckpoints() ([]Checkpoint, error) {
	entries, err := os.ReadDir(s.CheckpointsPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: list checkpoints %s: %w", s.id, err)
	}

	var out []Checkpoint
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), checkpointExt) {
			continue
		}
		out = append(out, ParseCheckpointFilename(e.Name()))
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Parsed != b.Parsed {
			return a.Parsed
		}
		if a.Parsed && !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Filename > b.Filename
	})
	return out, nil
}

// ReadCheckpoint parses one checkpoint file.
func (s *Store) ReadCheckpoint(filename string) (*document.Document, error) {
	if filename == "" || filepath.Base(filename) != filename || !strings.HasSuffix(filename, checkpointExt) {
		return nil, fmt.Errorf("storage: checkpoint %q: %w", filename, apperr.ErrInvalidName)
	}
	data, err := os.ReadFile(filepath.Join(s.CheckpointsPath(), filename))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("storage: checkpoint %s: %w", filename, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: checkpoint %s: %w", filename, err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("storage: checkpoint %s: %w", filename, err)
	}
	return doc, nil
}
