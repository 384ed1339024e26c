package storage

import (
	"errors"
	"io/fs"
	"os"

	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/models"
)

// HealthCheck reports whether path exists, is non-empty, and parses as a
// document. Errors are folded into false.
func HealthCheck(path string) bool {
	return inspect(path).Healthy
}

func inspect(path string) models.FileStatus {
	st := models.FileStatus{Path: path}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			st.Problem = "missing"
		} else {
			st.Problem = err.Error()
		}
		return st
	}
	st.Exists = true
	st.Size = info.Size()
	if !info.Mode().IsRegular() {
		st.Problem = "not a regular file"
		return st
	}
	if st.Size == 0 {
		st.Problem = "empty"
		return st
	}
	data, err := os.ReadFile(path)
	if err != nil {
		st.Problem = err.Error()
		return st
	}
	if _, err := document.Parse(data); err != nil {
		st.Problem = err.Error()
		return st
	}
	st.Healthy = true
	return st
}

// Health inspects the canonical file, the backup, and the lock marker.
func (s *Store) Health() models.HealthReport {
	_, lockErr := os.Stat(s.LockPath())
	return models.HealthReport{
		ProjectID: s.id,
		Canonical: inspect(s.CanonicalPath()),
		Backup:    inspect(s.BackupPath()),
		Locked:    lockErr == nil,
	}
}
