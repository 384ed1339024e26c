// Package models defines the listing and health types shared by the storage,
// catalog, and API layers.
package models

import "time"

// ProjectInfo is a dashboard entry for one project directory.
type ProjectInfo struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedAt   string    `json:"created_at,omitempty"`
	Recovering  bool      `json:"recovering"` // canonical unusable, backup usable
	Checkpoints int       `json:"checkpoints"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileStatus describes one persisted file as seen by a health check.
type FileStatus struct {
	Path    string `json:"path"`
	Exists  bool   `json:"exists"`
	Size    int64  `json:"size"`
	Healthy bool   `json:"healthy"`
	Problem string `json:"problem,omitempty"`
}

// HealthReport covers the canonical file and its backup.
type HealthReport struct {
	ProjectID string     `json:"project_id"`
	Canonical FileStatus `json:"canonical"`
	Backup    FileStatus `json:"backup"`
	Locked    bool       `json:"locked"`
}

// Recoverable reports whether an open would succeed, possibly after repair.
func (h HealthReport) Recoverable() bool {
	return h.Canonical.Healthy || h.Backup.Healthy
}
