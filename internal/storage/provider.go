// Package storage owns the on-disk layout of projects: the canonical file,
// its one-generation backup, the advisory lock marker, and checkpoints.
package storage

import "github.com/starford/lcca/internal/models"

// Provider is the projects-root abstraction consumed by the registry and
// the listing layers.
type Provider interface {
	// Dir returns the absolute projects directory.
	Dir() string
	// Store returns the shared per-project Store.
	Store(id string) (*Store, error)
	// Exists reports whether a project directory is present.
	Exists(id string) bool
	// Create allocates an id and writes the metadata seed.
	Create(name string) (string, error)
	// Delete removes a project directory tree.
	Delete(id string) error
	// List returns every valid project, sorted by id.
	List() ([]models.ProjectInfo, error)
	// Info describes a single project.
	Info(id string) (models.ProjectInfo, error)
}

var _ Provider = (*Root)(nil)
