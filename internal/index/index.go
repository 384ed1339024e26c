package index

import "github.com/starford/lcca/internal/models"

// ProjectIndex is the catalog interface consumed by the service layers.
type ProjectIndex interface {
	UpsertProject(p models.ProjectInfo, summary string) error
	DeleteProject(id string) error
	GetChecksum(id string) (string, error)
	GetProject(id string) (*models.ProjectInfo, error)
	ListProjects(limit, offset int, sort string) ([]models.ProjectInfo, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	AllChecksums() (map[string]string, error)
	Ping() error
	Close() error
}

var _ ProjectIndex = (*DB)(nil)
