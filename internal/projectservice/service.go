// Package projectservice answers the dashboard and tooling questions about
// projects: listing, search, health, repair, and checkpoints. Operations on
// a project that a session holds go through that session.
package projectservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/index"
	"github.com/starford/lcca/internal/models"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/registry"
	"github.com/starford/lcca/internal/session"
	"github.com/starford/lcca/internal/storage"
)

// repairOwner is recorded in the lock marker while a repair runs.
const repairOwner = "repair"

// CheckResult is one project's line in a root-wide health check.
type CheckResult struct {
	Health   models.HealthReport `json:"health"`
	Repaired bool                `json:"repaired"`
	Error    string              `json:"error,omitempty"`
}

// Service coordinates the projects root, the catalog, and the session registry.
type Service struct {
	root   storage.Provider
	db     index.ProjectIndex
	reg    *registry.Registry
	logger *slog.Logger
}

// NewService creates a new project service. reg may be nil when no sessions
// run in this process, as in the CLI check command.
func NewService(root storage.Provider, db index.ProjectIndex, reg *registry.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{root: root, db: db, reg: reg, logger: logger}
}

// ListProjects returns a page of the catalog.
func (s *Service) ListProjects(_ context.Context, limit, offset int, sort string) ([]models.ProjectInfo, int, error) {
	items, total, err := s.db.ListProjects(limit, offset, sort)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(items), total, nil
}

// Search delegates name and metadata search to the catalog.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	return nonNilSlice(res), err
}

// NewProject creates a project, catalogs it, and opens it in caller or a
// spawned session.
func (s *Service) NewProject(ctx context.Context, caller *session.Session, name string, p recovery.Prompter) (string, *session.Session, error) {
	id, sess, err := s.reg.NewProject(ctx, caller, name, p)
	if id != "" {
		s.Refresh(id)
	}
	return id, sess, err
}

// DeleteProject unbinds the holders, removes the project, and drops it
// from the catalog.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.reg.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.Refresh(id)
	return nil
}

// Refresh reconciles one catalog row with disk. Failures are logged; the
// watcher retries on the next change.
func (s *Service) Refresh(id string) {
	if _, err := index.Reconcile(s.db, s.root, id); err != nil {
		s.logger.Warn("projectservice: refresh failed",
			slog.String("project", id),
			slog.String("error", err.Error()))
	}
}

// Health inspects a project's files.
func (s *Service) Health(_ context.Context, id string) (models.HealthReport, error) {
	store, err := s.store(id)
	if err != nil {
		return models.HealthReport{}, err
	}
	return store.Health(), nil
}

// Repair copies a healthy backup over an unhealthy canonical file. A project
// open in a session or locked elsewhere is refused.
func (s *Service) Repair(_ context.Context, id string) (bool, error) {
	store, err := s.store(id)
	if err != nil {
		return false, err
	}
	if s.holder(id) != nil {
		return false, fmt.Errorf("projectservice: repair %s: %w", id, apperr.ErrAlreadyOpen)
	}
	ok, err := store.AcquireLock(repairOwner)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("projectservice: repair %s: %w", id, apperr.ErrLocked)
	}
	defer func() { _ = store.ReleaseLock() }()

	repaired, err := recovery.Repair(store)
	if err != nil {
		return false, err
	}
	if repaired {
		s.logger.Info("projectservice: repaired from backup", slog.String("project", id))
		s.Refresh(id)
	}
	return repaired, nil
}

// Check reports the health of every project under the root, repairing the
// recoverable ones when repair is set.
func (s *Service) Check(ctx context.Context, repair bool) ([]CheckResult, error) {
	infos, err := s.root.List()
	if err != nil {
		return nil, err
	}
	out := make([]CheckResult, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		var res CheckResult
		if repair {
			res.Repaired, err = s.Repair(ctx, info.ID)
			if err != nil {
				res.Error = err.Error()
			}
		}
		res.Health, err = s.Health(ctx, info.ID)
		if err != nil && res.Error == "" {
			res.Error = err.Error()
		}
		out = append(out, res)
	}
	return out, nil
}

// ReadProject returns the project's document. A held project is read from
// its session, which may hold edits not yet saved.
func (s *Service) ReadProject(_ context.Context, id string) (*document.Document, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}
	if h := s.holder(id); h != nil {
		doc, err := h.Document()
		if !errors.Is(err, apperr.ErrNoProject) {
			return doc, err
		}
	}
	return store.Load()
}

// Checkpoints lists a project's checkpoints, newest first.
func (s *Service) Checkpoints(_ context.Context, id string) ([]storage.Checkpoint, error) {
	store, err := s.store(id)
	if err != nil {
		return nil, err
	}
	cps, err := store.ListCheckpoints()
	return nonNilSlice(cps), err
}

// CreateCheckpoint snapshots the project. A held project is checkpointed
// from its session's document, otherwise from the canonical file.
func (s *Service) CreateCheckpoint(_ context.Context, id, name string) (string, error) {
	store, err := s.store(id)
	if err != nil {
		return "", err
	}
	if h := s.holder(id); h != nil {
		file, err := h.Checkpoint(name)
		if !errors.Is(err, apperr.ErrNoProject) {
			return file, err
		}
	}
	doc, err := store.Load()
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrCheckpointFailed, err)
	}
	return recovery.Checkpoint(store, doc, name)
}

func (s *Service) store(id string) (*storage.Store, error) {
	store, err := s.root.Store(id)
	if err != nil {
		return nil, err
	}
	if !s.root.Exists(id) {
		return nil, fmt.Errorf("projectservice: project %s: %w", id, apperr.ErrNotFound)
	}
	return store, nil
}

func (s *Service) holder(id string) *session.Session {
	if s.reg == nil {
		return nil
	}
	return s.reg.Holder(id)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
