package api

import (
	"encoding/json"

	"github.com/starford/lcca/internal/index"
	"github.com/starford/lcca/internal/models"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/session"
	"github.com/starford/lcca/internal/storage"
)

// ProjectListResponse wraps paginated project listings.
type ProjectListResponse struct {
	Projects []models.ProjectInfo `json:"projects" validate:"required"`
	Total    int                  `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// CreateProjectRequest is the request body for creating a project.
type CreateProjectRequest struct {
	Name string `json:"name" example:"Bridge 12" validate:"required"`
	// SessionID opens the project in that session when it is home.
	SessionID string `json:"session_id,omitempty"`
}

// CreateProjectResponse is returned after a project is created and opened.
type CreateProjectResponse struct {
	ID      string      `json:"id" example:"a1b2c3d4" validate:"required"`
	Session SessionView `json:"session"`
}

// HealthResponse is a project health report.
type HealthResponse struct {
	models.HealthReport
	Recoverable bool `json:"recoverable"`
}

// RepairResponse reports whether a repair copied the backup.
type RepairResponse struct {
	Repaired bool `json:"repaired"`
}

// SessionView is the public state of one session.
type SessionView struct {
	ID        string `json:"id" validate:"required"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title" example:"LCCA - Home"`
	Status    string `json:"status,omitempty" example:"All changes saved."`
	Autosave  string `json:"autosave" example:"idle"`
}

func viewOf(s *session.Session) SessionView {
	return SessionView{
		ID:        s.ID(),
		ProjectID: s.ProjectID(),
		Title:     s.Title(),
		Status:    s.Status(),
		Autosave:  s.AutosaveState().String(),
	}
}

// SessionListResponse wraps the registered sessions.
type SessionListResponse struct {
	Sessions []SessionView `json:"sessions" validate:"required"`
}

// OpenRequest asks a session to open or focus a project.
type OpenRequest struct {
	ProjectID string `json:"project_id" example:"a1b2c3d4" validate:"required"`
	// ForceOpen answers the stale-lock prompt.
	ForceOpen bool `json:"force_open,omitempty"`
}

// DocumentPatch edits the open document. A null section value deletes the section.
type DocumentPatch struct {
	Metadata map[string]any             `json:"metadata,omitempty"`
	Sections map[string]json.RawMessage `json:"sections,omitempty"`
}

// CheckpointRequest names a manual checkpoint. A blank name uses the default.
type CheckpointRequest struct {
	Name string `json:"name,omitempty" example:"Before_Edit"`
}

// CheckpointResponse is returned after a checkpoint is written.
type CheckpointResponse struct {
	Filename string `json:"filename" example:"Before_Edit__20240301093000.json" validate:"required"`
}

// CheckpointItem is one entry in a checkpoint listing.
type CheckpointItem struct {
	storage.Checkpoint
	Label string `json:"label" example:"Before_Edit (saved: 2024-03-01 09:30:00)"`
}

// CheckpointListResponse wraps a checkpoint listing, newest first.
type CheckpointListResponse struct {
	Checkpoints []CheckpointItem `json:"checkpoints" validate:"required"`
}

func checkpointItems(cps []storage.Checkpoint) []CheckpointItem {
	out := make([]CheckpointItem, len(cps))
	for i, cp := range cps {
		out[i] = CheckpointItem{Checkpoint: cp, Label: cp.Label()}
	}
	return out
}

// RestoreRequest submits the whole restore dialog at once.
type RestoreRequest struct {
	Checkpoint string `json:"checkpoint,omitempty"`
	Latest     bool   `json:"latest,omitempty"`
	// Gate is "snapshot", "skip", or "abort".
	Gate         string `json:"gate" example:"snapshot"`
	SnapshotName string `json:"snapshot_name,omitempty"`
}

func (r RestoreRequest) answers() (recovery.Answers, error) {
	gate, err := recovery.ParseGateChoice(r.Gate)
	if err != nil {
		return recovery.Answers{}, err
	}
	return recovery.Answers{
		Checkpoint:   r.Checkpoint,
		Latest:       r.Latest,
		Gate:         gate,
		SnapshotName: r.SnapshotName,
		NameSnapshot: true,
	}, nil
}

// RestoreResponse reports a completed restore.
type RestoreResponse struct {
	Checkpoint CheckpointItem `json:"checkpoint"`
	Snapshot   string         `json:"snapshot,omitempty"`
	Session    SessionView    `json:"session"`
}
