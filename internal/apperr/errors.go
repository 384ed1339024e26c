// Package apperr defines the error taxonomy shared by the storage, recovery,
// and session layers. Callers match with errors.Is; producers wrap with %w.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrCorrupt marks a persisted file that exists but does not parse as a document.
	ErrCorrupt = errors.New("corrupt document")
	// ErrUnrecoverable is returned when both the canonical file and its backup are unhealthy.
	ErrUnrecoverable = errors.New("project files are corrupted and cannot be recovered")

	// ErrAlreadyOpen is a same-process conflict: another session holds the project.
	ErrAlreadyOpen error = &conflict{msg: "project is already open in another session"}
	// ErrLocked is a cross-process or stale lock the user declined to override.
	ErrLocked error = &conflict{msg: "project is locked by another session"}

	ErrCheckpointFailed = errors.New("checkpoint failed")
	ErrNoCheckpoints    = errors.New("no checkpoints found for this project")
	ErrCancelled        = errors.New("cancelled")
	ErrNoProject        = errors.New("no project is open")
	ErrInvalidName      = errors.New("invalid name")
)

// conflict is a specific conflict that also matches ErrConflict.
type conflict struct {
	msg string
}

func (e *conflict) Error() string { return e.msg }

func (e *conflict) Is(target error) bool { return target == ErrConflict }
