// Package recovery implements the open, repair, and restore workflows that
// sit between a session and a project's Store.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/storage"
)

// Default checkpoint names used when the user confirms a blank prompt.
const (
	ManualCheckpointName = "Manual_Backup"
	SafetySnapshotName   = "Pre_Restore_State"
)

// NoticeAutoRestored is reported when Open repaired the canonical file.
const NoticeAutoRestored = "Main file was corrupt, auto-restored from backup."

// GateChoice is the answer to the safety gate shown before a restore.
type GateChoice int

// GateSnapshot checkpoints the current state before restoring; GateSkip
// restores without one.
const (
	GateAbort GateChoice = iota
	GateSnapshot
	GateSkip
)

// ParseGateChoice maps "snapshot", "skip", and "abort" to a GateChoice.
func ParseGateChoice(s string) (GateChoice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snapshot":
		return GateSnapshot, nil
	case "skip":
		return GateSkip, nil
	case "abort", "":
		return GateAbort, nil
	}
	return GateAbort, fmt.Errorf("recovery: unknown gate %q: %w", s, apperr.ErrInvalidName)
}

// Prompter asks the user to arbitrate. A nil Prompter answers every
// question in the safest way: decline, cancel, abort.
type Prompter interface {
	// ConfirmForceOpen asks whether a lock not held by this process is stale.
	ConfirmForceOpen(ctx context.Context, projectID string, holder storage.LockInfo) bool
	// ChooseCheckpoint returns the index of the chosen entry.
	ChooseCheckpoint(ctx context.Context, checkpoints []storage.Checkpoint) (int, bool)
	SafetyGate(ctx context.Context) GateChoice
	// SafetyCheckpointName returns the snapshot name, or false when declined.
	SafetyCheckpointName(ctx context.Context) (string, bool)
}

// Opened is the result of a successful Open.
type Opened struct {
	Doc      *document.Document
	Repaired bool
}

// Open claims the project lock, repairs the canonical file from the backup
// when needed, and parses it. heldInProcess reports whether another live
// session of this process already has the project; such a conflict is
// refused without prompting. On failure after the claim the lock is released.
func Open(ctx context.Context, store *storage.Store, p Prompter, owner string, heldInProcess bool) (*Opened, error) {
	if err := claim(ctx, store, p, owner, heldInProcess); err != nil {
		return nil, err
	}

	repaired, err := Repair(store)
	if err != nil {
		_ = store.ReleaseLock()
		return nil, err
	}
	doc, err := store.Load()
	if err != nil {
		_ = store.ReleaseLock()
		if !errors.Is(err, apperr.ErrCorrupt) {
			err = fmt.Errorf("%w: %w", apperr.ErrCorrupt, err)
		}
		return nil, fmt.Errorf("recovery: open %s: %w", store.ID(), err)
	}
	return &Opened{Doc: doc, Repaired: repaired}, nil
}

func claim(ctx context.Context, store *storage.Store, p Prompter, owner string, heldInProcess bool) error {
	ok, err := store.AcquireLock(owner)
	if err != nil {
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), err)
	}
	if ok {
		return nil
	}
	if heldInProcess {
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), apperr.ErrAlreadyOpen)
	}

	holder, _ := store.LockHolder()
	if p == nil || !p.ConfirmForceOpen(ctx, store.ID(), holder) {
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), apperr.ErrLocked)
	}
	if err := store.ReleaseLock(); err != nil {
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), err)
	}
	ok, err = store.AcquireLock(owner)
	if err != nil {
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), err)
	}
	if !ok {
		// Someone else won the race after the forced release.
		return fmt.Errorf("recovery: claim %s: %w", store.ID(), apperr.ErrLocked)
	}
	return nil
}

// Repair makes the canonical file healthy, copying the backup over it when
// only the backup is healthy. It reports whether a copy happened.
func Repair(store *storage.Store) (bool, error) {
	if storage.HealthCheck(store.CanonicalPath()) {
		return false, nil
	}
	if !storage.HealthCheck(store.BackupPath()) {
		return false, fmt.Errorf("recovery: %s: %w", store.ID(), apperr.ErrUnrecoverable)
	}
	if err := store.RestoreBackup(); err != nil {
		return false, fmt.Errorf("recovery: repair %s: %w", store.ID(), err)
	}
	return true, nil
}

// Checkpoint writes a manual checkpoint of doc. A blank name becomes
// ManualCheckpointName.
func Checkpoint(store *storage.Store, doc *document.Document, name string) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("recovery: checkpoint: %w: %w", apperr.ErrCheckpointFailed, apperr.ErrNoProject)
	}
	if strings.TrimSpace(name) == "" {
		name = ManualCheckpointName
	}
	return store.CreateCheckpoint(doc, name)
}

// Restored is the result of a successful Restore.
type Restored struct {
	Doc        *document.Document
	Checkpoint storage.Checkpoint
	Snapshot   string // safety snapshot filename, empty when skipped
}

// Restore replaces the canonical file with a checkpoint chosen by the user.
// The safety gate may first snapshot current; if that snapshot cannot be
// written the restore does not happen. Any error leaves the canonical file
// and current untouched.
func Restore(ctx context.Context, store *storage.Store, current *document.Document, p Prompter) (*Restored, error) {
	cps, err := store.ListCheckpoints()
	if err != nil {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), err)
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), apperr.ErrNoCheckpoints)
	}
	if p == nil {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), apperr.ErrCancelled)
	}

	idx, ok := p.ChooseCheckpoint(ctx, cps)
	if !ok || idx < 0 || idx >= len(cps) {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), apperr.ErrCancelled)
	}
	chosen := cps[idx]
	doc, err := store.ReadCheckpoint(chosen.Filename)
	if err != nil {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), err)
	}

	res := &Restored{Doc: doc, Checkpoint: chosen}
	switch p.SafetyGate(ctx) {
	case GateSnapshot:
		name, ok := p.SafetyCheckpointName(ctx)
		if !ok {
			return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), apperr.ErrCancelled)
		}
		if current == nil {
			return nil, fmt.Errorf("recovery: restore %s: safety snapshot: %w", store.ID(), apperr.ErrNoProject)
		}
		if strings.TrimSpace(name) == "" {
			name = SafetySnapshotName
		}
		snap, err := store.CreateCheckpoint(current, name)
		if err != nil {
			return nil, fmt.Errorf("recovery: restore %s: safety snapshot: %w", store.ID(), err)
		}
		res.Snapshot = snap
	case GateSkip:
	default:
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), apperr.ErrCancelled)
	}

	if err := store.Save(doc); err != nil {
		return nil, fmt.Errorf("recovery: restore %s: %w", store.ID(), err)
	}
	return res, nil
}
