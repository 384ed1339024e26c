// Package session implements one editor instance: the in-memory document of
// the bound project, its autosave scheduler, and its status line.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/autosave"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/storage"
)

// Status line texts.
const (
	StatusSyncing = "Syncing changes..."
	StatusSaved   = "All changes saved."
	HomeTitle     = "LCCA - Home"
)

// Notice levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notice is a user-visible message raised by a session.
type Notice struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// binding is one open project. A scheduler fire compares its binding with
// the current one, so saves from a previous binding are dropped.
type binding struct {
	store *storage.Store
	doc   *document.Document
	sched *autosave.Scheduler
}

// Session is an editor bound to at most one project.
type Session struct {
	id        string
	logger    *slog.Logger
	notify    func(Notice)
	schedOpts []autosave.Option

	mu     sync.Mutex
	cur    *binding
	status string
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithNotifier receives every notice the session raises.
func WithNotifier(fn func(Notice)) Option { return func(s *Session) { s.notify = fn } }

// WithSchedulerOptions configures the autosave scheduler of every binding.
func WithSchedulerOptions(opts ...autosave.Option) Option {
	return func(s *Session) { s.schedOpts = append(s.schedOpts, opts...) }
}

// New creates an unbound session.
func New(id string, opts ...Option) *Session {
	s := &Session{id: id, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string { return s.id }

// ProjectID returns the bound project, or "" when the session is home.
func (s *Session) ProjectID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.store.ID()
}

// Bound reports whether a project is open.
func (s *Session) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Title is the window title.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return HomeTitle
	}
	return s.cur.doc.Title(s.cur.store.ID())
}

// Status returns the last status line.
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AutosaveState reports the scheduler state, Idle when unbound.
func (s *Session) AutosaveState() autosave.State {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b == nil {
		return autosave.Idle
	}
	return b.sched.State()
}

// Document returns a copy of the bound document.
func (s *Session) Document() (*document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil, apperr.ErrNoProject
	}
	return s.cur.doc.Clone(), nil
}

// Bind adopts an opened project. The caller has already claimed its lock.
func (s *Session) Bind(store *storage.Store, opened *recovery.Opened) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return fmt.Errorf("session %s: already bound to %s: %w", s.id, s.cur.store.ID(), apperr.ErrConflict)
	}

	b := &binding{store: store, doc: opened.Doc}
	opts := append([]autosave.Option{
		autosave.WithLogger(s.logger),
		autosave.WithErrorHandler(func(err error) {
			s.raise(store.ID(), LevelError, "Autosave failed: "+err.Error())
		}),
	}, s.schedOpts...)
	b.sched = autosave.New(func(_ context.Context, run autosave.Run) error { return s.persist(b, run) }, opts...)
	s.cur = b
	s.status = ""

	s.logger.Info("session: bound",
		slog.String("session", s.id),
		slog.String("project", store.ID()),
		slog.Bool("repaired", opened.Repaired))
	if opened.Repaired {
		s.raiseLocked(LevelWarn, recovery.NoticeAutoRestored)
	}
	return nil
}

// Update applies fn to a copy of the document, adopts the copy when fn
// succeeds, and schedules an autosave.
func (s *Session) Update(fn func(*document.Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return apperr.ErrNoProject
	}
	next := s.cur.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.cur.doc = next
	s.status = StatusSyncing
	s.cur.sched.Changed()
	return nil
}

// Save writes the document now, disarming any pending autosave.
func (s *Session) Save(ctx context.Context) error {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b == nil {
		return apperr.ErrNoProject
	}
	return b.sched.Flush(ctx)
}

// persist is the single write path shared by timer fires and explicit saves.
// A run cancelled while it waited for the lock writes nothing: a restore or
// an unbind has already settled what is on disk.
func (s *Session) persist(b *binding, run autosave.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != b || !run.Live() {
		return nil
	}
	if err := b.store.Save(b.doc); err != nil {
		s.status = "Save failed: " + err.Error()
		return err
	}
	s.status = StatusSaved
	return nil
}

// Checkpoint writes a named checkpoint of the in-memory document.
func (s *Session) Checkpoint(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return "", apperr.ErrNoProject
	}
	file, err := recovery.Checkpoint(s.cur.store, s.cur.doc, name)
	if err != nil {
		s.raiseLocked(LevelError, "Checkpoint failed: "+err.Error())
		return "", err
	}
	s.status = "Checkpoint saved: " + file
	return file, nil
}

// Checkpoints lists the bound project's checkpoints.
func (s *Session) Checkpoints() ([]storage.Checkpoint, error) {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b == nil {
		return nil, apperr.ErrNoProject
	}
	return b.store.ListCheckpoints()
}

// Restore runs the checkpoint restore workflow. On success the restored
// document replaces the in-memory one and pending edits are dropped; on
// failure nothing changes.
func (s *Session) Restore(ctx context.Context, p recovery.Prompter) (*recovery.Restored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return nil, apperr.ErrNoProject
	}
	res, err := recovery.Restore(ctx, s.cur.store, s.cur.doc, p)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrCancelled):
		case errors.Is(err, apperr.ErrNoCheckpoints):
			s.raiseLocked(LevelInfo, apperr.ErrNoCheckpoints.Error())
		default:
			s.raiseLocked(LevelError, "Restore failed: "+err.Error())
		}
		return nil, err
	}
	s.cur.sched.Cancel()
	s.cur.doc = res.Doc
	s.status = "Restored: " + res.Checkpoint.Label()
	return res, nil
}

// GoHome flushes pending edits, then releases the project. When the flush
// fails the session stays bound so nothing is lost.
func (s *Session) GoHome(ctx context.Context) error {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	if _, err := b.sched.FlushPending(ctx); err != nil {
		return fmt.Errorf("session %s: flush: %w", s.id, err)
	}
	s.release(b)
	return nil
}

// Close flushes pending edits and releases the project even when the flush
// fails. The flush error is returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b == nil {
		return nil
	}
	_, err := b.sched.FlushPending(ctx)
	s.release(b)
	if err != nil {
		return fmt.Errorf("session %s: flush: %w", s.id, err)
	}
	return nil
}

// ForceUnbind drops the binding without saving.
func (s *Session) ForceUnbind() {
	s.mu.Lock()
	b := s.cur
	s.mu.Unlock()
	if b != nil {
		s.release(b)
	}
}

func (s *Session) release(b *binding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != b {
		return
	}
	b.sched.Cancel()
	if err := b.store.ReleaseLock(); err != nil {
		s.logger.Warn("session: release lock failed",
			slog.String("session", s.id),
			slog.String("project", b.store.ID()),
			slog.String("error", err.Error()))
	}
	s.cur = nil
	s.status = ""
	s.logger.Info("session: unbound", slog.String("session", s.id), slog.String("project", b.store.ID()))
}

func (s *Session) raise(projectID, level, msg string) {
	if s.notify != nil {
		s.notify(Notice{SessionID: s.id, ProjectID: projectID, Level: level, Message: msg})
	}
}

func (s *Session) raiseLocked(level, msg string) {
	if s.cur != nil {
		s.raise(s.cur.store.ID(), level, msg)
		return
	}
	s.raise("", level, msg)
}
