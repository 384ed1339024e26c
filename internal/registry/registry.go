// Package registry tracks every open editor session in the process and
// arbitrates which session owns which project.
//
// Lock order: Registry.mu, then a Session's mutex, then a scheduler or
// Store mutex.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/events"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/session"
	"github.com/starford/lcca/internal/storage"
)

// Publisher receives registry broadcasts.
type Publisher interface {
	Publish(events.Event)
	PublishProjectEvent(kind, id string)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event)               {}
func (nopPublisher) PublishProjectEvent(string, string) {}

// Registry is the process-wide set of sessions.
type Registry struct {
	root        storage.Provider
	pub         Publisher
	logger      *slog.Logger
	sessionOpts []session.Option

	mu       sync.Mutex
	sessions map[string]*session.Session
	order    []string
	done     chan struct{}
	doneOnce sync.Once
}

// Option configures a Registry.
type Option func(*Registry)

func WithPublisher(p Publisher) Option { return func(r *Registry) { r.pub = p } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithSessionOptions applies opts to every session the registry spawns.
func WithSessionOptions(opts ...session.Option) Option {
	return func(r *Registry) { r.sessionOpts = append(r.sessionOpts, opts...) }
}

// New creates an empty registry over root.
func New(root storage.Provider, opts ...Option) *Registry {
	r := &Registry{
		root:     root,
		pub:      nopPublisher{},
		logger:   slog.Default(),
		sessions: make(map[string]*session.Session),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Done is closed when the last session unregisters.
func (r *Registry) Done() <-chan struct{} { return r.done }

// Spawn creates and registers an unbound session.
func (r *Registry) Spawn() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spawnLocked()
}

func (r *Registry) spawnLocked() *session.Session {
	id := uuid.NewString()
	opts := append([]session.Option{
		session.WithLogger(r.logger),
		session.WithNotifier(func(n session.Notice) {
			r.pub.Publish(events.Event{Type: events.SessionNotice, Data: n})
		}),
	}, r.sessionOpts...)
	s := session.New(id, opts...)
	r.sessions[id] = s
	r.order = append(r.order, id)
	r.logger.Info("registry: session spawned", slog.String("session", id))
	return s
}

// Session looks up a registered session.
func (r *Registry) Session(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("registry: session %s: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// Sessions returns the registered sessions in creation order.
func (r *Registry) Sessions() []*session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*session.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Holder returns the session bound to projectID, if any.
func (r *Registry) Holder(projectID string) *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.holderLocked(projectID)
}

func (r *Registry) holderLocked(projectID string) *session.Session {
	for _, id := range r.order {
		if s := r.sessions[id]; s.ProjectID() == projectID {
			return s
		}
	}
	return nil
}

// OpenOrFocus brings projectID to the front. A session already holding it
// is focused; otherwise the project opens in caller when caller is home, or
// in a newly spawned session.
func (r *Registry) OpenOrFocus(ctx context.Context, caller *session.Session, projectID string, p recovery.Prompter) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(ctx, caller, projectID, p)
}

func (r *Registry) openLocked(ctx context.Context, caller *session.Session, projectID string, p recovery.Prompter) (*session.Session, error) {
	if holder := r.holderLocked(projectID); holder != nil {
		r.pub.Publish(events.Event{Type: events.SessionFocus, Data: map[string]string{
			"session_id": holder.ID(),
			"project_id": projectID,
		}})
		return holder, nil
	}

	store, err := r.root.Store(projectID)
	if err != nil {
		return nil, err
	}
	if !r.root.Exists(projectID) {
		return nil, fmt.Errorf("registry: project %s: %w", projectID, apperr.ErrNotFound)
	}

	target, spawned := caller, false
	if target == nil || target.Bound() || r.sessions[target.ID()] != target {
		target, spawned = r.spawnLocked(), true
	}

	opened, err := recovery.Open(ctx, store, p, target.ID(), false)
	if err == nil {
		err = target.Bind(store, opened)
		if err != nil {
			_ = store.ReleaseLock()
		}
	}
	if err != nil {
		if spawned {
			r.discardLocked(target.ID())
		}
		r.logger.Warn("registry: open failed",
			slog.String("project", projectID),
			slog.String("error", err.Error()))
		return nil, err
	}

	r.logger.Info("registry: project opened",
		slog.String("project", projectID),
		slog.String("session", target.ID()))
	return target, nil
}

// NewProject creates a project named name and opens it in caller when
// caller is home, or in a spawned session. The project id is returned even
// when opening fails.
func (r *Registry) NewProject(ctx context.Context, caller *session.Session, name string, p recovery.Prompter) (string, *session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.root.Create(name)
	if err != nil {
		return "", nil, err
	}
	r.pub.PublishProjectEvent("created", id)

	s, err := r.openLocked(ctx, caller, id, p)
	if err != nil {
		return id, nil, err
	}
	return id, s, nil
}

// DeleteProject unbinds every session holding projectID without saving,
// removes the project directory, and tells every session to refresh.
func (r *Registry) DeleteProject(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.root.Exists(projectID) {
		return fmt.Errorf("registry: delete %s: %w", projectID, apperr.ErrNotFound)
	}
	for _, id := range r.order {
		s := r.sessions[id]
		if s.ProjectID() != projectID {
			continue
		}
		s.ForceUnbind()
		r.pub.Publish(events.Event{Type: events.SessionUnbound, Data: map[string]string{
			"session_id": s.ID(),
			"project_id": projectID,
			"reason":     "deleted",
		}})
	}

	if err := r.root.Delete(projectID); err != nil {
		return err
	}
	r.logger.Info("registry: project deleted", slog.String("project", projectID))
	r.pub.PublishProjectEvent("deleted", projectID)
	return nil
}

// Unregister removes a closed session. Removing the last one closes Done.
func (r *Registry) Unregister(s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.discardLocked(s.ID()) {
		return
	}
	r.pub.Publish(events.Event{Type: events.SessionClosed, Data: map[string]string{"session_id": s.ID()}})
	r.logger.Info("registry: session closed", slog.String("session", s.ID()))
	if len(r.sessions) == 0 {
		r.doneOnce.Do(func() { close(r.done) })
	}
}

func (r *Registry) discardLocked(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Close flushes the session's pending edits, releases its project, and
// unregisters it. The session is unregistered even when the flush fails.
func (r *Registry) Close(ctx context.Context, s *session.Session) error {
	err := s.Close(ctx)
	r.Unregister(s)
	return err
}

// Shutdown closes every session.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range r.Sessions() {
		if err := r.Close(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
