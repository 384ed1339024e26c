package registry

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/autosave"
	"github.com/starford/lcca/internal/document"
	"github.com/starford/lcca/internal/events"
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/session"
	"github.com/starford/lcca/internal/storage"
	"github.com/starford/lcca/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e.Type)
}

func (r *recorder) PublishProjectEvent(kind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "project."+kind)
}

func (r *recorder) has(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == typ {
			return true
		}
	}
	return false
}

type fixture struct {
	root  *storage.Root
	reg   *Registry
	pub   *recorder
	clock *testutil.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root, err := storage.NewRoot(t.TempDir())
	require.NoError(t, err)
	pub := &recorder{}
	clock := testutil.NewFakeClock(time.Now())
	reg := New(root,
		WithPublisher(pub),
		WithSessionOptions(session.WithSchedulerOptions(autosave.WithClock(clock))))
	return &fixture{root: root, reg: reg, pub: pub, clock: clock}
}

func (f *fixture) project(t *testing.T, name string) string {
	t.Helper()
	id, err := f.root.Create(name)
	require.NoError(t, err)
	return id
}

func TestSpawnAndLookup(t *testing.T) {
	f := newFixture(t)
	a := f.reg.Spawn()
	b := f.reg.Spawn()

	got, err := f.reg.Session(b.ID())
	require.NoError(t, err)
	assert.Same(t, b, got)

	_, err = f.reg.Session("nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	all := f.reg.Sessions()
	require.Len(t, all, 2)
	assert.Same(t, a, all[0])
	assert.Same(t, b, all[1])
}

func TestOpenInUnboundCaller(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	caller := f.reg.Spawn()

	s, err := f.reg.OpenOrFocus(context.Background(), caller, id, nil)
	require.NoError(t, err)
	assert.Same(t, caller, s)
	assert.Equal(t, id, caller.ProjectID())
	assert.Len(t, f.reg.Sessions(), 1)
	assert.Same(t, caller, f.reg.Holder(id))
}

func TestOpenFocusesExistingHolder(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	first := f.reg.Spawn()
	_, err := f.reg.OpenOrFocus(context.Background(), first, id, nil)
	require.NoError(t, err)

	second := f.reg.Spawn()
	s, err := f.reg.OpenOrFocus(context.Background(), second, id, nil)
	require.NoError(t, err)
	assert.Same(t, first, s)
	assert.False(t, second.Bound())
	assert.True(t, f.pub.has(events.SessionFocus))
}

func TestOpenFromBoundCallerSpawns(t *testing.T) {
	f := newFixture(t)
	one := f.project(t, "One")
	two := f.project(t, "Two")
	caller := f.reg.Spawn()
	_, err := f.reg.OpenOrFocus(context.Background(), caller, one, nil)
	require.NoError(t, err)

	s, err := f.reg.OpenOrFocus(context.Background(), caller, two, nil)
	require.NoError(t, err)
	assert.NotSame(t, caller, s)
	assert.Equal(t, two, s.ProjectID())
	assert.Equal(t, one, caller.ProjectID())
	assert.Len(t, f.reg.Sessions(), 2)
}

func TestOpenMissingProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.OpenOrFocus(context.Background(), nil, "deadbeef", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.reg.Sessions())

	_, err = f.reg.OpenOrFocus(context.Background(), nil, "../etc", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidName)
}

func TestOpenLockedElsewhere(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	store, err := f.root.Store(id)
	require.NoError(t, err)
	ok, err := store.AcquireLock("other-process")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.reg.OpenOrFocus(context.Background(), nil, id, recovery.Answers{ForceOpen: false})
	assert.ErrorIs(t, err, apperr.ErrLocked)
	assert.Empty(t, f.reg.Sessions(), "spawned session is discarded")

	select {
	case <-f.reg.Done():
		t.Fatal("a failed open must not end the registry")
	default:
	}

	s, err := f.reg.OpenOrFocus(context.Background(), nil, id, recovery.Answers{ForceOpen: true})
	require.NoError(t, err)
	assert.Equal(t, id, s.ProjectID())
}

func TestOpenUnrecoverable(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	store, err := f.root.Store(id)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.CanonicalPath(), []byte("{"), 0o644))

	caller := f.reg.Spawn()
	_, err = f.reg.OpenOrFocus(context.Background(), caller, id, nil)
	assert.ErrorIs(t, err, apperr.ErrUnrecoverable)
	assert.False(t, caller.Bound())
	assert.False(t, store.Health().Locked)
	assert.Len(t, f.reg.Sessions(), 1)
}

func TestNewProject(t *testing.T) {
	f := newFixture(t)
	caller := f.reg.Spawn()

	_, _, err := f.reg.NewProject(context.Background(), caller, "   ", nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidName)

	id, s, err := f.reg.NewProject(context.Background(), caller, "Bridge", nil)
	require.NoError(t, err)
	assert.Same(t, caller, s)
	assert.Equal(t, id, caller.ProjectID())
	assert.Equal(t, "LCCA - Bridge ("+id+")", caller.Title())
	assert.True(t, f.pub.has("project.created"))

	id2, s2, err := f.reg.NewProject(context.Background(), caller, "Second", nil)
	require.NoError(t, err)
	assert.NotSame(t, caller, s2)
	assert.Equal(t, id2, s2.ProjectID())
}

func TestDeleteProjectUnbindsHolder(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	caller := f.reg.Spawn()
	_, err := f.reg.OpenOrFocus(context.Background(), caller, id, nil)
	require.NoError(t, err)

	require.NoError(t, caller.Update(func(d *document.Document) error {
		return d.SetSection("traffic", 1)
	}))

	require.NoError(t, f.reg.DeleteProject(context.Background(), id))
	assert.False(t, caller.Bound())
	assert.Equal(t, session.HomeTitle, caller.Title())
	assert.False(t, f.root.Exists(id))
	assert.True(t, f.pub.has(events.SessionUnbound))
	assert.True(t, f.pub.has("project.deleted"))

	// The cancelled autosave does not bring the directory back.
	f.clock.Advance(time.Minute)
	assert.False(t, f.root.Exists(id))

	assert.ErrorIs(t, f.reg.DeleteProject(context.Background(), id), apperr.ErrNotFound)
}

func TestCloseFlushesAndUnregisters(t *testing.T) {
	f := newFixture(t)
	id := f.project(t, "P")
	s, err := f.reg.OpenOrFocus(context.Background(), nil, id, nil)
	require.NoError(t, err)

	require.NoError(t, s.Update(func(d *document.Document) error {
		return d.SetSection("traffic", map[string]int{"adt": 9})
	}))
	require.NoError(t, f.reg.Close(context.Background(), s))

	store, err := f.root.Store(id)
	require.NoError(t, err)
	doc, err := store.Load()
	require.NoError(t, err)
	_, ok := doc.Section("traffic")
	assert.True(t, ok)
	assert.False(t, store.Health().Locked)

	select {
	case <-f.reg.Done():
	default:
		t.Fatal("registry should be done after the last session closes")
	}
	assert.True(t, f.pub.has(events.SessionClosed))
}

func TestShutdownClosesAll(t *testing.T) {
	f := newFixture(t)
	one := f.project(t, "One")
	two := f.project(t, "Two")
	_, err := f.reg.OpenOrFocus(context.Background(), nil, one, nil)
	require.NoError(t, err)
	_, err = f.reg.OpenOrFocus(context.Background(), nil, two, nil)
	require.NoError(t, err)
	f.reg.Spawn()

	require.NoError(t, f.reg.Shutdown(context.Background()))
	assert.Empty(t, f.reg.Sessions())
	<-f.reg.Done()

	for _, id := range []string{one, two} {
		store, err := f.root.Store(id)
		require.NoError(t, err)
		assert.False(t, store.Health().Locked)
	}
}
