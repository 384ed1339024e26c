package session

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
	"github.com/starford/lcca/internal/recovery"
	"github.com/starford/lcca/internal/storage"
	"github.com/starford/lcca/internal/testutil"
)

type env struct {
	root  *storage.Root
	clock *testutil.FakeClock

	mu      sync.Mutex
	notices []Notice
}

func newEnv(t *testing.T) *env {
	t.Helper()
	start := time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)
	root, err := storage.NewRoot(t.TempDir(), storage.WithClock(func() time.Time { return start }))
	require.NoError(t, err)
	return &env{root: root, clock: testutil.NewFakeClock(start)}
}

func (e *env) session(id string) *Session {
	return New(id,
		WithSchedulerOptions(autosave.WithClock(e.clock)),
		WithNotifier(func(n Notice) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.notices = append(e.notices, n)
		}))
}

func (e *env) lastNotice() Notice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.notices) == 0 {
		return Notice{}
	}
	return e.notices[len(e.notices)-1]
}

func (e *env) open(t *testing.T, s *Session, name string) *storage.Store {
	t.Helper()
	id, err := e.root.Create(name)
	require.NoError(t, err)
	return e.openID(t, s, id)
}

func (e *env) openID(t *testing.T, s *Session, id string) *storage.Store {
	t.Helper()
	store, err := e.root.Store(id)
	require.NoError(t, err)
	opened, err := recovery.Open(context.Background(), store, nil, s.ID(), false)
	require.NoError(t, err)
	require.NoError(t, s.Bind(store, opened))
	return store
}

func setTraffic(adt int) func(*document.Document) error {
	return func(d *document.Document) error {
		return d.SetSection("traffic", map[string]int{"adt": adt})
	}
}

func diskTraffic(t *testing.T, store *storage.Store) (int, bool) {
	t.Helper()
	doc, err := store.Load()
	require.NoError(t, err)
	var v struct {
		ADT int `json:"adt"`
	}
	if err := doc.DecodeSection("traffic", &v); err != nil {
		return 0, false
	}
	return v.ADT, true
}

func TestUnboundSession(t *testing.T) {
	s := New("s1")
	assert.False(t, s.Bound())
	assert.Equal(t, "", s.ProjectID())
	assert.Equal(t, HomeTitle, s.Title())
	assert.Equal(t, autosave.Idle, s.AutosaveState())

	_, err := s.Document()
	assert.ErrorIs(t, err, apperr.ErrNoProject)
	assert.ErrorIs(t, s.Update(setTraffic(1)), apperr.ErrNoProject)
	assert.ErrorIs(t, s.Save(context.Background()), apperr.ErrNoProject)
	_, err = s.Checkpoint("x")
	assert.ErrorIs(t, err, apperr.ErrNoProject)
	assert.NoError(t, s.GoHome(context.Background()))
}

func TestEditsAutosave(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "Bridge")

	assert.Equal(t, "LCCA - Bridge ("+store.ID()+")", s.Title())

	require.NoError(t, s.Update(setTraffic(10)))
	assert.Equal(t, StatusSyncing, s.Status())
	assert.Equal(t, autosave.Pending, s.AutosaveState())
	_, ok := diskTraffic(t, store)
	assert.False(t, ok)

	e.clock.Advance(autosave.DefaultDebounce)
	adt, ok := diskTraffic(t, store)
	require.True(t, ok)
	assert.Equal(t, 10, adt)
	assert.Equal(t, StatusSaved, s.Status())
	assert.Equal(t, autosave.Idle, s.AutosaveState())
}

func TestFailedUpdateKeepsDocument(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	e.open(t, s, "P")

	err := s.Update(func(d *document.Document) error {
		_ = d.SetSection("partial", 1)
		return apperr.ErrInvalidName
	})
	assert.ErrorIs(t, err, apperr.ErrInvalidName)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Empty(t, doc.SectionNames())
	assert.Equal(t, autosave.Idle, s.AutosaveState())
}

func TestExplicitSave(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	require.NoError(t, s.Update(setTraffic(3)))
	require.NoError(t, s.Save(context.Background()))
	adt, ok := diskTraffic(t, store)
	require.True(t, ok)
	assert.Equal(t, 3, adt)
	assert.Zero(t, e.clock.Armed())
}

func TestGoHomeFlushesAndReleases(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	require.NoError(t, s.Update(setTraffic(7)))
	require.NoError(t, s.GoHome(context.Background()))

	assert.False(t, s.Bound())
	assert.Equal(t, HomeTitle, s.Title())
	assert.False(t, store.Health().Locked)
	adt, ok := diskTraffic(t, store)
	require.True(t, ok)
	assert.Equal(t, 7, adt)
}

func TestForceUnbindDropsPendingEdits(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	first := e.open(t, s, "First")

	require.NoError(t, s.Update(setTraffic(1)))
	s.ForceUnbind()
	assert.False(t, first.Health().Locked)

	// Rebinding to another project must not receive the old binding's save.
	second := e.open(t, s, "Second")
	e.clock.Advance(time.Minute)

	_, ok := diskTraffic(t, first)
	assert.False(t, ok)
	_, ok = diskTraffic(t, second)
	assert.False(t, ok)
}

func TestBindTwiceConflicts(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	err := s.Bind(store, &recovery.Opened{Doc: document.New("x", time.Now())})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestRepairedOpenRaisesNotice(t *testing.T) {
	e := newEnv(t)
	id, err := e.root.Create("P")
	require.NoError(t, err)
	store, err := e.root.Store(id)
	require.NoError(t, err)
	require.NoError(t, store.Save(document.New("P", time.Now())))
	require.NoError(t, os.WriteFile(store.CanonicalPath(), []byte("garbage"), 0o644))

	s := e.session("s1")
	e.openID(t, s, id)

	n := e.lastNotice()
	assert.Equal(t, LevelWarn, n.Level)
	assert.Equal(t, recovery.NoticeAutoRestored, n.Message)
	assert.Equal(t, id, n.ProjectID)
}

func TestAutosaveFailureRaisesNotice(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	require.NoError(t, s.Update(setTraffic(1)))
	require.NoError(t, os.RemoveAll(store.Dir()))
	e.clock.Advance(autosave.DefaultBound)

	n := e.lastNotice()
	assert.Equal(t, LevelError, n.Level)
	assert.Contains(t, n.Message, "Autosave failed")
	assert.NoDirExists(t, store.Dir())
}

func TestFailedAutosaveIsFlushedOnGoHome(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	// A directory where the backup goes makes the backup copy fail.
	require.NoError(t, os.Mkdir(store.BackupPath(), 0o755))
	require.NoError(t, s.Update(setTraffic(7)))
	e.clock.Advance(autosave.DefaultBound)
	assert.Equal(t, LevelError, e.lastNotice().Level)
	assert.Equal(t, autosave.Pending, s.AutosaveState())

	// While the disk still refuses, going home keeps the project open.
	assert.Error(t, s.GoHome(context.Background()))
	assert.True(t, s.Bound())

	require.NoError(t, os.Remove(store.BackupPath()))
	require.NoError(t, s.GoHome(context.Background()))
	assert.False(t, s.Bound())
	adt, ok := diskTraffic(t, store)
	require.True(t, ok)
	assert.Equal(t, 7, adt)
}

func TestCheckpointAndRestore(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	store := e.open(t, s, "P")

	require.NoError(t, s.Update(setTraffic(1)))
	file, err := s.Checkpoint("")
	require.NoError(t, err)
	assert.Equal(t, "Checkpoint saved: "+file, s.Status())

	require.NoError(t, s.Update(setTraffic(2)))
	res, err := s.Restore(context.Background(), recovery.Answers{Latest: true, Gate: recovery.GateSkip})
	require.NoError(t, err)
	assert.Equal(t, file, res.Checkpoint.Filename)
	assert.Equal(t, "Restored: "+res.Checkpoint.Label(), s.Status())
	assert.Equal(t, autosave.Idle, s.AutosaveState())

	doc, err := s.Document()
	require.NoError(t, err)
	var v struct {
		ADT int `json:"adt"`
	}
	require.NoError(t, doc.DecodeSection("traffic", &v))
	assert.Equal(t, 1, v.ADT)

	adt, ok := diskTraffic(t, store)
	require.True(t, ok)
	assert.Equal(t, 1, adt)

	// The dropped edit does not come back on a later timer.
	e.clock.Advance(time.Minute)
	adt, _ = diskTraffic(t, store)
	assert.Equal(t, 1, adt)
}

func TestRestoreWithoutCheckpointsNotifies(t *testing.T) {
	e := newEnv(t)
	s := e.session("s1")
	e.open(t, s, "P")

	_, err := s.Restore(context.Background(), recovery.Answers{Latest: true})
	assert.ErrorIs(t, err, apperr.ErrNoCheckpoints)
	assert.Equal(t, LevelInfo, e.lastNotice().Level)
}
