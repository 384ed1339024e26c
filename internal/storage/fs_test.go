package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/lcca/internal/apperr"
	"github.com/starford/lcca/internal/document"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.Local)

func tempRoot(t *testing.T, opts ...RootOption) *Root {
	t.Helper()
	opts = append([]RootOption{WithClock(func() time.Time { return testNow })}, opts...)
	r, err := NewRoot(t.TempDir(), opts...)
	require.NoError(t, err)
	return r
}

func newProject(t *testing.T, r *Root, name string) *Store {
	t.Helper()
	id, err := r.Create(name)
	require.NoError(t, err)
	s, err := r.Store(id)
	require.NoError(t, err)
	return s
}

func TestNewRootNonExistentDir(t *testing.T) {
	_, err := NewRoot(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewRootFileNotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	_, err := NewRoot(f)
	assert.Error(t, err)
}

func TestCreateWritesSeed(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "  Bridge A  ")

	assert.Len(t, s.ID(), 8)
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Bridge A", doc.Metadata.ProjectName)
	assert.Equal(t, "2024-03-01 09:30:00.000000", doc.Metadata.CreatedAt)

	_, err = os.Stat(s.BackupPath())
	assert.True(t, os.IsNotExist(err), "first save has nothing to back up")
}

func TestCreateRejectsBlankName(t *testing.T) {
	r := tempRoot(t)
	_, err := r.Create("   ")
	assert.ErrorIs(t, err, apperr.ErrInvalidName)

	entries, _ := os.ReadDir(r.Dir())
	assert.Empty(t, entries)
}

func TestCreateRetriesOnIDCollision(t *testing.T) {
	ids := []string{"aaaa0001", "aaaa0001", "bbbb0002"}
	r := tempRoot(t, WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	first, err := r.Create("One")
	require.NoError(t, err)
	second, err := r.Create("Two")
	require.NoError(t, err)
	assert.Equal(t, "aaaa0001", first)
	assert.Equal(t, "bbbb0002", second)
}

func TestStoreIsSharedPerProject(t *testing.T) {
	r := tempRoot(t)
	a, err := r.Store("abc12345")
	require.NoError(t, err)
	b, err := r.Store("abc12345")
	require.NoError(t, err)
	assert.Same(t, a, b)

	for _, id := range []string{"", ".", "..", "../x", "a/b", ".hidden"} {
		_, err := r.Store(id)
		assert.ErrorIs(t, err, apperr.ErrInvalidName, "id %q", id)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")

	doc, err := s.Load()
	require.NoError(t, err)
	require.NoError(t, doc.SetSection("bridge_data", map[string]any{"span": 42.5}))
	require.NoError(t, doc.Metadata.Set("author", "User"))
	require.NoError(t, s.Save(doc))

	got, err := s.Load()
	require.NoError(t, err)
	want, _ := doc.Marshal()
	have, _ := got.Marshal()
	assert.Equal(t, string(want), string(have))
}

func TestSaveKeepsPreviousAsBackup(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")

	before, err := os.ReadFile(s.CanonicalPath())
	require.NoError(t, err)

	doc := document.New("Renamed", testNow)
	require.NoError(t, s.Save(doc))

	bak, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, before, bak)

	second, _ := os.ReadFile(s.CanonicalPath())
	require.NoError(t, s.Save(document.New("Again", testNow)))
	bak, _ = os.ReadFile(s.BackupPath())
	assert.Equal(t, second, bak)
}

func TestSaveFailureLeavesCanonicalIntact(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	require.NoError(t, s.Save(document.New("Saved", testNow)))
	before, err := os.ReadFile(s.CanonicalPath())
	require.NoError(t, err)

	// Crash on the canonical rename only; the backup copy goes through.
	orig := renameFile
	renameFile = func(src, dst string) error {
		if dst == s.CanonicalPath() {
			return errors.New("crash")
		}
		return orig(src, dst)
	}
	t.Cleanup(func() { renameFile = orig })

	err = s.Save(document.New("Changed", testNow))
	require.Error(t, err)

	after, err := os.ReadFile(s.CanonicalPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	bak, err := os.ReadFile(s.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, before, bak, "backup holds the state before the failed save")

	matches, _ := filepath.Glob(filepath.Join(s.Dir(), ".*.tmp-*"))
	assert.Empty(t, matches, "temp files must be cleaned up")

	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "Saved", doc.Metadata.ProjectName)
}

func TestSaveAfterDeleteDoesNotRecreate(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	require.NoError(t, r.Delete(s.ID()))

	err := s.Save(document.New("Late", testNow))
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.False(t, r.Exists(s.ID()))
}

func TestHealthCheck(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		return p
	}

	assert.False(t, HealthCheck(filepath.Join(dir, "missing.json")))
	assert.False(t, HealthCheck(write("empty.json", "")))
	assert.False(t, HealthCheck(write("garbage.json", "{not json")))
	assert.False(t, HealthCheck(write("array.json", "[1,2]")))
	assert.False(t, HealthCheck(write("nometa.json", `{"a":1}`)))
	assert.False(t, HealthCheck(dir))
	assert.True(t, HealthCheck(write("ok.json", `{"metadata":{"project_name":"x"}}`)))
}

func TestHealthReportAndRestoreBackup(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	require.NoError(t, s.Save(document.New("Second", testNow)))
	require.NoError(t, os.WriteFile(s.CanonicalPath(), []byte("garbage"), 0o644))

	h := s.Health()
	assert.False(t, h.Canonical.Healthy)
	assert.NotEmpty(t, h.Canonical.Problem)
	assert.True(t, h.Backup.Healthy)
	assert.True(t, h.Recoverable())
	assert.False(t, h.Locked)

	require.NoError(t, s.RestoreBackup())
	doc, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "P", doc.Metadata.ProjectName)
}

func TestRestoreBackupMissing(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	assert.ErrorIs(t, s.RestoreBackup(), apperr.ErrNotFound)
}

func TestLockDiscipline(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")

	ok, err := s.AcquireLock("session-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AcquireLock("session-2")
	require.NoError(t, err)
	assert.False(t, ok)

	holder, err := s.LockHolder()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), holder.PID)
	assert.Equal(t, "session-1", holder.Session)
	assert.True(t, holder.Alive())
	assert.True(t, s.Health().Locked)

	require.NoError(t, s.ReleaseLock())
	require.NoError(t, s.ReleaseLock())
	_, err = s.LockHolder()
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	ok, err = s.AcquireLock("session-2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockHolderToleratesForeignContent(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	require.NoError(t, os.WriteFile(s.LockPath(), []byte("locked"), 0o644))

	holder, err := s.LockHolder()
	require.NoError(t, err)
	assert.Zero(t, holder.PID)
	assert.False(t, holder.Alive())
}

func TestAcquireLockOnDeletedProject(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	require.NoError(t, r.Delete(s.ID()))

	_, err := s.AcquireLock("x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListValidProjects(t *testing.T) {
	ids := []string{"bbbbbbbb", "aaaaaaaa", "cccccccc"}
	r := tempRoot(t, WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	good := newProject(t, r, "Good")
	recovering := newProject(t, r, "Recovering")
	broken := newProject(t, r, "Broken")

	// Recovering: canonical corrupt, backup usable.
	require.NoError(t, recovering.Save(document.New("Recovering", testNow)))
	require.NoError(t, os.WriteFile(recovering.CanonicalPath(), []byte("{"), 0o644))

	// Broken: canonical empty and no backup, so not a project.
	require.NoError(t, os.WriteFile(broken.CanonicalPath(), nil, 0o644))

	require.NoError(t, os.Mkdir(filepath.Join(r.Dir(), "stray"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir(), "file.txt"), []byte("x"), 0o644))

	_, err := good.CreateCheckpoint(document.New("Good", testNow), "cp")
	require.NoError(t, err)

	list, err := r.List()
	require.NoError(t, err)
	require.Len(t, list, 2)

	assert.Equal(t, "aaaaaaaa", list[0].ID)
	assert.Equal(t, "Recovering", list[0].Name)
	assert.True(t, list[0].Recovering)

	assert.Equal(t, "bbbbbbbb", list[1].ID)
	assert.Equal(t, "Good", list[1].Name)
	assert.False(t, list[1].Recovering)
	assert.Equal(t, 1, list[1].Checkpoints)
	assert.NotEmpty(t, list[1].Checksum)

	_, err = r.Info("cccccccc")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListNameFallsBackToID(t *testing.T) {
	r := tempRoot(t)
	dir := filepath.Join(r.Dir(), "deadbeef")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, CanonicalFile), []byte(`{"metadata":{}}`), 0o644))

	info, err := r.Info("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", info.Name)
}

func TestDelete(t *testing.T) {
	r := tempRoot(t)
	s := newProject(t, r, "P")
	_, err := s.CreateCheckpoint(document.New("P", testNow), "x")
	require.NoError(t, err)

	require.NoError(t, r.Delete(s.ID()))
	assert.False(t, r.Exists(s.ID()))
	assert.ErrorIs(t, r.Delete(s.ID()), apperr.ErrNotFound)
}
