package sqlitestorage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/database"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	gormstorage "github.com/ImmersiveDrive/simclient/internal/storage/gorm"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ storage.Backend = (*Backend)(nil)

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "drive.db")
	b, err := New(Config{Path: path}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	s := &core.Session{ID: "file-1", StartTime: time.Now()}
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 3, NormalImpulse: core.Vector3{Y: 2}}))
	require.NoError(t, b.EndSession(s))
	require.NoError(t, b.Close())

	db, err := database.GetSqliteDBStandalone(path)
	require.NoError(t, err)
	h, err := gormstorage.LoadHistory(db, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []core.CollisionRecord{{Tick: 3, Intensity: 2}}, h.Collisions)
}

func TestMemoryBackend_DumpsOnClose(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")
	b, err := New(Config{DumpPath: dump, DumpInterval: time.Hour}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	s := &core.Session{ID: "mem-1", StartTime: time.Now()}
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.EndSession(s))
	require.NoError(t, b.Close())

	_, err = os.Stat(dump)
	require.NoError(t, err)

	db, err := database.GetSqliteDBStandalone(dump)
	require.NoError(t, err)
	sessions, err := gormstorage.ListSessions(db, 0)
	require.NoError(t, err)
	require.NotEmpty(t, sessions)
	assert.Equal(t, "mem-1", sessions[0].ID)
}

func TestMemoryBackend_PeriodicSnapshots(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "dump.db")
	b, err := New(Config{DumpPath: dump, DumpInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())

	require.Eventually(t, func() bool {
		n, _ := b.Dumps()
		return n >= 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	_, err = os.Stat(dump + ".partial")
	assert.ErrorIs(t, err, os.ErrNotExist)
	n, last := b.Dumps()
	assert.GreaterOrEqual(t, n, 3)
	assert.False(t, last.IsZero())
}

func TestFileBackend_DumpWithoutPath(t *testing.T) {
	b, err := New(Config{Path: filepath.Join(t.TempDir(), "drive.db")}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	assert.Error(t, b.Dump())
	require.NoError(t, b.Close())

	n, _ := b.Dumps()
	assert.Zero(t, n)
}
