package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/internal/storage/memory"
	sqlitestorage "github.com/ImmersiveDrive/simclient/internal/storage/sqlite"
	wsstorage "github.com/ImmersiveDrive/simclient/internal/storage/websocket"
)

func TestHTTPToWS(t *testing.T) {
	assert.Equal(t, "ws://localhost:5000", httpToWS("http://localhost:5000/"))
	assert.Equal(t, "wss://results.example.com", httpToWS("https://results.example.com"))
}

func testSettings(t *testing.T) config.Settings {
	t.Helper()
	t.Cleanup(viper.Reset)
	require.NoError(t, config.Load(t.TempDir()))
	s, err := config.Decode()
	require.NoError(t, err)

	dir := t.TempDir()
	s.LogsDir = filepath.Join(dir, "logs")
	s.Sim.Synthetic = true
	s.Sim.Ticks = 5
	s.Display.Width, s.Display.Height = 240, 60
	s.Display.Rows, s.Display.Cols = 1, 3
	s.Display.Presenter = "none"
	s.Cameras = []config.CameraSlot{
		{CameraConfig: sensor.CameraConfig{Name: "left"}, Slot: display.GridSlot(0, 0)},
		{CameraConfig: sensor.CameraConfig{Name: "front"}, Slot: display.GridSlot(0, 1)},
		{CameraConfig: sensor.CameraConfig{Name: "right"}, Slot: display.GridSlot(0, 2)},
	}
	s.Storage.Type = "sqlite"
	s.Storage.SQLite.Path = filepath.Join(dir, "drivesim.db")
	s.Storage.Memory.OutputDir = filepath.Join(dir, "recordings")
	return s
}

func TestCreateStorageBackend(t *testing.T) {
	s := testSettings(t)
	logger := slog.New(slog.DiscardHandler)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for typ, want := range map[string]any{
		"none":      storage.Noop{},
		"memory":    &memory.Backend{},
		"websocket": &wsstorage.Backend{},
		"sqlite":    &sqlitestorage.Backend{},
	} {
		s.Storage.Type = typ
		b, err := createStorageBackend(s, start, logger)
		require.NoError(t, err, typ)
		assert.IsType(t, want, b, typ)
		require.NoError(t, b.Close(), typ)
	}
}

func TestRunSyntheticSession(t *testing.T) {
	s := testSettings(t)

	require.NoError(t, run(context.Background(), s))

	logs, err := os.ReadDir(s.LogsDir)
	require.NoError(t, err)
	var names []string
	for _, e := range logs {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "status.txt")

	var out bytes.Buffer
	require.NoError(t, listSessions(&out, s, "", 10))
	assert.Contains(t, out.String(), "Town03")
	assert.Contains(t, out.String(), "vehicle.audi.a2")

	db, closeDB, err := openHistoryDB(s, "")
	require.NoError(t, err)
	var id string
	require.NoError(t, db.Raw("SELECT session_uid FROM sessions LIMIT 1").Scan(&id).Error)
	require.NoError(t, closeDB())
	require.NotEmpty(t, id)

	out.Reset()
	require.NoError(t, printHistory(&out, s, "", []string{id}))
	var h historyOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &h))
	assert.Equal(t, id, h.Session)
	assert.Equal(t, uint64(5), h.Ticks)
	assert.Equal(t, "Town03", h.Map)
}

func TestHistoryWithoutDatabase(t *testing.T) {
	s := testSettings(t)
	err := printHistory(&bytes.Buffer{}, s, filepath.Join(t.TempDir(), "missing.db"), []string{"x"})
	assert.ErrorIs(t, err, os.ErrNotExist)
}
