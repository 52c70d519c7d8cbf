// internal/storage/memory/memory_test.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verify Backend implements storage.Backend interface
var _ storage.Backend = (*Backend)(nil)

// Verify Backend implements storage.Uploadable interface
var _ storage.Uploadable = (*Backend)(nil)

func testSession() *core.Session {
	start := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	return &core.Session{
		ID:               "sess-1",
		StartTime:        start,
		EndTime:          start.Add(90 * time.Second),
		MapName:          "Town03",
		VehicleBlueprint: "vehicle.audi.a2",
		StepSeconds:      0.05,
	}
}

func TestStartSession_Resets(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.Init())

	require.NoError(t, b.StartSession(testSession()))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 1}))
	require.NoError(t, b.RecordGnssFix(&core.GnssFix{Tick: 1}))

	require.NoError(t, b.StartSession(testSession()))
	c, l, p, f := b.Counts()
	assert.Equal(t, []int{0, 0, 0, 0}, []int{c, l, p, f})
	assert.NoError(t, b.Close())
}

func TestEndSession_WithoutStartIsNoop(t *testing.T) {
	b := New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, b.EndSession(nil))
	assert.Empty(t, b.GetExportedFilePath())
}

func TestExport_JSON(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir})
	s := testSession()
	require.NoError(t, b.StartSession(s))

	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 5, OtherActor: "wall", NormalImpulse: core.Vector3{X: 3, Y: 4}}))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 5, NormalImpulse: core.Vector3{Z: 1}}))
	require.NoError(t, b.RecordCollision(&core.CollisionEvent{Tick: 2, NormalImpulse: core.Vector3{X: 2}}))
	require.NoError(t, b.RecordLaneInvasion(&core.LaneInvasionEvent{Tick: 3, Markings: []string{"Solid"}}))
	require.NoError(t, b.RecordProximity(&core.ProximityEvent{Tick: 4, Active: true, Nearest: 1.2}))
	require.NoError(t, b.RecordProximity(&core.ProximityEvent{Tick: 6, Active: false, Nearest: math.Inf(1)}))
	require.NoError(t, b.RecordGnssFix(&core.GnssFix{Tick: 1, Longitude: 0, Latitude: 0}))
	require.NoError(t, b.RecordGnssFix(&core.GnssFix{Tick: 2, Longitude: 0.001, Latitude: 0}))
	require.NoError(t, b.RecordPerformance(&core.PerformanceSnapshot{Tick: 20, LastTick: 15 * time.Millisecond}))

	require.NoError(t, b.EndSession(s))

	path := b.GetExportedFilePath()
	assert.Equal(t, filepath.Join(dir, "Town03_20240115_103000.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var export SessionExport
	require.NoError(t, json.Unmarshal(data, &export))

	assert.Equal(t, "sess-1", export.SessionID)
	assert.Equal(t, 90.0, export.Duration)
	assert.Len(t, export.Collisions, 3)
	assert.Equal(t, []core.CollisionRecord{{Tick: 2, Intensity: 2}, {Tick: 5, Intensity: 6}}, export.CollisionHistory)
	assert.Equal(t, []LaneJSON{{Tick: 3, Markings: []string{"Solid"}}}, export.LaneInvasions)
	assert.Equal(t, -1.0, export.Proximity[1].Nearest)
	assert.True(t, strings.HasPrefix(export.Route, "LINESTRING"))
	assert.InDelta(t, 111.3, export.RouteLength, 0.1)
	assert.Equal(t, 15.0, export.Performance[0].LastTickMs)

	meta := b.GetExportMetadata()
	assert.Equal(t, core.UploadMetadata{SessionID: "sess-1", MapName: "Town03", VehicleBlueprint: "vehicle.audi.a2", Duration: 90}, meta)
}

func TestExport_Gzip(t *testing.T) {
	dir := t.TempDir()
	b := New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	s := testSession()
	s.MapName = "Carla/Maps/Town03"
	require.NoError(t, b.StartSession(s))
	require.NoError(t, b.EndSession(nil))

	path := b.GetExportedFilePath()
	assert.Equal(t, "Carla_Maps_Town03_20240115_103000.json.gz", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	var export SessionExport
	require.NoError(t, json.NewDecoder(gz).Decode(&export))
	assert.Equal(t, "sess-1", export.SessionID)
	assert.Empty(t, export.Route, "no route without fixes")
	assert.NotNil(t, export.Collisions)
}

func TestConcurrentRecording(t *testing.T) {
	b := New(config.MemoryConfig{})
	require.NoError(t, b.StartSession(testSession()))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = b.RecordCollision(&core.CollisionEvent{Tick: uint64(j)})
				_ = b.RecordGnssFix(&core.GnssFix{Tick: uint64(j)})
			}
		}(i)
	}
	wg.Wait()

	c, _, _, f := b.Counts()
	assert.Equal(t, 1000, c)
	assert.Equal(t, 1000, f)
}
