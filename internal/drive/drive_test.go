package drive

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/internal/storage/memory"
	"github.com/ImmersiveDrive/simclient/internal/synthetic"
	"github.com/ImmersiveDrive/simclient/internal/timeutil"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

var background = color.RGBA{A: 255}

func testSettings() config.Settings {
	camera := func(name string, col int) config.CameraSlot {
		return config.CameraSlot{
			CameraConfig: sensor.CameraConfig{Name: name},
			Slot:         display.GridSlot(0, col),
		}
	}
	return config.Settings{
		Sim: config.SimConfig{
			Map:     "Town03",
			Vehicle: "vehicle.audi.a2",
			Step:    50 * time.Millisecond,
			Timeout: time.Second,
		},
		Display: config.DisplayConfig{Width: 240, Height: 60, Rows: 1, Cols: 3, ReverseGlyphSize: 16},
		Cameras: []config.CameraSlot{camera("left", 0), camera("front", 1), camera("right", 2)},
		Control: config.ControlConfig{
			Mode:              control.ModeKeyboard,
			Wheel:             control.DefaultWheelMapping(),
			AutoCancelSignals: true,
			SteerDeadband:     0.02,
		},
		Audio:   audio.Config{},
		Sensors: sensor.DefaultEventConfig(),
	}
}

// testServer wraps the synthetic server to silence or break single sensors.
type testServer struct {
	*synthetic.Server

	mu      sync.Mutex
	cameras int
	mute    int // 1-based camera index whose callbacks are dropped
	muted   map[simhost.SensorID]bool
	fail    simhost.SensorKind
}

func newTestServer() *testServer {
	return &testServer{
		Server: synthetic.New(synthetic.DefaultConfig(3), slog.New(slog.DiscardHandler)),
		muted:  map[simhost.SensorID]bool{},
	}
}

func (s *testServer) AttachSensor(ctx context.Context, spec simhost.SensorSpec) (simhost.SensorID, error) {
	if s.fail != "" && spec.Kind == s.fail {
		return 0, errors.New("attach refused")
	}
	id, err := s.Server.AttachSensor(ctx, spec)
	if err != nil || spec.Kind != simhost.SensorRGBCamera {
		return id, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras++
	if s.cameras == s.mute {
		s.muted[id] = true
	}
	return id, nil
}

func (s *testServer) Subscribe(id simhost.SensorID, cb simhost.Callback) error {
	s.mu.Lock()
	muted := s.muted[id]
	s.mu.Unlock()
	if muted {
		return nil
	}
	return s.Server.Subscribe(id, cb)
}

func openSession(t *testing.T, cfg config.Settings, server simhost.Server, dev control.Device, deps Dependencies) *Session {
	t.Helper()
	deps.Server = server
	deps.Device = dev
	deps.Presenter = display.Discard{}
	deps.Logger = slog.New(slog.DiscardHandler)
	deps.Host = "test"
	deps.Version = "dev"
	s, err := Open(context.Background(), cfg, deps)
	require.NoError(t, err)
	return s
}

func keys(k ...control.Key) control.Snapshot {
	snap := control.Snapshot{Keys: map[control.Key]bool{}}
	for _, key := range k {
		snap.Keys[key] = true
	}
	return snap
}

func cellBlank(img *image.RGBA, r image.Rectangle) bool {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.RGBAAt(x, y) != background {
				return false
			}
		}
	}
	return true
}

func TestGridWithSilentCamera(t *testing.T) {
	server := newTestServer()
	server.mute = 2
	cfg := testSettings()
	s := openSession(t, cfg, server, &control.StaticDevice{}, Dependencies{})

	stats, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Tick)
	assert.Equal(t, 2, stats.Drawn)
	assert.Equal(t, 1, stats.Skipped)

	layout := cfg.Display.Layout()
	surface := s.Compositor().Surface()
	assert.False(t, cellBlank(surface, display.GridSlot(0, 0).Rect(layout)), "left filled")
	assert.True(t, cellBlank(surface, display.GridSlot(0, 1).Rect(layout)), "front blank")
	assert.False(t, cellBlank(surface, display.GridSlot(0, 2).Rect(layout)), "right filled")

	require.NoError(t, s.Close(context.Background()))
	assert.Zero(t, server.Actors(), "every actor destroyed")
	syncMode, _ := server.Synchronous()
	assert.False(t, syncMode, "asynchronous mode restored")
}

func TestRunUntilTickLimit(t *testing.T) {
	server := newTestServer()
	cfg := testSettings()
	cfg.Sim.Ticks = 5
	dev := &control.StaticDevice{State: keys(control.KeyUp)}
	s := openSession(t, cfg, server, dev, Dependencies{})

	require.NoError(t, s.Run(context.Background()))
	cmd, ok := server.LastControl(s.Vehicle())
	require.True(t, ok)
	assert.Equal(t, 1.0, cmd.Throttle)
	assert.Equal(t, core.GearFirst, cmd.Gear)
	assert.Greater(t, server.Speed(s.Vehicle()), 0.0)

	snap := s.Snapshot()
	assert.Equal(t, uint64(5), snap.Tick)
	assert.Len(t, snap.Feeds, 3)
	for _, f := range snap.Feeds {
		assert.NotZero(t, f.Processed, f.Name)
	}

	info := s.Info()
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, uint64(5), info.Ticks)
	assert.False(t, info.EndTime.Before(info.StartTime))
}

func TestRunStopsOnQuit(t *testing.T) {
	server := newTestServer()
	s := openSession(t, testSettings(), server, &control.StaticDevice{State: keys(control.KeyEscape)}, Dependencies{})
	defer s.Close(context.Background())

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, uint64(1), s.Last().Tick)
}

func TestRunStopsOnCancel(t *testing.T) {
	server := newTestServer()
	s := openSession(t, testSettings(), server, &control.StaticDevice{}, Dependencies{})
	defer s.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Zero(t, s.Last().Tick)
}

func TestStepAfterClose(t *testing.T) {
	s := openSession(t, testSettings(), newTestServer(), &control.StaticDevice{}, Dependencies{})
	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()), "close is idempotent")

	_, err := s.Step(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRespawnClearsCollisions(t *testing.T) {
	server := newTestServer()
	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	dev := &control.StaticDevice{State: keys(control.KeyUp)}
	s := openSession(t, testSettings(), server, dev, Dependencies{Backend: backend})
	ctx := context.Background()

	for range 400 {
		_, err := s.Step(ctx)
		require.NoError(t, err)
		if len(s.Audio().Collisions()) > 0 {
			break
		}
	}
	require.NotEmpty(t, s.Audio().Collisions(), "full throttle reaches the obstacle")
	assert.NotEmpty(t, s.Audio().CollisionHistory())

	actors := server.Actors()
	before := s.Vehicle()
	dev.State = keys(control.KeyBackspace)
	_, err := s.Step(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, before, s.Vehicle())
	assert.Equal(t, s.Vehicle(), s.Info().VehicleID)
	assert.Empty(t, s.Audio().Collisions())
	assert.Equal(t, actors, server.Actors(), "old sensors destroyed, new ones attached")
	assert.Zero(t, server.Speed(s.Vehicle()))

	require.NoError(t, s.Close(ctx))
	collisions, _, _, _ := backend.Counts()
	assert.GreaterOrEqual(t, collisions, 1)
}

func TestWeatherAndAutopilot(t *testing.T) {
	server := newTestServer()
	dev := &control.StaticDevice{State: keys(control.KeyC)}
	s := openSession(t, testSettings(), server, dev, Dependencies{})
	defer s.Close(context.Background())
	ctx := context.Background()

	_, err := s.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, synthetic.WeatherPresets[1], s.Weather())

	dev.State = keys(control.KeyP, control.KeyUp)
	_, err = s.Step(ctx)
	require.NoError(t, err)
	require.True(t, s.autopilot)

	dev.State = keys(control.KeyUp)
	_, err = s.Step(ctx)
	require.NoError(t, err)
	cmd, _ := server.LastControl(s.Vehicle())
	assert.Equal(t, 1.0, cmd.Throttle, "command of the tick that enabled autopilot")

	dev.State = keys(control.KeyP)
	_, err = s.Step(ctx)
	require.NoError(t, err)
	assert.False(t, s.autopilot)
}

func TestAutopilotFromConfig(t *testing.T) {
	server := newTestServer()
	cfg := testSettings()
	cfg.Sim.Autopilot = true
	s := openSession(t, cfg, server, &control.StaticDevice{State: keys(control.KeyUp)}, Dependencies{})
	defer s.Close(context.Background())

	for range 3 {
		_, err := s.Step(context.Background())
		require.NoError(t, err)
	}
	cmd, ok := server.LastControl(s.Vehicle())
	require.True(t, ok)
	assert.Zero(t, cmd.Throttle, "manual command never applied")
	assert.Greater(t, server.Speed(s.Vehicle()), 0.0, "server drives")
}

func TestOpenFailureReleasesEverything(t *testing.T) {
	server := newTestServer()
	server.fail = simhost.SensorRadar

	_, err := Open(context.Background(), testSettings(), Dependencies{
		Server: server,
		Device: &control.StaticDevice{},
		Logger: slog.New(slog.DiscardHandler),
	})
	require.Error(t, err)
	assert.Zero(t, server.Actors())
	syncMode, _ := server.Synchronous()
	assert.False(t, syncMode)
}

func TestKeyboardSteerFollowsWallTime(t *testing.T) {
	server := newTestServer()
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))
	dev := &control.StaticDevice{State: keys(control.KeyD)}
	s := openSession(t, testSettings(), server, dev, Dependencies{Clock: clock})
	defer s.Close(context.Background())

	// The first sample counts one 50ms step: 0.025, shown as 0.
	_, err := s.Step(context.Background())
	require.NoError(t, err)
	cmd, ok := server.LastControl(s.Vehicle())
	require.True(t, ok)
	assert.Zero(t, cmd.Steer)

	// A slow frame steers further than one step would.
	clock.Advance(400 * time.Millisecond)
	_, err = s.Step(context.Background())
	require.NoError(t, err)
	cmd, _ = server.LastControl(s.Vehicle())
	assert.Equal(t, 0.2, cmd.Steer)
}

// teardownLog records the release calls of a session in call order, with
// repeats of the same call collapsed.
type teardownLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *teardownLog) add(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.calls); n > 0 && l.calls[n-1] == call {
		return
	}
	l.calls = append(l.calls, call)
}

func (l *teardownLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type recordingServer struct {
	*testServer
	log     *teardownLog
	vehicle core.ActorID
}

func (s *recordingServer) SpawnVehicle(ctx context.Context, blueprint string, at *core.Transform) (core.ActorID, error) {
	id, err := s.testServer.SpawnVehicle(ctx, blueprint, at)
	s.vehicle = id
	return id, err
}

func (s *recordingServer) StopSensor(ctx context.Context, id simhost.SensorID) error {
	s.log.add("stop sensor")
	return s.testServer.StopSensor(ctx, id)
}

func (s *recordingServer) SetSynchronousMode(ctx context.Context, enabled bool, step time.Duration) error {
	if !enabled {
		s.log.add("asynchronous mode")
	}
	return s.testServer.SetSynchronousMode(ctx, enabled, step)
}

func (s *recordingServer) DestroyActor(ctx context.Context, id core.ActorID) error {
	if id == s.vehicle {
		s.log.add("destroy vehicle")
	} else {
		s.log.add("destroy sensor")
	}
	return s.testServer.DestroyActor(ctx, id)
}

type recordingPresenter struct {
	display.Discard
	log *teardownLog
}

func (p recordingPresenter) Close() error {
	p.log.add("close presenter")
	return nil
}

type recordingBackend struct {
	storage.Noop
	log *teardownLog
}

func (b recordingBackend) EndSession(*core.Session) error {
	b.log.add("end session")
	return nil
}

func recordingDeps(server *testServer) (*recordingServer, Dependencies) {
	log := &teardownLog{}
	rs := &recordingServer{testServer: server, log: log}
	return rs, Dependencies{
		Server:    rs,
		Device:    &control.StaticDevice{},
		Presenter: recordingPresenter{log: log},
		Backend:   recordingBackend{log: log},
		Logger:    slog.New(slog.DiscardHandler),
	}
}

func TestCloseReleasesInOrder(t *testing.T) {
	server := newTestServer()
	rs, deps := recordingDeps(server)

	s, err := Open(context.Background(), testSettings(), deps)
	require.NoError(t, err)
	_, err = s.Step(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rs.log.Calls())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, []string{
		"stop sensor",
		"asynchronous mode",
		"destroy sensor",
		"close presenter",
		"destroy vehicle",
		"end session",
	}, rs.log.Calls())
	assert.Zero(t, server.Actors())
}

func TestOpenFailureReleasesInOrder(t *testing.T) {
	server := newTestServer()
	server.fail = simhost.SensorRadar
	rs, deps := recordingDeps(server)

	_, err := Open(context.Background(), testSettings(), deps)
	require.Error(t, err)
	assert.Equal(t, []string{
		"stop sensor",
		"asynchronous mode",
		"destroy sensor",
		"close presenter",
		"destroy vehicle",
	}, rs.log.Calls())
	assert.Zero(t, server.Actors())
}

func TestOpenRejectsBadInputMapping(t *testing.T) {
	server := newTestServer()
	cfg := testSettings()
	cfg.Control.Mode = control.ModeWheel

	_, err := Open(context.Background(), cfg, Dependencies{
		Server: server,
		Device: &control.StaticDevice{},
		Logger: slog.New(slog.DiscardHandler),
	})
	assert.ErrorIs(t, err, control.ErrIndexOutOfRange)
	assert.Zero(t, server.Actors())
}
