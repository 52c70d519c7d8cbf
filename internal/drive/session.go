// Package drive runs one driving session: it acquires the vehicle, sensors,
// display, input and audio on Open, steps them once per tick in Run, and
// releases them in a fixed order on Close.
package drive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ImmersiveDrive/simclient/internal/audio"
	"github.com/ImmersiveDrive/simclient/internal/config"
	"github.com/ImmersiveDrive/simclient/internal/control"
	"github.com/ImmersiveDrive/simclient/internal/dispatcher"
	"github.com/ImmersiveDrive/simclient/internal/display"
	"github.com/ImmersiveDrive/simclient/internal/influx"
	"github.com/ImmersiveDrive/simclient/internal/logging"
	"github.com/ImmersiveDrive/simclient/internal/otel"
	"github.com/ImmersiveDrive/simclient/internal/sensor"
	"github.com/ImmersiveDrive/simclient/internal/session"
	"github.com/ImmersiveDrive/simclient/internal/storage"
	"github.com/ImmersiveDrive/simclient/internal/tick"
	"github.com/ImmersiveDrive/simclient/internal/timeutil"
	"github.com/ImmersiveDrive/simclient/internal/worker"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// ErrClosed is returned by Run and Step after Close.
var ErrClosed = errors.New("session closed")

// Dependencies are the collaborators of a session. Server and Device are
// required; everything else has a headless default.
type Dependencies struct {
	Server    simhost.Server
	Device    control.Device
	Player    audio.Player
	Presenter display.Presenter
	Backend   storage.Backend
	// Influx receives per-tick points when set.
	Influx *influx.Manager
	// Metrics records OTel instruments when set.
	Metrics *otel.DriveMetrics
	Session *session.Context
	Clock   timeutil.Clock
	Logger  *slog.Logger
	// DispatcherLogger defaults to a silent zerolog adapter.
	DispatcherLogger dispatcher.Logger

	// Host and Version are recorded in the session header.
	Host    string
	Version string
}

// Session owns every resource of one drive.
type Session struct {
	cfg    config.Settings
	deps   Dependencies
	logger *slog.Logger

	disp       *dispatcher.Dispatcher
	workers    *worker.Manager
	driver     *tick.Driver
	registry   *sensor.Registry
	events     *sensor.EventSensors
	compositor *display.Compositor
	mapper     *control.Mapper
	audio      *audio.Bridge

	vehicle   core.ActorID
	info      *core.Session
	autopilot bool
	started   bool

	lastTick   atomic.Int64
	feeds      atomic.Pointer[[]core.FeedStats]
	influxErrs uint64
	last       core.TickStats
	lastSample time.Time
	weather    string

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Open acquires the session. On failure everything acquired so far is
// released and the joined errors are returned.
func Open(ctx context.Context, cfg config.Settings, deps Dependencies) (*Session, error) {
	if deps.Server == nil {
		return nil, errors.New("drive: no simulator server")
	}
	if deps.Device == nil {
		return nil, errors.New("drive: no input device")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Backend == nil {
		deps.Backend = storage.Noop{}
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.Player == nil {
		deps.Player = audio.NewLogPlayer(deps.Clock, deps.Logger)
	}
	if deps.DispatcherLogger == nil {
		deps.DispatcherLogger = logging.NewKV(zerolog.Nop(), "dispatcher")
	}

	s := &Session{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "drive"),
	}
	s.feeds.Store(new([]core.FeedStats))
	if err := s.open(ctx); err != nil {
		return nil, errors.Join(err, s.Close(context.WithoutCancel(ctx)))
	}
	return s, nil
}

func (s *Session) open(ctx context.Context) error {
	var err error
	s.disp, err = dispatcher.New(s.deps.DispatcherLogger)
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}

	sc := s.deps.Session
	s.workers = worker.NewManager(worker.Dependencies{
		Logger: s.deps.Logger,
		Active: func() bool { return sc.ID() != "" },
	}, s.deps.Backend)
	s.workers.RegisterHandlers(s.disp)

	s.audio = audio.New(s.deps.Player, s.cfg.Audio, s.deps.Logger)
	s.audio.Register(s.disp)

	if s.deps.Metrics != nil {
		s.disp.Register(sensor.TopicCollision, func(e dispatcher.Event) error {
			if ev, ok := e.Payload.(core.CollisionEvent); ok {
				s.deps.Metrics.RecordCollision(context.Background(), ev.OtherActor)
			}
			return nil
		}, dispatcher.Named("metrics.collision"))
	}

	s.compositor, err = display.New(s.cfg.Display.Compositor(), s.deps.Presenter, s.deps.Logger)
	if err != nil {
		return fmt.Errorf("create compositor: %w", err)
	}

	s.mapper, err = control.New(s.deps.Device, s.cfg.Control.Mapper(), s.deps.Logger)
	if err != nil {
		return fmt.Errorf("create input mapper: %w", err)
	}

	s.driver = tick.New(s.deps.Server, s.cfg.Tick(), s.deps.Clock, s.deps.Logger)
	if err := s.driver.Start(ctx); err != nil {
		return err
	}

	if err := s.spawn(ctx); err != nil {
		return err
	}

	if s.cfg.Sim.Autopilot {
		if err := s.setAutopilot(ctx, true); err != nil {
			return err
		}
	}

	s.info = &core.Session{
		ID:               uuid.NewString(),
		StartTime:        s.deps.Clock.Now(),
		Host:             s.deps.Host,
		MapName:          s.cfg.Sim.Map,
		VehicleBlueprint: s.cfg.Sim.Vehicle,
		VehicleID:        s.vehicle,
		StepSeconds:      s.driver.Step().Seconds(),
		ExtensionVersion: s.deps.Version,
	}
	if err := s.deps.Backend.StartSession(s.info); err != nil {
		return fmt.Errorf("start telemetry session: %w", err)
	}
	s.started = true
	sc.Begin(s.info)

	s.logger.Info("Session started",
		"session", s.info.ID, "map", s.info.MapName, "vehicle", s.info.VehicleBlueprint,
		"cameras", len(s.cfg.Cameras), "step", s.driver.Step())
	return nil
}

// spawn creates the vehicle and attaches every camera and event sensor.
func (s *Session) spawn(ctx context.Context) error {
	id, err := s.deps.Server.SpawnVehicle(ctx, s.cfg.Sim.Vehicle, nil)
	if err != nil {
		return fmt.Errorf("spawn %s: %w", s.cfg.Sim.Vehicle, err)
	}
	s.vehicle = id

	s.registry = sensor.NewRegistry(s.deps.Server, s.deps.Logger)
	layout := s.compositor.Layout()
	for _, cam := range s.cfg.Cameras {
		w, h := cam.Slot.Size(layout)
		feed, err := s.registry.Attach(ctx, cam.CameraConfig.WithDefaults(w, h), s.vehicle)
		if err != nil {
			return err
		}
		if err := s.compositor.Attach(cam.Name, cam.Slot, feed.Buffer()); err != nil {
			return err
		}
	}

	s.events, err = sensor.AttachEvents(ctx, s.deps.Server, s.vehicle, s.cfg.Sensors, s.disp, s.deps.Logger)
	if err != nil {
		return err
	}
	return nil
}

// despawn stops and destroys the sensors and the vehicle, in that order.
func (s *Session) despawn(ctx context.Context) error {
	var errs []error
	if s.registry != nil {
		errs = append(errs, s.registry.Stop(ctx))
	}
	if s.events != nil {
		errs = append(errs, s.events.Stop(ctx))
	}
	if s.registry != nil {
		errs = append(errs, s.registry.Close(ctx))
		s.registry = nil
	}
	if s.events != nil {
		errs = append(errs, s.events.Close(ctx))
		s.events = nil
	}
	if s.compositor != nil {
		for _, name := range s.compositor.Viewports() {
			s.compositor.Detach(name)
		}
	}
	if s.vehicle != 0 {
		if err := s.deps.Server.DestroyActor(ctx, s.vehicle); err != nil {
			errs = append(errs, fmt.Errorf("destroy vehicle %d: %w", s.vehicle, err))
		}
		s.vehicle = 0
	}
	return errors.Join(errs...)
}

func (s *Session) setAutopilot(ctx context.Context, on bool) error {
	ap, ok := s.deps.Server.(simhost.Autopiloter)
	if !ok {
		s.logger.Warn("Simulator has no autopilot")
		return nil
	}
	if err := ap.SetAutopilot(ctx, s.vehicle, on); err != nil {
		return fmt.Errorf("set autopilot: %w", err)
	}
	s.autopilot = on
	s.logger.Info("Autopilot", "enabled", on)
	return nil
}

// Info returns the session header.
func (s *Session) Info() *core.Session { return s.info }

// Vehicle returns the current ego vehicle.
func (s *Session) Vehicle() core.ActorID { return s.vehicle }

// Audio exposes the event audio bridge.
func (s *Session) Audio() *audio.Bridge { return s.audio }

// Compositor exposes the display compositor.
func (s *Session) Compositor() *display.Compositor { return s.compositor }

// Mapper exposes the input mapper.
func (s *Session) Mapper() *control.Mapper { return s.mapper }

// Close releases everything in order: feeds stop, the simulator returns to
// asynchronous mode, sensors are destroyed, the display is released, the
// vehicle is destroyed and the telemetry session ends. Every step runs even
// when an earlier one fails.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		var errs []error

		if s.registry != nil {
			errs = append(errs, s.registry.Stop(ctx))
		}
		if s.events != nil {
			errs = append(errs, s.events.Stop(ctx))
		}

		if s.driver != nil {
			errs = append(errs, s.driver.Stop(ctx))
		}

		if s.registry != nil {
			errs = append(errs, s.registry.Close(ctx))
			s.registry = nil
		}
		if s.events != nil {
			errs = append(errs, s.events.Close(ctx))
			s.events = nil
		}

		if s.compositor != nil {
			errs = append(errs, s.compositor.Close())
		}
		if s.audio != nil {
			errs = append(errs, s.audio.Close())
		}

		if s.vehicle != 0 {
			if err := s.deps.Server.DestroyActor(ctx, s.vehicle); err != nil {
				errs = append(errs, fmt.Errorf("destroy vehicle %d: %w", s.vehicle, err))
			}
			s.vehicle = 0
		}

		// Buffered telemetry writes finish before the session is exported.
		if s.disp != nil {
			s.disp.Close()
		}
		if s.started {
			s.info.EndTime = s.deps.Clock.Now()
			s.info.Ticks = s.driver.Tick()
			if err := s.deps.Backend.EndSession(s.info); err != nil {
				errs = append(errs, fmt.Errorf("end telemetry session: %w", err))
			}
			s.deps.Session.End()
			recorded, skipped := s.workers.Counts()
			s.logger.Info("Session ended",
				"session", s.info.ID, "ticks", s.info.Ticks,
				"duration", s.info.EndTime.Sub(s.info.StartTime),
				"recorded", recorded, "skipped", skipped)
		}

		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
