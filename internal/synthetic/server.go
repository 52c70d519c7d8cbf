// Package synthetic is an in-process simulator. It drives a single vehicle
// down an endless straight road with obstacles, so the client can run without
// a simulator host. Runs are reproducible for a given seed.
package synthetic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

var (
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("synthetic server closed")
	// ErrUnknownActor is returned for ids the server never handed out.
	ErrUnknownActor = errors.New("unknown actor")
)

// DefaultStep is used when the client never sets a fixed step.
const DefaultStep = 50 * time.Millisecond

// WeatherPresets are cycled by NextWeather.
var WeatherPresets = []string{
	"ClearNoon", "CloudyNoon", "WetNoon", "WetCloudyNoon", "SoftRainNoon",
	"MidRainyNoon", "HardRainNoon", "ClearSunset", "CloudySunset", "WetSunset",
}

// Config tunes the generated world.
type Config struct {
	Seed int64
	Map  string
	// Origin anchors the GNSS track.
	OriginLat float64
	OriginLon float64
	// LaneRate is the chance per tick of a lane invasion while steering hard.
	LaneRate float64
}

// DefaultConfig returns a world anchored near Karlsruhe.
func DefaultConfig(seed int64) Config {
	return Config{
		Seed:      seed,
		Map:       "Town03",
		OriginLat: 49.0069,
		OriginLon: 8.4037,
		LaneRate:  0.05,
	}
}

type vehicle struct {
	blueprint string
	x, y      float64
	heading   float64
	speed     float64
	control   core.ControlCommand
	autopilot bool
	// obstacle is the distance to the next obstacle ahead.
	obstacle float64
	// crash is set for the frame in which the vehicle hit the obstacle.
	crash *crash
}

type crash struct {
	other   string
	impulse core.Vector3
}

type subscription struct {
	ch   chan delivery
	done chan struct{}
}

type delivery struct {
	payload simhost.Payload
	wg      *sync.WaitGroup
}

type sensorActor struct {
	spec     simhost.SensorSpec
	width    int
	height   int
	yaw      float64
	interval uint64
	sub      *subscription
}

// Server implements simhost.Server, simhost.WeatherCycler and
// simhost.Autopiloter.
type Server struct {
	cfg    Config
	logger *slog.Logger
	start  time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	frame    uint64
	syncMode bool
	step     time.Duration
	nextID   core.ActorID
	vehicles map[core.ActorID]*vehicle
	sensors  map[simhost.SensorID]*sensorActor
	weather  int
	closed   bool
}

var (
	_ simhost.Server        = (*Server)(nil)
	_ simhost.WeatherCycler = (*Server)(nil)
	_ simhost.Autopiloter   = (*Server)(nil)
)

// New creates a synthetic server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Map == "" {
		cfg.Map = "Town03"
	}
	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "synthetic"),
		start:    time.Now(),
		rng:      rand.New(rand.NewPCG(uint64(cfg.Seed), 0x5eed)),
		step:     DefaultStep,
		nextID:   1,
		vehicles: make(map[core.ActorID]*vehicle),
		sensors:  make(map[simhost.SensorID]*sensorActor),
	}
}

// MapName returns the configured map.
func (s *Server) MapName() string { return s.cfg.Map }

// AdvanceTick steps the world. In synchronous mode it returns only after
// every sensor callback of the new frame has run.
func (s *Server) AdvanceTick(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	s.frame++
	frame := s.frame
	dt := s.step.Seconds()
	stamp := s.start.Add(time.Duration(frame) * s.step)

	for _, id := range slices.Sorted(maps.Keys(s.vehicles)) {
		s.integrate(s.vehicles[id], dt)
	}

	var wg *sync.WaitGroup
	if s.syncMode {
		wg = &sync.WaitGroup{}
	}
	for _, id := range slices.Sorted(maps.Keys(s.sensors)) {
		sa := s.sensors[id]
		if sa.sub == nil || frame%sa.interval != 0 {
			continue
		}
		v := s.vehicles[sa.spec.Parent]
		if v == nil {
			continue
		}
		h := simhost.Header{SensorID: id, Tick: frame, Timestamp: stamp}
		for _, p := range s.generate(sa, v, h) {
			s.deliver(sa.sub, p, wg)
		}
	}
	for _, v := range s.vehicles {
		v.crash = nil
	}
	s.mu.Unlock()

	if wg == nil {
		return frame, nil
	}
	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return frame, nil
	case <-ctx.Done():
		return frame, ctx.Err()
	}
}

// deliver must be called with s.mu held. Without a wait group the payload is
// dropped when the subscriber is still busy with the previous one.
func (s *Server) deliver(sub *subscription, p simhost.Payload, wg *sync.WaitGroup) {
	if wg == nil {
		select {
		case sub.ch <- delivery{payload: p}:
		default:
		}
		return
	}
	wg.Add(1)
	sub.ch <- delivery{payload: p, wg: wg}
}

func (s *Server) integrate(v *vehicle, dt float64) {
	c := v.control
	if v.autopilot {
		c = core.ControlCommand{Gear: 1, Throttle: 0.4, Steer: 0.05 * math.Sin(float64(s.frame)/40)}
		if v.speed > 12 || v.obstacle < 15 {
			c.Throttle, c.Brake = 0, 0.6
		}
	}

	dir := 1.0
	if c.Gear < 0 {
		dir = -1
	}
	accel := c.Throttle*4*dir - c.Brake*8*sign(v.speed) - 0.05*v.speed
	if c.Gear == 0 {
		accel = -c.Brake*8*sign(v.speed) - 0.05*v.speed
	}
	if c.HandBrake {
		accel -= 6 * sign(v.speed)
	}
	next := v.speed + accel*dt
	if sign(next) != sign(v.speed) && v.speed != 0 && c.Throttle == 0 {
		next = 0
	}
	v.speed = next
	v.heading += c.Steer * v.speed * dt * 0.2
	dist := v.speed * dt
	v.x += dist * math.Cos(v.heading)
	v.y += dist * math.Sin(v.heading)
	v.obstacle -= dist

	if v.obstacle <= 0.5 {
		impulse := math.Abs(v.speed) * 1500
		other := "static.prop.barrel"
		if s.rng.IntN(2) == 0 {
			other = "vehicle.tesla.model3"
		}
		v.crash = &crash{
			other:   other,
			impulse: core.Vector3{X: -impulse * math.Cos(v.heading), Y: -impulse * math.Sin(v.heading)},
		}
		v.speed = 0
		v.obstacle = 30 + s.rng.Float64()*50
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// generate must be called with s.mu held.
func (s *Server) generate(sa *sensorActor, v *vehicle, h simhost.Header) []simhost.Payload {
	switch sa.spec.Kind {
	case simhost.SensorRGBCamera:
		return []simhost.Payload{&simhost.ImagePayload{
			Header: h,
			Width:  sa.width,
			Height: sa.height,
			Raw:    render(sa.width, sa.height, sa.yaw, v.x, s.weather),
		}}

	case simhost.SensorCollision:
		if v.crash == nil {
			return nil
		}
		return []simhost.Payload{&simhost.CollisionPayload{
			Header:        h,
			OtherActor:    v.crash.other,
			NormalImpulse: v.crash.impulse,
		}}

	case simhost.SensorLaneInvasion:
		if math.Abs(v.control.Steer) < 0.3 || math.Abs(v.speed) < 1 || s.rng.Float64() >= s.cfg.LaneRate {
			return nil
		}
		marking := "Broken"
		if s.rng.IntN(3) == 0 {
			marking = "Solid"
		}
		return []simhost.Payload{&simhost.LaneInvasionPayload{Header: h, Markings: []string{marking}}}

	case simhost.SensorRadar:
		rng := attrFloat(sa.spec.Attributes, "range", 100)
		p := &simhost.RadarPayload{Header: h}
		if v.obstacle > 0 && v.obstacle <= rng {
			p.Detections = append(p.Detections, core.RadarDetection{
				Depth:    v.obstacle,
				Azimuth:  (s.rng.Float64() - 0.5) * 0.02,
				Velocity: -v.speed,
			})
		}
		return []simhost.Payload{p}

	case simhost.SensorGnss:
		lat := s.cfg.OriginLat + v.y/111320
		lon := s.cfg.OriginLon + v.x/(111320*math.Cos(s.cfg.OriginLat*math.Pi/180))
		return []simhost.Payload{&simhost.GnssPayload{Header: h, Latitude: lat, Longitude: lon, Altitude: 110}}
	}
	return nil
}

func attrFloat(attrs map[string]string, key string, def float64) float64 {
	if v, err := strconv.ParseFloat(attrs[key], 64); err == nil {
		return v
	}
	return def
}

func (s *Server) SetSynchronousMode(_ context.Context, enabled bool, step time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.syncMode = enabled
	if step > 0 {
		s.step = step
	} else {
		s.step = DefaultStep
	}
	s.logger.Debug("Synchronous mode", "enabled", enabled, "step", step)
	return nil
}

// Synchronous reports the current mode and whether a fixed step is set.
func (s *Server) Synchronous() (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncMode, s.step
}

func (s *Server) SpawnVehicle(_ context.Context, blueprint string, at *core.Transform) (core.ActorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	v := &vehicle{blueprint: blueprint, obstacle: 40 + s.rng.Float64()*40}
	if at != nil {
		v.x, v.y = at.Location.X, at.Location.Y
		v.heading = at.Rotation.Yaw * math.Pi / 180
	}
	id := s.newID()
	s.vehicles[id] = v
	s.logger.Info("Vehicle spawned", "actor", id, "blueprint", blueprint)
	return id, nil
}

func (s *Server) newID() core.ActorID {
	id := s.nextID
	s.nextID++
	return id
}

func (s *Server) AttachSensor(_ context.Context, spec simhost.SensorSpec) (simhost.SensorID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if _, ok := s.vehicles[spec.Parent]; !ok {
		return 0, fmt.Errorf("parent %d: %w", spec.Parent, ErrUnknownActor)
	}
	sa := &sensorActor{spec: spec, interval: 1, yaw: spec.Transform.Rotation.Yaw}
	switch spec.Kind {
	case simhost.SensorRGBCamera:
		w, errW := strconv.Atoi(spec.Attributes["image_size_x"])
		h, errH := strconv.Atoi(spec.Attributes["image_size_y"])
		if errW != nil || errH != nil || w <= 0 || h <= 0 {
			return 0, fmt.Errorf("camera image size %q x %q", spec.Attributes["image_size_x"], spec.Attributes["image_size_y"])
		}
		sa.width, sa.height = w, h
		if tick := attrFloat(spec.Attributes, "sensor_tick", 0); tick > 0 {
			sa.interval = max(1, uint64(math.Round(tick/s.step.Seconds())))
		}
	case simhost.SensorCollision, simhost.SensorLaneInvasion, simhost.SensorRadar, simhost.SensorGnss:
	default:
		return 0, fmt.Errorf("unsupported sensor kind %q", spec.Kind)
	}
	id := s.newID()
	s.sensors[id] = sa
	return id, nil
}

func (s *Server) Subscribe(id simhost.SensorID, cb simhost.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	sa, ok := s.sensors[id]
	if !ok {
		return fmt.Errorf("sensor %d: %w", id, ErrUnknownActor)
	}
	if sa.sub != nil {
		stopSubscription(sa.sub)
	}
	sub := &subscription{ch: make(chan delivery, 1), done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for d := range sub.ch {
			cb(d.payload)
			if d.wg != nil {
				d.wg.Done()
			}
		}
	}()
	sa.sub = sub
	return nil
}

// stopSubscription waits for the callback goroutine to finish.
func stopSubscription(sub *subscription) {
	close(sub.ch)
	<-sub.done
}

func (s *Server) StopSensor(_ context.Context, id simhost.SensorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sa, ok := s.sensors[id]
	if !ok {
		return fmt.Errorf("sensor %d: %w", id, ErrUnknownActor)
	}
	if sa.sub != nil {
		stopSubscription(sa.sub)
		sa.sub = nil
	}
	return nil
}

func (s *Server) DestroyActor(_ context.Context, id core.ActorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sa, ok := s.sensors[id]; ok {
		if sa.sub != nil {
			stopSubscription(sa.sub)
		}
		delete(s.sensors, id)
		return nil
	}
	if _, ok := s.vehicles[id]; ok {
		delete(s.vehicles, id)
		s.logger.Info("Vehicle destroyed", "actor", id)
		return nil
	}
	return fmt.Errorf("actor %d: %w", id, ErrUnknownActor)
}

// Actors returns the number of live vehicles and sensors.
func (s *Server) Actors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vehicles) + len(s.sensors)
}

func (s *Server) ApplyControl(_ context.Context, actor core.ActorID, cmd core.ControlCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	v, ok := s.vehicles[actor]
	if !ok {
		return fmt.Errorf("vehicle %d: %w", actor, ErrUnknownActor)
	}
	v.control = cmd
	return nil
}

// LastControl returns the command most recently applied to actor.
func (s *Server) LastControl(actor core.ActorID) (core.ControlCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[actor]
	if !ok {
		return core.ControlCommand{}, false
	}
	return v.control, true
}

// Speed returns the current speed of actor in m/s.
func (s *Server) Speed(actor core.ActorID) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vehicles[actor]; ok {
		return v.speed
	}
	return 0
}

func (s *Server) NextWeather(_ context.Context, reverse bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(WeatherPresets)
	if reverse {
		s.weather = (s.weather - 1 + n) % n
	} else {
		s.weather = (s.weather + 1) % n
	}
	return WeatherPresets[s.weather], nil
}

func (s *Server) SetAutopilot(_ context.Context, actor core.ActorID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[actor]
	if !ok {
		return fmt.Errorf("vehicle %d: %w", actor, ErrUnknownActor)
	}
	v.autopilot = enabled
	return nil
}

// Close stops every subscription. Actors left alive are reported.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, sa := range s.sensors {
		if sa.sub != nil {
			stopSubscription(sa.sub)
			sa.sub = nil
		}
	}
	if n := len(s.vehicles) + len(s.sensors); n > 0 {
		s.logger.Warn("Closing with live actors", "count", n)
	}
	return nil
}
