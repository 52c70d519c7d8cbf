package sensor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/ImmersiveDrive/simclient/internal/dispatcher"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	"github.com/ImmersiveDrive/simclient/pkg/simhost"
)

// Dispatcher topics for discrete sensor events.
const (
	TopicCollision    = ":COLLISION:"
	TopicLaneInvasion = ":LANE:"
	TopicRadar        = ":RADAR:"
	TopicGnss         = ":GNSS:"
	// TopicProximity carries proximity alert transitions derived from radar.
	TopicProximity = ":PROXIMITY:"
)

// RadarConfig configures the forward radar.
type RadarConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Transform     core.Transform `mapstructure:"transform"`
	HorizontalFOV float64        `mapstructure:"horizontalFov"`
	VerticalFOV   float64        `mapstructure:"verticalFov"`
	Range         float64        `mapstructure:"range"`
}

// EventConfig selects the event sensors attached to the vehicle.
type EventConfig struct {
	Collision    bool        `mapstructure:"collision"`
	LaneInvasion bool        `mapstructure:"laneInvasion"`
	Gnss         bool        `mapstructure:"gnss"`
	Radar        RadarConfig `mapstructure:"radar"`
}

// DefaultEventConfig attaches every event sensor, with the radar on the front
// bumper looking 30x5 degrees out to 100 m.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		Collision:    true,
		LaneInvasion: true,
		Gnss:         true,
		Radar: RadarConfig{
			Enabled:       true,
			Transform:     core.Transform{Location: core.Location{X: 2.0, Z: 1.0}},
			HorizontalFOV: 30,
			VerticalFOV:   5,
			Range:         100,
		},
	}
}

// Validate checks the radar geometry.
func (c EventConfig) Validate() error {
	if !c.Radar.Enabled {
		return nil
	}
	if c.Radar.HorizontalFOV <= 0 || c.Radar.HorizontalFOV > 180 {
		return fmt.Errorf("radar horizontal fov %v: %w", c.Radar.HorizontalFOV, ErrInvalidConfig)
	}
	if c.Radar.VerticalFOV <= 0 || c.Radar.VerticalFOV > 180 {
		return fmt.Errorf("radar vertical fov %v: %w", c.Radar.VerticalFOV, ErrInvalidConfig)
	}
	if c.Radar.Range <= 0 {
		return fmt.Errorf("radar range %v: %w", c.Radar.Range, ErrInvalidConfig)
	}
	return nil
}

func (c EventConfig) specs(parent core.ActorID) []simhost.SensorSpec {
	var specs []simhost.SensorSpec
	if c.Collision {
		specs = append(specs, simhost.SensorSpec{Kind: simhost.SensorCollision, Parent: parent})
	}
	if c.LaneInvasion {
		specs = append(specs, simhost.SensorSpec{Kind: simhost.SensorLaneInvasion, Parent: parent})
	}
	if c.Gnss {
		specs = append(specs, simhost.SensorSpec{Kind: simhost.SensorGnss, Parent: parent})
	}
	if c.Radar.Enabled {
		specs = append(specs, simhost.SensorSpec{
			Kind:      simhost.SensorRadar,
			Parent:    parent,
			Transform: c.Radar.Transform,
			Attributes: map[string]string{
				"horizontal_fov": formatFloat(c.Radar.HorizontalFOV),
				"vertical_fov":   formatFloat(c.Radar.VerticalFOV),
				"range":          formatFloat(c.Radar.Range),
			},
		})
	}
	return specs
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EventSensors owns the discrete event sensors of one vehicle and publishes
// their deliveries on the dispatcher.
type EventSensors struct {
	server simhost.Server
	disp   *dispatcher.Dispatcher
	logger *slog.Logger

	mu      sync.Mutex
	ids     []simhost.SensorID
	kinds   map[simhost.SensorID]simhost.SensorKind
	stopped bool
}

// AttachEvents spawns and subscribes every sensor enabled in cfg. On failure
// the sensors attached so far are returned with the error and the caller
// releases them with Close, so they go down in the caller's teardown order.
func AttachEvents(ctx context.Context, server simhost.Server, parent core.ActorID, cfg EventConfig, disp *dispatcher.Dispatcher, logger *slog.Logger) (*EventSensors, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	es := &EventSensors{
		server: server,
		disp:   disp,
		logger: logger,
		kinds:  make(map[simhost.SensorID]simhost.SensorKind),
	}
	for _, spec := range cfg.specs(parent) {
		id, err := server.AttachSensor(ctx, spec)
		if err != nil {
			return es, fmt.Errorf("attach %s: %w", spec.Kind, err)
		}
		es.mu.Lock()
		es.ids = append(es.ids, id)
		es.kinds[id] = spec.Kind
		es.mu.Unlock()
		if err := server.Subscribe(id, es.deliver); err != nil {
			return es, fmt.Errorf("subscribe %s: %w", spec.Kind, err)
		}
		logger.Debug("event sensor attached", "kind", string(spec.Kind), "sensor", id)
	}
	return es, nil
}

// IDs returns the attached sensor ids.
func (es *EventSensors) IDs() []simhost.SensorID {
	es.mu.Lock()
	defer es.mu.Unlock()
	return append([]simhost.SensorID(nil), es.ids...)
}

func (es *EventSensors) deliver(p simhost.Payload) {
	es.mu.Lock()
	stopped := es.stopped
	es.mu.Unlock()
	if stopped {
		return
	}

	e, ok := ToEvent(p)
	if !ok {
		es.logger.Warn("unexpected event payload", "sensor", p.Sensor(), "type", fmt.Sprintf("%T", p))
		return
	}
	if !es.disp.HasHandler(e.Topic) {
		return
	}
	if err := es.disp.Dispatch(e); err != nil && !errors.Is(err, dispatcher.ErrClosed) {
		es.logger.Warn("event dispatch failed", "topic", e.Topic, "error", err)
	}
}

// ToEvent converts an event payload into a dispatcher event carrying the
// matching core type.
func ToEvent(p simhost.Payload) (dispatcher.Event, bool) {
	switch v := p.(type) {
	case *simhost.CollisionPayload:
		return dispatcher.Event{Topic: TopicCollision, Tick: v.Tick, Timestamp: v.Timestamp, Payload: core.CollisionEvent{
			Tick: v.Tick, Time: v.Timestamp, OtherActor: v.OtherActor, NormalImpulse: v.NormalImpulse,
		}}, true
	case *simhost.LaneInvasionPayload:
		return dispatcher.Event{Topic: TopicLaneInvasion, Tick: v.Tick, Timestamp: v.Timestamp, Payload: core.LaneInvasionEvent{
			Tick: v.Tick, Time: v.Timestamp, Markings: v.Markings,
		}}, true
	case *simhost.RadarPayload:
		return dispatcher.Event{Topic: TopicRadar, Tick: v.Tick, Timestamp: v.Timestamp, Payload: core.RadarMeasurement{
			Tick: v.Tick, Time: v.Timestamp, Detections: v.Detections,
		}}, true
	case *simhost.GnssPayload:
		return dispatcher.Event{Topic: TopicGnss, Tick: v.Tick, Timestamp: v.Timestamp, Payload: core.GnssFix{
			Tick: v.Tick, Time: v.Timestamp, Latitude: v.Latitude, Longitude: v.Longitude, Altitude: v.Altitude,
		}}, true
	}
	return dispatcher.Event{}, false
}

// Stop ends delivery for every event sensor. Deliveries racing with Stop are
// discarded.
func (es *EventSensors) Stop(ctx context.Context) error {
	es.mu.Lock()
	if es.stopped {
		es.mu.Unlock()
		return nil
	}
	es.stopped = true
	ids := append([]simhost.SensorID(nil), es.ids...)
	es.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := es.server.StopSensor(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("stop %s sensor %d: %w", es.kinds[id], id, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops and destroys every event sensor.
func (es *EventSensors) Close(ctx context.Context) error {
	errs := []error{es.Stop(ctx)}
	es.mu.Lock()
	ids := es.ids
	es.ids = nil
	es.mu.Unlock()
	for _, id := range ids {
		if err := es.server.DestroyActor(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("destroy sensor %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
