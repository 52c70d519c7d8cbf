// Package simhost defines the contract between the client and the external
// simulation server. The server owns the world, physics and rendering; the client
// only drives its tick cadence while a session is active.
package simhost

import (
	"context"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// SensorID identifies an attached sensor actor.
type SensorID = core.ActorID

// SensorKind names a sensor blueprint family.
type SensorKind string

const (
	SensorRGBCamera    SensorKind = "sensor.camera.rgb"
	SensorCollision    SensorKind = "sensor.other.collision"
	SensorLaneInvasion SensorKind = "sensor.other.lane_invasion"
	SensorRadar        SensorKind = "sensor.other.radar"
	SensorGnss         SensorKind = "sensor.other.gnss"
)

// SensorSpec is everything the server needs to spawn and attach a sensor.
// Attributes are produced from typed per-kind configuration, never forwarded
// from user input.
type SensorSpec struct {
	Kind       SensorKind
	Transform  core.Transform
	Parent     core.ActorID
	Attributes map[string]string
}

// Callback receives sensor payloads on a goroutine owned by the server.
type Callback func(Payload)

// Server is the simulation server as seen by the client.
type Server interface {
	// AdvanceTick steps the world by one fixed step and blocks until it completes.
	AdvanceTick(ctx context.Context) (uint64, error)

	// SetSynchronousMode switches fixed-step mode on or off. A zero step clears it.
	SetSynchronousMode(ctx context.Context, enabled bool, step time.Duration) error

	SpawnVehicle(ctx context.Context, blueprint string, at *core.Transform) (core.ActorID, error)
	AttachSensor(ctx context.Context, spec SensorSpec) (SensorID, error)
	Subscribe(id SensorID, cb Callback) error

	// StopSensor ends delivery for a sensor. No callback for it runs after
	// StopSensor returns.
	StopSensor(ctx context.Context, id SensorID) error
	DestroyActor(ctx context.Context, id core.ActorID) error

	ApplyControl(ctx context.Context, actor core.ActorID, cmd core.ControlCommand) error

	Close() error
}

// WeatherCycler is implemented by servers that can rotate weather presets.
type WeatherCycler interface {
	NextWeather(ctx context.Context, reverse bool) (string, error)
}

// Autopiloter is implemented by servers that can drive the vehicle themselves.
type Autopiloter interface {
	SetAutopilot(ctx context.Context, actor core.ActorID, enabled bool) error
}
