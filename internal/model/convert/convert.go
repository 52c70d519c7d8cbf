package convert

import (
	"encoding/json"
	"math"

	"github.com/ImmersiveDrive/simclient/internal/model"
	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// SessionToCore converts a GORM SessionRecord to a core.Session.
func SessionToCore(s model.SessionRecord) core.Session {
	return core.Session{
		ID:               s.SessionUID,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Host:             s.Host,
		MapName:          s.MapName,
		VehicleBlueprint: s.VehicleBlueprint,
		VehicleID:        core.ActorID(s.VehicleID),
		StepSeconds:      float64(s.StepSeconds),
		ExtensionVersion: s.ExtensionVersion,
		Ticks:            uint64(s.Ticks),
	}
}

// CollisionToCore converts a GORM Collision to a core.CollisionEvent.
func CollisionToCore(c model.Collision) core.CollisionEvent {
	return core.CollisionEvent{
		Tick:          uint64(c.Tick),
		Time:          c.Time,
		OtherActor:    c.OtherActor,
		NormalImpulse: core.Vector3{X: c.ImpulseX, Y: c.ImpulseY, Z: c.ImpulseZ},
	}
}

// CollisionToRecord converts a GORM Collision to the compact history entry.
func CollisionToRecord(c model.Collision) core.CollisionRecord {
	return core.CollisionRecord{Tick: uint64(c.Tick), Intensity: c.Intensity}
}

// LaneInvasionToCore converts a GORM LaneInvasion to a core.LaneInvasionEvent.
func LaneInvasionToCore(l model.LaneInvasion) core.LaneInvasionEvent {
	var markings []string
	if len(l.Markings) > 0 {
		_ = json.Unmarshal(l.Markings, &markings)
	}
	return core.LaneInvasionEvent{
		Tick:     uint64(l.Tick),
		Time:     l.Time,
		Markings: markings,
	}
}

// ProximityAlertToCore converts a GORM ProximityAlert to a core.ProximityEvent.
// A NULL distance becomes +Inf.
func ProximityAlertToCore(p model.ProximityAlert) core.ProximityEvent {
	nearest := math.Inf(1)
	if p.Nearest != nil {
		nearest = *p.Nearest
	}
	return core.ProximityEvent{
		Tick:    uint64(p.Tick),
		Time:    p.Time,
		Active:  p.Active,
		Nearest: nearest,
	}
}

// GnssFixToCore converts a GORM GnssFix to a core.GnssFix.
func GnssFixToCore(f model.GnssFix) core.GnssFix {
	return core.GnssFix{
		Tick:      uint64(f.Tick),
		Time:      f.Time,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
	}
}
