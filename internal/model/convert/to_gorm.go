// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"math"

	"github.com/ImmersiveDrive/simclient/internal/geo"
	"github.com/ImmersiveDrive/simclient/internal/model"
	"github.com/ImmersiveDrive/simclient/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// stringsToJSON converts a []string to datatypes.JSON for DB storage.
func stringsToJSON(items []string) datatypes.JSON {
	if len(items) == 0 {
		return datatypes.JSON("[]")
	}
	data, _ := json.Marshal(items)
	return datatypes.JSON(data)
}

// CoreToSession converts a core.Session to a GORM model.SessionRecord.
// core.Session.ID maps to SessionRecord.SessionUID.
func CoreToSession(s core.Session) model.SessionRecord {
	return model.SessionRecord{
		SessionUID:       s.ID,
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		Host:             s.Host,
		MapName:          s.MapName,
		VehicleBlueprint: s.VehicleBlueprint,
		VehicleID:        uint32(s.VehicleID),
		StepSeconds:      float32(s.StepSeconds),
		ExtensionVersion: s.ExtensionVersion,
		Ticks:            uint(s.Ticks),
	}
}

// CoreToCollision converts a core.CollisionEvent to a GORM model.Collision.
func CoreToCollision(e core.CollisionEvent) model.Collision {
	return model.Collision{
		Time:       e.Time,
		Tick:       uint(e.Tick),
		OtherActor: e.OtherActor,
		ImpulseX:   e.NormalImpulse.X,
		ImpulseY:   e.NormalImpulse.Y,
		ImpulseZ:   e.NormalImpulse.Z,
		Intensity:  e.Intensity(),
	}
}

// CoreToLaneInvasion converts a core.LaneInvasionEvent to a GORM model.LaneInvasion.
func CoreToLaneInvasion(e core.LaneInvasionEvent) model.LaneInvasion {
	return model.LaneInvasion{
		Time:     e.Time,
		Tick:     uint(e.Tick),
		Markings: stringsToJSON(e.Markings),
	}
}

// CoreToProximityAlert converts a core.ProximityEvent to a GORM model.ProximityAlert.
// An infinite nearest distance (empty sweep) is stored as NULL.
func CoreToProximityAlert(e core.ProximityEvent) model.ProximityAlert {
	out := model.ProximityAlert{
		Time:   e.Time,
		Tick:   uint(e.Tick),
		Active: e.Active,
	}
	if !math.IsInf(e.Nearest, 0) && !math.IsNaN(e.Nearest) {
		n := e.Nearest
		out.Nearest = &n
	}
	return out
}

// CoreToGnssFix converts a core.GnssFix to a GORM model.GnssFix.
// Fixes that cannot be projected keep an empty position.
func CoreToGnssFix(f core.GnssFix) model.GnssFix {
	pos, err := geo.FixPoint(f)
	if err != nil {
		pos = geom.NewEmptyPoint(geom.DimXYZ)
	}
	return model.GnssFix{
		Time:      f.Time,
		Tick:      uint(f.Tick),
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		Altitude:  f.Altitude,
		Position:  pos,
	}
}

// CoreToPerformance converts a core.PerformanceSnapshot to a GORM model.Performance.
func CoreToPerformance(p core.PerformanceSnapshot) model.Performance {
	feeds := datatypes.JSON("[]")
	if len(p.Feeds) > 0 {
		feeds, _ = json.Marshal(p.Feeds)
	}
	queues := datatypes.JSON("{}")
	if len(p.QueueLengths) > 0 {
		queues, _ = json.Marshal(p.QueueLengths)
	}
	return model.Performance{
		Time:           p.Time,
		Tick:           uint(p.Tick),
		LastTickMs:     float32(p.LastTick.Seconds() * 1000),
		CollisionCount: p.CollisionCount,
		Feeds:          feeds,
		QueueLengths:   queues,
	}
}
