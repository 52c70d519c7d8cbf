// pkg/core/events.go
package core

import (
	"math"
	"time"
)

// CollisionEvent is reported by the collision sensor attached to the vehicle.
type CollisionEvent struct {
	Tick          uint64
	Time          time.Time
	OtherActor    string
	NormalImpulse Vector3
}

// Intensity is the magnitude of the normal impulse.
func (e CollisionEvent) Intensity() float64 {
	i := e.NormalImpulse
	return math.Sqrt(i.X*i.X + i.Y*i.Y + i.Z*i.Z)
}

// CollisionRecord is the compact history entry kept for every collision.
type CollisionRecord struct {
	Tick      uint64  `json:"tick"`
	Intensity float64 `json:"intensity"`
}

// LaneInvasionEvent lists the lane marking types crossed in one step.
type LaneInvasionEvent struct {
	Tick     uint64
	Time     time.Time
	Markings []string
}

// RadarDetection is a single radar return.
type RadarDetection struct {
	Depth    float64 `json:"depth"`
	Azimuth  float64 `json:"azimuth"`
	Altitude float64 `json:"altitude"`
	Velocity float64 `json:"velocity"`
}

// RadarMeasurement groups the detections delivered in one radar sweep.
type RadarMeasurement struct {
	Tick       uint64
	Time       time.Time
	Detections []RadarDetection
}

// Nearest returns the smallest detection depth, or +Inf for an empty sweep.
func (m RadarMeasurement) Nearest() float64 {
	nearest := math.Inf(1)
	for _, d := range m.Detections {
		if d.Depth < nearest {
			nearest = d.Depth
		}
	}
	return nearest
}

// ProximityEvent marks the start or end of a proximity alert.
type ProximityEvent struct {
	Tick    uint64
	Time    time.Time
	Active  bool
	Nearest float64
}

// GnssFix is a geodetic position reported by the GNSS sensor.
type GnssFix struct {
	Tick      uint64
	Time      time.Time
	Latitude  float64
	Longitude float64
	Altitude  float64
}
