package simhost

import (
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// Payload is one delivery from a sensor. Servers deliver the concrete payload
// types below as pointers.
type Payload interface {
	Sensor() SensorID
	Frame() uint64
}

// Header is embedded by every payload.
type Header struct {
	SensorID  SensorID
	Tick      uint64
	Timestamp time.Time
}

func (h Header) Sensor() SensorID { return h.SensorID }
func (h Header) Frame() uint64    { return h.Tick }

// ImagePayload is a raw camera image in BGRA byte order, row-major, no padding.
type ImagePayload struct {
	Header
	Width  int
	Height int
	Raw    []byte
}

// CollisionPayload reports a collision of the parent actor.
type CollisionPayload struct {
	Header
	OtherActor    string
	NormalImpulse core.Vector3
}

// LaneInvasionPayload lists the lane marking types crossed.
type LaneInvasionPayload struct {
	Header
	Markings []string
}

// RadarPayload carries one radar sweep.
type RadarPayload struct {
	Header
	Detections []core.RadarDetection
}

// GnssPayload carries one geodetic fix.
type GnssPayload struct {
	Header
	Latitude  float64
	Longitude float64
	Altitude  float64
}
