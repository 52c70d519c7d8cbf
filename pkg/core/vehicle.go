// pkg/core/vehicle.go
package core

import "fmt"

// ActorID identifies an actor (vehicle or sensor) inside the simulator.
type ActorID uint32

// Vector3 is a plain 3D vector in simulator units (metres, newton-seconds).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Location is a position relative to the parent actor or the world origin.
type Location struct {
	X float64 `json:"x" mapstructure:"x"`
	Y float64 `json:"y" mapstructure:"y"`
	Z float64 `json:"z" mapstructure:"z"`
}

// Rotation is expressed in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch" mapstructure:"pitch"`
	Yaw   float64 `json:"yaw" mapstructure:"yaw"`
	Roll  float64 `json:"roll" mapstructure:"roll"`
}

// Transform places an actor relative to its parent.
type Transform struct {
	Location Location `json:"location" mapstructure:"location"`
	Rotation Rotation `json:"rotation" mapstructure:"rotation"`
}

// Gear values. Forward gears are 1 and above.
const (
	GearReverse = -1
	GearNeutral = 0
	GearFirst   = 1
)

// LightState is the vehicle light bitmask. Bit values match the simulator's
// VehicleLightState enumeration so the mask can be forwarded verbatim.
type LightState uint32

const (
	LightNone         LightState = 0
	LightPosition     LightState = 1 << 0
	LightLowBeam      LightState = 1 << 1
	LightHighBeam     LightState = 1 << 2
	LightBrake        LightState = 1 << 3
	LightRightBlinker LightState = 1 << 4
	LightLeftBlinker  LightState = 1 << 5
	LightReverse      LightState = 1 << 6
)

// Has reports whether every bit of flag is set.
func (l LightState) Has(flag LightState) bool {
	return l&flag == flag && flag != 0
}

// Signalling reports whether either turn signal is on.
func (l LightState) Signalling() bool {
	return l&(LightLeftBlinker|LightRightBlinker) != 0
}

func (l LightState) String() string {
	if l == LightNone {
		return "none"
	}
	names := []struct {
		bit  LightState
		name string
	}{
		{LightPosition, "position"},
		{LightLowBeam, "low_beam"},
		{LightHighBeam, "high_beam"},
		{LightBrake, "brake"},
		{LightRightBlinker, "right_blinker"},
		{LightLeftBlinker, "left_blinker"},
		{LightReverse, "reverse"},
	}
	out := ""
	for _, n := range names {
		if l&n.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	return out
}

// ControlCommand is rebuilt every tick and applied once to the vehicle.
type ControlCommand struct {
	Throttle  float64    `json:"throttle"`
	Brake     float64    `json:"brake"`
	Steer     float64    `json:"steer"`
	HandBrake bool       `json:"handBrake"`
	Gear      int        `json:"gear"`
	Lights    LightState `json:"lights"`
}

// Reverse reports whether the command selects the reverse gear.
func (c ControlCommand) Reverse() bool {
	return c.Gear < 0
}

func (c ControlCommand) String() string {
	return fmt.Sprintf("throttle=%.2f brake=%.2f steer=%.2f hand_brake=%t gear=%d lights=%s",
		c.Throttle, c.Brake, c.Steer, c.HandBrake, c.Gear, c.Lights)
}
