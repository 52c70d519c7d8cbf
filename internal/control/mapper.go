// Package control turns polled wheel or keyboard input into one vehicle
// control command per tick.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ImmersiveDrive/simclient/pkg/core"
)

// ErrIndexOutOfRange is returned by New when the wheel mapping references an
// axis or button the device does not have.
var ErrIndexOutOfRange = errors.New("input index out of range")

// Mode selects the input source. The modes are exclusive for a session.
type Mode string

const (
	ModeKeyboard Mode = "keyboard"
	ModeWheel    Mode = "wheel"
)

// Disabled marks an unmapped wheel button.
const Disabled = -1

// WheelMapping assigns device indices to controls.
type WheelMapping struct {
	Steer    int `mapstructure:"steer"`
	Throttle int `mapstructure:"throttle"`
	Brake    int `mapstructure:"brake"`

	HandBrake   int `mapstructure:"handBrake"`
	Reverse     int `mapstructure:"reverse"`
	LeftSignal  int `mapstructure:"leftSignal"`
	RightSignal int `mapstructure:"rightSignal"`
	HighBeam    int `mapstructure:"highBeam"`
	LowBeam     int `mapstructure:"lowBeam"`
	Respawn     int `mapstructure:"respawn"`
	NextWeather int `mapstructure:"nextWeather"`
}

// DefaultWheelMapping matches a Logitech G29 in its default driver profile.
func DefaultWheelMapping() WheelMapping {
	return WheelMapping{
		Steer:       0,
		Throttle:    2,
		Brake:       3,
		HandBrake:   4,
		Reverse:     5,
		LeftSignal:  8,
		RightSignal: 9,
		HighBeam:    6,
		LowBeam:     7,
		Respawn:     0,
		NextWeather: 3,
	}
}

func (w WheelMapping) axes() map[string]int {
	return map[string]int{"steer": w.Steer, "throttle": w.Throttle, "brake": w.Brake}
}

func (w WheelMapping) buttons() map[string]int {
	return map[string]int{
		"handBrake":   w.HandBrake,
		"reverse":     w.Reverse,
		"leftSignal":  w.LeftSignal,
		"rightSignal": w.RightSignal,
		"highBeam":    w.HighBeam,
		"lowBeam":     w.LowBeam,
		"respawn":     w.Respawn,
		"nextWeather": w.NextWeather,
	}
}

// Config configures a Mapper.
type Config struct {
	Mode              Mode
	Wheel             WheelMapping
	SteerRate         float64 // keyboard steer change per elapsed millisecond
	SteerLimit        float64 // keyboard steer magnitude cap
	AutoCancelSignals bool
	SteerDeadband     float64
}

// DefaultConfig returns the keyboard configuration of the reference rig.
func DefaultConfig() Config {
	return Config{
		Mode:              ModeKeyboard,
		Wheel:             DefaultWheelMapping(),
		SteerRate:         5e-4,
		SteerLimit:        0.7,
		AutoCancelSignals: true,
		SteerDeadband:     0.02,
	}
}

// Action is a bitmask of session requests raised by input edges.
type Action uint8

const (
	ActionRespawn Action = 1 << iota
	ActionNextWeather
	ActionPreviousWeather
	ActionQuit
	ActionToggleAutopilot
)

// Has reports whether a is requested.
func (a Action) Has(flag Action) bool { return a&flag != 0 }

// Result is the output of one sample.
type Result struct {
	Command core.ControlCommand
	Actions Action
	// Cancelled is set when the turn signal was switched off by the steering.
	Cancelled bool
}

// Mapper samples a Device and keeps the state that outlives a tick: the gear,
// the keyboard steer accumulator, the light latch and the previous snapshot
// used for edge detection.
type Mapper struct {
	dev        Device
	cfg        Config
	lights     *LightState
	gear       int
	steerCache float64
	prev       Snapshot
	logger     *slog.Logger
}

// New validates cfg against the device and returns a mapper in first gear.
func New(dev Device, cfg Config, logger *slog.Logger) (*Mapper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Mode {
	case ModeKeyboard:
	case ModeWheel:
		if err := validateWheel(cfg.Wheel, dev); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown input mode %q", cfg.Mode)
	}
	if cfg.SteerRate <= 0 {
		cfg.SteerRate = DefaultConfig().SteerRate
	}
	if cfg.SteerLimit <= 0 || cfg.SteerLimit > 1 {
		cfg.SteerLimit = DefaultConfig().SteerLimit
	}
	return &Mapper{
		dev:    dev,
		cfg:    cfg,
		lights: NewLightState(cfg.AutoCancelSignals, cfg.SteerDeadband),
		gear:   core.GearFirst,
		logger: logger,
	}, nil
}

func validateWheel(w WheelMapping, dev Device) error {
	for name, idx := range w.axes() {
		if idx < 0 || idx >= dev.NumAxes() {
			return fmt.Errorf("axis %s=%d, device has %d axes: %w", name, idx, dev.NumAxes(), ErrIndexOutOfRange)
		}
	}
	for name, idx := range w.buttons() {
		if idx == Disabled {
			continue
		}
		if idx < 0 || idx >= dev.NumButtons() {
			return fmt.Errorf("button %s=%d, device has %d buttons: %w", name, idx, dev.NumButtons(), ErrIndexOutOfRange)
		}
	}
	return nil
}

// Lights exposes the light state, mostly for tests and diagnostics.
func (m *Mapper) Lights() *LightState { return m.lights }

// Gear returns the selected gear.
func (m *Mapper) Gear() int { return m.gear }

// Reset returns the mapper to its initial state after a respawn.
func (m *Mapper) Reset() {
	m.gear = core.GearFirst
	m.steerCache = 0
	m.lights.Reset()
}

// Sample polls the device once and builds the command for this tick. elapsed
// is the wall time since the previous sample and only affects keyboard
// steering.
func (m *Mapper) Sample(ctx context.Context, elapsed time.Duration) (Result, error) {
	snap, err := m.dev.Poll(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("poll input device: %w", err)
	}

	var res Result
	cmd := &res.Command

	switch m.cfg.Mode {
	case ModeWheel:
		m.readWheel(snap, cmd)
		res.Actions = m.wheelEdges(snap, cmd.Steer)
	default:
		m.readKeyboard(snap, elapsed, cmd)
		res.Actions = m.keyEdges(snap, cmd.Steer)
	}

	res.Cancelled = m.lights.ObserveSteer(cmd.Steer)
	if res.Cancelled {
		m.logger.Debug("turn signal cancelled by steering", "steer", cmd.Steer)
	}

	cmd.Gear = m.gear
	m.lights.Derive(cmd.Brake > 0, cmd.Reverse())
	cmd.Lights = m.lights.Bits()

	m.prev = snap
	return res, nil
}

func (m *Mapper) readKeyboard(snap Snapshot, elapsed time.Duration, cmd *core.ControlCommand) {
	if snap.Held(KeyUp, KeyW) {
		cmd.Throttle = 1
	}
	if snap.Held(KeyDown, KeyS) {
		cmd.Brake = 1
	}

	increment := m.cfg.SteerRate * float64(elapsed.Milliseconds())
	switch {
	case snap.Held(KeyLeft, KeyA):
		m.steerCache -= increment
	case snap.Held(KeyRight, KeyD):
		m.steerCache += increment
	default:
		m.steerCache = 0
	}
	m.steerCache = clamp(m.steerCache, -m.cfg.SteerLimit, m.cfg.SteerLimit)
	cmd.Steer = math.Round(m.steerCache*10) / 10
	cmd.HandBrake = snap.Held(KeySpace)
}

func (m *Mapper) readWheel(snap Snapshot, cmd *core.ControlCommand) {
	w := m.cfg.Wheel
	cmd.Steer = SteerCurve(snap.Axis(w.Steer))
	cmd.Throttle = ThrottleCurve(pedal(snap, w.Throttle))
	cmd.Brake = BrakeCurve(pedal(snap, w.Brake))
	cmd.HandBrake = w.HandBrake != Disabled && snap.Button(w.HandBrake)
}

// pedal reads a pedal axis, treating a missing sample as released.
func pedal(snap Snapshot, idx int) float64 {
	if idx < 0 || idx >= len(snap.Axes) {
		return 1
	}
	return snap.Axes[idx]
}

func (m *Mapper) pressed(snap Snapshot, idx int) bool {
	return idx != Disabled && snap.Button(idx) && !m.prev.Button(idx)
}

func (m *Mapper) keyDown(snap Snapshot, k Key) bool {
	return snap.Keys[k] && !m.prev.Keys[k]
}

func (m *Mapper) wheelEdges(snap Snapshot, steer float64) Action {
	w := m.cfg.Wheel
	var act Action

	// First match wins, so a button shared between an action and a light
	// only performs the action.
	seen := make(map[int]bool)
	for _, b := range []struct {
		idx int
		fn  func()
	}{
		{w.Respawn, func() { act |= ActionRespawn }},
		{w.NextWeather, func() { act |= ActionNextWeather }},
		{w.Reverse, m.toggleReverse},
		{w.RightSignal, func() { m.toggleSignal(SignalRight, steer) }},
		{w.LeftSignal, func() { m.toggleSignal(SignalLeft, steer) }},
		{w.HighBeam, func() { m.lights.Toggle(core.LightHighBeam) }},
		{w.LowBeam, func() { m.lights.Toggle(core.LightLowBeam) }},
	} {
		if b.idx == Disabled || seen[b.idx] {
			continue
		}
		seen[b.idx] = true
		if m.pressed(snap, b.idx) {
			b.fn()
		}
	}
	return act
}

func (m *Mapper) keyEdges(snap Snapshot, steer float64) Action {
	var act Action
	ctrl := snap.Held(KeyCtrl)

	if m.keyDown(snap, KeyEscape) || (ctrl && m.keyDown(snap, KeyQ)) {
		act |= ActionQuit
	}
	if m.keyDown(snap, KeyBackspace) {
		act |= ActionRespawn
	}
	if m.keyDown(snap, KeyC) {
		if snap.Held(KeyShift) {
			act |= ActionPreviousWeather
		} else {
			act |= ActionNextWeather
		}
	}
	if m.keyDown(snap, KeyP) {
		act |= ActionToggleAutopilot
	}
	if !ctrl && m.keyDown(snap, KeyQ) {
		m.toggleReverse()
	}
	if m.keyDown(snap, KeyZ) {
		m.toggleSignal(SignalLeft, steer)
	}
	if m.keyDown(snap, KeyX) {
		m.toggleSignal(SignalRight, steer)
	}
	if m.keyDown(snap, KeyB) {
		m.lights.Toggle(core.LightHighBeam)
	}
	if m.keyDown(snap, KeyL) {
		m.lights.Toggle(core.LightLowBeam)
	}
	return act
}

func (m *Mapper) toggleReverse() {
	if m.gear < 0 {
		m.gear = core.GearFirst
	} else {
		m.gear = core.GearReverse
	}
	m.logger.Debug("gear toggled", "gear", m.gear)
}

func (m *Mapper) toggleSignal(s Signal, steer float64) {
	m.lights.ToggleSignal(s, steer)
	m.logger.Debug("turn signal toggled", "signal", m.lights.Signal().String(), "steer", steer)
}
