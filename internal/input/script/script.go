// Package script replays a YAML input timeline as a control device, for
// unattended runs and reproducible demos.
//
//	axes: 4
//	buttons: 12
//	steps:
//	  - tick: 0
//	    keys: [w]
//	  - tick: 100
//	    keys: [w, d]
//	  - tick: 140
//	    buttons: [5]
//	  - tick: 141
//
// Each step holds until the next one. A step without buttons releases them, so
// a one-tick step gives a single press edge. Axes a step leaves out sit at
// their rest value, zero unless the script names one:
//
//	rest: {1: 1, 2: 1}
package script

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ImmersiveDrive/simclient/internal/control"
)

// ErrInvalid is wrapped by every script validation error.
var ErrInvalid = errors.New("invalid input script")

// Step is the device state from Tick on.
type Step struct {
	Tick    uint64          `yaml:"tick"`
	Keys    []string        `yaml:"keys"`
	Axes    map[int]float64 `yaml:"axes"`
	Buttons []int           `yaml:"buttons"`
}

// Script is a parsed timeline.
type Script struct {
	Axes    int  `yaml:"axes"`
	Buttons int  `yaml:"buttons"`
	Loop    bool `yaml:"loop"`
	// Rest is the value of an axis no step sets. Wheel pedals rest at 1.
	Rest  map[int]float64 `yaml:"rest"`
	Steps []Step          `yaml:"steps"`
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes and validates a script.
func Parse(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks ordering and index ranges.
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalid)
	}
	if s.Axes < 0 || s.Buttons < 0 {
		return fmt.Errorf("%w: negative device size", ErrInvalid)
	}
	if err := s.checkAxes(s.Rest); err != nil {
		return fmt.Errorf("rest: %w", err)
	}
	for i, st := range s.Steps {
		if i > 0 && st.Tick <= s.Steps[i-1].Tick {
			return fmt.Errorf("%w: step %d tick %d not after %d", ErrInvalid, i, st.Tick, s.Steps[i-1].Tick)
		}
		if err := s.checkAxes(st.Axes); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		for _, b := range st.Buttons {
			if b < 0 || b >= s.Buttons {
				return fmt.Errorf("%w: step %d button %d of %d", ErrInvalid, i, b, s.Buttons)
			}
		}
	}
	return nil
}

func (s *Script) checkAxes(axes map[int]float64) error {
	for idx, v := range axes {
		if idx < 0 || idx >= s.Axes {
			return fmt.Errorf("%w: axis %d of %d", ErrInvalid, idx, s.Axes)
		}
		if v < -1 || v > 1 {
			return fmt.Errorf("%w: axis %d value %v", ErrInvalid, idx, v)
		}
	}
	return nil
}

// Length is the tick of the last step.
func (s *Script) Length() uint64 {
	return s.Steps[len(s.Steps)-1].Tick
}

// Device is a control.Device that advances one tick per Poll.
type Device struct {
	script *Script

	mu   sync.Mutex
	tick uint64
	next int
	cur  control.Snapshot
}

var _ control.Device = (*Device)(nil)

// NewDevice starts the timeline at tick zero.
func NewDevice(s *Script) *Device {
	return &Device{script: s, cur: s.snapshot(nil)}
}

func (s *Script) snapshot(st *Step) control.Snapshot {
	snap := control.Snapshot{
		Axes:    make([]float64, s.Axes),
		Buttons: make([]bool, s.Buttons),
		Keys:    make(map[control.Key]bool),
	}
	for idx, v := range s.Rest {
		snap.Axes[idx] = v
	}
	if st == nil {
		return snap
	}
	for idx, v := range st.Axes {
		snap.Axes[idx] = v
	}
	for _, b := range st.Buttons {
		snap.Buttons[b] = true
	}
	for _, k := range st.Keys {
		snap.Keys[control.Key(k)] = true
	}
	return snap
}

// Poll returns the state of the current tick and moves to the next.
func (d *Device) Poll(context.Context) (control.Snapshot, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	steps := d.script.Steps
	for d.next < len(steps) && steps[d.next].Tick <= d.tick {
		d.cur = d.script.snapshot(&steps[d.next])
		d.next++
	}
	out := d.cur
	d.tick++

	if d.script.Loop && d.next == len(steps) && d.tick > d.script.Length() {
		d.tick, d.next = 0, 0
	}
	return out, nil
}

// Done reports whether the last step has been reached. Looping scripts are
// never done.
func (d *Device) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.script.Loop && d.next == len(d.script.Steps)
}

func (d *Device) NumAxes() int    { return d.script.Axes }
func (d *Device) NumButtons() int { return d.script.Buttons }
