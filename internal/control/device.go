package control

import "context"

// Key names a keyboard key as reported by the input device.
type Key string

const (
	KeyUp        Key = "up"
	KeyDown      Key = "down"
	KeyLeft      Key = "left"
	KeyRight     Key = "right"
	KeyW         Key = "w"
	KeyA         Key = "a"
	KeyS         Key = "s"
	KeyD         Key = "d"
	KeySpace     Key = "space"
	KeyEscape    Key = "escape"
	KeyBackspace Key = "backspace"
	KeyC         Key = "c"
	KeyQ         Key = "q"
	KeyZ         Key = "z"
	KeyX         Key = "x"
	KeyB         Key = "b"
	KeyL         Key = "l"
	KeyP         Key = "p"
	KeyCtrl      Key = "ctrl"
	KeyShift     Key = "shift"
)

// Snapshot is the device state at the moment of polling.
type Snapshot struct {
	Axes    []float64
	Buttons []bool
	Keys    map[Key]bool
}

// Axis returns the sample at idx, or the rest position when absent.
func (s Snapshot) Axis(idx int) float64 {
	if idx < 0 || idx >= len(s.Axes) {
		return 0
	}
	return s.Axes[idx]
}

// Button reports the level of button idx. Absent buttons read as released.
func (s Snapshot) Button(idx int) bool {
	if idx < 0 || idx >= len(s.Buttons) {
		return false
	}
	return s.Buttons[idx]
}

// Held reports whether any of keys is down.
func (s Snapshot) Held(keys ...Key) bool {
	for _, k := range keys {
		if s.Keys[k] {
			return true
		}
	}
	return false
}

// Device is an input device polled once per tick.
type Device interface {
	Poll(ctx context.Context) (Snapshot, error)
	NumAxes() int
	NumButtons() int
}

// StaticDevice always reports the same snapshot. Useful as a neutral device
// for autopilot runs.
type StaticDevice struct {
	State Snapshot
}

func (d *StaticDevice) Poll(context.Context) (Snapshot, error) { return d.State, nil }
func (d *StaticDevice) NumAxes() int                           { return len(d.State.Axes) }
func (d *StaticDevice) NumButtons() int                        { return len(d.State.Buttons) }
