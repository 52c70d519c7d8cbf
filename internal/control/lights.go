package control

import "github.com/ImmersiveDrive/simclient/pkg/core"

// Signal is the turn signal state.
type Signal int

const (
	SignalIdle Signal = iota
	SignalLeft
	SignalRight
)

func (s Signal) String() string {
	switch s {
	case SignalLeft:
		return "left"
	case SignalRight:
		return "right"
	default:
		return "idle"
	}
}

// LightState owns the vehicle light bitmask and the turn signal latch.
//
// Turn signals move IDLE -> LEFT|RIGHT on a toggle edge and back to IDLE on a
// second toggle of the same signal, or, with auto-cancel enabled, once the
// steering crosses to the side opposite the one recorded at toggle-on.
type LightState struct {
	bits       core.LightState
	signal     Signal
	recordedR  bool // steer >= 0 when the signal was switched on
	autoCancel bool
	deadband   float64
}

// NewLightState returns a state with every light off.
func NewLightState(autoCancel bool, deadband float64) *LightState {
	if deadband < 0 {
		deadband = 0
	}
	return &LightState{autoCancel: autoCancel, deadband: deadband}
}

// Bits returns the current bitmask.
func (l *LightState) Bits() core.LightState { return l.bits }

// Signal returns the active turn signal.
func (l *LightState) Signal() Signal { return l.signal }

// ToggleSignal handles a turn signal button edge. Toggling the active signal
// switches it off; toggling the other one moves the signal to that side.
func (l *LightState) ToggleSignal(s Signal, steer float64) {
	if s == SignalIdle {
		return
	}
	if l.signal == s {
		l.setSignal(SignalIdle)
		return
	}
	l.setSignal(s)
	l.recordedR = steer >= 0
}

// ObserveSteer applies the auto-cancel rule and reports whether it fired.
func (l *LightState) ObserveSteer(steer float64) bool {
	if !l.autoCancel || l.signal == SignalIdle {
		return false
	}
	reversed := (l.recordedR && steer < -l.deadband) || (!l.recordedR && steer > l.deadband)
	if !reversed {
		return false
	}
	l.setSignal(SignalIdle)
	return true
}

// Toggle flips an orthogonal light bit such as the beams.
func (l *LightState) Toggle(bit core.LightState) {
	l.bits ^= bit
}

// Derive sets the brake and reverse bits from the current command.
func (l *LightState) Derive(braking, reverse bool) {
	l.set(core.LightBrake, braking)
	l.set(core.LightReverse, reverse)
}

// Reset switches every light off and clears the latch.
func (l *LightState) Reset() {
	l.bits = core.LightNone
	l.signal = SignalIdle
	l.recordedR = false
}

func (l *LightState) setSignal(s Signal) {
	l.signal = s
	l.set(core.LightLeftBlinker, s == SignalLeft)
	l.set(core.LightRightBlinker, s == SignalRight)
}

func (l *LightState) set(bit core.LightState, on bool) {
	if on {
		l.bits |= bit
	} else {
		l.bits &^= bit
	}
}
