package control

import "math"

// Response curve constants for the wheel and pedals.
const (
	steerGain     = 0.15
	steerShape    = 1.1
	throttleGain  = 1.35
	brakeGain     = 1.6
	pedalLogScale = 2.05
	pedalSlope    = -0.7
	pedalOffset   = 1.4
	pedalBias     = 1.2
	pedalNorm     = 0.92
)

// SteerCurve softens small wheel deflections. Output for the full [-1,1] input
// range stays within roughly ±0.29.
func SteerCurve(x float64) float64 {
	x = clampAxis(x)
	return steerGain * math.Tan(steerShape*x)
}

// ThrottleCurve maps a pedal axis (1 released, -1 fully pressed) to [0,1].
func ThrottleCurve(x float64) float64 {
	return pedalCurve(throttleGain, x)
}

// BrakeCurve maps a pedal axis (1 released, -1 fully pressed) to [0,1].
func BrakeCurve(x float64) float64 {
	return pedalCurve(brakeGain, x)
}

func pedalCurve(gain, x float64) float64 {
	x = clampAxis(x)
	v := gain + (pedalLogScale*math.Log10(pedalSlope*x+pedalOffset)-pedalBias)/pedalNorm
	return clamp(v, 0, 1)
}

// clampAxis limits a raw sample to [-1,1]. NaN reads as the rest position.
func clampAxis(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return clamp(x, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
