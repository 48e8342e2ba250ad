package core

import "math"

// Epsilon is the tolerance for threshold comparisons on fractions.
const Epsilon = 1e-9

// AtLeast reports a >= b within Epsilon.
func AtLeast(a, b float64) bool { return a >= b-Epsilon }

// Exceeds reports a > b by more than Epsilon.
func Exceeds(a, b float64) bool { return a > b+Epsilon }

func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }

// Lag moves current toward target with a first-order lag of the given rate
// over dt. The step never exceeds rate*dt*|target-current|.
func Lag(current, target, rate, dt float64) float64 {
	if rate <= 0 || dt <= 0 {
		return current
	}
	return current + (target-current)*(1-math.Exp(-rate*dt))
}
