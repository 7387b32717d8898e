package model

import "math"

// Bounds applied to every published probability-shaped value.
const (
	ProbMin = 0.001
	ProbMax = 0.999
)

// ClampProb bounds p to [ProbMin, ProbMax].
func ClampProb(p float64) float64 {
	if p < ProbMin {
		return ProbMin
	}
	if p > ProbMax {
		return ProbMax
	}
	return p
}

// GuardProb is the single NaN/Inf boundary for probabilities. It returns the
// clamped value and true when p is finite, otherwise the clamped fallback and
// false. A non-finite fallback degrades to 0.5 so the result is always defined.
func GuardProb(p, fallback float64) (float64, bool) {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		if math.IsNaN(fallback) || math.IsInf(fallback, 0) {
			fallback = 0.5
		}
		return ClampProb(fallback), false
	}
	return ClampProb(p), true
}

// ValidMid reports whether a prediction-market midpoint is usable for
// calibration: strictly inside (0, 1).
func ValidMid(mid float64) bool {
	return mid > 0 && mid < 1 && !math.IsNaN(mid)
}
