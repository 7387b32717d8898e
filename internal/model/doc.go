// Package model defines the shared data types of the fair-value engine.
//
// Conventions:
//   - Prices: float64 in the venue's quote currency
//   - Probabilities: float64 clamped to [ProbMin, ProbMax] at publish boundaries
//   - Timestamps: time.Time; venue epochs are converted at the parser
//
// GuardProb is the single NaN/clamp boundary; every probability that leaves the
// volatility model, the basis calibrator, or the combined engine passes through
// it exactly once.
package model
