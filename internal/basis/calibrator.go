// Package basis reconciles venue-local diffusion probabilities with the
// prediction market's observed midpoint. Each calibrator tracks the additive
// offset between model and market for one (asset, venue) pair and a latch
// timer that forces re-alignment after sustained divergence.
package basis

import (
	"math"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// Params tune one calibrator.
type Params struct {
	ConvergeEps       float64       // |projected-mid| or |model-mid| below this counts as aligned
	LatchTimeout      time.Duration // continuous divergence before a forced snap
	SpikeThresholdPct float64       // |recent % change| above this freezes calibration
}

// DefaultParams returns the tuning used when config leaves values zero.
func DefaultParams() Params {
	return Params{
		ConvergeEps:       0.005,
		LatchTimeout:      3000 * time.Millisecond,
		SpikeThresholdPct: 0.035,
	}
}

// Calibrator is the per-(asset, venue) basis state machine: UNLATCHED when
// aligned or unset, LATCHED(since) while model and market disagree.
type Calibrator struct {
	params     Params
	offset     float64
	hasOffset  bool
	latchStart time.Time // zero while unlatched
}

// New returns an unlatched calibrator with no offset.
func New(params Params) *Calibrator {
	if params.ConvergeEps <= 0 {
		params.ConvergeEps = DefaultParams().ConvergeEps
	}
	if params.LatchTimeout <= 0 {
		params.LatchTimeout = DefaultParams().LatchTimeout
	}
	if params.SpikeThresholdPct <= 0 {
		params.SpikeThresholdPct = DefaultParams().SpikeThresholdPct
	}
	return &Calibrator{params: params}
}

// Update runs one calibration step and returns the calibrated UP value.
//
// With no usable mid the offset and latch stay untouched and the model value
// plus any existing offset is published. A spike freezes the offset and
// restarts the divergence clock. Otherwise alignment snaps the offset to
// (mid - model); sustained divergence past LatchTimeout force-snaps it.
func (c *Calibrator) Update(modelUp, marketMid, recentPct float64, now time.Time) float64 {
	if model.ValidMid(marketMid) {
		if !c.hasOffset {
			c.offset = marketMid - modelUp
			c.hasOffset = true
		}
		if math.Abs(recentPct) > c.params.SpikeThresholdPct {
			c.latchStart = time.Time{}
		} else {
			projected := modelUp + c.offset
			diff := math.Abs(projected - marketMid)
			rawDiff := math.Abs(modelUp - marketMid)
			switch {
			case diff < c.params.ConvergeEps || rawDiff < c.params.ConvergeEps:
				c.offset = marketMid - modelUp
				c.latchStart = time.Time{}
			case c.latchStart.IsZero():
				c.latchStart = now
			case now.Sub(c.latchStart) >= c.params.LatchTimeout:
				c.offset = marketMid - modelUp
				c.latchStart = time.Time{}
			}
		}
	}
	return model.ClampProb(modelUp + c.offset)
}

// Offset returns the current offset and whether one has been initialized.
func (c *Calibrator) Offset() (float64, bool) {
	return c.offset, c.hasOffset
}

// Latched reports whether the divergence clock is running.
func (c *Calibrator) Latched() bool {
	return !c.latchStart.IsZero()
}

// LatchedSince returns the divergence clock start, zero while unlatched.
func (c *Calibrator) LatchedSince() time.Time {
	return c.latchStart
}

// Reset clears offset and latch. Called on window rollover so a new market
// never inherits the previous window's basis.
func (c *Calibrator) Reset() {
	c.offset = 0
	c.hasOffset = false
	c.latchStart = time.Time{}
}
