// Package vol estimates the probability that an asset settles above its
// window open price, using a GBM diffusion driven by EWMA variance of
// tick-level log returns.
package vol

import (
	"math"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

// Params tune one estimator instance.
type Params struct {
	Lambda         float64       // EWMA decay per update
	SigmaMinPerMin float64       // volatility floor, per minute
	Retention      time.Duration // price history horizon
}

// DefaultParams returns the tuning used when config leaves values zero.
func DefaultParams() Params {
	return Params{
		Lambda:         0.985,
		SigmaMinPerMin: 0.0004,
		Retention:      5 * time.Minute,
	}
}

type point struct {
	t time.Time
	p float64
}

// Model is one (asset, venue) estimator. It owns its price history; only the
// engine scheduler goroutine mutates or reads it.
type Model struct {
	params   Params
	hist     []point
	ewmaVar  float64
	lastProb float64
}

// New returns a Model with zero variance and empty history.
func New(params Params) *Model {
	if params.Lambda <= 0 || params.Lambda >= 1 {
		params.Lambda = DefaultParams().Lambda
	}
	if params.SigmaMinPerMin <= 0 {
		params.SigmaMinPerMin = DefaultParams().SigmaMinPerMin
	}
	if params.Retention <= 0 {
		params.Retention = DefaultParams().Retention
	}
	return &Model{params: params, hist: make([]point, 0, 512)}
}

// AddPrice appends one tick, prunes history past the retention horizon, and
// updates EWMA variance from the log return against the previous tick.
func (m *Model) AddPrice(t time.Time, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	if n := len(m.hist); n > 0 {
		r := math.Log(price / m.hist[n-1].p)
		m.ewmaVar = m.params.Lambda*m.ewmaVar + (1-m.params.Lambda)*r*r
	}
	m.hist = append(m.hist, point{t: t, p: price})
	m.prune(t)
}

func (m *Model) prune(now time.Time) {
	cut := now.Add(-m.params.Retention)
	i := 0
	for i < len(m.hist) && m.hist[i].t.Before(cut) {
		i++
	}
	if i > 0 {
		m.hist = append(m.hist[:0], m.hist[i:]...)
	}
}

// LastPrice returns the newest tick price, 0 when no history exists.
func (m *Model) LastPrice() float64 {
	if len(m.hist) == 0 {
		return 0
	}
	return m.hist[len(m.hist)-1].p
}

// LastTime returns the newest tick timestamp, zero when no history exists.
func (m *Model) LastTime() time.Time {
	if len(m.hist) == 0 {
		return time.Time{}
	}
	return m.hist[len(m.hist)-1].t
}

// Len returns the retained history length.
func (m *Model) Len() int { return len(m.hist) }

// LastProbability returns the most recently computed UP value, 0 before the
// first Calculate.
func (m *Model) LastProbability() float64 { return m.lastProb }

// EstimatePerMinute returns per-minute volatility: sqrt(ewmaVariance)
// scaled by sqrt(60) for the roughly once-per-second tick cadence, floored
// at SigmaMinPerMin.
func (m *Model) EstimatePerMinute() float64 {
	v := math.Sqrt(m.ewmaVar) * math.Sqrt(60)
	if v < m.params.SigmaMinPerMin {
		return m.params.SigmaMinPerMin
	}
	return v
}

// RecentPctChange returns the percent change (x100) between the newest tick
// and the most recent tick at or before now-window; 0 on insufficient history.
func (m *Model) RecentPctChange(now time.Time, window time.Duration) float64 {
	n := len(m.hist)
	if n < 2 {
		return 0
	}
	latest := m.hist[n-1]
	cutoff := now.Add(-window)
	for i := n - 1; i >= 0; i-- {
		if !m.hist[i].t.After(cutoff) {
			base := m.hist[i]
			if base.p == 0 {
				return 0
			}
			return (latest.p/base.p - 1) * 100
		}
	}
	return 0
}

// gapRiskFloor inflates the volatility floor as settlement approaches so the
// estimate cannot snap to 0/1 on the last seconds' noise.
func gapRiskFloor(tau float64) float64 {
	return 0.001 / math.Sqrt(math.Max(0.1, math.Sqrt(tau)))
}

// Calculate returns the probability pair for settling above startPrice with
// minutesRemaining left.
//
// Past settlement or with an unusable price the result is one-hot on the sign
// of currentPrice-startPrice; publishers clamp it at their boundary. Otherwise
// UP = NormalCDF(ln(current/start) / (sigma*sqrt(tau))) with sigma the floored
// per-minute volatility, clamped to [ProbMin, ProbMax].
func (m *Model) Calculate(currentPrice, startPrice, minutesRemaining float64) model.FairEstimate {
	if minutesRemaining <= 0 || currentPrice <= 0 || startPrice <= 0 {
		if currentPrice >= startPrice {
			m.lastProb = 1
			return model.FairEstimate{Up: 1, Down: 0}
		}
		m.lastProb = 0
		return model.FairEstimate{Up: 0, Down: 1}
	}

	tau := minutesRemaining
	sigma := m.EstimatePerMinute()
	if g := gapRiskFloor(tau); g > sigma {
		sigma = g
	}

	d := math.Log(currentPrice/startPrice) / (sigma * math.Sqrt(tau))
	up := model.ClampProb(NormalCDF(d))
	m.lastProb = up
	return model.FairEstimate{Up: up, Down: 1 - up}
}
