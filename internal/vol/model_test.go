package vol

import (
	"math"
	"testing"
	"time"

	"github.com/pmfair/updown-fair/internal/model"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCalculate_SumsToOneWithinBounds(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		start   float64
		tau     float64
	}{
		{"flat mid-window", 50000, 50000, 7.5},
		{"small up move", 50100, 50000, 7.5},
		{"down move", 49000, 50000, 3},
		{"large up move", 50500, 50000, 10},
		{"closing seconds", 50001, 50000, 0.01},
		{"deep down full window", 40000, 50000, 14.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(DefaultParams())
			est := m.Calculate(tt.current, tt.start, tt.tau)

			if sum := est.Up + est.Down; math.Abs(sum-1) > 1e-12 {
				t.Errorf("Up+Down = %v, want 1", sum)
			}
			if est.Up < model.ProbMin || est.Up > model.ProbMax {
				t.Errorf("Up = %v outside [%v, %v]", est.Up, model.ProbMin, model.ProbMax)
			}
			if est.Down < model.ProbMin || est.Down > model.ProbMax {
				t.Errorf("Down = %v outside [%v, %v]", est.Down, model.ProbMin, model.ProbMax)
			}
		})
	}
}

func TestCalculate_EqualPricesNeutral(t *testing.T) {
	m := New(DefaultParams())
	est := m.Calculate(50000, 50000, 7.5)
	if est.Up != 0.5 {
		t.Errorf("Up = %v, want exactly 0.5 for zero log return", est.Up)
	}
	if est.Down != 0.5 {
		t.Errorf("Down = %v, want exactly 0.5", est.Down)
	}
}

func TestCalculate_DegenerateOneHot(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		start   float64
		tau     float64
		wantUp  float64
	}{
		{"expired above", 100, 90, 0, 1},
		{"expired below", 90, 100, -1, 0},
		{"expired equal", 100, 100, 0, 1},
		{"zero current", 0, 100, 5, 0},
		{"zero start", 100, 0, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(DefaultParams())
			est := m.Calculate(tt.current, tt.start, tt.tau)
			if est.Up != tt.wantUp {
				t.Errorf("Up = %v, want %v", est.Up, tt.wantUp)
			}
			if est.Down != 1-tt.wantUp {
				t.Errorf("Down = %v, want %v", est.Down, 1-tt.wantUp)
			}
		})
	}
}

func TestCalculate_LowVolFloorSaturates(t *testing.T) {
	// startPrice 50000, current 50500, sigma_min 0.0004/min, tau 10, no
	// history: the floored sigma keeps d large and positive and UP clamps.
	m := New(Params{Lambda: 0.985, SigmaMinPerMin: 0.0004, Retention: 5 * time.Minute})
	est := m.Calculate(50500, 50000, 10)
	if est.Up != model.ProbMax {
		t.Errorf("Up = %v, want clamp at %v", est.Up, model.ProbMax)
	}
	if est.Down != 1-model.ProbMax {
		t.Errorf("Down = %v, want %v", est.Down, 1-model.ProbMax)
	}
}

func TestEstimatePerMinute_ConstantPriceReturnsFloor(t *testing.T) {
	p := Params{Lambda: 0.985, SigmaMinPerMin: 0.00025, Retention: 5 * time.Minute}
	m := New(p)
	for i := 0; i < 50; i++ {
		m.AddPrice(testStart.Add(time.Duration(i)*time.Second), 50000)
	}
	if m.ewmaVar != 0 {
		t.Errorf("ewmaVar = %v after constant prices, want 0", m.ewmaVar)
	}
	if got := m.EstimatePerMinute(); got != p.SigmaMinPerMin {
		t.Errorf("EstimatePerMinute = %v, want exactly %v", got, p.SigmaMinPerMin)
	}
}

func TestAddPrice_EwmaUpdate(t *testing.T) {
	m := New(Params{Lambda: 0.985, SigmaMinPerMin: 0.0001, Retention: 5 * time.Minute})

	m.AddPrice(testStart, 100)
	if m.ewmaVar != 0 {
		t.Fatalf("ewmaVar = %v after first tick, want 0", m.ewmaVar)
	}

	m.AddPrice(testStart.Add(time.Second), 101)
	r := math.Log(101.0 / 100.0)
	want := 0.015 * r * r
	if math.Abs(m.ewmaVar-want) > 1e-15 {
		t.Errorf("ewmaVar = %v, want %v", m.ewmaVar, want)
	}

	// A flat follow-up decays variance by lambda.
	m.AddPrice(testStart.Add(2*time.Second), 101)
	want *= 0.985
	if math.Abs(m.ewmaVar-want) > 1e-15 {
		t.Errorf("ewmaVar after flat tick = %v, want %v", m.ewmaVar, want)
	}
}

func TestAddPrice_RejectsInvalid(t *testing.T) {
	m := New(DefaultParams())
	m.AddPrice(testStart, 0)
	m.AddPrice(testStart, -5)
	m.AddPrice(testStart, math.NaN())
	m.AddPrice(testStart, math.Inf(1))
	if m.Len() != 0 {
		t.Errorf("Len = %d after invalid prices, want 0", m.Len())
	}
}

func TestPrune_DropsBeyondRetention(t *testing.T) {
	m := New(Params{Lambda: 0.985, SigmaMinPerMin: 0.0004, Retention: 2 * time.Second})

	m.AddPrice(testStart, 100)
	m.AddPrice(testStart.Add(time.Second), 101)
	m.AddPrice(testStart.Add(3*time.Second), 102)

	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2 after pruning", m.Len())
	}
	if m.hist[0].p != 101 {
		t.Errorf("oldest retained price = %v, want 101", m.hist[0].p)
	}
	if m.LastPrice() != 102 {
		t.Errorf("LastPrice = %v, want 102", m.LastPrice())
	}
}

func TestRecentPctChange(t *testing.T) {
	m := New(DefaultParams())
	now := testStart.Add(10 * time.Second)

	m.AddPrice(now.Add(-600*time.Millisecond), 100)
	m.AddPrice(now, 100.07)

	got := m.RecentPctChange(now, 500*time.Millisecond)
	if math.Abs(got-0.07) > 1e-9 {
		t.Errorf("RecentPctChange = %v, want 0.07", got)
	}
}

func TestRecentPctChange_InsufficientHistory(t *testing.T) {
	m := New(DefaultParams())
	now := testStart

	if got := m.RecentPctChange(now, 500*time.Millisecond); got != 0 {
		t.Errorf("RecentPctChange on empty = %v, want 0", got)
	}

	m.AddPrice(now, 100)
	if got := m.RecentPctChange(now, 500*time.Millisecond); got != 0 {
		t.Errorf("RecentPctChange with one tick = %v, want 0", got)
	}

	// Both ticks newer than the window cutoff: no base sample.
	m.AddPrice(now.Add(100*time.Millisecond), 101)
	if got := m.RecentPctChange(now.Add(200*time.Millisecond), 500*time.Millisecond); got != 0 {
		t.Errorf("RecentPctChange with no old sample = %v, want 0", got)
	}
}

func TestGapRiskFloor_GrowsTowardSettlement(t *testing.T) {
	if gapRiskFloor(0.05) <= gapRiskFloor(1) {
		t.Error("gap floor at tau=0.05 not above tau=1")
	}
	if gapRiskFloor(1) <= gapRiskFloor(10) {
		t.Error("gap floor at tau=1 not above tau=10")
	}

	want := 0.001 / math.Sqrt(math.Sqrt(10))
	if got := gapRiskFloor(10); math.Abs(got-want) > 1e-12 {
		t.Errorf("gapRiskFloor(10) = %v, want %v", got, want)
	}
}

func TestLastPriceAndTime(t *testing.T) {
	m := New(DefaultParams())
	if m.LastPrice() != 0 {
		t.Errorf("LastPrice on empty = %v, want 0", m.LastPrice())
	}
	if !m.LastTime().IsZero() {
		t.Error("LastTime on empty not zero")
	}

	ts := testStart.Add(42 * time.Second)
	m.AddPrice(ts, 123.45)
	if m.LastPrice() != 123.45 {
		t.Errorf("LastPrice = %v, want 123.45", m.LastPrice())
	}
	if !m.LastTime().Equal(ts) {
		t.Errorf("LastTime = %v, want %v", m.LastTime(), ts)
	}
}
