package basis

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestUpdate_InitializesOffsetOnFirstSample(t *testing.T) {
	c := New(DefaultParams())

	got := c.Update(0.5, 0.62, 0, t0)

	offset, ok := c.Offset()
	if !ok {
		t.Fatal("offset not initialized after first valid sample")
	}
	if math.Abs(offset-0.12) > 1e-12 {
		t.Errorf("offset = %v, want 0.12", offset)
	}
	if math.Abs(got-0.62) > 1e-12 {
		t.Errorf("calibrated = %v, want 0.62", got)
	}
	if c.Latched() {
		t.Error("latched after first sample")
	}
}

func TestUpdate_ConvergedSnapsOffsetAndClearsLatch(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.5, 0.5, 0, t0) // offset 0

	got := c.Update(0.52, 0.521, 0, t0.Add(time.Second))

	offset, _ := c.Offset()
	if math.Abs(offset-0.001) > 1e-12 {
		t.Errorf("offset = %v, want 0.001", offset)
	}
	if c.Latched() {
		t.Error("latch not cleared on convergence")
	}
	if math.Abs(got-0.521) > 1e-12 {
		t.Errorf("calibrated = %v, want 0.521", got)
	}
}

func TestUpdate_SpikeFreezesOffsetAcrossCycles(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.5, 0.5, 0, t0) // offset 0

	for i := 1; i <= 3; i++ {
		c.Update(0.4, 0.6, 0.05, t0.Add(time.Duration(i)*100*time.Millisecond))
		offset, _ := c.Offset()
		if offset != 0 {
			t.Fatalf("cycle %d: offset = %v, want unchanged 0", i, offset)
		}
		if c.Latched() {
			t.Fatalf("cycle %d: latch running during spike", i)
		}
	}
}

func TestUpdate_LatchForcesSnapAtTimeoutNotBefore(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.5, 0.5, 0, t0) // offset 0

	// Diverged: model 0.5, mid 0.58, diff 0.08.
	c.Update(0.5, 0.58, 0, t0.Add(time.Second))
	if !c.Latched() {
		t.Fatal("latch not started on divergence")
	}
	latchedAt := t0.Add(time.Second)
	if !c.LatchedSince().Equal(latchedAt) {
		t.Fatalf("LatchedSince = %v, want %v", c.LatchedSince(), latchedAt)
	}

	got := c.Update(0.5, 0.58, 0, latchedAt.Add(2999*time.Millisecond))
	if offset, _ := c.Offset(); offset != 0 {
		t.Errorf("offset = %v at 2999ms, want unchanged 0", offset)
	}
	if got != 0.5 {
		t.Errorf("calibrated = %v at 2999ms, want 0.5", got)
	}

	got = c.Update(0.5, 0.58, 0, latchedAt.Add(3000*time.Millisecond))
	offset, _ := c.Offset()
	if math.Abs(offset-0.08) > 1e-12 {
		t.Errorf("offset = %v at 3000ms, want forced snap to 0.08", offset)
	}
	if c.Latched() {
		t.Error("latch not cleared after forced snap")
	}
	if math.Abs(got-0.58) > 1e-12 {
		t.Errorf("calibrated = %v after snap, want 0.58", got)
	}
}

func TestUpdate_SpikeRestartsDivergenceClock(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.5, 0.5, 0, t0)

	c.Update(0.5, 0.58, 0, t0.Add(1*time.Second)) // latch at +1s
	c.Update(0.5, 0.58, 0.05, t0.Add(3*time.Second))
	if c.Latched() {
		t.Fatal("latch survived a spike")
	}

	// Calm again at +3.5s: clock restarts there, so +4s must not snap yet.
	c.Update(0.5, 0.58, 0, t0.Add(3500*time.Millisecond))
	c.Update(0.5, 0.58, 0, t0.Add(4*time.Second))
	if offset, _ := c.Offset(); offset != 0 {
		t.Errorf("offset = %v before restarted timeout, want 0", offset)
	}

	c.Update(0.5, 0.58, 0, t0.Add(6500*time.Millisecond))
	if offset, _ := c.Offset(); math.Abs(offset-0.08) > 1e-12 {
		t.Errorf("offset = %v after restarted timeout, want 0.08", offset)
	}
}

func TestUpdate_MissingMidPublishesModelPlusOffset(t *testing.T) {
	c := New(DefaultParams())

	// No mid yet: nothing initializes, model value passes through.
	got := c.Update(0.47, 0, 0, t0)
	if _, ok := c.Offset(); ok {
		t.Error("offset initialized from missing mid")
	}
	if got != 0.47 {
		t.Errorf("calibrated = %v, want 0.47", got)
	}

	// Establish an offset, then lose the mid: offset keeps applying.
	c.Update(0.5, 0.55, 0, t0.Add(time.Second))
	got = c.Update(0.5, 0, 0, t0.Add(2*time.Second))
	if math.Abs(got-0.55) > 1e-12 {
		t.Errorf("calibrated = %v with lost mid, want 0.55", got)
	}
	if c.Latched() {
		t.Error("latch started without a mid")
	}
}

func TestUpdate_ClampsPublishedValue(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.95, 0.999, 0, t0)

	got := c.Update(0.999, 0.999, 0, t0.Add(time.Second))
	if got != 0.999 {
		t.Errorf("calibrated = %v, want clamp at 0.999", got)
	}

	c2 := New(DefaultParams())
	c2.Update(0.05, 0.001, 0, t0)
	got = c2.Update(0.001, 0.001, 0, t0.Add(time.Second))
	if got != 0.001 {
		t.Errorf("calibrated = %v, want clamp at 0.001", got)
	}
}

func TestReset(t *testing.T) {
	c := New(DefaultParams())
	c.Update(0.5, 0.6, 0, t0)
	c.Update(0.5, 0.6, 0, t0.Add(time.Second))

	c.Reset()

	if _, ok := c.Offset(); ok {
		t.Error("offset survived Reset")
	}
	if c.Latched() {
		t.Error("latch survived Reset")
	}

	// Next valid sample re-initializes.
	got := c.Update(0.5, 0.52, 0, t0.Add(2*time.Second))
	if math.Abs(got-0.52) > 1e-12 {
		t.Errorf("calibrated after reset = %v, want 0.52", got)
	}
}
