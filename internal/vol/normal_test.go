package vol

import (
	"math"
	"testing"
)

func TestNormalCDF_AgainstLibraryErf(t *testing.T) {
	for x := -6.0; x <= 6.0; x += 0.001 {
		exact := 0.5 * (1 + math.Erf(x/math.Sqrt2))
		got := NormalCDF(x)
		if diff := math.Abs(got - exact); diff > 2e-7 {
			t.Fatalf("NormalCDF(%v) = %v, want %v (diff %v)", x, got, exact, diff)
		}
	}
}

func TestNormalCDF_ExactAtZero(t *testing.T) {
	if got := NormalCDF(0); got != 0.5 {
		t.Errorf("NormalCDF(0) = %v, want exactly 0.5", got)
	}
}

func TestNormalCDF_KnownValues(t *testing.T) {
	tests := []struct {
		x    float64
		want float64
	}{
		{1.0, 0.8413447461},
		{-1.0, 0.1586552539},
		{1.96, 0.9750021049},
		{-1.96, 0.0249978951},
		{3.0, 0.9986501020},
	}

	for _, tt := range tests {
		got := NormalCDF(tt.x)
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("NormalCDF(%v) = %v, want %v", tt.x, got, tt.want)
		}
	}
}

func TestNormalCDF_Symmetry(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 1, 2, 3.7, 5} {
		sum := NormalCDF(x) + NormalCDF(-x)
		if math.Abs(sum-1) > 3e-7 {
			t.Errorf("NormalCDF(%v) + NormalCDF(-%v) = %v, want 1", x, x, sum)
		}
	}
}

func TestNormalCDF_Monotone(t *testing.T) {
	prev := NormalCDF(-8)
	for x := -7.9; x <= 8.0; x += 0.1 {
		cur := NormalCDF(x)
		if cur < prev {
			t.Fatalf("NormalCDF not monotone at x=%v: %v < %v", x, cur, prev)
		}
		prev = cur
	}
}
