package model

import (
	"math"
	"testing"
)

func TestClampProb(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below floor", 0.0001, 0.001},
		{"zero", 0, 0.001},
		{"negative", -0.2, 0.001},
		{"above ceiling", 0.9999, 0.999},
		{"one", 1, 0.999},
		{"inside", 0.42, 0.42},
		{"at floor", 0.001, 0.001},
		{"at ceiling", 0.999, 0.999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampProb(tt.in); got != tt.want {
				t.Errorf("ClampProb(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGuardProb_Finite(t *testing.T) {
	got, ok := GuardProb(0.7, 0.3)
	if !ok {
		t.Error("ok = false for finite input")
	}
	if got != 0.7 {
		t.Errorf("GuardProb = %v, want 0.7", got)
	}
}

func TestGuardProb_NaNFallsBack(t *testing.T) {
	got, ok := GuardProb(math.NaN(), 0.62)
	if ok {
		t.Error("ok = true for NaN input")
	}
	if got != 0.62 {
		t.Errorf("GuardProb = %v, want fallback 0.62", got)
	}
}

func TestGuardProb_InfFallsBack(t *testing.T) {
	got, ok := GuardProb(math.Inf(1), 0.25)
	if ok {
		t.Error("ok = true for +Inf input")
	}
	if got != 0.25 {
		t.Errorf("GuardProb = %v, want fallback 0.25", got)
	}
}

func TestGuardProb_BadFallbackDegradesToNeutral(t *testing.T) {
	got, ok := GuardProb(math.NaN(), math.NaN())
	if ok {
		t.Error("ok = true for NaN input")
	}
	if got != 0.5 {
		t.Errorf("GuardProb = %v, want 0.5", got)
	}
}

func TestGuardProb_ClampsFallback(t *testing.T) {
	got, _ := GuardProb(math.NaN(), 0)
	if got != ProbMin {
		t.Errorf("GuardProb = %v, want %v", got, ProbMin)
	}
}

func TestValidMid(t *testing.T) {
	tests := []struct {
		mid  float64
		want bool
	}{
		{0.5, true},
		{0.001, true},
		{0, false},
		{1, false},
		{1.2, false},
		{-0.1, false},
		{math.NaN(), false},
	}

	for _, tt := range tests {
		if got := ValidMid(tt.mid); got != tt.want {
			t.Errorf("ValidMid(%v) = %v, want %v", tt.mid, got, tt.want)
		}
	}
}

func TestPriceTickValid(t *testing.T) {
	base := PriceTick{Asset: AssetBTC, Venue: VenueBinance, Price: 50000}

	if !base.Valid() {
		t.Error("valid tick rejected")
	}

	bad := base
	bad.Price = 0
	if bad.Valid() {
		t.Error("zero price accepted")
	}

	bad = base
	bad.Price = -1
	if bad.Valid() {
		t.Error("negative price accepted")
	}

	bad = base
	bad.Price = math.NaN()
	if bad.Valid() {
		t.Error("NaN price accepted")
	}

	bad = base
	bad.Price = math.Inf(1)
	if bad.Valid() {
		t.Error("Inf price accepted")
	}

	bad = base
	bad.Asset = ""
	if bad.Valid() {
		t.Error("empty asset accepted")
	}

	bad = base
	bad.Venue = ""
	if bad.Valid() {
		t.Error("empty venue accepted")
	}
}
