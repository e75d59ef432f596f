package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	x := []float32{3, 4}
	NormalizeL2(x)
	if math.Abs(float64(x[0])-0.6) > 1e-6 || math.Abs(float64(x[1])-0.8) > 1e-6 {
		t.Errorf("got %v", x)
	}
	zero := []float32{0, 0}
	NormalizeL2(zero)
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}

func TestAllFinite(t *testing.T) {
	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	tests := []struct {
		in   []float32
		want bool
	}{
		{nil, true},
		{[]float32{0, 1, -2.5}, true},
		{[]float32{1, nan}, false},
		{[]float32{inf, 0}, false},
		{[]float32{0, -inf}, false},
	}
	for _, tt := range tests {
		if got := AllFinite(tt.in); got != tt.want {
			t.Errorf("AllFinite(%v) = %t, want %t", tt.in, got, tt.want)
		}
	}
}
