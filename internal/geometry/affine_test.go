package geometry

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func near(a, b r3.Vec) bool {
	return math.Abs(a.X-b.X) < 1e-9 && math.Abs(a.Y-b.Y) < 1e-9 && math.Abs(a.Z-b.Z) < 1e-9
}

func TestAffine_ApplyAndInverse(t *testing.T) {
	a := FromRows(
		[4]float64{0, 0, 2, -10},
		[4]float64{-1, 0, 0, 5},
		[4]float64{0, 0.5, 0, 3},
	)

	inv, err := a.Inverse()
	if err != nil {
		t.Fatalf("Inverse failed: %v", err)
	}

	p := r3.Vec{X: 3, Y: 7, Z: 11}
	w := a.Apply(p)
	if want := (r3.Vec{X: 12, Y: 2, Z: 6.5}); !near(w, want) {
		t.Errorf("Apply = %v, want %v", w, want)
	}
	if back := inv.Apply(w); !near(back, p) {
		t.Errorf("Inverse(Apply(p)) = %v, want %v", back, p)
	}
}

func TestAffine_SingularInverse(t *testing.T) {
	a := FromRows(
		[4]float64{1, 0, 0, 0},
		[4]float64{0, 0, 0, 0},
		[4]float64{0, 0, 1, 0},
	)
	if _, err := a.Inverse(); err == nil {
		t.Error("Expected error for singular affine")
	}
}

func TestAffine_MulAppliesRightFirst(t *testing.T) {
	scale := Diagonal(2, 2, 2)
	shift := Identity()
	shift[0][3] = 1

	p := r3.Vec{X: 1, Y: 1, Z: 1}
	got := shift.Mul(scale).Apply(p)
	if want := (r3.Vec{X: 3, Y: 2, Z: 2}); !near(got, want) {
		t.Errorf("shift·scale = %v, want %v", got, want)
	}
}

func TestAffine_VoxelSizes(t *testing.T) {
	a := FromRows(
		[4]float64{-0.8, 0, 0, 0},
		[4]float64{0, 0, 1.2, 0},
		[4]float64{0, 3, 0, 0},
	)
	sizes := a.VoxelSizes()
	want := [3]float64{0.8, 3, 1.2}
	for i := range sizes {
		if math.Abs(sizes[i]-want[i]) > 1e-12 {
			t.Errorf("VoxelSizes()[%d] = %g, want %g", i, sizes[i], want[i])
		}
	}
}

func TestUnitAxisStep(t *testing.T) {
	tests := []struct {
		name string
		v    r3.Vec
		want AxisStep
		ok   bool
	}{
		{"plus x", r3.Vec{X: 1}, AxisStep{Axis: 0, Sign: 1}, true},
		{"minus y", r3.Vec{Y: -1.0004}, AxisStep{Axis: 1, Sign: -1}, true},
		{"plus z with noise", r3.Vec{X: 1e-5, Z: 0.9999}, AxisStep{Axis: 2, Sign: 1}, true},
		{"half voxel", r3.Vec{X: 0.5}, AxisStep{}, false},
		{"diagonal", r3.Vec{X: 1, Y: 1}, AxisStep{}, false},
		{"zero", r3.Vec{}, AxisStep{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := UnitAxisStep(tt.v, 1e-3)
			if ok != tt.ok {
				t.Fatalf("UnitAxisStep(%v) ok = %v, want %v", tt.v, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("UnitAxisStep(%v) = %+v, want %+v", tt.v, got, tt.want)
			}
		})
	}
}

func TestConvention_ToLPS(t *testing.T) {
	ras, err := RAS.ToLPS()
	if err != nil {
		t.Fatalf("RAS.ToLPS failed: %v", err)
	}
	got := ras.Apply(r3.Vec{X: 10, Y: -20, Z: 30})
	if want := (r3.Vec{X: -10, Y: 20, Z: 30}); !near(got, want) {
		t.Errorf("RAS→LPS = %v, want %v", got, want)
	}

	lps, err := LPS.ToLPS()
	if err != nil {
		t.Fatalf("LPS.ToLPS failed: %v", err)
	}
	if lps != Identity() {
		t.Errorf("LPS.ToLPS = %v, want identity", lps)
	}

	if _, err := Convention("XYZ").ToLPS(); err == nil {
		t.Error("Expected error for unknown convention")
	}
}

func TestParseConvention(t *testing.T) {
	tests := []struct {
		input   string
		want    Convention
		wantErr bool
	}{
		{"", RAS, false},
		{"ras", RAS, false},
		{" LPS ", LPS, false},
		{"LAS", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseConvention(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseConvention(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseConvention(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
