package nifti

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/nii2dcm/internal/geometry"
	"gonum.org/v1/gonum/spatial/r3"
)

func rampSpec(dt int16) Spec {
	shape := [3]int{4, 3, 2}
	values := make([]float64, 0, 24)
	for k := 0; k < shape[2]; k++ {
		for j := 0; j < shape[1]; j++ {
			for i := 0; i < shape[0]; i++ {
				values = append(values, float64(i+10*j+100*k))
			}
		}
	}
	return Spec{
		Shape:    shape,
		Affine:   geometry.FromRows([4]float64{-0.5, 0, 0, 10}, [4]float64{0, -0.5, 0, 20}, [4]float64{0, 0, 2, -30}),
		DataType: dt,
		Values:   values,
	}
}

func TestLoad_RoundTripDatatypes(t *testing.T) {
	tests := []struct {
		name string
		dt   int16
		file string
	}{
		{"uint8", DTUint8, "seg.nii"},
		{"int16", DTInt16, "seg.nii"},
		{"uint16 gz", DTUint16, "seg.nii.gz"},
		{"int32", DTInt32, "seg.nii"},
		{"float32 gz", DTFloat32, "seg.nii.gz"},
		{"float64", DTFloat64, "seg.nii"},
		{"uint64", DTUint64, "seg.nii"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			spec := rampSpec(tt.dt)
			if err := WriteFile(path, spec); err != nil {
				t.Fatalf("WriteFile failed: %v", err)
			}

			vol, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if vol.Shape() != spec.Shape {
				t.Errorf("Shape() = %v, want %v", vol.Shape(), spec.Shape)
			}
			if vol.Affine() != spec.Affine {
				t.Errorf("Affine() = %v, want %v", vol.Affine(), spec.Affine)
			}
			if got := vol.At(3, 2, 1); got != 123 {
				t.Errorf("At(3,2,1) = %g, want 123", got)
			}
			if got := vol.At(1, 0, 0); got != 1 {
				t.Errorf("At(1,0,0) = %g, want 1", got)
			}
		})
	}
}

func TestLoad_QForm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.nii")
	spec := rampSpec(DTUint8)
	spec.Affine = geometry.FromRows([4]float64{2, 0, 0, 1}, [4]float64{0, 3, 0, 2}, [4]float64{0, 0, 4, 3})
	spec.QForm = true
	if err := WriteFile(path, spec); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	vol, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	got := vol.Affine().Apply(r3.Vec{X: 1, Y: 1, Z: 1})
	if want := (r3.Vec{X: 3, Y: 5, Z: 7}); got != want {
		t.Errorf("qform affine maps (1,1,1) to %v, want %v", got, want)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	noAffine := filepath.Join(dir, "noaffine.nii")
	spec := rampSpec(DTUint8)
	spec.NoAffine = true
	if err := WriteFile(noAffine, spec); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	garbage := filepath.Join(dir, "garbage.nii")
	if err := os.WriteFile(garbage, []byte("definitely not a nifti header"), 0644); err != nil {
		t.Fatal(err)
	}

	truncated := filepath.Join(dir, "truncated.nii")
	if err := WriteFile(truncated, rampSpec(DTInt16)); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(truncated)
	if err := os.WriteFile(truncated, data[:len(data)-5], 0644); err != nil {
		t.Fatal(err)
	}

	for _, path := range []string{noAffine, garbage, truncated} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := Load(path)
			if !errors.Is(err, ErrInvalidVolumeFormat) {
				t.Errorf("Load(%s) error = %v, want ErrInvalidVolumeFormat", path, err)
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "missing.nii")); err == nil || errors.Is(err, ErrInvalidVolumeFormat) {
		t.Errorf("missing file error = %v, want an open error", err)
	}
}

func TestVolume_Labels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.nii")
	spec := Spec{
		Shape:  [3]int{2, 2, 2},
		Affine: geometry.Identity(),
		Values: []float64{0, 0, 0, 1, 1, 2, 0, 300},
		// uint16 so that 300 fits
		DataType: DTUint16,
	}
	if err := WriteFile(path, spec); err != nil {
		t.Fatal(err)
	}
	vol, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	labels, err := vol.Labels()
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	want := []LabelCount{{0, 4}, {1, 2}, {2, 1}, {300, 1}}
	if len(labels) != len(want) {
		t.Fatalf("Labels() = %v, want %v", labels, want)
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("Labels()[%d] = %v, want %v", i, labels[i], want[i])
		}
	}
}

func TestVolume_LabelsRejectsFractions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "float.nii")
	spec := Spec{
		Shape:    [3]int{2, 1, 1},
		Affine:   geometry.Identity(),
		Values:   []float64{0, 0.5},
		DataType: DTFloat32,
	}
	if err := WriteFile(path, spec); err != nil {
		t.Fatal(err)
	}
	vol, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := vol.Labels(); !errors.Is(err, ErrInvalidVolumeFormat) {
		t.Errorf("Labels() error = %v, want ErrInvalidVolumeFormat", err)
	}
}

func TestVolume_DigestStable(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.nii")
	b := filepath.Join(dir, "b.nii.gz")
	if err := WriteFile(a, rampSpec(DTUint8)); err != nil {
		t.Fatal(err)
	}
	if err := WriteFile(b, rampSpec(DTUint8)); err != nil {
		t.Fatal(err)
	}
	va, err := Load(a)
	if err != nil {
		t.Fatal(err)
	}
	vb, err := Load(b)
	if err != nil {
		t.Fatal(err)
	}
	if va.Digest() != vb.Digest() {
		t.Error("Digest differs between compressed and uncompressed copies of the same volume")
	}
	if len(va.Digest()) != 64 {
		t.Errorf("Digest length = %d, want 64", len(va.Digest()))
	}
}
