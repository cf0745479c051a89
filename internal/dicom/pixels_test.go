package dicom

import (
	"path/filepath"
	"testing"

	"github.com/mrsinham/nii2dcm/internal/testutil"
)

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	paths, err := scene.WriteReference(dir)
	if err != nil {
		t.Fatalf("WriteReference failed: %v", err)
	}

	im, err := ReadImage(paths[1])
	if err != nil {
		t.Fatalf("ReadImage failed: %v", err)
	}
	if im.Rows != scene.Rows || im.Cols != scene.Cols {
		t.Fatalf("image is %dx%d, want %dx%d", im.Rows, im.Cols, scene.Rows, scene.Cols)
	}
	for row := 0; row < im.Rows; row++ {
		for col := 0; col < im.Cols; col++ {
			if got, want := im.At(row, col), float64(scene.ReferencePixel(row, col, 10)); got != want {
				t.Fatalf("At(%d, %d) = %g, want %g", row, col, got, want)
			}
		}
	}

	if _, err := ReadImage(filepath.Join(dir, "missing.dcm")); err == nil {
		t.Error("ReadImage of a missing file should fail")
	}
}

func TestSignExtend(t *testing.T) {
	pixels := []float64{0, 2047, 2048, 4095}
	signExtend(pixels, 12)
	want := []float64{0, 2047, -2048, -1}
	for i := range want {
		if pixels[i] != want[i] {
			t.Errorf("pixel %d = %g, want %g", i, pixels[i], want[i])
		}
	}
}
