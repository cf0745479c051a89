package dicom

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/nii2dcm/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestLoadSeries_SortsByDepth(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	scene.ReferenceZ = []float64{20, 0, 10}
	if _, err := scene.WriteReference(dir); err != nil {
		t.Fatalf("WriteReference failed: %v", err)
	}

	log, _ := test.NewNullLogger()
	series, err := LoadSeries(dir, log)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}

	if series.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", series.Len())
	}
	if series.SeriesUID != testutil.SeriesUID {
		t.Errorf("SeriesUID = %q, want %q", series.SeriesUID, testutil.SeriesUID)
	}
	if series.Normal != (r3.Vec{Z: 1}) {
		t.Errorf("Normal = %v, want +z", series.Normal)
	}

	wantFiles := []string{"IM-0001-0002.dcm", "IM-0001-0003.dcm", "IM-0001-0001.dcm"}
	for i, slice := range series.Slices {
		if slice.Order != i {
			t.Errorf("slice %d has Order %d", i, slice.Order)
		}
		if slice.Depth != float64(10*i) {
			t.Errorf("slice %d depth = %g, want %d", i, slice.Depth, 10*i)
		}
		if got := filepath.Base(slice.Path); got != wantFiles[i] {
			t.Errorf("slice %d file = %s, want %s", i, got, wantFiles[i])
		}
		if slice.Rows != scene.Rows || slice.Cols != scene.Cols {
			t.Errorf("slice %d matrix = %dx%d", i, slice.Rows, slice.Cols)
		}
	}

	if got := series.Spacing(); got != 10 {
		t.Errorf("Spacing() = %g, want 10", got)
	}
	if series.Ties != 0 {
		t.Errorf("Ties = %d, want 0", series.Ties)
	}
}

func TestLoadSeries_SkipsUnusableFiles(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	if _, err := scene.WriteReference(dir); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not dicom"), 0644); err != nil {
		t.Fatal(err)
	}
	noPosition := testutil.Instance{
		SOPInstanceUID: "1.2.3.4.5",
		SeriesUID:      testutil.SeriesUID,
		Rows:           scene.Rows,
		Cols:           scene.Cols,
		PixelSpacing:   [2]float64{1, 1},
		Orientation:    [6]float64{1, 0, 0, 0, 1, 0},
		OmitPosition:   true,
	}
	if err := testutil.WriteInstance(filepath.Join(dir, "IM-0002-0001.dcm"), noPosition); err != nil {
		t.Fatal(err)
	}
	otherSeries := noPosition
	otherSeries.SOPInstanceUID = "1.2.3.4.6"
	otherSeries.SeriesUID = "1.2.3.999"
	otherSeries.OmitPosition = false
	if err := testutil.WriteInstance(filepath.Join(dir, "IM-0003-0001.dcm"), otherSeries); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	log, hook := test.NewNullLogger()
	series, err := LoadSeries(dir, log)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	if series.Len() != 3 {
		t.Errorf("Len() = %d, want 3", series.Len())
	}
	if len(series.Skipped) != 3 {
		t.Fatalf("Skipped = %+v, want 3 entries", series.Skipped)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings != 3 {
		t.Errorf("logged %d warnings, want 3", warnings)
	}
}

func TestLoadSeries_TiesBrokenByFilename(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	scene.ReferenceZ = []float64{10, 10, 0}
	if _, err := scene.WriteReference(dir); err != nil {
		t.Fatal(err)
	}

	log, _ := test.NewNullLogger()
	series, err := LoadSeries(dir, log)
	if err != nil {
		t.Fatalf("LoadSeries failed: %v", err)
	}
	if series.Ties != 1 {
		t.Errorf("Ties = %d, want 1", series.Ties)
	}
	want := []string{"IM-0001-0003.dcm", "IM-0001-0001.dcm", "IM-0001-0002.dcm"}
	for i, slice := range series.Slices {
		if got := filepath.Base(slice.Path); got != want[i] {
			t.Errorf("slice %d = %s, want %s", i, got, want[i])
		}
	}
}

func TestLoadSeries_Empty(t *testing.T) {
	log, _ := test.NewNullLogger()

	empty := t.TempDir()
	if _, err := LoadSeries(empty, log); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("empty directory error = %v, want ErrEmptySeries", err)
	}

	junk := t.TempDir()
	if err := os.WriteFile(filepath.Join(junk, "a.dcm"), []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSeries(junk, log); !errors.Is(err, ErrEmptySeries) {
		t.Errorf("unparseable directory error = %v, want ErrEmptySeries", err)
	}

	if _, err := LoadSeries(filepath.Join(empty, "missing"), log); err == nil || errors.Is(err, ErrEmptySeries) {
		t.Errorf("missing directory error = %v, want a read error", err)
	}
}

func TestSeries_NearestAndSingleSliceSpacing(t *testing.T) {
	dir := t.TempDir()
	scene := testutil.DefaultScene()
	if _, err := scene.WriteReference(dir); err != nil {
		t.Fatal(err)
	}
	log, _ := test.NewNullLogger()
	series, err := LoadSeries(dir, log)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		depth float64
		order int
	}{
		{-50, 0}, {4, 0}, {5, 0}, {6, 1}, {19, 2}, {500, 2},
	}
	for _, tc := range tests {
		if got := series.Nearest(tc.depth).Order; got != tc.order {
			t.Errorf("Nearest(%g).Order = %d, want %d", tc.depth, got, tc.order)
		}
	}

	single := t.TempDir()
	scene.ReferenceZ = []float64{0}
	if _, err := scene.WriteReference(single); err != nil {
		t.Fatal(err)
	}
	one, err := LoadSeries(single, log)
	if err != nil {
		t.Fatal(err)
	}
	if got := one.Spacing(); got != 1 {
		t.Errorf("single-slice Spacing() = %g, want SliceThickness 1", got)
	}
}

func TestReferenceSlice_Normal(t *testing.T) {
	s := &ReferenceSlice{
		RowCosines: r3.Vec{Y: 1},
		ColCosines: r3.Vec{Z: -1},
	}
	if n := s.Normal(); n != (r3.Vec{X: -1}) {
		t.Errorf("Normal() = %v, want -x", n)
	}
}
