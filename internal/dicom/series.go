package dicom

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// ErrEmptySeries is returned when a reference directory holds no usable
// DICOM instance.
var ErrEmptySeries = errors.New("reference series has no usable instance")

// orientationTolerance bounds the per-component difference between direction
// cosines of slices considered to share an orientation.
const orientationTolerance = 1e-4

// ReferenceSlice is the spatial identity of one reference instance.
type ReferenceSlice struct {
	Path           string
	SeriesUID      string
	SOPClassUID    string
	SOPInstanceUID string

	Rows int
	Cols int
	// RowSpacing is the distance between adjacent rows, ColSpacing between
	// adjacent columns (PixelSpacing[0] and [1]).
	RowSpacing float64
	ColSpacing float64

	RowCosines r3.Vec
	ColCosines r3.Vec
	// Position is the patient-space centre of the first transmitted pixel.
	Position r3.Vec

	Depth float64
	Order int

	// Dataset is the parsed instance without pixel data, kept for metadata
	// inheritance.
	Dataset *dicom.Dataset
}

// Normal returns the slice normal, row cosines cross column cosines.
func (s *ReferenceSlice) Normal() r3.Vec {
	return r3.Unit(r3.Cross(s.RowCosines, s.ColCosines))
}

// SkippedFile records a reference file left out of the index.
type SkippedFile struct {
	Path   string
	Reason string
}

// Series is the depth-ordered index of one reference series.
type Series struct {
	Dir       string
	SeriesUID string
	Normal    r3.Vec
	Slices    []*ReferenceSlice
	Skipped   []SkippedFile
	// Ties counts adjacent slices sharing a depth.
	Ties int
}

// LoadSeries parses every regular file in dir and indexes the instances of
// the majority series by depth along the slice normal. Unusable files are
// skipped and reported, never fatal; an empty result is ErrEmptySeries.
func LoadSeries(dir string, log logrus.FieldLogger) (*Series, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read reference directory: %w", err)
	}

	s := &Series{Dir: dir}
	var parsed []*ReferenceSlice
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		slice, err := parseSlice(path)
		if err != nil {
			s.skip(log, path, err.Error())
			continue
		}
		parsed = append(parsed, slice)
	}

	s.SeriesUID = majoritySeries(parsed)
	for _, slice := range parsed {
		if slice.SeriesUID != s.SeriesUID {
			s.skip(log, slice.Path, fmt.Sprintf("belongs to series %s, indexing %s", slice.SeriesUID, s.SeriesUID))
			continue
		}
		if len(s.Slices) > 0 && !sameGeometry(s.Slices[0], slice) {
			s.skip(log, slice.Path, "orientation or pixel spacing differs from the first slice of the series")
			continue
		}
		s.Slices = append(s.Slices, slice)
	}

	if len(s.Slices) == 0 {
		return nil, fmt.Errorf("%w: %s (%d files skipped)", ErrEmptySeries, dir, len(s.Skipped))
	}

	s.Normal = s.Slices[0].Normal()
	for _, slice := range s.Slices {
		slice.Depth = r3.Dot(slice.Position, s.Normal)
	}

	// Entries come from os.ReadDir in filename order, so a stable sort breaks
	// depth ties by filename.
	sort.SliceStable(s.Slices, func(i, j int) bool {
		return s.Slices[i].Depth < s.Slices[j].Depth
	})
	for i, slice := range s.Slices {
		slice.Order = i
		if i > 0 && slice.Depth == s.Slices[i-1].Depth {
			s.Ties++
			log.WithFields(logrus.Fields{
				"file":  filepath.Base(slice.Path),
				"other": filepath.Base(s.Slices[i-1].Path),
				"depth": slice.Depth,
			}).Warn("reference slices share a depth, ordering by filename")
		}
	}

	log.WithFields(logrus.Fields{
		"series":  s.SeriesUID,
		"slices":  len(s.Slices),
		"skipped": len(s.Skipped),
		"spacing": s.Spacing(),
	}).Info("indexed reference series")
	return s, nil
}

func (s *Series) skip(log logrus.FieldLogger, path, reason string) {
	s.Skipped = append(s.Skipped, SkippedFile{Path: path, Reason: reason})
	log.WithFields(logrus.Fields{"file": filepath.Base(path), "reason": reason}).Warn("skipping reference file")
}

// Len returns the number of indexed slices.
func (s *Series) Len() int { return len(s.Slices) }

// Spacing returns the median distance between consecutive slices. A series
// of one slice falls back to SpacingBetweenSlices, then SliceThickness, and
// returns 0 when neither is present.
func (s *Series) Spacing() float64 {
	if len(s.Slices) > 1 {
		gaps := make([]float64, 0, len(s.Slices)-1)
		for i := 1; i < len(s.Slices); i++ {
			gaps = append(gaps, s.Slices[i].Depth-s.Slices[i-1].Depth)
		}
		sort.Float64s(gaps)
		return stat.Quantile(0.5, stat.Empirical, gaps, nil)
	}

	ds := s.Slices[0].Dataset
	for _, t := range []tag.Tag{tag.SpacingBetweenSlices, tag.SliceThickness} {
		if vals, err := floatsOf(ds, t); err == nil && len(vals) > 0 && vals[0] > 0 {
			return vals[0]
		}
	}
	return 0
}

// Nearest returns the slice whose depth is closest to depth. Ties go to the
// lower order.
func (s *Series) Nearest(depth float64) *ReferenceSlice {
	i := sort.Search(len(s.Slices), func(i int) bool { return s.Slices[i].Depth >= depth })
	switch {
	case i == 0:
		return s.Slices[0]
	case i == len(s.Slices):
		return s.Slices[len(s.Slices)-1]
	}
	before, after := s.Slices[i-1], s.Slices[i]
	if depth-before.Depth <= after.Depth-depth {
		return before
	}
	return after
}

func parseSlice(path string) (*ReferenceSlice, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("not a DICOM file: %v", err)
	}

	slice := &ReferenceSlice{
		Path:           path,
		Dataset:        &ds,
		SeriesUID:      stringOf(&ds, tag.SeriesInstanceUID),
		SOPClassUID:    stringOf(&ds, tag.SOPClassUID),
		SOPInstanceUID: stringOf(&ds, tag.SOPInstanceUID),
	}
	if slice.SOPInstanceUID == "" {
		return nil, fmt.Errorf("missing SOPInstanceUID")
	}

	if slice.Rows, err = intOf(&ds, tag.Rows); err != nil {
		return nil, err
	}
	if slice.Cols, err = intOf(&ds, tag.Columns); err != nil {
		return nil, err
	}
	if slice.Rows <= 0 || slice.Cols <= 0 {
		return nil, fmt.Errorf("invalid matrix %dx%d", slice.Rows, slice.Cols)
	}

	spacing, err := floatsOf(&ds, tag.PixelSpacing)
	if err != nil {
		return nil, err
	}
	if len(spacing) != 2 || spacing[0] <= 0 || spacing[1] <= 0 {
		return nil, fmt.Errorf("invalid PixelSpacing %v", spacing)
	}
	slice.RowSpacing, slice.ColSpacing = spacing[0], spacing[1]

	iop, err := floatsOf(&ds, tag.ImageOrientationPatient)
	if err != nil {
		return nil, err
	}
	if len(iop) != 6 {
		return nil, fmt.Errorf("ImageOrientationPatient has %d values, want 6", len(iop))
	}
	slice.RowCosines = r3.Vec{X: iop[0], Y: iop[1], Z: iop[2]}
	slice.ColCosines = r3.Vec{X: iop[3], Y: iop[4], Z: iop[5]}
	if r3.Norm(r3.Cross(slice.RowCosines, slice.ColCosines)) < 0.5 {
		return nil, fmt.Errorf("degenerate ImageOrientationPatient %v", iop)
	}

	ipp, err := floatsOf(&ds, tag.ImagePositionPatient)
	if err != nil {
		return nil, err
	}
	if len(ipp) != 3 {
		return nil, fmt.Errorf("ImagePositionPatient has %d values, want 3", len(ipp))
	}
	slice.Position = r3.Vec{X: ipp[0], Y: ipp[1], Z: ipp[2]}

	return slice, nil
}

// majoritySeries returns the most frequent series UID, preferring the
// lexically smallest on ties.
func majoritySeries(slices []*ReferenceSlice) string {
	counts := make(map[string]int)
	for _, s := range slices {
		counts[s.SeriesUID]++
	}
	best, bestN := "", 0
	for uid, n := range counts {
		if n > bestN || (n == bestN && uid < best) {
			best, bestN = uid, n
		}
	}
	return best
}

func sameGeometry(a, b *ReferenceSlice) bool {
	near := func(u, v r3.Vec) bool {
		return math.Abs(u.X-v.X) <= orientationTolerance &&
			math.Abs(u.Y-v.Y) <= orientationTolerance &&
			math.Abs(u.Z-v.Z) <= orientationTolerance
	}
	return near(a.RowCosines, b.RowCosines) && near(a.ColCosines, b.ColCosines) &&
		a.RowSpacing == b.RowSpacing && a.ColSpacing == b.ColSpacing
}
