package mapping

import (
	"fmt"
	"math"

	"github.com/mrsinham/nii2dcm/internal/dicom"
	"github.com/mrsinham/nii2dcm/internal/geometry"
	"github.com/mrsinham/nii2dcm/internal/nifti"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// stepTolerance bounds how far a reference pixel step may stray from a
	// whole voxel step, in voxels.
	stepTolerance = 1e-3
	// originTolerance bounds how far the first reference pixel may sit from a
	// voxel centre, in voxels.
	originTolerance = 1e-2
)

// Sampler is a grid whose voxels can be read.
type Sampler interface {
	Grid
	At(i, j, k int) float64
}

// Layout places a reference pixel grid on the volume: pixel (row, col) reads
// voxel Origin + row*RowStep + col*ColStep.
type Layout struct {
	Rows    int
	Cols    int
	Origin  [3]int
	RowStep geometry.AxisStep
	ColStep geometry.AxisStep
	shape   [3]int
}

// Voxel returns the voxel index read by pixel (row, col).
func (l Layout) Voxel(row, col int) [3]int {
	v := l.Origin
	v[l.RowStep.Axis] += row * l.RowStep.Sign
	v[l.ColStep.Axis] += col * l.ColStep.Sign
	return v
}

func (l Layout) inside(v [3]int) bool {
	for a := 0; a < 3; a++ {
		if v[a] < 0 || v[a] >= l.shape[a] {
			return false
		}
	}
	return true
}

// Layout computes how the reference slice of p walks the volume grid. The
// reference row and column steps must each be one voxel along an in-plane
// axis; anything else needs resampling and fails with ErrSamplingMismatch.
func (m *SliceMapping) Layout(vol Grid, p Pair) (Layout, error) {
	inv, err := m.world.Inverse()
	if err != nil {
		return Layout{}, err
	}
	ref := p.Slice

	colStep := inv.ApplyDir(r3.Scale(ref.ColSpacing, ref.RowCosines))
	rowStep := inv.ApplyDir(r3.Scale(ref.RowSpacing, ref.ColCosines))

	cs, ok := geometry.UnitAxisStep(colStep, stepTolerance)
	if !ok {
		return Layout{}, fmt.Errorf("%w: a column step of %s is voxel step %v", ErrSamplingMismatch, ref.SOPInstanceUID, colStep)
	}
	rs, ok := geometry.UnitAxisStep(rowStep, stepTolerance)
	if !ok {
		return Layout{}, fmt.Errorf("%w: a row step of %s is voxel step %v", ErrSamplingMismatch, ref.SOPInstanceUID, rowStep)
	}
	if cs.Axis == m.Axis || rs.Axis == m.Axis || cs.Axis == rs.Axis {
		return Layout{}, fmt.Errorf("%w: reference rows and columns of %s do not span the in-plane voxel axes", ErrSamplingMismatch, ref.SOPInstanceUID)
	}

	o := inv.Apply(ref.Position)
	comps := [3]float64{o.X, o.Y, o.Z}
	var origin [3]int
	for a := 0; a < 3; a++ {
		if a == m.Axis {
			origin[a] = p.VolumeIndex
			continue
		}
		r := math.Round(comps[a])
		if math.Abs(comps[a]-r) > originTolerance {
			return Layout{}, fmt.Errorf("%w: first pixel of %s falls between voxels (axis %d at %.3f)",
				ErrSamplingMismatch, ref.SOPInstanceUID, a, comps[a])
		}
		origin[a] = int(r)
	}

	return Layout{
		Rows:    ref.Rows,
		Cols:    ref.Cols,
		Origin:  origin,
		RowStep: rs,
		ColStep: cs,
		shape:   vol.Shape(),
	}, nil
}

// Extract reads the label mask of p in the reference pixel grid. Pixels
// outside the volume are background.
func (m *SliceMapping) Extract(vol Sampler, p Pair) (dicom.Mask, error) {
	l, err := m.Layout(vol, p)
	if err != nil {
		return dicom.Mask{}, err
	}
	mask, _, err := ExtractMask(vol, l)
	return mask, err
}

// ExtractMask walks l over vol and converts each voxel to a label. It also
// returns the number of pixels that fell outside the volume.
func ExtractMask(vol Sampler, l Layout) (dicom.Mask, int, error) {
	mask := dicom.Mask{Rows: l.Rows, Cols: l.Cols, Labels: make([]uint32, l.Rows*l.Cols)}
	outside := 0
	for row := 0; row < l.Rows; row++ {
		for col := 0; col < l.Cols; col++ {
			v := l.Voxel(row, col)
			if !l.inside(v) {
				outside++
				continue
			}
			label, err := nifti.ToLabel(vol.At(v[0], v[1], v[2]))
			if err != nil {
				return dicom.Mask{}, 0, fmt.Errorf("voxel %v: %w", v, err)
			}
			mask.Labels[row*l.Cols+col] = label
		}
	}
	return mask, outside, nil
}

// ExtractValues walks l over vol and returns raw voxel values row-major, with
// NaN for pixels outside the volume.
func ExtractValues(vol Sampler, l Layout) []float64 {
	out := make([]float64, l.Rows*l.Cols)
	for row := 0; row < l.Rows; row++ {
		for col := 0; col < l.Cols; col++ {
			v := l.Voxel(row, col)
			if !l.inside(v) {
				out[row*l.Cols+col] = math.NaN()
				continue
			}
			out[row*l.Cols+col] = vol.At(v[0], v[1], v[2])
		}
	}
	return out
}
