// Package mapping reconciles a NIfTI voxel grid with a reference DICOM series:
// it pairs volume slices with reference instances and lays out each slice in
// the reference pixel grid.
package mapping

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mrsinham/nii2dcm/internal/dicom"
	"github.com/mrsinham/nii2dcm/internal/geometry"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrSamplingMismatch is returned when the volume grid cannot be read in the
// reference pixel grid without resampling.
var ErrSamplingMismatch = errors.New("volume sampling does not match the reference series")

const (
	// DefaultToleranceFraction of the slice spacing within which a volume
	// slice is accepted as matching a reference slice.
	DefaultToleranceFraction = 0.5
	// minAlignment is the smallest |cos| between the through-plane voxel axis
	// and the series normal.
	minAlignment = 0.7
	// depthEpsilon absorbs rounding in depth comparisons, in mm.
	depthEpsilon = 1e-6
)

// Grid is a voxel grid placed in world space.
type Grid interface {
	Shape() [3]int
	Affine() geometry.Affine
}

// Options configures a Reconciler.
type Options struct {
	// Convention of the volume affine. Empty means RAS.
	Convention geometry.Convention
	// ToleranceFraction of the series spacing. Zero means
	// DefaultToleranceFraction.
	ToleranceFraction float64
	Log               logrus.FieldLogger
}

// Pair associates a volume slice with its reference instance.
type Pair struct {
	VolumeIndex int
	Slice       *dicom.ReferenceSlice
	// Distance between the slice centre and the reference plane, in mm.
	Distance float64
}

// UnmappedSlice is a volume slice left out of the output.
type UnmappedSlice struct {
	Index    int
	Depth    float64
	Distance float64
	Reason   string
}

// SliceMapping is the result of one reconciliation.
type SliceMapping struct {
	// Axis is the voxel axis running through the reference slices.
	Axis int
	// Total is the number of volume slices along Axis.
	Total int
	// Pairs are sorted by reference order.
	Pairs    []Pair
	Unmapped []UnmappedSlice
	// Tolerance is the accepted distance in mm.
	Tolerance float64

	world geometry.Affine
}

// Reconciler pairs volume slices with reference slices.
type Reconciler struct {
	opts  Options
	toLPS geometry.Affine
}

// NewReconciler validates opts.
func NewReconciler(opts Options) (*Reconciler, error) {
	toLPS, err := opts.Convention.ToLPS()
	if err != nil {
		return nil, err
	}
	if opts.ToleranceFraction == 0 {
		opts.ToleranceFraction = DefaultToleranceFraction
	}
	if opts.ToleranceFraction < 0 {
		return nil, fmt.Errorf("tolerance fraction must be positive, got %g", opts.ToleranceFraction)
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	return &Reconciler{opts: opts, toLPS: toLPS}, nil
}

// Map finds, for every volume slice along the through-plane axis, the
// reference slice nearest to its centre. Slices farther than the tolerance,
// and slices losing a collision to a closer one, are reported unmapped.
func (r *Reconciler) Map(vol Grid, series *dicom.Series) (*SliceMapping, error) {
	world := r.toLPS.Mul(vol.Affine())
	if _, err := world.Inverse(); err != nil {
		return nil, err
	}
	normal := series.Normal
	shape := vol.Shape()

	axis, alignment := throughPlaneAxis(world, normal)
	if alignment < minAlignment {
		return nil, fmt.Errorf("%w: no voxel axis runs along the series normal %v (best |cos| %.2f)",
			ErrSamplingMismatch, normal, alignment)
	}

	spacing := series.Spacing()
	if spacing <= 0 {
		spacing = world.VoxelSizes()[axis]
	}

	m := &SliceMapping{
		Axis:      axis,
		Total:     shape[axis],
		Tolerance: r.opts.ToleranceFraction * spacing,
		world:     world,
	}

	centre := r3.Vec{
		X: float64(shape[0]-1) / 2,
		Y: float64(shape[1]-1) / 2,
		Z: float64(shape[2]-1) / 2,
	}

	best := make(map[int]Pair)
	depths := make([]float64, shape[axis])
	for k := 0; k < shape[axis]; k++ {
		v := setAxis(centre, axis, float64(k))
		depth := r3.Dot(world.Apply(v), normal)
		depths[k] = depth
		ref := series.Nearest(depth)
		dist := math.Abs(ref.Depth - depth)

		if dist > m.Tolerance+depthEpsilon {
			m.unmap(r.opts.Log, UnmappedSlice{
				Index:    k,
				Depth:    depth,
				Distance: dist,
				Reason:   fmt.Sprintf("nearest reference slice is %.3f mm away, tolerance %.3f mm", dist, m.Tolerance),
			})
			continue
		}

		cand := Pair{VolumeIndex: k, Slice: ref, Distance: dist}
		prev, taken := best[ref.Order]
		if !taken {
			best[ref.Order] = cand
			continue
		}
		winner, loser := prev, cand
		if cand.Distance < prev.Distance {
			winner, loser = cand, prev
		}
		best[ref.Order] = winner
		m.unmap(r.opts.Log, UnmappedSlice{
			Index:    loser.VolumeIndex,
			Depth:    depths[loser.VolumeIndex],
			Distance: loser.Distance,
			Reason:   fmt.Sprintf("reference slice %d already matched by closer volume slice %d", ref.Order, winner.VolumeIndex),
		})
	}

	for _, p := range best {
		m.Pairs = append(m.Pairs, p)
	}
	sort.Slice(m.Pairs, func(i, j int) bool { return m.Pairs[i].Slice.Order < m.Pairs[j].Slice.Order })
	sort.Slice(m.Unmapped, func(i, j int) bool { return m.Unmapped[i].Index < m.Unmapped[j].Index })

	r.opts.Log.WithFields(logrus.Fields{
		"axis":      axis,
		"mapped":    len(m.Pairs),
		"total":     m.Total,
		"tolerance": m.Tolerance,
	}).Info("reconciled volume with reference series")
	return m, nil
}

func (m *SliceMapping) unmap(log logrus.FieldLogger, u UnmappedSlice) {
	m.Unmapped = append(m.Unmapped, u)
	log.WithFields(logrus.Fields{
		"slice":    u.Index,
		"distance": u.Distance,
	}).Warn("volume slice left unmapped: " + u.Reason)
}

// throughPlaneAxis returns the voxel axis whose world direction is most
// parallel to normal, with the absolute cosine between them.
func throughPlaneAxis(world geometry.Affine, normal r3.Vec) (int, float64) {
	axis, score := 0, -1.0
	for a := 0; a < 3; a++ {
		col := world.Column(a)
		n := r3.Norm(col)
		if n == 0 {
			continue
		}
		if c := math.Abs(r3.Dot(col, normal)) / n; c > score {
			axis, score = a, c
		}
	}
	return axis, score
}

func setAxis(v r3.Vec, axis int, value float64) r3.Vec {
	switch axis {
	case 0:
		v.X = value
	case 1:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}
