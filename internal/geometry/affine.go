// Package geometry holds the coordinate conventions and affine transforms used
// to relate NIfTI voxel grids to DICOM patient space.
package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Affine is a 4x4 homogeneous transform stored row-major.
type Affine [4][4]float64

// Identity returns the identity transform.
func Identity() Affine {
	return Diagonal(1, 1, 1)
}

// Diagonal returns a transform scaling each world axis by the given factors.
func Diagonal(x, y, z float64) Affine {
	return Affine{
		{x, 0, 0, 0},
		{0, y, 0, 0},
		{0, 0, z, 0},
		{0, 0, 0, 1},
	}
}

// FromRows builds an affine from the three spatial rows of a 3x4 matrix, as
// stored in a NIfTI sform.
func FromRows(x, y, z [4]float64) Affine {
	return Affine{x, y, z, {0, 0, 0, 1}}
}

// Apply maps a point through the transform.
func (a Affine) Apply(p r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*p.X + a[0][1]*p.Y + a[0][2]*p.Z + a[0][3],
		Y: a[1][0]*p.X + a[1][1]*p.Y + a[1][2]*p.Z + a[1][3],
		Z: a[2][0]*p.X + a[2][1]*p.Y + a[2][2]*p.Z + a[2][3],
	}
}

// ApplyDir maps a direction through the linear part of the transform,
// ignoring translation.
func (a Affine) ApplyDir(d r3.Vec) r3.Vec {
	return r3.Vec{
		X: a[0][0]*d.X + a[0][1]*d.Y + a[0][2]*d.Z,
		Y: a[1][0]*d.X + a[1][1]*d.Y + a[1][2]*d.Z,
		Z: a[2][0]*d.X + a[2][1]*d.Y + a[2][2]*d.Z,
	}
}

// Column returns the world direction of voxel axis i (0, 1 or 2).
func (a Affine) Column(i int) r3.Vec {
	return r3.Vec{X: a[0][i], Y: a[1][i], Z: a[2][i]}
}

// Translation returns the world position of voxel (0,0,0).
func (a Affine) Translation() r3.Vec {
	return r3.Vec{X: a[0][3], Y: a[1][3], Z: a[2][3]}
}

// Mul returns a·b, the transform applying b first and then a.
func (a Affine) Mul(b Affine) Affine {
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += a[i][k] * b[k][j]
			}
			out[i][j] = s
		}
	}
	return out
}

// Inverse returns the inverse transform. It fails when the matrix is singular
// or too ill-conditioned to invert reliably.
func (a Affine) Inverse() (Affine, error) {
	m := mat.NewDense(4, 4, a.flat())
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return Affine{}, fmt.Errorf("affine is not invertible: %w", err)
	}
	var out Affine
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// VoxelSizes returns the length of each voxel axis in world units.
func (a Affine) VoxelSizes() [3]float64 {
	return [3]float64{r3.Norm(a.Column(0)), r3.Norm(a.Column(1)), r3.Norm(a.Column(2))}
}

func (a Affine) flat() []float64 {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, a[i][:]...)
	}
	return data
}

// String formats the three spatial rows.
func (a Affine) String() string {
	return fmt.Sprintf("[%g %g %g %g; %g %g %g %g; %g %g %g %g]",
		a[0][0], a[0][1], a[0][2], a[0][3],
		a[1][0], a[1][1], a[1][2], a[1][3],
		a[2][0], a[2][1], a[2][2], a[2][3])
}

// AxisStep describes a direction that moves exactly one voxel along a single
// voxel axis.
type AxisStep struct {
	Axis int
	Sign int
}

// UnitAxisStep reports whether v is a step of one voxel along a single axis,
// within tol on every component.
func UnitAxisStep(v r3.Vec, tol float64) (AxisStep, bool) {
	comps := [3]float64{v.X, v.Y, v.Z}
	axis := -1
	for i, c := range comps {
		switch {
		case math.Abs(math.Abs(c)-1) <= tol:
			if axis >= 0 {
				return AxisStep{}, false
			}
			axis = i
		case math.Abs(c) > tol:
			return AxisStep{}, false
		}
	}
	if axis < 0 {
		return AxisStep{}, false
	}
	sign := 1
	if comps[axis] < 0 {
		sign = -1
	}
	return AxisStep{Axis: axis, Sign: sign}, true
}
