package nifti

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/klauspost/compress/gzip"
	"github.com/mrsinham/nii2dcm/internal/geometry"
)

// ErrInvalidVolumeFormat is returned when a file cannot be parsed as a NIfTI-1
// volume or lacks an affine transform.
var ErrInvalidVolumeFormat = errors.New("invalid volume format")

// Volume is a read-only 3-D NIfTI image. Voxels are decoded on access.
type Volume struct {
	path   string
	header Header
	order  binary.ByteOrder
	shape  [3]int
	affine geometry.Affine
	data   []byte
	nbyper int
	digest string
}

// Load reads a .nii or gzip-compressed .nii.gz file.
func Load(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open volume: %w", err)
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: gzip: %v", ErrInvalidVolumeFormat, path, err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: read: %v", ErrInvalidVolumeFormat, path, err)
	}

	v, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidVolumeFormat, path, err)
	}
	v.path = path
	return v, nil
}

func decode(raw []byte) (*Volume, error) {
	h, order, err := readHeader(raw)
	if err != nil {
		return nil, err
	}

	affine, err := h.affine()
	if err != nil {
		return nil, err
	}
	if _, err := affine.Inverse(); err != nil {
		return nil, err
	}

	v := &Volume{
		header: h,
		order:  order,
		shape:  [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])},
		affine: affine,
		nbyper: bytesPerVoxel(h.DataType),
	}

	offset := int(h.VoxOffset)
	if offset < dataOffset {
		offset = dataOffset
	}
	size := v.shape[0] * v.shape[1] * v.shape[2] * v.nbyper
	if offset+size > len(raw) {
		return nil, fmt.Errorf("truncated voxel data: need %d bytes from offset %d, file has %d", size, offset, len(raw))
	}
	v.data = raw[offset : offset+size]

	sum := sha256.Sum256(raw)
	v.digest = hex.EncodeToString(sum[:])
	return v, nil
}

// Path returns the file the volume was loaded from.
func (v *Volume) Path() string { return v.path }

// Shape returns the voxel grid dimensions (i, j, k).
func (v *Volume) Shape() [3]int { return v.shape }

// Affine returns the voxel-to-world transform.
func (v *Volume) Affine() geometry.Affine { return v.affine }

// Digest is the hex SHA-256 of the decompressed file content.
func (v *Volume) Digest() string { return v.digest }

// At returns the scaled value of voxel (i, j, k). The index must be inside the
// grid.
func (v *Volume) At(i, j, k int) float64 {
	idx := (i + v.shape[0]*(j+v.shape[1]*k)) * v.nbyper
	b := v.data[idx : idx+v.nbyper]

	var val float64
	switch v.header.DataType {
	case DTUint8:
		val = float64(b[0])
	case DTInt8:
		val = float64(int8(b[0]))
	case DTInt16:
		val = float64(int16(v.order.Uint16(b)))
	case DTUint16:
		val = float64(v.order.Uint16(b))
	case DTInt32:
		val = float64(int32(v.order.Uint32(b)))
	case DTUint32:
		val = float64(v.order.Uint32(b))
	case DTInt64:
		val = float64(int64(v.order.Uint64(b)))
	case DTUint64:
		val = float64(v.order.Uint64(b))
	case DTFloat32:
		val = float64(math.Float32frombits(v.order.Uint32(b)))
	case DTFloat64:
		val = math.Float64frombits(v.order.Uint64(b))
	}

	slope, inter := float64(v.header.SclSlope), float64(v.header.SclInter)
	if slope != 0 && !(slope == 1 && inter == 0) {
		val = val*slope + inter
	}
	return val
}

// LabelCount is the number of voxels carrying one label.
type LabelCount struct {
	Label uint32
	Count int
}

// Labels returns the label histogram sorted by label. Every voxel must hold a
// non-negative integer.
func (v *Volume) Labels() ([]LabelCount, error) {
	counts := make(map[uint32]int)
	for k := 0; k < v.shape[2]; k++ {
		for j := 0; j < v.shape[1]; j++ {
			for i := 0; i < v.shape[0]; i++ {
				label, err := ToLabel(v.At(i, j, k))
				if err != nil {
					return nil, fmt.Errorf("%w: voxel (%d,%d,%d): %v", ErrInvalidVolumeFormat, i, j, k, err)
				}
				counts[label]++
			}
		}
	}

	out := make([]LabelCount, 0, len(counts))
	for label, n := range counts {
		out = append(out, LabelCount{Label: label, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

// ToLabel converts a voxel value to a segmentation label.
func ToLabel(val float64) (uint32, error) {
	if val < 0 || val != math.Trunc(val) || val > math.MaxUint32 || math.IsNaN(val) {
		return 0, fmt.Errorf("value %g is not a non-negative integer label", val)
	}
	return uint32(val), nil
}

// SameShape reports whether two volumes share grid dimensions.
func SameShape(a, b *Volume) bool {
	return a.shape == b.shape
}
