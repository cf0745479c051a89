package nifti

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/mrsinham/nii2dcm/internal/geometry"
)

// Spec describes a volume to encode. Values are stored in i-fastest order,
// index i + nx*(j + ny*k).
type Spec struct {
	Shape    [3]int
	Affine   geometry.Affine
	DataType int16
	Values   []float64
	// QForm writes only a qform (identity rotation) instead of an sform. The
	// affine must then be diagonal with positive voxel sizes.
	QForm bool
	// NoAffine clears both sform and qform codes.
	NoAffine bool
}

// Encode writes spec as an uncompressed little-endian NIfTI-1 image.
func Encode(w io.Writer, spec Spec) error {
	n := spec.Shape[0] * spec.Shape[1] * spec.Shape[2]
	if len(spec.Values) != n {
		return fmt.Errorf("got %d values for shape %v", len(spec.Values), spec.Shape)
	}
	dt := spec.DataType
	if dt == 0 {
		dt = DTUint8
	}
	nbyper := bytesPerVoxel(dt)
	if nbyper == 0 {
		return fmt.Errorf("unsupported datatype %d", dt)
	}

	h := Header{
		SizeOfHdr: headerSize,
		Regular:   'r',
		Dim:       [8]int16{3, int16(spec.Shape[0]), int16(spec.Shape[1]), int16(spec.Shape[2]), 1, 1, 1, 1},
		DataType:  dt,
		BitPix:    int16(8 * nbyper),
		VoxOffset: dataOffset,
		SclSlope:  1,
		XYZTUnits: 2, // mm
		Magic:     magicSingle,
	}
	sizes := spec.Affine.VoxelSizes()
	h.PixDim = [8]float32{1, float32(sizes[0]), float32(sizes[1]), float32(sizes[2]), 1, 1, 1, 1}

	switch {
	case spec.NoAffine:
	case spec.QForm:
		h.QFormCode = 1
		h.QOffsetX = float32(spec.Affine[0][3])
		h.QOffsetY = float32(spec.Affine[1][3])
		h.QOffsetZ = float32(spec.Affine[2][3])
	default:
		h.SFormCode = 1
		for c := 0; c < 4; c++ {
			h.SRowX[c] = float32(spec.Affine[0][c])
			h.SRowY[c] = float32(spec.Affine[1][c])
			h.SRowZ[c] = float32(spec.Affine[2][c])
		}
	}

	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	// Extension flag: no extensions.
	if _, err := bw.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("write extension flag: %w", err)
	}

	buf := make([]byte, nbyper)
	for _, v := range spec.Values {
		putValue(buf, dt, v)
		if _, err := bw.Write(buf); err != nil {
			return fmt.Errorf("write voxels: %w", err)
		}
	}
	return bw.Flush()
}

func putValue(b []byte, dt int16, v float64) {
	le := binary.LittleEndian
	switch dt {
	case DTUint8:
		b[0] = uint8(v)
	case DTInt8:
		b[0] = uint8(int8(v))
	case DTInt16:
		le.PutUint16(b, uint16(int16(v)))
	case DTUint16:
		le.PutUint16(b, uint16(v))
	case DTInt32:
		le.PutUint32(b, uint32(int32(v)))
	case DTUint32:
		le.PutUint32(b, uint32(v))
	case DTInt64:
		le.PutUint64(b, uint64(int64(v)))
	case DTUint64:
		le.PutUint64(b, uint64(v))
	case DTFloat32:
		le.PutUint32(b, math.Float32bits(float32(v)))
	case DTFloat64:
		le.PutUint64(b, math.Float64bits(v))
	}
}

// WriteFile encodes spec to path, gzip-compressed when path ends in ".gz".
func WriteFile(path string, spec Spec) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create volume file: %w", err)
	}

	var werr error
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		werr = Encode(gz, spec)
		if cerr := gz.Close(); werr == nil {
			werr = cerr
		}
	} else {
		werr = Encode(f, spec)
	}

	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write %s: %w", path, werr)
	}
	return nil
}
