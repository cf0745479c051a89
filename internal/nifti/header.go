// Package nifti reads and writes single-file NIfTI-1 volumes.
package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/mrsinham/nii2dcm/internal/geometry"
)

// Header is the on-disk NIfTI-1 header, 348 bytes.
type Header struct {
	SizeOfHdr      int32
	DataTypeUnused [10]byte
	DbName         [18]byte
	Extents        int32
	SessionError   int16
	Regular        byte
	DimInfo        byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	DataType   int16
	BitPix     int16
	SliceStart int16
	PixDim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XYZTUnits  byte
	CalMax     float32
	CalMin     float32
	SliceDur   float32
	TOffset    float32
	GLMax      int32
	GLMin      int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

const (
	headerSize = 348
	// dataOffset is the smallest vox_offset of a single-file image: the header
	// plus the 4-byte extension flag.
	dataOffset = 352
)

var (
	magicSingle = [4]byte{'n', '+', '1', 0}
	magicPair   = [4]byte{'n', 'i', '1', 0}
)

// NIfTI datatype codes.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// bytesPerVoxel returns the storage size of a datatype, or 0 when the
// datatype is not a supported scalar type.
func bytesPerVoxel(dt int16) int {
	switch dt {
	case DTUint8, DTInt8:
		return 1
	case DTInt16, DTUint16:
		return 2
	case DTInt32, DTUint32, DTFloat32:
		return 4
	case DTInt64, DTUint64, DTFloat64:
		return 8
	default:
		return 0
	}
}

// readHeader decodes the header, detecting byte order from dim[0].
func readHeader(b []byte) (Header, binary.ByteOrder, error) {
	if len(b) < headerSize {
		return Header{}, nil, fmt.Errorf("file too short for a NIfTI-1 header (%d bytes)", len(b))
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		var h Header
		if err := binary.Read(bytes.NewReader(b[:headerSize]), order, &h); err != nil {
			return Header{}, nil, fmt.Errorf("decode header: %w", err)
		}
		if h.Dim[0] >= 1 && h.Dim[0] <= 7 && h.SizeOfHdr == headerSize {
			return h, order, validateHeader(h)
		}
	}
	return Header{}, nil, fmt.Errorf("cannot infer byte order: dim[0] not in [1, 7] or sizeof_hdr != %d", headerSize)
}

func validateHeader(h Header) error {
	switch {
	case h.Magic == magicPair:
		return fmt.Errorf("header/image pairs (.hdr/.img) are not supported")
	case h.Magic != magicSingle:
		return fmt.Errorf("invalid magic %q", h.Magic[:3])
	case bytesPerVoxel(h.DataType) == 0:
		return fmt.Errorf("unsupported datatype %d", h.DataType)
	case int(h.BitPix) != 8*bytesPerVoxel(h.DataType):
		return fmt.Errorf("bitpix %d does not match datatype %d", h.BitPix, h.DataType)
	}

	nd := int(h.Dim[0])
	if nd < 3 {
		return fmt.Errorf("expected a 3-D volume, header has %d dimensions", nd)
	}
	for i := 4; i <= nd; i++ {
		if h.Dim[i] > 1 {
			return fmt.Errorf("expected a 3-D volume, dim[%d] = %d", i, h.Dim[i])
		}
	}
	for i := 1; i <= 3; i++ {
		if h.Dim[i] < 1 {
			return fmt.Errorf("invalid dim[%d] = %d", i, h.Dim[i])
		}
	}
	return nil
}

// affine returns the voxel-to-world transform, preferring the sform.
func (h Header) affine() (geometry.Affine, error) {
	switch {
	case h.SFormCode > 0:
		return geometry.FromRows(row64(h.SRowX), row64(h.SRowY), row64(h.SRowZ)), nil
	case h.QFormCode > 0:
		return h.qformAffine(), nil
	default:
		return geometry.Affine{}, fmt.Errorf("header lacks an affine transform (sform_code and qform_code are 0)")
	}
}

func row64(r [4]float32) [4]float64 {
	return [4]float64{float64(r[0]), float64(r[1]), float64(r[2]), float64(r[3])}
}

// qformAffine converts the quaternion representation to a matrix, following
// nifti1_io's quatern_to_mat44.
func (h Header) qformAffine() geometry.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := 1 / math.Sqrt(b*b+c*c+d*d)
		b, c, d = b*n, c*n, d*n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	pix := func(v float32) float64 {
		if v <= 0 {
			return 1
		}
		return float64(v)
	}
	dx, dy, dz := pix(h.PixDim[1]), pix(h.PixDim[2]), pix(h.PixDim[3])
	if h.PixDim[0] < 0 {
		dz = -dz
	}

	return geometry.FromRows(
		[4]float64{(a*a + b*b - c*c - d*d) * dx, 2 * (b*c - a*d) * dy, 2 * (b*d + a*c) * dz, float64(h.QOffsetX)},
		[4]float64{2 * (b*c + a*d) * dx, (a*a + c*c - b*b - d*d) * dy, 2 * (c*d - a*b) * dz, float64(h.QOffsetY)},
		[4]float64{2 * (b*d - a*c) * dx, 2 * (c*d + a*b) * dy, (a*a + d*d - c*c - b*b) * dz, float64(h.QOffsetZ)},
	)
}
