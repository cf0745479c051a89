package dicom

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Image is a single-sample 2-D pixel array read back from a DICOM file.
type Image struct {
	Rows   int
	Cols   int
	Pixels []float64
}

// At returns the pixel at (row, col).
func (im Image) At(row, col int) float64 { return im.Pixels[row*im.Cols+col] }

// ReadImage parses path with its pixel data and returns the first frame. Only
// native, single-sample frames are supported.
func ReadImage(path string) (Image, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return Image{}, fmt.Errorf("parse %s: %w", path, err)
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return Image{}, fmt.Errorf("%s has no pixel data", path)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return Image{}, fmt.Errorf("%s has no pixel frames", path)
	}
	f := info.Frames[0]
	if f.Encapsulated || f.NativeData == nil {
		return Image{}, fmt.Errorf("%s: encapsulated pixel data is not supported", path)
	}
	nf := f.NativeData
	if nf.SamplesPerPixel() != 1 {
		return Image{}, fmt.Errorf("%s: %d samples per pixel, want 1", path, nf.SamplesPerPixel())
	}

	pixels, err := toFloats(nf.RawDataSlice())
	if err != nil {
		return Image{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(pixels) != nf.Rows()*nf.Cols() {
		return Image{}, fmt.Errorf("%s: %d pixels for a %dx%d frame", path, len(pixels), nf.Rows(), nf.Cols())
	}

	// Signed pixel data is stored in unsigned containers by some writers.
	if rep, err := intOf(&ds, tag.PixelRepresentation); err == nil && rep == 1 {
		bits := nf.BitsPerSample()
		if stored, err := intOf(&ds, tag.BitsStored); err == nil && stored > 0 {
			bits = stored
		}
		signExtend(pixels, bits)
	}
	return Image{Rows: nf.Rows(), Cols: nf.Cols(), Pixels: pixels}, nil
}

func signExtend(pixels []float64, bits int) {
	if bits <= 0 || bits >= 64 {
		return
	}
	half := float64(uint64(1) << (bits - 1))
	full := float64(uint64(1) << bits)
	for i, p := range pixels {
		if p >= half {
			pixels[i] = p - full
		}
	}
}

func toFloats(raw any) ([]float64, error) {
	switch v := raw.(type) {
	case []uint8:
		return convert(v), nil
	case []int8:
		return convert(v), nil
	case []uint16:
		return convert(v), nil
	case []int16:
		return convert(v), nil
	case []uint32:
		return convert(v), nil
	case []int32:
		return convert(v), nil
	case []int:
		return convert(v), nil
	default:
		return nil, fmt.Errorf("unsupported pixel container %T", raw)
	}
}

func convert[T uint8 | int8 | uint16 | int16 | uint32 | int32 | int](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func sampleCount(raw any) int {
	switch v := raw.(type) {
	case []uint8:
		return len(v)
	case []uint16:
		return len(v)
	case []int16:
		return len(v)
	case []uint32:
		return len(v)
	case []int32:
		return len(v)
	default:
		return -1
	}
}
