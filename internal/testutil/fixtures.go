// Package testutil builds synthetic NIfTI volumes and DICOM reference series
// for tests. Helpers return errors instead of taking a *testing.T so the e2e
// step definitions can share them.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/mrsinham/nii2dcm/internal/geometry"
	"github.com/mrsinham/nii2dcm/internal/nifti"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	mrImageStorage = "1.2.840.10008.5.1.4.1.1.4"
	// Fixture identities.
	StudyUID    = "1.2.826.0.1.3680043.8.498.1"
	SeriesUID   = "1.2.826.0.1.3680043.8.498.2"
	FrameUID    = "1.2.826.0.1.3680043.8.498.3"
	PatientID   = "NII2DCM-001"
	PatientName = "Doe^Jane"
)

// Scene describes an axial acquisition shared by a NIfTI volume pair and a
// reference series. Volume voxel (i, j, k) lies on reference column i and
// row j; slices advance along +z.
type Scene struct {
	Rows       int
	Cols       int
	RowSpacing float64
	ColSpacing float64
	// Origin is the LPS position of the first pixel; its Z is ignored.
	Origin r3.Vec

	SliceStep   float64
	VolumeZ0    float64
	VolumeDepth int
	// ReferenceZ lists the reference slice positions in file order.
	ReferenceZ []float64
}

// DefaultScene is a 3-slice volume matched by a 3-instance series at
// z = 0, 10, 20 mm with 1 mm in-plane spacing.
func DefaultScene() Scene {
	return Scene{
		Rows:        6,
		Cols:        5,
		RowSpacing:  1,
		ColSpacing:  1,
		Origin:      r3.Vec{X: -2, Y: -3},
		SliceStep:   10,
		VolumeZ0:    0,
		VolumeDepth: 3,
		ReferenceZ:  []float64{0, 10, 20},
	}
}

// Affine returns the RAS voxel-to-world transform of the scene's volumes.
func (s Scene) Affine() geometry.Affine {
	return geometry.FromRows(
		[4]float64{-s.ColSpacing, 0, 0, -s.Origin.X},
		[4]float64{0, -s.RowSpacing, 0, -s.Origin.Y},
		[4]float64{0, 0, s.SliceStep, s.VolumeZ0},
	)
}

// Shape returns the volume grid dimensions.
func (s Scene) Shape() [3]int {
	return [3]int{s.Cols, s.Rows, s.VolumeDepth}
}

// VolumeZ returns the z position of volume slice k.
func (s Scene) VolumeZ(k int) float64 {
	return s.VolumeZ0 + float64(k)*s.SliceStep
}

// SliceAt returns the volume slice index at position z, if any.
func (s Scene) SliceAt(z float64) (int, bool) {
	k := math.Round((z - s.VolumeZ0) / s.SliceStep)
	if k < 0 || int(k) >= s.VolumeDepth || math.Abs(s.VolumeZ(int(k))-z) > 1e-6 {
		return 0, false
	}
	return int(k), true
}

// SegLabel is the default segmentation: a label per slice drawn as a block
// in the lower-right quadrant, so transposes and flips are detectable.
func SegLabel(i, j, k int) float64 {
	if i >= 2 && j >= 3 {
		return float64(k%3 + 1)
	}
	return 0
}

// ImageValue is the default companion image intensity.
func ImageValue(i, j, k int) float64 {
	return float64(100 + i + 7*j + 50*k)
}

// WriteVolume writes a scene volume filled by value.
func (s Scene) WriteVolume(path string, dt int16, value func(i, j, k int) float64) error {
	shape := s.Shape()
	values := make([]float64, 0, shape[0]*shape[1]*shape[2])
	for k := 0; k < shape[2]; k++ {
		for j := 0; j < shape[1]; j++ {
			for i := 0; i < shape[0]; i++ {
				values = append(values, value(i, j, k))
			}
		}
	}
	return nifti.WriteFile(path, nifti.Spec{
		Shape:    shape,
		Affine:   s.Affine(),
		DataType: dt,
		Values:   values,
	})
}

// WriteVolumes writes seg.nii.gz and img.nii.gz into dir with the default
// content and returns their paths.
func (s Scene) WriteVolumes(dir string) (segPath, imgPath string, err error) {
	segPath = filepath.Join(dir, "seg.nii.gz")
	imgPath = filepath.Join(dir, "img.nii.gz")
	if err := s.WriteVolume(segPath, nifti.DTUint8, SegLabel); err != nil {
		return "", "", err
	}
	if err := s.WriteVolume(imgPath, nifti.DTInt16, ImageValue); err != nil {
		return "", "", err
	}
	return segPath, imgPath, nil
}

// ReferencePixel is the stored value of a reference pixel at position z. It
// equals the companion image minus a constant rescale offset wherever the
// volume covers z.
func (s Scene) ReferencePixel(row, col int, z float64) uint16 {
	if k, ok := s.SliceAt(z); ok {
		return uint16(ImageValue(col, row, k) - 20)
	}
	return uint16(row + col)
}

// WriteReference writes one instance per ReferenceZ entry into dir, named
// IM-0001-NNNN.dcm in list order, and returns the paths.
func (s Scene) WriteReference(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(s.ReferenceZ))
	for n, z := range s.ReferenceZ {
		path := filepath.Join(dir, fmt.Sprintf("IM-0001-%04d.dcm", n+1))
		inst := Instance{
			SOPInstanceUID: fmt.Sprintf("%s.%d", SeriesUID, n+1),
			SeriesUID:      SeriesUID,
			Rows:           s.Rows,
			Cols:           s.Cols,
			PixelSpacing:   [2]float64{s.RowSpacing, s.ColSpacing},
			Orientation:    [6]float64{1, 0, 0, 0, 1, 0},
			Position:       r3.Vec{X: s.Origin.X, Y: s.Origin.Y, Z: z},
			InstanceNumber: n + 1,
		}
		inst.Pixel = func(row, col int) uint16 { return s.ReferencePixel(row, col, z) }
		if err := WriteInstance(path, inst); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Instance describes one synthetic reference image.
type Instance struct {
	SOPInstanceUID string
	SeriesUID      string
	Rows           int
	Cols           int
	PixelSpacing   [2]float64
	Orientation    [6]float64
	Position       r3.Vec
	InstanceNumber int
	// Pixel fills the image; nil leaves it black.
	Pixel func(row, col int) uint16
	// OmitPosition drops ImagePositionPatient.
	OmitPosition bool
}

// WriteInstance writes inst as an explicit VR little endian MR image.
func WriteInstance(path string, inst Instance) error {
	nf := frame.NewNativeFrame[uint16](16, inst.Rows, inst.Cols, inst.Rows*inst.Cols, 1)
	if inst.Pixel != nil {
		for r := 0; r < inst.Rows; r++ {
			for c := 0; c < inst.Cols; c++ {
				nf.RawData[r*inst.Cols+c] = inst.Pixel(r, c)
			}
		}
	}

	el := func(t tag.Tag, v interface{}) *dicom.Element {
		elem, err := dicom.NewElement(t, v)
		if err != nil {
			panic(fmt.Sprintf("fixture element %v: %v", t, err))
		}
		return elem
	}
	iop := make([]string, 6)
	for i, v := range inst.Orientation {
		iop[i] = fmt.Sprint(v)
	}

	elems := []*dicom.Element{
		el(tag.MediaStorageSOPClassUID, []string{mrImageStorage}),
		el(tag.MediaStorageSOPInstanceUID, []string{inst.SOPInstanceUID}),
		el(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		el(tag.ImageType, []string{"ORIGINAL", "PRIMARY", "M", "ND"}),
		el(tag.SOPClassUID, []string{mrImageStorage}),
		el(tag.SOPInstanceUID, []string{inst.SOPInstanceUID}),
		el(tag.StudyDate, []string{"20240604"}),
		el(tag.StudyTime, []string{"101500"}),
		el(tag.AccessionNumber, []string{"ACC42"}),
		el(tag.Modality, []string{"MR"}),
		el(tag.Manufacturer, []string{"GE MEDICAL SYSTEMS"}),
		el(tag.InstitutionName, []string{"Test Hospital"}),
		el(tag.SeriesDescription, []string{"3D Sag T2"}),
		el(tag.PatientName, []string{PatientName}),
		el(tag.PatientID, []string{PatientID}),
		el(tag.PatientBirthDate, []string{"19800101"}),
		el(tag.PatientSex, []string{"F"}),
		el(tag.SliceThickness, []string{"1"}),
		el(tag.StudyInstanceUID, []string{StudyUID}),
		el(tag.SeriesInstanceUID, []string{inst.SeriesUID}),
		el(tag.StudyID, []string{"1"}),
		el(tag.SeriesNumber, []string{"12"}),
		el(tag.InstanceNumber, []string{fmt.Sprint(inst.InstanceNumber)}),
		el(tag.ImageOrientationPatient, iop),
		el(tag.FrameOfReferenceUID, []string{FrameUID}),
		el(tag.SamplesPerPixel, []int{1}),
		el(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		el(tag.Rows, []int{inst.Rows}),
		el(tag.Columns, []int{inst.Cols}),
		el(tag.PixelSpacing, []string{fmt.Sprint(inst.PixelSpacing[0]), fmt.Sprint(inst.PixelSpacing[1])}),
		el(tag.BitsAllocated, []int{16}),
		el(tag.BitsStored, []int{16}),
		el(tag.HighBit, []int{15}),
		el(tag.PixelRepresentation, []int{0}),
		el(tag.PixelData, dicom.PixelDataInfo{
			Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
		}),
	}
	if !inst.OmitPosition {
		elems = append(elems, el(tag.ImagePositionPatient, []string{
			fmt.Sprint(inst.Position.X), fmt.Sprint(inst.Position.Y), fmt.Sprint(inst.Position.Z),
		}))
	}
	sortByTag(elems)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, dicom.Dataset{Elements: elems}); err != nil {
		_ = f.Close()
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return f.Close()
}

func sortByTag(elems []*dicom.Element) {
	sort.Slice(elems, func(i, j int) bool {
		if elems[i].Tag.Group != elems[j].Tag.Group {
			return elems[i].Tag.Group < elems[j].Tag.Group
		}
		return elems[i].Tag.Element < elems[j].Tag.Element
	})
}
