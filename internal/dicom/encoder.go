package dicom

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/mrsinham/nii2dcm/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	explicitVRLittleEndian  = "1.2.840.10008.1.2.1"
	secondaryCaptureStorage = "1.2.840.10008.5.1.4.1.1.7"
	implementationClassUID  = "2.25.231915383542212958217361917294823190512"
	implementationVersion   = "NII2DCM"
	// conversionType WSD (workstation) fills the SC Equipment module.
	conversionType = "WSD"

	// DefaultSeriesNumberOffset is added to the reference SeriesNumber when no
	// explicit number is configured.
	DefaultSeriesNumberOffset = 1000
	// DefaultSeriesDescription names the derived series.
	DefaultSeriesDescription = "Segmentation"
	derivationDescription    = "Ground-truth segmentation converted from NIfTI"
)

// ErrLabelRange is returned when a label does not fit the run's pixel depth.
var ErrLabelRange = errors.New("label exceeds pixel range")

// Mask is one 2-D label slice laid out row-major in the reference pixel grid.
type Mask struct {
	Rows   int
	Cols   int
	Labels []uint32
}

// EncoderOptions configures a run's output series.
type EncoderOptions struct {
	// SeriesUID is shared by every instance of the run.
	SeriesUID string
	// SeriesNumber of the derived series. Zero derives it from the reference.
	SeriesNumber      int
	SeriesDescription string
	// Overrides replace inherited or generated values.
	Overrides util.ParsedTags
	// Relabel is applied to each mask label before encoding.
	Relabel util.Relabel
	// MaxLabel is the largest label after relabelling across the whole
	// volume. It selects 8- or 16-bit pixel data for every instance.
	MaxLabel uint32
	// UIDs generates instance UIDs.
	UIDs *util.UIDGenerator
}

// Encoder builds segmentation datasets from reference instances.
type Encoder struct {
	opts EncoderOptions
	bits int
}

// NewEncoder validates opts and fixes the pixel depth for the run.
func NewEncoder(opts EncoderOptions) (*Encoder, error) {
	if opts.SeriesUID == "" {
		return nil, fmt.Errorf("encoder needs a series UID")
	}
	if opts.UIDs == nil {
		return nil, fmt.Errorf("encoder needs a UID generator")
	}
	if opts.SeriesDescription == "" {
		opts.SeriesDescription = DefaultSeriesDescription
	}

	bits, err := BitsForLabel(opts.MaxLabel)
	if err != nil {
		return nil, err
	}
	return &Encoder{opts: opts, bits: bits}, nil
}

// BitsForLabel returns the smallest supported allocation holding max.
func BitsForLabel(max uint32) (int, error) {
	switch {
	case max <= math.MaxUint8:
		return 8, nil
	case max <= math.MaxUint16:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrLabelRange, max)
	}
}

// BitsAllocated returns the pixel depth chosen for the run.
func (e *Encoder) BitsAllocated() int { return e.bits }

// Encode builds the dataset for one mapped slice. The reference metadata is
// inherited through the allow-list, identity fields are regenerated and the
// mask becomes the pixel data.
func (e *Encoder) Encode(ref *ReferenceSlice, mask Mask) (*dicom.Dataset, error) {
	if mask.Rows != ref.Rows || mask.Cols != ref.Cols {
		return nil, fmt.Errorf("mask is %dx%d, reference %s is %dx%d",
			mask.Rows, mask.Cols, ref.SOPInstanceUID, ref.Rows, ref.Cols)
	}
	if len(mask.Labels) != mask.Rows*mask.Cols {
		return nil, fmt.Errorf("mask has %d labels for %dx%d pixels", len(mask.Labels), mask.Rows, mask.Cols)
	}

	pixelData, err := e.pixelData(mask)
	if err != nil {
		return nil, fmt.Errorf("encode pixels for %s: %w", ref.SOPInstanceUID, err)
	}

	// Output is always Secondary Capture: the modality IOD of the reference
	// has Type 1 acquisition attributes a label map cannot honestly carry.
	sopClass := secondaryCaptureStorage
	sopInstance := e.opts.UIDs.UID("instance", e.opts.SeriesUID, ref.SOPInstanceUID)

	elems := make(map[tag.Tag]*dicom.Element)
	set := func(t tag.Tag, value interface{}) {
		elems[t] = mustNewElement(t, value)
	}

	for _, f := range inheritedFields {
		if elem, err := ref.Dataset.FindElementByTag(f.Tag); err == nil {
			elems[f.Tag] = elem
		} else if f.Type2 {
			set(f.Tag, []string{""})
		}
	}
	if _, ok := elems[tag.Modality]; !ok {
		set(tag.Modality, []string{"OT"})
	}
	if _, ok := elems[tag.FrameOfReferenceUID]; !ok {
		set(tag.FrameOfReferenceUID, []string{e.opts.UIDs.UID("frame-of-reference", ref.SeriesUID)})
	}

	set(tag.FileMetaInformationVersion, []byte{0x00, 0x01})
	set(tag.MediaStorageSOPClassUID, []string{sopClass})
	set(tag.MediaStorageSOPInstanceUID, []string{sopInstance})
	set(tag.TransferSyntaxUID, []string{explicitVRLittleEndian})
	set(tag.ImplementationClassUID, []string{implementationClassUID})
	set(tag.ImplementationVersionName, []string{implementationVersion})

	set(tag.SOPClassUID, []string{sopClass})
	set(tag.SOPInstanceUID, []string{sopInstance})
	set(tag.SeriesInstanceUID, []string{e.opts.SeriesUID})
	set(tag.SeriesNumber, []string{strconv.Itoa(e.seriesNumber(ref))})
	set(tag.SeriesDescription, []string{e.opts.SeriesDescription})
	set(tag.InstanceNumber, []string{strconv.Itoa(ref.Order + 1)})
	set(tag.ConversionType, []string{conversionType})
	set(tag.ImageType, []string{"DERIVED", "SECONDARY", "SEGMENTATION"})
	set(tag.DerivationDescription, []string{derivationDescription})
	set(tag.SourceImageSequence, [][]*dicom.Element{{
		mustNewElement(tag.ReferencedSOPClassUID, []string{ref.SOPClassUID}),
		mustNewElement(tag.ReferencedSOPInstanceUID, []string{ref.SOPInstanceUID}),
	}})

	maxValue := (1 << e.bits) - 1
	set(tag.SamplesPerPixel, []int{1})
	set(tag.PhotometricInterpretation, []string{"MONOCHROME2"})
	set(tag.Rows, []int{mask.Rows})
	set(tag.Columns, []int{mask.Cols})
	set(tag.BitsAllocated, []int{e.bits})
	set(tag.BitsStored, []int{e.bits})
	set(tag.HighBit, []int{e.bits - 1})
	set(tag.PixelRepresentation, []int{0})
	set(tag.WindowCenter, []string{floatToDS(float64(e.windowMax(maxValue)) / 2)})
	set(tag.WindowWidth, []string{floatToDS(float64(e.windowMax(maxValue)) + 1)})
	set(tag.PixelData, pixelData)

	for _, o := range e.opts.Overrides.Values() {
		set(o.Info.Tag, []string{o.Value})
	}

	ds := &dicom.Dataset{Elements: make([]*dicom.Element, 0, len(elems))}
	for _, elem := range elems {
		ds.Elements = append(ds.Elements, elem)
	}
	sortElements(ds.Elements)

	if err := Validate(ds); err != nil {
		return nil, fmt.Errorf("encoded dataset for %s is invalid: %w", ref.SOPInstanceUID, err)
	}
	return ds, nil
}

// windowMax is the top of the default display window: the run's largest label,
// at least 1 so an all-background series still gets a valid window.
func (e *Encoder) windowMax(maxValue int) int {
	m := int(e.opts.MaxLabel)
	if m < 1 {
		m = 1
	}
	if m > maxValue {
		m = maxValue
	}
	return m
}

func (e *Encoder) seriesNumber(ref *ReferenceSlice) int {
	if e.opts.SeriesNumber > 0 {
		return e.opts.SeriesNumber
	}
	n, err := intOf(ref.Dataset, tag.SeriesNumber)
	if err != nil {
		n = 0
	}
	return n + DefaultSeriesNumberOffset
}

func (e *Encoder) pixelData(mask Mask) (dicom.PixelDataInfo, error) {
	n := mask.Rows * mask.Cols
	limit := uint32(1)<<e.bits - 1

	var native frame.INativeFrame
	switch e.bits {
	case 8:
		nf := frame.NewNativeFrame[uint8](8, mask.Rows, mask.Cols, n, 1)
		for i, l := range mask.Labels {
			v := e.opts.Relabel.Apply(l)
			if v > limit {
				return dicom.PixelDataInfo{}, fmt.Errorf("%w: %d does not fit %d bits", ErrLabelRange, v, e.bits)
			}
			nf.RawData[i] = uint8(v)
		}
		native = nf
	default:
		nf := frame.NewNativeFrame[uint16](16, mask.Rows, mask.Cols, n, 1)
		for i, l := range mask.Labels {
			v := e.opts.Relabel.Apply(l)
			if v > limit {
				return dicom.PixelDataInfo{}, fmt.Errorf("%w: %d does not fit %d bits", ErrLabelRange, v, e.bits)
			}
			nf.RawData[i] = uint16(v)
		}
		native = nf
	}

	return dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   native,
			},
		},
	}, nil
}

// Validate checks that ds carries the minimal patient, study, series,
// instance and image pixel attributes, and that the pixel data matches the
// declared matrix.
func Validate(ds *dicom.Dataset) error {
	var missing []string
	for _, t := range requiredTags {
		if _, err := ds.FindElementByTag(t); err != nil {
			missing = append(missing, tagName(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required attributes %v", missing)
	}

	for _, t := range []tag.Tag{tag.StudyInstanceUID, tag.SeriesInstanceUID, tag.SOPInstanceUID, tag.SOPClassUID} {
		if stringOf(ds, t) == "" {
			return fmt.Errorf("%s is empty", tagName(t))
		}
	}

	rows, err := intOf(ds, tag.Rows)
	if err != nil {
		return err
	}
	cols, err := intOf(ds, tag.Columns)
	if err != nil {
		return err
	}
	bits, err := intOf(ds, tag.BitsAllocated)
	if err != nil {
		return err
	}

	elem, _ := ds.FindElementByTag(tag.PixelData)
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return fmt.Errorf("PixelData holds %T", elem.Value.GetValue())
	}
	if len(info.Frames) != 1 || info.Frames[0].Encapsulated || info.Frames[0].NativeData == nil {
		return fmt.Errorf("PixelData must hold exactly one native frame")
	}
	nf := info.Frames[0].NativeData
	if nf.Rows() != rows || nf.Cols() != cols {
		return fmt.Errorf("PixelData frame is %dx%d, attributes say %dx%d", nf.Rows(), nf.Cols(), rows, cols)
	}
	if nf.BitsPerSample() != bits {
		return fmt.Errorf("PixelData has %d bits per sample, BitsAllocated is %d", nf.BitsPerSample(), bits)
	}
	if n := sampleCount(nf.RawDataSlice()); n != rows*cols {
		return fmt.Errorf("PixelData has %d samples, want %d", n, rows*cols)
	}
	return nil
}
