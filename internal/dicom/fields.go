package dicom

import (
	"github.com/mrsinham/nii2dcm/internal/util"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// inheritedField is a reference attribute copied unchanged to every output
// instance.
type inheritedField struct {
	Tag   tag.Tag
	Scope util.TagScope
	// Type2 fields must be present even when the reference lacks them; they
	// are then written empty.
	Type2 bool
}

// inheritedFields is the allow-list of attributes carried over from the
// reference instance. Everything else is either regenerated by the encoder or
// dropped.
var inheritedFields = []inheritedField{
	{Tag: tag.PatientName, Scope: util.ScopePatient, Type2: true},
	{Tag: tag.PatientID, Scope: util.ScopePatient, Type2: true},
	{Tag: tag.PatientBirthDate, Scope: util.ScopePatient, Type2: true},
	{Tag: tag.PatientSex, Scope: util.ScopePatient, Type2: true},
	{Tag: tag.PatientAge, Scope: util.ScopePatient},
	{Tag: tag.PatientWeight, Scope: util.ScopePatient},

	{Tag: tag.StudyInstanceUID, Scope: util.ScopeStudy},
	{Tag: tag.StudyDate, Scope: util.ScopeStudy, Type2: true},
	{Tag: tag.StudyTime, Scope: util.ScopeStudy, Type2: true},
	{Tag: tag.StudyID, Scope: util.ScopeStudy, Type2: true},
	{Tag: tag.AccessionNumber, Scope: util.ScopeStudy, Type2: true},
	{Tag: tag.ReferringPhysicianName, Scope: util.ScopeStudy, Type2: true},
	{Tag: tag.StudyDescription, Scope: util.ScopeStudy},

	{Tag: tag.FrameOfReferenceUID, Scope: util.ScopeFrameOfReference},
	{Tag: tag.PositionReferenceIndicator, Scope: util.ScopeFrameOfReference, Type2: true},

	{Tag: tag.Manufacturer, Scope: util.ScopeEquipment, Type2: true},
	{Tag: tag.ManufacturerModelName, Scope: util.ScopeEquipment},
	{Tag: tag.InstitutionName, Scope: util.ScopeEquipment},
	{Tag: tag.InstitutionalDepartmentName, Scope: util.ScopeEquipment},
	{Tag: tag.StationName, Scope: util.ScopeEquipment},

	{Tag: tag.Modality, Scope: util.ScopeSeries},
	{Tag: tag.BodyPartExamined, Scope: util.ScopeSeries},
	{Tag: tag.PatientPosition, Scope: util.ScopeSeries},
	{Tag: tag.Laterality, Scope: util.ScopeSeries},

	{Tag: tag.ImagePositionPatient, Scope: util.ScopeImage},
	{Tag: tag.ImageOrientationPatient, Scope: util.ScopeImage},
	{Tag: tag.PixelSpacing, Scope: util.ScopeImage},
	{Tag: tag.SliceThickness, Scope: util.ScopeImage},
	{Tag: tag.SpacingBetweenSlices, Scope: util.ScopeImage},
	{Tag: tag.SliceLocation, Scope: util.ScopeImage},
	{Tag: tag.AcquisitionNumber, Scope: util.ScopeImage},
}

// requiredTags must be present in every encoded dataset.
var requiredTags = []tag.Tag{
	tag.TransferSyntaxUID,
	tag.MediaStorageSOPClassUID,
	tag.MediaStorageSOPInstanceUID,

	tag.PatientName,
	tag.PatientID,
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
	tag.SeriesNumber,
	tag.Modality,
	tag.SOPClassUID,
	tag.SOPInstanceUID,
	tag.InstanceNumber,
	tag.ConversionType,

	tag.SamplesPerPixel,
	tag.PhotometricInterpretation,
	tag.Rows,
	tag.Columns,
	tag.BitsAllocated,
	tag.BitsStored,
	tag.HighBit,
	tag.PixelRepresentation,
	tag.PixelData,
}
