package wizard

import (
	"github.com/charmbracelet/huh"
	"github.com/mrsinham/nii2dcm/internal/geometry"
)

// NewForm builds the question form bound to s.
func NewForm(s *State) *huh.Form {
	conventions := make([]huh.Option[string], 0, 2)
	for _, c := range geometry.AllConventions() {
		label := string(c)
		switch c {
		case geometry.RAS:
			label = "RAS - NIfTI / nibabel world"
		case geometry.LPS:
			label = "LPS - DICOM / ITK world"
		}
		conventions = append(conventions, huh.NewOption(label, string(c)))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("segmentation").
				Title("Segmentation volume").
				Description("Label map, .nii or .nii.gz").
				Value(&s.Segmentation).
				Validate(validateFile),

			huh.NewInput().
				Key("image").
				Title("Image volume").
				Description("Companion image on the same voxel grid").
				Value(&s.Image).
				Validate(validateFile),

			huh.NewInput().
				Key("reference").
				Title("Reference DICOM directory").
				Value(&s.ReferenceDir).
				Validate(validateDir),

			huh.NewInput().
				Key("output").
				Title("Output directory").
				Value(&s.OutputDir).
				Validate(validateRequired("output directory")),
		).Title("Inputs"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("convention").
				Title("Affine convention").
				Options(conventions...).
				Value(&s.Convention),

			huh.NewInput().
				Key("tolerance").
				Title("Slice tolerance").
				Description("Fraction of the reference slice spacing").
				Value(&s.Tolerance).
				Validate(validatePositiveFloat),

			huh.NewInput().
				Key("verify").
				Title("Slices to check against the image").
				Value(&s.VerifySlices).
				Validate(validateNonNegativeInt),

			huh.NewInput().
				Key("preview").
				Title("Preview directory").
				Placeholder("empty = no previews").
				Value(&s.PreviewDir),

			huh.NewInput().
				Key("workers").
				Title("Workers").
				Description("0 = one per CPU").
				Value(&s.Workers).
				Validate(validateNonNegativeInt),
		).Title("Mapping"),

		huh.NewGroup(
			huh.NewInput().
				Key("series_description").
				Title("Series description").
				Value(&s.SeriesDescription),

			huh.NewInput().
				Key("relabel").
				Title("Relabel").
				Placeholder("e.g., 1=2,2=1").
				Value(&s.Relabel).
				Validate(validateRelabel),

			huh.NewInput().
				Key("tags").
				Title("Tag overrides").
				Placeholder("e.g., InstitutionName=CHU Bordeaux; StudyID=42").
				Value(&s.Tags).
				Validate(validateTags),

			huh.NewConfirm().
				Key("random_uids").
				Title("Random UIDs?").
				Description("No keeps reruns identical and overwrites earlier output").
				Value(&s.RandomUIDs),

			huh.NewInput().
				Key("save_config").
				Title("Save configuration to").
				Placeholder("empty = do not save").
				Value(&s.SaveConfig),
		).Title("Output"),
	)
}
