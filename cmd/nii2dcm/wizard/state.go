package wizard

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mrsinham/nii2dcm/internal/config"
	"github.com/mrsinham/nii2dcm/internal/util"
)

// State holds the wizard answers. Numbers are kept as strings because huh
// binds inputs to strings.
type State struct {
	Segmentation string
	Image        string
	ReferenceDir string
	OutputDir    string

	Convention   string
	Tolerance    string
	VerifySlices string
	PreviewDir   string
	Workers      string

	SeriesDescription string
	Relabel           string
	// Tags are "Name=Value" pairs separated by semicolons.
	Tags       string
	RandomUIDs bool
	SaveConfig string
}

// NewState pre-fills the answers from cfg.
func NewState(cfg *config.Config) *State {
	return &State{
		Convention:        strings.ToUpper(cfg.Mapping.Convention),
		Tolerance:         strconv.FormatFloat(cfg.Mapping.Tolerance, 'g', -1, 64),
		VerifySlices:      strconv.Itoa(cfg.Processing.VerifySlices),
		PreviewDir:        cfg.Processing.PreviewDir,
		Workers:           strconv.Itoa(cfg.Processing.Workers),
		SeriesDescription: cfg.Output.SeriesDescription,
		Relabel:           cfg.Output.Relabel,
		Tags:              strings.Join(cfg.TagFlags(), "; "),
		RandomUIDs:        cfg.Output.RandomUIDs,
	}
}

// Paths returns the four conversion inputs.
func (s *State) Paths() config.Paths {
	return config.Paths{
		Segmentation: strings.TrimSpace(s.Segmentation),
		Image:        strings.TrimSpace(s.Image),
		ReferenceDir: strings.TrimSpace(s.ReferenceDir),
		OutputDir:    strings.TrimSpace(s.OutputDir),
	}
}

// Apply writes the answers into cfg.
func (s *State) Apply(cfg *config.Config) error {
	tolerance, err := strconv.ParseFloat(strings.TrimSpace(s.Tolerance), 64)
	if err != nil {
		return fmt.Errorf("tolerance: %w", err)
	}
	verify, err := strconv.Atoi(strings.TrimSpace(s.VerifySlices))
	if err != nil {
		return fmt.Errorf("verify slices: %w", err)
	}
	workers, err := strconv.Atoi(strings.TrimSpace(s.Workers))
	if err != nil {
		return fmt.Errorf("workers: %w", err)
	}

	cfg.Mapping.Convention = s.Convention
	cfg.Mapping.Tolerance = tolerance
	cfg.Processing.VerifySlices = verify
	cfg.Processing.Workers = workers
	cfg.Processing.PreviewDir = strings.TrimSpace(s.PreviewDir)
	cfg.Output.SeriesDescription = strings.TrimSpace(s.SeriesDescription)
	cfg.Output.Relabel = strings.TrimSpace(s.Relabel)
	cfg.Output.RandomUIDs = s.RandomUIDs

	cfg.Output.Tags = nil
	for _, t := range splitTags(s.Tags) {
		if err := cfg.SetTag(t); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func splitTags(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validateRequired(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}

func validateFile(s string) error {
	if err := validateRequired("file")(s); err != nil {
		return err
	}
	info, err := os.Stat(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("cannot access file: %v", err)
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory, expected a file")
	}
	return nil
}

func validateDir(s string) error {
	if err := validateRequired("directory")(s); err != nil {
		return err
	}
	info, err := os.Stat(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("cannot access directory: %v", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	return nil
}

func validatePositiveFloat(s string) error {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if f <= 0 {
		return fmt.Errorf("must be greater than 0")
	}
	return nil
}

func validateNonNegativeInt(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a number")
	}
	if n < 0 {
		return fmt.Errorf("must be 0 or more")
	}
	return nil
}

func validateRelabel(s string) error {
	_, err := util.ParseRelabel(s)
	return err
}

func validateTags(s string) error {
	_, err := util.ParseTagFlags(splitTags(s))
	return err
}
