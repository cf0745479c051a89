// Package config loads and saves the YAML configuration of nii2dcm. Command
// line flags override the values it holds.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mrsinham/nii2dcm/internal/convert"
	"github.com/mrsinham/nii2dcm/internal/dicom"
	"github.com/mrsinham/nii2dcm/internal/geometry"
	"github.com/mrsinham/nii2dcm/internal/logging"
	"github.com/mrsinham/nii2dcm/internal/mapping"
	"github.com/mrsinham/nii2dcm/internal/util"
	"gopkg.in/yaml.v3"
)

// Config is the persisted configuration.
type Config struct {
	Mapping struct {
		// Convention of the NIfTI affine: RAS or LPS.
		Convention string `yaml:"convention"`
		// Tolerance is the accepted slice distance as a fraction of the
		// reference spacing.
		Tolerance float64 `yaml:"tolerance"`
	} `yaml:"mapping"`

	Output struct {
		SeriesNumber      int               `yaml:"series_number,omitempty"`
		SeriesDescription string            `yaml:"series_description"`
		Relabel           string            `yaml:"relabel,omitempty"`
		Tags              map[string]string `yaml:"tags,omitempty"`
		RandomUIDs        bool              `yaml:"random_uids"`
	} `yaml:"output"`

	Processing struct {
		Workers      int    `yaml:"workers"` // 0 = one per CPU
		VerifySlices int    `yaml:"verify_slices"`
		PreviewDir   string `yaml:"preview_dir,omitempty"`
	} `yaml:"processing"`

	Logging logging.Config `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.Mapping.Convention = string(geometry.RAS)
	cfg.Mapping.Tolerance = mapping.DefaultToleranceFraction
	cfg.Output.SeriesDescription = dicom.DefaultSeriesDescription
	cfg.Logging.Level = logging.DefaultLevel
	return cfg
}

// Load reads path over the defaults. An empty path yields the defaults; a
// named file that does not exist is an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the parent directory.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks every field that has a restricted syntax.
func (c *Config) Validate() error {
	if _, err := geometry.ParseConvention(c.Mapping.Convention); err != nil {
		return err
	}
	if c.Mapping.Tolerance <= 0 {
		return fmt.Errorf("mapping.tolerance must be > 0, got %g", c.Mapping.Tolerance)
	}
	if c.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must be >= 0, got %d", c.Processing.Workers)
	}
	if c.Processing.VerifySlices < 0 {
		return fmt.Errorf("processing.verify_slices must be >= 0, got %d", c.Processing.VerifySlices)
	}
	if c.Output.SeriesNumber < 0 {
		return fmt.Errorf("output.series_number must be >= 0, got %d", c.Output.SeriesNumber)
	}
	if _, err := c.RelabelMap(); err != nil {
		return err
	}
	if _, err := util.ParseTagFlags(c.TagFlags()); err != nil {
		return err
	}
	return nil
}

// RelabelMap parses Output.Relabel.
func (c *Config) RelabelMap() (util.Relabel, error) {
	return util.ParseRelabel(c.Output.Relabel)
}

// TagFlags returns Output.Tags as Name=Value strings sorted by name, so
// flags given after them win.
func (c *Config) TagFlags() []string {
	names := make([]string, 0, len(c.Output.Tags))
	for name := range c.Output.Tags {
		names = append(names, name)
	}
	sort.Strings(names)

	flags := make([]string, len(names))
	for i, name := range names {
		flags[i] = name + "=" + c.Output.Tags[name]
	}
	return flags
}

// SetTag records a Name=Value override under the tag's canonical name,
// replacing any earlier value for the same tag.
func (c *Config) SetTag(flag string) error {
	name, value, ok := strings.Cut(flag, "=")
	if !ok {
		return fmt.Errorf("invalid tag %q, expected Name=Value", flag)
	}
	info, err := util.GetTagByName(name)
	if err != nil {
		return err
	}
	if c.Output.Tags == nil {
		c.Output.Tags = make(map[string]string)
	}
	for existing := range c.Output.Tags {
		if strings.EqualFold(existing, info.Name) {
			delete(c.Output.Tags, existing)
		}
	}
	c.Output.Tags[info.Name] = strings.TrimSpace(value)
	return nil
}

// Paths are the four inputs of a conversion.
type Paths struct {
	Segmentation string
	Image        string
	ReferenceDir string
	OutputDir    string
}

// ConvertOptions builds pipeline options for paths from the configuration.
func (c *Config) ConvertOptions(p Paths) (convert.Options, error) {
	if err := c.Validate(); err != nil {
		return convert.Options{}, err
	}
	conv, err := geometry.ParseConvention(c.Mapping.Convention)
	if err != nil {
		return convert.Options{}, err
	}
	relabel, err := c.RelabelMap()
	if err != nil {
		return convert.Options{}, err
	}
	tags, err := util.ParseTagFlags(c.TagFlags())
	if err != nil {
		return convert.Options{}, err
	}

	return convert.Options{
		SegmentationPath:  p.Segmentation,
		ImagePath:         p.Image,
		ReferenceDir:      p.ReferenceDir,
		OutputDir:         p.OutputDir,
		Convention:        conv,
		ToleranceFraction: c.Mapping.Tolerance,
		Workers:           c.Processing.Workers,
		Relabel:           relabel,
		Tags:              tags,
		SeriesNumber:      c.Output.SeriesNumber,
		SeriesDescription: c.Output.SeriesDescription,
		RandomUIDs:        c.Output.RandomUIDs,
		VerifySlices:      c.Processing.VerifySlices,
		PreviewDir:        c.Processing.PreviewDir,
	}, nil
}
