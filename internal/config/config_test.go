package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/mrsinham/nii2dcm/internal/geometry"
)

func TestLoad_EmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil || !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatalf("Load(absent) = %+v, want an error", cfg)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load(absent) error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nii2dcm.yaml")
	content := `
mapping:
  convention: lps
output:
  series_number: 77
  relabel: "1=2,2=1"
  tags:
    SeriesDescription: "Liver GT"
    InstitutionName: "Lab"
processing:
  workers: 3
  verify_slices: 2
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mapping.Convention != "lps" {
		t.Errorf("Convention = %q", cfg.Mapping.Convention)
	}
	if cfg.Mapping.Tolerance != Default().Mapping.Tolerance {
		t.Errorf("Tolerance = %g, want the default", cfg.Mapping.Tolerance)
	}
	if cfg.Output.SeriesNumber != 77 || cfg.Processing.Workers != 3 || cfg.Processing.VerifySlices != 2 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Output.SeriesDescription != "Segmentation" {
		t.Errorf("SeriesDescription = %q, want the default", cfg.Output.SeriesDescription)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}

	relabel, err := cfg.RelabelMap()
	if err != nil || relabel.Apply(1) != 2 || relabel.Apply(2) != 1 {
		t.Errorf("RelabelMap = %v, %v", relabel, err)
	}
	want := []string{"InstitutionName=Lab", "SeriesDescription=Liver GT"}
	if got := cfg.TagFlags(); !reflect.DeepEqual(got, want) {
		t.Errorf("TagFlags = %v, want %v", got, want)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax", "mapping: [", "parse config file"},
		{"convention", "mapping:\n  convention: XYZ\n", "unknown coordinate convention"},
		{"tolerance", "mapping:\n  tolerance: -1\n", "tolerance"},
		{"workers", "processing:\n  workers: -2\n", "workers"},
		{"relabel", "output:\n  relabel: \"1=\"\n", "label"},
		{"tag", "output:\n  tags:\n    NotATag: x\n", "NotATag"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Mapping.Convention = "LPS"
	cfg.Output.Tags = map[string]string{"SeriesDescription": "GT"}
	cfg.Output.RandomUIDs = true
	cfg.Processing.PreviewDir = "/tmp/previews"

	path := filepath.Join(t.TempDir(), "sub", "saved.yaml")
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reflect.DeepEqual(loaded, cfg) {
		t.Errorf("round trip = %+v, want %+v", loaded, cfg)
	}
}

func TestSetTag(t *testing.T) {
	cfg := Default()
	cfg.Output.Tags = map[string]string{"seriesdescription": "old"}

	if err := cfg.SetTag("SeriesDescription= New "); err != nil {
		t.Fatalf("SetTag failed: %v", err)
	}
	if want := map[string]string{"SeriesDescription": "New"}; !reflect.DeepEqual(cfg.Output.Tags, want) {
		t.Errorf("Tags = %v, want %v", cfg.Output.Tags, want)
	}
	if err := cfg.SetTag("SeriesDescription"); err == nil {
		t.Error("missing '=' accepted")
	}
	if err := cfg.SetTag("SeriesDescriptoin=x"); err == nil || !strings.Contains(err.Error(), "did you mean") {
		t.Errorf("typo error = %v, want a suggestion", err)
	}
}

func TestConvertOptions(t *testing.T) {
	cfg := Default()
	cfg.Mapping.Convention = "lps"
	cfg.Output.Relabel = "4=1"
	cfg.Processing.Workers = 2
	if err := cfg.SetTag("InstitutionName=Lab"); err != nil {
		t.Fatal(err)
	}

	paths := Paths{Segmentation: "seg.nii.gz", Image: "img.nii.gz", ReferenceDir: "ref", OutputDir: "out"}
	opts, err := cfg.ConvertOptions(paths)
	if err != nil {
		t.Fatalf("ConvertOptions failed: %v", err)
	}
	if opts.Convention != geometry.LPS {
		t.Errorf("Convention = %q, want LPS", opts.Convention)
	}
	if opts.SegmentationPath != "seg.nii.gz" || opts.OutputDir != "out" || opts.Workers != 2 {
		t.Errorf("opts = %+v", opts)
	}
	if opts.Relabel.Apply(4) != 1 {
		t.Errorf("Relabel = %v", opts.Relabel)
	}
	if v, ok := opts.Tags.Get("InstitutionName"); !ok || v != "Lab" {
		t.Errorf("Tags = %v", opts.Tags)
	}

	cfg.Mapping.Tolerance = 0
	if _, err := cfg.ConvertOptions(paths); err == nil {
		t.Error("invalid configuration accepted")
	}
}
