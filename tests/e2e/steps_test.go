package e2e

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"

	"github.com/cucumber/godog"
	"github.com/mrsinham/nii2dcm/internal/testutil"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// binaryPath holds the path to the compiled binary (set once in TestMain)
var binaryPath string

// testContext holds state for a single scenario
type testContext struct {
	tmpDir   string
	scene    testutil.Scene
	exitCode int
	output   string
	// snapshot maps file names to contents for rerun comparisons.
	snapshot map[string][]byte
}

// buildBinary compiles the nii2dcm binary once
func buildBinary() (string, error) {
	tmpFile, err := os.CreateTemp("", "nii2dcm-test-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpFile.Close()

	// Get the directory of this test file to find the project root
	_, thisFile, _, _ := runtime.Caller(0)
	projectRoot := filepath.Join(filepath.Dir(thisFile), "..", "..")

	cmd := exec.Command("go", "build", "-o", tmpFile.Name(), "./cmd/nii2dcm")
	cmd.Dir = projectRoot
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("build failed: %w\n%s", err, stderr.String())
	}

	return tmpFile.Name(), nil
}

// TestMain compiles the binary once before running all tests
func TestMain(m *testing.M) {
	var err error
	binaryPath, err = buildBinary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build binary: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()
	os.Remove(binaryPath)
	os.Exit(code)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

func InitializeScenario(sc *godog.ScenarioContext) {
	tc := &testContext{}

	sc.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tmpDir, err := os.MkdirTemp("", "nii2dcm-e2e-*")
		if err != nil {
			return ctx, err
		}
		tc.tmpDir = tmpDir
		tc.scene = testutil.DefaultScene()
		tc.snapshot = nil
		return ctx, nil
	})

	sc.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if tc.tmpDir != "" {
			os.RemoveAll(tc.tmpDir)
		}
		return ctx, nil
	})

	sc.Step(`^nii2dcm is built$`, tc.nii2dcmIsBuilt)
	sc.Step(`^a volume of (\d+) slices starting at z (-?\d+(?:\.\d+)?) mm$`, tc.aVolumeOfSlices)
	sc.Step(`^a reference series at z "([^"]*)" mm$`, tc.aReferenceSeriesAt)
	sc.Step(`^an empty reference directory$`, tc.anEmptyReferenceDirectory)
	sc.Step(`^the scene is written$`, tc.theSceneIsWritten)
	sc.Step(`^I run nii2dcm with "([^"]*)"$`, tc.iRunNii2dcmWith)
	sc.Step(`^the exit code should be (\d+)$`, tc.theExitCodeShouldBe)
	sc.Step(`^the output should contain "([^"]*)"$`, tc.theOutputShouldContain)
	sc.Step(`^"([^"]*)" should contain (\d+) DICOM files$`, tc.shouldContainDICOMFiles)
	sc.Step(`^"([^"]*)" should not exist$`, tc.shouldNotExist)
	sc.Step(`^"([^"]*)" should exist$`, tc.shouldExist)
	sc.Step(`^every file in "([^"]*)" should reference series "([^"]*)"$`, tc.everyFileShouldReference)
	sc.Step(`^I remember the files in "([^"]*)"$`, tc.iRememberTheFilesIn)
	sc.Step(`^the files in "([^"]*)" should be unchanged$`, tc.theFilesShouldBeUnchanged)
}

func (tc *testContext) expand(s string) string {
	return strings.ReplaceAll(s, "{tmpdir}", tc.tmpDir)
}

func (tc *testContext) nii2dcmIsBuilt() error {
	if binaryPath == "" {
		return fmt.Errorf("binary not built")
	}
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("binary does not exist at %s", binaryPath)
	}
	return nil
}

func (tc *testContext) aVolumeOfSlices(depth int, z0 float64) error {
	tc.scene.VolumeDepth = depth
	tc.scene.VolumeZ0 = z0
	return nil
}

func (tc *testContext) aReferenceSeriesAt(list string) error {
	var zs []float64
	for _, part := range strings.Split(list, ",") {
		z, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return fmt.Errorf("invalid z %q: %w", part, err)
		}
		zs = append(zs, z)
	}
	tc.scene.ReferenceZ = zs
	return nil
}

func (tc *testContext) anEmptyReferenceDirectory() error {
	tc.scene.ReferenceZ = nil
	return nil
}

// theSceneIsWritten writes seg.nii.gz, img.nii.gz and ref/ into the scenario
// directory.
func (tc *testContext) theSceneIsWritten() error {
	if _, _, err := tc.scene.WriteVolumes(tc.tmpDir); err != nil {
		return err
	}
	_, err := tc.scene.WriteReference(filepath.Join(tc.tmpDir, "ref"))
	return err
}

func (tc *testContext) iRunNii2dcmWith(args string) error {
	argList := splitArgs(tc.expand(args))

	cmd := exec.Command(binaryPath, argList...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	tc.output = output.String()

	if exitErr, ok := err.(*exec.ExitError); ok {
		tc.exitCode = exitErr.ExitCode()
	} else if err != nil {
		return fmt.Errorf("failed to run command: %w", err)
	} else {
		tc.exitCode = 0
	}

	return nil
}

func (tc *testContext) theExitCodeShouldBe(expected int) error {
	if tc.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nOutput:\n%s", expected, tc.exitCode, tc.output)
	}
	return nil
}

func (tc *testContext) theOutputShouldContain(expected string) error {
	if !strings.Contains(tc.output, expected) {
		return fmt.Errorf("output does not contain %q\nOutput:\n%s", expected, tc.output)
	}
	return nil
}

func (tc *testContext) shouldContainDICOMFiles(path string, count int) error {
	files, err := findDICOMFiles(tc.expand(path))
	if err != nil {
		return fmt.Errorf("failed to find DICOM files: %w", err)
	}
	if len(files) != count {
		return fmt.Errorf("expected %d DICOM files, found %d", count, len(files))
	}
	return nil
}

func (tc *testContext) shouldExist(path string) error {
	path = tc.expand(path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("path does not exist: %s", path)
	}
	return nil
}

func (tc *testContext) shouldNotExist(path string) error {
	path = tc.expand(path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return fmt.Errorf("path exists: %s", path)
	}
	return nil
}

// everyFileShouldReference parses every output file and checks that it
// belongs to a new series of the given study and points back at an image of
// the reference series.
func (tc *testContext) everyFileShouldReference(path, series string) error {
	if series == "fixture" {
		series = testutil.SeriesUID
	}
	files, err := findDICOMFiles(tc.expand(path))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no DICOM files found in %s", path)
	}

	for _, file := range files {
		ds, err := dicom.ParseFile(file, nil, dicom.SkipPixelData())
		if err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}
		if got := firstString(ds, tag.StudyInstanceUID); got != testutil.StudyUID {
			return fmt.Errorf("%s: StudyInstanceUID = %q", file, got)
		}
		if got := firstString(ds, tag.SeriesInstanceUID); got == "" || got == series {
			return fmt.Errorf("%s: SeriesInstanceUID = %q, want a new series", file, got)
		}
		if _, err := ds.FindElementByTag(tag.SourceImageSequence); err != nil {
			return fmt.Errorf("%s: no SourceImageSequence", file)
		}
	}
	return nil
}

func (tc *testContext) iRememberTheFilesIn(path string) error {
	snap, err := readAll(tc.expand(path))
	if err != nil {
		return err
	}
	tc.snapshot = snap
	return nil
}

func (tc *testContext) theFilesShouldBeUnchanged(path string) error {
	snap, err := readAll(tc.expand(path))
	if err != nil {
		return err
	}
	if len(snap) != len(tc.snapshot) {
		return fmt.Errorf("expected %d files, found %d", len(tc.snapshot), len(snap))
	}
	for name, data := range tc.snapshot {
		if !bytes.Equal(snap[name], data) {
			return fmt.Errorf("%s changed between runs", name)
		}
	}
	return nil
}

func firstString(ds dicom.Dataset, t tag.Tag) string {
	el, err := ds.FindElementByTag(t)
	if err != nil {
		return ""
	}
	if v, ok := el.Value.GetValue().([]string); ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

func readAll(dir string) (map[string][]byte, error) {
	files, err := findDICOMFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		out[filepath.Base(f)] = data
	}
	return out, nil
}

// findDICOMFiles lists the .dcm files directly under dir.
func findDICOMFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "*.dcm"))
}

// splitArgs splits a command line string into arguments
func splitArgs(s string) []string {
	var args []string
	var current strings.Builder
	inQuote := false

	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}
	if current.Len() > 0 {
		args = append(args, current.String())
	}
	return args
}
