package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/mrsinham/nii2dcm/cmd/nii2dcm/wizard"
	"github.com/mrsinham/nii2dcm/internal/config"
	"github.com/mrsinham/nii2dcm/internal/convert"
	"github.com/mrsinham/nii2dcm/internal/logging"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// cliFlags holds the parsed command line. Only flags the user actually set
// override the configuration file.
type cliFlags struct {
	configFile  string
	saveConfig  string
	workers     int
	tolerance   float64
	convention  string
	relabel     string
	tags        []string
	randomUIDs  bool
	verify      int
	previewDir  string
	seriesNum   int
	seriesDesc  string
	logFile     string
	logLevel    string
	quiet       bool
	help        bool
	showVersion bool
}

func newFlagSet(f *cliFlags, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("nii2dcm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {}

	fs.StringVar(&f.configFile, "config", "", "Load configuration from YAML file")
	fs.StringVar(&f.saveConfig, "save-config", "", "Save the effective configuration to YAML file")
	fs.IntVar(&f.workers, "workers", 0, fmt.Sprintf("Number of parallel workers (default: %d = CPU cores)", runtime.NumCPU()))
	fs.Float64Var(&f.tolerance, "tolerance", 0, "Accepted slice distance as a fraction of the reference spacing (default 0.5)")
	fs.StringVar(&f.convention, "convention", "", "Affine convention of the volumes: RAS or LPS (default RAS)")
	fs.StringVar(&f.relabel, "relabel", "", "Relabel map, e.g. '1=2,2=1'")
	fs.Func("tag", "Set DICOM tag: 'TagName=Value' (repeatable)", func(s string) error {
		f.tags = append(f.tags, s)
		return nil
	})
	fs.BoolVar(&f.randomUIDs, "random-uids", false, "Use random UIDs instead of reproducible ones")
	fs.IntVar(&f.verify, "verify-slices", 0, "Number of slices whose image is checked against the reference")
	fs.StringVar(&f.previewDir, "preview-dir", "", "Write PNG overlays of the checked slices to this directory")
	fs.IntVar(&f.seriesNum, "series-number", 0, "Series number of the output (default: reference + 1000)")
	fs.StringVar(&f.seriesDesc, "series-description", "", "Series description of the output")
	fs.StringVar(&f.logFile, "log-file", "", "Write logs to this rotating file instead of stderr")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (default info)")
	fs.BoolVar(&f.quiet, "quiet", false, "Only print warnings, errors and the summary")
	fs.BoolVar(&f.help, "help", false, "Show help message")
	fs.BoolVar(&f.showVersion, "version", false, "Show version")
	return fs
}

// parseArgs parses flags wherever they appear among the positional
// arguments.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// apply overrides cfg with every flag set on the command line.
func (f *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) error {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "workers":
			cfg.Processing.Workers = f.workers
		case "tolerance":
			cfg.Mapping.Tolerance = f.tolerance
		case "convention":
			cfg.Mapping.Convention = f.convention
		case "relabel":
			cfg.Output.Relabel = f.relabel
		case "random-uids":
			cfg.Output.RandomUIDs = f.randomUIDs
		case "verify-slices":
			cfg.Processing.VerifySlices = f.verify
		case "preview-dir":
			cfg.Processing.PreviewDir = f.previewDir
		case "series-number":
			cfg.Output.SeriesNumber = f.seriesNum
		case "series-description":
			cfg.Output.SeriesDescription = f.seriesDesc
		case "log-file":
			cfg.Logging.File = f.logFile
		case "log-level":
			cfg.Logging.Level = f.logLevel
		case "quiet":
			cfg.Logging.Quiet = f.quiet
		}
	})
	for _, t := range f.tags {
		if err := cfg.SetTag(t); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "wizard" {
		return runWizard(ctx, args[1:], stderr)
	}

	var f cliFlags
	fs := newFlagSet(&f, stderr)
	positional, err := parseArgs(fs, args)
	if errors.Is(err, flag.ErrHelp) {
		printHelp(stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		printUsage(stderr)
		return 1
	}

	if f.showVersion {
		fmt.Fprintf(stdout, "nii2dcm %s\n", version)
		return 0
	}
	if f.help {
		printHelp(stdout)
		return 0
	}

	if len(positional) != 4 {
		fmt.Fprintf(stderr, "Error: expected 4 arguments, got %d\n", len(positional))
		printUsage(stderr)
		return 1
	}
	paths := config.Paths{
		Segmentation: positional[0],
		Image:        positional[1],
		ReferenceDir: positional[2],
		OutputDir:    positional[3],
	}

	cfg, err := config.Load(f.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	if err := f.apply(fs, cfg); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	logCfg := cfg.Logging
	logCfg.Stderr = stderr
	log, closer, err := logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = closer.Close() }()

	opts, err := cfg.ConvertOptions(paths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	opts.Log = log

	quiet := cfg.Logging.Quiet
	if !quiet {
		fmt.Fprintln(stdout, "nii2dcm")
		fmt.Fprintln(stdout, "=======")
		fmt.Fprintln(stdout)
		fmt.Fprintf(stdout, "Segmentation: %s\n", paths.Segmentation)
		fmt.Fprintf(stdout, "Reference:    %s\n", paths.ReferenceDir)
		fmt.Fprintln(stdout)
		opts.ProgressCallback = progressPrinter(stdout)
	}

	report, err := convert.Run(ctx, opts)
	if report != nil {
		printReport(stdout, report, quiet)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "Error: conversion cancelled, output directory is incomplete")
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if f.saveConfig != "" {
		if err := config.Save(cfg, f.saveConfig); err != nil {
			fmt.Fprintf(stderr, "Warning: could not save config: %v\n", err)
		} else if !quiet {
			fmt.Fprintf(stdout, "Configuration saved to %s\n", f.saveConfig)
		}
	}

	if !quiet {
		fmt.Fprintln(stdout, "\n✓ Conversion complete!")
		fmt.Fprintf(stdout, "  Output directory: %s\n", paths.OutputDir)
	}
	return 0
}

func runWizard(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("nii2dcm wizard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var fromConfig string
	fs.StringVar(&fromConfig, "from", "", "Pre-fill the wizard from a YAML config file")
	fs.StringVar(&fromConfig, "config", "", "Alias of --from")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := wizard.Run(ctx, fromConfig); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// progressPrinter prints a progress line every 10%.
func progressPrinter(w io.Writer) func(current, total int) {
	lastDecile := 0
	return func(current, total int) {
		if total <= 0 {
			return
		}
		decile := current * 10 / total
		if decile <= lastDecile {
			return
		}
		lastDecile = decile
		fmt.Fprintf(w, "  Progress: %d/%d (%.0f%%)\n", current, total, float64(current)/float64(total)*100)
	}
}

func printReport(w io.Writer, r *convert.Report, quiet bool) {
	if !quiet {
		fmt.Fprintln(w)
		for _, s := range r.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", s.Path, s.Reason)
		}
		for _, u := range r.Unmapped {
			fmt.Fprintf(w, "  slice %d unmapped: %s\n", u.Index, u.Reason)
		}
		if r.Verified > 0 {
			fmt.Fprintf(w, "  image check: %d/%d slices consistent\n", r.Verified-len(r.Inconsistent), r.Verified)
		}
		for _, p := range r.Previews {
			fmt.Fprintf(w, "  preview: %s\n", p)
		}
	}
	fmt.Fprintln(w, r.Summary())
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  nii2dcm [options] <segmentation.nii[.gz]> <image.nii[.gz]> <reference-dir> <output-dir>")
	fmt.Fprintln(w, "  nii2dcm wizard [--from <config.yaml>]")
	fmt.Fprintln(w, "\nRun 'nii2dcm --help' for the list of options.")
}

func printHelp(w io.Writer) {
	lines := []string{
		"nii2dcm",
		"=======",
		"",
		"Convert a NIfTI segmentation into a DICOM series aligned slice by slice",
		"with a reference DICOM series.",
		"",
		"Usage:",
		"  nii2dcm [options] <segmentation> <image> <reference-dir> <output-dir>",
		"  nii2dcm wizard [--from <config.yaml>]",
		"",
		"Arguments:",
		"  <segmentation>        Label volume (.nii or .nii.gz)",
		"  <image>               Image volume sharing the segmentation's voxel grid",
		"  <reference-dir>       Directory holding the reference DICOM series",
		"  <output-dir>          Directory receiving one DICOM file per mapped slice",
		"",
		"Mapping options:",
		"  --convention <CONV>   Affine convention of the volumes: RAS or LPS (default: RAS)",
		"  --tolerance <F>       Accepted slice distance as a fraction of the",
		"                        reference spacing (default: 0.5)",
		fmt.Sprintf("  --workers <N>         Number of parallel workers (default: %d = CPU cores)", runtime.NumCPU()),
		"",
		"Output options:",
		"  --relabel <MAP>       Relabel map, e.g. '1=2,2=1'",
		"  --series-number <N>   Series number (default: reference + 1000)",
		"  --series-description <TEXT>",
		"                        Series description (default: 'Segmentation')",
		"  --tag <NAME=VALUE>    Set DICOM tag value (repeatable)",
		"                        Example: --tag \"InstitutionName=CHU Bordeaux\"",
		"  --random-uids         Random UIDs; by default reruns write identical files",
		"",
		"Quality checks:",
		"  --verify-slices <N>   Compare the image with the reference pixels on N slices",
		"  --preview-dir <DIR>   Write PNG overlays of the checked slices",
		"",
		"Configuration and logging:",
		"  --config <FILE>       Load options from a YAML file (flags win)",
		"  --save-config <FILE>  Save the effective options after the conversion",
		"  --log-file <FILE>     Log to a rotating file instead of stderr",
		"  --log-level <LEVEL>   debug, info, warn or error (default: info)",
		"  --quiet               Only print warnings, errors and the summary",
		"",
		"  --version             Show version",
		"  --help                Show this help message",
		"",
		"Examples:",
		"  # Convert a liver segmentation",
		"  nii2dcm liver_seg.nii.gz ct.nii.gz ./ct_dicom ./liver_dicom",
		"",
		"  # Volumes exported by ITK (LPS) with two slices checked",
		"  nii2dcm --convention LPS --verify-slices 2 seg.nii img.nii ./ref ./out",
		"",
		"  # Swap labels 1 and 2 and name the institution",
		"  nii2dcm --relabel 1=2,2=1 --tag \"InstitutionName=CHU Bordeaux\" seg.nii img.nii ./ref ./out",
		"",
		"Exit status:",
		"  0 when at least one slice was written, 1 on any error. Slices that match",
		"  no reference image are listed but do not fail the conversion.",
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}
