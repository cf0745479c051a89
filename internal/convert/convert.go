// Package convert runs a complete segmentation conversion: it loads the
// volumes and the reference series, reconciles them and writes one DICOM
// instance per mapped slice.
package convert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/mrsinham/nii2dcm/internal/dicom"
	"github.com/mrsinham/nii2dcm/internal/geometry"
	"github.com/mrsinham/nii2dcm/internal/mapping"
	"github.com/mrsinham/nii2dcm/internal/nifti"
	"github.com/mrsinham/nii2dcm/internal/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrShapeMismatch is returned when the segmentation and the companion
	// image do not share a voxel grid.
	ErrShapeMismatch = errors.New("segmentation and image shapes differ")
	// ErrNoSlicesMapped is returned when no volume slice matches the
	// reference series.
	ErrNoSlicesMapped = errors.New("no volume slice matches the reference series")
)

// Options configures one conversion.
type Options struct {
	SegmentationPath string
	ImagePath        string
	ReferenceDir     string
	OutputDir        string

	Convention        geometry.Convention
	ToleranceFraction float64
	Workers           int // Number of parallel workers (0 = runtime.NumCPU())

	Relabel           util.Relabel
	Tags              util.ParsedTags
	SeriesNumber      int
	SeriesDescription string
	RandomUIDs        bool

	// VerifySlices is the number of evenly spread mapped slices whose
	// companion image is compared with the reference pixels.
	VerifySlices int
	// PreviewDir receives PNG overlays of the checked slices when set.
	PreviewDir string

	Log              logrus.FieldLogger
	ProgressCallback func(current, total int) // Optional callback after each written slice
}

// Report summarises a conversion.
type Report struct {
	// Total is the number of volume slices along the through-plane axis.
	Total    int
	Mapped   int
	Unmapped []mapping.UnmappedSlice
	Skipped  []dicom.SkippedFile
	Labels   []nifti.LabelCount

	SeriesUID     string
	BitsAllocated int
	// Files are the written paths in reference order.
	Files []string
	Bytes int64

	Verified int
	// Inconsistent lists volume slices whose image disagrees with the
	// reference pixels.
	Inconsistent []int
	Previews     []string
}

// Summary returns the one-line outcome printed by the CLI.
func (r *Report) Summary() string {
	return fmt.Sprintf("mapped %d/%d slices, wrote %d files (%s)",
		r.Mapped, r.Total, len(r.Files), humanize.Bytes(uint64(r.Bytes)))
}

// Run performs the conversion. The output directory is only created once
// there is something to write into it.
func Run(ctx context.Context, opts Options) (*Report, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	seg, err := nifti.Load(opts.SegmentationPath)
	if err != nil {
		return nil, fmt.Errorf("load segmentation: %w", err)
	}
	img, err := nifti.Load(opts.ImagePath)
	if err != nil {
		return nil, fmt.Errorf("load image: %w", err)
	}
	if !nifti.SameShape(seg, img) {
		return nil, fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, seg.Shape(), img.Shape())
	}
	if !sameAffine(seg.Affine(), img.Affine()) {
		log.WithFields(logrus.Fields{
			"segmentation": seg.Affine().String(),
			"image":        img.Affine().String(),
		}).Warn("image affine differs from segmentation affine, using the segmentation's")
	}

	labels, err := seg.Labels()
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	maxLabel := maxRelabelled(labels, opts.Relabel)
	log.WithFields(logrus.Fields{
		"file":      filepath.Base(seg.Path()),
		"shape":     seg.Shape(),
		"labels":    len(labels),
		"max_label": maxLabel,
	}).Info("loaded segmentation")
	if maxLabel == 0 {
		log.Warn("segmentation holds no foreground label")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	series, err := dicom.LoadSeries(opts.ReferenceDir, log)
	if err != nil {
		return nil, err
	}

	rec, err := mapping.NewReconciler(mapping.Options{
		Convention:        opts.Convention,
		ToleranceFraction: opts.ToleranceFraction,
		Log:               log,
	})
	if err != nil {
		return nil, err
	}
	m, err := rec.Map(seg, series)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Total:    m.Total,
		Mapped:   len(m.Pairs),
		Unmapped: m.Unmapped,
		Skipped:  series.Skipped,
		Labels:   labels,
	}
	if len(m.Pairs) == 0 {
		return report, fmt.Errorf("%w: %d volume slices, %d reference slices, tolerance %.3f mm",
			ErrNoSlicesMapped, m.Total, series.Len(), m.Tolerance)
	}

	if opts.VerifySlices > 0 || opts.PreviewDir != "" {
		if err := check(ctx, opts, log, seg, img, m, report); err != nil {
			return report, err
		}
	}

	uids := util.NewUIDGenerator(seg.Digest() + "/" + series.SeriesUID)
	if opts.RandomUIDs {
		uids = util.NewRandomUIDGenerator()
	}
	report.SeriesUID = uids.UID("series")

	enc, err := dicom.NewEncoder(dicom.EncoderOptions{
		SeriesUID:         report.SeriesUID,
		SeriesNumber:      opts.SeriesNumber,
		SeriesDescription: opts.SeriesDescription,
		Overrides:         opts.Tags,
		Relabel:           opts.Relabel,
		MaxLabel:          maxLabel,
		UIDs:              uids,
	})
	if err != nil {
		return report, err
	}
	report.BitsAllocated = enc.BitsAllocated()
	if len(opts.Tags) > 0 {
		log.WithField("tags", opts.Tags.Strings()).Info("applying tag overrides")
	}

	w := dicom.NewWriter(opts.OutputDir)
	files, err := writeAll(ctx, opts, seg, m, enc, w)
	report.Bytes = w.BytesWritten()
	if err != nil {
		return report, err
	}
	report.Files = files

	log.WithFields(logrus.Fields{
		"files":  len(files),
		"bytes":  humanize.Bytes(uint64(report.Bytes)),
		"series": report.SeriesUID,
		"output": opts.OutputDir,
	}).Info("wrote segmentation series")
	return report, nil
}

// writeAll encodes and writes every pair on a bounded pool of workers.
func writeAll(ctx context.Context, opts Options, seg *nifti.Volume, m *mapping.SliceMapping,
	enc *dicom.Encoder, w *dicom.Writer) ([]string, error) {
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	files := make([]string, len(m.Pairs))
	var (
		mu        sync.Mutex
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for i, p := range m.Pairs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			mask, err := m.Extract(seg, p)
			if err != nil {
				return fmt.Errorf("volume slice %d: %w", p.VolumeIndex, err)
			}
			ds, err := enc.Encode(p.Slice, mask)
			if err != nil {
				return fmt.Errorf("volume slice %d: %w", p.VolumeIndex, err)
			}
			path, err := w.Write(ds)
			if err != nil {
				return err
			}
			files[i] = path

			if opts.ProgressCallback != nil {
				mu.Lock()
				completed++
				opts.ProgressCallback(completed, len(m.Pairs))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func maxRelabelled(labels []nifti.LabelCount, relabel util.Relabel) uint32 {
	var max uint32
	for _, lc := range labels {
		if l := relabel.Apply(lc.Label); l > max {
			max = l
		}
	}
	return max
}

func sameAffine(a, b geometry.Affine) bool {
	const tol = 1e-4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			d := a[r][c] - b[r][c]
			if d > tol || d < -tol {
				return false
			}
		}
	}
	return true
}
