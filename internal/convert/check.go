package convert

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/mrsinham/nii2dcm/internal/dicom"
	"github.com/mrsinham/nii2dcm/internal/mapping"
	"github.com/mrsinham/nii2dcm/internal/nifti"
	"github.com/mrsinham/nii2dcm/internal/preview"
	"github.com/sirupsen/logrus"
)

// DefaultPreviewSlices is the number of previews rendered when only a preview
// directory is configured.
const DefaultPreviewSlices = 3

// offsetTolerance bounds the spread of image-minus-reference differences on a
// consistent slice.
const offsetTolerance = 1e-3

// check compares the companion image with the reference pixels on a spread of
// mapped slices and renders previews of the same slices.
func check(ctx context.Context, opts Options, log logrus.FieldLogger, seg, img *nifti.Volume,
	m *mapping.SliceMapping, report *Report) error {
	n := opts.VerifySlices
	if n <= 0 {
		n = DefaultPreviewSlices
	}

	for _, p := range spread(m.Pairs, n) {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := logrus.Fields{"slice": p.VolumeIndex, "reference": p.Slice.Path}

		l, err := m.Layout(seg, p)
		if err != nil {
			return fmt.Errorf("volume slice %d: %w", p.VolumeIndex, err)
		}
		ref, err := dicom.ReadImage(p.Slice.Path)
		if err != nil {
			log.WithFields(fields).WithError(err).Warn("cannot read reference pixels, slice not checked")
			continue
		}

		if opts.VerifySlices > 0 {
			report.Verified++
			offset, err := consistentOffset(mapping.ExtractValues(img, l), ref)
			if err != nil {
				report.Inconsistent = append(report.Inconsistent, p.VolumeIndex)
				log.WithFields(fields).Warn("image slice is inconsistent with its reference: " + err.Error())
			} else {
				log.WithFields(fields).WithField("offset", offset).Debug("image slice consistent with reference")
			}
		}

		if opts.PreviewDir != "" {
			mask, _, err := mapping.ExtractMask(seg, l)
			if err != nil {
				return fmt.Errorf("volume slice %d: %w", p.VolumeIndex, err)
			}
			caption := fmt.Sprintf("slice %d / ref %d", p.VolumeIndex, p.Slice.Order+1)
			rendered, err := preview.Render(ref, mask, caption)
			if err != nil {
				log.WithFields(fields).WithError(err).Warn("cannot render preview")
				continue
			}
			path := filepath.Join(opts.PreviewDir, fmt.Sprintf("slice-%04d.png", p.VolumeIndex))
			if err := preview.WritePNG(path, rendered); err != nil {
				return fmt.Errorf("write preview: %w", err)
			}
			report.Previews = append(report.Previews, path)
		}
	}

	if opts.VerifySlices > 0 {
		log.WithFields(logrus.Fields{
			"verified":     report.Verified,
			"inconsistent": len(report.Inconsistent),
		}).Info("checked image consistency")
	}
	return nil
}

// spread picks n pairs evenly from pairs, keeping their order.
func spread(pairs []mapping.Pair, n int) []mapping.Pair {
	if n >= len(pairs) {
		return pairs
	}
	if n == 1 {
		return []mapping.Pair{pairs[len(pairs)/2]}
	}
	out := make([]mapping.Pair, 0, n)
	last := -1
	for i := 0; i < n; i++ {
		idx := int(math.Round(float64(i) * float64(len(pairs)-1) / float64(n-1)))
		if idx == last {
			continue
		}
		out = append(out, pairs[idx])
		last = idx
	}
	return out
}

// consistentOffset returns the constant difference between the image values
// and the reference pixels. Values outside the volume (NaN) are ignored.
func consistentOffset(values []float64, ref dicom.Image) (float64, error) {
	if len(values) != len(ref.Pixels) {
		return 0, fmt.Errorf("image slice has %d pixels, reference %d", len(values), len(ref.Pixels))
	}
	var (
		offset float64
		seen   bool
	)
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - ref.Pixels[i]
		if !seen {
			offset, seen = d, true
			continue
		}
		if math.Abs(d-offset) > offsetTolerance {
			return 0, fmt.Errorf("difference varies from %g to %g", offset, d)
		}
	}
	if !seen {
		return 0, fmt.Errorf("slice lies outside the image volume")
	}
	return offset, nil
}
