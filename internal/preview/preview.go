// Package preview renders quality-control overlays of a segmentation slice on
// top of its reference image.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/mrsinham/nii2dcm/internal/dicom"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MinWidth is the smallest rendered width; smaller slices are upscaled.
const MinWidth = 256

// overlayAlpha is the weight of the label colour, out of 255.
const overlayAlpha = 128

// Palette colours labels 1..len(Palette), then wraps.
var Palette = []color.RGBA{
	{230, 25, 75, 255},
	{60, 180, 75, 255},
	{255, 225, 25, 255},
	{0, 130, 200, 255},
	{245, 130, 48, 255},
	{145, 30, 180, 255},
	{70, 240, 240, 255},
	{240, 50, 230, 255},
}

// LabelColor returns the overlay colour of a non-zero label.
func LabelColor(label uint32) color.RGBA {
	return Palette[(label-1)%uint32(len(Palette))]
}

// Render window-levels ref to 8-bit grey, blends the mask labels over it and
// writes caption in the top-left corner. Images narrower than MinWidth are
// upscaled with nearest-neighbour so every pixel stays a visible block.
func Render(ref dicom.Image, mask dicom.Mask, caption string) (*image.RGBA, error) {
	if ref.Rows != mask.Rows || ref.Cols != mask.Cols {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mask.Rows, mask.Cols, ref.Rows, ref.Cols)
	}
	if ref.Rows == 0 || ref.Cols == 0 {
		return nil, fmt.Errorf("empty image")
	}

	center, width := autoWindow(ref.Pixels)
	base := image.NewRGBA(image.Rect(0, 0, ref.Cols, ref.Rows))
	for y := 0; y < ref.Rows; y++ {
		for x := 0; x < ref.Cols; x++ {
			g := uint8(255 * windowLevel(ref.At(y, x), center, width))
			c := color.RGBA{g, g, g, 255}
			if label := mask.Labels[y*mask.Cols+x]; label != 0 {
				c = blend(c, LabelColor(label))
			}
			base.SetRGBA(x, y, c)
		}
	}

	out := base
	if ref.Cols < MinWidth {
		scale := (MinWidth + ref.Cols - 1) / ref.Cols
		out = image.NewRGBA(image.Rect(0, 0, ref.Cols*scale, ref.Rows*scale))
		draw.NearestNeighbor.Scale(out, out.Bounds(), base, base.Bounds(), draw.Src, nil)
	}

	if caption != "" {
		drawCaption(out, caption)
	}
	return out, nil
}

// WritePNG encodes img to path, creating the parent directory.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create preview directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

// autoWindow spans the full pixel range.
func autoWindow(pixels []float64) (center, width float64) {
	lo, hi := pixels[0], pixels[0]
	for _, p := range pixels[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	width = hi - lo + 1
	if width < 2 {
		width = 2
	}
	return (lo + hi) / 2, width
}

// windowLevel maps x to [0, 1] with the linear VOI function of PS3.3 C.11.2.1.2.
func windowLevel(x, center, width float64) float64 {
	switch {
	case x <= center-0.5-(width-1)/2:
		return 0
	case x > center-0.5+(width-1)/2:
		return 1
	default:
		return (x-(center-0.5))/(width-1) + 0.5
	}
}

func blend(base, over color.RGBA) color.RGBA {
	mix := func(a, b uint8) uint8 {
		return uint8((int(a)*(255-overlayAlpha) + int(b)*overlayAlpha) / 255)
	}
	return color.RGBA{mix(base.R, over.R), mix(base.G, over.G), mix(base.B, over.B), 255}
}

// drawCaption renders text at the 7x13 base size, scales it up and stamps it
// with a black outline so it reads on any background.
func drawCaption(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := 13

	textImg := image.NewRGBA(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	bounds := img.Bounds()
	scale := 2
	for scale > 1 && baseWidth*scale > bounds.Dx()-4 {
		scale--
	}
	scaled := image.NewRGBA(image.Rect(0, 0, baseWidth*scale, baseHeight*scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Over, nil)

	const margin, outline = 2, 1
	black := color.RGBA{0, 0, 0, 255}
	for sy := 0; sy < scaled.Bounds().Dy(); sy++ {
		for sx := 0; sx < scaled.Bounds().Dx(); sx++ {
			if scaled.RGBAAt(sx, sy).A == 0 {
				continue
			}
			for dy := -outline; dy <= outline; dy++ {
				for dx := -outline; dx <= outline; dx++ {
					p := image.Pt(margin+sx+dx, margin+sy+dy)
					if p.In(bounds) && scaled.RGBAAt(sx+dx, sy+dy).A == 0 {
						img.SetRGBA(p.X, p.Y, black)
					}
				}
			}
		}
	}
	for sy := 0; sy < scaled.Bounds().Dy(); sy++ {
		for sx := 0; sx < scaled.Bounds().Dx(); sx++ {
			if c := scaled.RGBAAt(sx, sy); c.A > 0 {
				if p := image.Pt(margin+sx, margin+sy); p.In(bounds) {
					img.SetRGBA(p.X, p.Y, color.RGBA{c.A, c.A, c.A, 255})
				}
			}
		}
	}
}
