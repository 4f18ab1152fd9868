// Package preview renders one slice of a side-by-side modality tensor as a
// labelled grayscale PNG.
package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"gonum.org/v1/gonum/floats"

	"github.com/mrsinham/mriprep/internal/tensor"
)

// Options controls rendering.
type Options struct {
	// Slice is the index along the first axis.
	Slice int
	// Scale is the integer upscaling factor; values below 1 mean 1.
	Scale int
	// Panels is the number of side-by-side images in the tensor width, each
	// scaled to [0, 255] on its own. Zero means one panel per label.
	Panels int
	// Labels names the panels from left to right.
	Labels []string
}

// DefaultLabels names the three channels of a whole tensor.
var DefaultLabels = []string{"T2W", "ADC", "DWI"}

// Render draws slice opts.Slice of a (slices, rows, width) tensor.
func Render(a tensor.Array, opts Options) (*image.Gray, error) {
	if len(a.Shape) != 3 {
		return nil, fmt.Errorf("expected a 3D tensor, got shape %v", a.Shape)
	}
	slices, rows, width := a.Shape[0], a.Shape[1], a.Shape[2]
	if opts.Slice < 0 || opts.Slice >= slices {
		return nil, fmt.Errorf("slice %d out of range [0, %d)", opts.Slice, slices)
	}
	panels := opts.Panels
	if panels <= 0 {
		panels = max(1, len(opts.Labels))
	}
	if width%panels != 0 {
		return nil, fmt.Errorf("width %d is not divisible into %d panels", width, panels)
	}
	panelWidth := width / panels

	base := image.NewGray(image.Rect(0, 0, width, rows))
	data := a.Data[opts.Slice*rows*width : (opts.Slice+1)*rows*width]
	for p := 0; p < panels; p++ {
		panel := make([]float64, 0, rows*panelWidth)
		for r := 0; r < rows; r++ {
			for c := 0; c < panelWidth; c++ {
				panel = append(panel, float64(data[r*width+p*panelWidth+c]))
			}
		}
		lo, hi := floats.Min(panel), floats.Max(panel)
		for r := 0; r < rows; r++ {
			for c := 0; c < panelWidth; c++ {
				v := (panel[r*panelWidth+c] - lo) / (hi - lo + 1e-9)
				base.SetGray(p*panelWidth+c, r, color.Gray{Y: uint8(v * 255)})
			}
		}
	}

	scale := max(1, opts.Scale)
	img := image.NewGray(image.Rect(0, 0, width*scale, rows*scale))
	draw.NearestNeighbor.Scale(img, img.Bounds(), base, base.Bounds(), draw.Src, nil)

	for p, label := range opts.Labels {
		if p >= panels {
			break
		}
		drawLabel(img, image.Pt(p*panelWidth*scale, 0), panelWidth*scale, label)
	}
	return img, nil
}

// drawLabel writes text in white with a black outline at the top left of a
// panel, sized to a fifth of the panel width.
func drawLabel(img *image.Gray, origin image.Point, panelWidth int, text string) {
	face := basicfont.Face7x13
	baseTextWidth := font.MeasureString(face, text).Ceil()
	baseTextHeight := 13
	if baseTextWidth == 0 {
		return
	}

	textImg := image.NewAlpha(image.Rect(0, 0, baseTextWidth, baseTextHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.Opaque,
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(11)},
	}
	drawer.DrawString(text)

	scaleFactor := max(1, panelWidth/5/baseTextWidth)
	scaled := image.NewAlpha(image.Rect(0, 0, baseTextWidth*scaleFactor, baseTextHeight*scaleFactor))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Src, nil)

	margin := max(2, scaleFactor*2)
	at := origin.Add(image.Pt(margin, margin))
	outline := max(1, scaleFactor/2)
	black := image.NewUniform(color.Gray{Y: 0})
	white := image.NewUniform(color.Gray{Y: 255})
	for dx := -outline; dx <= outline; dx++ {
		for dy := -outline; dy <= outline; dy++ {
			r := scaled.Bounds().Add(at.Add(image.Pt(dx, dy)))
			draw.DrawMask(img, r, black, image.Point{}, scaled, image.Point{}, draw.Over)
		}
	}
	draw.DrawMask(img, scaled.Bounds().Add(at), white, image.Point{}, scaled, image.Point{}, draw.Over)
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
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
