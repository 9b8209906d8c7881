package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// DefaultColormap is used when Options names none.
const DefaultColormap = "viridis"

// MaxScale bounds the per-cell pixel magnification.
const MaxScale = 64

// State colors.
var (
	Background = color.RGBA{R: 220, G: 220, B: 220, A: 255}
	Burning    = color.RGBA{R: 200, G: 30, B: 30, A: 255}
)

// Options controls belief rendering.
type Options struct {
	Colormap string
	VMin     float64
	VMax     float64

	// Scale is the pixel edge of one cell. 0 means 1.
	Scale int
}

// DefaultOptions returns viridis over [0, 1] at one pixel per cell.
func DefaultOptions() Options {
	return Options{Colormap: DefaultColormap, VMin: 0, VMax: 1, Scale: 1}
}

func (o Options) validate() (Colormap, int, error) {
	cm, err := Lookup(o.Colormap)
	if err != nil {
		return Colormap{}, 0, engine.NewInvalidInputError(err.Error(), nil).WithDetail("colormap", o.Colormap)
	}
	if math.IsNaN(o.VMin) || math.IsNaN(o.VMax) || !(o.VMax > o.VMin) {
		return Colormap{}, 0, engine.NewInvalidInputError(
			fmt.Sprintf("vmax must be greater than vmin, got [%v, %v]", o.VMin, o.VMax), nil)
	}
	scale := o.Scale
	if scale == 0 {
		scale = 1
	}
	if scale < 1 || scale > MaxScale {
		return Colormap{}, 0, engine.NewInvalidInputError(fmt.Sprintf("scale must be in [1, %d], got %d", MaxScale, o.Scale), nil)
	}
	return cm, scale, nil
}

// StatePNG draws burning cells red on a light gray background.
func StatePNG(g fields.Grid[uint8], scale int) ([]byte, error) {
	if scale == 0 {
		scale = 1
	}
	if scale < 1 || scale > MaxScale {
		return nil, engine.NewInvalidInputError(fmt.Sprintf("scale must be in [1, %d], got %d", MaxScale, scale), nil)
	}
	if err := checkGrid(g.Height, g.Width, len(g.Data)); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, g.Width*scale, g.Height*scale))
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			col := Background
			if g.At(r, c) != 0 {
				col = Burning
			}
			fill(img, r, c, scale, col)
		}
	}
	return encode(img)
}

// BeliefPNG maps each probability through the colormap after normalizing to [VMin, VMax].
func BeliefPNG(g fields.Grid[float32], opts Options) ([]byte, error) {
	cm, scale, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if err := checkGrid(g.Height, g.Width, len(g.Data)); err != nil {
		return nil, err
	}

	span := opts.VMax - opts.VMin
	img := image.NewRGBA(image.Rect(0, 0, g.Width*scale, g.Height*scale))
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			v := (float64(g.At(r, c)) - opts.VMin) / span
			fill(img, r, c, scale, cm.At(v))
		}
	}
	return encode(img)
}

// Legend dimensions.
const (
	LegendWidth  = 256
	LegendHeight = 16
)

// LegendPNG draws a horizontal colorbar running from VMin on the left to VMax on the right.
func LegendPNG(opts Options) ([]byte, error) {
	cm, _, err := opts.validate()
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, LegendWidth, LegendHeight))
	for x := 0; x < LegendWidth; x++ {
		col := cm.At(float64(x) / float64(LegendWidth-1))
		for y := 0; y < LegendHeight; y++ {
			img.SetRGBA(x, y, col)
		}
	}
	return encode(img)
}

func checkGrid(height, width, n int) error {
	if height <= 0 || width <= 0 {
		return engine.NewInvalidInputError(fmt.Sprintf("grid dimensions must be positive, got %dx%d", height, width), nil)
	}
	if n != height*width {
		return engine.NewShapeMismatchError(fmt.Sprintf("grid data has %d cells, want %d", n, height*width), nil)
	}
	return nil
}

func fill(img *image.RGBA, row, col, scale int, c color.RGBA) {
	for dy := 0; dy < scale; dy++ {
		for dx := 0; dx < scale; dx++ {
			img.SetRGBA(col*scale+dx, row*scale+dy, c)
		}
	}
}

func encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
