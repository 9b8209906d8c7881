package render

import (
	"fmt"
	"image/color"
	"math"
	"sort"
)

// Colormap maps a normalized value in [0, 1] to a color.
type Colormap struct {
	name  string
	stops []color.RGBA
}

// Name returns the colormap name.
func (m Colormap) Name() string { return m.name }

// At interpolates linearly between the stops. NaN maps to transparent.
func (m Colormap) At(v float64) color.RGBA {
	if math.IsNaN(v) {
		return color.RGBA{}
	}
	v = clamp01(v)
	pos := v * float64(len(m.stops)-1)
	i := int(pos)
	if i >= len(m.stops)-1 {
		return m.stops[len(m.stops)-1]
	}
	f := pos - float64(i)
	a, b := m.stops[i], m.stops[i+1]
	return color.RGBA{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
		A: 255,
	}
}

// Sampled at nine evenly spaced points of the matplotlib maps.
var colormaps = map[string]Colormap{
	"viridis": {name: "viridis", stops: []color.RGBA{
		{68, 1, 84, 255}, {71, 44, 122, 255}, {59, 81, 139, 255},
		{44, 113, 142, 255}, {33, 144, 141, 255}, {39, 173, 129, 255},
		{92, 200, 99, 255}, {170, 220, 50, 255}, {253, 231, 37, 255},
	}},
	"inferno": {name: "inferno", stops: []color.RGBA{
		{0, 0, 4, 255}, {31, 12, 72, 255}, {85, 15, 109, 255},
		{136, 34, 106, 255}, {186, 54, 85, 255}, {227, 89, 51, 255},
		{249, 140, 10, 255}, {249, 201, 50, 255}, {252, 255, 164, 255},
	}},
	"gray": {name: "gray", stops: []color.RGBA{
		{0, 0, 0, 255}, {255, 255, 255, 255},
	}},
}

// Lookup returns the named colormap.
func Lookup(name string) (Colormap, error) {
	if name == "" {
		name = DefaultColormap
	}
	m, ok := colormaps[name]
	if !ok {
		return Colormap{}, fmt.Errorf("unknown colormap %q (available: %v)", name, Colormaps())
	}
	return m, nil
}

// Colormaps lists the available colormap names.
func Colormaps() []string {
	names := make([]string, 0, len(colormaps))
	for name := range colormaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
