package img

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// Colour ramp used for heat maps from low to high values
var HeatColors = []colorful.Color{
	{R: 0, G: 0, B: 0.5},
	{R: 0, G: 0.5, B: 1},
	{R: 0.2, G: 0.9, B: 0.4},
	{R: 1, G: 0.9, B: 0},
	{R: 0.8, G: 0, B: 0},
}

// Heatmap renders a width x height plane of values as a colour image scaled from the minimum to the maximum value.
func Heatmap(data []float32, width, height int) *image.NRGBA {
	lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
	for _, v := range data[:width*height] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	scale := float32(0)
	if hi > lo {
		scale = 1 / (hi - lo)
	}
	m := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			c := rampColor(float64((data[x+y*width] - lo) * scale))
			r, g, b := c.Clamped().RGB255()
			m.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 0xff})
		}
	}
	return m
}

// Activations renders the mean over channels of a feature map with dims [width, height, channels] as a heat map.
func Activations(data []float32, width, height, channels int) *image.NRGBA {
	plane := width * height
	mean := make([]float32, plane)
	for c := 0; c < channels; c++ {
		for i, v := range data[c*plane : (c+1)*plane] {
			mean[i] += v / float32(channels)
		}
	}
	return Heatmap(mean, width, height)
}

// interpolate in Lab space between the ramp colours, t is in range 0-1
func rampColor(t float64) colorful.Color {
	n := len(HeatColors) - 1
	pos := t * float64(n)
	i := int(pos)
	if i >= n {
		return HeatColors[n]
	}
	return HeatColors[i].BlendLab(HeatColors[i+1], pos-float64(i))
}
