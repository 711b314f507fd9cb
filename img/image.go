// Package img contains routines for loading, converting and saving float32 RGB images.
package img

import (
	"image"
	"image/color"
	"image/draw"
)

// Maximum channel value, pixels are stored unscaled in the range 0-255
const MaxValue = 255

var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel with values in range 0-255
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R), clampu(c.G), clampu(c.B), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0x101, G: float32(g) / 0x101, B: float32(b) / 0x101}
}

// RGBImage type stores the image data as float32 values with r, g and b color planes stored separately.
// Within each plane pixels are stored in row order with x varying fastest, i.e. an array with dims [width, height, 3].
type RGBImage struct {
	Pix    []float32
	Width  int
	Height int
}

var _ draw.Image = &RGBImage{}

func NewRGB(width, height int) *RGBImage {
	return &RGBImage{Pix: make([]float32, height*width*3), Width: width, Height: height}
}

// Convert from any image type
func FromImage(src image.Image) *RGBImage {
	b := src.Bounds()
	m := NewRGB(b.Dx(), b.Dy())
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			m.Set(x, y, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return m
}

// Copy of the image with its own pixel data
func (m *RGBImage) Clone() *RGBImage {
	return &RGBImage{Pix: append([]float32{}, m.Pix...), Width: m.Width, Height: m.Height}
}

// Shape of the image as width, height, channels
func (m *RGBImage) Shape() []int {
	return []int{m.Width, m.Height, 3}
}

func (m *RGBImage) ColorModel() color.Model {
	return RGBModel
}

func (m *RGBImage) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *RGBImage) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	i, plane := x+y*m.Width, m.Width*m.Height
	return RGB{R: m.Pix[i], G: m.Pix[i+plane], B: m.Pix[i+2*plane]}
}

func (m *RGBImage) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func (m *RGBImage) Set(x, y int, c color.Color) {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return
	}
	rgb := rgbModel(c).(RGB)
	i, plane := x+y*m.Width, m.Width*m.Height
	m.Pix[i] = rgb.R
	m.Pix[i+plane] = rgb.G
	m.Pix[i+2*plane] = rgb.B
}

// Pixel data for one channel, or all of the data if ch is out of range
func (m *RGBImage) Pixels(ch int) []float32 {
	if ch >= 0 && ch <= 2 {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

// Convert to 8 bit per channel image, out of range values are clipped
func (m *RGBImage) NRGBA() *image.NRGBA {
	dst := image.NewNRGBA(m.Bounds())
	plane := m.Width * m.Height
	for i := 0; i < plane; i++ {
		dst.Pix[4*i] = clamp8(m.Pix[i])
		dst.Pix[4*i+1] = clamp8(m.Pix[i+plane])
		dst.Pix[4*i+2] = clamp8(m.Pix[i+2*plane])
		dst.Pix[4*i+3] = 0xff
	}
	return dst
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func clampu(x float32) uint32 {
	return uint32(clamp(x, 0, MaxValue)*0x101 + 0.5)
}

func clamp8(x float32) uint8 {
	return uint8(clamp(x, 0, MaxValue) + 0.5)
}
