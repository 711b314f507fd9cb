package img

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Quality setting used for jpeg and lossy webp output
var Quality = 90

// Supported output formats
var Formats = []string{"png", "jpg", "webp"}

// Load image from file, remove border pixels from each side and resize to width x height.
// If width or height is zero then the image is not resized.
func Load(file string, border, width, height int) (*RGBImage, error) {
	src, err := imaging.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "error loading image %s", file)
	}
	if border > 0 {
		b := src.Bounds()
		rect := image.Rect(b.Min.X+border, b.Min.Y+border, b.Max.X-border, b.Max.Y-border)
		if rect.Empty() {
			return nil, errors.Errorf("image %s: size %dx%d too small for border %d", file, b.Dx(), b.Dy(), border)
		}
		src = imaging.Crop(src, rect)
	}
	if b := src.Bounds(); width > 0 && height > 0 && (b.Dx() != width || b.Dy() != height) {
		src = imaging.Resize(src, width, height, imaging.Lanczos)
	}
	return FromImage(src), nil
}

// Load a list of images in parallel, the results are returned in the same order as the files.
func LoadAll(files []string, border, width, height int) ([]*RGBImage, error) {
	images := make([]*RGBImage, len(files))
	errs := make([]error, len(files))
	done := make(chan bool)
	for i := range files {
		go func(i int) {
			images[i], errs[i] = Load(files[i], border, width, height)
			done <- true
		}(i)
	}
	for range files {
		<-done
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return images, nil
}

// Save image to file, the format is determined from the file extension.
func Save(m image.Image, file string) error {
	if rgb, ok := m.(*RGBImage); ok {
		m = rgb.NRGBA()
	}
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(file), ".")) {
	case "webp":
		f, err := os.Create(file)
		if err != nil {
			return err
		}
		defer f.Close()
		return webp.Encode(f, m, &webp.Options{Quality: float32(Quality)})
	case "png":
		return imaging.Save(m, file)
	case "jpg", "jpeg":
		return imaging.Save(m, file, imaging.JPEGQuality(Quality))
	default:
		return errors.Errorf("save %s: unsupported image format", file)
	}
}

// Check if format is one of the supported output formats
func ValidFormat(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}
