package img

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func testImage(width, height int) *image.NRGBA {
	src := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			src.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 10), G: uint8(y * 10), B: 100, A: 255})
		}
	}
	return src
}

func TestConvert(t *testing.T) {
	src := testImage(8, 6)
	m := FromImage(src)
	if m.Width != 8 || m.Height != 6 || len(m.Pix) != 8*6*3 {
		t.Fatalf("invalid size %dx%d", m.Width, m.Height)
	}
	// x varies fastest within each channel plane
	if m.Pix[3] != 30 || m.Pix[8] != 0 || m.Pixels(1)[8] != 10 || m.Pixels(2)[0] != 100 {
		t.Errorf("unexpected pixel layout: %v", m.Pix[:10])
	}
	dst := m.NRGBA()
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			if dst.NRGBAAt(x, y) != src.NRGBAAt(x, y) {
				t.Fatalf("pixel %d,%d: got %v expect %v", x, y, dst.NRGBAAt(x, y), src.NRGBAAt(x, y))
			}
		}
	}
	c := m.Clone()
	c.Pix[0] = 1
	if m.Pix[0] == 1 {
		t.Error("clone shares pixel data")
	}
}

func TestClip(t *testing.T) {
	m := NewRGB(2, 1)
	m.Pix = []float32{-20, 300, 10.4, 10.6, 255, 0}
	dst := m.NRGBA()
	expect := []uint8{0, 10, 255, 255, 255, 11, 0, 255}
	for i, v := range expect {
		if dst.Pix[i] != v {
			t.Fatal("got", dst.Pix, "expect", expect)
		}
	}
}

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.png")
	if err := imaging.Save(testImage(20, 16), src); err != nil {
		t.Fatal(err)
	}
	m, err := Load(src, 2, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if m.Width != 16 || m.Height != 12 {
		t.Fatalf("crop: got %dx%d", m.Width, m.Height)
	}
	// crop removes two pixels from each side
	if rgb := m.RGBAt(0, 0); rgb.R != 20 || rgb.G != 20 {
		t.Errorf("crop: top left pixel %+v", rgb)
	}
	m, err = Load(src, 2, 8, 6)
	if err != nil {
		t.Fatal(err)
	}
	if m.Width != 8 || m.Height != 6 {
		t.Fatalf("resize: got %dx%d", m.Width, m.Height)
	}
	if _, err = Load(src, 10, 0, 0); err == nil {
		t.Error("expecting error for border larger than image")
	}
	for _, format := range Formats {
		file := filepath.Join(dir, "out."+format)
		if err := Save(m, file); err != nil {
			t.Fatal(format, err)
		}
		if info, err := os.Stat(file); err != nil || info.Size() == 0 {
			t.Errorf("%s: file not written", format)
		}
		if format == "png" {
			m2, err := Load(file, 0, 0, 0)
			if err != nil {
				t.Fatal(err)
			}
			for i, v := range m2.Pix {
				if diff := v - float32(clamp8(m.Pix[i])); diff != 0 {
					t.Fatalf("png round trip mismatch at %d: %g %g", i, v, m.Pix[i])
				}
			}
		}
	}
	if err := Save(m, filepath.Join(dir, "out.gif")); err == nil {
		t.Error("expecting error for unsupported format")
	}
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for i := 0; i < 3; i++ {
		file := filepath.Join(dir, string(rune('a'+i))+".png")
		if err := imaging.Save(testImage(10+i, 10), file); err != nil {
			t.Fatal(err)
		}
		files = append(files, file)
	}
	images, err := LoadAll(files, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range images {
		if m.Width != 10+i {
			t.Errorf("image %d: width %d", i, m.Width)
		}
	}
	if _, err := LoadAll(append(files, filepath.Join(dir, "missing.png")), 0, 0, 0); err == nil {
		t.Error("expecting error for missing file")
	}
}

func TestHeatmap(t *testing.T) {
	data := []float32{0, 1, 2, 3, 4, 5}
	m := Heatmap(data, 3, 2)
	lo, hi := m.NRGBAAt(0, 0), m.NRGBAAt(2, 1)
	t.Logf("low %v high %v", lo, hi)
	if lo.B < lo.R || hi.R < hi.B {
		t.Errorf("expecting blue for low values and red for high values: %v %v", lo, hi)
	}
	flat := Heatmap(make([]float32, 4), 2, 2)
	if flat.NRGBAAt(0, 0) != flat.NRGBAAt(1, 1) {
		t.Error("flat input should give uniform colour")
	}
	act := Activations([]float32{1, 2, 3, 4, 3, 2, 1, 0}, 2, 2, 2)
	if act.NRGBAAt(0, 0) != act.NRGBAAt(1, 1) {
		t.Error("channel mean should be uniform")
	}
}
