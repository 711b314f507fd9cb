package stats

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// History is a series of values for one metric indexed by step number
type History struct {
	Name   string
	Steps  []int
	Values []float64
	Smooth []float64
	ema    EMA
}

// Number of points used for the moving average in Smooth
var SmoothPoints = 10.0

func (h *History) Add(step int, val float64) {
	h.Steps = append(h.Steps, step)
	h.Values = append(h.Values, val)
	h.ema = EMA(h.ema.Add(val, SmoothPoints))
	h.Smooth = append(h.Smooth, float64(h.ema))
}

// Most recent entry, ok is false if the history is empty
func (h *History) Last() (step int, val float64, ok bool) {
	if len(h.Steps) == 0 {
		return 0, 0, false
	}
	return h.Steps[len(h.Steps)-1], h.Values[len(h.Values)-1], true
}

// Series is a set of metric histories which is safe for concurrent use
type Series struct {
	sync.Mutex
	hist map[string]*History
}

func NewSeries() *Series {
	return &Series{hist: make(map[string]*History)}
}

// Add value to the named history
func (s *Series) Add(step int, name string, val float64) {
	s.Lock()
	defer s.Unlock()
	h, ok := s.hist[name]
	if !ok {
		h = &History{Name: name}
		s.hist[name] = h
	}
	h.Add(step, val)
}

// Names of the recorded metrics in sorted order
func (s *Series) Names() []string {
	s.Lock()
	defer s.Unlock()
	names := make([]string, 0, len(s.hist))
	for name := range s.hist {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Copy of the named history, or nil if not found
func (s *Series) Get(name string) *History {
	s.Lock()
	defer s.Unlock()
	h, ok := s.hist[name]
	if !ok {
		return nil
	}
	return &History{
		Name:   h.Name,
		Steps:  append([]int{}, h.Steps...),
		Values: append([]float64{}, h.Values...),
		Smooth: append([]float64{}, h.Smooth...),
	}
}

// Plot creates a line plot with the given metrics versus the step number
func (s *Series) Plot(title string, names ...string) *plot.Plot {
	p := newPlot()
	p.Title.Text = title
	p.X.Label.Text = "step"
	for i, name := range names {
		h := s.Get(name)
		if h == nil || len(h.Steps) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(h.Steps))
		for j := range pts {
			pts[j].X, pts[j].Y = float64(h.Steps[j]), h.Values[j]
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			continue
		}
		l.Width = 2
		l.Color = plotutil.Color(i)
		p.Add(l)
		p.Legend.Add(name, l)
	}
	return p
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = 10
	p.Y.Tick.Label.Font.Size = 10
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = 12
	p.Add(plotter.NewGrid())
	return p
}

// Pixels per inch used to convert plot sizes to points
const dpi = 96

func plotSize(pixels int) vg.Length {
	return vg.Length(pixels) * vg.Inch / dpi
}

// Render plot in svg format with size given in pixels
func WritePlot(p *plot.Plot, w, h int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := p.WriterTo(plotSize(w), plotSize(h), "svg")
	if err != nil {
		return nil, errors.Wrap(err, "error writing plot")
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		return nil, errors.Wrap(err, "error writing plot")
	}
	return buf.Bytes(), nil
}

// Save plot to file, format is taken from the file extension
func SavePlot(p *plot.Plot, w, h int, file string) error {
	err := p.Save(plotSize(w), plotSize(h), file)
	return errors.Wrapf(err, "error saving plot to %s", file)
}
