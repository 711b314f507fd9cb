package dfi

import (
	"encoding/csv"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/stats"
	"github.com/pkg/errors"
)

// MetricsSink receives the diagnostics generated at each checkpoint.
type MetricsSink interface {
	Scalar(step int, name string, value float64)
	Image(step int, name string, m image.Image)
	Close() error
}

// MultiSink sends each metric to all of the sinks in the list.
type MultiSink []MetricsSink

func (s MultiSink) Scalar(step int, name string, value float64) {
	for _, sink := range s {
		sink.Scalar(step, name, value)
	}
}

func (s MultiSink) Image(step int, name string, m image.Image) {
	for _, sink := range s {
		sink.Image(step, name, m)
	}
}

func (s MultiSink) Close() error {
	var err error
	for _, sink := range s {
		if e := sink.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Name of metrics file written to the output directory
const MetricsFile = "metrics.tsv"

// Metrics included in the loss plot
var PlotMetrics = []string{"loss", "diff_loss", "tv_loss"}

// LogSink appends scalar metrics to a tab separated file and saves images to the output directory
// as <name>_<step>.<format>. The loss history is plotted to loss.svg on Close.
type LogSink struct {
	Dir    string
	Format string
	series *stats.Series
	file   *os.File
	out    *csv.Writer
	err    error
}

// NewLogSink creates the output directory if needed and opens the metrics file for appending.
func NewLogSink(dir, format string) (*LogSink, error) {
	if !img.ValidFormat(format) {
		return nil, configErrorf("unsupported snapshot format %q", format)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "error creating output directory")
	}
	file := filepath.Join(dir, MetricsFile)
	_, statErr := os.Stat(file)
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "error opening metrics file")
	}
	s := &LogSink{Dir: dir, Format: format, series: stats.NewSeries(), file: f, out: csv.NewWriter(f)}
	s.out.Comma = '\t'
	if os.IsNotExist(statErr) {
		s.out.Write([]string{"step", "name", "value"})
	}
	return s, nil
}

// Series with the recorded history of each metric
func (s *LogSink) Series() *stats.Series {
	return s.series
}

func (s *LogSink) Scalar(step int, name string, value float64) {
	s.series.Add(step, name, value)
	s.out.Write([]string{strconv.Itoa(step), name, strconv.FormatFloat(value, 'g', -1, 64)})
}

func (s *LogSink) Image(step int, name string, m image.Image) {
	s.out.Flush()
	file := filepath.Join(s.Dir, fmt.Sprintf("%s_%d.%s", name, step, s.Format))
	if err := img.Save(m, file); err != nil {
		log.Println(err)
		if s.err == nil {
			s.err = errors.Wrapf(err, "error saving snapshot %s", file)
		}
	}
}

// Close flushes the metrics file and saves the loss plot.
// The first error from writing a snapshot image is returned.
func (s *LogSink) Close() error {
	s.out.Flush()
	err := s.out.Error()
	if e := s.file.Close(); err == nil {
		err = e
	}
	if err != nil {
		return errors.Wrap(err, "error writing metrics")
	}
	if len(s.series.Names()) > 0 {
		p := s.series.Plot("loss", PlotMetrics...)
		if err := stats.SavePlot(p, 800, 500, filepath.Join(s.Dir, "loss.svg")); err != nil {
			return err
		}
	}
	return s.err
}
