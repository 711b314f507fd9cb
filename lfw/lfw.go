// Package lfw loads the attribute table for the Labeled Faces in the Wild dataset and selects
// example images which are near to a given person in attribute space.
package lfw

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jnb666/dfi/dfi"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	AttributesFile = "lfw_attributes.txt"
	ImageDir       = "lfw-deepfunneled"
)

// Dataset holds the attributes for each image. Values are discretised to -1, 0 or +1.
type Dataset struct {
	Dir      string
	Names    []string
	People   []string
	ImageNum []int
	Values   *mat.Dense
}

var _ dfi.ExampleSource = &Dataset{}

// Load the attribute file from the data directory.
func Load(dir string) (*Dataset, error) {
	file := filepath.Join(dir, AttributesFile)
	f, err := os.Open(file)
	if err != nil {
		return nil, dfi.ConfigurationError{Msg: err.Error()}
	}
	defer f.Close()
	fmt.Println("loading attributes from", file)
	d, err := Parse(f, dir)
	return d, errors.Wrapf(err, "error reading %s", file)
}

// Parse tab separated attribute data. Lines before the header are skipped. The header has person and
// imagenum columns followed by the attribute names and may be prefixed with a # comment marker.
func Parse(r io.Reader, dir string) (*Dataset, error) {
	rd := csv.NewReader(r)
	rd.Comma = '\t'
	rd.FieldsPerRecord = -1
	rd.LazyQuotes = true
	d := &Dataset{Dir: dir}
	var header []string
	var values []float64
	for line := 1; ; line++ {
		rec, err := rd.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header == nil {
			header = parseHeader(rec)
			if header != nil {
				d.Names = header[2:]
			}
			continue
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != len(header) {
			return nil, errors.Errorf("line %d: expecting %d fields, got %d", line, len(header), len(rec))
		}
		num, err := strconv.Atoi(strings.TrimSpace(rec[1]))
		if err != nil {
			return nil, errors.Errorf("line %d: invalid image number %q", line, rec[1])
		}
		d.People = append(d.People, strings.TrimSpace(rec[0]))
		d.ImageNum = append(d.ImageNum, num)
		for i, field := range rec[2:] {
			x, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, errors.Errorf("line %d: invalid value for %s: %q", line, d.Names[i], field)
			}
			values = append(values, sign(x))
		}
	}
	if header == nil {
		return nil, errors.New("header with person and imagenum columns not found")
	}
	if len(d.People) == 0 {
		return nil, dfi.InsufficientDataError{What: "attribute rows", Need: 1}
	}
	d.Values = mat.NewDense(len(d.People), len(d.Names), values)
	return d, nil
}

func parseHeader(rec []string) []string {
	var cols []string
	for i, field := range rec {
		field = strings.TrimSpace(field)
		if i == 0 {
			field = strings.TrimSpace(strings.TrimPrefix(field, "#"))
			if field == "" {
				continue
			}
		}
		cols = append(cols, field)
	}
	if len(cols) < 3 || cols[0] != "person" || cols[1] != "imagenum" {
		return nil
	}
	return cols
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Number of images
func (d *Dataset) Len() int {
	return len(d.People)
}

// Names of the attributes
func (d *Dataset) Attributes() []string {
	return d.Names
}

// Index of the named attribute column
func (d *Dataset) Index(attribute string) (int, error) {
	for i, name := range d.Names {
		if name == attribute {
			return i, nil
		}
	}
	return -1, dfi.ConfigurationError{Msg: fmt.Sprintf("attribute %q not found", attribute)}
}

// Find returns the row for the given person and image number.
func (d *Dataset) Find(person string, imageNum int) (int, error) {
	for i, name := range d.People {
		if name == person && d.ImageNum[i] == imageNum {
			return i, nil
		}
	}
	return -1, dfi.ConfigurationError{Msg: fmt.Sprintf("image %d for %s not found", imageNum, person)}
}

// Path to the image file for the row
func (d *Dataset) Path(row int) string {
	name := strings.ReplaceAll(d.People[row], " ", "_")
	return filepath.Join(d.Dir, ImageDir, name, fmt.Sprintf("%s_%04d.jpg", name, d.ImageNum[row]))
}

// ImageFile returns the path to the image for the given row.
func (d *Dataset) ImageFile(person int) (string, error) {
	if person < 0 || person >= d.Len() {
		return "", dfi.ConfigurationError{Msg: fmt.Sprintf("person index %d out of range 0-%d", person, d.Len()-1)}
	}
	return d.Path(person), nil
}

// Examples returns the image paths for the k nearest neighbours of the person with the attribute
// value +1 and with value -1. The person's own row is excluded.
func (d *Dataset) Examples(attribute string, person, k int) (pos, neg []string, err error) {
	col, err := d.Index(attribute)
	if err != nil {
		return nil, nil, err
	}
	if person < 0 || person >= d.Len() {
		return nil, nil, dfi.ConfigurationError{Msg: fmt.Sprintf("person index %d out of range 0-%d", person, d.Len()-1)}
	}
	var posRows, negRows []int
	for i := 0; i < d.Len(); i++ {
		if i == person {
			continue
		}
		switch d.Values.At(i, col) {
		case 1:
			posRows = append(posRows, i)
		case -1:
			negRows = append(negRows, i)
		}
	}
	if posRows, err = d.Nearest(person, posRows, k); err != nil {
		return nil, nil, errors.Wrapf(err, "%s positive set", attribute)
	}
	if negRows, err = d.Nearest(person, negRows, k); err != nil {
		return nil, nil, errors.Wrapf(err, "%s negative set", attribute)
	}
	return d.paths(posRows), d.paths(negRows), nil
}

func (d *Dataset) paths(rows []int) []string {
	paths := make([]string, len(rows))
	for i, row := range rows {
		paths[i] = d.Path(row)
	}
	return paths
}

// Nearest returns the k rows from the candidates which are closest to the anchor row by Euclidean distance.
// Rows at equal distance are returned in the order of the candidate list.
func (d *Dataset) Nearest(anchor int, candidates []int, k int) ([]int, error) {
	if len(candidates) < k {
		return nil, dfi.InsufficientDataError{What: "nearest neighbour candidates", Have: len(candidates), Need: k}
	}
	x := d.Values.RawRowView(anchor)
	dist := make([]float64, len(candidates))
	for i, row := range candidates {
		dist[i] = floats.Distance(d.Values.RawRowView(row), x, 2)
	}
	ix := make([]int, len(candidates))
	for i := range ix {
		ix[i] = i
	}
	sort.SliceStable(ix, func(i, j int) bool { return dist[ix[i]] < dist[ix[j]] })
	rows := make([]int, k)
	for i := range rows {
		rows[i] = candidates[ix[i]]
	}
	return rows, nil
}

// Distance between the attribute vectors of two rows
func (d *Dataset) Distance(i, j int) float64 {
	var v mat.VecDense
	v.SubVec(d.Values.RowView(i), d.Values.RowView(j))
	return math.Sqrt(mat.Dot(&v, &v))
}
