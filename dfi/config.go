// Package dfi implements deep feature interpolation: an image is edited by optimizing its pixels so
// that its deep features move along an attribute direction estimated from example images.
package dfi

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/jnb666/dfi/img"
	"github.com/pkg/errors"
)

// Run configuration settings
type Config struct {
	Attribute     string
	Person        int
	K             int
	Alpha         float64
	Lambda        float64
	Beta          float64
	NumLayers     int
	FeatureLayers []string
	Optimizer     string
	Eta           float64
	Eps           float64
	Momentum      float64
	Steps         int
	Clamp         bool
	Width         int
	Height        int
	Border        int
	BatchSize     int
	DataDir       string
	ModelPath     string
	NetConfig     string
	CachePath     string
	CacheKeyed    bool
	RebuildCache  bool
	OutDir        string
	Format        string
	Activations   bool
	UseAccel      bool
	Threads       int
	DebugLevel    int
	Profile       bool
	Monitor       string
	MonitorUser   string
	MonitorPass   string
}

// Default settings
func Default() Config {
	return Config{
		Attribute:     "No Beard",
		K:             10,
		Alpha:         0.4,
		Lambda:        0.001,
		Beta:          2,
		NumLayers:     3,
		FeatureLayers: []string{"conv3_1", "conv4_1", "conv5_1"},
		Optimizer:     "adam",
		Eta:           1,
		Eps:           1e-8,
		Momentum:      0.9,
		Steps:         1000,
		Width:         224,
		Height:        224,
		Border:        13,
		BatchSize:     4,
		DataDir:       "data",
		ModelPath:     "model/vgg19.npz",
		CachePath:     "cache",
		CacheKeyed:    true,
		OutDir:        "out",
		Format:        "png",
		UseAccel:      true,
	}
}

// Load config from json file. Settings which are not in the file keep their default values.
func LoadConfig(file string) (Config, error) {
	c := Default()
	f, err := os.Open(file)
	if err != nil {
		return c, configErrorf("%v", err)
	}
	defer f.Close()
	fmt.Println("loading config from", file)
	dec := json.NewDecoder(f)
	if err = dec.Decode(&c); err != nil {
		return c, errors.Wrapf(ConfigurationError{Msg: err.Error()}, "error decoding %s", file)
	}
	return c, nil
}

// Save config to JSON file. Data is written to a temporary file which is renamed on completion.
func (c Config) Save(file string) error {
	tmpFile := filepath.Join(filepath.Dir(file), "."+filepath.Base(file))
	f, err := os.Create(tmpFile)
	if err != nil {
		return errors.Wrap(err, "error saving config")
	}
	fmt.Println("saving config to", file)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return errors.Wrap(err, "error saving config")
	}
	f.Close()
	return os.Rename(tmpFile, file)
}

// Validate checks the settings before any work is started.
func (c Config) Validate() error {
	switch {
	case c.K < 1:
		return configErrorf("K must be at least 1, got %d", c.K)
	case c.NumLayers < 1 || c.NumLayers > len(c.FeatureLayers):
		return configErrorf("NumLayers must be in range 1-%d, got %d", len(c.FeatureLayers), c.NumLayers)
	case c.Steps < 0:
		return configErrorf("Steps must not be negative, got %d", c.Steps)
	case c.Lambda < 0:
		return configErrorf("Lambda must not be negative, got %g", c.Lambda)
	case c.Beta <= 0:
		return configErrorf("Beta must be positive, got %g", c.Beta)
	case c.Eta <= 0:
		return configErrorf("Eta must be positive, got %g", c.Eta)
	case c.Optimizer == "adam" && c.Eps <= 0:
		return configErrorf("Eps must be positive for adam optimizer, got %g", c.Eps)
	case c.Momentum < 0 || c.Momentum >= 1:
		return configErrorf("Momentum must be in range [0,1), got %g", c.Momentum)
	case c.Width < 1 || c.Height < 1:
		return configErrorf("invalid image size %dx%d", c.Width, c.Height)
	case c.Border < 0:
		return configErrorf("Border must not be negative, got %d", c.Border)
	case c.BatchSize < 1:
		return configErrorf("BatchSize must be at least 1, got %d", c.BatchSize)
	case c.Person < 0:
		return configErrorf("Person must not be negative, got %d", c.Person)
	case !img.ValidFormat(c.Format):
		return configErrorf("unsupported snapshot format %q - valid formats are %v", c.Format, img.Formats)
	}
	if _, ok := optimizers[c.Optimizer]; !ok {
		return configErrorf("unknown optimizer %q", c.Optimizer)
	}
	return nil
}

// Names of the tap layers which make up the feature vector.
func (c Config) Layers() []string {
	return c.FeatureLayers[:c.NumLayers]
}

func (c Config) Fields() []string {
	st := reflect.TypeOf(c)
	fld := make([]string, st.NumField())
	for i := range fld {
		fld[i] = st.Field(i).Name
	}
	return fld
}

func (c Config) Get(key string) interface{} {
	s := reflect.ValueOf(c)
	return s.FieldByName(key).Interface()
}

func (c Config) String() string {
	str := []string{"== Config =="}
	for _, key := range c.Fields() {
		if key == "MonitorPass" {
			continue
		}
		str = append(str, fmt.Sprintf("%-14s: %v", key, c.Get(key)))
	}
	return strings.Join(str, "\n")
}

// SetString parses val according to the type of the named field. Slice fields take a comma separated list.
func (c Config) SetString(key, val string) (Config, error) {
	s := reflect.ValueOf(&c).Elem()
	f := s.FieldByName(key)
	if !f.IsValid() {
		return c, configErrorf("unknown setting %q", key)
	}
	var err error
	switch f.Type().Kind() {
	case reflect.Int, reflect.Int64:
		var x int64
		if x, err = strconv.ParseInt(val, 10, 64); err == nil {
			f.SetInt(x)
		}
	case reflect.Float64:
		var x float64
		if x, err = strconv.ParseFloat(val, 64); err == nil {
			f.SetFloat(x)
		}
	case reflect.Bool:
		var x bool
		if x, err = strconv.ParseBool(val); err == nil {
			f.SetBool(x)
		}
	case reflect.String:
		f.SetString(val)
	case reflect.Slice:
		if f.Type().Elem().Kind() != reflect.String {
			return c, configErrorf("invalid type for SetString: %v", f.Type())
		}
		f.Set(reflect.ValueOf(strings.Split(val, ",")))
	default:
		return c, configErrorf("invalid type for SetString: %v", f.Type().Kind())
	}
	if err != nil {
		return c, configErrorf("%s: %v", key, err)
	}
	return c, nil
}
