package dfi

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sbinet/npyio"
)

// Name of the single cache file used when the cache is not keyed.
const SingleCacheFile = "cache.ch.npy"

// CacheKey identifies the settings which determine a target feature vector.
type CacheKey struct {
	Attribute string
	Person    int
	Alpha     float64
	K         int
	NumLayers int
	// Network and input settings: tap layers, weights, network config, border and image size
	Model string
}

// Key for the current settings
func (c Config) CacheKey() CacheKey {
	model := fmt.Sprintf("%s|%s|%s|%d|%dx%d", strings.Join(c.Layers(), ","), c.ModelPath, c.NetConfig,
		c.Border, c.Width, c.Height)
	return CacheKey{
		Attribute: c.Attribute,
		Person:    c.Person,
		Alpha:     c.Alpha,
		K:         c.K,
		NumLayers: c.NumLayers,
		Model:     model,
	}
}

// File name derived from the key
func (k CacheKey) File() string {
	attr := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, k.Attribute)
	if k.Model == "" {
		return fmt.Sprintf("phi_z_%s_p%d_a%g_k%d_l%d.npy", attr, k.Person, k.Alpha, k.K, k.NumLayers)
	}
	h := fnv.New32a()
	h.Write([]byte(k.Model))
	return fmt.Sprintf("phi_z_%s_p%d_a%g_k%d_l%d_%08x.npy", attr, k.Person, k.Alpha, k.K, k.NumLayers, h.Sum32())
}

// TargetCache persists target feature vectors in numpy format.
// If Keyed is false then a single file is used for all settings.
type TargetCache struct {
	Dir     string
	Keyed   bool
	Rebuild bool
}

// Path to the cache file for the given key
func (c TargetCache) Path(key CacheKey) string {
	if !c.Keyed {
		return filepath.Join(c.Dir, SingleCacheFile)
	}
	return filepath.Join(c.Dir, key.File())
}

// GetOrCompute loads the vector from the cache if it exists and Rebuild is not set, else it is
// computed and saved.
func (c TargetCache) GetOrCompute(key CacheKey, compute func() (FeatureVector, error)) (FeatureVector, error) {
	file := c.Path(key)
	if !c.Rebuild {
		if _, err := os.Stat(file); err == nil {
			fmt.Println("loading target features from", file)
			return LoadVector(file)
		}
	}
	v, err := compute()
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(c.Dir, 0755); err != nil {
		return nil, errors.Wrap(err, "error creating cache directory")
	}
	fmt.Println("saving target features to", file)
	return v, SaveVector(file, v)
}

// SaveVector writes the vector in numpy .npy format. Data is written to a temporary file which is
// renamed on completion.
func SaveVector(file string, v FeatureVector) error {
	tmpFile := filepath.Join(filepath.Dir(file), "."+filepath.Base(file))
	f, err := os.Create(tmpFile)
	if err != nil {
		return errors.Wrap(err, "error saving features")
	}
	if err = npyio.Write(f, []float64(v)); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return errors.Wrapf(err, "error writing %s", file)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "error writing %s", file)
	}
	return os.Rename(tmpFile, file)
}

// LoadVector reads a 1 dimensional float64 array from a numpy .npy file.
func LoadVector(file string) (FeatureVector, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, errors.Wrap(err, "error loading features")
	}
	defer f.Close()
	var v []float64
	if err = npyio.Read(f, &v); err != nil {
		return nil, errors.Wrapf(err, "error reading %s", file)
	}
	return v, nil
}
