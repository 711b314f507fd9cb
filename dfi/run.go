package dfi

import (
	"context"
	"fmt"

	"github.com/jnb666/dfi/img"
	"github.com/pkg/errors"
)

// ExampleSource provides the image files for a labelled dataset.
type ExampleSource interface {
	// Names of the attributes which can be selected
	Attributes() []string
	// Image file for the given person
	ImageFile(person int) (string, error)
	// Files for the k people nearest to person with and without the attribute
	Examples(attribute string, person, k int) (pos, neg []string, err error)
}

// Run performs the complete process for the configured person and attribute: the target features are
// loaded from the cache or computed from the example images, then the start image is optimized.
func (c *Context) Run(ctx context.Context, src ExampleSource) (*img.RGBImage, error) {
	file, err := src.ImageFile(c.Person)
	if err != nil {
		return nil, err
	}
	start, err := img.Load(file, c.Border, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	cache := TargetCache{Dir: c.CachePath, Keyed: c.CacheKeyed, Rebuild: c.RebuildCache}
	target, err := cache.GetOrCompute(c.CacheKey(), func() (FeatureVector, error) {
		return c.ComputeTarget(src, start)
	})
	if err != nil {
		return nil, err
	}
	obj, err := NewObjective(c.ImageExtractor(), target, c.Lambda, c.Beta)
	if err != nil {
		return nil, errors.Wrapf(err, "cached target %s", cache.Path(c.CacheKey()))
	}
	return c.Optimize(ctx, start, obj)
}

// ComputeTarget estimates the attribute direction from the examples and adds it to the features of
// the start image.
func (c *Context) ComputeTarget(src ExampleSource, start *img.RGBImage) (FeatureVector, error) {
	posFiles, negFiles, err := src.Examples(c.Attribute, c.Person, c.K)
	if err != nil {
		return nil, err
	}
	fmt.Printf("attribute %q: %d positive and %d negative examples\n", c.Attribute, len(posFiles), len(negFiles))
	if c.DebugLevel >= 1 {
		fmt.Println("positive:", posFiles)
		fmt.Println("negative:", negFiles)
	}
	pos, err := img.LoadAll(posFiles, c.Border, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	neg, err := img.LoadAll(negFiles, c.Border, c.Width, c.Height)
	if err != nil {
		return nil, err
	}
	ext := c.BatchExtractor()
	w, err := EstimateDirection(ext, pos, neg)
	if err != nil {
		return nil, err
	}
	return Target(ext, start, w, c.Alpha)
}
