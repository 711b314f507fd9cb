package dfi

import (
	"fmt"
	"math"

	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/nnet"
	"github.com/jnb666/dfi/num"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// FeatureVector is the flattened concatenation of the tap layer activations for one image.
type FeatureVector []float64

// L2 norm of the vector
func (v FeatureVector) Norm() float64 {
	return floats.Norm(v, 2)
}

// Normalise scales the vector in place to unit length and returns the original norm.
// The zero vector is left unchanged.
func (v FeatureVector) Normalise() float64 {
	norm := v.Norm()
	if norm > 0 {
		floats.Scale(1/norm, v)
	}
	return norm
}

// Extractor computes feature vectors using a network with frozen weights.
type Extractor struct {
	net    *nnet.Network
	queue  num.Queue
	input  num.Array
	shape  []int
	sizes  []int
	size   int
	feat   FeatureVector
	taps   []num.Array
	grads  []num.Array
	buffer []float32
}

// NewExtractor creates a new extractor for the network which must have its taps selected.
func NewExtractor(queue num.Queue, net *nnet.Network) *Extractor {
	e := &Extractor{net: net, queue: queue}
	inShape := net.InShape()
	e.shape = inShape[:3]
	e.input = queue.NewArray(inShape...)
	for _, shape := range net.TapShapes() {
		n := num.Prod(shape[:3])
		e.sizes = append(e.sizes, n)
		e.size += n
	}
	e.feat = make(FeatureVector, e.size)
	return e
}

// Network used by the extractor
func (e *Extractor) Network() *nnet.Network {
	return e.net
}

// Length of the feature vector
func (e *Extractor) Size() int {
	return e.size
}

// Number of images processed in one forward pass
func (e *Extractor) BatchSize() int {
	return e.net.BatchSize()
}

// Input image shape as width, height, channels
func (e *Extractor) Shape() []int {
	return e.shape
}

// Extract returns the normalised feature vector for each image.
func (e *Extractor) Extract(images []*img.RGBImage) ([]FeatureVector, error) {
	res := make([]FeatureVector, len(images))
	err := e.each(images, func(i int, v FeatureVector) {
		res[i] = append(FeatureVector{}, v...)
	})
	return res, err
}

// ExtractOne returns the normalised feature vector for a single image.
func (e *Extractor) ExtractOne(m *img.RGBImage) (FeatureVector, error) {
	res, err := e.Extract([]*img.RGBImage{m})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// Mean of the normalised feature vectors. The images are processed one batch at a time.
func (e *Extractor) Mean(images []*img.RGBImage) (FeatureVector, error) {
	if len(images) == 0 {
		return nil, InsufficientDataError{What: "images for mean feature", Need: 1}
	}
	mean := make(FeatureVector, e.size)
	err := e.each(images, func(i int, v FeatureVector) {
		floats.Add(mean, v)
	})
	if err != nil {
		return nil, err
	}
	floats.Scale(1/float64(len(images)), mean)
	return mean, nil
}

// calls fn with the normalised features for each image, the vector is reused between calls
func (e *Extractor) each(images []*img.RGBImage, fn func(i int, v FeatureVector)) error {
	for i, m := range images {
		if err := e.checkShape(m); err != nil {
			return errors.Wrapf(err, "image %d", i)
		}
	}
	batch := e.BatchSize()
	imageSize := num.Prod(e.shape)
	if len(e.buffer) != e.input.Size() {
		e.buffer = make([]float32, e.input.Size())
	}
	for start := 0; start < len(images); start += batch {
		end := min(start+batch, len(images))
		for i := range e.buffer {
			e.buffer[i] = 0
		}
		for i, m := range images[start:end] {
			copy(e.buffer[i*imageSize:], m.Pix)
		}
		e.queue.Call(num.Write(e.input, e.buffer))
		taps := e.net.FpropTaps(e.input)
		e.queue.Finish()
		for i := start; i < end; i++ {
			e.gather(taps, i-start)
			e.feat.Normalise()
			fn(i, e.feat)
		}
	}
	return nil
}

// copy activations for image n in the batch into the feature buffer
func (e *Extractor) gather(taps []num.Array, n int) {
	pos := 0
	for j, tap := range taps {
		data := tap.Data()[n*e.sizes[j] : (n+1)*e.sizes[j]]
		for k, x := range data {
			e.feat[pos+k] = float64(x)
		}
		pos += e.sizes[j]
	}
}

func (e *Extractor) checkShape(m *img.RGBImage) error {
	if shape := m.Shape(); !num.SameShape(shape, e.shape) {
		return ShapeMismatchError{What: "input image", Got: shape, Expect: e.shape}
	}
	return nil
}

// Forward computes the unnormalised feature vector for the first image in the input array.
// The returned slice is overwritten by the next call.
func (e *Extractor) Forward(x num.Array) FeatureVector {
	if x.Size() != e.input.Size() {
		panic(fmt.Sprintf("Forward: input shape %v does not match %v", x.Dims(), e.input.Dims()))
	}
	e.taps = e.net.FpropTaps(x)
	e.queue.Finish()
	e.gather(e.taps, 0)
	return e.feat
}

// Backward propagates the gradient with respect to the unnormalised features from the last call to
// Forward back to the input image. The returned array is owned by the network.
func (e *Extractor) Backward(grad []float64) num.Array {
	if len(grad) != e.size {
		panic(fmt.Sprintf("Backward: gradient length %d does not match feature size %d", len(grad), e.size))
	}
	if e.grads == nil {
		for _, tap := range e.taps {
			e.grads = append(e.grads, e.queue.NewArrayLike(tap))
		}
	}
	pos := 0
	for j, g := range e.grads {
		data := g.Data()
		for k := range data {
			data[k] = 0
		}
		for k := 0; k < e.sizes[j]; k++ {
			data[k] = float32(grad[pos+k])
		}
		pos += e.sizes[j]
	}
	dx := e.net.BpropTaps(e.grads)
	e.queue.Finish()
	return dx
}

// Tap holds the activations of one feature layer from the last call to Forward.
type Tap struct {
	Name string
	Dims []int
	Data []float32
}

// Taps returns the activations of each feature layer for the first image from the last call to Forward.
func (e *Extractor) Taps() []Tap {
	names := e.net.TapNames()
	res := make([]Tap, len(e.taps))
	for i, tap := range e.taps {
		res[i] = Tap{Name: names[i], Dims: tap.Dims()[:3], Data: tap.Data()[:e.sizes[i]]}
	}
	return res
}

// Mean activation of each feature layer from the last call to Forward
func (e *Extractor) LayerMeans() []float64 {
	means := make([]float64, len(e.sizes))
	pos := 0
	for i, n := range e.sizes {
		means[i] = floats.Sum(e.feat[pos:pos+n]) / float64(n)
		pos += n
	}
	return means
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
