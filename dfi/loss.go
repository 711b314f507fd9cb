package dfi

import (
	"fmt"
	"math"

	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/num"
	"gonum.org/v1/gonum/floats"
)

// Loss terms for one evaluation. Smooth is the total variation before weighting by lambda.
type Loss struct {
	Total   float64
	Feature float64
	Smooth  float64
}

// Objective computes the loss and its gradient with respect to the image pixels. The feature term is
// 0.5*|phi(x) - target|^2 where phi is the normalised feature vector, the smoothness term is the total
// variation of the image weighted by Lambda.
type Objective struct {
	Lambda float64
	Beta   float64
	ext    *Extractor
	target FeatureVector
	phi    FeatureVector
	dphi   []float64
	tvGrad num.Array
	last   Loss
	means  []float64
	sum    float64
	norm   float64
}

// NewObjective creates a new objective for images processed by ext with the given target features.
func NewObjective(ext *Extractor, target FeatureVector, lambda, beta float64) (*Objective, error) {
	if len(target) != ext.Size() {
		return nil, ShapeMismatchError{What: "target features", Got: []int{len(target)}, Expect: []int{ext.Size()}}
	}
	return &Objective{
		Lambda: lambda,
		Beta:   beta,
		ext:    ext,
		target: target,
		phi:    make(FeatureVector, len(target)),
		dphi:   make([]float64, len(target)),
	}, nil
}

// Extractor used to compute the features
func (o *Objective) Extractor() *Extractor {
	return o.ext
}

// Evaluate returns the loss for the image x. If grad is not nil then the gradient with respect to x is
// stored in it.
func (o *Objective) Evaluate(x, grad num.Array) Loss {
	raw := o.ext.Forward(x)
	o.means = o.ext.LayerMeans()
	o.sum = floats.Sum(raw)
	copy(o.phi, raw)
	o.norm = o.phi.Normalise()
	floats.SubTo(o.dphi, o.phi, o.target)

	dims := x.Dims()
	var tvGrad []float32
	if grad != nil {
		if o.tvGrad == nil {
			o.tvGrad = o.ext.queue.NewArrayLike(x)
		}
		tvGrad = o.tvGrad.Data()
	}
	var loss Loss
	loss.Feature = 0.5 * floats.Dot(o.dphi, o.dphi)
	loss.Smooth = TotalVariation(x.Data(), dims[0], dims[1], o.Beta, tvGrad)
	loss.Total = loss.Feature + o.Lambda*loss.Smooth
	o.last = loss
	if grad == nil {
		return loss
	}
	// back through the normalisation: (d - phi*(phi.d)) / |f|
	if o.norm > 0 {
		floats.AddScaled(o.dphi, -floats.Dot(o.phi, o.dphi), o.phi)
		floats.Scale(1/o.norm, o.dphi)
	} else {
		for i := range o.dphi {
			o.dphi[i] = 0
		}
	}
	dx := o.ext.Backward(o.dphi)
	o.ext.queue.Call(
		num.Copy(grad, dx),
		num.Axpy(float32(o.Lambda), o.tvGrad, grad),
	).Finish()
	return loss
}

// Last loss returned by Evaluate
func (o *Objective) Last() Loss {
	return o.last
}

// Report sends the loss terms and feature statistics from the last evaluation to the sink.
func (o *Objective) Report(step int, sink MetricsSink) {
	for i, mean := range o.means {
		sink.Scalar(step, fmt.Sprintf("mean%d", i), mean)
	}
	sink.Scalar(step, "phi_sum", o.sum)
	sink.Scalar(step, "phi_norm", o.norm)
	sink.Scalar(step, "loss", o.last.Total)
	sink.Scalar(step, "diff_loss", o.last.Feature)
	sink.Scalar(step, "tv_loss", o.Lambda*o.last.Smooth)
}

// TotalVariation of a 3 channel planar image. The vertical and horizontal differences are summed over
// the channels and are zero at the bottom and right edges. Returns S^(beta/2) / (width*height*3*255)
// where S is the sum of the squared differences. If grad is not nil then the gradient is stored in it.
func TotalVariation(pix []float32, width, height int, beta float64, grad []float32) float64 {
	plane := width * height
	if len(pix) < 3*plane {
		panic(fmt.Sprintf("TotalVariation: image size %d too small for %dx%d", len(pix), width, height))
	}
	dh := make([]float64, plane)
	dw := make([]float64, plane)
	var s float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			var v, u float64
			for c := 0; c < 3; c++ {
				p := pix[c*plane+i]
				if y+1 < height {
					v += float64(p - pix[c*plane+i+width])
				}
				if x+1 < width {
					u += float64(p - pix[c*plane+i+1])
				}
			}
			dh[i], dw[i] = v, u
			s += v*v + u*u
		}
	}
	scale := float64(3*plane) * img.MaxValue
	tv := math.Pow(s, beta/2) / scale
	if grad == nil {
		return tv
	}
	coef := 0.0
	if s > 0 {
		coef = beta * math.Pow(s, beta/2-1) / scale
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			g := dh[i] + dw[i]
			if y > 0 {
				g -= dh[i-width]
			}
			if x > 0 {
				g -= dw[i-1]
			}
			for c := 0; c < 3; c++ {
				grad[c*plane+i] = float32(coef * g)
			}
		}
	}
	return tv
}
