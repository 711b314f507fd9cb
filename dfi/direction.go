package dfi

import (
	"github.com/jnb666/dfi/img"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// EstimateDirection returns the normalised difference between the mean features of the positive and
// negative example images. If the means are equal then the zero vector is returned.
func EstimateDirection(ext *Extractor, pos, neg []*img.RGBImage) (FeatureVector, error) {
	if len(pos) == 0 {
		return nil, InsufficientDataError{What: "positive examples", Have: 0, Need: 1}
	}
	if len(neg) == 0 {
		return nil, InsufficientDataError{What: "negative examples", Have: 0, Need: 1}
	}
	posMean, err := ext.Mean(pos)
	if err != nil {
		return nil, errors.Wrap(err, "positive examples")
	}
	negMean, err := ext.Mean(neg)
	if err != nil {
		return nil, errors.Wrap(err, "negative examples")
	}
	w := FeatureVector(floats.SubTo(make([]float64, len(posMean)), posMean, negMean))
	w.Normalise()
	return w, nil
}

// Target returns phi(start) + alpha*w. The result is not renormalised.
func Target(ext *Extractor, start *img.RGBImage, w FeatureVector, alpha float64) (FeatureVector, error) {
	phi, err := ext.ExtractOne(start)
	if err != nil {
		return nil, errors.Wrap(err, "start image")
	}
	if len(w) != len(phi) {
		return nil, ShapeMismatchError{What: "attribute direction", Got: []int{len(w)}, Expect: []int{len(phi)}}
	}
	floats.AddScaled(phi, alpha, w)
	return phi, nil
}
