package nnet

import "fmt"

// Per channel means of the VGG training set in BGR order
var VGGMean = []float32{103.939, 116.779, 123.68}

// VGG19 returns the convolutional trunk of the VGG-19 network for RGB input images with pixel values in
// the range 0-255. Layers are named conv<block>_<n>, relu<block>_<n> and pool<block>.
// The final pooling and fully connected layers are not included.
func VGG19(width, height int) Config {
	conf := Config{Name: "vgg19", InputShape: []int{width, height, 3}}
	conf = conf.AddLayers(Normalise{Name: "input", Mean: VGGMean, Scale: 1, BGR: true})
	blocks := []struct{ convs, feats int }{{2, 64}, {2, 128}, {4, 256}, {4, 512}, {4, 512}}
	for b, block := range blocks {
		if b > 0 {
			conf = conf.AddLayers(MaxPool{Name: fmt.Sprintf("pool%d", b), Size: 2})
		}
		for i := 1; i <= block.convs; i++ {
			conf = conf.AddLayers(
				Conv{Name: fmt.Sprintf("conv%d_%d", b+1, i), Nfeats: block.feats, Size: 3, Pad: 1},
				Activation{Name: fmt.Sprintf("relu%d_%d", b+1, i), Atype: "relu"},
			)
		}
	}
	return conf
}
