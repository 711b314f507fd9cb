package nnet

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jnb666/dfi/num"
	"github.com/pkg/errors"
	"github.com/sbinet/npyio/npz"
)

// Weight layout of arrays imported from numpy: filter height, width, input channels, output channels in row major order.
const OrderHWIO = "hwio"

// LayerData holds the weights and biases for one named layer.
// If Order is empty then the weights are in the native filter layout of the num package.
type LayerData struct {
	Name    string
	Order   string
	Weights []float32
	Biases  []float32
}

// Export the current weights from each layer with parameters
func (n *Network) Export() []LayerData {
	var data []LayerData
	for _, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			d := LayerData{
				Name:    l.Name(),
				Weights: make([]float32, W.Size()),
				Biases:  make([]float32, B.Size()),
			}
			n.queue.Call(
				num.Read(W, d.Weights),
				num.Read(B, d.Biases),
			).Finish()
			data = append(data, d)
		}
	}
	return data
}

// Import weights by layer name. Every layer with parameters must be present in the data.
func (n *Network) Import(data []LayerData) error {
	byName := make(map[string]LayerData)
	for _, d := range data {
		byName[d.Name] = d
	}
	for _, layer := range n.Layers {
		l, ok := layer.(ParamLayer)
		if !ok {
			continue
		}
		p, ok := byName[l.Name()]
		if !ok {
			return errors.Errorf("layer %s import error: no weights found", l.Name())
		}
		W, B := l.Params()
		if W.Size() != len(p.Weights) || B.Size() != len(p.Biases) {
			return errors.Errorf("layer %s import error: size mismatch - have %d %d - expect %d %d",
				l.Name(), len(p.Weights), len(p.Biases), W.Size(), B.Size())
		}
		weights := p.Weights
		switch p.Order {
		case "":
		case OrderHWIO:
			weights = fromHWIO(p.Weights, W.Dims())
		default:
			return errors.Errorf("layer %s import error: invalid weight order %q", l.Name(), p.Order)
		}
		n.queue.Call(
			num.Write(W, weights),
			num.Write(B, p.Biases),
		)
	}
	n.queue.Finish()
	return nil
}

// convert from row major [kh][kw][cin][cout] to the num filter layout with dims [kw, kh, cin, cout]
func fromHWIO(src []float32, dims []int) []float32 {
	kw, kh, cin, cout := dims[0], dims[1], dims[2], dims[3]
	dst := make([]float32, len(src))
	for ky := 0; ky < kh; ky++ {
		for kx := 0; kx < kw; kx++ {
			for c := 0; c < cin; c++ {
				for f := 0; f < cout; f++ {
					dst[((f*cin+c)*kh+ky)*kw+kx] = src[((ky*kw+kx)*cin+c)*cout+f]
				}
			}
		}
	}
	return dst
}

// Load weights from a .gob file written by SaveWeights or a numpy .npz archive with <layer>_W and <layer>_b entries.
func LoadWeights(file string) ([]LayerData, error) {
	fmt.Println("loading weights from", file)
	switch strings.ToLower(filepath.Ext(file)) {
	case ".gob":
		return loadGob(file)
	case ".npz":
		return loadNpz(file)
	default:
		return nil, errors.Errorf("weights file %s: unsupported format", file)
	}
}

// Encode weights in gob format and save to file
func SaveWeights(file string, data []LayerData) error {
	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("saving weights to", file)
	return gob.NewEncoder(f).Encode(data)
}

func loadGob(file string) (data []LayerData, err error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	err = gob.NewDecoder(f).Decode(&data)
	return data, errors.Wrapf(err, "error decoding %s", file)
}

func loadNpz(file string) ([]LayerData, error) {
	r, err := npz.Open(file)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening %s", file)
	}
	defer r.Close()
	layers := make(map[string]*LayerData)
	for _, key := range r.Keys() {
		name := strings.TrimSuffix(key, ".npy")
		var layer, typ string
		if ix := strings.LastIndex(name, "_"); ix > 0 {
			layer, typ = name[:ix], name[ix+1:]
		}
		if typ != "W" && typ != "b" {
			continue
		}
		vals, err := readFloats(r, key)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading %s from %s", key, file)
		}
		d := layers[layer]
		if d == nil {
			d = &LayerData{Name: layer, Order: OrderHWIO}
			layers[layer] = d
		}
		if typ == "W" {
			d.Weights = vals
		} else {
			d.Biases = vals
		}
	}
	data := make([]LayerData, 0, len(layers))
	for _, d := range layers {
		data = append(data, *d)
	}
	sort.Slice(data, func(i, j int) bool { return data[i].Name < data[j].Name })
	return data, nil
}

// read array as float32, converting from float64 if needed
func readFloats(r *npz.Reader, key string) ([]float32, error) {
	var vals []float32
	if err := r.Read(key, &vals); err == nil {
		return vals, nil
	}
	var vals64 []float64
	if err := r.Read(key, &vals64); err != nil {
		return nil, err
	}
	vals = make([]float32, len(vals64))
	for i, v := range vals64 {
		vals[i] = float32(v)
	}
	return vals, nil
}
