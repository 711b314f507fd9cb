// Package nnet contains routines for constructing feed forward convolutional networks with frozen
// weights and propagating gradients from intermediate feature layers back to the input image.
package nnet

import (
	"fmt"
	"os"
	"strings"

	"github.com/jnb666/dfi/num"
	"github.com/pkg/errors"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers  []Layer
	queue   num.Queue
	inShape []int
	outputs []num.Array
	taps    []int
	last    int
}

// New function creates a new network with the given layers.
// The input shape is taken from the config with the batch size appended.
func New(queue num.Queue, conf Config, batchSize int) *Network {
	if len(conf.InputShape) != 3 {
		panic(fmt.Sprintf("nnet.New: input shape %v should be width, height, channels", conf.InputShape))
	}
	n := &Network{Config: conf, queue: queue}
	n.inShape = append(append([]int{}, conf.InputShape...), batchSize)
	shape := n.inShape
	var prev Layer
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(queue, shape, prev)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
		prev = layer
	}
	n.outputs = make([]num.Array, len(n.Layers))
	n.last = len(n.Layers) - 1
	if conf.DebugLevel >= 1 {
		fmt.Println(n)
	}
	return n
}

// Input shape including the batch dimension
func (n *Network) InShape() []int {
	return n.inShape
}

// Batch size for this instance of the network
func (n *Network) BatchSize() int {
	return n.inShape[3]
}

// Find layer by name, returns -1 if not found
func (n *Network) Index(name string) int {
	for i, layer := range n.Layers {
		if layer.Name() == name {
			return i
		}
	}
	return -1
}

// SetTaps selects the layers whose outputs are returned by FpropTaps. Forward propagation stops at the last tap.
// If a name refers to a conv layer which is followed by an activation then the activation output is used.
func (n *Network) SetTaps(names ...string) error {
	if len(names) == 0 {
		return errors.New("no feature layers selected")
	}
	taps := make([]int, len(names))
	last := 0
	for i, name := range names {
		ix := n.Index(name)
		if ix < 0 {
			return errors.Errorf("feature layer %q not found in network %s", name, n.Name)
		}
		if _, ok := n.Layers[ix].(*convDNN); ok && ix+1 < len(n.Layers) {
			if _, ok := n.Layers[ix+1].(*reluDNN); ok {
				ix++
			}
		}
		taps[i] = ix
		if ix > last {
			last = ix
		}
	}
	n.taps, n.last = taps, last
	return nil
}

// Output shape of each of the selected tap layers
func (n *Network) TapShapes() [][]int {
	shapes := make([][]int, len(n.taps))
	shape := n.inShape
	for i, layer := range n.Layers[:n.last+1] {
		shape = layer.OutShape(shape)
		for j, ix := range n.taps {
			if ix == i {
				shapes[j] = shape
			}
		}
	}
	return shapes
}

// Names of the selected tap layers
func (n *Network) TapNames() []string {
	names := make([]string, len(n.taps))
	for i, ix := range n.taps {
		names[i] = n.Layers[ix].Name()
	}
	return names
}

// Feed forward the input through all of the layers to get the output
func (n *Network) Fprop(input num.Array) num.Array {
	return n.fprop(input, len(n.Layers)-1)
}

// Feed forward up to the deepest tap and return the output of each of the tap layers.
// The returned arrays are owned by the network and are overwritten by the next call.
func (n *Network) FpropTaps(input num.Array) []num.Array {
	n.fprop(input, n.last)
	out := make([]num.Array, len(n.taps))
	for i, ix := range n.taps {
		out[i] = n.outputs[ix]
	}
	return out
}

func (n *Network) fprop(input num.Array, last int) num.Array {
	pred := input
	for i, layer := range n.Layers[:last+1] {
		if n.DebugLevel >= 3 && pred != nil {
			fmt.Printf("layer %d input\n%s", i, pred.String(n.queue))
		}
		pred = layer.Fprop(pred)
		n.outputs[i] = pred
	}
	return pred
}

// Back propagate gradients with respect to each of the tap outputs down to the network input.
// Must be called after FpropTaps with the same input. Returns the gradient with respect to the input.
func (n *Network) BpropTaps(grads []num.Array) num.Array {
	if len(grads) != len(n.taps) {
		panic(fmt.Sprintf("BpropTaps: expecting %d gradients, got %d", len(n.taps), len(grads)))
	}
	var grad num.Array
	for i := n.last; i >= 0; i-- {
		for j, ix := range n.taps {
			if ix != i {
				continue
			}
			if grad == nil {
				grad = grads[j]
			} else {
				n.queue.Call(num.Axpy(1, grads[j].Reshape(grad.Dims()...), grad))
			}
		}
		if grad != nil {
			grad = n.Layers[i].Bprop(grad)
		}
	}
	return grad
}

// Use the weights from another network with the same config without copying them.
func (n *Network) ShareParams(from *Network) {
	if len(from.Layers) != len(n.Layers) {
		panic("ShareParams: network layers do not match")
	}
	for i, layer := range n.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := from.Layers[i].(ParamLayer).Params()
			l.ShareParams(W, B)
		}
	}
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-60s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("== Network %s ==\n%s", n.Name, strings.Join(s, "\n"))
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
