package nnet

import (
	"encoding/json"
	"fmt"

	"github.com/jnb666/dfi/num"
)

// Layer interface type represents one layer of the neural net.
// Input and output shapes are in width, height, channels, batch order.
type Layer interface {
	Init(q num.Queue, inShape []int, prev Layer) Layer
	Name() string
	OutShape(inShape []int) []int
	Fprop(in num.Array) num.Array
	Bprop(grad num.Array) num.Array
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters.
// Parameters are frozen: gradients are only propagated back to the layer input.
type ParamLayer interface {
	Layer
	Params() (W, B num.Array)
	SetParams(W, B num.Array)
	ShareParams(W, B num.Array)
}

// LayerDNN hold a layer which implements the num.Layer interface
type LayerDNN interface {
	DNNLayer() num.Layer
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "conv":
		cfg := new(Conv)
		return cfg.unmarshal(l.Data)
	case "maxPool":
		cfg := new(MaxPool)
		return cfg.unmarshal(l.Data)
	case "activation":
		cfg := new(Activation)
		return cfg.unmarshal(l.Data)
	case "normalise":
		cfg := new(Normalise)
		return cfg.unmarshal(l.Data)
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Convolutional layer, implements ParamLayer interface.
type Conv struct {
	Name                      string
	Nfeats, Size, Stride, Pad int
}

func (c Conv) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = 1
	}
	return LayerConfig{Type: "conv", Data: marshal(c)}
}

func (c Conv) ToString() string {
	return fmt.Sprintf("conv %+v", c)
}

func (c *Conv) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &convDNN{Conv: *c}
}

// Max pooling layer, should follow conv layer.
type MaxPool struct {
	Name         string
	Size, Stride int
}

func (c MaxPool) Marshal() LayerConfig {
	if c.Stride == 0 {
		c.Stride = c.Size
	}
	return LayerConfig{Type: "maxPool", Data: marshal(c)}
}

func (c MaxPool) ToString() string {
	return fmt.Sprintf("maxPool %+v", c)
}

func (c *MaxPool) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &poolDNN{MaxPool: *c}
}

// Activation layer, only relu is supported.
type Activation struct {
	Name  string
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

func (c *Activation) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	if c.Atype != "relu" {
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return &reluDNN{Activation: *c}
}

// Normalise input layer: subtracts the per channel mean and scales the result.
// If BGR is set then the channel order is reversed from RGB to BGR.
type Normalise struct {
	Name  string
	Mean  []float32
	Scale float32
	BGR   bool
}

func (c Normalise) Marshal() LayerConfig {
	if c.Scale == 0 {
		c.Scale = 1
	}
	return LayerConfig{Type: "normalise", Data: marshal(c)}
}

func (c Normalise) ToString() string {
	return fmt.Sprintf("normalise %+v", c)
}

func (c *Normalise) unmarshal(data json.RawMessage) Layer {
	unmarshal(data, c)
	return &normalise{Normalise: *c}
}

// convolutional layer implementation
type convDNN struct {
	Conv
	paramBase
	*layerDNN
}

func (l *convDNN) Name() string { return l.Conv.Name }

func (l *convDNN) Init(queue num.Queue, inShape []int, prev Layer) Layer {
	if len(inShape) != 4 {
		panic("ConvDNN: expect 4 dimensional input")
	}
	n, d, h, w := inShape[3], inShape[2], inShape[1], inShape[0]
	layer := queue.ConvLayer(n, d, h, w, l.Nfeats, l.Size, l.Stride, l.Pad)
	l.paramBase = newParams(queue, layer)
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

// pool layer implentation
type poolDNN struct {
	MaxPool
	*layerDNN
}

func (l *poolDNN) Name() string { return l.MaxPool.Name }

func (l *poolDNN) Init(queue num.Queue, inShape []int, prev Layer) Layer {
	if len(inShape) != 4 {
		panic("PoolDNN: expect 4 dimensional input")
	}
	layer := queue.MaxPoolLayer(prev.(LayerDNN).DNNLayer(), l.Size, l.Stride)
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

// reluDNN layer must always be preceded by another DNN layer such as convDNN
type reluDNN struct {
	Activation
	*layerDNN
}

func (l *reluDNN) Name() string { return l.Activation.Name }

func (l *reluDNN) Init(queue num.Queue, inShape []int, prev Layer) Layer {
	dnn, ok := prev.(LayerDNN)
	if !ok {
		panic("ReluDNN: must follow a conv or pool layer")
	}
	layer := queue.ReluLayer(dnn.DNNLayer())
	l.layerDNN = newLayerDNN(queue, layer)
	return l
}

// input normalisation layer
type normalise struct {
	Normalise
	layerBase
	queue num.Queue
}

func (l *normalise) Name() string { return l.Normalise.Name }

func (l *normalise) Init(queue num.Queue, inShape []int, prev Layer) Layer {
	if len(inShape) != 4 || len(l.Mean) != inShape[2] {
		panic(fmt.Sprintf("Normalise: invalid input shape %v for mean %v", inShape, l.Mean))
	}
	l.queue = queue
	l.layerBase = newLayerBase(queue, inShape, inShape)
	if l.Scale == 0 {
		l.Scale = 1
	}
	return l
}

func (l *normalise) Fprop(in num.Array) num.Array {
	l.src = in
	l.queue.Call(num.Normalise(l.src, l.dst, l.Mean, l.Scale, l.BGR))
	return l.dst
}

func (l *normalise) Bprop(grad num.Array) num.Array {
	if l.dsrc == nil {
		l.dsrc = l.queue.NewArray(l.src.Dims()...)
	}
	l.queue.Call(num.NormaliseD(grad, l.dsrc, l.Scale, l.BGR))
	return l.dsrc
}

// base layer type
type layerBase struct {
	src  num.Array
	dst  num.Array
	dsrc num.Array
}

func newLayerBase(queue num.Queue, inShape, outShape []int) layerBase {
	return layerBase{dst: queue.NewArray(outShape...)}
}

func (l layerBase) OutShape(inShape []int) []int { return inShape }

// wrapper for a layer implemented in the num package
type layerDNN struct {
	que   num.Queue
	layer num.Layer
}

func newLayerDNN(queue num.Queue, layer num.Layer) *layerDNN {
	return &layerDNN{que: queue, layer: layer}
}

func (l *layerDNN) DNNLayer() num.Layer {
	return l.layer
}

func (l *layerDNN) OutShape(inShape []int) []int {
	return l.layer.OutShape()
}

func (l *layerDNN) Fprop(in num.Array) num.Array {
	l.layer.SetSrc(in)
	l.que.Call(num.Fprop(l.layer))
	return l.layer.Dst()
}

func (l *layerDNN) Bprop(grad num.Array) num.Array {
	l.layer.SetDiffDst(grad)
	l.que.Call(num.BpropData(l.layer))
	return l.layer.DiffSrc()
}

// weight and bias parameters
type paramBase struct {
	queue num.Queue
	dnn   num.Layer
	w, b  num.Array
}

func newParams(queue num.Queue, layer num.Layer) paramBase {
	p := paramBase{
		queue: queue,
		dnn:   layer,
		w:     queue.NewArray(layer.FilterShape()...),
		b:     queue.NewArray(layer.BiasShape()...),
	}
	layer.SetParams(p.w, p.b)
	return p
}

func (p *paramBase) Params() (W, B num.Array) {
	return p.w, p.b
}

// Copy weights and bias values into this layer
func (p *paramBase) SetParams(W, B num.Array) {
	p.queue.Call(num.Copy(p.w, W), num.Copy(p.b, B))
}

// Use the given arrays as the weights and bias for this layer without copying
func (p *paramBase) ShareParams(W, B num.Array) {
	p.dnn.SetParams(W, B)
	p.w, p.b = W, B
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
