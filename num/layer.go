package num

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Layer interface type represents a DNN layer.
// Array shapes are in width, height, channels, batch order.
type Layer interface {
	Dst() Array
	DiffSrc() Array
	SetSrc(Array)
	SetDiffDst(Array)
	SetParams(W, B Array)
	HasParams() bool
	Type() string
	InShape() []int
	OutShape() []int
	FilterShape() []int
	BiasShape() []int
	fprop(threads int)
	bpropData(threads int)
}

// Forward propagation
func Fprop(layer Layer) Function {
	return args(layer.Type()+"_fprop", layer.fprop)
}

// Backward propagation of the gradient with respect to the layer input.
// Weights are treated as constant so no filter or bias gradients are calculated.
func BpropData(layer Layer) Function {
	return args(layer.Type()+"_bprop", layer.bpropData)
}

// common layer data
type layerBase struct {
	dev       cpuDevice
	name      string
	inShape   []int
	outShape  []int
	filtShape []int
	biasShape []int
	src       Array
	dst       Array
	diffSrc   Array
	diffDst   Array
}

func newLayerBase(d cpuDevice, name string, inShape, outShape []int) layerBase {
	return layerBase{
		dev:      d,
		name:     name,
		inShape:  inShape,
		outShape: outShape,
		dst:      d.NewArray(outShape...),
	}
}

func (l *layerBase) Dst() Array { return l.dst }

// input gradient is allocated on first use as the forward only networks never need it
func (l *layerBase) DiffSrc() Array {
	if l.diffSrc == nil {
		l.diffSrc = l.dev.NewArray(l.inShape...)
	}
	return l.diffSrc
}

func (l *layerBase) SetSrc(a Array) {
	if a.Size() != Prod(l.inShape) {
		panic(fmt.Sprintf("%s: input shape %v does not match %v", l.name, a.Dims(), l.inShape))
	}
	if !SameShape(a.Dims(), l.inShape) {
		a = a.Reshape(l.inShape...)
	}
	l.src = a
}

func (l *layerBase) SetDiffDst(a Array) {
	if a.Size() != Prod(l.outShape) {
		panic(fmt.Sprintf("%s: gradient shape %v does not match %v", l.name, a.Dims(), l.outShape))
	}
	if !SameShape(a.Dims(), l.outShape) {
		a = a.Reshape(l.outShape...)
	}
	l.diffDst = a
}

func (l *layerBase) SetParams(W, B Array) {}

func (l *layerBase) HasParams() bool { return false }

func (l *layerBase) Type() string { return l.name }

func (l *layerBase) InShape() []int { return l.inShape }

func (l *layerBase) OutShape() []int { return l.outShape }

func (l *layerBase) FilterShape() []int { return l.filtShape }

func (l *layerBase) BiasShape() []int { return l.biasShape }

// convolution layer implemented as im2col followed by a matrix multiply
type convLayer struct {
	layerBase
	w, b                 Array
	depth, size          int
	stride, pad          int
	wIn, hIn, wOut, hOut int
	nFeats, nBatch       int
	cols                 [][]float32
}

// Setup new convolution layer
func (d cpuDevice) ConvLayer(nBatch, depth, h, w, nFeats, size, stride, pad int) Layer {
	wOut := outSize(w, size, stride, pad)
	hOut := outSize(h, size, stride, pad)
	l := &convLayer{
		layerBase: newLayerBase(d, "conv", []int{w, h, depth, nBatch}, []int{wOut, hOut, nFeats, nBatch}),
		depth:     depth,
		size:      size,
		stride:    stride,
		pad:       pad,
		wIn:       w,
		hIn:       h,
		wOut:      wOut,
		hOut:      hOut,
		nFeats:    nFeats,
		nBatch:    nBatch,
	}
	l.filtShape = []int{size, size, depth, nFeats}
	l.biasShape = []int{nFeats}
	return l
}

func (l *convLayer) SetParams(W, B Array) {
	if !SameShape(W.Dims(), l.filtShape) || !SameShape(B.Dims(), l.biasShape) {
		panic(fmt.Sprintf("conv: invalid parameter shape %v %v", W.Dims(), B.Dims()))
	}
	l.w, l.b = W, B
}

func (l *convLayer) HasParams() bool { return true }

// maximum number of float32 values held in im2col buffers by each layer
const maxColSize = 1 << 26

// one im2col buffer per worker
func (l *convLayer) buffers(threads int) [][]float32 {
	colSize := l.depth * l.size * l.size * l.wOut * l.hOut
	workers := max(1, min(threads, l.nBatch, maxColSize/colSize))
	for len(l.cols) < workers {
		l.cols = append(l.cols, make([]float32, colSize))
	}
	return l.cols[:workers]
}

func (l *convLayer) fprop(threads int) {
	if l.w == nil {
		panic("conv: parameters not set")
	}
	cols := l.buffers(threads)
	inSize := l.wIn * l.hIn * l.depth
	outSize := l.wOut * l.hOut * l.nFeats
	k := l.depth * l.size * l.size
	p := l.wOut * l.hOut
	weights := rowMajor(l.w.Data(), l.nFeats, k)
	bias := l.b.Data()
	l.eachImage(len(cols), func(worker, n int) {
		col := cols[worker]
		l.im2col(l.src.Data()[n*inSize:(n+1)*inSize], col)
		out := l.dst.Data()[n*outSize : (n+1)*outSize]
		for f := 0; f < l.nFeats; f++ {
			row := out[f*p : (f+1)*p]
			for i := range row {
				row[i] = bias[f]
			}
		}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, weights, rowMajor(col, k, p), 1, rowMajor(out, l.nFeats, p))
	})
}

func (l *convLayer) bpropData(threads int) {
	cols := l.buffers(threads)
	inSize := l.wIn * l.hIn * l.depth
	outSize := l.wOut * l.hOut * l.nFeats
	k := l.depth * l.size * l.size
	p := l.wOut * l.hOut
	weights := rowMajor(l.w.Data(), l.nFeats, k)
	diffSrc := l.DiffSrc().Data()
	l.eachImage(len(cols), func(worker, n int) {
		col := cols[worker]
		grad := rowMajor(l.diffDst.Data()[n*outSize:(n+1)*outSize], l.nFeats, p)
		blas32.Gemm(blas.Trans, blas.NoTrans, 1, weights, grad, 0, rowMajor(col, k, p))
		l.col2im(col, diffSrc[n*inSize:(n+1)*inSize])
	})
}

// run f for each image in the batch split across workers
func (l *convLayer) eachImage(workers int, f func(worker, n int)) {
	if workers <= 1 {
		for n := 0; n < l.nBatch; n++ {
			f(0, n)
		}
		return
	}
	done := make(chan bool)
	for w := 0; w < workers; w++ {
		go func(w int) {
			for n := w; n < l.nBatch; n += workers {
				f(w, n)
			}
			done <- true
		}(w)
	}
	for w := 0; w < workers; w++ {
		<-done
	}
}

// unpack image patches so that row (c*size+ky)*size+kx, column oy*wOut+ox has the input pixel under the filter
func (l *convLayer) im2col(in, col []float32) {
	p := l.wOut * l.hOut
	for c := 0; c < l.depth; c++ {
		plane := in[c*l.wIn*l.hIn : (c+1)*l.wIn*l.hIn]
		for ky := 0; ky < l.size; ky++ {
			for kx := 0; kx < l.size; kx++ {
				row := col[((c*l.size+ky)*l.size+kx)*p:]
				for oy := 0; oy < l.hOut; oy++ {
					y := oy*l.stride - l.pad + ky
					for ox := 0; ox < l.wOut; ox++ {
						x := ox*l.stride - l.pad + kx
						if y < 0 || y >= l.hIn || x < 0 || x >= l.wIn {
							row[oy*l.wOut+ox] = 0
						} else {
							row[oy*l.wOut+ox] = plane[y*l.wIn+x]
						}
					}
				}
			}
		}
	}
}

// inverse of im2col: accumulate the patch gradients back into the image
func (l *convLayer) col2im(col, out []float32) {
	for i := range out {
		out[i] = 0
	}
	p := l.wOut * l.hOut
	for c := 0; c < l.depth; c++ {
		plane := out[c*l.wIn*l.hIn : (c+1)*l.wIn*l.hIn]
		for ky := 0; ky < l.size; ky++ {
			for kx := 0; kx < l.size; kx++ {
				row := col[((c*l.size+ky)*l.size+kx)*p:]
				for oy := 0; oy < l.hOut; oy++ {
					y := oy*l.stride - l.pad + ky
					if y < 0 || y >= l.hIn {
						continue
					}
					for ox := 0; ox < l.wOut; ox++ {
						x := ox*l.stride - l.pad + kx
						if x >= 0 && x < l.wIn {
							plane[y*l.wIn+x] += row[oy*l.wOut+ox]
						}
					}
				}
			}
		}
	}
}

// max pooling layer, the index of the maximum input for each output is saved for the backward pass
type poolLayer struct {
	layerBase
	size, stride int
	argmax       []int32
}

// Setup new max pooling layer
func (d cpuDevice) MaxPoolLayer(prev Layer, size, stride int) Layer {
	inShape := prev.OutShape()
	wOut := outSize(inShape[0], size, stride, 0)
	hOut := outSize(inShape[1], size, stride, 0)
	outShape := []int{wOut, hOut, inShape[2], inShape[3]}
	return &poolLayer{
		layerBase: newLayerBase(d, "maxPool", inShape, outShape),
		size:      size,
		stride:    stride,
		argmax:    make([]int32, Prod(outShape)),
	}
}

func (l *poolLayer) fprop(threads int) {
	wIn, hIn := l.inShape[0], l.inShape[1]
	wOut, hOut := l.outShape[0], l.outShape[1]
	planes := l.inShape[2] * l.inShape[3]
	src, dst := l.src.Data(), l.dst.Data()
	parallelFor(planes, threads, func(start, end int) {
		for pl := start; pl < end; pl++ {
			inOff, outOff := pl*wIn*hIn, pl*wOut*hOut
			for oy := 0; oy < hOut; oy++ {
				for ox := 0; ox < wOut; ox++ {
					best := -1
					for ky := 0; ky < l.size; ky++ {
						for kx := 0; kx < l.size; kx++ {
							ix := inOff + (oy*l.stride+ky)*wIn + ox*l.stride + kx
							if best < 0 || src[ix] > src[best] {
								best = ix
							}
						}
					}
					dst[outOff+oy*wOut+ox] = src[best]
					l.argmax[outOff+oy*wOut+ox] = int32(best)
				}
			}
		}
	})
}

func (l *poolLayer) bpropData(threads int) {
	wIn, hIn := l.inShape[0], l.inShape[1]
	wOut, hOut := l.outShape[0], l.outShape[1]
	planes := l.inShape[2] * l.inShape[3]
	diffSrc, diffDst := l.DiffSrc().Data(), l.diffDst.Data()
	parallelFor(planes, threads, func(start, end int) {
		for pl := start; pl < end; pl++ {
			in := diffSrc[pl*wIn*hIn : (pl+1)*wIn*hIn]
			for i := range in {
				in[i] = 0
			}
			for i := pl * wOut * hOut; i < (pl+1)*wOut*hOut; i++ {
				diffSrc[l.argmax[i]] += diffDst[i]
			}
		}
	})
}

// relu activation layer, output shape is the same as the previous layer
type reluLayer struct {
	layerBase
}

// Setup new relu activation layer
func (d cpuDevice) ReluLayer(prev Layer) Layer {
	shape := prev.OutShape()
	return &reluLayer{layerBase: newLayerBase(d, "relu", shape, shape)}
}

func (l *reluLayer) fprop(threads int) {
	Relu(l.src, l.dst).exec(threads)
}

func (l *reluLayer) bpropData(threads int) {
	ReluD(l.src, l.diffDst, l.DiffSrc()).exec(threads)
}

// utilities
func outSize(x, size, stride, pad int) int {
	ns := x - size + 2*pad
	if ns < 0 || ns%stride != 0 {
		panic(fmt.Sprintf("output size invalid for input %d filter %d stride %d pad %d", x, size, stride, pad))
	}
	return ns/stride + 1
}
