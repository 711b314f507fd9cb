// Package num contains numeric Array processing routines such as optimised matix multiplication.
package num

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// TransType flag indicates if matrix is transposed
type TransType int

const (
	NoTrans TransType = iota
	Trans
)

func (t TransType) blas() blas.Transpose {
	if t == Trans {
		return blas.Trans
	}
	return blas.NoTrans
}

// Function which may be called via the queue
type Function struct {
	name string
	exec func(threads int)
}

// Name of the operation used in profiling output
func (f Function) Name() string { return f.name }

func args(name string, exec func(threads int)) Function {
	return Function{name: name, exec: exec}
}

// Read data from array into a slice.
func Read(a Array, data []float32) Function {
	if len(data) < a.Size() {
		panic("Read: slice too small")
	}
	return args("read", func(int) { copy(data, a.Data()) })
}

// Write data from a slice into the given array.
func Write(a Array, data []float32) Function {
	if len(data) != a.Size() {
		panic(fmt.Sprintf("Write: slice length %d does not match array size %d", len(data), a.Size()))
	}
	return args("write", func(int) { copy(a.Data(), data) })
}

// Fill array with a scalar value
func Fill(a Array, scalar float32) Function {
	return args("fill", func(int) {
		x := a.Data()
		for i := range x {
			x[i] = scalar
		}
	})
}

// Copy from src to dst, arrays must be same size
func Copy(dst, src Array) Function {
	if dst.Size() != src.Size() {
		panic(fmt.Sprintf("Copy: cannot copy from %v to %v shape", src.Dims(), dst.Dims()))
	}
	return args("copy", func(int) { copy(dst.Data(), src.Data()) })
}

// Scale array: x <- alpha*x
func Scale(alpha float32, x Array) Function {
	return args("scale", func(int) {
		data := x.Data()
		for i := range data {
			data[i] *= alpha
		}
	})
}

// Array addition and scaling: y <- alpha*x + y
func Axpy(alpha float32, x, y Array) Function {
	if !SameShape(x.Dims(), y.Dims()) {
		panic("Axpy: arrays must be same shape")
	}
	return args("axpy", func(int) {
		xd, yd := x.Data(), y.Data()
		for i, v := range xd {
			yd[i] += alpha * v
		}
	})
}

// Clip values in the array to range [lo, hi]
func Clamp(x Array, lo, hi float32) Function {
	return args("clamp", func(int) {
		data := x.Data()
		for i, v := range data {
			if v < lo {
				data[i] = lo
			} else if v > hi {
				data[i] = hi
			}
		}
	})
}

// Calculate the scalar sum of the values in the array. Multiplies each result by scale.
func Sum(a, total Array, scale float32) Function {
	if len(total.Dims()) != 0 {
		panic("Sum: result type should be float32 scalar")
	}
	return args("sum", func(int) {
		var sum float64
		for _, v := range a.Data() {
			sum += float64(v)
		}
		total.Data()[0] = float32(sum) * scale
	})
}

// Matrix matrix multiplication: mC <- alpha*dot(mA, mB) + beta*mC
func Gemm(alpha, beta float32, mA, mB, mC Array, aTrans, bTrans TransType) Function {
	adim, bdim, cdim := mA.Dims(), mB.Dims(), mC.Dims()
	if len(adim) != 2 || len(bdim) != 2 || len(cdim) != 2 {
		panic("Gemm: must have 2 dimensional arrays")
	}
	m, k := adim[0], adim[1]
	k2, n := bdim[0], bdim[1]
	if aTrans == Trans {
		m, k = k, m
	}
	if bTrans == Trans {
		k2, n = n, k2
	}
	if k2 != k {
		panic(fmt.Sprintf("Gemm: invalid input shape %v x %v", adim, bdim))
	}
	if cdim[0] != m || cdim[1] != n {
		panic(fmt.Sprintf("Gemm: invalid output shape %v expecting [%d %d]", cdim, m, n))
	}
	return args("gemm", func(int) {
		// column major A is row major transpose(A), so compute transpose(C) = op(B)' * op(A)'
		a := rowMajor(mA.Data(), adim[1], adim[0])
		b := rowMajor(mB.Data(), bdim[1], bdim[0])
		c := rowMajor(mC.Data(), cdim[1], cdim[0])
		blas32.Gemm(bTrans.blas(), aTrans.blas(), alpha, b, a, beta, c)
	})
}

func rowMajor(data []float32, rows, cols int) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data}
}

// Relu rectified linear activation function: y = max(x, 0)
func Relu(x, y Array) Function {
	if !SameShape(x.Dims(), y.Dims()) {
		panic("Relu: arrays must be same shape")
	}
	return args("relu", func(threads int) {
		xd, yd := x.Data(), y.Data()
		parallelFor(len(xd), threads, func(start, end int) {
			for i := start; i < end; i++ {
				if xd[i] > 0 {
					yd[i] = xd[i]
				} else {
					yd[i] = 0
				}
			}
		})
	})
}

// Relu derivative: y = grad where x > 0 else 0
func ReluD(x, grad, y Array) Function {
	if !SameShape(x.Dims(), y.Dims()) || !SameShape(grad.Dims(), y.Dims()) {
		panic("ReluD: arrays must be same shape")
	}
	return args("relu_d", func(threads int) {
		xd, gd, yd := x.Data(), grad.Data(), y.Data()
		parallelFor(len(xd), threads, func(start, end int) {
			for i := start; i < end; i++ {
				if xd[i] > 0 {
					yd[i] = gd[i]
				} else {
					yd[i] = 0
				}
			}
		})
	})
}

// Adam update step for parameters x given gradient and moment estimates m and v.
// t is the 1 based step number used for bias correction.
func Adam(x, grad, m, v Array, eta, beta1, beta2, eps float32, t int) Function {
	if !SameShape(x.Dims(), grad.Dims()) || !SameShape(x.Dims(), m.Dims()) || !SameShape(x.Dims(), v.Dims()) {
		panic("Adam: arrays must be same shape")
	}
	lr := eta * float32(math.Sqrt(1-math.Pow(float64(beta2), float64(t)))/(1-math.Pow(float64(beta1), float64(t))))
	return args("adam", func(threads int) {
		xd, gd, md, vd := x.Data(), grad.Data(), m.Data(), v.Data()
		parallelFor(len(xd), threads, func(start, end int) {
			for i := start; i < end; i++ {
				g := gd[i]
				md[i] = beta1*md[i] + (1-beta1)*g
				vd[i] = beta2*vd[i] + (1-beta2)*g*g
				xd[i] -= lr * md[i] / (float32(math.Sqrt(float64(vd[i]))) + eps)
			}
		})
	})
}

// Normalise an image batch with dims [width, height, channels, batch]: y = scale * (x - mean) per channel.
// If swap is set the channel order is reversed, i.e. output channel c is taken from input channel channels-1-c.
func Normalise(x, y Array, mean []float32, scale float32, swap bool) Function {
	dims := x.Dims()
	if len(dims) != 4 || !SameShape(dims, y.Dims()) || len(mean) != dims[2] {
		panic(fmt.Sprintf("Normalise: invalid shape %v %v mean %v", dims, y.Dims(), mean))
	}
	return args("normalise", func(threads int) {
		plane, nchan := dims[0]*dims[1], dims[2]
		xd, yd := x.Data(), y.Data()
		parallelFor(nchan*dims[3], threads, func(start, end int) {
			for i := start; i < end; i++ {
				c, n := i%nchan, i/nchan
				src := c
				if swap {
					src = nchan - 1 - c
				}
				in := xd[(n*nchan+src)*plane : (n*nchan+src+1)*plane]
				out := yd[i*plane : (i+1)*plane]
				for j, v := range in {
					out[j] = scale * (v - mean[c])
				}
			}
		})
	})
}

// Gradient of Normalise with respect to the input given the output gradient.
func NormaliseD(grad, dx Array, scale float32, swap bool) Function {
	dims := grad.Dims()
	if len(dims) != 4 || !SameShape(dims, dx.Dims()) {
		panic(fmt.Sprintf("NormaliseD: invalid shape %v %v", dims, dx.Dims()))
	}
	return args("normalise_d", func(threads int) {
		plane, nchan := dims[0]*dims[1], dims[2]
		gd, xd := grad.Data(), dx.Data()
		parallelFor(nchan*dims[3], threads, func(start, end int) {
			for i := start; i < end; i++ {
				c, n := i%nchan, i/nchan
				dst := c
				if swap {
					dst = nchan - 1 - c
				}
				in := gd[i*plane : (i+1)*plane]
				out := xd[(n*nchan+dst)*plane : (n*nchan+dst+1)*plane]
				for j, v := range in {
					out[j] = scale * v
				}
			}
		})
	})
}
