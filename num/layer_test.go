package num

import (
	"math"
	"math/rand"
	"reflect"
	"testing"
)

func TestOutSize(t *testing.T) {
	tests := []struct{ x, size, stride, pad, out int }{
		{224, 3, 1, 1, 224},
		{224, 2, 2, 0, 112},
		{28, 5, 1, 0, 24},
		{5, 3, 2, 0, 2},
	}
	for _, test := range tests {
		if n := outSize(test.x, test.size, test.stride, test.pad); n != test.out {
			t.Errorf("outSize(%d,%d,%d,%d) got %d expect %d", test.x, test.size, test.stride, test.pad, n, test.out)
		}
	}
}

func TestConvFprop(t *testing.T) {
	dev := NewDevice(false)
	q := dev.NewQueue(1)
	layer := dev.ConvLayer(1, 1, 3, 3, 1, 3, 1, 1)
	W := dev.NewArray(layer.FilterShape()...)
	B := dev.NewArray(layer.BiasShape()...)
	x := dev.NewArray(layer.InShape()...)
	layer.SetParams(W, B)
	layer.SetSrc(x)
	q.Call(
		Fill(W, 1),
		Fill(B, 0.5),
		Fill(x, 1),
		Fprop(layer),
	).Finish()
	t.Logf("conv output\n%s", layer.Dst().String(q))
	expect := []float32{4.5, 6.5, 4.5, 6.5, 9.5, 6.5, 4.5, 6.5, 4.5}
	for i, v := range layer.Dst().Data() {
		if v != expect[i] {
			t.Fatal("got", layer.Dst().Data(), "expect", expect)
		}
	}
}

func TestConvGradient(t *testing.T) {
	tests := []struct{ batch, depth, h, w, feats, size, stride, pad int }{
		{2, 2, 5, 6, 3, 3, 1, 1},
		{3, 3, 5, 5, 2, 3, 2, 0},
	}
	for _, accel := range []bool{false, true} {
		for _, test := range tests {
			dev := NewDevice(accel)
			q := dev.NewQueue(4)
			rng := rand.New(rand.NewSource(1))
			layer := dev.ConvLayer(test.batch, test.depth, test.h, test.w, test.feats, test.size, test.stride, test.pad)
			W := randArray(dev, rng, layer.FilterShape()...)
			B := randArray(dev, rng, layer.BiasShape()...)
			layer.SetParams(W, B)
			gradCheck(t, q, layer, rng, randArray(dev, rng, layer.InShape()...), 1e-2)
		}
	}
}

func TestPoolGradient(t *testing.T) {
	for _, accel := range []bool{false, true} {
		dev := NewDevice(accel)
		q := dev.NewQueue(4)
		rng := rand.New(rand.NewSource(2))
		conv := dev.ConvLayer(2, 3, 6, 8, 4, 3, 1, 1)
		pool := dev.MaxPoolLayer(conv, 2, 2)
		if shape := pool.OutShape(); shape[0] != 4 || shape[1] != 3 || shape[2] != 4 || shape[3] != 2 {
			t.Fatal("invalid pool output shape", shape)
		}
		// distinct values so that a small perturbation does not change the maximum
		x := dev.NewArray(pool.InShape()...)
		for i, j := range rng.Perm(x.Size()) {
			x.Data()[i] = 0.1 * float32(j)
		}
		gradCheck(t, q, pool, rng, x, 1e-2)
	}
}

// compare the backprop gradient of sum(dst*r) with respect to the input against a central difference estimate
func gradCheck(t *testing.T, q Queue, layer Layer, rng *rand.Rand, x Array, eps float32) {
	r := randArray(q, rng, layer.OutShape()...)
	layer.SetSrc(x)
	layer.SetDiffDst(r)
	q.Call(Fprop(layer), BpropData(layer)).Finish()
	grad := append([]float32{}, layer.DiffSrc().Data()...)
	loss := func() float64 {
		q.Call(Fprop(layer)).Finish()
		sum := 0.0
		for i, v := range layer.Dst().Data() {
			sum += float64(v) * float64(r.Data()[i])
		}
		return sum
	}
	xd := x.Data()
	for _, i := range rng.Perm(len(xd))[:20] {
		save := xd[i]
		xd[i] = save + eps
		l1 := loss()
		xd[i] = save - eps
		l2 := loss()
		xd[i] = save
		numeric := (l1 - l2) / (2 * float64(eps))
		if diff := math.Abs(numeric - float64(grad[i])); diff > 1e-2*math.Max(1, math.Abs(numeric)) {
			t.Errorf("%s: gradient mismatch at %d: backprop %g numeric %g", layer.Type(), i, grad[i], numeric)
		}
	}
}

func randArray(dev Device, rng *rand.Rand, dims ...int) Array {
	a := dev.NewArray(dims...)
	for i := range a.Data() {
		a.Data()[i] = rng.Float32() - 0.5
	}
	return a
}

func TestReluGradient(t *testing.T) {
	dev := NewDevice(true)
	q := dev.NewQueue(2)
	rng := rand.New(rand.NewSource(3))
	conv := dev.ConvLayer(2, 2, 4, 4, 3, 3, 1, 1)
	relu := dev.ReluLayer(conv)
	x := randArray(dev, rng, relu.InShape()...)
	// keep inputs away from zero where relu is not differentiable
	for i, v := range x.Data() {
		if v >= 0 {
			x.Data()[i] = v + 0.1
		} else {
			x.Data()[i] = v - 0.1
		}
	}
	gradCheck(t, q, relu, rng, x, 1e-2)
}

func TestNormalise(t *testing.T) {
	dev := NewDevice(false)
	q := dev.NewQueue(1)
	x := dev.NewArray(1, 2, 3, 1)
	y := dev.NewArray(1, 2, 3, 1)
	dx := dev.NewArray(1, 2, 3, 1)
	res := make([]float32, 6)
	q.Call(
		Write(x, []float32{10, 20, 30, 40, 50, 60}),
		Normalise(x, y, []float32{1, 2, 3}, 2, true),
		Read(y, res),
	).Finish()
	// channels reversed: out0 = in2, out1 = in1, out2 = in0
	expect := []float32{98, 118, 56, 76, 14, 34}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
	q.Call(
		NormaliseD(y, dx, 0.5, true),
		Read(dx, res),
	).Finish()
	expect = []float32{7, 17, 28, 38, 49, 59}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}
