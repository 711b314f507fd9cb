package nnet

import (
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/jnb666/dfi/num"
)

const eps = 1e-6

var devices []num.Device

func init() {
	devices = []num.Device{
		num.NewDevice(false),
		num.NewDevice(true),
	}
}

func abs(x float32) float32 {
	if x >= 0 {
		return x
	}
	return -x
}

func randArray(rng *rand.Rand, size int, min, max float32) []float32 {
	v := make([]float32, size)
	for i := range v {
		v[i] = min + rng.Float32()*(max-min)
	}
	return v
}

func testConfig() Config {
	conf := Config{Name: "test", InputShape: []int{8, 6, 3}}
	return conf.AddLayers(
		Normalise{Name: "input", Mean: []float32{1, 2, 3}, Scale: 0.5, BGR: true},
		Conv{Name: "c1", Nfeats: 4, Size: 3, Pad: 1},
		Activation{Name: "r1", Atype: "relu"},
		MaxPool{Name: "p1", Size: 2},
		Conv{Name: "c2", Nfeats: 5, Size: 3, Pad: 1},
		Activation{Name: "r2", Atype: "relu"},
	)
}

func setupNetwork(t *testing.T, q num.Queue, batch int) *Network {
	net := New(q, testConfig(), batch)
	rng := rand.New(rand.NewSource(42))
	for _, layer := range net.Layers {
		if l, ok := layer.(ParamLayer); ok {
			W, B := l.Params()
			q.Call(
				num.Write(W, randArray(rng, W.Size(), -0.5, 0.5)),
				num.Write(B, randArray(rng, B.Size(), 0, 0.1)),
			)
		}
	}
	q.Finish()
	t.Log(net)
	return net
}

func compareArray(t *testing.T, q num.Queue, title string, A num.Array, expect []float32) {
	arr := make([]float32, A.Size())
	q.Call(num.Read(A, arr)).Finish()
	if len(arr) != len(expect) {
		t.Fatal(title, "length mismatch!")
	}
	for i := range arr {
		if abs(arr[i]-expect[i]) > eps*(1+abs(expect[i])) {
			t.Error(title, "mismatch at", i, ":", arr[i], "expect", expect[i])
			return
		}
	}
}

func TestVGG19Config(t *testing.T) {
	conf := VGG19(224, 224)
	if len(conf.Layers) != 37 {
		t.Errorf("expecting 37 layers, got %d", len(conf.Layers))
	}
	file := filepath.Join(t.TempDir(), "vgg19.json")
	if err := conf.Save(file); err != nil {
		t.Fatal(err)
	}
	conf2, err := LoadConfig(file)
	if err != nil {
		t.Fatal(err)
	}
	if conf.String() != conf2.String() {
		t.Errorf("config mismatch after reload:\n%s\n%s", conf, conf2)
	}
	t.Log(conf2)
}

func TestSetTaps(t *testing.T) {
	q := devices[0].NewQueue(1)
	net := setupNetwork(t, q, 2)
	if err := net.SetTaps("c1", "r2"); err != nil {
		t.Fatal(err)
	}
	if names := net.TapNames(); !reflect.DeepEqual(names, []string{"r1", "r2"}) {
		t.Error("tap names: got", names)
	}
	expect := [][]int{{8, 6, 4, 2}, {4, 3, 5, 2}}
	if shapes := net.TapShapes(); !reflect.DeepEqual(shapes, expect) {
		t.Error("tap shapes: got", shapes, "expect", expect)
	}
	if err := net.SetTaps("conv9"); err == nil {
		t.Error("expecting error for unknown layer")
	}
}

// gradient of sum(tap_i * r_i) with respect to the input compared with a central difference estimate
func TestBpropTaps(t *testing.T) {
	for _, dev := range devices {
		q := dev.NewQueue(4)
		net := setupNetwork(t, q, 2)
		if err := net.SetTaps("c1", "c2"); err != nil {
			t.Fatal(err)
		}
		rng := rand.New(rand.NewSource(1))
		input := q.NewArray(net.InShape()...)
		q.Call(num.Write(input, randArray(rng, input.Size(), 0, 10)))
		var grads []num.Array
		for _, shape := range net.TapShapes() {
			g := q.NewArray(shape...)
			q.Call(num.Write(g, randArray(rng, g.Size(), -1, 1)))
			grads = append(grads, g)
		}
		net.FpropTaps(input)
		dx := net.BpropTaps(grads)
		q.Finish()
		grad := append([]float32{}, dx.Data()...)
		loss := func() float64 {
			taps := net.FpropTaps(input)
			q.Finish()
			sum := 0.0
			for i, tap := range taps {
				for j, v := range tap.Data() {
					sum += float64(v) * float64(grads[i].Data()[j])
				}
			}
			return sum
		}
		xd := input.Data()
		for _, i := range rng.Perm(len(xd))[:20] {
			save := xd[i]
			xd[i] = save + 1e-3
			l1 := loss()
			xd[i] = save - 1e-3
			l2 := loss()
			xd[i] = save
			numeric := (l1 - l2) / 2e-3
			if diff := math.Abs(numeric - float64(grad[i])); diff > 2e-2*math.Max(1, math.Abs(numeric)) {
				t.Errorf("gradient mismatch at %d: backprop %g numeric %g", i, grad[i], numeric)
			}
		}
		q.Shutdown()
	}
}

func TestShareParams(t *testing.T) {
	q := devices[1].NewQueue(2)
	net := setupNetwork(t, q, 3)
	single := New(q, testConfig(), 1)
	single.ShareParams(net)
	for _, n := range []*Network{net, single} {
		if err := n.SetTaps("c2"); err != nil {
			t.Fatal(err)
		}
	}
	rng := rand.New(rand.NewSource(2))
	input := q.NewArray(net.InShape()...)
	q.Call(num.Write(input, randArray(rng, input.Size(), 0, 255)))
	out := net.FpropTaps(input)[0]
	q.Finish()
	expect := append([]float32{}, out.Data()...)
	size := len(expect) / 3
	imgSize := input.Size() / 3
	for n := 0; n < 3; n++ {
		x := q.NewArray(single.InShape()...)
		q.Call(num.Write(x, input.Data()[n*imgSize:(n+1)*imgSize]))
		res := single.FpropTaps(x)[0]
		compareArray(t, q, "shared", res, expect[n*size:(n+1)*size])
	}
}

func TestWeightsSaveLoad(t *testing.T) {
	q := devices[0].NewQueue(1)
	net := setupNetwork(t, q, 1)
	data := net.Export()
	if len(data) != 2 || data[0].Name != "c1" || data[1].Name != "c2" {
		t.Fatalf("unexpected export: %d layers", len(data))
	}
	file := filepath.Join(t.TempDir(), "weights.gob")
	if err := SaveWeights(file, data); err != nil {
		t.Fatal(err)
	}
	data2, err := LoadWeights(file)
	if err != nil {
		t.Fatal(err)
	}
	net2 := New(q, testConfig(), 1)
	if err := net2.Import(data2); err != nil {
		t.Fatal(err)
	}
	for i, d := range net2.Export() {
		if !reflect.DeepEqual(d, data[i]) {
			t.Errorf("layer %s weights differ after reload", d.Name)
		}
	}
	data2[0].Biases = data2[0].Biases[1:]
	if err := net2.Import(data2); err == nil {
		t.Error("expecting size mismatch error")
	} else {
		t.Log(err)
	}
	if _, err := LoadWeights("weights.txt"); err == nil {
		t.Error("expecting unsupported format error")
	}
}

func TestFromHWIO(t *testing.T) {
	// kh=1, kw=2, cin=1, cout=2: row major src[kx][f]
	src := []float32{1, 2, 3, 4}
	res := fromHWIO(src, []int{2, 1, 1, 2})
	// native layout has kx fastest then output feature
	expect := []float32{1, 3, 2, 4}
	if !reflect.DeepEqual(res, expect) {
		t.Error("got", res, "expect", expect)
	}
}
