package dfi

import (
	"context"
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/num"
	"github.com/pkg/errors"
)

// objective with target features from a different random image
func setupObjective(t *testing.T, c *Context, rng *rand.Rand) (*Objective, *img.RGBImage) {
	ext := c.ImageExtractor()
	target, err := ext.ExtractOne(randImage(rng, 8, 8, 0, 255))
	if err != nil {
		t.Fatal(err)
	}
	obj, err := NewObjective(ext, target, c.Lambda, c.Beta)
	if err != nil {
		t.Fatal(err)
	}
	return obj, randImage(rng, 8, 8, 50, 200)
}

// learning rate which moves the image a distance of dist in the first step
func stepSize(c *Context, obj *Objective, m *img.RGBImage, dist float64) float64 {
	x := c.Queue.NewArray(obj.Extractor().Network().InShape()...)
	grad := c.Queue.NewArrayLike(x)
	c.Queue.Call(num.Write(x, m.Pix)).Finish()
	obj.Evaluate(x, grad)
	sum := 0.0
	for _, g := range grad.Data() {
		sum += float64(g) * float64(g)
	}
	return dist / math.Sqrt(sum)
}

func TestCheckpointInterval(t *testing.T) {
	for _, test := range []struct{ steps, every int }{{0, 1}, {5, 1}, {100, 1}, {150, 2}, {1000, 10}, {1001, 11}} {
		if every := CheckpointInterval(test.steps); every != test.every {
			t.Errorf("steps=%d: got %d expect %d", test.steps, every, test.every)
		}
	}
}

func TestOptimizeZeroSteps(t *testing.T) {
	for _, opt := range []string{"adam", "lbfgs"} {
		conf := testConfig(t)
		conf.Steps = 0
		conf.Optimizer = opt
		conf.Activations = true
		sink := newRecordSink()
		c := setupContext(t, conf, sink)
		obj, start := setupObjective(t, c, rand.New(rand.NewSource(5)))
		res, err := c.Optimize(context.Background(), start, obj)
		if err != nil {
			t.Fatal(err)
		}
		if res == start || !reflect.DeepEqual(res.Pix, start.Pix) {
			t.Errorf("%s: expecting unchanged copy of start image", opt)
		}
		if steps := sink.steps["loss"]; !reflect.DeepEqual(steps, []int{0}) {
			t.Errorf("%s: checkpoint steps %v", opt, steps)
		}
		expect := []string{"z_0", "act_r1_0", "act_r2_0"}
		if !reflect.DeepEqual(sink.images, expect) {
			t.Errorf("%s: got images %v expect %v", opt, sink.images, expect)
		}
	}
}

func TestOptimizeSGD(t *testing.T) {
	conf := testConfig(t)
	conf.Optimizer = "sgd"
	conf.Steps = 8
	sink := newRecordSink()
	c := setupContext(t, conf, sink)
	obj, start := setupObjective(t, c, rand.New(rand.NewSource(6)))
	c.Eta = stepSize(c, obj, start, 0.1)
	t.Log("eta =", c.Eta)
	res, err := c.Optimize(context.Background(), start, obj)
	if err != nil {
		t.Fatal(err)
	}
	losses := sink.values["loss"]
	t.Log("loss:", losses)
	if len(losses) != 9 || sink.steps["loss"][8] != 8 {
		t.Fatalf("expecting 9 checkpoints, got steps %v", sink.steps["loss"])
	}
	for i := 1; i < len(losses); i++ {
		if losses[i] > losses[i-1]+1e-6 {
			t.Errorf("loss increased at step %d: %g -> %g", i, losses[i-1], losses[i])
		}
	}
	if reflect.DeepEqual(res.Pix, start.Pix) {
		t.Error("image was not updated")
	}
	if len(sink.images) != 9 || sink.images[8] != "z_8" {
		t.Error("snapshots:", sink.images)
	}
}

func TestOptimizers(t *testing.T) {
	for _, opt := range []string{"momentum", "adam", "lbfgs"} {
		conf := testConfig(t)
		conf.Optimizer = opt
		conf.Steps = 10
		sink := newRecordSink()
		c := setupContext(t, conf, sink)
		obj, start := setupObjective(t, c, rand.New(rand.NewSource(7)))
		switch opt {
		case "momentum":
			c.Eta = stepSize(c, obj, start, 0.05)
		case "adam":
			c.Eta = 0.05
		}
		if _, err := c.Optimize(context.Background(), start, obj); err != nil {
			t.Fatal(opt, err)
		}
		losses := sink.values["loss"]
		t.Logf("%s: steps %v loss %v", opt, sink.steps["loss"], losses)
		if len(losses) < 2 {
			t.Fatalf("%s: expecting at least 2 checkpoints", opt)
		}
		if first, last := losses[0], losses[len(losses)-1]; last > first {
			t.Errorf("%s: loss increased from %g to %g", opt, first, last)
		}
	}
}

func TestOptimizeClamp(t *testing.T) {
	conf := testConfig(t)
	conf.Optimizer = "sgd"
	conf.Eta = 1e6
	conf.Steps = 3
	conf.Clamp = true
	c := setupContext(t, conf, nil)
	obj, start := setupObjective(t, c, rand.New(rand.NewSource(8)))
	res, err := c.Optimize(context.Background(), start, obj)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range res.Pix {
		if v < 0 || v > img.MaxValue {
			t.Fatalf("pixel %d out of range: %g", i, v)
		}
	}
}

func TestOptimizeDivergence(t *testing.T) {
	for _, opt := range []string{"adam", "lbfgs"} {
		conf := testConfig(t)
		conf.Optimizer = opt
		sink := newRecordSink()
		c := setupContext(t, conf, sink)
		ext := c.ImageExtractor()
		target := make(FeatureVector, ext.Size())
		target[0] = math.NaN()
		obj, err := NewObjective(ext, target, c.Lambda, c.Beta)
		if err != nil {
			t.Fatal(err)
		}
		_, err = c.Optimize(context.Background(), randImage(rand.New(rand.NewSource(9)), 8, 8, 0, 255), obj)
		if e, ok := errors.Cause(err).(NumericDivergenceError); !ok || e.Step != 0 {
			t.Errorf("%s: expecting divergence error at step 0, got %v", opt, err)
		} else {
			t.Log(err)
		}
	}
}

func TestOptimizeCancel(t *testing.T) {
	c := setupContext(t, testConfig(t), nil)
	obj, start := setupObjective(t, c, rand.New(rand.NewSource(10)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Optimize(ctx, start, obj); err != context.Canceled {
		t.Error("expecting cancelled error, got", err)
	}
	if _, err := c.Optimize(context.Background(), img.NewRGB(4, 4), obj); err == nil {
		t.Error("expecting error for wrong image size")
	}
}
