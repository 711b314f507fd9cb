package dfi

import (
	"context"
	"fmt"
	"time"

	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/num"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Checkpoint is the state of the optimization at one step.
type Checkpoint struct {
	Step    int
	Loss    Loss
	TVLoss  float64
	Elapsed time.Duration
	Image   *img.RGBImage
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("Step: %d\n%14.10f - loss\n%14.10f - tv_loss\n%14.10f - diff_loss",
		c.Step, c.Loss.Total, c.TVLoss, c.Loss.Feature)
}

// CheckpointInterval returns the number of steps between checkpoints for a run of the given length.
func CheckpointInterval(steps int) int {
	return max(1, (steps+99)/100)
}

// first order update rule, t is the 1 based step number
type updater interface {
	update(x, grad num.Array, t int)
}

var optimizers = map[string]func(q num.Queue, x num.Array, c Config) updater{
	"sgd":      newSGD,
	"momentum": newMomentum,
	"adam":     newAdam,
	"lbfgs":    nil,
}

type sgd struct {
	q   num.Queue
	eta float32
}

func newSGD(q num.Queue, x num.Array, c Config) updater {
	return sgd{q: q, eta: float32(c.Eta)}
}

func (o sgd) update(x, grad num.Array, t int) {
	o.q.Call(num.Axpy(-o.eta, grad, x))
}

type momentum struct {
	q       num.Queue
	eta, mu float32
	v       num.Array
}

func newMomentum(q num.Queue, x num.Array, c Config) updater {
	return momentum{q: q, eta: float32(c.Eta), mu: float32(c.Momentum), v: q.NewArrayLike(x)}
}

func (o momentum) update(x, grad num.Array, t int) {
	o.q.Call(
		num.Scale(o.mu, o.v),
		num.Axpy(-o.eta, grad, o.v),
		num.Axpy(1, o.v, x),
	)
}

type adam struct {
	q        num.Queue
	eta, eps float32
	m, v     num.Array
}

func newAdam(q num.Queue, x num.Array, c Config) updater {
	return adam{q: q, eta: float32(c.Eta), eps: float32(c.Eps), m: q.NewArrayLike(x), v: q.NewArrayLike(x)}
}

func (o adam) update(x, grad num.Array, t int) {
	o.q.Call(num.Adam(x, grad, o.m, o.v, o.eta, 0.9, 0.999, o.eps, t))
}

type optRun struct {
	*Context
	ctx   context.Context
	obj   *Objective
	x     num.Array
	grad  num.Array
	every int
	start time.Time
}

// Optimize updates the pixels of the initial image for the configured number of steps to minimise the
// objective. The loss terms and a snapshot of the image are sent to the sink at each checkpoint.
// If steps is zero then a copy of the initial image is returned.
func (c *Context) Optimize(ctx context.Context, initial *img.RGBImage, obj *Objective) (*img.RGBImage, error) {
	if err := obj.ext.checkShape(initial); err != nil {
		return nil, err
	}
	r := &optRun{
		Context: c,
		ctx:     ctx,
		obj:     obj,
		every:   CheckpointInterval(c.Steps),
		start:   time.Now(),
	}
	r.x = c.Queue.NewArray(obj.ext.net.InShape()...)
	r.grad = c.Queue.NewArrayLike(r.x)
	c.Queue.Call(num.Write(r.x, initial.Pix)).Finish()
	fmt.Printf("optimizing %dx%d image: %s optimizer for %d steps\n", initial.Width, initial.Height, c.Optimizer, c.Steps)
	var err error
	if c.Optimizer == "lbfgs" {
		err = r.lbfgs()
	} else {
		err = r.firstOrder()
	}
	if err != nil {
		return nil, err
	}
	fmt.Printf("optimization done in %s\n", time.Since(r.start).Round(time.Millisecond))
	return r.image(), nil
}

func (r *optRun) firstOrder() error {
	opt := optimizers[r.Optimizer](r.Queue, r.x, r.Config)
	for i := 0; i <= r.Steps; i++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		loss := r.obj.Evaluate(r.x, r.grad)
		if !finite(loss.Total) {
			return NumericDivergenceError{Step: i, Loss: loss.Total}
		}
		if i%r.every == 0 || i == r.Steps {
			r.checkpoint(i, loss)
		}
		if i < r.Steps {
			opt.update(r.x, r.grad, i+1)
			if r.Clamp {
				r.Queue.Call(num.Clamp(r.x, 0, img.MaxValue))
			}
			r.Queue.Finish()
		}
	}
	return nil
}

func (r *optRun) lbfgs() error {
	e := &evalCache{run: r}
	x0 := make([]float64, r.x.Size())
	for i, v := range r.x.Data() {
		x0[i] = float64(v)
	}
	loss := e.at(x0)
	if !finite(loss.Total) {
		return NumericDivergenceError{Step: 0, Loss: loss.Total}
	}
	r.checkpoint(0, loss)
	if r.Steps == 0 {
		return nil
	}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			return e.at(x).Total
		},
		Grad: func(grad, x []float64) {
			e.at(x)
			copy(grad, e.grad)
		},
	}
	rec := &recorder{run: r, eval: e}
	settings := &optimize.Settings{
		MajorIterations: r.Steps,
		Converger:       optimize.NeverTerminate{},
		Recorder:        rec,
	}
	res, err := optimize.Minimize(problem, x0, settings, &optimize.LBFGS{})
	if rec.err != nil {
		return rec.err
	}
	if err != nil {
		if !finite(e.loss.Total) {
			return NumericDivergenceError{Step: rec.step, Loss: e.loss.Total}
		}
		if res == nil {
			return err
		}
		fmt.Printf("lbfgs stopped after %d steps: %v\n", rec.step, err)
	}
	loss = e.reset(res.X)
	if rec.last != rec.step {
		r.checkpoint(rec.step, loss)
	}
	return nil
}

// checkpoint logs the loss and sends the metrics and a snapshot of the current image to the sink.
// Must be called directly after evaluating the objective at the current image.
func (r *optRun) checkpoint(step int, loss Loss) {
	cp := Checkpoint{
		Step:    step,
		Loss:    loss,
		TVLoss:  r.obj.Lambda * loss.Smooth,
		Elapsed: time.Since(r.start),
		Image:   r.image(),
	}
	fmt.Println(cp)
	r.obj.Report(step, r.Sink)
	r.Sink.Scalar(step, "elapsed", cp.Elapsed.Seconds())
	r.Sink.Image(step, "z", cp.Image)
	if r.Activations {
		for _, tap := range r.obj.ext.Taps() {
			r.Sink.Image(step, "act_"+tap.Name, img.Activations(tap.Data, tap.Dims[0], tap.Dims[1], tap.Dims[2]))
		}
	}
}

// copy of the current image
func (r *optRun) image() *img.RGBImage {
	dims := r.x.Dims()
	m := img.NewRGB(dims[0], dims[1])
	r.Queue.Call(num.Read(r.x, m.Pix)).Finish()
	return m
}

// evalCache evaluates the objective at float64 points, reusing the last result if the point is unchanged.
type evalCache struct {
	run  *optRun
	x    []float64
	loss Loss
	grad []float64
	buf  []float32
}

func (e *evalCache) at(x []float64) Loss {
	if len(e.x) == len(x) && floats.Equal(e.x, x) {
		return e.loss
	}
	r := e.run
	if e.buf == nil {
		e.buf = make([]float32, len(x))
		e.grad = make([]float64, len(x))
	}
	for i, v := range x {
		e.buf[i] = float32(v)
	}
	r.Queue.Call(num.Write(r.x, e.buf))
	e.loss = r.obj.Evaluate(r.x, r.grad)
	for i, v := range r.grad.Data() {
		e.grad[i] = float64(v)
	}
	e.x = append(e.x[:0], x...)
	return e.loss
}

// reset evaluates the objective at x so that the image and network state are at this point
func (e *evalCache) reset(x []float64) Loss {
	e.x = e.x[:0]
	return e.at(x)
}

// recorder creates checkpoints at the end of each major iteration of the lbfgs optimizer
type recorder struct {
	run  *optRun
	eval *evalCache
	step int
	last int
	err  error
}

func (rec *recorder) Init() error {
	return nil
}

func (rec *recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op != optimize.MajorIteration {
		return nil
	}
	r := rec.run
	if err := r.ctx.Err(); err != nil {
		rec.err = err
		return err
	}
	rec.step++
	if !finite(loc.F) {
		rec.err = NumericDivergenceError{Step: rec.step, Loss: loc.F}
		return rec.err
	}
	if rec.step%r.every == 0 || rec.step == r.Steps {
		r.checkpoint(rec.step, rec.eval.reset(loc.X))
		rec.last = rec.step
	}
	return nil
}
