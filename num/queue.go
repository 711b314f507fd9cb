package num

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

const queueSize = 64

// Device interface type
type Device interface {
	// Setup new worker queue
	NewQueue(threads int) Queue
	// Allocate new n dimensional array
	NewArray(dims ...int) Array
	NewArrayLike(a Array) Array
	// Create new layers
	ConvLayer(nBatch, depth, h, w, nFeats, size, stride, pad int) Layer
	MaxPoolLayer(prev Layer, size, stride int) Layer
	ReluLayer(prev Layer) Layer
	// Accelerated devices run numeric functions across multiple threads
	Accel() bool
}

// Initialise new CPU device. If accel is set then operations are split across multiple goroutines.
func NewDevice(accel bool) Device {
	return cpuDevice{accel: accel}
}

// A Queue processes a series of operations on a Device
type Queue interface {
	Device
	Dev() Device
	// Number of worker threads used by each function
	Threads() int
	// Asyncronous function call
	Call(args ...Function) Queue
	// Wait for any pending requests to complete
	Finish()
	// Shutdown the queue and release any resources
	Shutdown()
	// Enable profiling
	Profiling(on bool)
	Profile() string
}

type cpuDevice struct {
	accel bool
}

func (d cpuDevice) Accel() bool { return d.accel }

type cpuQueue struct {
	cpuDevice
	buffer  [queueSize]Function
	queued  int
	threads int
	*profile
}

// Threads is ignored unless the device is accelerated, if threads < 1 then use all of the available CPUs.
func (d cpuDevice) NewQueue(threads int) Queue {
	if !d.accel {
		threads = 1
	} else if threads < 1 {
		threads = runtime.NumCPU()
	}
	return &cpuQueue{
		cpuDevice: d,
		threads:   threads,
		profile:   newProfile(),
	}
}

func (q *cpuQueue) Dev() Device { return q.cpuDevice }

func (q *cpuQueue) Threads() int { return q.threads }

func (q *cpuQueue) exec() {
	for _, fn := range q.buffer[:q.queued] {
		if q.profile.enabled {
			start := time.Now()
			fn.exec(q.threads)
			q.profile.add(fn.name, time.Since(start))
		} else {
			fn.exec(q.threads)
		}
	}
	q.queued = 0
}

func (q *cpuQueue) Call(args ...Function) Queue {
	for _, arg := range args {
		if q.queued >= queueSize {
			q.exec()
		}
		q.buffer[q.queued] = arg
		q.queued++
	}
	return q
}

func (q *cpuQueue) Finish() {
	if q.queued > 0 {
		q.exec()
	}
}

func (q *cpuQueue) Shutdown() {
	q.Finish()
	if q.profile.enabled {
		fmt.Print(q.Profile())
	}
}

// profiling functions
type profile struct {
	prof    map[string]profileRec
	enabled bool
}

type profileRec struct {
	name  string
	calls int64
	msec  float64
}

func newProfile() *profile {
	return &profile{prof: make(map[string]profileRec)}
}

func (p *profile) Profiling(on bool) {
	p.enabled = on
}

func (p *profile) add(name string, elapsed time.Duration) {
	r := p.prof[name]
	r.name = name
	r.calls++
	r.msec += elapsed.Seconds() * 1000
	p.prof[name] = r
}

func (p *profile) Profile() string {
	list := make([]profileRec, 0, len(p.prof))
	for _, v := range p.prof {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[j].msec < list[i].msec })
	s := []string{"== Profile =="}
	totalCalls := int64(0)
	totalMsec := 0.0
	for _, r := range list {
		s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", r.name, r.calls, r.msec))
		totalCalls += r.calls
		totalMsec += r.msec
	}
	s = append(s, fmt.Sprintf("%-25s %8d calls %10.1f msec", "TOTAL", totalCalls, totalMsec))
	return strings.Join(s, "\n") + "\n"
}

// run f over chunks of the range [0, n) using up to threads goroutines
func parallelFor(n, threads int, f func(start, end int)) {
	if threads <= 1 || n < 2*threads {
		f(0, n)
		return
	}
	grain := (n + threads - 1) / threads
	var wg sync.WaitGroup
	for start := 0; start < n; start += grain {
		end := start + grain
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			f(start, end)
			wg.Done()
		}(start, end)
	}
	wg.Wait()
}
