package dfi

import (
	"fmt"

	"github.com/jnb666/dfi/nnet"
	"github.com/jnb666/dfi/num"
)

// Context holds the resources shared by all stages of a run: the settings, the compute queue, the
// network with its frozen weights and the metrics sink.
type Context struct {
	Config
	Queue   num.Queue
	Sink    MetricsSink
	netConf nnet.Config
	weights []nnet.LayerData
	base    *nnet.Network
	batch   *Extractor
	single  *Extractor
}

// NewContext loads the network definition and weights given in the config.
// If the NetConfig file is not set then the built in VGG-19 definition is used.
func NewContext(conf Config, sink MetricsSink) (*Context, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	netConf := nnet.VGG19(conf.Width, conf.Height)
	if conf.NetConfig != "" {
		var err error
		if netConf, err = nnet.LoadConfig(conf.NetConfig); err != nil {
			return nil, configErrorf("network config: %v", err)
		}
	}
	weights, err := nnet.LoadWeights(conf.ModelPath)
	if err != nil {
		return nil, configErrorf("model weights: %v", err)
	}
	return NewContextFromNetwork(conf, netConf, weights, sink)
}

// NewContextFromNetwork creates a context using the given network definition and weights.
func NewContextFromNetwork(conf Config, netConf nnet.Config, weights []nnet.LayerData, sink MetricsSink) (*Context, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if !num.SameShape(netConf.InputShape, []int{conf.Width, conf.Height, 3}) {
		return nil, configErrorf("network %s input shape %v does not match image size %dx%d",
			netConf.Name, netConf.InputShape, conf.Width, conf.Height)
	}
	if sink == nil {
		sink = MultiSink{}
	}
	netConf.DebugLevel = conf.DebugLevel
	dev := num.NewDevice(conf.UseAccel)
	c := &Context{
		Config:  conf,
		Queue:   dev.NewQueue(conf.Threads),
		Sink:    sink,
		netConf: netConf,
		weights: weights,
	}
	c.Queue.Profiling(conf.Profile)
	net, err := c.newNetwork(conf.BatchSize)
	if err != nil {
		c.Queue.Shutdown()
		return nil, err
	}
	c.base = net
	if conf.DebugLevel >= 1 {
		fmt.Printf("feature layers %v: %v\n", net.TapNames(), net.TapShapes())
	}
	return c, nil
}

func (c *Context) newNetwork(batchSize int) (*nnet.Network, error) {
	net := nnet.New(c.Queue, c.netConf, batchSize)
	if err := net.SetTaps(c.Layers()...); err != nil {
		return nil, ConfigurationError{Msg: err.Error()}
	}
	if c.base != nil {
		net.ShareParams(c.base)
	} else if err := net.Import(c.weights); err != nil {
		return nil, ConfigurationError{Msg: err.Error()}
	}
	return net, nil
}

// BatchExtractor is used to compute features for the example images.
func (c *Context) BatchExtractor() *Extractor {
	if c.batch == nil {
		c.batch = NewExtractor(c.Queue, c.base)
	}
	return c.batch
}

// ImageExtractor is used to compute features for the image being optimized.
// It has a batch size of one and shares weights with the batch extractor.
func (c *Context) ImageExtractor() *Extractor {
	if c.single == nil {
		if c.base.BatchSize() == 1 {
			c.single = c.BatchExtractor()
		} else {
			net, err := c.newNetwork(1)
			if err != nil {
				panic(err)
			}
			c.single = NewExtractor(c.Queue, net)
		}
	}
	return c.single
}

// Release shuts down the queue and prints the profile if enabled.
func (c *Context) Release() {
	c.Queue.Shutdown()
}
