// Command vgg19 writes the VGG-19 network definition and converts weights from a numpy archive
// to the native gob format.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jnb666/dfi/nnet"
	"github.com/jnb666/dfi/num"
)

func main() {
	width := flag.Int("width", 224, "input image width")
	height := flag.Int("height", 224, "input image height")
	confFile := flag.String("config", "", "write network config to JSON file")
	check := flag.Bool("check", false, "check weights can be imported into the network")
	flag.Parse()
	if flag.NArg() != 1 && flag.NArg() != 2 {
		fmt.Println("usage: vgg19 [opts] <weights.npz> [<weights.gob>]")
		os.Exit(1)
	}
	conf := nnet.VGG19(*width, *height)
	if *confFile != "" {
		nnet.CheckErr(conf.Save(*confFile))
	}
	data, err := nnet.LoadWeights(flag.Arg(0))
	nnet.CheckErr(err)
	if *check {
		q := num.NewDevice(false).NewQueue(1)
		net := nnet.New(q, conf, 1)
		fmt.Println(net)
		nnet.CheckErr(net.Import(data))
		q.Shutdown()
	}
	if flag.NArg() == 2 {
		nnet.CheckErr(nnet.SaveWeights(flag.Arg(1), data))
	}
}
