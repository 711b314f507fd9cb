// Command dfi transforms a face image so that it gains the selected attribute.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/jnb666/dfi/dfi"
	"github.com/jnb666/dfi/img"
	"github.com/jnb666/dfi/lfw"
	"github.com/jnb666/dfi/nnet"
	"github.com/jnb666/dfi/web"
)

// command line flags which override the config field of the same name
var fieldFlags = map[string]string{
	"attr":      "Attribute",
	"person":    "Person",
	"k":         "K",
	"alpha":     "Alpha",
	"lambda":    "Lambda",
	"beta":      "Beta",
	"layers":    "NumLayers",
	"opt":       "Optimizer",
	"eta":       "Eta",
	"steps":     "Steps",
	"clamp":     "Clamp",
	"data":      "DataDir",
	"model":     "ModelPath",
	"cache":     "CachePath",
	"rebuild":   "RebuildCache",
	"out":       "OutDir",
	"format":    "Format",
	"acts":      "Activations",
	"accel":     "UseAccel",
	"threads":   "Threads",
	"debug":     "DebugLevel",
	"profile":   "Profile",
	"monitor":   "Monitor",
	"user":      "MonitorUser",
	"pass":      "MonitorPass",
	"batch":     "BatchSize",
	"keyed":     "CacheKeyed",
	"netconfig": "NetConfig",
}

type settings []string

func (s *settings) String() string { return strings.Join(*s, ",") }

func (s *settings) Set(val string) error {
	*s = append(*s, val)
	return nil
}

func main() {
	log.SetFlags(0)
	def := dfi.Default()
	for name, field := range fieldFlags {
		flag.String(name, fmt.Sprint(def.Get(field)), "set "+field)
	}
	var sets settings
	flag.Var(&sets, "set", "override config setting in key=value format, may be repeated")
	configFile := flag.String("config", "", "load settings from JSON file")
	saveFile := flag.String("save", "", "save settings to JSON file and exit")
	list := flag.Bool("list", false, "list available attributes and exit")
	flag.Parse()

	conf := def
	var err error
	if *configFile != "" {
		conf, err = dfi.LoadConfig(*configFile)
		nnet.CheckErr(err)
	}
	flag.Visit(func(f *flag.Flag) {
		if field, ok := fieldFlags[f.Name]; ok {
			conf, err = conf.SetString(field, f.Value.String())
			nnet.CheckErr(err)
		}
	})
	for _, s := range sets {
		kv := strings.SplitN(s, "=", 2)
		if len(kv) != 2 {
			nnet.CheckErr(fmt.Errorf("invalid setting %q: expecting key=value", s))
		}
		conf, err = conf.SetString(kv[0], kv[1])
		nnet.CheckErr(err)
	}
	nnet.CheckErr(conf.Validate())
	if conf.DebugLevel >= 1 {
		fmt.Println(conf)
	}
	if *saveFile != "" {
		nnet.CheckErr(conf.Save(*saveFile))
		return
	}

	data, err := lfw.Load(conf.DataDir)
	nnet.CheckErr(err)
	if *list {
		for _, name := range data.Attributes() {
			fmt.Println(name)
		}
		return
	}

	logSink, err := dfi.NewLogSink(conf.OutDir, conf.Format)
	nnet.CheckErr(err)
	sink := dfi.MultiSink{logSink}
	if conf.Monitor != "" {
		mon, err := web.NewMonitor(conf)
		nnet.CheckErr(err)
		sink = append(sink, mon)
		go func() {
			fmt.Printf("serving monitor at http://%s\n", conf.Monitor)
			log.Println(http.ListenAndServe(conf.Monitor, mon.Handler()))
		}()
	}

	c, err := dfi.NewContext(conf, sink)
	nnet.CheckErr(err)
	defer c.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	result, err := c.Run(ctx, data)
	if err != nil {
		sink.Close()
		c.Release()
		nnet.CheckErr(err)
	}
	file := filepath.Join(conf.OutDir, fmt.Sprintf("result_p%d.%s", conf.Person, conf.Format))
	fmt.Println("saving result to", file)
	if e := img.Save(result, file); e != nil {
		log.Println(e)
	}
	nnet.CheckErr(sink.Close())
}
