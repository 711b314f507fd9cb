package nnet

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Network configuration settings
type Config struct {
	Name       string
	InputShape []int
	DebugLevel int
	Layers     []LayerConfig
}

// Load network config from json file
func LoadConfig(file string) (c Config, err error) {
	var f *os.File
	if f, err = os.Open(file); err != nil {
		return
	}
	defer f.Close()
	fmt.Println("loading network config from", file)
	dec := json.NewDecoder(f)
	err = dec.Decode(&c)
	return
}

// Append layers to the config struct
func (c Config) AddLayers(layers ...ConfigLayer) Config {
	for _, l := range layers {
		c.Layers = append(c.Layers, l.Marshal())
	}
	return c
}

// Save config to JSON file. Data is written to a temporary file which is renamed on completion.
func (c Config) Save(file string) error {
	tmpFile := filepath.Join(filepath.Dir(file), "."+filepath.Base(file))
	f, err := os.Create(tmpFile)
	if err != nil {
		return err
	}
	fmt.Println("saving network config to", file)
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err = enc.Encode(c); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmpFile, file)
}

func (c Config) String() string {
	str := []string{fmt.Sprintf("== Network %s %v ==", c.Name, c.InputShape)}
	for i, layer := range c.Layers {
		str = append(str, fmt.Sprintf("%2d: %s", i, layer))
	}
	return strings.Join(str, "\n")
}
