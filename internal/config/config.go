// Package config loads the YAML configuration used by the example binaries.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v2"
)

type Config struct {
	// DataDir is the directory holding the block and pin databases. Empty
	// means fully in-memory operation.
	DataDir string `yaml:"dataDir"`
	// MinimumFreeGB aborts startup when the data directory's filesystem
	// has less free space than this.
	MinimumFreeGB uint `yaml:"minimumFreeGB"`
	// WalkConcurrency bounds parallel block lookups per traversal level.
	WalkConcurrency int `yaml:"walkConcurrency"`
	// CompressBlocks enables lzma compression in the local block store.
	CompressBlocks bool `yaml:"compressBlocks"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
}

// Load reads the YAML file at path and fills in defaults for unset fields.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	conf.applyDefaults()
	return conf, nil
}

// Default returns the configuration used when no config file is given.
func Default() Config {
	var conf Config
	conf.applyDefaults()
	return conf
}

func (c *Config) applyDefaults() {
	if c.MinimumFreeGB == 0 {
		c.MinimumFreeGB = 1
	}
	if c.WalkConcurrency <= 0 {
		c.WalkConcurrency = runtime.NumCPU()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
