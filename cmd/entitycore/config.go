package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig is the on-disk shape for entitycore's engine settings,
// loaded by every subcommand that opens a store.
type EngineConfig struct {
	DataDir           string `yaml:"data_dir"`
	DefaultPageSize   int    `yaml:"default_page_size"`
	CleanSweepSeconds int    `yaml:"clean_sweep_seconds"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

func defaultConfig() EngineConfig {
	return EngineConfig{
		DataDir:           "./entitycore-data",
		DefaultPageSize:   50,
		CleanSweepSeconds: 30,
		MetricsAddr:       "127.0.0.1:9191",
	}
}

func loadConfig(path string) (EngineConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
