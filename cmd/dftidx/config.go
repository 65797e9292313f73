package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/dftracer/dftidx/indexer"
)

// fileConfig is the optional YAML config file's shape: defaults that CLI
// flags (and their DFTIDX_* env var equivalents) override, the same
// layering coreos/pkg's tools use a config file for.
type fileConfig struct {
	CheckpointSize uint64 `yaml:"checkpoint_size"`
	LogLevel       string `yaml:"log_level"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		CheckpointSize: indexer.DefaultCheckpointSize,
		LogLevel:       "info",
	}
}

// defaultConfigPath returns "~/.config/dftidx/config.yaml", or "" if the
// home directory can't be resolved (e.g. running in a minimal container
// with no HOME set) — in that case the caller just falls back to built-in
// defaults plus flags/env.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "dftidx", "config.yaml")
}

// loadFileConfig reads path if it exists, overlaying its fields onto the
// built-in defaults. A missing file is not an error: most invocations
// never have one.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(err, "reading config file")
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing YAML config file")
	}
	return cfg, nil
}
