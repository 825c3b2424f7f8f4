package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// applyFile overlays a YAML config file onto c. ${VAR} references are
// expanded from the environment first.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}
