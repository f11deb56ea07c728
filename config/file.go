package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrNoConfigFile = errors.New("config: file not found")

// FromFile reads a YAML configuration from path. ${VAR} references are
// expanded from the process environment before parsing, and fields missing
// from the file keep their defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w: %s", ErrNoConfigFile, path)
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes YAML data on top of Default, expanding ${VAR} with getenv.
func Parse(data []byte, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	expanded := os.Expand(string(data), getenv)
	if len(bytes.TrimSpace([]byte(expanded))) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
