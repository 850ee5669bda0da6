package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads gatehouse.yaml at path. ${VAR} references are expanded
// before decoding and any that were unset land in Config.UnsetVars.
// Unknown keys fail the load.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config file not found: %s", path)
	case err != nil:
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	text, unset := ExpandEnv(string(raw))
	cfg := &Config{UnsetVars: unset}

	dec := yaml.NewDecoder(strings.NewReader(text))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	return cfg, nil
}
