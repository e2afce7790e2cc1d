package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/gitshelf/internal/runtimepath"
)

// ValidationError ties a config failure to the offending YAML path and,
// when known, the file it came from.
type ValidationError struct {
	Path string
	File string
	Err  error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.File != "" {
		return fmt.Sprintf("%s: %s: %v", e.File, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LoadResult is a loaded config plus the file it was read from. File is
// empty when no config file existed and defaults were used.
type LoadResult struct {
	Config *Config
	File   string
}

func DefaultConfigPath() (string, error) {
	return runtimepath.ConfigPath()
}

// Load reads the configuration from the standard location.
func Load() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	res, err := LoadFromPath(path)
	if err != nil {
		return nil, err
	}
	return res.Config, nil
}

// LoadFromPath reads path over the defaults. A missing file is not an error.
func LoadFromPath(path string) (*LoadResult, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &LoadResult{Config: cfg}, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := decodeStrict(data, cfg); err != nil {
		return nil, &ValidationError{Path: "(root)", File: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.File = path
		}
		return nil, err
	}
	return &LoadResult{Config: cfg, File: path}, nil
}

// decodeStrict decodes YAML into cfg, rejecting unknown keys. Empty
// documents leave cfg untouched.
func decodeStrict(data []byte, cfg *Config) error {
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}
