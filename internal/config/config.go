// Package config loads process-wide defaults for shared handles from YAML.
//
// Example file:
//
//	version: v1.0.0
//	counting: atomic
//	leak_check: true
//	logging:
//	  level: debug
//	  development: true
//
// Environment overrides (applied after the file):
//   - SHAREDPTR_COUNTING: plain | atomic
//   - SHAREDPTR_LEAK_CHECK: true | false
//   - SHAREDPTR_LOG_LEVEL: debug | info | warn | error
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/counter"
)

// SchemaVersion is the configuration schema this build understands. Files
// with a different major version are rejected.
const SchemaVersion = "v1.0.0"

// ErrIncompatibleVersion is returned for files written for another schema major.
var ErrIncompatibleVersion = errors.New("config: incompatible schema version")

// Config holds process-wide defaults.
type Config struct {
	Version   string         `yaml:"version"`
	Counting  string         `yaml:"counting"`
	LeakCheck bool           `yaml:"leak_check"`
	Logging   logging.Config `yaml:"logging"`
}

// Default returns the built-in defaults: plain counting, no leak check,
// info-level logging.
func Default() Config {
	return Config{
		Version:  SchemaVersion,
		Counting: counter.Plain.String(),
		Logging:  logging.Config{Level: "info"},
	}
}

// Load reads path, applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default, applies environment overrides and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv applies SHAREDPTR_* overrides read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SHAREDPTR_COUNTING"); ok {
		c.Counting = v
	}
	if v, ok := lookup("SHAREDPTR_LEAK_CHECK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("SHAREDPTR_LEAK_CHECK: %w", err)
		}
		c.LeakCheck = b
	}
	if v, ok := lookup("SHAREDPTR_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return nil
}

// Validate checks the schema version and the counting mode.
func (c Config) Validate() error {
	if !semver.IsValid(c.Version) {
		return fmt.Errorf("version %q is not a semantic version", c.Version)
	}
	if semver.Major(c.Version) != semver.Major(SchemaVersion) {
		return fmt.Errorf("%w: %s (want %s.x)", ErrIncompatibleVersion, c.Version, semver.Major(SchemaVersion))
	}
	if _, err := counter.ParseMode(c.Counting); err != nil {
		return err
	}
	return nil
}

// Mode returns the parsed counting mode. Validate must have succeeded.
func (c Config) Mode() counter.Mode {
	m, _ := counter.ParseMode(c.Counting)
	return m
}
