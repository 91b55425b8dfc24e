// Package config loads the operator-edited service configuration for a
// metadata repository. Only the enabled flag and credential fields are read
// by the core; rate limits are passed through for adapters to enforce.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_services.toml
var sampleServices string

// RateLimit is advisory throttling information for a service adapter.
type RateLimit struct {
	RequestsPerMinute int `toml:"requests_per_minute"`
	RequestsPerHour   int `toml:"requests_per_hour"`
}

// Service is one remote photo service's configuration.
type Service struct {
	Enabled     bool              `toml:"enabled"`
	TokenFile   string            `toml:"token_file"`
	Credentials map[string]string `toml:"credentials"`
	RateLimit   RateLimit         `toml:"rate_limit"`
}

// Config is the full services configuration.
type Config struct {
	Services map[string]Service `toml:"services"`
}

// DefaultPath returns the services file location under a repository root.
func DefaultPath(root string) string {
	return filepath.Join(root, "config", "services.toml")
}

// Load reads and parses a services configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Services == nil {
		cfg.Services = make(map[string]Service)
	}
	return &cfg, nil
}

// Service looks up one service's configuration.
func (c *Config) Service(name string) (Service, bool) {
	s, ok := c.Services[name]
	return s, ok
}

// EnabledServices returns the names of all enabled services, sorted for
// deterministic scan order.
func (c *Config) EnabledServices() []string {
	var names []string
	for name, svc := range c.Services {
		if svc.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// WriteSample writes the sample services file, refusing to overwrite an
// existing one.
func WriteSample(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(sampleServices), 0o600)
}
