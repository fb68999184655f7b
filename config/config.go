// Package config loads and validates the cache node daemon
// configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/catchup/errors"
	"github.com/c360/catchup/fetch"
	"github.com/c360/catchup/keys"
)

// NATSConfig defines the bus connection settings.
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name,omitempty"`
	MaxReconnects int           `yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `yaml:"reconnect_wait,omitempty"`
	Timeout       time.Duration `yaml:"timeout,omitempty"`
	DrainTimeout  time.Duration `yaml:"drain_timeout,omitempty"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	Token         string        `yaml:"token,omitempty"`
	TLS           TLSConfig     `yaml:"tls,omitempty"`
}

// TLSConfig for secure bus connections.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
	CAFile   string `yaml:"ca_file,omitempty"`
}

// CacheConfig defines one cached pattern.
type CacheConfig struct {
	// Pattern selects the keys this cache retains.
	Pattern string `yaml:"pattern"`

	// History is the per-key retention depth. Zero selects the default.
	History int `yaml:"history,omitempty"`

	// ID names this cache in fetch responses. Defaults to the node name
	// plus an index.
	ID string `yaml:"id,omitempty"`
}

// Config is the complete cache node configuration.
type Config struct {
	// Node is the instance name used for bus identification and
	// default cache IDs.
	Node string `yaml:"node,omitempty"`

	NATS   NATSConfig    `yaml:"nats"`
	Caches []CacheConfig `yaml:"caches"`

	// Prefix is the data subject prefix. Defaults to keys.DefaultPrefix.
	Prefix string `yaml:"prefix,omitempty"`

	// FetchSubject is the shared fetch request subject. Defaults to
	// fetch.DefaultFetchSubject.
	FetchSubject string `yaml:"fetch_subject,omitempty"`

	// MetricsAddr is the Prometheus listen address, e.g. ":9090".
	// Empty disables the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	// LogLevel is one of debug, info, warn, error. Defaults to info.
	LogLevel string `yaml:"log_level,omitempty"`
}

// applyDefaults fills unset fields.
func (c *Config) applyDefaults() {
	if c.Node == "" {
		c.Node = "catchup-cache"
	}
	if c.Prefix == "" {
		c.Prefix = keys.DefaultPrefix
	}
	if c.FetchSubject == "" {
		c.FetchSubject = fetch.DefaultFetchSubject
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Caches {
		if c.Caches[i].ID == "" {
			c.Caches[i].ID = fmt.Sprintf("%s-%d", c.Node, i)
		}
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.url is required")
	}
	if len(c.Caches) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "at least one cache is required")
	}

	seen := make(map[string]bool, len(c.Caches))
	for i, cache := range c.Caches {
		if _, err := keys.ParsePattern(cache.Pattern); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate",
				fmt.Sprintf("caches[%d].pattern %q", i, cache.Pattern))
		}
		if cache.History < 0 {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("caches[%d].history must not be negative", i))
		}
		if seen[cache.ID] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("duplicate cache id %q", cache.ID))
		}
		seen[cache.ID] = true
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log level %q", c.LogLevel))
	}
	return nil
}

// Parse decodes a YAML document, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Config", "Parse", fmt.Sprintf("decode yaml: %v", err))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Config", "Load", "read "+path)
	}
	return Parse(data)
}
