// Package config loads the bibcache.yaml configuration file.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scholdex/bibcache/internal/key"
)

// Collection names one cache partition and the identifier prefix letter its
// entities carry.
type Collection struct {
	Name   string `yaml:"name"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Config is the full tool configuration.
type Config struct {
	// DataDir is the root of the cache file tree.
	DataDir string `yaml:"data_dir"`
	// APIHost serves the canonical API URLs, e.g. api.openalex.org.
	APIHost string `yaml:"api_host"`
	// PublicHost serves the public entity pages, e.g. openalex.org.
	PublicHost string `yaml:"public_host"`
	UserAgent  string `yaml:"user_agent"`
	// RatePerSec throttles outgoing fetches.
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	// TimeoutSeconds is the per-request transport timeout.
	TimeoutSeconds int          `yaml:"timeout_seconds"`
	Collections    []Collection `yaml:"collections"`
	// GitSnapshot commits the data directory after each successful pass.
	GitSnapshot bool `yaml:"git_snapshot"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir:        "./data",
		APIHost:        "api.openalex.org",
		PublicHost:     "openalex.org",
		UserAgent:      "bibcache/1.0",
		RatePerSec:     8,
		Burst:          2,
		TimeoutSeconds: 30,
		Collections: []Collection{
			{Name: "works", Prefix: "W"},
			{Name: "authors", Prefix: "A"},
			{Name: "sources", Prefix: "S"},
			{Name: "institutions", Prefix: "I"},
			{Name: "concepts", Prefix: "C"},
			{Name: "publishers", Prefix: "P"},
			{Name: "funders", Prefix: "F"},
			{Name: "topics", Prefix: "T"},
		},
	}
}

// Load reads and validates the configuration at path. A missing file yields
// the defaults; zero-valued fields fall back to their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	cfg.Collections = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Collections) == 0 {
		cfg.Collections = Default().Collections
	}
	fill(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fill(cfg *Config) {
	d := Default()
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	if cfg.APIHost == "" {
		cfg.APIHost = d.APIHost
	}
	if cfg.PublicHost == "" {
		cfg.PublicHost = d.PublicHost
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = d.UserAgent
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = d.RatePerSec
	}
	if cfg.Burst <= 0 {
		cfg.Burst = d.Burst
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = d.TimeoutSeconds
	}
}

// Timeout returns the per-request timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

var (
	reName   = regexp.MustCompile(`^[a-z][a-z_-]*$`)
	rePrefix = regexp.MustCompile(`^[A-Za-z]$`)
)

// Validate checks collection names and prefix uniqueness.
func (c *Config) Validate() error {
	seenName := make(map[string]bool, len(c.Collections))
	seenPrefix := make(map[string]bool, len(c.Collections))
	for i, col := range c.Collections {
		if !reName.MatchString(col.Name) {
			return fmt.Errorf("collection %d: invalid name %q", i, col.Name)
		}
		if seenName[col.Name] {
			return fmt.Errorf("collection %q: duplicate name", col.Name)
		}
		seenName[col.Name] = true
		if col.Prefix == "" {
			continue
		}
		if !rePrefix.MatchString(col.Prefix) {
			return fmt.Errorf("collection %q: prefix must be a single letter, got %q", col.Name, col.Prefix)
		}
		p := strings.ToUpper(col.Prefix)
		if seenPrefix[p] {
			return fmt.Errorf("collection %q: duplicate prefix %q", col.Name, col.Prefix)
		}
		seenPrefix[p] = true
	}
	return nil
}

// Canonicalizer builds the key canonicalizer configured by this file.
func (c *Config) Canonicalizer() *key.Canonicalizer {
	prefixes := make(map[string]string, len(c.Collections))
	for _, col := range c.Collections {
		if col.Prefix != "" {
			prefixes[col.Prefix] = col.Name
		}
	}
	return key.NewCanonicalizer(c.APIHost, c.PublicHost, prefixes)
}

// Names returns the configured collection names.
func (c *Config) Names() []string {
	out := make([]string, 0, len(c.Collections))
	for _, col := range c.Collections {
		out = append(out, col.Name)
	}
	return out
}
