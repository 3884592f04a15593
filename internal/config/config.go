// Package config handles loading and validating the lattice.yaml
// configuration. latticed runs with zero config (sensible defaults);
// lattice.yaml overrides individual sections.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lattice-data/lattice/platform/internal/reaper"
)

// Config represents the top-level lattice.yaml configuration.
type Config struct {
	Server     ServerConfig           `yaml:"server"`
	Aggregator AggregatorConfig       `yaml:"aggregator"`
	Storage    StorageConfig          `yaml:"storage"`
	Runner     RunnerConfig           `yaml:"runner"`
	Scheduler  SchedulerConfig        `yaml:"scheduler"`
	Retention  reaper.RetentionConfig `yaml:"retention"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`         // listen address, e.g. ":8080"
	APIKey      string   `yaml:"api_key"`      // empty disables auth
	CORSOrigins []string `yaml:"cors_origins"` // allowed origins, "*" for any
}

// AggregatorConfig points at the backend aggregation engine.
type AggregatorConfig struct {
	URL             string `yaml:"url"`
	CycleCacheTTL   int    `yaml:"cycle_cache_ttl_seconds"`
	RegistryRefresh int    `yaml:"registry_refresh_seconds"`
}

// StorageConfig configures the S3-compatible result artifact store.
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// RunnerConfig configures the computation worker pool.
type RunnerConfig struct {
	Workers int `yaml:"workers"`
}

// SchedulerConfig configures the schedule check loop.
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
}

// DefaultConfig returns the zero-config defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			CORSOrigins: []string{"*"},
		},
		Aggregator: AggregatorConfig{
			URL:           "http://localhost:9400",
			CycleCacheTTL: 300,
		},
		Storage: StorageConfig{
			Endpoint: "localhost:9000",
			Bucket:   "lattice-results",
		},
		Runner: RunnerConfig{
			Workers: 4,
		},
		Scheduler: SchedulerConfig{
			IntervalSeconds: 30,
		},
		Retention: reaper.DefaultRetentionConfig(),
	}
}

// Load parses a lattice.yaml file over the defaults and validates it.
// If path is empty, returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: LATTICE_CONFIG env var > ./lattice.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("LATTICE_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("lattice.yaml"); err == nil {
		return "lattice.yaml"
	}
	return ""
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Aggregator.URL == "" {
		return fmt.Errorf("aggregator.url is required")
	}
	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.Runner.Workers < 0 {
		return fmt.Errorf("runner.workers must not be negative")
	}
	return nil
}
