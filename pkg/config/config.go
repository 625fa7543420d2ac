package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ajitpratap0/strata/pkg/compression"
	"github.com/ajitpratap0/strata/pkg/errors"
	"github.com/ajitpratap0/strata/pkg/planner"
)

// Config is the complete strata configuration.
type Config struct {
	// Name identifies the collection served by this configuration
	Name string `yaml:"name" json:"name"`

	// Index controls column store index builds
	Index IndexConfig `yaml:"index" json:"index"`

	// Planner controls when a column scan is chosen
	Planner planner.Options `yaml:"planner" json:"planner"`

	// Storage controls index snapshots
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// IndexConfig contains index build settings.
type IndexConfig struct {
	// BuildWorkers is the number of goroutines shredding documents during a
	// build. Zero means one per CPU.
	BuildWorkers int `yaml:"build_workers" json:"build_workers"`
}

// StorageConfig contains snapshot settings.
type StorageConfig struct {
	// Compression selects the snapshot codec (none, gzip, snappy, lz4, zstd, s2)
	Compression string `yaml:"compression" json:"compression"`
	// CompressionLevel sets ratio vs speed (1-9)
	CompressionLevel int `yaml:"compression_level" json:"compression_level"`
	// SnapshotPath is where the CLI saves and loads the index
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogFormat selects json or console output
	LogFormat string `yaml:"log_format" json:"log_format"`
	// EnableMetrics activates Prometheus metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// EnableTracing activates OpenTelemetry tracing
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// NewConfig returns a configuration with defaults filled in.
//
// Example:
//
//	cfg := config.NewConfig("orders")
//	cfg.Planner.MaxFieldsFiltered = 20
func NewConfig(name string) *Config {
	return &Config{
		Name: name,
		Index: IndexConfig{
			BuildWorkers: runtime.NumCPU(),
		},
		Planner: planner.DefaultOptions(),
		Storage: StorageConfig{
			Compression:      string(compression.Zstd),
			CompressionLevel: int(compression.Default),
		},
		Observability: ObservabilityConfig{
			LogLevel:          "info",
			LogFormat:         "console",
			EnableMetrics:     true,
			EnableTracing:     false,
			TracingSampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "name is required")
	}
	if c.Index.BuildWorkers < 0 {
		return errors.New(errors.ErrorTypeConfig, "index.build_workers cannot be negative")
	}
	if c.Planner.MaxFieldsUnfiltered < 0 || c.Planner.MaxFieldsFiltered < 0 {
		return errors.New(errors.ErrorTypeConfig, "planner field limits cannot be negative")
	}
	if _, err := compression.ParseAlgorithm(c.Storage.Compression); err != nil {
		return err
	}
	if c.Storage.CompressionLevel < 0 || c.Storage.CompressionLevel > int(compression.Best) {
		return errors.Newf(errors.ErrorTypeConfig, "storage.compression_level must be between 0 and %d", compression.Best)
	}
	switch strings.ToLower(c.Observability.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log level %q", c.Observability.LogLevel)
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown log format %q", c.Observability.LogFormat)
	}
	if r := c.Observability.TracingSampleRate; r < 0 || r > 1 {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("tracing_sample_rate %v outside [0, 1]", r))
	}
	return nil
}

// GetWorkers returns the number of build workers, ensuring it's at least 1
func (i *IndexConfig) GetWorkers() int {
	if i.BuildWorkers <= 0 {
		return runtime.NumCPU()
	}
	return i.BuildWorkers
}

// CompressionConfig converts the storage section to a codec configuration.
func (s *StorageConfig) CompressionConfig() (*compression.Config, error) {
	alg, err := compression.ParseAlgorithm(s.Compression)
	if err != nil {
		return nil, err
	}
	level := compression.Level(s.CompressionLevel)
	if level == 0 {
		level = compression.Default
	}
	return &compression.Config{Algorithm: alg, Level: level}, nil
}
