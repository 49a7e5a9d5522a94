package config

import (
	"fmt"
	"os"
	"strings"

	"fac-data-pipeline/internal/model"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when the config leaves a value unset.
const (
	DefaultTimeoutSeconds = 30
	DefaultPageSize       = 100
	DefaultMemoryLimitMB  = 4096
	DefaultExportChunk    = 100_000
)

// Settings holds the run-wide options shared by every stage.
type Settings struct {
	OutputFilename    string `yaml:"output_filename" json:"output_filename"`
	DownloadDirectory string `yaml:"download_directory" json:"download_directory"`
	PrimaryJoinKey    string `yaml:"primary_join_key" json:"primary_join_key"`
	APITimeoutSeconds int    `yaml:"api_timeout_seconds" json:"api_timeout_seconds"`
	APIRetryMax       int    `yaml:"api_retry_max" json:"api_retry_max"`
	MemoryLimitMB     int    `yaml:"memory_limit_mb" json:"memory_limit_mb"`
	ExportChunkSize   int    `yaml:"export_chunk_size" json:"export_chunk_size"`
	CleanupTempFiles  *bool  `yaml:"cleanup_temp_files" json:"cleanup_temp_files"`
}

// APIParams is the pagination window plus any extra query parameters the
// endpoint takes (auditYear and the like).
type APIParams struct {
	Size  int               `yaml:"size" json:"size"`
	From  int               `yaml:"from" json:"from"`
	Extra map[string]string `yaml:",inline" json:"extra,omitempty"`
}

// Source describes one remote data source. Name doubles as the staging
// relation name, so it must be unique within a run.
type Source struct {
	Name      string    `yaml:"name" json:"name"`
	URL       string    `yaml:"url" json:"url"`
	APIParams APIParams `yaml:"api_params" json:"api_params"`
}

// Config is the full per-run configuration. Immutable once validated.
type Config struct {
	Settings Settings `yaml:"settings" json:"settings"`
	Sources  []Source `yaml:"sources" json:"sources"`
}

// CleanupEnabled reports whether staging artifacts should be removed at the
// end of the run. Defaults to true when the config does not say.
func (c *Config) CleanupEnabled() bool {
	if c.Settings.CleanupTempFiles == nil {
		return true
	}
	return *c.Settings.CleanupTempFiles
}

// Load reads a YAML config file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ConfigError(errors.Wrap(err, "read config"))
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, model.ConfigError(errors.Wrap(err, "parse config"))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset optional values in place.
func (c *Config) ApplyDefaults() {
	if c.Settings.APITimeoutSeconds <= 0 {
		c.Settings.APITimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Settings.MemoryLimitMB <= 0 {
		c.Settings.MemoryLimitMB = DefaultMemoryLimitMB
	}
	if c.Settings.ExportChunkSize <= 0 {
		c.Settings.ExportChunkSize = DefaultExportChunk
	}
	for i := range c.Sources {
		if c.Sources[i].APIParams.Size <= 0 {
			c.Sources[i].APIParams.Size = DefaultPageSize
		}
	}
}

// Validate checks the required settings. The pipeline refuses to start, and
// makes no network call, when any of these are missing.
func (c *Config) Validate() error {
	var missing []string
	if c.Settings.OutputFilename == "" {
		missing = append(missing, "settings.output_filename")
	}
	if c.Settings.DownloadDirectory == "" {
		missing = append(missing, "settings.download_directory")
	}
	if c.Settings.PrimaryJoinKey == "" {
		missing = append(missing, "settings.primary_join_key")
	}
	if len(missing) > 0 {
		return model.ConfigError(errors.Errorf("missing required settings: %s", strings.Join(missing, ", ")))
	}

	if len(c.Sources) == 0 {
		return model.ConfigError(errors.New("at least one source is required"))
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		if src.Name == "" || src.URL == "" {
			return model.ConfigError(errors.Errorf("source %d: name and url are required", i))
		}
		if seen[src.Name] {
			return model.ConfigError(errors.Errorf("duplicate source name %q", src.Name))
		}
		seen[src.Name] = true
	}
	return nil
}

// String renders a short summary for log lines, without credentials.
func (c *Config) String() string {
	names := make([]string, len(c.Sources))
	for i, s := range c.Sources {
		names[i] = s.Name
	}
	return fmt.Sprintf("output=%s key=%s sources=[%s]",
		c.Settings.OutputFilename, c.Settings.PrimaryJoinKey, strings.Join(names, ", "))
}
