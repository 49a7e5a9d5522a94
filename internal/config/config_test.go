package config

import (
	"os"
	"path/filepath"
	"testing"

	"fac-data-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Settings: Settings{
			OutputFilename:    "out/merged.csv.gz",
			DownloadDirectory: "downloads",
			PrimaryJoinKey:    "report_id",
		},
		Sources: []Source{
			{Name: "general", URL: "https://example.test/general"},
		},
	}
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateMissingRequired(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"output", func(c *Config) { c.Settings.OutputFilename = "" }, "output_filename"},
		{"workdir", func(c *Config) { c.Settings.DownloadDirectory = "" }, "download_directory"},
		{"joinkey", func(c *Config) { c.Settings.PrimaryJoinKey = "" }, "primary_join_key"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)

			var perr *model.PipelineError
			require.ErrorAs(t, err, &perr)
			require.Equal(t, model.KindConfig, perr.Kind)
		})
	}
}

func TestValidateSources(t *testing.T) {
	cfg := validConfig()
	cfg.Sources = nil
	require.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Sources = append(cfg.Sources, Source{Name: "general", URL: "https://example.test/other"})
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate source name")

	cfg = validConfig()
	cfg.Sources[0].URL = ""
	require.Error(t, cfg.Validate())
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()
	require.Equal(t, DefaultTimeoutSeconds, cfg.Settings.APITimeoutSeconds)
	require.Equal(t, DefaultMemoryLimitMB, cfg.Settings.MemoryLimitMB)
	require.Equal(t, DefaultExportChunk, cfg.Settings.ExportChunkSize)
	require.Equal(t, DefaultPageSize, cfg.Sources[0].APIParams.Size)
	require.True(t, cfg.CleanupEnabled())
}

func TestLoadFromFile(t *testing.T) {
	raw := `
settings:
  output_filename: merged.csv.gz
  download_directory: downloads
  primary_join_key: report_id
  cleanup_temp_files: false
sources:
  - name: general
    url: https://example.test/general
    api_params:
      size: 10
      from: 0
      auditYear: "2024"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "report_id", cfg.Settings.PrimaryJoinKey)
	require.False(t, cfg.CleanupEnabled())
	require.Equal(t, 10, cfg.Sources[0].APIParams.Size)
	require.Equal(t, "2024", cfg.Sources[0].APIParams.Extra["auditYear"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var perr *model.PipelineError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, model.KindConfig, perr.Kind)
}
