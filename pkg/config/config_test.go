package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Portal.BaseURL != "https://dadosabertos.tse.jus.br" {
		t.Errorf("Unexpected default base URL: %s", config.Portal.BaseURL)
	}
	if config.Download.ChunkSize != 8192 {
		t.Errorf("Expected default chunk size 8192, got %d", config.Download.ChunkSize)
	}
	if config.Download.RetryAttempts != 3 {
		t.Errorf("Expected default retry attempts 3, got %d", config.Download.RetryAttempts)
	}
	if config.Output.BaseDirectory != "dados-tse" {
		t.Errorf("Expected default output directory dados-tse, got %s", config.Output.BaseDirectory)
	}
	if config.Output.ManifestName != "failed_downloads.txt" {
		t.Errorf("Expected default manifest name failed_downloads.txt, got %s", config.Output.ManifestName)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestCatalogURL(t *testing.T) {
	portal := PortalConfig{
		BaseURL:     "https://example.org/",
		CatalogPath: "/dataset/?groups=candidatos",
	}
	want := "https://example.org/dataset/?groups=candidatos"
	if got := portal.CatalogURL(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestManifestPath(t *testing.T) {
	output := OutputConfig{BaseDirectory: "dados", ManifestName: "failed_downloads.txt"}
	want := filepath.Join("dados", "failed_downloads.txt")
	if got := output.ManifestPath(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("TSEGRAB_BASE_URL", "https://mirror.example.org")
	os.Setenv("TSEGRAB_OUTPUT_DIR", "/tmp/tse-data")
	os.Setenv("TSEGRAB_CONCURRENT", "4")
	os.Setenv("TSEGRAB_LOG_LEVEL", "debug")
	defer func() {
		os.Unsetenv("TSEGRAB_BASE_URL")
		os.Unsetenv("TSEGRAB_OUTPUT_DIR")
		os.Unsetenv("TSEGRAB_CONCURRENT")
		os.Unsetenv("TSEGRAB_LOG_LEVEL")
	}()

	config := DefaultConfig()
	require.NoError(t, config.LoadFromEnv())

	assert.Equal(t, "https://mirror.example.org", config.Portal.BaseURL)
	assert.Equal(t, "/tmp/tse-data", config.Output.BaseDirectory)
	assert.Equal(t, 4, config.Download.Concurrent)
	assert.Equal(t, "debug", config.Logging.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
portal:
  base_url: https://file.example.org
download:
  retry_attempts: 5
output:
  base_directory: from-file
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	config := DefaultConfig()
	require.NoError(t, config.LoadFromFile(path))

	assert.Equal(t, "https://file.example.org", config.Portal.BaseURL)
	assert.Equal(t, 5, config.Download.RetryAttempts)
	assert.Equal(t, "from-file", config.Output.BaseDirectory)
	// Untouched values keep their defaults
	assert.Equal(t, 8192, config.Download.ChunkSize)
}

func TestLoadFromFileMissingIsNotAnError(t *testing.T) {
	config := DefaultConfig()
	if err := config.LoadFromFile(""); err != nil {
		t.Errorf("Expected missing config file to be ignored, got %v", err)
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	os.Setenv("TSEGRAB_OUTPUT_DIR", "/tmp/from-env")
	defer os.Unsetenv("TSEGRAB_OUTPUT_DIR")

	config, err := Load("", map[string]interface{}{
		"output":      "/tmp/from-flag",
		"max-retries": 7,
	})
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-flag", config.Output.BaseDirectory)
	assert.Equal(t, 7, config.Download.RetryAttempts)
}

func TestMergeCommandLineFlags(t *testing.T) {
	config := DefaultConfig()
	config.MergeCommandLineFlags(map[string]interface{}{
		"base-url":         "https://flag.example.org",
		"concurrent":       2,
		"transfer-timeout": 120,
		"rate-limit":       30,
		"log-level":        "warn",
	})

	assert.Equal(t, "https://flag.example.org", config.Portal.BaseURL)
	assert.Equal(t, 2, config.Download.Concurrent)
	assert.Equal(t, 120*time.Second, config.Download.TransferTimeout)
	assert.Equal(t, 30, config.Portal.RequestsPerMinute)
	assert.Equal(t, "warn", config.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base URL", func(c *Config) { c.Portal.BaseURL = "" }},
		{"relative base URL", func(c *Config) { c.Portal.BaseURL = "dadosabertos.tse.jus.br" }},
		{"zero chunk size", func(c *Config) { c.Download.ChunkSize = 0 }},
		{"zero retry attempts", func(c *Config) { c.Download.RetryAttempts = 0 }},
		{"zero concurrent", func(c *Config) { c.Download.Concurrent = 0 }},
		{"too many concurrent", func(c *Config) { c.Download.Concurrent = 9 }},
		{"empty output directory", func(c *Config) { c.Output.BaseDirectory = "" }},
		{"empty manifest name", func(c *Config) { c.Output.ManifestName = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := DefaultConfig()
			test.mutate(config)
			if err := config.Validate(); err == nil {
				t.Error("Expected validation to fail")
			}
		})
	}
}
