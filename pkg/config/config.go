package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the portal downloader.
type Config struct {
	// Portal describes the remote data portal.
	Portal PortalConfig `yaml:"portal" json:"portal"`

	// Download settings for the transfer pipeline.
	Download DownloadConfig `yaml:"download" json:"download"`

	// Output settings for the local directory layout.
	Output OutputConfig `yaml:"output" json:"output"`

	// Logging configuration.
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// PortalConfig holds portal-specific configuration.
type PortalConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url"`
	CatalogPath       string        `yaml:"catalog_path" json:"catalog_path"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout"`
	MaxCatalogPages   int           `yaml:"max_catalog_pages" json:"max_catalog_pages"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
}

// CatalogURL returns the absolute URL of the catalog listing root.
func (p *PortalConfig) CatalogURL() string {
	return strings.TrimRight(p.BaseURL, "/") + p.CatalogPath
}

// DownloadConfig holds transfer-specific configuration.
type DownloadConfig struct {
	ChunkSize       int           `yaml:"chunk_size" json:"chunk_size"`
	TransferTimeout time.Duration `yaml:"transfer_timeout" json:"transfer_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
	Concurrent      int           `yaml:"concurrent" json:"concurrent"`
}

// OutputConfig holds the local directory layout configuration.
type OutputConfig struct {
	BaseDirectory string `yaml:"base_directory" json:"base_directory"`
	ManifestName  string `yaml:"manifest_name" json:"manifest_name"`
}

// ManifestPath returns the absolute path of the failed-transfer manifest.
func (o *OutputConfig) ManifestPath() string {
	return filepath.Join(o.BaseDirectory, o.ManifestName)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults for the
// TSE open data portal.
func DefaultConfig() *Config {
	return &Config{
		Portal: PortalConfig{
			BaseURL:           "https://dadosabertos.tse.jus.br",
			CatalogPath:       "/dataset/?groups=candidatos",
			UserAgent:         "tsegrab/1.0 (+https://github.com/tsegrab/tsegrab; bulk archival of public election data)",
			RequestTimeout:    30 * time.Second,
			MaxCatalogPages:   50,
			RequestsPerMinute: 60,
		},
		Download: DownloadConfig{
			ChunkSize:       8192,
			TransferTimeout: 60 * time.Second,
			RetryAttempts:   3,
			RetryBaseDelay:  2 * time.Second,
			RetryMaxDelay:   60 * time.Second,
			Concurrent:      1,
		},
		Output: OutputConfig{
			BaseDirectory: "dados-tse",
			ManifestName:  "failed_downloads.txt",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration overrides from environment variables.
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("TSEGRAB_BASE_URL"); baseURL != "" {
		c.Portal.BaseURL = baseURL
	}
	if catalogPath := os.Getenv("TSEGRAB_CATALOG_PATH"); catalogPath != "" {
		c.Portal.CatalogPath = catalogPath
	}
	if userAgent := os.Getenv("TSEGRAB_USER_AGENT"); userAgent != "" {
		c.Portal.UserAgent = userAgent
	}
	if rpm := os.Getenv("TSEGRAB_REQUESTS_PER_MINUTE"); rpm != "" {
		var val int
		fmt.Sscanf(rpm, "%d", &val)
		if val > 0 {
			c.Portal.RequestsPerMinute = val
		}
	}
	if outputDir := os.Getenv("TSEGRAB_OUTPUT_DIR"); outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent := os.Getenv("TSEGRAB_CONCURRENT"); concurrent != "" {
		var val int
		fmt.Sscanf(concurrent, "%d", &val)
		if val > 0 {
			c.Download.Concurrent = val
		}
	}
	if logLevel := os.Getenv("TSEGRAB_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file. An empty path falls
// back to the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for a config file in standard locations.
func (c *Config) findConfigFile() string {
	locations := []string{
		".tsegrab.yaml",
		".tsegrab.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "tsegrab", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "tsegrab", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".tsegrab.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.Portal.BaseURL == "" {
		errs = append(errs, errors.New("portal base URL is required"))
	}
	if !strings.HasPrefix(c.Portal.BaseURL, "http://") && !strings.HasPrefix(c.Portal.BaseURL, "https://") {
		errs = append(errs, errors.New("portal base URL must be absolute"))
	}
	if c.Portal.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Portal.MaxCatalogPages <= 0 {
		errs = append(errs, errors.New("max catalog pages must be positive"))
	}
	if c.Portal.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}

	if c.Download.ChunkSize <= 0 {
		errs = append(errs, errors.New("chunk size must be positive"))
	}
	if c.Download.RetryAttempts <= 0 {
		errs = append(errs, errors.New("retry attempts must be positive"))
	}
	if c.Download.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("retry base delay must be positive"))
	}
	if c.Download.Concurrent <= 0 {
		errs = append(errs, errors.New("concurrent transfers must be positive"))
	}
	if c.Download.Concurrent > 8 {
		errs = append(errs, errors.New("concurrent transfers should not exceed 8"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if c.Output.ManifestName == "" {
		errs = append(errs, errors.New("manifest name is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if baseURL, ok := flags["base-url"].(string); ok && baseURL != "" {
		c.Portal.BaseURL = baseURL
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.BaseDirectory = outputDir
	}
	if concurrent, ok := flags["concurrent"].(int); ok && concurrent > 0 {
		c.Download.Concurrent = concurrent
	}
	if maxRetries, ok := flags["max-retries"].(int); ok && maxRetries > 0 {
		c.Download.RetryAttempts = maxRetries
	}
	if timeout, ok := flags["transfer-timeout"].(int); ok && timeout > 0 {
		c.Download.TransferTimeout = time.Duration(timeout) * time.Second
	}
	if rpm, ok := flags["rate-limit"].(int); ok && rpm > 0 {
		c.Portal.RequestsPerMinute = rpm
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: command line flags > environment variables > .env file
// > config file > defaults.
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".tsegrab.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
