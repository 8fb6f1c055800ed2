package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Macroflow MacroflowConfig `yaml:"macroflow"`
	Database  DatabaseConfig  `yaml:"database"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Sources   SourcesConfig   `yaml:"sources"`
	Storage   StorageConfig   `yaml:"storage"`
	Quality   QualityConfig   `yaml:"quality"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type MacroflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FetchConfig holds the HTTP defaults every source inherits unless its own
// block overrides them.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	Retry         RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      time.Duration `yaml:"jitter"`
}

type SourcesConfig struct {
	Fred  SourceConfig `yaml:"fred"`
	Ecb   SourceConfig `yaml:"ecb"`
	Cftc  SourceConfig `yaml:"cftc"`
	Stooq SourceConfig `yaml:"stooq"`
}

type SourceConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxSpanYears      int           `yaml:"max_span_years"`
	PageSize          int           `yaml:"page_size"`
	MaxPages          int           `yaml:"max_pages"`
	Locale            string        `yaml:"locale"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type QualityConfig struct {
	MinCurveTenors int             `yaml:"min_curve_tenors"`
	AccuracyRanges []AccuracyRange `yaml:"accuracy_ranges"`
}

type AccuracyRange struct {
	Series string  `yaml:"series"`
	Min    float64 `yaml:"min"`
	Max    float64 `yaml:"max"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

const defaultConfigPath = "config/config.yaml"

var envConfigPaths = map[string]string{
	environmentProduction: "config/config.production.yaml",
	environmentStaging:    "config/config.staging.yaml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, envConfigPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Fetch: FetchConfig{
			Timeout:       30 * time.Second,
			MaxConcurrent: 2,
			Retry: RetryConfig{
				MaxAttempts: 5,
				BaseDelay:   time.Second,
				MaxDelay:    30 * time.Second,
				Jitter:      5 * time.Second,
			},
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// API keys come from the environment, never from the file on disk.
	resolveAPIKey(&config.Sources.Fred)
	resolveAPIKey(&config.Sources.Ecb)
	resolveAPIKey(&config.Sources.Cftc)
	resolveAPIKey(&config.Sources.Stooq)

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func resolveAPIKey(src *SourceConfig) {
	if src.APIKeyEnv == "" {
		return
	}
	if v := os.Getenv(src.APIKeyEnv); v != "" {
		src.APIKey = strings.TrimSpace(v)
	}
}

// EnabledSources returns the names of all sources switched on in config, in
// a fixed order so runs are reproducible.
func (c *Config) EnabledSources() []string {
	var out []string
	for _, s := range []struct {
		name string
		cfg  SourceConfig
	}{
		{"fred", c.Sources.Fred},
		{"ecb", c.Sources.Ecb},
		{"cftc", c.Sources.Cftc},
		{"stooq", c.Sources.Stooq},
	} {
		if s.cfg.Enabled {
			out = append(out, s.name)
		}
	}
	return out
}

// Source looks a source block up by name.
func (c *Config) Source(name string) (SourceConfig, bool) {
	switch name {
	case "fred":
		return c.Sources.Fred, true
	case "ecb":
		return c.Sources.Ecb, true
	case "cftc":
		return c.Sources.Cftc, true
	case "stooq":
		return c.Sources.Stooq, true
	default:
		return SourceConfig{}, false
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Macroflow.Name == "" {
		return fmt.Errorf("macroflow.name is required")
	}
	if cfg.Macroflow.Version == "" {
		return fmt.Errorf("macroflow.version is required")
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if cfg.Fetch.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.retry.max_attempts must be greater than 0")
	}
	if cfg.Fetch.Retry.BaseDelay <= 0 {
		return fmt.Errorf("fetch.retry.base_delay must be greater than 0")
	}

	for _, name := range cfg.EnabledSources() {
		src, _ := cfg.Source(name)
		if src.BaseURL == "" {
			return fmt.Errorf("sources.%s.base_url is required when the source is enabled", name)
		}
		if src.RequestsPerSecond < 0 {
			return fmt.Errorf("sources.%s.requests_per_second must not be negative", name)
		}
	}
	if cfg.Sources.Fred.Enabled && cfg.Sources.Fred.APIKey == "" {
		return fmt.Errorf("sources.fred requires an api key (set %s)", fredKeyHint(cfg))
	}

	for _, r := range cfg.Quality.AccuracyRanges {
		if r.Series == "" {
			return fmt.Errorf("quality.accuracy_ranges entries require a series code")
		}
		if r.Min >= r.Max {
			return fmt.Errorf("quality.accuracy_ranges for %s: min must be below max", r.Series)
		}
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

func fredKeyHint(cfg *Config) string {
	if cfg.Sources.Fred.APIKeyEnv != "" {
		return cfg.Sources.Fred.APIKeyEnv
	}
	return "sources.fred.api_key_env"
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
