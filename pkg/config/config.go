package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/awsrt/awsrt/pkg/archive"
	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/stores"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// Environment variables that override file settings.
const (
	EnvDataDir  = "AWSRT_DATA_DIR"
	EnvLogLevel = "AWSRT_LOG_LEVEL"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "awsrt.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir: "data",
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 0,
		},
		Fields: FieldsConfig{
			TileSize:         256,
			CompressionLevel: "default",
		},
		Runs: RunsConfig{
			DefaultHorizon:           engine.DefaultHorizon,
			DefaultStepDuration:      engine.DefaultStepDuration,
			DefaultSpreadProbability: engine.DefaultSpreadProbability,
		},
		Policy: PolicyConfig{
			Enabled: true,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			LogLevel:        "info",
			LogFormat:       "console",
			MetricsEnabled:  false,
			MetricsAddress:  ":9464",
			TracingExporter: "none",
		},
	}
}

// Load reads a YAML or CUE file over the defaults and applies environment overrides.
// An empty path loads awsrt.yaml from the working directory when present.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.HasSuffix(path, ".cue") {
		yamlData, err := cueToYAML(path, data)
		if err != nil {
			return err
		}
		data = yamlData
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// ApplyEnv applies the AWSRT_* environment overrides.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Telemetry.LogLevel = strings.ToLower(v)
	}
}

// Save writes the configuration as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate checks struct constraints and reports every failing field.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %s%s", fe.Namespace(), fe.Tag(), paramSuffix(fe.Param())))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// DatabasePath resolves the SQLite file.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(c.DataDir, "awsrt.db")
}

// ManifestDir resolves the manifest directory.
func (c *Config) ManifestDir() string {
	if c.Manifests.Dir != "" {
		return c.Manifests.Dir
	}
	return filepath.Join(c.DataDir, "manifests")
}

// StoreConfig returns the SQLite store settings.
func (c *Config) StoreConfig() stores.Config {
	return stores.Config{
		Path:            c.DatabasePath(),
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// ArchiveStoreConfig returns the object store settings.
func (c *Config) ArchiveStoreConfig() archive.StoreConfig {
	return archive.StoreConfig{
		Endpoint:  c.Archive.Endpoint,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		Region:    c.Archive.Region,
		UseSSL:    c.Archive.UseSSL,
		Bucket:    c.Archive.Bucket,
	}
}

// TelemetryConfig expands the telemetry section into a full telemetry config.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Metrics.Enabled = c.Telemetry.MetricsEnabled
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	tc.Tracing.Exporter = c.Telemetry.TracingExporter
	tc.Tracing.Enabled = c.Telemetry.TracingExporter != "none"
	tc.Tracing.Endpoint = c.Telemetry.TracingEndpoint
	tc.Tracing.ExportTimeout = 10 * time.Second
	return tc
}
