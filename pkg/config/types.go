package config

import "time"

// Config is the on-disk configuration of the awsrt CLI.
type Config struct {
	// DataDir holds the database, manifests and renders unless overridden.
	DataDir string `yaml:"data_dir" json:"data_dir" validate:"required"`

	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Fields    FieldsConfig    `yaml:"fields" json:"fields"`
	Runs      RunsConfig      `yaml:"runs" json:"runs"`
	Manifests ManifestsConfig `yaml:"manifests" json:"manifests"`
	Policy    PolicyConfig    `yaml:"policy" json:"policy"`
	Archive   ArchiveConfig   `yaml:"archive" json:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the database file. Empty means <data_dir>/awsrt.db.
	Path            string        `yaml:"path" json:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" validate:"gte=0"`
}

// FieldsConfig configures how new series are chunked and compressed.
type FieldsConfig struct {
	TileSize         int    `yaml:"tile_size" json:"tile_size" validate:"gte=1,lte=256"`
	CompressionLevel string `yaml:"compression_level" json:"compression_level" validate:"oneof=fastest default better best"`
}

// RunsConfig holds the defaults applied to run init requests.
type RunsConfig struct {
	DefaultHorizon           int           `yaml:"default_horizon" json:"default_horizon" validate:"gte=1"`
	DefaultStepDuration      time.Duration `yaml:"default_step_duration" json:"default_step_duration" validate:"gte=1s"`
	DefaultSpreadProbability float64       `yaml:"default_spread_probability" json:"default_spread_probability" validate:"gte=0,lte=1"`
}

// ManifestsConfig locates environment and fire manifests.
type ManifestsConfig struct {
	// Dir is the manifest directory. Empty means <data_dir>/manifests.
	Dir   string `yaml:"dir" json:"dir"`
	Watch bool   `yaml:"watch" json:"watch"`
}

// PolicyConfig controls run admission.
type PolicyConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Paths   []string `yaml:"paths" json:"paths" validate:"dive,required"`
}

// ArchiveConfig points at an S3-compatible bucket for run exports.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint" validate:"required_with=Bucket"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Region    string `yaml:"region" json:"region"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
	Bucket    string `yaml:"bucket" json:"bucket" validate:"required_with=Endpoint"`
}

// TelemetryConfig is the user-facing subset of telemetry settings.
type TelemetryConfig struct {
	LogLevel        string `yaml:"log_level" json:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat       string `yaml:"log_format" json:"log_format" validate:"oneof=console json"`
	MetricsEnabled  bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsAddress  string `yaml:"metrics_address" json:"metrics_address" validate:"required_if=MetricsEnabled true"`
	TracingExporter string `yaml:"tracing_exporter" json:"tracing_exporter" validate:"oneof=none stdout otlp"`
	TracingEndpoint string `yaml:"tracing_endpoint" json:"tracing_endpoint" validate:"required_if=TracingExporter otlp"`
}
