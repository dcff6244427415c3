package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// LogLevel defines the logging level for the application.
type LogLevel string

const (
	LogLevelDebug  LogLevel = "DEBUG"
	LogLevelInfo   LogLevel = "INFO"
	LogLevelWarn   LogLevel = "WARN"
	LogLevelError  LogLevel = "ERROR"
	LogLevelFatal  LogLevel = "FATAL"
	LogLevelSilent LogLevel = "SILENT"
)

// JobsConfig holds configuration for the job orchestration engine.
type JobsConfig struct {
	// BatchSize is the number of items an executor processes per batch.
	BatchSize int `yaml:"batch_size"`
	// CheckpointInterval is the number of processed items between checkpoint
	// persists; it is also the heartbeat/cancellation-poll cadence.
	CheckpointInterval int `yaml:"checkpoint_interval"`
	// LeaseSeconds is the lock lease duration granted on acquisition and on
	// each heartbeat renewal.
	LeaseSeconds int `yaml:"lease_seconds"`
	// PurgeAfterHours is the retention horizon applied to terminal jobs.
	PurgeAfterHours int `yaml:"purge_after_hours"`
	// ContinueOnFailure is the default failure-tolerance policy for bulk jobs
	// when the request payload does not specify one.
	ContinueOnFailure bool `yaml:"continue_on_failure"`
	// SupportedImportVersions lists the accepted import file format major versions.
	SupportedImportVersions []string `yaml:"supported_import_versions"`
}

// QueryConfig holds configuration for the query pagination engine.
type QueryConfig struct {
	// DefaultPageSize is the per-page row cap applied when the caller supplies none.
	DefaultPageSize int `yaml:"default_page_size"`
	// MaxPageSize is the hard upper bound on a caller-supplied page size.
	MaxPageSize int `yaml:"max_page_size"`
	// GraphName is the AGE graph the translator binds declarative queries to.
	GraphName string `yaml:"graph_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig holds OTLP trace export settings.
type TracingConfig struct {
	// Enabled toggles span export; when false a no-op tracer provider is used.
	Enabled bool `yaml:"enabled"`
	// Endpoint is the OTLP/gRPC collector endpoint (host:port).
	Endpoint string `yaml:"endpoint"`
	// ServiceName labels exported spans.
	ServiceName string `yaml:"service_name"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	// JobRepositoryDBRef is the name of the DBConnection used by the job/lock
	// repositories (e.g., "metadata").
	JobRepositoryDBRef string `yaml:"job_repository_db_ref"`
	// GraphDBRef is the name of the read-write DBConnection used by the graph store.
	GraphDBRef string `yaml:"graph_db_ref"`
	// GraphReadDBRef is the name of the read-preferred DBConnection used for
	// queries the translator classifies as replica-safe. Falls back to
	// GraphDBRef when empty.
	GraphReadDBRef string `yaml:"graph_read_db_ref"`
}

// TwinstoreConfig holds all configuration under the "twinstore" top-level key.
type TwinstoreConfig struct {
	// Jobs contains job orchestration configurations.
	Jobs JobsConfig `yaml:"jobs"`
	// Query contains query pagination configurations.
	Query QueryConfig `yaml:"query"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Tracing contains OTLP tracing configurations.
	Tracing TracingConfig `yaml:"tracing"`
	// Infrastructure contains infrastructure-related configurations.
	Infrastructure InfrastructureConfig `yaml:"infrastructure"`
	// AdapterConfigs holds configurations for database connections, keyed by name.
	AdapterConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds configurations for storage connections, keyed by name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Twinstore contains the top-level configuration for the twin store.
	Twinstore TwinstoreConfig `yaml:"twinstore"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Twinstore: TwinstoreConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Jobs: JobsConfig{
				BatchSize:               100,
				CheckpointInterval:      50,
				LeaseSeconds:            30,
				PurgeAfterHours:         24,
				ContinueOnFailure:       true,
				SupportedImportVersions: []string{"1"},
			},
			Query: QueryConfig{
				DefaultPageSize: 100,
				MaxPageSize:     1000,
				GraphName:       "digitaltwins",
			},
			Tracing: TracingConfig{
				Enabled:     false,
				ServiceName: "twinstore",
			},
			Infrastructure: InfrastructureConfig{
				JobRepositoryDBRef: "metadata",
				GraphDBRef:         "graph",
			},
		},
	}

	// Initialize adapter maps as empty, to be populated by YAML or mergeConfig.
	cfg.Twinstore.AdapterConfigs = map[string]interface{}{}
	cfg.Twinstore.StorageConfigs = map[string]interface{}{}
	return cfg
}
