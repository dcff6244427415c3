package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	// 1. Load defaults from NewConfig()
	cfg := NewConfig()

	// 2. Load configuration from embedded YAML into a temporary Config struct.
	var yamlConfig Config
	if err := yaml.Unmarshal(embeddedConfig, &yamlConfig); err != nil {
		return nil, exception.NewStoreError(moduleName, "failed to unmarshal embedded config", err, exception.CategoryValidation, false, false)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables.
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewStoreError(moduleName, "failed to load config from environment variables", err, exception.CategoryValidation, false, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults,
// merging from embedded YAML, and overriding with environment variables.
// It also sets the global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, err
	}

	logger.SetLogLevel(cfg.Twinstore.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Twinstore.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeTwinstoreConfig(&destConfig.Twinstore, &sourceConfig.Twinstore)
}

// mergeTwinstoreConfig merges source into dest.
func mergeTwinstoreConfig(dest, source *TwinstoreConfig) {
	// Merge JobsConfig
	if source.Jobs.BatchSize != 0 {
		dest.Jobs.BatchSize = source.Jobs.BatchSize
	}
	if source.Jobs.CheckpointInterval != 0 {
		dest.Jobs.CheckpointInterval = source.Jobs.CheckpointInterval
	}
	if source.Jobs.LeaseSeconds != 0 {
		dest.Jobs.LeaseSeconds = source.Jobs.LeaseSeconds
	}
	if source.Jobs.PurgeAfterHours != 0 {
		dest.Jobs.PurgeAfterHours = source.Jobs.PurgeAfterHours
	}
	if source.Jobs.SupportedImportVersions != nil {
		dest.Jobs.SupportedImportVersions = source.Jobs.SupportedImportVersions
	}

	// Merge QueryConfig
	if source.Query.DefaultPageSize != 0 {
		dest.Query.DefaultPageSize = source.Query.DefaultPageSize
	}
	if source.Query.MaxPageSize != 0 {
		dest.Query.MaxPageSize = source.Query.MaxPageSize
	}
	if source.Query.GraphName != "" {
		dest.Query.GraphName = source.Query.GraphName
	}

	// Merge SystemConfig
	if source.System.Timezone != "" {
		dest.System.Timezone = source.System.Timezone
	}
	if source.System.Logging.Level != "" {
		dest.System.Logging.Level = source.System.Logging.Level
	}

	// Merge TracingConfig
	if source.Tracing.Enabled {
		dest.Tracing.Enabled = true
	}
	if source.Tracing.Endpoint != "" {
		dest.Tracing.Endpoint = source.Tracing.Endpoint
	}
	if source.Tracing.ServiceName != "" {
		dest.Tracing.ServiceName = source.Tracing.ServiceName
	}

	// Merge InfrastructureConfig
	if source.Infrastructure.JobRepositoryDBRef != "" {
		dest.Infrastructure.JobRepositoryDBRef = source.Infrastructure.JobRepositoryDBRef
	}
	if source.Infrastructure.GraphDBRef != "" {
		dest.Infrastructure.GraphDBRef = source.Infrastructure.GraphDBRef
	}
	if source.Infrastructure.GraphReadDBRef != "" {
		dest.Infrastructure.GraphReadDBRef = source.Infrastructure.GraphReadDBRef
	}

	// Merge AdapterConfigs (this is the critical part for database configs)
	if source.AdapterConfigs != nil {
		if dest.AdapterConfigs == nil {
			dest.AdapterConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdapterConfigs {
			dest.AdapterConfigs[key] = value
		}
	}

	// Merge StorageConfigs
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name.
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists {
			continue
		}

		if err := setField(field, envValue); err != nil {
			return exception.NewStoreError(moduleName,
				"failed to set field '"+fieldType.Name+"' from env var '"+envVarName+"'",
				err, exception.CategoryValidation, false, false)
		}
	}
	return nil
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
