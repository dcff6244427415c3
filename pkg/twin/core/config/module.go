// Package config provides core configuration structures and utilities for the twin store.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Twinstore.System.Logging
}

// NewJobsConfigProvider extracts and provides *JobsConfig from *Config.
func NewJobsConfigProvider(cfg *Config) *JobsConfig {
	return &cfg.Twinstore.Jobs
}

// NewQueryConfigProvider extracts and provides *QueryConfig from *Config.
func NewQueryConfigProvider(cfg *Config) *QueryConfig {
	return &cfg.Twinstore.Query
}

// Module provides configuration-related components to Fx.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewJobsConfigProvider),
	fx.Provide(NewQueryConfigProvider),
)
