// Package inmemory provides in-memory implementations of the core repositories.
// This module integrates them into the application's dependency graph using Fx.
package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
)

// Module is an Fx module that provides the in-memory repositories as their
// core repository interfaces.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			NewInMemoryLockRepository,
			fx.As(new(repository.LockRepository)),
		),
	),
)
