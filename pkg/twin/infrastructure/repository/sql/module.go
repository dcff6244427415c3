package sql

import (
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
)

// RepositoryParams defines the dependencies for the SQL repository providers.
type RepositoryParams struct {
	fx.In
	DBResolver coreAdapter.ResourceConnectionResolver
	Cfg        *config.Config
}

// NewJobRepositoryFromConfig provides the JobRepository bound to the
// configured metadata connection.
func NewJobRepositoryFromConfig(p RepositoryParams) repository.JobRepository {
	return NewSQLJobRepository(p.DBResolver, p.Cfg.Twinstore.Infrastructure.JobRepositoryDBRef)
}

// NewLockRepositoryFromConfig provides the LockRepository bound to the
// configured metadata connection.
func NewLockRepositoryFromConfig(p RepositoryParams) repository.LockRepository {
	return NewSQLLockRepository(p.DBResolver, p.Cfg.Twinstore.Infrastructure.JobRepositoryDBRef)
}

// Module exports the SQL repository implementations for dependency injection.
var Module = fx.Options(
	fx.Provide(NewJobRepositoryFromConfig),
	fx.Provide(NewLockRepositoryFromConfig),
)
