package gorm

import (
	"go.uber.org/fx"

	"github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
)

// Module exports the components of the gorm adapter package for dependency injection
// (excluding concrete DB providers, which register themselves per dialect).
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
		fx.As(new(coreAdapter.ResourceConnectionResolver)),
	)),
)
