package executor

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the three bulk executors.
var Module = fx.Options(
	fx.Provide(NewImportExecutor),
	fx.Provide(NewDeleteExecutor),
	fx.Provide(NewExportExecutor),
)
