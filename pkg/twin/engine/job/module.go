package job

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the job service.
var Module = fx.Options(
	fx.Provide(NewService),
)
