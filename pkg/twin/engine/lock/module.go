package lock

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the lock manager.
var Module = fx.Options(
	fx.Provide(NewManager),
)
