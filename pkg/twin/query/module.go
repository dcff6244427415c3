package query

import (
	"go.uber.org/fx"
)

// Module is an Fx module that provides the query pagination engine.
var Module = fx.Options(
	fx.Provide(NewEngine),
)
