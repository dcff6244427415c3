package age

import (
	"go.uber.org/fx"

	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
)

// Module is an Fx module that provides the AGE-backed graph store.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewAgeGraphStore,
		fx.As(new(graph.GraphStore)),
	)),
)
