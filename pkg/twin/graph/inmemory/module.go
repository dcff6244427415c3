package inmemory

import (
	"go.uber.org/fx"

	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
)

// Module is an Fx module that provides the in-memory graph store.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewInMemoryGraphStore,
		fx.As(new(graph.GraphStore)),
	)),
)
