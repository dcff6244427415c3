package storage

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
)

// Resolver is the default StorageConnectionResolver. It routes each named
// connection to the provider registered for the connection's configured type.
type Resolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// NewResolver creates a Resolver from all registered StorageProviders.
func NewResolver(p struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}) *Resolver {
	providerMap := make(map[string]StorageProvider)
	for _, provider := range p.Providers {
		providerMap[provider.Type()] = provider
	}
	return &Resolver{providers: providerMap, cfg: p.Cfg}
}

// ResolveStorageConnection resolves a StorageConnection instance by name.
func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	rawConfig, ok := r.cfg.Twinstore.StorageConfigs[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}

	var tempCfg struct {
		Type string `yaml:"type"`
	}
	if err := mapstructure.Decode(rawConfig, &tempCfg); err != nil {
		return nil, fmt.Errorf("failed to decode storage type for '%s': %w", name, err)
	}

	provider, ok := r.providers[tempCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider found for type '%s' (connection '%s')", tempCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("failed to get storage connection '%s' from provider '%s': %w", name, tempCfg.Type, err)
	}
	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *Resolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveStorageConnection(ctx, name)
}

// Module exports the resolver for dependency injection.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewResolver,
		fx.As(new(StorageConnectionResolver)),
	)),
)
