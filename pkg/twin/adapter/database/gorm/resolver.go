package gorm

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/fx"

	"github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	dbconfig "github.com/tigerroll/twinstore/pkg/twin/adapter/database/config"
	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // A map of DBProviders, keyed by database type (e.g., "postgres").
	cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
// It receives all registered DBProviders through Fx's group collection.
func NewGormDBConnectionResolver(p struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}

	return &GormDBConnectionResolver{
		dbProviders: providerMap,
		cfg:         p.Cfg,
	}
}

// ResolveDBConnection resolves a database connection with the specified name.
// It attempts to reconnect if the connection is closed or invalid.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	// 1. Get DB type from configuration.
	var dbConfig dbconfig.DatabaseConfig
	rawConfig, ok := r.cfg.Twinstore.AdapterConfigs[name]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: database configuration '%s' not found", name)
	}
	if err := mapstructure.Decode(rawConfig, &dbConfig); err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to decode database config for '%s': %w", name, err)
	}

	// 2. Select the appropriate DBProvider.
	provider, ok := r.dbProviders[dbConfig.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbConfig.Type, name)
	}

	// 3. Get connection from DBProvider.
	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	// 4. Validate the connection, forcing reconnection when the pool has gone stale.
	if err := conn.RefreshConnection(ctx); err != nil {
		logger.Warnf("Connection '%s' failed validation (%v), forcing reconnect.", name, err)
		conn, err = provider.ForceReconnect(name)
		if err != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to re-establish connection '%s': %w", name, err)
		}
	}

	return conn, nil
}

// ResolveConnection implements coreAdapter.ResourceConnectionResolver.
func (r *GormDBConnectionResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return r.ResolveDBConnection(ctx, name)
}
