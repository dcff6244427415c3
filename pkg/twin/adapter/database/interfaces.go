package database

import (
	"context"
	"database/sql"

	dbconfig "github.com/tigerroll/twinstore/pkg/twin/adapter/database/config"
	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
)

// DBExecutor is an interface that defines common write and read operations for a database.
type DBExecutor interface {
	// ExecuteUpdate performs write operations (INSERT, UPDATE, DELETE).
	ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (rowsAffected int64, err error)

	// ExecuteUpsert performs an UPSERT operation (INSERT ... ON CONFLICT DO UPDATE / DO NOTHING).
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)

	// ExecuteUpsertConditional performs an UPSERT whose DO UPDATE branch only fires when
	// the given condition holds against the existing row. The condition uses '?'
	// placeholders which the dialect rebinds. A zero rowsAffected means the row existed
	// and the condition did not hold.
	ExecuteUpsertConditional(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string, condition string, args ...interface{}) (rowsAffected int64, err error)

	// Exec runs a raw statement with '?' placeholders, returning affected rows.
	Exec(ctx context.Context, statement string, args ...interface{}) (rowsAffected int64, err error)

	// Query runs a raw query with '?' placeholders and scans the rows into target.
	Query(ctx context.Context, target interface{}, query string, args ...interface{}) error

	// ExecuteQuery executes a read operation (SELECT) using the query map as a WHERE clause.
	ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error

	// ExecuteQueryAdvanced executes a read operation with optional sorting and limiting.
	ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error

	// Count counts the number of records matching the query.
	Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error)
}

// DBConnection represents an abstraction of a database connection.
// It embeds coreAdapter.ResourceConnection for generic connection management
// and DBExecutor for database-specific operations.
type DBConnection interface {
	coreAdapter.ResourceConnection // Embeds Type(), Name(), Close()
	DBExecutor

	// RefreshConnection forces validation and re-establishment of the database connection.
	RefreshConnection(ctx context.Context) error
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying *sql.DB connection.
	GetSQLDB() (*sql.DB, error)
}

// DBConnectionResolver resolves the required database connection instance by name.
type DBConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveDBConnection resolves a database connection instance by name.
	// This method is responsible for ensuring that the returned connection is valid and re-established if necessary.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}

// DBProvider is an interface responsible for providing database connections based on configuration.
type DBProvider interface {
	// GetConnection retrieves a database connection with the specified name.
	GetConnection(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the database type handled by this provider (e.g., "postgres").
	Type() string
	// ForceReconnect forces the closure and re-establishment of an existing connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
}

// DBProviderGroup is an Fx group name used to collect all DBProvider implementations.
const DBProviderGroup = "db_providers"
