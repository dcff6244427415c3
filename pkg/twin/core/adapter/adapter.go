// Package adapter defines generic contracts for external resource connections
// (databases, object storage) used across the twin store.
package adapter

import (
	"context"
)

// ResourceConnection represents a generic connection to any resource (e.g., database, storage).
type ResourceConnection interface {
	// Close closes the resource connection.
	Close() error
	// Type returns the type of the resource (e.g., "postgres", "gcs").
	Type() string
	// Name returns the connection name (e.g., "metadata", "graph").
	Name() string
}

// ResourceProvider is an interface responsible for providing resource connections based on configuration.
type ResourceProvider interface {
	// GetConnection retrieves a resource connection with the specified name.
	GetConnection(name string) (ResourceConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the type of resource handled by this provider (e.g., "database", "storage").
	Type() string
}

// ResourceConnectionResolver is an interface that resolves the required resource connection instance by name.
type ResourceConnectionResolver interface {
	// ResolveConnection resolves a resource connection instance by name.
	// This method is responsible for ensuring that the returned connection is valid and re-established if necessary.
	ResolveConnection(ctx context.Context, name string) (ResourceConnection, error)
}
