// Package storage defines the common interfaces for storage adapters.
// These interfaces abstract object storage operations, allowing bulk job
// executors to read import files and write export files through a unified API
// regardless of backend (GCS or local file system).
package storage

import (
	"context"
	"io"

	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
)

// StorageExecutor defines generic storage operations.
type StorageExecutor interface {
	// Upload uploads data to the specified bucket and object name.
	// 'data' is the stream of data to upload. 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download downloads data from the specified bucket and object name.
	// It returns a ReadCloser which must be closed by the caller after use.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects lists objects within the specified bucket and prefix.
	// The 'fn' callback function is called for each object name found, allowing for
	// efficient processing of large numbers of objects without loading all into memory.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject deletes the specified object from the bucket.
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection represents a generic data storage connection.
type StorageConnection interface {
	coreAdapter.ResourceConnection // Inherits Close(), Type(), Name()
	StorageExecutor                // Inherits Upload(), Download(), ListObjects(), DeleteObject()
}

// StorageProvider manages the acquisition and lifecycle of data storage connections
// of a single backend type.
type StorageProvider interface {
	// GetConnection retrieves a StorageConnection with the specified name.
	GetConnection(name string) (StorageConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
	// Type returns the storage type handled by this provider (e.g., "gcs", "local").
	Type() string
}

// StorageConnectionResolver resolves storage connection instances by name.
type StorageConnectionResolver interface {
	coreAdapter.ResourceConnectionResolver

	// ResolveStorageConnection resolves a StorageConnection instance by name.
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}

// StorageProviderGroup is an Fx group name used to collect all StorageProvider implementations.
const StorageProviderGroup = "storage_providers"
