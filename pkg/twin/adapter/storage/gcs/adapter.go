// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	gcstorage "cloud.google.com/go/storage"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storageAdapter "github.com/tigerroll/twinstore/pkg/twin/adapter/storage"
	storageConfig "github.com/tigerroll/twinstore/pkg/twin/adapter/storage/config"
	coreConfig "github.com/tigerroll/twinstore/pkg/twin/core/config"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const (
	// ProviderType defines the type identifier for this GCS storage provider.
	ProviderType = "gcs"
)

// gcsAdapter implements the storage.StorageConnection interface for Google Cloud Storage.
type gcsAdapter struct {
	client *gcstorage.Client
	cfg    storageConfig.StorageConfig
	name   string
}

// Verify that gcsAdapter implements the storage.StorageConnection interface.
var _ storageAdapter.StorageConnection = (*gcsAdapter)(nil)

// NewGCSAdapter creates a new gcsAdapter instance.
// When CredentialsFile is set the client authenticates with it, otherwise
// Application Default Credentials are used.
func NewGCSAdapter(ctx context.Context, cfg storageConfig.StorageConfig, name string) (storageAdapter.StorageConnection, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter '%s': failed to create client: %w", name, err)
	}

	return &gcsAdapter{
		client: client,
		cfg:    cfg,
		name:   name,
	}, nil
}

// Close closes the underlying GCS client.
func (a *gcsAdapter) Close() error {
	logger.Debugf("GCS storage adapter '%s' closed.", a.name)
	return a.client.Close()
}

// Type returns the type of the adapter, which is "gcs".
func (a *gcsAdapter) Type() string {
	return ProviderType
}

// Name returns the name of this connection.
func (a *gcsAdapter) Name() string {
	return a.name
}

// bucketName resolves the effective bucket, falling back to the configured default.
func (a *gcsAdapter) bucketName(bucket string) string {
	if bucket != "" {
		return bucket
	}
	return a.cfg.BucketName
}

// Upload uploads data to the specified bucket and object name.
func (a *gcsAdapter) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	w := a.client.Bucket(a.bucketName(bucket)).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}

	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object '%s' to bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object '%s' in bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	logger.Debugf("Uploaded object '%s' to bucket '%s' (gcs adapter '%s').", objectName, a.bucketName(bucket), a.name)
	return nil
}

// Download downloads data from the specified bucket and object name.
// The returned io.ReadCloser must be closed by the caller.
func (a *gcsAdapter) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	r, err := a.client.Bucket(a.bucketName(bucket)).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object '%s' in bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	logger.Debugf("Downloaded object '%s' from bucket '%s' (gcs adapter '%s').", objectName, a.bucketName(bucket), a.name)
	return r, nil
}

// ListObjects lists objects within the specified bucket and prefix, calling fn for each.
func (a *gcsAdapter) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	it := a.client.Bucket(a.bucketName(bucket)).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in bucket '%s': %w", a.bucketName(bucket), err)
		}
		if err := fn(attrs.Name); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject deletes the specified object from the bucket.
func (a *gcsAdapter) DeleteObject(ctx context.Context, bucket, objectName string) error {
	if err := a.client.Bucket(a.bucketName(bucket)).Object(objectName).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", objectName, a.bucketName(bucket), err)
	}
	logger.Debugf("Deleted object '%s' from bucket '%s' (gcs adapter '%s').", objectName, a.bucketName(bucket), a.name)
	return nil
}

// GCSProvider implements storage.StorageProvider for Google Cloud Storage connections.
type GCSProvider struct {
	cfg         *coreConfig.Config
	connections map[string]storageAdapter.StorageConnection
	mu          sync.RWMutex
}

// NewGCSProvider creates a new GCSProvider.
func NewGCSProvider(cfg *coreConfig.Config) *GCSProvider {
	return &GCSProvider{
		cfg:         cfg,
		connections: make(map[string]storageAdapter.StorageConnection),
	}
}

// Type returns the storage type handled by this provider.
func (p *GCSProvider) Type() string {
	return ProviderType
}

// GetConnection retrieves an existing connection or establishes a new one.
func (p *GCSProvider) GetConnection(name string) (storageAdapter.StorageConnection, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	var storageCfg storageConfig.StorageConfig
	rawConfig, ok := p.cfg.Twinstore.StorageConfigs[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration '%s' not found", name)
	}
	if err := mapstructure.Decode(rawConfig, &storageCfg); err != nil {
		return nil, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("provider type mismatch: expected '%s', got '%s' for connection '%s'", ProviderType, storageCfg.Type, name)
	}

	conn, err := NewGCSAdapter(context.Background(), storageCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new storage connection: %s (%s)", name, ProviderType)
	return conn, nil
}

// CloseAll closes all connections managed by this provider.
func (p *GCSProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close storage connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
