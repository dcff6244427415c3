// Package graph defines the contract of the twin graph store: CRUD over
// models, twins and relationships, batched deletes for bulk jobs, offset
// listing for export, and raw graph-query execution for the query engine.
package graph

import (
	"context"
)

// Property keys of the wire format shared by import and export documents.
const (
	KeyModelID          = "@id"
	KeyTwinID           = "$dtId"
	KeyMetadata         = "$metadata"
	KeyModel            = "$model"
	KeySourceID         = "$sourceId"
	KeyTargetID         = "$targetId"
	KeyRelationshipID   = "$relationshipId"
	KeyRelationshipName = "$relationshipName"
)

// GraphStore is the CRUD collaborator bulk executors and the query engine
// talk to. Implementations must make every write visible to subsequent reads
// from any process.
type GraphStore interface {
	// CreateOrReplaceModel upserts a model document keyed by "@id".
	CreateOrReplaceModel(ctx context.Context, document map[string]interface{}) error

	// CreateOrReplaceTwin upserts a twin keyed by "$dtId". A twin referencing a
	// nonexistent model is an item-level error.
	CreateOrReplaceTwin(ctx context.Context, twin map[string]interface{}) error

	// CreateOrReplaceRelationship upserts a relationship keyed by
	// "$relationshipId". Both endpoints must exist.
	CreateOrReplaceRelationship(ctx context.Context, relationship map[string]interface{}) error

	// DeleteRelationships deletes up to limit relationships, returning the
	// number deleted. Zero means the graph holds no more relationships.
	DeleteRelationships(ctx context.Context, limit int) (int, error)

	// DeleteTwins deletes up to limit twins, returning the number deleted.
	DeleteTwins(ctx context.Context, limit int) (int, error)

	// DeleteModels deletes up to limit models, returning the number deleted.
	DeleteModels(ctx context.Context, limit int) (int, error)

	// ListModels returns model documents ordered by id, for export streaming.
	ListModels(ctx context.Context, offset, limit int) ([]map[string]interface{}, error)

	// ListTwins returns twin documents ordered by id, for export streaming.
	ListTwins(ctx context.Context, offset, limit int) ([]map[string]interface{}, error)

	// ListRelationships returns relationship documents ordered by id, for export streaming.
	ListRelationships(ctx context.Context, offset, limit int) ([]map[string]interface{}, error)

	// ExecuteCypher runs a graph query and returns the raw text form of every
	// cell, row by row, aligned with columns. readWrite selects the connection
	// pool the query runs on.
	ExecuteCypher(ctx context.Context, cypher string, columns []string, readWrite bool) ([][]string, error)

	// Close releases resources held by the store.
	Close() error
}
