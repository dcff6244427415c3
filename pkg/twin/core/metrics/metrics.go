// Package metrics defines the instrumentation contracts of the twin store.
// Implementations live under infrastructure/metrics; callers depend only on
// these interfaces so the recorder backend stays swappable.
package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
)

// MetricRecorder records job, section and query level metrics.
type MetricRecorder interface {
	// RecordJobStart records the start of a bulk job.
	RecordJobStart(ctx context.Context, record *model.JobRecord)
	// RecordJobEnd records the terminal outcome of a bulk job.
	RecordJobEnd(ctx context.Context, record *model.JobRecord)
	// RecordSectionItems records items committed within a section.
	RecordSectionItems(ctx context.Context, jobType model.JobType, section model.Section, count int)
	// RecordItemSkip records an item skipped under the continue-on-failure policy.
	RecordItemSkip(ctx context.Context, jobType model.JobType, section model.Section)
	// RecordCheckpointSave records a persisted checkpoint.
	RecordCheckpointSave(ctx context.Context, jobType model.JobType)
	// RecordLockEvent records a lease life-cycle event
	// (acquired, reclaimed, renewed, released, lost).
	RecordLockEvent(ctx context.Context, event string)
	// RecordQuery records one executed query page: its routing class
	// (read or readwrite), returned rows, charge and latency.
	RecordQuery(ctx context.Context, routing string, rows int, charge float64, duration time.Duration)
}

// EndSpanFunc closes a span, recording err when non-nil.
type EndSpanFunc func(err error)

// Tracer starts spans around the store's operations.
type Tracer interface {
	// StartSpan starts a span with the given name and attributes, returning the
	// derived context and a function that ends the span.
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, EndSpanFunc)
	// Shutdown flushes and stops the underlying span exporter.
	Shutdown(ctx context.Context) error
}
