package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
)

// NoopRecorder discards every metric. Useful for tests and embedded use.
type NoopRecorder struct{}

// NewNoopRecorder creates a recorder that records nothing.
func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (NoopRecorder) RecordJobStart(ctx context.Context, record *model.JobRecord) {}
func (NoopRecorder) RecordJobEnd(ctx context.Context, record *model.JobRecord)   {}
func (NoopRecorder) RecordSectionItems(ctx context.Context, jobType model.JobType, section model.Section, count int) {
}
func (NoopRecorder) RecordItemSkip(ctx context.Context, jobType model.JobType, section model.Section) {
}
func (NoopRecorder) RecordCheckpointSave(ctx context.Context, jobType model.JobType) {}
func (NoopRecorder) RecordLockEvent(ctx context.Context, event string)               {}
func (NoopRecorder) RecordQuery(ctx context.Context, routing string, rows int, charge float64, duration time.Duration) {
}

var _ MetricRecorder = (*NoopRecorder)(nil)

// NoopTracer starts no spans.
type NoopTracer struct{}

// NewNoopTracer creates a tracer that traces nothing.
func NewNoopTracer() *NoopTracer { return &NoopTracer{} }

func (NoopTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, EndSpanFunc) {
	return ctx, func(error) {}
}

func (NoopTracer) Shutdown(ctx context.Context) error { return nil }

var _ Tracer = (*NoopTracer)(nil)
