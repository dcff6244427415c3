package job_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	"github.com/tigerroll/twinstore/pkg/twin/engine/job"
	inmemory "github.com/tigerroll/twinstore/pkg/twin/infrastructure/repository/inmemory"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

func newTestService() *job.Service {
	repo := inmemory.NewInMemoryJobRepository()
	return job.NewService(repo, &config.JobsConfig{PurgeAfterHours: 24}, metrics.NewNoopRecorder())
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	record, err := svc.Create(ctx, "j1", model.JobTypeImport, nil)
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusNotStarted, record.Status)

	_, err = svc.Create(ctx, "j1", model.JobTypeImport, nil)
	assert.Error(t, err)
	assert.True(t, exception.IsConflict(err))
}

func TestCreate_EmptyIDIsValidationError(t *testing.T) {
	svc := newTestService()

	_, err := svc.Create(context.Background(), "", model.JobTypeImport, nil)
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))
}

func TestGet_MissingIsNilNotError(t *testing.T) {
	svc := newTestService()

	record, err := svc.Get(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestCancel_OnlyRunningJobsCancel(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	// Nonexistent job: no-op, no error.
	cancelled, err := svc.Cancel(ctx, "unknown")
	assert.NoError(t, err)
	assert.False(t, cancelled)

	record, err := svc.Create(ctx, "j1", model.JobTypeImport, nil)
	assert.NoError(t, err)

	// NotStarted is not cancellable.
	cancelled, err = svc.Cancel(ctx, "j1")
	assert.NoError(t, err)
	assert.False(t, cancelled)

	assert.NoError(t, svc.Transition(ctx, record, model.JobStatusRunning))

	cancelled, err = svc.Cancel(ctx, "j1")
	assert.NoError(t, err)
	assert.True(t, cancelled)

	found, err := svc.Get(ctx, "j1")
	assert.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelling, found.Status)

	// Already Cancelling: a second cancel is a no-op.
	cancelled, err = svc.Cancel(ctx, "j1")
	assert.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancel_TerminalJobIsNoOp(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	record, err := svc.Create(ctx, "j1", model.JobTypeDelete, nil)
	assert.NoError(t, err)
	assert.NoError(t, svc.Transition(ctx, record, model.JobStatusRunning))
	assert.NoError(t, svc.Transition(ctx, record, model.JobStatusSucceeded))

	cancelled, err := svc.Cancel(ctx, "j1")
	assert.NoError(t, err)
	assert.False(t, cancelled)
}

func TestTransition_EnforcesStateMachine(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	record, err := svc.Create(ctx, "j1", model.JobTypeImport, nil)
	assert.NoError(t, err)

	err = svc.Transition(ctx, record, model.JobStatusSucceeded)
	assert.Error(t, err)
	assert.Equal(t, exception.CategoryValidation, exception.CategoryOf(err))

	assert.NoError(t, svc.Transition(ctx, record, model.JobStatusRunning))
	assert.NoError(t, svc.Transition(ctx, record, model.JobStatusSucceeded))
	assert.NotNil(t, record.FinishedAt)
	assert.NotNil(t, record.PurgeAt)

	// Terminal records stay terminal.
	err = svc.Transition(ctx, record, model.JobStatusRunning)
	assert.Error(t, err)
}
