package executor

import (
	"context"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	job "github.com/tigerroll/twinstore/pkg/twin/engine/job"
	lock "github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const deleteModule = "DeleteExecutor"

// DeleteExecutor removes the whole graph in bounded batches, relationships
// before twins before models so nothing is ever deleted while still
// referenced. An empty graph is a successful outcome with zero counters.
type DeleteExecutor struct {
	runner
	store graph.GraphStore
}

// NewDeleteExecutor wires the delete executor.
func NewDeleteExecutor(jobs *job.Service, repo repository.JobRepository, locks *lock.Manager,
	store graph.GraphStore,
	recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.JobsConfig) *DeleteExecutor {
	return &DeleteExecutor{
		runner: newRunner(jobs, repo, locks, recorder, tracer, cfg),
		store:  store,
	}
}

func (e *DeleteExecutor) deleteBatch(ctx context.Context, section model.Section, limit int) (int, error) {
	switch section {
	case model.SectionRelationships:
		return e.store.DeleteRelationships(ctx, limit)
	case model.SectionTwins:
		return e.store.DeleteTwins(ctx, limit)
	case model.SectionModels:
		return e.store.DeleteModels(ctx, limit)
	default:
		return 0, nil
	}
}

func (e *DeleteExecutor) countBatch(record *model.JobRecord, section model.Section, n int) {
	switch section {
	case model.SectionRelationships:
		record.RelationshipsDeleted += n
	case model.SectionTwins:
		record.TwinsDeleted += n
	case model.SectionModels:
		record.ModelsDeleted += n
	}
}

// Run executes a delete-all job. A failed lock acquisition is a silent no-op.
func (e *DeleteExecutor) Run(ctx context.Context, jobID string) error {
	record, cp, owned, err := e.begin(ctx, jobID, model.JobTypeDelete)
	if err != nil || !owned {
		return err
	}
	defer e.locks.Release(ctx, jobID)

	ctx, endSpan := e.tracer.StartSpan(ctx, "job.delete", map[string]string{"job.id": jobID})
	var runErr error
	defer func() { endSpan(runErr) }()

	for !cp.IsCompleted() {
		section := cp.CurrentSection

		for {
			n, err := e.deleteBatch(ctx, section, e.cfg.BatchSize)
			if err != nil {
				runErr = e.fail(ctx, record, err)
				return runErr
			}
			if n == 0 {
				break
			}

			e.countBatch(record, section, n)
			cp.RecordItems(n)
			e.recorder.RecordSectionItems(ctx, record.JobType, section, n)

			if sig := e.tick(ctx, record, cp); sig != SignalContinue {
				runErr = e.handleSignal(ctx, record, cp, sig)
				return runErr
			}
		}

		logger.Debugf("%s: job '%s' finished section '%s' (%d items).",
			deleteModule, jobID, section, cp.SectionCounts[section.String()])
		cp.CompleteSection()
		if sig := e.tick(ctx, record, cp); sig != SignalContinue {
			runErr = e.handleSignal(ctx, record, cp, sig)
			return runErr
		}
	}

	runErr = e.finish(ctx, record, cp, nil)
	return runErr
}
