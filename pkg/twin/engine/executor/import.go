package executor

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	storage "github.com/tigerroll/twinstore/pkg/twin/adapter/storage"
	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	job "github.com/tigerroll/twinstore/pkg/twin/engine/job"
	lock "github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	graph "github.com/tigerroll/twinstore/pkg/twin/graph"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const importModule = "ImportExecutor"

// ImportExecutor streams a bulk ND-JSON document into the graph, section by
// section, checkpointing as it goes so a crashed or cancelled run resumes at
// the last committed offset.
type ImportExecutor struct {
	runner
	store    graph.GraphStore
	storages storage.StorageConnectionResolver
}

// NewImportExecutor wires the import executor.
func NewImportExecutor(jobs *job.Service, repo repository.JobRepository, locks *lock.Manager,
	store graph.GraphStore, storages storage.StorageConnectionResolver,
	recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.JobsConfig) *ImportExecutor {
	return &ImportExecutor{
		runner:   newRunner(jobs, repo, locks, recorder, tracer, cfg),
		store:    store,
		storages: storages,
	}
}

// load fetches and parses the job's input document. Validation happens here,
// before any graph mutation.
func (e *ImportExecutor) load(ctx context.Context, record *model.JobRecord) (*Document, error) {
	storageRef, ok := record.RequestData.GetString(KeyStorageRef)
	if !ok {
		return nil, exception.NewValidationError(importModule, "request is missing the storage reference", nil)
	}
	inputPath, ok := record.RequestData.GetString(KeyInputPath)
	if !ok {
		return nil, exception.NewValidationError(importModule, "request is missing the input path", nil)
	}

	conn, err := e.storages.ResolveStorageConnection(ctx, storageRef)
	if err != nil {
		return nil, exception.NewInfrastructureError(importModule,
			fmt.Sprintf("failed to resolve storage '%s'", storageRef), err)
	}
	reader, err := conn.Download(ctx, "", inputPath)
	if err != nil {
		return nil, exception.NewInfrastructureError(importModule,
			fmt.Sprintf("failed to download input '%s'", inputPath), err)
	}
	defer reader.Close()

	return ParseImportDocument(reader, e.cfg.SupportedImportVersions)
}

func (e *ImportExecutor) applyItem(ctx context.Context, section model.Section, item map[string]interface{}) error {
	switch section {
	case model.SectionModels:
		return e.store.CreateOrReplaceModel(ctx, item)
	case model.SectionTwins:
		return e.store.CreateOrReplaceTwin(ctx, item)
	case model.SectionRelationships:
		return e.store.CreateOrReplaceRelationship(ctx, item)
	default:
		return exception.NewValidationError(importModule, fmt.Sprintf("section '%s' holds no items", section), nil)
	}
}

func (e *ImportExecutor) countItem(record *model.JobRecord, section model.Section) {
	switch section {
	case model.SectionModels:
		record.ModelsCreated++
	case model.SectionTwins:
		record.TwinsCreated++
	case model.SectionRelationships:
		record.RelationshipsCreated++
	}
}

// Run executes an import job. A failed lock acquisition is a silent no-op:
// the job is presumed owned by another instance.
func (e *ImportExecutor) Run(ctx context.Context, jobID string) error {
	record, cp, owned, err := e.begin(ctx, jobID, model.JobTypeImport)
	if err != nil || !owned {
		return err
	}
	defer e.locks.Release(ctx, jobID)

	ctx, endSpan := e.tracer.StartSpan(ctx, "job.import", map[string]string{"job.id": jobID})
	var runErr error
	defer func() { endSpan(runErr) }()

	doc, err := e.load(ctx, record)
	if err != nil {
		runErr = e.fail(ctx, record, err)
		return runErr
	}

	// The header is fully consumed by validation.
	if cp.CurrentSection == model.SectionHeader {
		cp.CompleteSection()
		if sig := e.tick(ctx, record, cp); sig != SignalContinue {
			runErr = e.handleSignal(ctx, record, cp, sig)
			return runErr
		}
	}

	continueOnFailure := e.continueOnFailure(record)
	var itemErrs *multierror.Error

	for !cp.IsCompleted() {
		section := cp.CurrentSection
		items := doc.SectionItems(section)

		for i := cp.ItemsInSection; i < len(items); i++ {
			if err := e.applyItem(ctx, section, items[i]); err != nil {
				record.ErrorCount++
				itemErrs = multierror.Append(itemErrs, err)
				if !continueOnFailure || exception.CategoryOf(err) != exception.CategoryItem {
					runErr = e.fail(ctx, record, err)
					return runErr
				}
				e.recorder.RecordItemSkip(ctx, record.JobType, section)
				logger.Warnf("%s: job '%s' skipped an item in section '%s': %v", importModule, jobID, section, err)
			} else {
				e.countItem(record, section)
			}
			cp.RecordItems(1)
			e.recorder.RecordSectionItems(ctx, record.JobType, section, 1)

			if cp.ItemsInSection%e.checkpointInterval() == 0 {
				if sig := e.tick(ctx, record, cp); sig != SignalContinue {
					runErr = e.handleSignal(ctx, record, cp, sig)
					return runErr
				}
			}
		}

		cp.CompleteSection()
		if sig := e.tick(ctx, record, cp); sig != SignalContinue {
			runErr = e.handleSignal(ctx, record, cp, sig)
			return runErr
		}
	}

	runErr = e.finish(ctx, record, cp, itemErrs)
	return runErr
}
