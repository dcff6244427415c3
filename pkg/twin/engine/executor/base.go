package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	job "github.com/tigerroll/twinstore/pkg/twin/engine/job"
	lock "github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// Signal is the tri-state outcome of the periodic progress hook. Executors
// drive a plain loop-and-check pattern off it instead of exception-style
// control flow.
type Signal int

const (
	// SignalContinue means the executor still owns the job and may proceed.
	SignalContinue Signal = iota
	// SignalCancelled means another caller requested cancellation; the
	// executor must stop after persisting its progress.
	SignalCancelled
	// SignalLockLost means ownership is gone; no further mutation is safe.
	SignalLockLost
)

// ErrOwnershipLost aborts a run after a failed heartbeat renewal. The job is
// safe to resume later under a new owner.
var ErrOwnershipLost = errors.New("job lock ownership lost")

// Request payload keys shared by the bulk executors.
const (
	KeyStorageRef        = "storage"
	KeyInputPath         = "inputPath"
	KeyOutputPath        = "outputPath"
	KeyOutputFormat      = "outputFormat"
	KeyContinueOnFailure = "continueOnFailure"
)

// runner carries the collaborators and policy every executor shares.
type runner struct {
	jobs     *job.Service
	repo     repository.JobRepository
	locks    *lock.Manager
	recorder metrics.MetricRecorder
	tracer   metrics.Tracer
	cfg      *config.JobsConfig
}

func newRunner(jobs *job.Service, repo repository.JobRepository, locks *lock.Manager,
	recorder metrics.MetricRecorder, tracer metrics.Tracer, cfg *config.JobsConfig) runner {
	return runner{jobs: jobs, repo: repo, locks: locks, recorder: recorder, tracer: tracer, cfg: cfg}
}

// begin takes the job lock and loads the record and checkpoint. A failed
// acquisition returns owned=false with no error: the job is presumed running
// elsewhere and this call is a silent no-op.
func (r *runner) begin(ctx context.Context, jobID string, jobType model.JobType) (record *model.JobRecord, cp *model.Checkpoint, owned bool, err error) {
	acquired, err := r.locks.TryAcquire(ctx, jobID, 0)
	if err != nil {
		return nil, nil, false, err
	}
	if !acquired {
		logger.Infof("Executor: job '%s' is locked by another instance, skipping.", jobID)
		return nil, nil, false, nil
	}

	defer func() {
		if err != nil {
			r.locks.Release(ctx, jobID)
		}
	}()

	record, err = r.repo.FindJobRecord(ctx, jobID)
	if err != nil {
		return nil, nil, false, err
	}
	if record == nil {
		return nil, nil, false, exception.NewNotFoundError("Executor", "job '"+jobID+"' does not exist")
	}
	if record.Status.IsTerminal() {
		return nil, nil, false, exception.NewConflictError("Executor", "job '"+jobID+"' already reached a terminal state", nil)
	}

	if record.Status == model.JobStatusNotStarted {
		if err = r.jobs.Transition(ctx, record, model.JobStatusRunning); err != nil {
			return nil, nil, false, err
		}
		r.recorder.RecordJobStart(ctx, record)
	}

	cp, err = r.repo.LoadCheckpoint(ctx, jobID)
	if err != nil {
		return nil, nil, false, err
	}
	if cp == nil {
		cp = model.NewCheckpoint(jobID, jobType)
	} else {
		logger.Infof("Executor: resuming job '%s' at section '%s' (offset %d).", jobID, cp.CurrentSection, cp.ItemsInSection)
	}
	return record, cp, true, nil
}

// tick is the periodic progress hook: persist the checkpoint, renew the
// heartbeat, poll for cancellation. Any loss of ownership stops the run.
func (r *runner) tick(ctx context.Context, record *model.JobRecord, cp *model.Checkpoint) Signal {
	cp.ErrorCount = record.ErrorCount
	cp.LastUpdated = time.Now()
	if err := r.repo.SaveCheckpoint(ctx, cp); err != nil {
		logger.Errorf("Executor: checkpoint save for job '%s' failed, stopping: %v", record.ID, err)
		return SignalLockLost
	}
	r.recorder.RecordCheckpointSave(ctx, record.JobType)

	if !r.locks.RenewHeartbeat(ctx, record.ID) {
		logger.Warnf("Executor: heartbeat for job '%s' was not renewed, stopping.", record.ID)
		return SignalLockLost
	}

	current, err := r.repo.FindJobRecord(ctx, record.ID)
	if err != nil {
		logger.Errorf("Executor: status poll for job '%s' failed, stopping: %v", record.ID, err)
		return SignalLockLost
	}
	if current != nil && current.Status == model.JobStatusCancelling {
		record.Status = model.JobStatusCancelling
		return SignalCancelled
	}
	return SignalContinue
}

// cancel persists the current progress and moves the record to Cancelled.
func (r *runner) cancel(ctx context.Context, record *model.JobRecord, cp *model.Checkpoint) error {
	if err := r.repo.SaveCheckpoint(ctx, cp); err != nil {
		logger.Warnf("Executor: final checkpoint save for cancelled job '%s' failed: %v", record.ID, err)
	}
	if err := r.jobs.Transition(ctx, record, model.JobStatusCancelled); err != nil {
		return err
	}
	logger.Infof("Executor: job '%s' cancelled cooperatively.", record.ID)
	return nil
}

// fail moves the record to Failed carrying the aborting error.
func (r *runner) fail(ctx context.Context, record *model.JobRecord, cause error) error {
	record.Error = model.JobError{
		Code:    string(exception.CategoryOf(cause)),
		Message: exception.ExtractErrorMessage(cause),
	}
	if err := r.jobs.Transition(ctx, record, model.JobStatusFailed); err != nil {
		logger.Errorf("Executor: failed to persist Failed status for job '%s': %v", record.ID, err)
	}
	return cause
}

// finish completes the checkpoint and sets the terminal status: Succeeded
// when no item failed, PartiallySucceeded otherwise.
func (r *runner) finish(ctx context.Context, record *model.JobRecord, cp *model.Checkpoint, itemErrs *multierror.Error) error {
	for !cp.IsCompleted() {
		cp.CompleteSection()
	}
	if err := r.repo.SaveCheckpoint(ctx, cp); err != nil {
		return err
	}

	status := model.JobStatusSucceeded
	if record.ErrorCount > 0 {
		status = model.JobStatusPartiallySucceeded
		record.Error = model.JobError{
			Code:    string(exception.CategoryItem),
			Message: itemErrs.Error(),
			Details: map[string]interface{}{"errorCount": record.ErrorCount},
		}
	}
	return r.jobs.Transition(ctx, record, status)
}

// handleSignal turns a non-continue hook signal into the run's outcome.
func (r *runner) handleSignal(ctx context.Context, record *model.JobRecord, cp *model.Checkpoint, sig Signal) error {
	switch sig {
	case SignalCancelled:
		return r.cancel(ctx, record, cp)
	case SignalLockLost:
		return exception.NewInfrastructureError("Executor",
			fmt.Sprintf("job '%s' lost lock ownership mid-run", record.ID), ErrOwnershipLost)
	default:
		return nil
	}
}

// checkpointInterval returns the configured interval floored at one item, so
// a zero or negative value never reaches the modulo in the item loop.
func (r *runner) checkpointInterval() int {
	if r.cfg.CheckpointInterval < 1 {
		return 1
	}
	return r.cfg.CheckpointInterval
}

// continueOnFailure resolves the per-job failure-tolerance policy, falling
// back to the configured default.
func (r *runner) continueOnFailure(record *model.JobRecord) bool {
	if v, ok := record.RequestData.GetBool(KeyContinueOnFailure); ok {
		return v
	}
	return r.cfg.ContinueOnFailure
}
