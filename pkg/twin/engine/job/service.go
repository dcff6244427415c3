// Package job implements the job record service: creation with duplicate-id
// protection, status reads, advisory cancellation, deletion and the retention
// purge sweep. Executors own every other mutation of a record.
package job

import (
	"context"
	"fmt"
	"time"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	exception "github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	logger "github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

const moduleName = "JobService"

// Service is the caller-facing surface over job records.
type Service struct {
	repo      repository.JobRepository
	recorder  metrics.MetricRecorder
	retention time.Duration
}

// NewService creates a job service with the configured retention horizon.
func NewService(repo repository.JobRepository, jobsCfg *config.JobsConfig, recorder metrics.MetricRecorder) *Service {
	return &Service{
		repo:      repo,
		recorder:  recorder,
		retention: time.Duration(jobsCfg.PurgeAfterHours) * time.Hour,
	}
}

// Retention returns the configured purge horizon for terminal jobs.
func (s *Service) Retention() time.Duration {
	return s.retention
}

// Create persists a new job record in the NotStarted state. A live record
// with the same id yields a conflict error.
func (s *Service) Create(ctx context.Context, jobID string, jobType model.JobType, requestData model.RequestData) (*model.JobRecord, error) {
	if jobID == "" {
		return nil, exception.NewValidationError(moduleName, "job id must not be empty", nil)
	}
	record := model.NewJobRecord(jobID, jobType, requestData)
	if err := s.repo.CreateJobRecord(ctx, record); err != nil {
		return nil, err
	}
	logger.Infof("%s: created job '%s' (%s).", moduleName, jobID, jobType)
	return record, nil
}

// Get returns the record for jobID, or nil when absent.
func (s *Service) Get(ctx context.Context, jobID string) (*model.JobRecord, error) {
	return s.repo.FindJobRecord(ctx, jobID)
}

// List returns records of the given type; an empty type lists all.
func (s *Service) List(ctx context.Context, jobType model.JobType) ([]*model.JobRecord, error) {
	return s.repo.ListJobRecords(ctx, jobType)
}

// Cancel requests cooperative cancellation of a running job. It returns true
// only when the record was Running and is now Cancelling; cancelling a
// terminal or nonexistent job returns false without error.
func (s *Service) Cancel(ctx context.Context, jobID string) (bool, error) {
	record, err := s.repo.FindJobRecord(ctx, jobID)
	if err != nil {
		return false, err
	}
	if record == nil || record.Status != model.JobStatusRunning {
		return false, nil
	}
	if err := s.repo.UpdateJobStatus(ctx, jobID, model.JobStatusCancelling); err != nil {
		return false, err
	}
	logger.Infof("%s: job '%s' marked Cancelling.", moduleName, jobID)
	return true, nil
}

// Delete removes a job record and its checkpoint.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	return s.repo.DeleteJobRecord(ctx, jobID)
}

// Transition moves a record to the next status, enforcing the state machine.
// Terminal statuses stamp FinishedAt and the purge horizon before persisting.
func (s *Service) Transition(ctx context.Context, record *model.JobRecord, next model.JobStatus) error {
	if !record.Status.CanTransitionTo(next) {
		return exception.NewValidationError(moduleName,
			fmt.Sprintf("illegal status transition %s -> %s for job '%s'", record.Status, next, record.ID), nil)
	}
	if next.IsTerminal() {
		record.Finish(next, s.retention)
		s.recorder.RecordJobEnd(ctx, record)
	} else {
		record.Status = next
		record.UpdatedAt = time.Now()
	}
	return s.repo.UpdateJobRecord(ctx, record)
}

// PurgeExpired deletes terminal records past their purge horizon.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	count, err := s.repo.PurgeExpiredJobRecords(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logger.Infof("%s: purged %d expired job record(s).", moduleName, count)
	}
	return count, nil
}
