// Package inmemory provides in-memory implementations of the core repositories.
// It stores all job-related data in maps within memory, suitable for testing and
// scenarios where persistence is not required.
package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
type InMemoryJobRepository struct {
	records     map[string]*model.JobRecord
	checkpoints map[string]*model.Checkpoint
	mu          sync.RWMutex // Mutex to protect concurrent access to maps.
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		records:     make(map[string]*model.JobRecord),
		checkpoints: make(map[string]*model.Checkpoint),
	}
}

// copyRecord returns a shallow copy so callers cannot mutate stored state.
func copyRecord(r *model.JobRecord) *model.JobRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func copyCheckpoint(c *model.Checkpoint) *model.Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.SectionsDone = make(map[string]bool, len(c.SectionsDone))
	for k, v := range c.SectionsDone {
		cp.SectionsDone[k] = v
	}
	cp.SectionCounts = make(map[string]int, len(c.SectionCounts))
	for k, v := range c.SectionCounts {
		cp.SectionCounts[k] = v
	}
	return &cp
}

// CreateJobRecord persists a new job record, rejecting duplicates.
func (r *InMemoryJobRepository) CreateJobRecord(ctx context.Context, record *model.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.ID]; exists {
		return exception.NewConflictError("InMemoryJobRepository",
			fmt.Sprintf("job record (ID: %s) already exists", record.ID), repository.ErrDuplicateJob)
	}
	r.records[record.ID] = copyRecord(record)
	return nil
}

// FindJobRecord finds a job record by id, returning (nil, nil) when absent.
func (r *InMemoryJobRepository) FindJobRecord(ctx context.Context, jobID string) (*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyRecord(r.records[jobID]), nil
}

// UpdateJobRecord updates the state of an existing job record.
func (r *InMemoryJobRepository) UpdateJobRecord(ctx context.Context, record *model.JobRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[record.ID]; !exists {
		return exception.NewNotFoundError("InMemoryJobRepository",
			fmt.Sprintf("job record (ID: %s) not found for update", record.ID))
	}
	record.UpdatedAt = time.Now()
	r.records[record.ID] = copyRecord(record)
	return nil
}

// UpdateJobStatus updates only the status and UpdatedAt of a job.
func (r *InMemoryJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, exists := r.records[jobID]
	if !exists {
		return repository.ErrJobNotFound
	}
	record.Status = status
	record.UpdatedAt = time.Now()
	return nil
}

// ListJobRecords lists records of the given type; an empty jobType lists all.
func (r *InMemoryJobRepository) ListJobRecords(ctx context.Context, jobType model.JobType) ([]*model.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]*model.JobRecord, 0, len(r.records))
	for _, record := range r.records {
		if jobType != "" && record.JobType != jobType {
			continue
		}
		records = append(records, copyRecord(record))
	}
	return records, nil
}

// DeleteJobRecord deletes a record and its checkpoint.
func (r *InMemoryJobRepository) DeleteJobRecord(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[jobID]; !exists {
		return repository.ErrJobNotFound
	}
	delete(r.records, jobID)
	delete(r.checkpoints, jobID)
	return nil
}

// PurgeExpiredJobRecords deletes all terminal records whose PurgeAt has passed.
func (r *InMemoryJobRepository) PurgeExpiredJobRecords(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	purged := 0
	for id, record := range r.records {
		if record.PurgeAt != nil && !record.PurgeAt.After(now) {
			delete(r.records, id)
			delete(r.checkpoints, id)
			purged++
		}
	}
	return purged, nil
}

// SaveCheckpoint upserts the latest checkpoint for a job, rejecting regressions.
func (r *InMemoryJobRepository) SaveCheckpoint(ctx context.Context, checkpoint *model.Checkpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.checkpoints[checkpoint.JobID]; ok {
		if !checkpoint.IsAheadOf(existing) {
			return exception.NewConflictError("InMemoryJobRepository",
				fmt.Sprintf("checkpoint of job (ID: %s) would regress progress", checkpoint.JobID),
				repository.ErrCheckpointRegression)
		}
	}
	r.checkpoints[checkpoint.JobID] = copyCheckpoint(checkpoint)
	return nil
}

// LoadCheckpoint loads the latest checkpoint for a job, returning (nil, nil) when absent.
func (r *InMemoryJobRepository) LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyCheckpoint(r.checkpoints[jobID]), nil
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
