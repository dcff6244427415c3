// Package repository defines the persistence contracts of the twinstore core:
// durable job records and checkpoints, and the lease rows backing the lock manager.
// All writes are strongly consistent with subsequent reads from any process;
// the stores are the single source of truth used for crash recovery.
package repository

import (
	"context"
	"errors"
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
)

// ErrDuplicateJob is returned when creating a job whose id already exists among live records.
var ErrDuplicateJob = errors.New("job already exists")

// ErrJobNotFound is returned when a job record is required but absent.
// Plain lookups return (nil, nil) instead; this sentinel is for strict paths.
var ErrJobNotFound = errors.New("job not found")

// ErrCheckpointRegression is returned when a checkpoint save would move a job's
// progress backwards (earlier section, or earlier offset within the same section).
var ErrCheckpointRegression = errors.New("checkpoint regression")

func init() {
	// Register the error types in the registry upon startup.
	exception.RegisterErrorType("ErrDuplicateJob", ErrDuplicateJob)
	exception.RegisterErrorType("ErrJobNotFound", ErrJobNotFound)
	exception.RegisterErrorType("ErrCheckpointRegression", ErrCheckpointRegression)
}

// JobRepository defines operations for persisting and retrieving job records
// and their checkpoints.
type JobRepository interface {
	// CreateJobRecord persists a new JobRecord.
	// It returns ErrDuplicateJob (wrapped in a conflict StoreError) if a live
	// record with the same id exists; the uniqueness check is a single atomic
	// insert, never a client-side check-then-act.
	CreateJobRecord(ctx context.Context, record *model.JobRecord) error

	// FindJobRecord finds a JobRecord by its id.
	// A missing record returns (nil, nil) - absence is not an error on reads.
	FindJobRecord(ctx context.Context, jobID string) (*model.JobRecord, error)

	// UpdateJobRecord updates the state of an existing JobRecord.
	UpdateJobRecord(ctx context.Context, record *model.JobRecord) error

	// UpdateJobStatus updates only the status and UpdatedAt of a job.
	// Returns ErrJobNotFound if no record exists.
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error

	// ListJobRecords lists records of the given type; an empty jobType lists all.
	ListJobRecords(ctx context.Context, jobType model.JobType) ([]*model.JobRecord, error)

	// DeleteJobRecord deletes a record and its checkpoint.
	DeleteJobRecord(ctx context.Context, jobID string) error

	// PurgeExpiredJobRecords deletes all terminal records whose PurgeAt has
	// passed, returning the number deleted. Safe to run repeatedly.
	PurgeExpiredJobRecords(ctx context.Context, now time.Time) (int, error)

	// SaveCheckpoint upserts the latest checkpoint for a job (latest-wins).
	// A save that regresses progress returns ErrCheckpointRegression.
	SaveCheckpoint(ctx context.Context, checkpoint *model.Checkpoint) error

	// LoadCheckpoint loads the latest checkpoint for a job.
	// A missing checkpoint returns (nil, nil).
	LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error)

	// Close releases resources used by the repository.
	Close() error
}

// LockRepository defines the conditional storage operations backing the lock
// manager. Every method is a single atomic read or conditional write attempt;
// callers implement retry/backoff above this layer if desired.
type LockRepository interface {
	// TryInsertOrReclaim writes a lock row for jobID owned by owner, succeeding
	// only if no row exists or the existing row has expired (reclaim). The
	// condition is evaluated inside the storage engine so concurrent racers
	// observe at most one success.
	TryInsertOrReclaim(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error)

	// ExtendIfOwned advances ExpiresAt, succeeding only if the row is still
	// owned by owner and has not expired.
	ExtendIfOwned(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error)

	// DeleteIfOwned removes the lock row, succeeding only if owned by owner.
	DeleteIfOwned(ctx context.Context, jobID, owner string) (bool, error)

	// Find returns the lock row for jobID, or (nil, nil) if absent.
	Find(ctx context.Context, jobID string) (*model.LockInfo, error)

	// DeleteExpired removes every lock row whose expiry has passed, returning
	// the number deleted. Idempotent.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
