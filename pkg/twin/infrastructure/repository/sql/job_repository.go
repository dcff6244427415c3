// Package sql provides the SQL-backed implementations of the core repositories.
// Job records, checkpoints and lease rows all live in the metadata database;
// every conditional write is a single statement so concurrent processes race
// inside the storage engine, never in application code.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/exception"
	"github.com/tigerroll/twinstore/pkg/twin/support/util/logger"
)

// SQLJobRepository implements the repository.JobRepository interface.
type SQLJobRepository struct {
	dbResolver coreAdapter.ResourceConnectionResolver
	// dbName is the name of the database connection used by this repository (e.g., "metadata").
	dbName string
}

// NewSQLJobRepository creates a new instance of SQLJobRepository.
func NewSQLJobRepository(
	dbResolver coreAdapter.ResourceConnectionResolver,
	dbName string,
) repository.JobRepository {
	return &SQLJobRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDBConnection is a helper function to get the DBConnection used by the repository.
func (r *SQLJobRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	connAsResource, err := r.dbResolver.ResolveConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewInfrastructureError("SQLJobRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewInfrastructureError("SQLJobRepository", fmt.Sprintf("Resolved connection '%s' is not a database.DBConnection", r.dbName), nil)
	}
	return conn, nil
}

// CreateJobRecord persists a new job record. Uniqueness is enforced by the
// primary key through an insert-or-ignore: zero affected rows means a live
// record with the same id already exists.
func (r *SQLJobRepository) CreateJobRecord(ctx context.Context, record *model.JobRecord) error {
	const op = "SQLJobRepository.CreateJobRecord"
	entity := fromDomainJobRecord(record)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := conn.ExecuteUpsert(ctx, entity, entity.TableName(), []string{"id"}, nil)
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to create job record (ID: %s)", record.ID), err)
	}
	if rowsAffected == 0 {
		return exception.NewConflictError(op, fmt.Sprintf("job record (ID: %s) already exists", record.ID), repository.ErrDuplicateJob)
	}
	return nil
}

// FindJobRecord finds a job record by id, returning (nil, nil) when absent.
func (r *SQLJobRepository) FindJobRecord(ctx context.Context, jobID string) (*model.JobRecord, error) {
	const op = "SQLJobRepository.FindJobRecord"
	var entities []JobRecordEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.ExecuteQuery(ctx, &entities, map[string]interface{}{"id": jobID}); err != nil {
		return nil, exception.NewInfrastructureError(op, fmt.Sprintf("failed to find job record (ID: %s)", jobID), err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return toDomainJobRecord(&entities[0]), nil
}

// UpdateJobRecord updates the state of an existing job record.
func (r *SQLJobRepository) UpdateJobRecord(ctx context.Context, record *model.JobRecord) error {
	const op = "SQLJobRepository.UpdateJobRecord"
	record.UpdatedAt = time.Now()
	entity := fromDomainJobRecord(record)

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := conn.ExecuteUpdate(ctx, entity, "UPDATE", entity.TableName(), map[string]interface{}{"id": entity.ID})
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to update job record (ID: %s)", record.ID), err)
	}
	if rowsAffected == 0 {
		return exception.NewNotFoundError(op, fmt.Sprintf("job record (ID: %s) not found for update", record.ID))
	}
	return nil
}

// UpdateJobStatus updates only the status and updated_at of a job.
func (r *SQLJobRepository) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	const op = "SQLJobRepository.UpdateJobStatus"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	rowsAffected, err := conn.Exec(ctx,
		"UPDATE twin_jobs SET status = ?, updated_at = ? WHERE id = ?",
		status.String(), time.Now(), jobID)
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to update status of job (ID: %s)", jobID), err)
	}
	if rowsAffected == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// ListJobRecords lists records of the given type; an empty jobType lists all.
func (r *SQLJobRepository) ListJobRecords(ctx context.Context, jobType model.JobType) ([]*model.JobRecord, error) {
	const op = "SQLJobRepository.ListJobRecords"
	var entities []JobRecordEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	var query map[string]interface{}
	if jobType != "" {
		query = map[string]interface{}{"job_type": jobType.String()}
	}

	if err := conn.ExecuteQueryAdvanced(ctx, &entities, query, "created_at ASC", 0); err != nil {
		return nil, exception.NewInfrastructureError(op, "failed to list job records", err)
	}

	records := make([]*model.JobRecord, 0, len(entities))
	for i := range entities {
		records = append(records, toDomainJobRecord(&entities[i]))
	}
	return records, nil
}

// DeleteJobRecord deletes a record and its checkpoint.
func (r *SQLJobRepository) DeleteJobRecord(ctx context.Context, jobID string) error {
	const op = "SQLJobRepository.DeleteJobRecord"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	if _, err := conn.Exec(ctx, "DELETE FROM twin_job_checkpoints WHERE job_id = ?", jobID); err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to delete checkpoint of job (ID: %s)", jobID), err)
	}
	rowsAffected, err := conn.Exec(ctx, "DELETE FROM twin_jobs WHERE id = ?", jobID)
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to delete job record (ID: %s)", jobID), err)
	}
	if rowsAffected == 0 {
		return repository.ErrJobNotFound
	}
	return nil
}

// PurgeExpiredJobRecords deletes all terminal records whose purge horizon has passed.
func (r *SQLJobRepository) PurgeExpiredJobRecords(ctx context.Context, now time.Time) (int, error) {
	const op = "SQLJobRepository.PurgeExpiredJobRecords"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := conn.Exec(ctx,
		"DELETE FROM twin_jobs WHERE purge_at IS NOT NULL AND purge_at <= ?", now)
	if err != nil {
		return 0, exception.NewInfrastructureError(op, "failed to purge expired job records", err)
	}

	// Checkpoints of purged jobs are orphans; sweep them in the same pass.
	if _, err := conn.Exec(ctx,
		"DELETE FROM twin_job_checkpoints WHERE job_id NOT IN (SELECT id FROM twin_jobs)"); err != nil {
		logger.Warnf("%s: failed to sweep orphaned checkpoints: %v", op, err)
	}

	return int(rowsAffected), nil
}

// SaveCheckpoint upserts the latest checkpoint for a job. The DO UPDATE branch
// only fires when the stored progress is not ahead of the incoming one, so a
// stale writer observes zero affected rows instead of rolling progress back.
func (r *SQLJobRepository) SaveCheckpoint(ctx context.Context, checkpoint *model.Checkpoint) error {
	const op = "SQLJobRepository.SaveCheckpoint"
	entity, err := fromDomainCheckpoint(checkpoint)
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to serialize checkpoint of job (ID: %s)", checkpoint.JobID), err)
	}

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return err
	}

	updateColumns := []string{
		"job_type", "current_section", "section_index", "items_in_section",
		"sections_done", "section_counts", "error_count", "last_updated",
	}
	condition := "twin_job_checkpoints.section_index < ? OR (twin_job_checkpoints.section_index = ? AND twin_job_checkpoints.items_in_section <= ?)"

	rowsAffected, err := conn.ExecuteUpsertConditional(ctx, entity, entity.TableName(),
		[]string{"job_id"}, updateColumns, condition,
		entity.SectionIndex, entity.SectionIndex, entity.ItemsInSection)
	if err != nil {
		return exception.NewInfrastructureError(op, fmt.Sprintf("failed to save checkpoint of job (ID: %s)", checkpoint.JobID), err)
	}
	if rowsAffected == 0 {
		return exception.NewConflictError(op,
			fmt.Sprintf("checkpoint of job (ID: %s) would regress progress", checkpoint.JobID),
			repository.ErrCheckpointRegression)
	}
	return nil
}

// LoadCheckpoint loads the latest checkpoint for a job, returning (nil, nil) when absent.
func (r *SQLJobRepository) LoadCheckpoint(ctx context.Context, jobID string) (*model.Checkpoint, error) {
	const op = "SQLJobRepository.LoadCheckpoint"
	var entities []CheckpointEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.ExecuteQuery(ctx, &entities, map[string]interface{}{"job_id": jobID}); err != nil {
		return nil, exception.NewInfrastructureError(op, fmt.Sprintf("failed to load checkpoint of job (ID: %s)", jobID), err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	checkpoint, err := toDomainCheckpoint(&entities[0])
	if err != nil {
		return nil, exception.NewInfrastructureError(op, fmt.Sprintf("failed to deserialize checkpoint of job (ID: %s)", jobID), err)
	}
	return checkpoint, nil
}

// Close releases resources used by the repository. Connections are owned by
// the providers, so there is nothing to release here.
func (r *SQLJobRepository) Close() error {
	return nil
}
