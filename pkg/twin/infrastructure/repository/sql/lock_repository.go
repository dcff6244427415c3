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
)

// SQLLockRepository implements the repository.LockRepository interface on the
// metadata database. Each operation is a single conditional statement; the
// storage engine serializes concurrent racers so at most one succeeds.
type SQLLockRepository struct {
	dbResolver coreAdapter.ResourceConnectionResolver
	dbName     string
}

// NewSQLLockRepository creates a new instance of SQLLockRepository.
func NewSQLLockRepository(
	dbResolver coreAdapter.ResourceConnectionResolver,
	dbName string,
) repository.LockRepository {
	return &SQLLockRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

func (r *SQLLockRepository) getDBConnection(ctx context.Context) (database.DBConnection, error) {
	connAsResource, err := r.dbResolver.ResolveConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewInfrastructureError("SQLLockRepository", fmt.Sprintf("Failed to resolve DB connection '%s'", r.dbName), err)
	}
	conn, ok := connAsResource.(database.DBConnection)
	if !ok {
		return nil, exception.NewInfrastructureError("SQLLockRepository", fmt.Sprintf("Resolved connection '%s' is not a database.DBConnection", r.dbName), nil)
	}
	return conn, nil
}

// TryInsertOrReclaim writes a lease row for jobID owned by owner. The insert
// succeeds when no row exists; on conflict the DO UPDATE branch only fires when
// the existing lease has expired, which is the reclaim path. Zero affected
// rows means another owner holds a live lease.
func (r *SQLLockRepository) TryInsertOrReclaim(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error) {
	const op = "SQLLockRepository.TryInsertOrReclaim"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return false, err
	}

	entity := fromDomainLockInfo(&model.LockInfo{
		JobID:      jobID,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	})

	rowsAffected, err := conn.ExecuteUpsertConditional(ctx, entity, entity.TableName(),
		[]string{"job_id"},
		[]string{"owner", "acquired_at", "expires_at"},
		"twin_job_locks.expires_at <= ?", now)
	if err != nil {
		return false, exception.NewInfrastructureError(op, fmt.Sprintf("failed to acquire lock for job (ID: %s)", jobID), err)
	}
	return rowsAffected > 0, nil
}

// ExtendIfOwned advances the lease expiry, succeeding only while the row is
// still owned by owner and has not expired.
func (r *SQLLockRepository) ExtendIfOwned(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error) {
	const op = "SQLLockRepository.ExtendIfOwned"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return false, err
	}

	rowsAffected, err := conn.Exec(ctx,
		"UPDATE twin_job_locks SET expires_at = ? WHERE job_id = ? AND owner = ? AND expires_at > ?",
		expiresAt, jobID, owner, now)
	if err != nil {
		return false, exception.NewInfrastructureError(op, fmt.Sprintf("failed to extend lock for job (ID: %s)", jobID), err)
	}
	return rowsAffected > 0, nil
}

// DeleteIfOwned removes the lease row, succeeding only if owned by owner.
func (r *SQLLockRepository) DeleteIfOwned(ctx context.Context, jobID, owner string) (bool, error) {
	const op = "SQLLockRepository.DeleteIfOwned"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return false, err
	}

	rowsAffected, err := conn.Exec(ctx,
		"DELETE FROM twin_job_locks WHERE job_id = ? AND owner = ?", jobID, owner)
	if err != nil {
		return false, exception.NewInfrastructureError(op, fmt.Sprintf("failed to release lock for job (ID: %s)", jobID), err)
	}
	return rowsAffected > 0, nil
}

// Find returns the lease row for jobID, or (nil, nil) if absent.
func (r *SQLLockRepository) Find(ctx context.Context, jobID string) (*model.LockInfo, error) {
	const op = "SQLLockRepository.Find"
	var entities []JobLockEntity

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.ExecuteQuery(ctx, &entities, map[string]interface{}{"job_id": jobID}); err != nil {
		return nil, exception.NewInfrastructureError(op, fmt.Sprintf("failed to find lock for job (ID: %s)", jobID), err)
	}
	if len(entities) == 0 {
		return nil, nil
	}
	return toDomainLockInfo(&entities[0]), nil
}

// DeleteExpired removes every lease row whose expiry has passed.
func (r *SQLLockRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const op = "SQLLockRepository.DeleteExpired"

	conn, err := r.getDBConnection(ctx)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := conn.Exec(ctx,
		"DELETE FROM twin_job_locks WHERE expires_at <= ?", now)
	if err != nil {
		return 0, exception.NewInfrastructureError(op, "failed to delete expired locks", err)
	}
	return int(rowsAffected), nil
}
