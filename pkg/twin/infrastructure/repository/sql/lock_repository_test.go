package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/twinstore/pkg/twin/adapter/database"
	dbconfig "github.com/tigerroll/twinstore/pkg/twin/adapter/database/config"
	gormadapter "github.com/tigerroll/twinstore/pkg/twin/adapter/database/gorm"
	coreAdapter "github.com/tigerroll/twinstore/pkg/twin/core/adapter"
	repository "github.com/tigerroll/twinstore/pkg/twin/core/repository"
	sqlrepo "github.com/tigerroll/twinstore/pkg/twin/infrastructure/repository/sql"
)

// stubResolver hands back a fixed connection regardless of name.
type stubResolver struct {
	conn database.DBConnection
}

func (s stubResolver) ResolveConnection(ctx context.Context, name string) (coreAdapter.ResourceConnection, error) {
	return s.conn, nil
}

func newMockConnection(t *testing.T) (database.DBConnection, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	assert.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	assert.NoError(t, err)

	conn := gormadapter.NewGormDBAdapter(gormDB, dbconfig.DatabaseConfig{Type: "mock_db"}, "mock_db")
	return conn, mock
}

func TestTryInsertOrReclaim_ReportsOwnershipThroughAffectedRows(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLLockRepository(stubResolver{conn: conn}, "mock_db")
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("INSERT INTO .twin_job_locks.").
		WillReturnResult(sqlmock.NewResult(1, 1))
	acquired, err := repo.TryInsertOrReclaim(ctx, "j1", "owner-a", now, now.Add(30*time.Second))
	assert.NoError(t, err)
	assert.True(t, acquired)

	mock.ExpectExec("INSERT INTO .twin_job_locks.").
		WillReturnResult(sqlmock.NewResult(0, 0))
	acquired, err = repo.TryInsertOrReclaim(ctx, "j1", "owner-b", now, now.Add(30*time.Second))
	assert.NoError(t, err)
	assert.False(t, acquired)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExtendIfOwned_ReportsOwnershipThroughAffectedRows(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLLockRepository(stubResolver{conn: conn}, "mock_db")
	ctx := context.Background()
	now := time.Now()

	mock.ExpectExec("UPDATE twin_job_locks SET expires_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	renewed, err := repo.ExtendIfOwned(ctx, "j1", "owner-a", now, now.Add(30*time.Second))
	assert.NoError(t, err)
	assert.True(t, renewed)

	mock.ExpectExec("UPDATE twin_job_locks SET expires_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	renewed, err = repo.ExtendIfOwned(ctx, "j1", "owner-b", now, now.Add(30*time.Second))
	assert.NoError(t, err)
	assert.False(t, renewed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteIfOwned(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLLockRepository(stubResolver{conn: conn}, "mock_db")

	mock.ExpectExec("DELETE FROM twin_job_locks WHERE job_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	released, err := repo.DeleteIfOwned(context.Background(), "j1", "owner-a")
	assert.NoError(t, err)
	assert.True(t, released)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpired_ReturnsSweptCount(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLLockRepository(stubResolver{conn: conn}, "mock_db")

	mock.ExpectExec("DELETE FROM twin_job_locks WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 3))
	swept, err := repo.DeleteExpired(context.Background(), time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 3, swept)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatus_ZeroRowsIsNotFound(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLJobRepository(stubResolver{conn: conn}, "mock_db")
	ctx := context.Background()

	mock.ExpectExec("UPDATE twin_jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.UpdateJobStatus(ctx, "j1", "Running"))

	mock.ExpectExec("UPDATE twin_jobs SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateJobStatus(ctx, "missing", "Running")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeExpiredJobRecords_SweepsOrphanedCheckpoints(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLJobRepository(stubResolver{conn: conn}, "mock_db")

	mock.ExpectExec("DELETE FROM twin_jobs WHERE purge_at").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM twin_job_checkpoints WHERE job_id NOT IN").
		WillReturnResult(sqlmock.NewResult(0, 2))

	purged, err := repo.PurgeExpiredJobRecords(context.Background(), time.Now())
	assert.NoError(t, err)
	assert.Equal(t, 2, purged)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteJobRecord_DeletesCheckpointFirst(t *testing.T) {
	conn, mock := newMockConnection(t)
	repo := sqlrepo.NewSQLJobRepository(stubResolver{conn: conn}, "mock_db")

	mock.ExpectExec("DELETE FROM twin_job_checkpoints WHERE job_id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM twin_jobs WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, repo.DeleteJobRecord(context.Background(), "j1"))

	mock.ExpectExec("DELETE FROM twin_job_checkpoints WHERE job_id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM twin_jobs WHERE id").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.DeleteJobRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}
