package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	config "github.com/tigerroll/twinstore/pkg/twin/core/config"
	metrics "github.com/tigerroll/twinstore/pkg/twin/core/metrics"
	"github.com/tigerroll/twinstore/pkg/twin/engine/lock"
	inmemory "github.com/tigerroll/twinstore/pkg/twin/infrastructure/repository/inmemory"
)

func newTestManager(repo *inmemory.InMemoryLockRepository) *lock.Manager {
	return lock.NewManager(repo, &config.JobsConfig{LeaseSeconds: 30}, metrics.NewNoopRecorder())
}

func TestTryAcquire_SecondAttemptFails(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	mgr := newTestManager(repo)
	ctx := context.Background()

	acquired, err := mgr.TryAcquire(ctx, "job-1", 0)
	assert.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = mgr.TryAcquire(ctx, "job-1", 0)
	assert.NoError(t, err)
	assert.False(t, acquired)

	// Unrelated job ids are independent.
	acquired, err = mgr.TryAcquire(ctx, "job-2", 0)
	assert.NoError(t, err)
	assert.True(t, acquired)
}

func TestTryAcquire_OtherInstanceBlockedWhileLive(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	first := newTestManager(repo)
	second := newTestManager(repo)
	ctx := context.Background()

	acquired, err := first.TryAcquire(ctx, "job-1", 0)
	assert.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = second.TryAcquire(ctx, "job-1", 0)
	assert.NoError(t, err)
	assert.False(t, acquired)

	assert.True(t, first.IsOwnedByCurrentInstance(ctx, "job-1"))
	assert.False(t, second.IsOwnedByCurrentInstance(ctx, "job-1"))
}

func TestTryAcquire_ReclaimsExpiredLock(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	first := newTestManager(repo)
	second := newTestManager(repo)
	ctx := context.Background()

	acquired, err := first.TryAcquire(ctx, "job-1", time.Nanosecond)
	assert.NoError(t, err)
	assert.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	acquired, err = second.TryAcquire(ctx, "job-1", 0)
	assert.NoError(t, err)
	assert.True(t, acquired)

	info, err := second.GetLockInfo(ctx, "job-1")
	assert.NoError(t, err)
	assert.NotNil(t, info)
	assert.Equal(t, second.Owner(), info.Owner)
}

func TestRenewHeartbeat(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	mgr := newTestManager(repo)
	other := newTestManager(repo)
	ctx := context.Background()

	acquired, _ := mgr.TryAcquire(ctx, "job-1", 0)
	assert.True(t, acquired)

	assert.True(t, mgr.RenewHeartbeat(ctx, "job-1"))
	assert.False(t, other.RenewHeartbeat(ctx, "job-1"))

	assert.True(t, mgr.Release(ctx, "job-1"))
	assert.False(t, mgr.RenewHeartbeat(ctx, "job-1"))
}

func TestRenewHeartbeat_FalseAfterExpiry(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	mgr := newTestManager(repo)
	ctx := context.Background()

	acquired, _ := mgr.TryAcquire(ctx, "job-1", time.Nanosecond)
	assert.True(t, acquired)

	time.Sleep(5 * time.Millisecond)
	assert.False(t, mgr.RenewHeartbeat(ctx, "job-1"))
}

func TestRelease(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	mgr := newTestManager(repo)
	other := newTestManager(repo)
	ctx := context.Background()

	acquired, _ := mgr.TryAcquire(ctx, "job-1", 0)
	assert.True(t, acquired)

	assert.False(t, other.Release(ctx, "job-1"))
	assert.True(t, mgr.Release(ctx, "job-1"))
	assert.False(t, mgr.Release(ctx, "job-1"))

	info, err := mgr.GetLockInfo(ctx, "job-1")
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestCleanupExpired_IsIdempotent(t *testing.T) {
	repo := inmemory.NewInMemoryLockRepository()
	mgr := newTestManager(repo)
	ctx := context.Background()

	acquired, _ := mgr.TryAcquire(ctx, "stale-1", time.Nanosecond)
	assert.True(t, acquired)
	acquired, _ = mgr.TryAcquire(ctx, "stale-2", time.Nanosecond)
	assert.True(t, acquired)
	acquired, _ = mgr.TryAcquire(ctx, "live", 0)
	assert.True(t, acquired)

	time.Sleep(5 * time.Millisecond)

	swept, err := mgr.CleanupExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 2, swept)

	swept, err = mgr.CleanupExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, swept)

	assert.True(t, mgr.IsOwnedByCurrentInstance(ctx, "live"))
}
