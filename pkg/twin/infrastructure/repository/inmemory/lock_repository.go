package inmemory

import (
	"context"
	"sync"
	"time"

	model "github.com/tigerroll/twinstore/pkg/twin/core/model"
)

// InMemoryLockRepository is an in-memory implementation of the LockRepository
// interface. The single mutex stands in for the storage engine's statement
// atomicity: each method evaluates its condition and applies its write while
// holding the lock.
type InMemoryLockRepository struct {
	locks map[string]*model.LockInfo
	mu    sync.Mutex
}

// NewInMemoryLockRepository creates and initializes a new instance of InMemoryLockRepository.
func NewInMemoryLockRepository() *InMemoryLockRepository {
	return &InMemoryLockRepository{
		locks: make(map[string]*model.LockInfo),
	}
}

// TryInsertOrReclaim writes a lease row for jobID owned by owner, succeeding
// only if no row exists or the existing row has expired.
func (r *InMemoryLockRepository) TryInsertOrReclaim(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.locks[jobID]; ok && !existing.IsExpired(now) {
		return false, nil
	}
	r.locks[jobID] = &model.LockInfo{
		JobID:      jobID,
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  expiresAt,
	}
	return true, nil
}

// ExtendIfOwned advances ExpiresAt, succeeding only if the row is still owned
// by owner and has not expired.
func (r *InMemoryLockRepository) ExtendIfOwned(ctx context.Context, jobID, owner string, now, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.locks[jobID]
	if !ok || existing.Owner != owner || existing.IsExpired(now) {
		return false, nil
	}
	existing.ExpiresAt = expiresAt
	return true, nil
}

// DeleteIfOwned removes the lease row, succeeding only if owned by owner.
func (r *InMemoryLockRepository) DeleteIfOwned(ctx context.Context, jobID, owner string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.locks[jobID]
	if !ok || existing.Owner != owner {
		return false, nil
	}
	delete(r.locks, jobID)
	return true, nil
}

// Find returns the lease row for jobID, or (nil, nil) if absent.
func (r *InMemoryLockRepository) Find(ctx context.Context, jobID string) (*model.LockInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.locks[jobID]
	if !ok {
		return nil, nil
	}
	c := *existing
	return &c, nil
}

// DeleteExpired removes every lease row whose expiry has passed.
func (r *InMemoryLockRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, lock := range r.locks {
		if lock.IsExpired(now) {
			delete(r.locks, id)
			deleted++
		}
	}
	return deleted, nil
}
