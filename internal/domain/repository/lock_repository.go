package repository

import (
	"context"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/lock"
)

// RunLockRepository persists cross-process run locks. Rows are keyed by
// lock ID, so at most one process holds a given workflow or the trunk.
type RunLockRepository interface {
	// Acquire takes the lock for the calling process, reclaiming a stale row
	// first. It returns nil and no error while a live holder exists.
	Acquire(ctx context.Context, id lock.LockID, purpose string, ttl time.Duration) (*lock.RunLock, error)

	// Refresh marks the lock alive and moves its expiry to now+ttl.
	// lock.ErrLockNotFound means the row was released or reclaimed.
	Refresh(ctx context.Context, id lock.LockID, ttl time.Duration) error

	Release(ctx context.Context, id lock.LockID) error
	Find(ctx context.Context, id lock.LockID) (*lock.RunLock, error)

	// List returns all held locks, newest first
	List(ctx context.Context) ([]*lock.RunLock, error)

	// ReclaimStale deletes expired locks and locks of dead local processes
	ReclaimStale(ctx context.Context) (int, error)
}
