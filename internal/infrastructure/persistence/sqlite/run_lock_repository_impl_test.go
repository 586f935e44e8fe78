package sqlite

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/asw/internal/infrastructure/transaction"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertLock(t *testing.T, db *sql.DB, id string, pid int, host string, expiresAt time.Time) {
	t.Helper()
	now := formatTime(time.Now())
	_, err := db.Exec(`INSERT INTO run_locks (lock_id, pid, hostname, acquired_at, expires_at, refreshed_at, purpose)
		VALUES (?, ?, ?, ?, ?, ?, 'build')`,
		id, pid, host, now, formatTime(expiresAt), now)
	require.NoError(t, err)
}

func TestRunLockRepository_AcquireAndRelease(t *testing.T) {
	repo := NewRunLockRepository(setupTestDB(t))
	ctx := context.Background()

	id, err := lock.WorkflowLockID("abc12345")
	require.NoError(t, err)

	held, err := repo.Acquire(ctx, id, "build", 5*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, id, held.ID())
	assert.Equal(t, os.Getpid(), held.Owner().PID)
	assert.Equal(t, "build", held.Purpose())

	// Held by a live process (us)
	again, err := repo.Acquire(ctx, id, "test", 5*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, again)

	found, err := repo.Find(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "build", found.Purpose())

	require.NoError(t, repo.Release(ctx, id))

	third, err := repo.Acquire(ctx, id, "test", 5*time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestRunLockRepository_ReleaseMissing(t *testing.T) {
	repo := NewRunLockRepository(setupTestDB(t))

	err := repo.Release(context.Background(), lock.TrunkLockID())
	assert.ErrorIs(t, err, lock.ErrLockNotFound)

	_, err = repo.Find(context.Background(), lock.TrunkLockID())
	assert.ErrorIs(t, err, lock.ErrLockNotFound)
}

func TestRunLockRepository_ReleaseLeavesForeignLock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunLockRepository(db)
	insertLock(t, db, lock.TrunkResource, 424242, "some-other-host", time.Now().Add(time.Hour))

	err := repo.Release(context.Background(), lock.TrunkLockID())
	assert.ErrorIs(t, err, lock.ErrLockNotFound)

	_, err = repo.Find(context.Background(), lock.TrunkLockID())
	assert.NoError(t, err)
}

func TestRunLockRepository_ReclaimsExpiredLock(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunLockRepository(db)
	host, _ := os.Hostname()

	insertLock(t, db, lock.TrunkResource, os.Getpid(), host, time.Now().Add(-time.Minute))

	l, err := repo.Acquire(context.Background(), lock.TrunkLockID(), "ship abc12345", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestRunLockRepository_ReclaimsDeadOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := newRunLockRepository(db, func(int) bool { return false })

	insertLock(t, db, "workflow:deadbeef", 424242, repo.owner.Host, time.Now().Add(time.Hour))

	id, _ := lock.WorkflowLockID("deadbeef")
	l, err := repo.Acquire(context.Background(), id, "resume", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, os.Getpid(), l.Owner().PID)
}

func TestRunLockRepository_RemoteOwnerOnlyExpiresByTTL(t *testing.T) {
	db := setupTestDB(t)
	repo := newRunLockRepository(db, func(int) bool { return false })

	insertLock(t, db, "workflow:remote01", 424242, "some-other-host", time.Now().Add(time.Hour))

	id, _ := lock.WorkflowLockID("remote01")
	l, err := repo.Acquire(context.Background(), id, "build", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, l, "pid liveness of another host cannot be probed")
}

func TestRunLockRepository_Refresh(t *testing.T) {
	db := setupTestDB(t)
	repo := newRunLockRepository(db, processAlive)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return start }
	_, err := repo.Acquire(ctx, lock.TrunkLockID(), "ship abc12345", time.Minute)
	require.NoError(t, err)

	repo.now = func() time.Time { return start.Add(50 * time.Second) }
	require.NoError(t, repo.Refresh(ctx, lock.TrunkLockID(), time.Minute))

	found, err := repo.Find(ctx, lock.TrunkLockID())
	require.NoError(t, err)
	assert.Equal(t, start.Add(50*time.Second), found.RefreshedAt())
	assert.Equal(t, start.Add(110*time.Second), found.ExpiresAt())

	require.NoError(t, repo.Release(ctx, lock.TrunkLockID()))
	assert.ErrorIs(t, repo.Refresh(ctx, lock.TrunkLockID(), time.Minute), lock.ErrLockNotFound)
}

func TestRunLockRepository_ReclaimStale(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunLockRepository(db)
	host, _ := os.Hostname()

	insertLock(t, db, "workflow:old00001", os.Getpid(), host, time.Now().Add(-time.Hour))
	insertLock(t, db, "workflow:old00002", os.Getpid(), host, time.Now().Add(-time.Minute))
	insertLock(t, db, "workflow:live0001", os.Getpid(), host, time.Now().Add(time.Hour))

	n, err := repo.ReclaimStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	locks, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "workflow:live0001", locks[0].ID().String())
}

func TestRunLockRepository_ConcurrentAcquireSingleWinner(t *testing.T) {
	repo := NewRunLockRepository(setupTestDB(t))
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := repo.Acquire(ctx, lock.TrunkLockID(), "ship", time.Minute)
			if err == nil && l != nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestRunLockRepository_InsideTransaction(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunLockRepository(db)
	txm := transaction.NewSQLiteTransactionManager(db)
	ctx := context.Background()

	id, _ := lock.WorkflowLockID("tx000001")
	_, err := repo.Acquire(ctx, id, "cleanup", time.Minute)
	require.NoError(t, err)

	err = txm.InTransaction(ctx, func(txCtx context.Context) error {
		return repo.Release(txCtx, id)
	})
	require.NoError(t, err)

	_, err = repo.Find(ctx, id)
	assert.ErrorIs(t, err, lock.ErrLockNotFound)
}

func TestProcessAlive(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}
