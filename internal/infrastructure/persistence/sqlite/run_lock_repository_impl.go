package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/YoshitsuguKoike/asw/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

// RunLockRepositoryImpl implements repository.RunLockRepository with SQLite.
// The lock_id primary key makes the INSERT in Acquire the arbiter between
// racing processes.
type RunLockRepositoryImpl struct {
	db    *sql.DB
	owner lock.Owner
	alive func(pid int) bool
	now   func() time.Time
}

// NewRunLockRepository creates a run lock repository owned by this process
func NewRunLockRepository(db *sql.DB) repository.RunLockRepository {
	return newRunLockRepository(db, processAlive)
}

func newRunLockRepository(db *sql.DB, alive func(pid int) bool) *RunLockRepositoryImpl {
	owner, err := lock.CurrentOwner()
	if err != nil {
		owner = lock.Owner{PID: os.Getpid(), Host: "unknown"}
	}
	return &RunLockRepositoryImpl{db: db, owner: owner, alive: alive, now: time.Now}
}

// Acquire implements repository.RunLockRepository
func (r *RunLockRepositoryImpl) Acquire(ctx context.Context, id lock.LockID, purpose string, ttl time.Duration) (*lock.RunLock, error) {
	db := executorFor(ctx, r.db)
	now := r.now().UTC()

	existing, err := r.Find(ctx, id)
	switch {
	case err == nil:
		if !existing.Reclaimable(now, r.probeFor(existing.Owner())) {
			return nil, nil
		}
		// Only the row judged stale is removed; if someone else reclaimed it
		// first the INSERT below loses the race
		if err := r.deleteExact(ctx, db, existing); err != nil {
			return nil, err
		}
	case !errors.Is(err, lock.ErrLockNotFound):
		return nil, err
	}

	held := lock.NewRunLock(id, r.owner, purpose, ttl, now)
	_, err = db.ExecContext(ctx, `
		INSERT INTO run_locks (lock_id, pid, hostname, acquired_at, expires_at, refreshed_at, purpose)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		held.ID().String(),
		held.Owner().PID,
		held.Owner().Host,
		formatTime(held.AcquiredAt()),
		formatTime(held.ExpiresAt()),
		formatTime(held.RefreshedAt()),
		held.Purpose(),
	)
	if err != nil {
		if isConstraintError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("insert run lock: %w", err)
	}
	return held, nil
}

// Refresh implements repository.RunLockRepository. Only this process's own
// row is touched, so a lock reclaimed by someone else reports not found.
func (r *RunLockRepositoryImpl) Refresh(ctx context.Context, id lock.LockID, ttl time.Duration) error {
	now := r.now().UTC()
	result, err := executorFor(ctx, r.db).ExecContext(ctx, `
		UPDATE run_locks SET refreshed_at = ?, expires_at = ?
		WHERE lock_id = ? AND pid = ? AND hostname = ?
	`, formatTime(now), formatTime(now.Add(ttl)), id.String(), r.owner.PID, r.owner.Host)
	if err != nil {
		return fmt.Errorf("refresh lock %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

// Release implements repository.RunLockRepository
func (r *RunLockRepositoryImpl) Release(ctx context.Context, id lock.LockID) error {
	result, err := executorFor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM run_locks WHERE lock_id = ? AND pid = ? AND hostname = ?`,
		id.String(), r.owner.PID, r.owner.Host)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", id, err)
	}
	return expectOneRow(result, id)
}

// Find implements repository.RunLockRepository
func (r *RunLockRepositoryImpl) Find(ctx context.Context, id lock.LockID) (*lock.RunLock, error) {
	row := executorFor(ctx, r.db).QueryRowContext(ctx, `
		SELECT lock_id, pid, hostname, acquired_at, expires_at, refreshed_at, purpose
		FROM run_locks
		WHERE lock_id = ?
	`, id.String())

	l, err := scanRunLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", lock.ErrLockNotFound, id)
	}
	return l, err
}

// List implements repository.RunLockRepository
func (r *RunLockRepositoryImpl) List(ctx context.Context) ([]*lock.RunLock, error) {
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, `
		SELECT lock_id, pid, hostname, acquired_at, expires_at, refreshed_at, purpose
		FROM run_locks
		ORDER BY acquired_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query run locks: %w", err)
	}
	defer rows.Close()

	var locks []*lock.RunLock
	for rows.Next() {
		l, err := scanRunLock(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run locks: %w", err)
	}
	return locks, nil
}

// ReclaimStale implements repository.RunLockRepository
func (r *RunLockRepositoryImpl) ReclaimStale(ctx context.Context) (int, error) {
	locks, err := r.List(ctx)
	if err != nil {
		return 0, err
	}

	db := executorFor(ctx, r.db)
	now := r.now().UTC()
	removed := 0
	for _, l := range locks {
		if !l.Reclaimable(now, r.probeFor(l.Owner())) {
			continue
		}
		if err := r.deleteExact(ctx, db, l); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// deleteExact removes l only if the row still belongs to the same holder
func (r *RunLockRepositoryImpl) deleteExact(ctx context.Context, db dbExecutor, l *lock.RunLock) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM run_locks WHERE lock_id = ? AND pid = ? AND hostname = ? AND acquired_at = ?`,
		l.ID().String(), l.Owner().PID, l.Owner().Host, formatTime(l.AcquiredAt()))
	if err != nil {
		return fmt.Errorf("reclaim lock %s: %w", l.ID(), err)
	}
	return nil
}

// probeFor returns the liveness probe for owner. Processes on other hosts
// cannot be probed, so only the TTL applies to them.
func (r *RunLockRepositoryImpl) probeFor(owner lock.Owner) func(int) bool {
	if owner.Host != r.owner.Host {
		return nil
	}
	return r.alive
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRunLock(row rowScanner) (*lock.RunLock, error) {
	var (
		rawID                              string
		owner                              lock.Owner
		acquiredAt, expiresAt, refreshedAt string
		purpose                            string
	)
	if err := row.Scan(&rawID, &owner.PID, &owner.Host, &acquiredAt, &expiresAt, &refreshedAt, &purpose); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run lock: %w", err)
	}

	id, err := lock.NewLockID(rawID)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 3)
	for i, raw := range []string{acquiredAt, expiresAt, refreshedAt} {
		if times[i], err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, fmt.Errorf("lock %s: parse time %q: %w", rawID, raw, err)
		}
	}
	return lock.RestoreRunLock(id, owner, purpose, times[0], times[1], times[2]), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func expectOneRow(result sql.Result, id lock.LockID) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", lock.ErrLockNotFound, id)
	}
	return nil
}

// processAlive probes pid with signal 0. EPERM means the process exists but
// belongs to another user.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isConstraintError reports a PRIMARY KEY or UNIQUE violation
func isConstraintError(err error) bool {
	var serr sqlite3.Error
	return errors.As(err, &serr) && serr.Code == sqlite3.ErrConstraint
}
