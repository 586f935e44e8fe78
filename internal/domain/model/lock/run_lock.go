package lock

import (
	"fmt"
	"os"
	"time"
)

// Owner identifies the process holding a lock
type Owner struct {
	PID  int
	Host string
}

// CurrentOwner returns the owner identity of this process
func CurrentOwner() (Owner, error) {
	host, err := os.Hostname()
	if err != nil {
		return Owner{}, fmt.Errorf("get hostname: %w", err)
	}
	return Owner{PID: os.Getpid(), Host: host}, nil
}

func (o Owner) String() string {
	return fmt.Sprintf("pid %d on %s", o.PID, o.Host)
}

// RunLock is one held lock row. Purpose records what the holder is doing
// ("build", "cleanup", "ship abc12345") so a refused caller can say why.
type RunLock struct {
	id          LockID
	owner       Owner
	purpose     string
	acquiredAt  time.Time
	expiresAt   time.Time
	refreshedAt time.Time
}

// NewRunLock creates a lock acquired at now that lives for ttl unless refreshed
func NewRunLock(id LockID, owner Owner, purpose string, ttl time.Duration, now time.Time) *RunLock {
	now = now.UTC()
	return &RunLock{
		id:          id,
		owner:       owner,
		purpose:     purpose,
		acquiredAt:  now,
		expiresAt:   now.Add(ttl),
		refreshedAt: now,
	}
}

// RestoreRunLock rebuilds a lock loaded from storage
func RestoreRunLock(id LockID, owner Owner, purpose string, acquiredAt, expiresAt, refreshedAt time.Time) *RunLock {
	return &RunLock{
		id:          id,
		owner:       owner,
		purpose:     purpose,
		acquiredAt:  acquiredAt,
		expiresAt:   expiresAt,
		refreshedAt: refreshedAt,
	}
}

// Expired reports whether the TTL elapsed at now
func (l *RunLock) Expired(now time.Time) bool {
	return now.After(l.expiresAt)
}

// Reclaimable reports whether another process may take the lock over: the
// TTL elapsed, or alive says the owner is gone. A nil alive means the owner
// cannot be probed (another host) and only the TTL counts.
func (l *RunLock) Reclaimable(now time.Time, alive func(pid int) bool) bool {
	if l.Expired(now) {
		return true
	}
	return alive != nil && !alive(l.owner.PID)
}

// Describe renders the holder for "locked" error messages
func (l *RunLock) Describe() string {
	purpose := l.purpose
	if purpose == "" {
		purpose = "unknown"
	}
	return fmt.Sprintf("%s, %s since %s", l.owner, purpose, l.acquiredAt.Local().Format("15:04:05"))
}

func (l *RunLock) ID() LockID             { return l.id }
func (l *RunLock) Owner() Owner           { return l.owner }
func (l *RunLock) Purpose() string        { return l.purpose }
func (l *RunLock) AcquiredAt() time.Time  { return l.acquiredAt }
func (l *RunLock) ExpiresAt() time.Time   { return l.expiresAt }
func (l *RunLock) RefreshedAt() time.Time { return l.refreshedAt }
