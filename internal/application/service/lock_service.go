package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/asw/internal/app"
	"github.com/YoshitsuguKoike/asw/internal/domain/execution"
	"github.com/YoshitsuguKoike/asw/internal/domain/model/lock"
	"github.com/YoshitsuguKoike/asw/internal/domain/repository"
)

// LockService serialises access to a workflow and to the trunk branch.
// purpose names what the caller does under the lock and is shown to anyone
// who is refused.
type LockService interface {
	// WithWorkflowLock runs fn while holding workflow:<id>. A lock held by
	// another live process fails immediately with execution.ErrWorkflowLocked.
	WithWorkflowLock(ctx context.Context, workflowID, purpose string, fn func(ctx context.Context) error) error

	// WithTrunkLock runs fn while holding the trunk merge lock, waiting for
	// other holders up to the configured TrunkWait
	WithTrunkLock(ctx context.Context, purpose string, fn func(ctx context.Context) error) error

	// WithPortsLock runs fn while holding the port pool lock, waiting like
	// WithTrunkLock. Allocation and the save that records the pair must both
	// happen inside fn.
	WithPortsLock(ctx context.Context, purpose string, fn func(ctx context.Context) error) error

	ListRunLocks(ctx context.Context) ([]*lock.RunLock, error)
	ReclaimStale(ctx context.Context) (int, error)

	// Stop ends all keepalives
	Stop() error
}

// LockServiceConfig holds configuration for lock service
type LockServiceConfig struct {
	TTL               time.Duration // Lifetime of a lock that is not refreshed
	KeepaliveInterval time.Duration // How often held locks are refreshed
	TrunkWait         time.Duration // How long trunk and ports waiters wait
	PollInterval      time.Duration // Retry interval while waiting
}

// DefaultLockServiceConfig returns default configuration
func DefaultLockServiceConfig() LockServiceConfig {
	return LockServiceConfig{
		TTL:               time.Hour,
		KeepaliveInterval: 30 * time.Second,
		TrunkWait:         10 * time.Minute,
		PollInterval:      2 * time.Second,
	}
}

// LockServiceImpl implements LockService on a RunLockRepository
type LockServiceImpl struct {
	repo   repository.RunLockRepository
	config LockServiceConfig
	logger app.Logger

	mu         sync.Mutex
	keepalives map[string]keepalive
	stopOnce   sync.Once
}

type keepalive struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLockService creates a new lock service. Zero config fields take their
// defaults; a zero TrunkWait means a single attempt.
func NewLockService(repo repository.RunLockRepository, config LockServiceConfig, logger app.Logger) *LockServiceImpl {
	def := DefaultLockServiceConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = def.KeepaliveInterval
	}
	if config.KeepaliveInterval >= config.TTL {
		config.KeepaliveInterval = config.TTL / 2
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = app.NopLogger{}
	}
	return &LockServiceImpl{
		repo:       repo,
		config:     config,
		logger:     logger,
		keepalives: make(map[string]keepalive),
	}
}

// WithWorkflowLock implements LockService
func (s *LockServiceImpl) WithWorkflowLock(ctx context.Context, workflowID, purpose string, fn func(ctx context.Context) error) error {
	id, err := lock.WorkflowLockID(workflowID)
	if err != nil {
		return execution.Wrap(execution.ErrPreconditionFailed, "%v", err)
	}

	held, err := s.acquire(ctx, id, purpose)
	if err != nil {
		return err
	}
	if !held {
		return execution.Wrap(execution.ErrWorkflowLocked, "workflow %s is locked%s", workflowID, s.holder(ctx, id))
	}
	defer s.release(id)

	return fn(ctx)
}

// WithTrunkLock implements LockService
func (s *LockServiceImpl) WithTrunkLock(ctx context.Context, purpose string, fn func(ctx context.Context) error) error {
	return s.withSharedLock(ctx, lock.TrunkLockID(), purpose, fn)
}

// WithPortsLock implements LockService
func (s *LockServiceImpl) WithPortsLock(ctx context.Context, purpose string, fn func(ctx context.Context) error) error {
	return s.withSharedLock(ctx, lock.PortsLockID(), purpose, fn)
}

// withSharedLock polls for a lock every workflow competes for
func (s *LockServiceImpl) withSharedLock(ctx context.Context, id lock.LockID, purpose string, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(s.config.TrunkWait)

	for {
		held, err := s.acquire(ctx, id, purpose)
		if err != nil {
			return err
		}
		if held {
			break
		}
		if !time.Now().Before(deadline) {
			return execution.Wrap(execution.ErrWorkflowLocked, "%s still locked after %s%s", id, s.config.TrunkWait, s.holder(ctx, id))
		}
		s.logger.Debug("%s lock busy, retrying in %s", id, s.config.PollInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.PollInterval):
		}
	}
	defer s.release(id)

	return fn(ctx)
}

// ListRunLocks implements LockService
func (s *LockServiceImpl) ListRunLocks(ctx context.Context) ([]*lock.RunLock, error) {
	return s.repo.List(ctx)
}

// ReclaimStale implements LockService
func (s *LockServiceImpl) ReclaimStale(ctx context.Context) (int, error) {
	n, err := s.repo.ReclaimStale(ctx)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale locks: %w", err)
	}
	if n > 0 {
		s.logger.Info("reclaimed %d stale lock(s)", n)
	}
	return n, nil
}

// Stop implements LockService
func (s *LockServiceImpl) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.keepalives
		s.keepalives = make(map[string]keepalive)
		s.mu.Unlock()

		for _, ka := range running {
			ka.cancel()
			<-ka.done
		}
	})
	return nil
}

func (s *LockServiceImpl) acquire(ctx context.Context, id lock.LockID, purpose string) (bool, error) {
	held, err := s.repo.Acquire(ctx, id, purpose, s.config.TTL)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", id, err)
	}
	if held == nil {
		return false, nil
	}
	s.startKeepalive(id)
	s.logger.Debug("acquired lock %s for %s", id, purpose)
	return true, nil
}

// release drops a lock with a fresh context so cancellation of the phase
// never leaves the lock behind
func (s *LockServiceImpl) release(id lock.LockID) {
	s.stopKeepalive(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.repo.Release(ctx, id); err != nil {
		s.logger.Warn("failed to release lock %s: %v", id, err)
	}
}

// holder describes the current holder of id for error messages
func (s *LockServiceImpl) holder(ctx context.Context, id lock.LockID) string {
	current, err := s.repo.Find(ctx, id)
	if err != nil || current == nil {
		return ""
	}
	return " by " + current.Describe()
}

// startKeepalive refreshes id every KeepaliveInterval until released
func (s *LockServiceImpl) startKeepalive(id lock.LockID) {
	s.stopKeepalive(id)

	ctx, cancel := context.WithCancel(context.Background())
	ka := keepalive{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.keepalives[id.String()] = ka
	s.mu.Unlock()

	go func() {
		defer close(ka.done)
		ticker := time.NewTicker(s.config.KeepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.repo.Refresh(ctx, id, s.config.TTL); err != nil {
					// Released or reclaimed elsewhere
					s.logger.Warn("refreshing lock %s failed: %v", id, err)
					return
				}
			}
		}
	}()
}

func (s *LockServiceImpl) stopKeepalive(id lock.LockID) {
	s.mu.Lock()
	ka, ok := s.keepalives[id.String()]
	delete(s.keepalives, id.String())
	s.mu.Unlock()

	if ok {
		ka.cancel()
		<-ka.done
	}
}
