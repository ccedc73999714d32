package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/semmidev/keepsake/internal/domain"
)

// LockTable holds one weight-1 semaphore per resource id. Callers never block
// on a held lock: contention is reported and the work is re-evaluated later.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*semaphore.Weighted)}
}

func (t *LockTable) get(resourceID string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[resourceID]
	if !ok {
		lock = semaphore.NewWeighted(1)
		t.locks[resourceID] = lock
	}
	return lock
}

// TryAcquire returns a release func when the lock was free. The release func
// is safe to call more than once.
func (t *LockTable) TryAcquire(resourceID string) (func(), bool) {
	lock := t.get(resourceID)
	if !lock.TryAcquire(1) {
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() { lock.Release(1) })
	}, true
}

// Held reports whether an operation currently holds the resource's lock.
func (t *LockTable) Held(resourceID string) bool {
	lock := t.get(resourceID)
	if lock.TryAcquire(1) {
		lock.Release(1)
		return false
	}
	return true
}

// guard serializes work on a resource across goroutines and processes. The
// lock table covers this process, the locker covers other processes sharing
// the database, and a pending ledger row covers attempts started elsewhere
// before the locker was taken.
type guard struct {
	locks  *LockTable
	locker domain.ResourceLocker
	ledger domain.Ledger
}

// acquire returns *domain.ResourceBusyError when any layer reports the
// resource as taken.
func (g guard) acquire(ctx context.Context, resourceID string) (func(), error) {
	busy := &domain.ResourceBusyError{ResourceID: resourceID}

	release, ok := g.locks.TryAcquire(resourceID)
	if !ok {
		return nil, busy
	}

	if g.locker != nil {
		unlock, ok, err := g.locker.TryLock(ctx, resourceID)
		if err != nil {
			release()
			return nil, fmt.Errorf("lock resource: %w", err)
		}
		if !ok {
			release()
			return nil, busy
		}
		local := release
		release = func() {
			unlock()
			local()
		}
	}

	last, err := g.ledger.Latest(ctx, resourceID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		release()
		return nil, fmt.Errorf("latest backup: %w", err)
	}
	if last != nil && !last.Finished() {
		release()
		return nil, busy
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// held reports whether this process holds the resource or the ledger shows
// an attempt in flight.
func (g guard) held(ctx context.Context, resourceID string) (bool, error) {
	if g.locks.Held(resourceID) {
		return true, nil
	}
	last, err := g.ledger.Latest(ctx, resourceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return !last.Finished(), nil
}
