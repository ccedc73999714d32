package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/semmidev/keepsake/internal/domain"
)

type RollbackDeps struct {
	Registry  domain.ResourceRegistry
	Ledger    domain.Ledger
	Rollbacks domain.RollbackStore
	Executors *Executors
	Locks     *LockTable
	Locker    domain.ResourceLocker
	Clock     clock.Clock
	Logger    Logger
	Notifier  domain.Notifier
	Metrics   Recorder
}

// Rollback restores a resource from one of its succeeded backups. It shares
// the scheduler's lock table and never preempts an in-flight operation.
type Rollback struct {
	registry  domain.ResourceRegistry
	ledger    domain.Ledger
	rollbacks domain.RollbackStore
	executors *Executors
	guard     guard
	clock     clock.Clock
	logger    Logger
	notifier  domain.Notifier
	metrics   Recorder
}

func NewRollback(deps RollbackDeps) *Rollback {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	return &Rollback{
		registry:  deps.Registry,
		ledger:    deps.Ledger,
		rollbacks: deps.Rollbacks,
		executors: deps.Executors,
		guard:     guard{locks: deps.Locks, locker: deps.Locker, ledger: deps.Ledger},
		clock:     clk,
		logger:    deps.Logger,
		notifier:  deps.Notifier,
		metrics:   recorderOrNoop(deps.Metrics),
	}
}

// Execute restores backupID onto resourceID. A restore that fails is still
// recorded as a failed rollback and returned together with the error.
// Precondition failures (busy, unknown or foreign backup, no executor) are
// returned without creating a record.
func (uc *Rollback) Execute(ctx context.Context, resourceID, backupID, reason string) (*domain.Rollback, error) {
	release, err := uc.guard.acquire(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	defer release()

	backup, err := uc.ledger.Get(ctx, backupID)
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", backupID, err)
	}
	if backup.ResourceID != resourceID {
		return nil, fmt.Errorf("%w: backup %s belongs to resource %s", domain.ErrBackupNotRestorable, backupID, backup.ResourceID)
	}
	if backup.Status != domain.BackupSucceeded {
		return nil, fmt.Errorf("%w: backup %s is %s", domain.ErrBackupNotRestorable, backupID, backup.Status)
	}

	resource, err := uc.registry.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	ex, err := uc.executors.Lookup(resource.Kind, backup.Tool)
	if err != nil {
		return nil, err
	}

	uc.logger.Infof("[%s] Rolling back to backup %s: %s", resourceID, backupID, reason)
	restoreErr := uc.restore(ctx, ex, resource, backup.Location)

	rb := &domain.Rollback{
		ID:         uuid.NewString(),
		ResourceID: resourceID,
		BackupID:   backupID,
		Reason:     reason,
		Status:     domain.RollbackSucceeded,
		CreatedAt:  uc.clock.Now(),
	}
	if restoreErr != nil {
		rb.Status = domain.RollbackFailed
		rb.Cause = restoreErr.Error()
	}

	if err := uc.rollbacks.Create(ctx, rb); err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	uc.metrics.RollbackFinished(rb.Status)

	if restoreErr != nil {
		uc.logger.Errorf("[%s] Rollback to %s failed: %v", resourceID, backupID, restoreErr)
		uc.notify(ctx, domain.Event{Kind: domain.EventRollbackFailed, ResourceID: resourceID, BackupID: backupID, Cause: rb.Cause, At: rb.CreatedAt})
		return rb, fmt.Errorf("restore backup %s: %w", backupID, restoreErr)
	}

	uc.logger.Infof("[%s] Rolled back to backup %s", resourceID, backupID)
	uc.notify(ctx, domain.Event{Kind: domain.EventRollbackSucceeded, ResourceID: resourceID, BackupID: backupID, At: rb.CreatedAt})
	return rb, nil
}

// restore converts executor panics and untyped failures into *ExecutionError
// so the outcome can always be recorded.
func (uc *Rollback) restore(ctx context.Context, ex domain.Executor, r *domain.Resource, location string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = domain.NewExecutionError("restore", fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := ex.Restore(ctx, r, location); err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			return err
		}
		return domain.NewExecutionError("restore", err)
	}
	return nil
}

func (uc *Rollback) notify(ctx context.Context, e domain.Event) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.Notify(ctx, e); err != nil {
		uc.logger.Warnf("[%s] Failed to send notification: %v", e.ResourceID, err)
	}
}
