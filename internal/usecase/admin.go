package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/semmidev/keepsake/internal/domain"
)

// Admin is the operator surface consumed by an API layer.
type Admin struct {
	scheduler *Scheduler
	rollback  *Rollback
	registry  domain.ResourceRegistry
	policies  domain.PolicyStore
	ledger    domain.Ledger
	rollbacks domain.RollbackStore
}

func NewAdmin(
	scheduler *Scheduler,
	rollback *Rollback,
	registry domain.ResourceRegistry,
	policies domain.PolicyStore,
	ledger domain.Ledger,
	rollbacks domain.RollbackStore,
) *Admin {
	return &Admin{
		scheduler: scheduler,
		rollback:  rollback,
		registry:  registry,
		policies:  policies,
		ledger:    ledger,
		rollbacks: rollbacks,
	}
}

func (a *Admin) TriggerBackupNow(ctx context.Context, resourceID string) (*domain.Backup, error) {
	return a.scheduler.TriggerNow(ctx, resourceID)
}

func (a *Admin) TriggerRollback(ctx context.Context, resourceID, backupID, reason string) (*domain.Rollback, error) {
	return a.rollback.Execute(ctx, resourceID, backupID, reason)
}

func (a *Admin) ListBackups(ctx context.Context, resourceID string) ([]domain.Backup, error) {
	if _, err := a.registry.Get(ctx, resourceID); err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return a.ledger.History(ctx, resourceID)
}

func (a *Admin) ListRollbacks(ctx context.Context, resourceID string) ([]domain.Rollback, error) {
	if _, err := a.registry.Get(ctx, resourceID); err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}
	return a.rollbacks.ListByResource(ctx, resourceID)
}

func (a *Admin) GetStatus(ctx context.Context, resourceID string) (*domain.ResourceStatus, error) {
	r, err := a.registry.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	locked, err := a.scheduler.Busy(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("lock state: %w", err)
	}
	status := &domain.ResourceStatus{
		ResourceID: resourceID,
		Locked:     locked,
	}

	history, err := a.ledger.History(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(history) > 0 {
		status.LastRun = &history[0]
	}
	for i := range history {
		if history[i].Status == domain.BackupSucceeded {
			status.LastSuccessful = &history[i]
			break
		}
	}

	policy, err := a.policies.GetActivePolicy(ctx, resourceID)
	if err != nil {
		var notFound *domain.PolicyNotFoundError
		if errors.As(err, &notFound) {
			return status, nil
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	status.Policy = policy

	anchor := r.CreatedAt
	if status.LastRun != nil {
		anchor = status.LastRun.StartedAt
	}
	due, err := policy.NextDue(anchor)
	if err != nil {
		return nil, err
	}
	status.NextDue = &due

	return status, nil
}
