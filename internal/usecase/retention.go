package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/semmidev/keepsake/internal/domain"
)

type RetentionReport struct {
	Deleted []string
	// Protected backups would have expired but are referenced by a rollback.
	Protected      []string
	ArtifactErrors []error
}

// Retention prunes succeeded backups that fall outside a policy's count or
// age window. It runs while the caller holds the resource lock.
type Retention struct {
	policies  domain.PolicyStore
	ledger    domain.Ledger
	rollbacks domain.RollbackStore
	storage   domain.Storage
	logger    Logger
	metrics   Recorder
}

func NewRetention(
	policies domain.PolicyStore,
	ledger domain.Ledger,
	rollbacks domain.RollbackStore,
	storage domain.Storage,
	logger Logger,
	metrics Recorder,
) *Retention {
	return &Retention{
		policies:  policies,
		ledger:    ledger,
		rollbacks: rollbacks,
		storage:   storage,
		logger:    logger,
		metrics:   recorderOrNoop(metrics),
	}
}

func (uc *Retention) Enforce(ctx context.Context, resourceID string, now time.Time) (*RetentionReport, error) {
	report := &RetentionReport{}

	policy, err := uc.policies.GetActivePolicy(ctx, resourceID)
	if err != nil {
		var notFound *domain.PolicyNotFoundError
		if errors.As(err, &notFound) {
			return report, nil
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	if !policy.HasRetention() {
		return report, nil
	}

	history, err := uc.ledger.History(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	referenced, err := uc.rollbacks.ReferencedBackupIDs(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("load rollback references: %w", err)
	}

	expired, protected := SelectExpired(policy, history, referenced, now)
	for _, b := range protected {
		report.Protected = append(report.Protected, b.ID)
	}

	for _, b := range expired {
		if err := uc.deleteArtifact(ctx, &b); err != nil {
			uc.logger.Warnf("[%s] %v", resourceID, err)
			report.ArtifactErrors = append(report.ArtifactErrors, err)
		}

		if err := uc.ledger.Delete(ctx, b.ID); err != nil {
			uc.logger.Errorf("[%s] Failed to remove backup %s from ledger: %v", resourceID, b.ID, err)
			continue
		}
		report.Deleted = append(report.Deleted, b.ID)
		uc.logger.Infof("[%s] Pruned backup %s from %s", resourceID, b.ID, b.StartedAt.Format(time.RFC3339))
	}

	if len(report.Deleted) > 0 || len(report.ArtifactErrors) > 0 {
		uc.logger.Infof("[%s] Retention pruned %d backup(s), kept %d protected", resourceID, len(report.Deleted), len(report.Protected))
	}
	uc.metrics.RetentionPruned(len(report.Deleted), len(report.ArtifactErrors))

	return report, nil
}

func (uc *Retention) deleteArtifact(ctx context.Context, b *domain.Backup) error {
	if b.Location == "" || uc.storage == nil {
		return nil
	}
	if err := uc.storage.Delete(ctx, b.Location); err != nil {
		return &domain.RetentionDeleteError{BackupID: b.ID, Location: b.Location, Cause: err}
	}
	return nil
}

// SelectExpired returns the succeeded backups that violate the count rule or
// the age rule, oldest first, and separately those that would have been
// expired but are referenced by a rollback. Referenced backups still occupy a
// slot in the count window.
func SelectExpired(p *domain.Policy, history []domain.Backup, referenced map[string]struct{}, now time.Time) (expired, protected []domain.Backup) {
	succeeded := make([]domain.Backup, 0, len(history))
	for _, b := range history {
		if b.Status == domain.BackupSucceeded {
			succeeded = append(succeeded, b)
		}
	}
	sort.SliceStable(succeeded, func(i, j int) bool {
		return succeeded[i].StartedAt.After(succeeded[j].StartedAt)
	})

	for rank, b := range succeeded {
		overCount := p.Copies > 0 && rank >= p.Copies
		overAge := p.RetentionPeriod > 0 && now.Sub(b.StartedAt) > p.RetentionPeriod
		if !overCount && !overAge {
			continue
		}
		if _, ok := referenced[b.ID]; ok {
			protected = append(protected, b)
			continue
		}
		expired = append(expired, b)
	}

	for i, j := 0, len(expired)-1; i < j; i, j = i+1, j-1 {
		expired[i], expired[j] = expired[j], expired[i]
	}
	return expired, protected
}
