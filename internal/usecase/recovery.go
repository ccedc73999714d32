package usecase

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/semmidev/keepsake/internal/domain"
)

const interruptedCause = "interrupted"

// Recovery resolves backups left pending by a previous process. They are
// marked failed and never resumed; the next due tick starts a fresh attempt.
type Recovery struct {
	ledger domain.Ledger
	clock  clock.Clock
	logger Logger
}

func NewRecovery(ledger domain.Ledger, clk clock.Clock, logger Logger) *Recovery {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Recovery{ledger: ledger, clock: clk, logger: logger}
}

func (uc *Recovery) Execute(ctx context.Context) (int, error) {
	pending, err := uc.ledger.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending backups: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	uc.logger.Warnf("Found %d backup(s) interrupted by a previous shutdown", len(pending))

	now := uc.clock.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := range pending {
		b := pending[i]
		g.Go(func() error {
			b.Status = domain.BackupFailed
			b.Cause = interruptedCause
			b.FinishedAt = &now
			if err := uc.ledger.Finalize(ctx, &b); err != nil {
				return fmt.Errorf("finalize backup %s: %w", b.ID, err)
			}
			uc.logger.Infof("[%s] Marked backup %s as interrupted", b.ResourceID, b.ID)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pending), nil
}
