package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/semmidev/keepsake/internal/domain"
)

type PolicyStore struct {
	db DB
}

func NewPolicyStore(db DB) *PolicyStore {
	return &PolicyStore{db: db}
}

func (s *PolicyStore) GetActivePolicy(ctx context.Context, resourceID string) (*domain.Policy, error) {
	var (
		p                    domain.Policy
		frequency, retention int64
	)
	err := s.db.QueryRow(ctx,
		`SELECT id, resource_id, tool, frequency_seconds, schedule, copies, retention_seconds, active, updated_at
		 FROM policies WHERE resource_id = $1 AND active`, resourceID,
	).Scan(&p.ID, &p.ResourceID, &p.Tool, &frequency, &p.Schedule, &p.Copies, &retention, &p.Active, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.PolicyNotFoundError{ResourceID: resourceID}
	}
	if err != nil {
		return nil, fmt.Errorf("get active policy for %s: %w", resourceID, err)
	}

	p.Frequency = time.Duration(frequency) * time.Second
	p.RetentionPeriod = time.Duration(retention) * time.Second
	return &p, nil
}

// Upsert stores p and, when it is active, retires any other active policy of
// the same resource in the same transaction so the one-active index holds and
// the resource is never left without its policy.
func (s *PolicyStore) Upsert(ctx context.Context, p *domain.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if p.Active {
			_, err := tx.Exec(ctx,
				`UPDATE policies SET active = false, updated_at = $3
				 WHERE resource_id = $1 AND id <> $2 AND active`,
				p.ResourceID, p.ID, p.UpdatedAt,
			)
			if err != nil {
				return fmt.Errorf("retire policies of %s: %w", p.ResourceID, err)
			}
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO policies (id, resource_id, tool, frequency_seconds, schedule, copies, retention_seconds, active, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			   tool = EXCLUDED.tool,
			   frequency_seconds = EXCLUDED.frequency_seconds,
			   schedule = EXCLUDED.schedule,
			   copies = EXCLUDED.copies,
			   retention_seconds = EXCLUDED.retention_seconds,
			   active = EXCLUDED.active,
			   updated_at = EXCLUDED.updated_at`,
			p.ID, p.ResourceID, p.Tool, int64(p.Frequency/time.Second), p.Schedule, p.Copies,
			int64(p.RetentionPeriod/time.Second), p.Active, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert policy %s: %w", p.ID, err)
		}
		return nil
	})
}
