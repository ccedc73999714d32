package postgres

import (
	"context"
	"fmt"

	"github.com/semmidev/keepsake/internal/domain"
)

// RollbackStore is insert-only.
type RollbackStore struct {
	db DB
}

func NewRollbackStore(db DB) *RollbackStore {
	return &RollbackStore{db: db}
}

func (s *RollbackStore) Create(ctx context.Context, r *domain.Rollback) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO rollbacks (id, resource_id, backup_id, reason, status, cause, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ResourceID, r.BackupID, r.Reason, string(r.Status), r.Cause, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert rollback: %w", err)
	}
	return nil
}

func (s *RollbackStore) ListByResource(ctx context.Context, resourceID string) ([]domain.Rollback, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id::text, resource_id, backup_id::text, reason, status, cause, created_at
		 FROM rollbacks WHERE resource_id = $1 ORDER BY created_at DESC`, resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list rollbacks: %w", err)
	}
	defer rows.Close()

	var rollbacks []domain.Rollback
	for rows.Next() {
		var (
			r      domain.Rollback
			status string
		)
		if err := rows.Scan(&r.ID, &r.ResourceID, &r.BackupID, &r.Reason, &status, &r.Cause, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rollback: %w", err)
		}
		r.Status = domain.RollbackStatus(status)
		rollbacks = append(rollbacks, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rollbacks: %w", err)
	}
	return rollbacks, nil
}

func (s *RollbackStore) ReferencedBackupIDs(ctx context.Context, resourceID string) (map[string]struct{}, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT backup_id::text FROM rollbacks WHERE resource_id = $1`, resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list referenced backups: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan backup id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate referenced backups: %w", err)
	}
	return ids, nil
}
