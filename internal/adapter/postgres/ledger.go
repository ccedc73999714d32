package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/semmidev/keepsake/internal/domain"
)

// Ledger is the Postgres backup ledger.
type Ledger struct {
	db DB
}

func NewLedger(db DB) *Ledger {
	return &Ledger{db: db}
}

const (
	backupColumns = `id, resource_id, policy_id, tool, status, started_at, finished_at, size_bytes, location, cause`
	backupSelect  = `id::text, resource_id, policy_id, tool, status, started_at, finished_at, size_bytes, location, cause`
)

// Create inserts a pending record unless a newer record already exists for
// the resource.
func (l *Ledger) Create(ctx context.Context, b *domain.Backup) error {
	tag, err := l.db.Exec(ctx,
		`INSERT INTO backups (`+backupColumns+`)
		 SELECT $1::uuid, $2::text, $3::text, $4::text, $5::text, $6::timestamptz, $7::timestamptz, $8::bigint, $9::text, $10::text
		 WHERE NOT EXISTS (SELECT 1 FROM backups WHERE resource_id = $2::text AND started_at > $6::timestamptz)`,
		b.ID, b.ResourceID, b.PolicyID, b.Tool, string(b.Status), b.StartedAt, b.FinishedAt, b.Size, b.Location, b.Cause,
	)
	if err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("backup %s for %s: %w", b.ID, b.ResourceID, domain.ErrNonMonotonic)
	}
	return nil
}

// Finalize writes the outcome of a pending record. Finished records are
// never rewritten.
func (l *Ledger) Finalize(ctx context.Context, b *domain.Backup) error {
	tag, err := l.db.Exec(ctx,
		`UPDATE backups SET status = $2, finished_at = $3, size_bytes = $4, location = $5, cause = $6
		 WHERE id = $1 AND status = 'pending'`,
		b.ID, string(b.Status), b.FinishedAt, b.Size, b.Location, b.Cause,
	)
	if err != nil {
		return fmt.Errorf("finalize backup %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = l.db.QueryRow(ctx, `SELECT status FROM backups WHERE id = $1`, b.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("backup %s: %w", b.ID, domain.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("finalize backup %s: %w", b.ID, err)
	}
	return fmt.Errorf("backup %s is %s: %w", b.ID, status, domain.ErrBackupFinalized)
}

func (l *Ledger) Get(ctx context.Context, id string) (*domain.Backup, error) {
	b, err := scanBackup(l.db.QueryRow(ctx, `SELECT `+backupSelect+` FROM backups WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backup %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

func (l *Ledger) Latest(ctx context.Context, resourceID string) (*domain.Backup, error) {
	b, err := scanBackup(l.db.QueryRow(ctx,
		`SELECT `+backupSelect+` FROM backups WHERE resource_id = $1 ORDER BY started_at DESC LIMIT 1`, resourceID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no backups for %s: %w", resourceID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest backup for %s: %w", resourceID, err)
	}
	return b, nil
}

func (l *Ledger) History(ctx context.Context, resourceID string) ([]domain.Backup, error) {
	return l.list(ctx, "backup history",
		`SELECT `+backupSelect+` FROM backups WHERE resource_id = $1 ORDER BY started_at DESC`, resourceID)
}

func (l *Ledger) ListPending(ctx context.Context) ([]domain.Backup, error) {
	return l.list(ctx, "pending backups",
		`SELECT `+backupSelect+` FROM backups WHERE status = 'pending' ORDER BY started_at`)
}

// Delete removes a succeeded record that no rollback references.
func (l *Ledger) Delete(ctx context.Context, id string) error {
	tag, err := l.db.Exec(ctx,
		`DELETE FROM backups b
		 WHERE b.id = $1 AND b.status = 'succeeded'
		   AND NOT EXISTS (SELECT 1 FROM rollbacks r WHERE r.backup_id = b.id)`, id,
	)
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deletable backup %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (l *Ledger) list(ctx context.Context, what, query string, args ...any) ([]domain.Backup, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", what, err)
	}
	defer rows.Close()

	var backups []domain.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", what, err)
	}
	return backups, nil
}

func scanBackup(row pgx.Row) (*domain.Backup, error) {
	var (
		b      domain.Backup
		status string
	)
	if err := row.Scan(&b.ID, &b.ResourceID, &b.PolicyID, &b.Tool, &status, &b.StartedAt,
		&b.FinishedAt, &b.Size, &b.Location, &b.Cause); err != nil {
		return nil, err
	}
	b.Status = domain.BackupStatus(status)
	return &b, nil
}
