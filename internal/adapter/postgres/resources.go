package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/semmidev/keepsake/internal/domain"
)

type ResourceStore struct {
	db DB
}

func NewResourceStore(db DB) *ResourceStore {
	return &ResourceStore{db: db}
}

const resourceColumns = `id, name, kind, attributes, created_at`

func (s *ResourceStore) Get(ctx context.Context, id string) (*domain.Resource, error) {
	r, err := scanResource(s.db.QueryRow(ctx,
		`SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", id, err)
	}
	return r, nil
}

func (s *ResourceStore) ListAll(ctx context.Context) ([]domain.Resource, error) {
	rows, err := s.db.Query(ctx, `SELECT `+resourceColumns+` FROM resources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var resources []domain.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan resource: %w", err)
		}
		resources = append(resources, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resources: %w", err)
	}
	return resources, nil
}

// Upsert inserts or replaces a resource. CreatedAt is kept from the first
// insert so due computation stays anchored.
func (s *ResourceStore) Upsert(ctx context.Context, r *domain.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}

	attrs, err := encodeAttributes(r)
	if err != nil {
		return fmt.Errorf("encode resource %s: %w", r.ID, err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO resources (id, name, kind, attributes, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, kind = EXCLUDED.kind, attributes = EXCLUDED.attributes`,
		r.ID, r.Name, string(r.Kind), attrs, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert resource %s: %w", r.ID, err)
	}
	return nil
}

func scanResource(row pgx.Row) (*domain.Resource, error) {
	var (
		r     domain.Resource
		kind  string
		attrs []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &kind, &attrs, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Kind = domain.ResourceKind(kind)
	if err := decodeAttributes(&r, attrs); err != nil {
		return nil, fmt.Errorf("decode resource %s: %w", r.ID, err)
	}
	return &r, nil
}

func encodeAttributes(r *domain.Resource) ([]byte, error) {
	switch r.Kind {
	case domain.KindContainer:
		return json.Marshal(r.Container)
	case domain.KindDatabase:
		return json.Marshal(r.Database)
	case domain.KindApp:
		return json.Marshal(r.App)
	}
	return nil, fmt.Errorf("unknown kind %q", r.Kind)
}

func decodeAttributes(r *domain.Resource, attrs []byte) error {
	switch r.Kind {
	case domain.KindContainer:
		r.Container = &domain.ContainerSpec{}
		return json.Unmarshal(attrs, r.Container)
	case domain.KindDatabase:
		r.Database = &domain.DatabaseSpec{}
		return json.Unmarshal(attrs, r.Database)
	case domain.KindApp:
		r.App = &domain.AppSpec{}
		return json.Unmarshal(attrs, r.App)
	}
	return fmt.Errorf("unknown kind %q", r.Kind)
}
