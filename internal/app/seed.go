package app

import (
	"context"
	"fmt"
	"time"

	"github.com/semmidev/keepsake/internal/config"
	"github.com/semmidev/keepsake/internal/domain"
)

type resourceWriter interface {
	Upsert(ctx context.Context, r *domain.Resource) error
}

type policyWriter interface {
	Upsert(ctx context.Context, p *domain.Policy) error
}

// seedResources registers the configured resources and their policies.
func seedResources(ctx context.Context, cfgs []config.ResourceConfig, now time.Time, resources resourceWriter, policies policyWriter) (int, error) {
	for _, rc := range cfgs {
		r, p, err := fromConfig(rc, now)
		if err != nil {
			return 0, err
		}
		if err := resources.Upsert(ctx, r); err != nil {
			return 0, fmt.Errorf("seed resource %s: %w", r.ID, err)
		}
		if p == nil {
			continue
		}
		if err := policies.Upsert(ctx, p); err != nil {
			return 0, fmt.Errorf("seed policy for %s: %w", r.ID, err)
		}
	}
	return len(cfgs), nil
}

func fromConfig(rc config.ResourceConfig, now time.Time) (*domain.Resource, *domain.Policy, error) {
	kind, err := domain.ParseResourceKind(rc.Kind)
	if err != nil {
		return nil, nil, fmt.Errorf("resource %s: %w", rc.ID, err)
	}

	r := &domain.Resource{ID: rc.ID, Name: rc.Name, Kind: kind, CreatedAt: now}
	if r.Name == "" {
		r.Name = rc.ID
	}

	switch kind {
	case domain.KindContainer:
		r.Container = &domain.ContainerSpec{
			Container:   rc.Container,
			Volume:      rc.Volume,
			Network:     rc.Network,
			ConfigFiles: rc.ConfigFiles,
		}
	case domain.KindDatabase:
		r.Database = &domain.DatabaseSpec{
			Engine:       domain.DatabaseEngine(rc.Engine),
			Name:         rc.Database,
			Host:         rc.Host,
			Port:         rc.Port,
			Username:     rc.Username,
			Password:     rc.Password,
			Version:      rc.Version,
			ContainerID:  rc.ContainerID,
			AuthDatabase: rc.AuthDatabase,
			SSLMode:      rc.SSLMode,
		}
	case domain.KindApp:
		r.App = &domain.AppSpec{
			DataLocation:   rc.DataLocation,
			ConfigLocation: rc.ConfigLocation,
			DatabaseID:     rc.DatabaseID,
			Runtime:        rc.Runtime,
		}
	}
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}

	if rc.Policy.Tool == "" {
		return r, nil, nil
	}
	p := &domain.Policy{
		ID:              rc.ID + "-config",
		ResourceID:      rc.ID,
		Tool:            rc.Policy.Tool,
		Frequency:       rc.Policy.Frequency,
		Schedule:        rc.Policy.Schedule,
		Copies:          rc.Policy.Copies,
		RetentionPeriod: rc.Policy.RetentionPeriod,
		Active:          true,
		UpdatedAt:       now,
	}
	if err := p.Validate(); err != nil {
		return nil, nil, fmt.Errorf("resource %s: %w", rc.ID, err)
	}
	return r, p, nil
}
