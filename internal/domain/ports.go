package domain

import (
	"context"
	"time"
)

type ResourceRegistry interface {
	Get(ctx context.Context, id string) (*Resource, error)
	ListAll(ctx context.Context) ([]Resource, error)
}

type PolicyStore interface {
	// GetActivePolicy returns *PolicyNotFoundError when the resource has none.
	GetActivePolicy(ctx context.Context, resourceID string) (*Policy, error)
}

// Ledger is the durable record of backup attempts. History is ordered by
// StartedAt, newest first.
type Ledger interface {
	Create(ctx context.Context, b *Backup) error
	Finalize(ctx context.Context, b *Backup) error
	Get(ctx context.Context, id string) (*Backup, error)
	Latest(ctx context.Context, resourceID string) (*Backup, error)
	History(ctx context.Context, resourceID string) ([]Backup, error)
	ListPending(ctx context.Context) ([]Backup, error)
	Delete(ctx context.Context, id string) error
}

// ResourceLocker is a per-resource lock shared by every process using the
// same database. TryLock never waits for a holder; ok is false when another
// process has the resource.
type ResourceLocker interface {
	TryLock(ctx context.Context, resourceID string) (release func(), ok bool, err error)
}

type RollbackStore interface {
	Create(ctx context.Context, r *Rollback) error
	ListByResource(ctx context.Context, resourceID string) ([]Rollback, error)
	ReferencedBackupIDs(ctx context.Context, resourceID string) (map[string]struct{}, error)
}

// Executor captures and restores one kind of resource. Implementations must
// not leave the resource mutated when Capture fails, and must bound their own
// running time, returning *ExecutionError on timeout.
type Executor interface {
	Capture(ctx context.Context, r *Resource) (Artifact, error)
	Restore(ctx context.Context, r *Resource, location string) error
}

type EventKind string

const (
	EventBackupSucceeded   EventKind = "backup_succeeded"
	EventBackupFailed      EventKind = "backup_failed"
	EventRollbackSucceeded EventKind = "rollback_succeeded"
	EventRollbackFailed    EventKind = "rollback_failed"
)

type Event struct {
	Kind       EventKind
	ResourceID string
	BackupID   string
	Size       int64
	Cause      string
	At         time.Time
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}
