package domain

import "time"

type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupSucceeded BackupStatus = "succeeded"
	BackupFailed    BackupStatus = "failed"
)

// Backup is one attempt recorded in the ledger. It is immutable once Status
// leaves BackupPending.
type Backup struct {
	ID         string
	ResourceID string
	PolicyID   string
	Tool       string
	Status     BackupStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Size       int64
	Location   string
	Cause      string
}

// Finished reports whether the attempt reached a terminal status.
func (b *Backup) Finished() bool {
	return b.Status != BackupPending
}

// Artifact describes the captured content an Executor handed to the sink.
type Artifact struct {
	Location string
	Size     int64
}

type RollbackStatus string

const (
	RollbackSucceeded RollbackStatus = "succeeded"
	RollbackFailed    RollbackStatus = "failed"
)

// Rollback is an insert-only audit record of a restore attempt.
type Rollback struct {
	ID         string
	ResourceID string
	BackupID   string
	Reason     string
	Status     RollbackStatus
	Cause      string
	CreatedAt  time.Time
}

// ResourceStatus is the operator view of a single resource.
type ResourceStatus struct {
	ResourceID     string
	Policy         *Policy
	LastRun        *Backup
	LastSuccessful *Backup
	NextDue        *time.Time
	Locked         bool
}
