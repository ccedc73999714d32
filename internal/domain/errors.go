package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrBackupNotRestorable = errors.New("backup is not restorable")
	ErrBackupFinalized     = errors.New("backup already finalized")
	ErrNoExecutor          = errors.New("no executor registered")
	ErrNonMonotonic        = errors.New("backup timestamp precedes latest record")
)

// ExecutionError is returned by executors for any capture or restore failure.
type ExecutionError struct {
	Op    string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

func NewExecutionError(op string, cause error) *ExecutionError {
	return &ExecutionError{Op: op, Cause: cause}
}

type ResourceBusyError struct {
	ResourceID string
}

func (e *ResourceBusyError) Error() string {
	return fmt.Sprintf("resource %s is busy", e.ResourceID)
}

type PolicyNotFoundError struct {
	ResourceID string
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no active policy for resource %s", e.ResourceID)
}

func (e *PolicyNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// RetentionDeleteError reports an artifact that could not be removed from the
// sink. The ledger entry is removed regardless.
type RetentionDeleteError struct {
	BackupID string
	Location string
	Cause    error
}

func (e *RetentionDeleteError) Error() string {
	return fmt.Sprintf("delete artifact %s of backup %s: %v", e.Location, e.BackupID, e.Cause)
}

func (e *RetentionDeleteError) Unwrap() error { return e.Cause }
