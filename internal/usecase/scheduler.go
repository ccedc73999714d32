package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/semmidev/keepsake/internal/domain"
)

// TickResult summarizes one evaluation pass, by resource id.
type TickResult struct {
	Dispatched []string
	Busy       []string
	NotDue     []string
	NoPolicy   []string
	Errored    []string
}

type SchedulerDeps struct {
	Registry  domain.ResourceRegistry
	Policies  domain.PolicyStore
	Ledger    domain.Ledger
	Executors *Executors
	Retention *Retention
	// Locker is optional; without it only this process is serialized.
	Locker   domain.ResourceLocker
	Clock    clock.Clock
	Logger   Logger
	Notifier domain.Notifier
	Metrics  Recorder
}

// Scheduler decides which resources are due and dispatches their backups.
// It owns the per-resource lock table; at most one backup or rollback runs
// per resource at any time.
type Scheduler struct {
	registry  domain.ResourceRegistry
	policies  domain.PolicyStore
	ledger    domain.Ledger
	executors *Executors
	retention *Retention
	clock     clock.Clock
	logger    Logger
	notifier  domain.Notifier
	metrics   Recorder

	locks    *LockTable
	guard    guard
	inflight sync.WaitGroup
}

func NewScheduler(deps SchedulerDeps) *Scheduler {
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	locks := NewLockTable()
	return &Scheduler{
		registry:  deps.Registry,
		policies:  deps.Policies,
		ledger:    deps.Ledger,
		executors: deps.Executors,
		retention: deps.Retention,
		clock:     clk,
		logger:    deps.Logger,
		notifier:  deps.Notifier,
		metrics:   recorderOrNoop(deps.Metrics),
		locks:     locks,
		guard:     guard{locks: locks, locker: deps.Locker, ledger: deps.Ledger},
	}
}

func (s *Scheduler) Locks() *LockTable {
	return s.locks
}

// Busy reports whether a backup or rollback is running on the resource in
// this process, or a backup is still pending in the ledger.
func (s *Scheduler) Busy(ctx context.Context, resourceID string) (bool, error) {
	return s.guard.held(ctx, resourceID)
}

// Tick evaluates every registered resource against its active policy and
// dispatches the ones that are due. It never waits on an executor. A failure
// evaluating one resource does not affect the others.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	var res TickResult

	resources, err := s.registry.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list resources: %w", err)
	}

	for i := range resources {
		r := &resources[i]
		outcome, err := s.evaluate(ctx, r, now)
		switch outcome {
		case outcomeDispatched:
			res.Dispatched = append(res.Dispatched, r.ID)
		case outcomeBusy:
			s.logger.Debugf("[%s] Due but busy, skipping this tick", r.ID)
			res.Busy = append(res.Busy, r.ID)
		case outcomeNotDue:
			res.NotDue = append(res.NotDue, r.ID)
		case outcomeNoPolicy:
			res.NoPolicy = append(res.NoPolicy, r.ID)
		case outcomeError:
			s.logger.Errorf("[%s] Evaluation failed: %v", r.ID, err)
			res.Errored = append(res.Errored, r.ID)
		}
	}

	s.metrics.TickCompleted(res)
	return res, nil
}

type outcome int

const (
	outcomeNotDue outcome = iota
	outcomeDispatched
	outcomeBusy
	outcomeNoPolicy
	outcomeError
)

func (s *Scheduler) evaluate(ctx context.Context, r *domain.Resource, now time.Time) (outcome, error) {
	policy, err := s.policies.GetActivePolicy(ctx, r.ID)
	if err != nil {
		var notFound *domain.PolicyNotFoundError
		if errors.As(err, &notFound) {
			return outcomeNoPolicy, nil
		}
		return outcomeError, fmt.Errorf("get policy: %w", err)
	}

	due, last, err := s.nextDue(ctx, r, policy)
	if err != nil {
		return outcomeError, err
	}
	if last != nil && now.Before(last.StartedAt) {
		// The clock moved backwards; keep ledger timestamps monotonic.
		return outcomeNotDue, nil
	}
	if now.Before(due) {
		return outcomeNotDue, nil
	}

	release, err := s.guard.acquire(ctx, r.ID)
	if err != nil {
		var busy *domain.ResourceBusyError
		if errors.As(err, &busy) {
			return outcomeBusy, nil
		}
		return outcomeError, err
	}
	if _, err := s.dispatch(ctx, r, policy, now, release); err != nil {
		return outcomeError, err
	}
	return outcomeDispatched, nil
}

// nextDue anchors on the latest attempt of any status, or on the resource's
// creation time when it has never been backed up. Missed due times collapse
// into a single run because only the latest attempt is considered.
func (s *Scheduler) nextDue(ctx context.Context, r *domain.Resource, p *domain.Policy) (time.Time, *domain.Backup, error) {
	last, err := s.ledger.Latest(ctx, r.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return time.Time{}, nil, fmt.Errorf("latest backup: %w", err)
	}

	anchor := r.CreatedAt
	if last != nil {
		anchor = last.StartedAt
	}

	due, err := p.NextDue(anchor)
	if err != nil {
		return time.Time{}, nil, err
	}
	return due, last, nil
}

// TriggerNow dispatches a backup for the resource immediately, regardless of
// its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, resourceID string) (*domain.Backup, error) {
	r, err := s.registry.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("get resource: %w", err)
	}

	policy, err := s.policies.GetActivePolicy(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	release, err := s.guard.acquire(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	return s.dispatch(ctx, r, policy, s.clock.Now(), release)
}

// dispatch records the pending attempt and hands the capture to its own
// goroutine. The caller must hold the resource lock; ownership of release
// passes to dispatch.
func (s *Scheduler) dispatch(ctx context.Context, r *domain.Resource, p *domain.Policy, now time.Time, release func()) (*domain.Backup, error) {
	b := &domain.Backup{
		ID:         uuid.NewString(),
		ResourceID: r.ID,
		PolicyID:   p.ID,
		Tool:       p.Tool,
		Status:     domain.BackupPending,
		StartedAt:  now,
	}
	if err := s.ledger.Create(ctx, b); err != nil {
		release()
		return nil, fmt.Errorf("create pending backup: %w", err)
	}

	s.logger.Infof("[%s] Dispatching backup %s (tool: %s)", r.ID, b.ID, p.Tool)

	s.inflight.Add(1)
	s.metrics.InflightChanged(1)
	go s.run(context.WithoutCancel(ctx), *r, *b, release)

	return b, nil
}

func (s *Scheduler) run(ctx context.Context, r domain.Resource, b domain.Backup, release func()) {
	start := s.clock.Now()
	finalized := false

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Errorf("[%s] Backup %s panicked: %v", r.ID, b.ID, rec)
			if !finalized {
				s.finish(ctx, &r, &b, domain.Artifact{}, fmt.Errorf("panic: %v", rec), start)
			}
		}
		release()
		s.metrics.InflightChanged(-1)
		s.inflight.Done()
	}()

	art, err := s.capture(ctx, &r, b.Tool)
	finalized = true
	s.finish(ctx, &r, &b, art, err, start)
}

func (s *Scheduler) capture(ctx context.Context, r *domain.Resource, tool string) (domain.Artifact, error) {
	ex, err := s.executors.Lookup(r.Kind, tool)
	if err != nil {
		return domain.Artifact{}, err
	}
	return ex.Capture(ctx, r)
}

func (s *Scheduler) finish(ctx context.Context, r *domain.Resource, b *domain.Backup, art domain.Artifact, captureErr error, start time.Time) {
	finished := s.clock.Now()
	b.FinishedAt = &finished

	if captureErr != nil {
		b.Status = domain.BackupFailed
		b.Cause = captureErr.Error()
	} else {
		b.Status = domain.BackupSucceeded
		b.Size = art.Size
		b.Location = art.Location
	}

	if err := s.ledger.Finalize(ctx, b); err != nil {
		s.logger.Errorf("[%s] Failed to finalize backup %s: %v", r.ID, b.ID, err)
		return
	}
	s.metrics.BackupFinished(r.Kind, b.Status, finished.Sub(start))

	if b.Status == domain.BackupFailed {
		s.logger.Errorf("[%s] Backup %s failed: %s", r.ID, b.ID, b.Cause)
		s.notify(ctx, domain.Event{Kind: domain.EventBackupFailed, ResourceID: r.ID, BackupID: b.ID, Cause: b.Cause, At: finished})
		return
	}

	s.logger.Infof("[%s] Backup %s completed in %s, size: %.2f MB",
		r.ID, b.ID, finished.Sub(start).Round(time.Second), float64(b.Size)/(1024*1024))
	s.notify(ctx, domain.Event{Kind: domain.EventBackupSucceeded, ResourceID: r.ID, BackupID: b.ID, Size: b.Size, At: finished})

	if s.retention == nil {
		return
	}
	if _, err := s.retention.Enforce(ctx, r.ID, finished); err != nil {
		s.logger.Errorf("[%s] Retention failed: %v", r.ID, err)
	}
}

func (s *Scheduler) notify(ctx context.Context, e domain.Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.Warnf("[%s] Failed to send notification: %v", e.ResourceID, err)
	}
}

// Wait blocks until every dispatched backup has finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}
