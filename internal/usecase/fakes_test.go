package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/semmidev/keepsake/internal/domain"
)

func nopLogger() Logger {
	return zap.NewNop().Sugar()
}

type memRegistry struct {
	mu        sync.Mutex
	resources map[string]domain.Resource
	order     []string
}

func newMemRegistry(rs ...domain.Resource) *memRegistry {
	m := &memRegistry{resources: make(map[string]domain.Resource)}
	for _, r := range rs {
		m.resources[r.ID] = r
		m.order = append(m.order, r.ID)
	}
	return m
}

func (m *memRegistry) Get(_ context.Context, id string) (*domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, domain.ErrNotFound)
	}
	return &r, nil
}

func (m *memRegistry) ListAll(_ context.Context) ([]domain.Resource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Resource, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.resources[id])
	}
	return out, nil
}

type memPolicies struct {
	mu       sync.Mutex
	policies map[string]domain.Policy
	lookups  int
}

func newMemPolicies(ps ...domain.Policy) *memPolicies {
	m := &memPolicies{policies: make(map[string]domain.Policy)}
	for _, p := range ps {
		m.policies[p.ResourceID] = p
	}
	return m
}

func (m *memPolicies) GetActivePolicy(_ context.Context, resourceID string) (*domain.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	p, ok := m.policies[resourceID]
	if !ok || !p.Active {
		return nil, &domain.PolicyNotFoundError{ResourceID: resourceID}
	}
	return &p, nil
}

type memLedger struct {
	mu      sync.Mutex
	backups map[string]domain.Backup
	deleted []string
}

func newMemLedger(bs ...domain.Backup) *memLedger {
	m := &memLedger{backups: make(map[string]domain.Backup)}
	for _, b := range bs {
		m.backups[b.ID] = b
	}
	return m
}

func (m *memLedger) Create(_ context.Context, b *domain.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.backups {
		if existing.ResourceID == b.ResourceID && b.StartedAt.Before(existing.StartedAt) {
			return domain.ErrNonMonotonic
		}
	}
	m.backups[b.ID] = *b
	return nil
}

func (m *memLedger) Finalize(_ context.Context, b *domain.Backup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.backups[b.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if existing.Status != domain.BackupPending {
		return domain.ErrBackupFinalized
	}
	m.backups[b.ID] = *b
	return nil
}

func (m *memLedger) Get(_ context.Context, id string) (*domain.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (m *memLedger) Latest(ctx context.Context, resourceID string) (*domain.Backup, error) {
	history, _ := m.History(ctx, resourceID)
	if len(history) == 0 {
		return nil, domain.ErrNotFound
	}
	return &history[0], nil
}

func (m *memLedger) History(_ context.Context, resourceID string) ([]domain.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Backup
	for _, b := range m.backups {
		if b.ResourceID == resourceID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (m *memLedger) ListPending(_ context.Context) ([]domain.Backup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Backup
	for _, b := range m.backups {
		if b.Status == domain.BackupPending {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memLedger) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backups[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.backups, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memLedger) countByStatus(resourceID string, status domain.BackupStatus) int {
	history, _ := m.History(context.Background(), resourceID)
	n := 0
	for _, b := range history {
		if b.Status == status {
			n++
		}
	}
	return n
}

type memRollbacks struct {
	mu        sync.Mutex
	rollbacks []domain.Rollback
}

func (m *memRollbacks) Create(_ context.Context, r *domain.Rollback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollbacks = append(m.rollbacks, *r)
	return nil
}

func (m *memRollbacks) ListByResource(_ context.Context, resourceID string) ([]domain.Rollback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Rollback
	for _, r := range m.rollbacks {
		if r.ResourceID == resourceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRollbacks) ReferencedBackupIDs(_ context.Context, resourceID string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, r := range m.rollbacks {
		if r.ResourceID == resourceID {
			out[r.BackupID] = struct{}{}
		}
	}
	return out, nil
}

func (m *memRollbacks) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rollbacks)
}

type memStorage struct {
	mu        sync.Mutex
	deleted   []string
	deleteErr error
}

func (m *memStorage) Put(_ context.Context, _ string, name string) (string, error) {
	return "mem://" + name, nil
}

func (m *memStorage) Fetch(context.Context, string, string) error { return nil }

func (m *memStorage) Delete(_ context.Context, location string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, location)
	return nil
}

func (m *memStorage) List(context.Context) ([]string, error) { return nil, nil }

// fakeExecutor records concurrency; when gate is set, Capture blocks until a
// value is received or the gate is closed.
type fakeExecutor struct {
	mu         sync.Mutex
	captures   int
	restores   int
	active     int
	maxActive  int
	captureErr error
	restoreErr error
	panicOn    bool
	gate       chan struct{}

	// restoring is signalled when Restore starts; restoreGate then holds it.
	restoring   chan struct{}
	restoreGate chan struct{}
}

func (f *fakeExecutor) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
}

func (f *fakeExecutor) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeExecutor) Capture(_ context.Context, r *domain.Resource) (domain.Artifact, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.captures++
	n := f.captures
	f.mu.Unlock()

	if f.gate != nil {
		<-f.gate
	}
	if f.panicOn {
		panic("executor exploded")
	}
	if f.captureErr != nil {
		return domain.Artifact{}, domain.NewExecutionError("capture", f.captureErr)
	}
	return domain.Artifact{Location: fmt.Sprintf("mem://%s/%d", r.ID, n), Size: 1024}, nil
}

func (f *fakeExecutor) Restore(context.Context, *domain.Resource, string) error {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	f.restores++
	f.mu.Unlock()

	if f.restoreGate != nil {
		f.restoring <- struct{}{}
		<-f.restoreGate
	}
	if f.restoreErr != nil {
		return domain.NewExecutionError("restore", f.restoreErr)
	}
	return nil
}

func (f *fakeExecutor) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

var errToolFailed = errors.New("dump utility exited with status 1")

func containerResource(id string, created time.Time) domain.Resource {
	return domain.Resource{
		ID:        id,
		Name:      id,
		Kind:      domain.KindContainer,
		CreatedAt: created,
		Container: &domain.ContainerSpec{Container: id, Volume: id + "-data"},
	}
}

func hourlyPolicy(resourceID string, copies int) domain.Policy {
	return domain.Policy{
		ID:         "policy-" + resourceID,
		ResourceID: resourceID,
		Tool:       "volume-tar",
		Frequency:  time.Hour,
		Copies:     copies,
		Active:     true,
	}
}

func succeededBackup(id, resourceID string, at time.Time) domain.Backup {
	finished := at.Add(time.Minute)
	return domain.Backup{
		ID:         id,
		ResourceID: resourceID,
		Tool:       "volume-tar",
		Status:     domain.BackupSucceeded,
		StartedAt:  at,
		FinishedAt: &finished,
		Size:       2048,
		Location:   "mem://" + id,
	}
}
