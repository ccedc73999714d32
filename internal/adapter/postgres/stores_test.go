package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/semmidev/keepsake/internal/domain"
)

var (
	ctx = context.Background()
	t0  = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
)

// ---------- ResourceStore ----------

func TestResourceStore_Get_DecodesAttributes(t *testing.T) {
	db := &mockDB{}
	store := NewResourceStore(db)

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "shop-db"
		*(dest[1].(*string)) = "Shop"
		*(dest[2].(*string)) = "database"
		*(dest[3].(*[]byte)) = []byte(`{"engine":"postgres","name":"shop","host":"db","port":5432}`)
		*(dest[4].(*time.Time)) = t0
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"shop-db"}).Return(row)

	r, err := store.Get(ctx, "shop-db")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDatabase, r.Kind)
	require.NotNil(t, r.Database)
	assert.Equal(t, domain.EnginePostgres, r.Database.Engine)
	assert.Equal(t, 5432, r.Database.Port)
	assert.Nil(t, r.Container)
	assert.Equal(t, t0, r.CreatedAt)
	db.AssertExpectations(t)
}

func TestResourceStore_Get_NotFound(t *testing.T) {
	db := &mockDB{}
	store := NewResourceStore(db)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"nope"}).Return(noRow())

	_, err := store.Get(ctx, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestResourceStore_ListAll(t *testing.T) {
	db := &mockDB{}
	store := NewResourceStore(db)

	rows := newMockRows(
		func(dest ...any) error {
			*(dest[0].(*string)) = "web"
			*(dest[2].(*string)) = "container"
			*(dest[3].(*[]byte)) = []byte(`{"container":"web-1","volume":"web-data"}`)
			return nil
		},
		func(dest ...any) error {
			*(dest[0].(*string)) = "wiki"
			*(dest[2].(*string)) = "app"
			*(dest[3].(*[]byte)) = []byte(`{"data_location":"/srv/wiki"}`)
			return nil
		},
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any(nil)).Return(rows, nil)

	resources, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "web-data", resources[0].Container.Volume)
	assert.Equal(t, "/srv/wiki", resources[1].App.DataLocation)
}

func TestResourceStore_Upsert_RejectsInvalid(t *testing.T) {
	db := &mockDB{}
	store := NewResourceStore(db)

	err := store.Upsert(ctx, &domain.Resource{ID: "web", Kind: domain.KindContainer})
	require.Error(t, err)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestResourceStore_Upsert_EncodesAttributes(t *testing.T) {
	db := &mockDB{}
	store := NewResourceStore(db)

	r := &domain.Resource{
		ID: "web", Kind: domain.KindContainer, CreatedAt: t0,
		Container: &domain.ContainerSpec{Container: "web-1", Volume: "web-data"},
	}
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.MatchedBy(func(args []any) bool {
		return args[0] == "web" && args[2] == "container" &&
			string(args[3].([]byte)) == `{"container":"web-1","volume":"web-data"}`
	})).Return(tag("INSERT 0 1"), nil)

	require.NoError(t, store.Upsert(ctx, r))
	db.AssertExpectations(t)
}

// ---------- PolicyStore ----------

func TestPolicyStore_GetActivePolicy(t *testing.T) {
	db := &mockDB{}
	store := NewPolicyStore(db)

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "p1"
		*(dest[1].(*string)) = "shop-db"
		*(dest[2].(*string)) = "pg_dump"
		*(dest[3].(*int64)) = 3600
		*(dest[5].(*int)) = 3
		*(dest[6].(*int64)) = 7 * 24 * 3600
		*(dest[7].(*bool)) = true
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"shop-db"}).Return(row)

	p, err := store.GetActivePolicy(ctx, "shop-db")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, p.Frequency)
	assert.Equal(t, 168*time.Hour, p.RetentionPeriod)
	assert.Equal(t, 3, p.Copies)
}

func TestPolicyStore_GetActivePolicy_None(t *testing.T) {
	db := &mockDB{}
	store := NewPolicyStore(db)
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"orphan"}).Return(noRow())

	_, err := store.GetActivePolicy(ctx, "orphan")
	var notFound *domain.PolicyNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "orphan", notFound.ResourceID)
}

func TestPolicyStore_Upsert_RetiresOtherActivePolicies(t *testing.T) {
	db := &mockDB{}
	tx := &mockTx{}
	store := NewPolicyStore(db)

	p := &domain.Policy{ID: "p2", ResourceID: "shop-db", Tool: "pg_dump", Frequency: 6 * time.Hour, Active: true, UpdatedAt: t0}

	db.On("Begin", ctx).Return(tx, nil)
	retire := tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "UPDATE")
	}), []any{"shop-db", "p2", t0}).Return(tag("UPDATE 1"), nil)
	tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "INSERT")
	}), mock.MatchedBy(func(args []any) bool {
		return args[3] == int64(21600)
	})).Return(tag("INSERT 0 1"), nil).NotBefore(retire)

	require.NoError(t, store.Upsert(ctx, p))
	db.AssertExpectations(t)
	tx.AssertExpectations(t)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestPolicyStore_Upsert_FailedInsertKeepsOldPolicy(t *testing.T) {
	db := &mockDB{}
	tx := &mockTx{}
	store := NewPolicyStore(db)

	p := &domain.Policy{ID: "p2", ResourceID: "shop-db", Tool: "pg_dump", Frequency: 6 * time.Hour, Active: true, UpdatedAt: t0}

	db.On("Begin", ctx).Return(tx, nil)
	tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "UPDATE")
	}), mock.Anything).Return(tag("UPDATE 1"), nil)
	tx.On("Exec", ctx, mock.MatchedBy(func(sql string) bool {
		return strings.HasPrefix(sql, "INSERT")
	}), mock.Anything).Return(pgconn.CommandTag{}, errors.New("check constraint violated"))

	err := store.Upsert(ctx, p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert policy p2")
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestPolicyStore_Upsert_BeginFails(t *testing.T) {
	db := &mockDB{}
	store := NewPolicyStore(db)
	db.On("Begin", ctx).Return(nil, errors.New("pool closed"))

	p := &domain.Policy{ID: "p2", ResourceID: "shop-db", Tool: "pg_dump", Frequency: time.Hour, Active: true, UpdatedAt: t0}
	require.Error(t, store.Upsert(ctx, p))
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

// ---------- Ledger ----------

func TestLedger_Create_Monotonic(t *testing.T) {
	db := &mockDB{}
	ledger := NewLedger(db)
	b := &domain.Backup{ID: "b1", ResourceID: "r1", Tool: "pg_dump", Status: domain.BackupPending, StartedAt: t0}

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tag("INSERT 0 0"), nil).Once()
	err := ledger.Create(ctx, b)
	assert.True(t, errors.Is(err, domain.ErrNonMonotonic))

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tag("INSERT 0 1"), nil).Once()
	assert.NoError(t, ledger.Create(ctx, b))
}

func TestLedger_Finalize(t *testing.T) {
	finished := t0.Add(time.Minute)
	b := &domain.Backup{ID: "b1", ResourceID: "r1", Status: domain.BackupSucceeded, FinishedAt: &finished, Size: 10, Location: "r1/a"}

	t.Run("pending row is updated", func(t *testing.T) {
		db := &mockDB{}
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tag("UPDATE 1"), nil)
		assert.NoError(t, NewLedger(db).Finalize(ctx, b))
	})

	t.Run("finished row is immutable", func(t *testing.T) {
		db := &mockDB{}
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tag("UPDATE 0"), nil)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"b1"}).Return(&mockRow{scanFunc: func(dest ...any) error {
			*(dest[0].(*string)) = "failed"
			return nil
		}})
		err := NewLedger(db).Finalize(ctx, b)
		assert.True(t, errors.Is(err, domain.ErrBackupFinalized))
	})

	t.Run("missing row", func(t *testing.T) {
		db := &mockDB{}
		db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(tag("UPDATE 0"), nil)
		db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"b1"}).Return(noRow())
		err := NewLedger(db).Finalize(ctx, b)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}

func TestLedger_History(t *testing.T) {
	db := &mockDB{}
	ledger := NewLedger(db)

	finished := t0.Add(time.Minute)
	backupRow := func(id string, started time.Time, status string) func(dest ...any) error {
		return func(dest ...any) error {
			*(dest[0].(*string)) = id
			*(dest[1].(*string)) = "r1"
			*(dest[4].(*string)) = status
			*(dest[5].(*time.Time)) = started
			*(dest[6].(**time.Time)) = &finished
			*(dest[7].(*int64)) = 2048
			return nil
		}
	}
	rows := newMockRows(
		backupRow("b2", t0.Add(time.Hour), "succeeded"),
		backupRow("b1", t0, "failed"),
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"r1"}).Return(rows, nil)

	history, err := ledger.History(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b2", history[0].ID)
	assert.Equal(t, domain.BackupSucceeded, history[0].Status)
	assert.Equal(t, domain.BackupFailed, history[1].Status)
	assert.Equal(t, int64(2048), history[1].Size)
}

func TestLedger_Latest_Empty(t *testing.T) {
	db := &mockDB{}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"r1"}).Return(noRow())

	_, err := NewLedger(db).Latest(ctx, "r1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedger_Delete_ReferencedOrMissing(t *testing.T) {
	db := &mockDB{}
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"b1"}).Return(tag("DELETE 0"), nil)

	err := NewLedger(db).Delete(ctx, "b1")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestLedger_QueryError(t *testing.T) {
	db := &mockDB{}
	db.On("Query", ctx, mock.AnythingOfType("string"), []any(nil)).Return(nil, errors.New("connection refused"))

	_, err := NewLedger(db).ListPending(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list pending backups")
}

// ---------- RollbackStore ----------

func TestRollbackStore_ReferencedBackupIDs(t *testing.T) {
	db := &mockDB{}
	store := NewRollbackStore(db)

	rows := newMockRows(
		func(dest ...any) error { *(dest[0].(*string)) = "b1"; return nil },
		func(dest ...any) error { *(dest[0].(*string)) = "b4"; return nil },
	)
	db.On("Query", ctx, mock.AnythingOfType("string"), []any{"r1"}).Return(rows, nil)

	ids, err := store.ReferencedBackupIDs(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"b1": {}, "b4": {}}, ids)
}

func TestRollbackStore_Create(t *testing.T) {
	db := &mockDB{}
	store := NewRollbackStore(db)

	rb := &domain.Rollback{ID: "rb1", ResourceID: "r1", BackupID: "b1", Reason: "bad deploy", Status: domain.RollbackFailed, Cause: "tar: corrupt", CreatedAt: t0}
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{"rb1", "r1", "b1", "bad deploy", "failed", "tar: corrupt", t0}).
		Return(tag("INSERT 0 1"), nil)

	require.NoError(t, store.Create(ctx, rb))
	db.AssertExpectations(t)
}
