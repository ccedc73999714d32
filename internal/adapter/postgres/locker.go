package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockConn is the part of a pooled connection a session lock needs.
type lockConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

const acquireTimeout = 5 * time.Second

// AdvisoryLocker serializes work on a resource across processes with
// session-level advisory locks. A held lock pins one pooled connection until
// it is released.
type AdvisoryLocker struct {
	acquire func(ctx context.Context) (lockConn, error)
}

func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{acquire: func(ctx context.Context) (lockConn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}}
}

func (l *AdvisoryLocker) TryLock(ctx context.Context, resourceID string) (func(), bool, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	conn, err := l.acquire(acquireCtx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var ok bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, resourceID).Scan(&ok)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	return func() {
		// An unlock that fails means the session is gone, and the lock with it.
		_, _ = conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, resourceID)
		conn.Release()
	}, true, nil
}
