package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func lockerWith(conn *mockConn, acquireErr error) *AdvisoryLocker {
	return &AdvisoryLocker{acquire: func(context.Context) (lockConn, error) {
		if acquireErr != nil {
			return nil, acquireErr
		}
		return conn, nil
	}}
}

func lockResult(ok bool) *mockRow {
	return &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*bool)) = ok
		return nil
	}}
}

func TestAdvisoryLocker_TryLock_HoldsConnectionUntilRelease(t *testing.T) {
	conn := &mockConn{}
	conn.On("QueryRow", ctx, mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, "pg_try_advisory_lock") }), []any{"shop-db"}).
		Return(lockResult(true))
	conn.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool { return strings.Contains(sql, "pg_advisory_unlock") }), []any{"shop-db"}).
		Return(tag("SELECT 1"), nil)

	release, ok, err := lockerWith(conn, nil).TryLock(ctx, "shop-db")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, conn.released)

	release()
	assert.Equal(t, 1, conn.released)
	conn.AssertExpectations(t)
}

func TestAdvisoryLocker_TryLock_HeldElsewhere(t *testing.T) {
	conn := &mockConn{}
	conn.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"shop-db"}).Return(lockResult(false))

	release, ok, err := lockerWith(conn, nil).TryLock(ctx, "shop-db")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, release)
	assert.Equal(t, 1, conn.released)
	conn.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdvisoryLocker_TryLock_QueryFails(t *testing.T) {
	conn := &mockConn{}
	conn.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{"shop-db"}).
		Return(&mockRow{scanFunc: func(...any) error { return errors.New("conn reset") }})

	_, ok, err := lockerWith(conn, nil).TryLock(ctx, "shop-db")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "try advisory lock")
	assert.Equal(t, 1, conn.released)
}

func TestAdvisoryLocker_TryLock_NoConnection(t *testing.T) {
	_, ok, err := lockerWith(nil, errors.New("pool closed")).TryLock(ctx, "shop-db")
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "acquire connection")
}
