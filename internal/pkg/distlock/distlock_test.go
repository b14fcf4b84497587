package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "lead:42", time.Minute)
	b := NewRedisLock(client, "lead:42", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire")

	require.NoError(t, a.Release(ctx))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "released lock is acquirable")
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "lead:7", time.Minute)
	b := NewRedisLock(client, "lead:7", time.Minute)

	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner release is a no-op: the key stays held.
	require.NoError(t, b.Release(ctx))
	assert.True(t, mr.Exists("lock:lead:7"))

	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockExpiresAfterTTL(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "lead:9", 30*time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)

	b := NewRedisLock(client, "lead:9", 30*time.Second)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is acquirable by a new holder")
}

func TestRedisLockExtendKeepsOwnership(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	a := NewRedisLock(client, "lead:11", 30*time.Second)
	ok, err := a.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, a.Extend(ctx, 5*time.Minute))
	mr.FastForward(time.Minute)

	b := NewRedisLock(client, "lead:11", 30*time.Second)
	ok, err = b.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "extended lock outlives the original TTL")
}

func TestPGAdvisoryLockUnlocksOnPinnedConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	l := NewPGAdvisoryLock(db, "lead:42")
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet(), "unlock must run before the connection goes back")
	assert.NoError(t, l.Release(ctx), "second release is a no-op")
}

func TestPGAdvisoryLockNotAcquiredSkipsUnlock(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery("pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	l := NewPGAdvisoryLock(db, "lead:42")
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// A holder that never acquired must not unlock someone else's session.
	require.NoError(t, l.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewLockPrefersRedis(t *testing.T) {
	client, _ := testClient(t)
	l := NewLock(client, nil, "k", time.Minute)
	_, isRedis := l.(*RedisLock)
	assert.True(t, isRedis)

	l = NewLock(nil, nil, "k", time.Minute)
	_, isPG := l.(*PGAdvisoryLock)
	assert.True(t, isPG)
}
