package kis

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyForDiffersByMockFlag(t *testing.T) {
	live := cacheKeyFor("appkey", false)
	mock := cacheKeyFor("appkey", true)
	assert.NotEqual(t, live, mock)
	assert.Equal(t, live, cacheKeyFor("appkey", false))
}

// fakeRow adapts a plain Scan closure to the pgx.Row interface.
type fakeRow struct {
	scan func(dest ...interface{}) error
}

func (r fakeRow) Scan(dest ...interface{}) error { return r.scan(dest...) }

// fakeDB is an in-memory dbQuerier standing in for token_cache.
type fakeDB struct {
	token     string
	expiresAt time.Time
	found     bool
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return fakeRow{scan: func(dest ...interface{}) error {
		if !f.found {
			return pgx.ErrNoRows
		}
		*(dest[0].(*string)) = f.token
		*(dest[1].(*time.Time)) = f.expiresAt
		return nil
	}}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.token = args[1].(string)
	f.expiresAt = args[2].(time.Time)
	f.found = true
	return pgconn.CommandTag("INSERT 1"), nil
}

func TestSaveThenLoadCachedToken(t *testing.T) {
	db := &fakeDB{}
	expiresAt := time.Now().Add(time.Hour)

	err := saveCachedToken(context.Background(), db, "key1", "tok-abc", expiresAt)
	require.NoError(t, err)

	tok, exp, err := loadCachedToken(context.Background(), db, "key1")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", tok)
	assert.WithinDuration(t, expiresAt, exp, time.Millisecond)
}

func TestLoadCachedTokenMissReturnsError(t *testing.T) {
	db := &fakeDB{}
	_, _, err := loadCachedToken(context.Background(), db, "missing")
	assert.Error(t, err)
}
