package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"pdr-security/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestMigrateTwice(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, ok, err := store.GetRecord(ctx, "main_config")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutRecord(ctx, "main_config", []byte(`{"a":1}`)))
	require.NoError(t, store.PutRecord(ctx, "main_config", []byte(`{"a":2}`)))

	raw, ok, err := store.GetRecord(ctx, "main_config")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"a":2}`, string(raw))
}

func TestAddExemptionTwice(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	entry := models.Exemption{ID: "u1", Kind: models.ExemptUser}

	added, err := store.AddExemption(ctx, entry)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = store.AddExemption(ctx, entry)
	require.NoError(t, err)
	assert.False(t, added)

	list, err := store.ListExemptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Exemption{entry}, list)
}

func TestRemoveExemption(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.AddExemption(ctx, models.Exemption{ID: "r1", Kind: models.ExemptRole})
	require.NoError(t, err)

	removed, err := store.RemoveExemption(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.RemoveExemption(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLatestBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snapshot, err := store.LatestBackup(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, snapshot)

	base := time.Unix(1700000000, 0)
	require.NoError(t, store.SaveBackup(ctx, models.Snapshot{
		GuildID:   "g1",
		Roles:     []models.Role{{Name: "Old", Color: 1}},
		CreatedAt: base,
	}))
	require.NoError(t, store.SaveBackup(ctx, models.Snapshot{
		GuildID:   "g1",
		Roles:     []models.Role{{Name: "Mods", Permissions: 8, Color: 0xff0000, Hoist: true}},
		CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, store.SaveBackup(ctx, models.Snapshot{
		GuildID:   "g2",
		Roles:     []models.Role{{Name: "Other"}},
		CreatedAt: base.Add(time.Hour),
	}))

	snapshot, err = store.LatestBackup(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	role, ok := snapshot.Find("Mods")
	require.True(t, ok)
	assert.Equal(t, int64(8), role.Permissions)
	assert.True(t, role.Hoist)
	_, ok = snapshot.Find("Old")
	assert.False(t, ok)
}

func TestAuditLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddAuditLog(ctx, AuditLog{GuildID: "g1", UserID: "u1", Level: "WARN", Event: "anti_spam", Details: "spam", CreatedAt: now}))
	require.NoError(t, store.AddAuditLog(ctx, AuditLog{GuildID: "g1", UserID: "u2", Level: "INFO", Event: "backup", CreatedAt: now.AddDate(0, 0, -40)}))

	logs, err := store.ListAuditLogs(ctx, "g1", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "anti_spam", logs[0].Event)
	assert.NotEmpty(t, logs[0].ID)

	removed, err := store.CleanupAuditLogs(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestRebindPostgres(t *testing.T) {
	store := &Store{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", store.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	sqlite := &Store{dialect: dialectSQLite}
	assert.Equal(t, "x = ?", sqlite.rebind("x = ?"))
}

func TestResolveDSN(t *testing.T) {
	driver, source, kind := resolve("postgres://user@host/db")
	assert.Equal(t, "pgx", driver)
	assert.Equal(t, "postgres://user@host/db", source)
	assert.Equal(t, dialectPostgres, kind)

	driver, source, kind = resolve("sqlite://data/pdr.db")
	assert.Equal(t, "sqlite", driver)
	assert.Equal(t, "data/pdr.db", source)
	assert.Equal(t, dialectSQLite, kind)
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":               {nil, false},
		"bad conn":          {fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		"serialization":     {&pgconn.PgError{Code: "40001"}, true},
		"connection failed": {&pgconn.PgError{Code: "08006"}, true},
		"unique violation":  {&pgconn.PgError{Code: "23505"}, false},
		"syntax":            {&pgconn.PgError{Code: "42601"}, false},
		"reset":             {errors.New("read tcp: connection reset by peer"), true},
		"locked":            {errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		"other":             {errors.New("no such table: nope"), false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRetryable(tc.err))
		})
	}
}

func TestRetryWriteStopsOnPermanentError(t *testing.T) {
	store := newTestStore(t)
	attempts := 0
	failure := &pgconn.PgError{Code: "23505"}

	err := store.retryWrite(context.Background(), func() error {
		attempts++
		return failure
	})
	require.Error(t, err)
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	assert.Equal(t, 1, attempts)
}

func TestRetryWriteRetriesTransientError(t *testing.T) {
	store := newTestStore(t)
	attempts := 0

	err := store.retryWrite(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return driver.ErrBadConn
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
