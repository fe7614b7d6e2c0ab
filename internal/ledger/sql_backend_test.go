package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockBackend(t *testing.T, driver string) (*SQLBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	backend, err := NewSQLBackend(db, driver)
	require.NoError(t, err)
	backend.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return backend, mock
}

func TestSQLBackendCommitUsesOneTransaction(t *testing.T) {
	backend, mock := newMockBackend(t, "postgres")
	d := dialects["postgres"]

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(d.upsertState)).
		WithArgs("escrow/job/1", []byte(`{"status":"Active"}`), int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(d.deleteState)).
		WithArgs("escrow/job/2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(d.insertCommit)).
		WithArgs(2, int64(1_700_000_000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := backend.Commit(context.Background(), []Write{
		{Key: "escrow/job/1", Value: []byte(`{"status":"Active"}`)},
		{Key: "escrow/job/2", Delete: true},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackendRollsBackOnWriteFailure(t *testing.T) {
	backend, mock := newMockBackend(t, "mysql")
	d := dialects["mysql"]

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(d.upsertState)).
		WillReturnError(errors.New("deadlock"))
	mock.ExpectRollback()

	err := backend.Commit(context.Background(), []Write{{Key: "k", Value: []byte("1")}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLBackendGet(t *testing.T) {
	backend, mock := newMockBackend(t, "sqlite")
	d := dialects["sqlite"]

	mock.ExpectQuery(regexp.QuoteMeta(d.selectState)).
		WithArgs("present").
		WillReturnRows(sqlmock.NewRows([]string{"state_value"}).AddRow([]byte(`42`)))
	mock.ExpectQuery(regexp.QuoteMeta(d.selectState)).
		WithArgs("absent").
		WillReturnRows(sqlmock.NewRows([]string{"state_value"}))

	value, ok, err := backend.Get(context.Background(), "present")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`42`), value)

	_, ok, err = backend.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupDialect(t *testing.T) {
	d, err := lookupDialect("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "postgres", d.name)
	_, err = lookupDialect("oracle")
	assert.Error(t, err)
}

func TestSQLiteBackendPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "ledger.db")

	backend, err := OpenSQLBackend(ctx, SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	l := New(backend, WithClock(NewManualClock(42)))
	_, err = l.Invoke(ctx, Invocation{Operation: "seed"}, func(env *Env) error {
		return env.Set(NewKey("test", "persisted"), "yes")
	})
	require.NoError(t, err)
	_, err = l.Invoke(ctx, Invocation{Operation: "fail"}, func(env *Env) error {
		_ = env.Set(NewKey("test", "persisted"), "no")
		return errors.New("abort")
	})
	require.Error(t, err)
	require.NoError(t, l.Close())

	reopened, err := OpenSQLBackend(ctx, SQLConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer reopened.Close()
	l2 := New(reopened)
	var value string
	require.NoError(t, l2.View(ctx, func(env *Env) error {
		_, err := env.Get(NewKey("test", "persisted"), &value)
		return err
	}))
	assert.Equal(t, "yes", value)
	seq, err := l2.Sequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestLoadMigrationFilesPerDialect(t *testing.T) {
	for _, name := range []string{"mysql", "postgres", "sqlite"} {
		files, err := loadMigrationFiles(name)
		require.NoError(t, err, name)
		require.Len(t, files, 2, name)
		assert.Equal(t, "0001", files[0].version)
		assert.Equal(t, "0002", files[1].version)
	}
}
