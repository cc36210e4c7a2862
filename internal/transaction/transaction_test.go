package transaction

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a single-connection in-memory database with a test table
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE test_records (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL
		)
	`)
	require.NoError(t, err)

	return db
}

func countRecords(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM test_records").Scan(&n))
	return n
}

func TestManager_BeginCommit(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)
	ctx := context.Background()

	tx, err := mgr.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tx.Level())
	assert.Equal(t, Default, tx.IsolationLevel())

	_, err = tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "a")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.True(t, tx.IsCommitted())
	assert.ErrorIs(t, tx.Commit(), ErrAlreadyCommitted)
	assert.ErrorIs(t, tx.Rollback(), ErrAlreadyCommitted)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestManager_WithTransaction(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)

	t.Run("commits on success", func(t *testing.T) {
		err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
			fromCtx, ok := FromContext(ctx)
			require.True(t, ok)
			assert.Same(t, tx, fromCtx)

			_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "kept")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRecords(t, db))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "lost"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, countRecords(t, db))
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
				_, _ = tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "lost")
				panic("boom")
			})
		})
		assert.Equal(t, 1, countRecords(t, db))
	})
}

func TestManager_WithTransactionJoinsAmbient(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)
	boom := errors.New("boom")

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, outer *Transaction) error {
		if _, err := outer.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "outer"); err != nil {
			return err
		}

		err := mgr.WithTransaction(ctx, func(ctx context.Context, inner *Transaction) error {
			assert.Equal(t, 1, inner.Level())
			assert.Same(t, outer.Tx(), inner.Tx())
			if _, err := inner.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "inner"); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		return mgr.WithTransaction(ctx, func(ctx context.Context, inner *Transaction) error {
			_, err := inner.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "released")
			return err
		})
	})
	require.NoError(t, err)

	var names []string
	rows, err := db.Query("SELECT name FROM test_records ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"outer", "released"}, names)
}

func TestManager_WithTransactionIgnoresFinishedAmbient(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)

	var done context.Context
	require.NoError(t, mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		done = ctx
		return nil
	}))

	err := mgr.WithTransaction(done, func(ctx context.Context, tx *Transaction) error {
		assert.Equal(t, 0, tx.Level())
		_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "fresh")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestTransaction_BeginNested(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)

	err := mgr.WithTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "outer")
		require.NoError(t, err)

		discarded, err := tx.BeginNested(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, discarded.Level())
		_, err = discarded.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "discarded")
		require.NoError(t, err)
		require.NoError(t, discarded.Rollback())
		require.NoError(t, discarded.Rollback(), "second rollback is a no-op")
		assert.ErrorIs(t, discarded.Commit(), ErrAlreadyRolledBack)

		released, err := tx.BeginNested(ctx)
		require.NoError(t, err)
		_, err = released.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "released")
		require.NoError(t, err)
		return released.Commit()
	})
	require.NoError(t, err)

	rows, err := db.Query("SELECT name FROM test_records ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"outer", "released"}, names)
}

func TestTransaction_BeginNestedWithoutTx(t *testing.T) {
	_, err := (&Transaction{}).BeginNested(context.Background())
	assert.ErrorIs(t, err, ErrNestedTransactionNotSupported)
}

func TestManager_WithTimeout(t *testing.T) {
	db := setupTestDB(t)
	mgr := NewManager(db, Default)

	err := mgr.WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context, tx *Transaction) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrTransactionTimeout)

	err = mgr.WithTimeout(context.Background(), 0, func(ctx context.Context, tx *Transaction) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO test_records (name) VALUES (?)", "unbounded")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countRecords(t, db))
}

func TestParseIsolationLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    IsolationLevel
		wantErr bool
	}{
		{"", Default, false},
		{"default", Default, false},
		{"read_committed", ReadCommitted, false},
		{"repeatable_read", RepeatableRead, false},
		{"serializable", Serializable, false},
		{"chaos", Default, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIsolationLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Nil(t, Default.ToSQLOptions())
	assert.Equal(t, sql.LevelSerializable, Serializable.ToSQLOptions().Isolation)
	assert.Equal(t, "READ COMMITTED", ReadCommitted.String())
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
