package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Tshabani/shesha-core/internal/lock"
)

// AdvisoryLocker implements lock.Locker with PostgreSQL session advisory
// locks. The lock lives on a dedicated connection held until Release. On
// SQLite, where the single writer already serializes passes, it never
// blocks.
type AdvisoryLocker struct {
	db      *sql.DB
	dialect Dialect
}

// NewAdvisoryLocker creates an advisory locker on db
func NewAdvisoryLocker(db *sql.DB, d Dialect) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, dialect: d}
}

// Acquire blocks in pg_advisory_lock until the lock is granted or ctx is done
func (l *AdvisoryLocker) Acquire(ctx context.Context, key string) (lock.Lock, error) {
	if l.dialect != Postgres {
		return lock.Nop{}.Acquire(ctx, key)
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock(hashtext($1))", key); err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, ctx.Err())
		}
		return nil, fmt.Errorf("failed to acquire advisory lock %s: %w", key, err)
	}
	return &advisoryLock{conn: conn, key: key}, nil
}

type advisoryLock struct {
	conn *sql.Conn
	key  string
}

func (l *advisoryLock) Release(ctx context.Context) error {
	defer l.conn.Close()

	var released bool
	if err := l.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", l.key).Scan(&released); err != nil {
		return fmt.Errorf("failed to release advisory lock %s: %w", l.key, err)
	}
	if !released {
		return fmt.Errorf("%w: %s", lock.ErrNotHeld, l.key)
	}
	return nil
}
