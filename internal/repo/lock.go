package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrLockHeld — advisory lock держит другая сессия.
var ErrLockHeld = errors.New("advisory lock is held by another session")

// AdvisoryLock — session-level pg_advisory_lock.
//
// Блокировка живёт на отдельном соединении, которое не возвращается
// в пул до Release.
type AdvisoryLock struct {
	conn *pgxpool.Conn
	key  int64
}

// AcquireAdvisoryLock пытается взять блокировку без ожидания.
// Если блокировку держит другая сессия, возвращается ErrLockHeld.
func AcquireAdvisoryLock(ctx context.Context, pool *pgxpool.Pool, key int64) (*AdvisoryLock, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire conn: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: key %d", ErrLockHeld, key)
	}

	return &AdvisoryLock{conn: conn, key: key}, nil
}

// Release снимает блокировку и возвращает соединение в пул.
func (l *AdvisoryLock) Release(ctx context.Context) error {
	defer l.conn.Release()

	_, err := l.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", l.key)
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
