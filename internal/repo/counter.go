package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLCounter считает записи стадии запросом count_sql.
type SQLCounter struct {
	pool *pgxpool.Pool
}

// NewSQLCounter создаёт новый SQLCounter.
func NewSQLCounter(pool *pgxpool.Pool) *SQLCounter {
	return &SQLCounter{pool: pool}
}

// Count выполняет запрос, возвращающий одно целое число.
func (c *SQLCounter) Count(ctx context.Context, query string) (int, error) {
	var n int64
	if err := c.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("count records: negative result %d", n)
	}
	return int(n), nil
}
