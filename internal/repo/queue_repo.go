package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/queue"
)

// QueueRepo — queue.Store поверх PostgreSQL.
//
// Каждая очередь имеет строку в conveyor_queues со счётчиком WIP.
// Claim, Ack и Fail сначала блокируют эту строку (SELECT … FOR UPDATE),
// поэтому операции над одной очередью сериализуются между всеми
// процессами, а порядок блокировок одинаков и не даёт deadlock.
type QueueRepo struct {
	pool *pgxpool.Pool
}

var _ queue.Store = (*QueueRepo)(nil)

// NewQueueRepo создаёт новый QueueRepo.
func NewQueueRepo(pool *pgxpool.Pool) *QueueRepo {
	return &QueueRepo{pool: pool}
}

// Push добавляет descriptor в очередь.
func (r *QueueRepo) Push(ctx context.Context, d *domain.TaskDescriptor) error {
	query := `
		INSERT INTO conveyor_tasks (id, queue, stage, chunk_start, chunk_end, attempt, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.Queue,
		d.Stage,
		d.Chunk.Start,
		d.Chunk.End,
		d.Attempt,
		d.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// PopIfAvailable забирает самый старый descriptor очереди, если WIP < maxWIP.
func (r *QueueRepo) PopIfAvailable(ctx context.Context, q string, maxWIP int, lease time.Duration) (*domain.TaskDescriptor, error) {
	var claimed *domain.TaskDescriptor

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		wip, err := lockQueue(ctx, tx, q)
		if err != nil {
			return err
		}

		// Возвращаем в очередь claim'ы упавших воркеров
		tag, err := tx.Exec(ctx, `
			UPDATE conveyor_tasks
			SET claimed_at = NULL, lease_until = NULL
			WHERE queue = $1 AND claimed_at IS NOT NULL AND lease_until < now()
		`, q)
		if err != nil {
			return fmt.Errorf("reclaim expired: %w", err)
		}
		wip = max(wip-int(tag.RowsAffected()), 0)

		if wip < maxWIP {
			claimed, err = claimOldest(ctx, tx, q, lease)
			if err != nil {
				return err
			}
			if claimed != nil {
				wip++
			}
		}

		if _, err := tx.Exec(ctx, `UPDATE conveyor_queues SET wip = $2 WHERE name = $1`, q, wip); err != nil {
			return fmt.Errorf("update wip: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// lockQueue создаёт строку очереди при необходимости, блокирует её
// и возвращает текущий WIP.
func lockQueue(ctx context.Context, tx pgx.Tx, q string) (int, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO conveyor_queues (name) VALUES ($1) ON CONFLICT (name) DO NOTHING
	`, q); err != nil {
		return 0, fmt.Errorf("ensure queue: %w", err)
	}

	var wip int
	err := tx.QueryRow(ctx, `SELECT wip FROM conveyor_queues WHERE name = $1 FOR UPDATE`, q).Scan(&wip)
	if err != nil {
		return 0, fmt.Errorf("lock queue: %w", err)
	}
	return wip, nil
}

func claimOldest(ctx context.Context, tx pgx.Tx, q string, lease time.Duration) (*domain.TaskDescriptor, error) {
	query := `
		UPDATE conveyor_tasks
		SET claimed_at = now(), lease_until = now() + $2::bigint * interval '1 millisecond'
		WHERE id = (
			SELECT id FROM conveyor_tasks
			WHERE queue = $1 AND claimed_at IS NULL
			ORDER BY seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue, stage, chunk_start, chunk_end, attempt, enqueued_at, claimed_at, lease_until
	`
	d, err := scanDescriptor(tx.QueryRow(ctx, query, q, lease.Milliseconds()))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// AckRemove удаляет claimed descriptor и уменьшает WIP.
func (r *QueueRepo) AckRemove(ctx context.Context, q string, id uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockQueue(ctx, tx, q); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM conveyor_tasks WHERE id = $1 AND queue = $2 AND claimed_at IS NOT NULL
		`, id, q)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return releaseSlot(ctx, tx, q)
	})
}

// AppendFailure переносит claimed descriptor в failed-set стадии.
func (r *QueueRepo) AppendFailure(ctx context.Context, q string, f domain.Failure) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := lockQueue(ctx, tx, q); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			DELETE FROM conveyor_tasks WHERE id = $1 AND queue = $2 AND claimed_at IS NOT NULL
		`, f.Descriptor.ID, q)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		d := f.Descriptor
		_, err = tx.Exec(ctx, `
			INSERT INTO conveyor_failures (id, stage, queue, chunk_start, chunk_end, attempt, enqueued_at, error, failed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, d.ID, d.Stage, q, d.Chunk.Start, d.Chunk.End, d.Attempt, d.EnqueuedAt, f.Error, f.FailedAt)
		if err != nil {
			return fmt.Errorf("insert failure: %w", err)
		}
		return releaseSlot(ctx, tx, q)
	})
}

func releaseSlot(ctx context.Context, tx pgx.Tx, q string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE conveyor_queues SET wip = GREATEST(wip - 1, 0) WHERE name = $1
	`, q); err != nil {
		return fmt.Errorf("release wip: %w", err)
	}
	return nil
}

// ListFailures возвращает failed-set стадии в порядке записи.
func (r *QueueRepo) ListFailures(ctx context.Context, stage string) ([]domain.Failure, error) {
	query := `
		SELECT id, queue, stage, chunk_start, chunk_end, attempt, enqueued_at, error, failed_at
		FROM conveyor_failures
		WHERE stage = $1
		ORDER BY seq ASC
	`
	rows, err := r.pool.Query(ctx, query, stage)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	var failures []domain.Failure
	for rows.Next() {
		var f domain.Failure
		d := &f.Descriptor
		if err := rows.Scan(
			&d.ID,
			&d.Queue,
			&d.Stage,
			&d.Chunk.Start,
			&d.Chunk.End,
			&d.Attempt,
			&d.EnqueuedAt,
			&f.Error,
			&f.FailedAt,
		); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// ClearFailures удаляет записи failed-set с указанными ID.
func (r *QueueRepo) ClearFailures(ctx context.Context, stage string, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		DELETE FROM conveyor_failures WHERE stage = $1 AND id = ANY($2::uuid[])
	`, stage, ids)
	if err != nil {
		return fmt.Errorf("clear failures: %w", err)
	}
	return nil
}

// Depth возвращает число ожидающих descriptors и WIP очереди.
func (r *QueueRepo) Depth(ctx context.Context, q string) (queue.Depth, error) {
	var depth queue.Depth
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conveyor_tasks WHERE queue = $1 AND claimed_at IS NULL),
			COALESCE((SELECT wip FROM conveyor_queues WHERE name = $1), 0)
	`, q).Scan(&depth.Pending, &depth.InFlight)
	if err != nil {
		return queue.Depth{}, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// ResetWIP обнуляет WIP и забывает незавершённые claims.
func (r *QueueRepo) ResetWIP(ctx context.Context) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE conveyor_queues SET wip = 0`); err != nil {
			return fmt.Errorf("reset wip: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conveyor_tasks WHERE claimed_at IS NOT NULL`); err != nil {
			return fmt.Errorf("drop claims: %w", err)
		}
		return nil
	})
}

// FlushAll удаляет очереди, счётчики и failed-set.
func (r *QueueRepo) FlushAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `TRUNCATE conveyor_tasks, conveyor_queues, conveyor_failures`)
	if err != nil {
		return fmt.Errorf("flush queues: %w", err)
	}
	return nil
}

// --- Helpers ---

func scanDescriptor(row pgx.Row) (*domain.TaskDescriptor, error) {
	var d domain.TaskDescriptor

	err := row.Scan(
		&d.ID,
		&d.Queue,
		&d.Stage,
		&d.Chunk.Start,
		&d.Chunk.End,
		&d.Attempt,
		&d.EnqueuedAt,
		&d.ClaimedAt,
		&d.LeaseUntil,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return &d, nil
}
