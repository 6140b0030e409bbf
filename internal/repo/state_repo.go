package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
)

// Ключи conveyor_meta.
const (
	metaActiveStage = "active_stage"
	metaEnvironment = "environment"
)

// StateRepo хранит статусы стадий, активную стадию и снимок окружения.
type StateRepo struct {
	pool *pgxpool.Pool
}

// NewStateRepo создаёт новый StateRepo.
func NewStateRepo(pool *pgxpool.Pool) *StateRepo {
	return &StateRepo{pool: pool}
}

// SetStageStatus сохраняет статус стадии.
func (r *StateRepo) SetStageStatus(ctx context.Context, st domain.StageState) error {
	query := `
		INSERT INTO conveyor_stages (name, position, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET position = EXCLUDED.position, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query, st.Name, st.Position, st.Status, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert stage: %w", err)
	}
	return nil
}

// StageStatuses возвращает статусы всех стадий по позиции.
func (r *StateRepo) StageStatuses(ctx context.Context) ([]domain.StageState, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT name, position, status, updated_at FROM conveyor_stages ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var states []domain.StageState
	for rows.Next() {
		var st domain.StageState
		var status string
		if err := rows.Scan(&st.Name, &st.Position, &status, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		st.Status = domain.ParseStageStatus(status)
		states = append(states, st)
	}
	return states, rows.Err()
}

// SetActiveStage запоминает стадию, с которой работает restart.
func (r *StateRepo) SetActiveStage(ctx context.Context, name string) error {
	return r.putMeta(ctx, metaActiveStage, name)
}

// ActiveStage возвращает активную стадию или ErrNotFound.
func (r *StateRepo) ActiveStage(ctx context.Context) (string, error) {
	var name string
	if err := r.getMeta(ctx, metaActiveStage, &name); err != nil {
		return "", err
	}
	return name, nil
}

// ResetStages удаляет статусы стадий и активную стадию.
func (r *StateRepo) ResetStages(ctx context.Context) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM conveyor_stages`); err != nil {
			return fmt.Errorf("delete stages: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM conveyor_meta WHERE key = $1`, metaActiveStage); err != nil {
			return fmt.Errorf("delete active stage: %w", err)
		}
		return nil
	})
}

// PutEnvironment перезаписывает снимок окружения.
func (r *StateRepo) PutEnvironment(ctx context.Context, snap *environment.Snapshot) error {
	return r.putMeta(ctx, metaEnvironment, snap)
}

// GetEnvironment возвращает снимок окружения или ErrNotFound.
func (r *StateRepo) GetEnvironment(ctx context.Context) (*environment.Snapshot, error) {
	var snap environment.Snapshot
	if err := r.getMeta(ctx, metaEnvironment, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// --- Helpers ---

func (r *StateRepo) putMeta(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO conveyor_meta (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, key, data)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (r *StateRepo) getMeta(ctx context.Context, key string, dst any) error {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM conveyor_meta WHERE key = $1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}
