package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/kvstore"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/repo"
)

// StateStore — состояние стадий и snapshot окружения.
type StateStore interface {
	orchestrator.StateStore
	environment.Store
}

// Backend — открытое хранилище очередей и состояния.
type Backend struct {
	Kind  config.Backend
	Queue queue.Store
	State StateStore

	// Counter — nil для Badger: count_sql выполнять негде.
	Counter orchestrator.RecordCounter

	// Pool — nil для Badger.
	Pool *pgxpool.Pool

	close func()
}

// OpenBackend открывает хранилище, выбранное в конфигурации.
// Для PostgreSQL схема создаётся при открытии.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendBadger:
		return openBadger(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	pool, err := repo.NewPool(ctx, cfg.Store.DSN, int32(cfg.Store.MaxConns))
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("database connected", "max_conns", pool.Config().MaxConns)

	return &Backend{
		Kind:    config.BackendPostgres,
		Queue:   repo.NewQueueRepo(pool),
		State:   repo.NewStateRepo(pool),
		Counter: repo.NewSQLCounter(pool),
		Pool:    pool,
		close:   pool.Close,
	}, nil
}

func openBadger(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	store, err := kvstore.Open(cfg.Store.BadgerPath, logger)
	if err != nil {
		return nil, err
	}

	path := cfg.Store.BadgerPath
	if path == "" {
		path = "(in-memory)"
	}
	logger.Info("badger store opened", "path", path)

	return &Backend{
		Kind:  config.BackendBadger,
		Queue: store,
		State: store,
		close: func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close badger store", "error", err)
			}
		},
	}, nil
}

// Close закрывает хранилище.
func (b *Backend) Close() {
	if b.close != nil {
		b.close()
	}
}
