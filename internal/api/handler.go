package api

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/queue"
)

// QueueReader — чтение состояния очередей и failed-set.
type QueueReader interface {
	Depth(ctx context.Context, queue string) (queue.Depth, error)
	ListFailures(ctx context.Context, stage string) ([]domain.Failure, error)
}

// StageReader — чтение статусов стадий.
type StageReader interface {
	StageStatuses(ctx context.Context) ([]domain.StageState, error)
	ActiveStage(ctx context.Context) (string, error)
}

// Handler — обработчик API статуса с зависимостями.
type Handler struct {
	pipeline *engine.Pipeline
	queues   QueueReader
	stages   StageReader
	env      environment.Store
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Pipeline *engine.Pipeline
	Queues   QueueReader
	Stages   StageReader
	Env      environment.Store
	Logger   *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		pipeline: cfg.Pipeline,
		queues:   cfg.Queues,
		stages:   cfg.Stages,
		env:      cfg.Env,
		logger:   logger,
	}
}
