package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/environment"
)

// Executor — task body стадии.
//
// Реализации: HTTPExecutor, CommandExecutor, DelayExecutor.
// Ошибка из Execute означает, что chunk не обработан и попадёт
// в failed-set стадии.
type Executor interface {
	Execute(ctx context.Context, tc TaskContext) error
}

// ExecutorFunc позволяет использовать функцию как Executor.
type ExecutorFunc func(ctx context.Context, tc TaskContext) error

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, tc TaskContext) error {
	return f(ctx, tc)
}

// TaskContext — всё, что task body знает о своей задаче.
type TaskContext struct {
	// Descriptor — claimed descriptor (стадия, chunk, attempt).
	Descriptor *domain.TaskDescriptor

	// Env — snapshot окружения, опубликованный scheduler'ом.
	Env *environment.Snapshot

	// Config — config executor'а из pipeline.
	Config map[string]any

	Logger *slog.Logger
}

// Registry — executor'ы по имени стадии.
type Registry struct {
	executors map[string]Executor
	configs   map[string]map[string]any
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		configs:   make(map[string]map[string]any),
	}
}

// BuildRegistry создаёт реестр по определению pipeline:
// каждой стадии — executor её типа.
func BuildRegistry(p *engine.Pipeline) (*Registry, error) {
	r := NewRegistry()
	for _, stage := range p.Stages {
		executor, err := NewExecutor(stage.Executor.Type)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage.Name, err)
		}
		r.Register(stage.Name, executor, stage.Executor.Config)
	}
	return r, nil
}

// NewExecutor возвращает executor по типу.
func NewExecutor(executorType string) (Executor, error) {
	switch executorType {
	case "http":
		return &HTTPExecutor{}, nil
	case "command":
		return &CommandExecutor{}, nil
	case "delay":
		return &DelayExecutor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownExecutor, executorType)
	}
}

// Register добавляет executor для стадии. Повторная регистрация
// заменяет прежний executor.
func (r *Registry) Register(stage string, executor Executor, config map[string]any) {
	r.executors[stage] = executor
	r.configs[stage] = config
}

// Get возвращает executor стадии и его config.
func (r *Registry) Get(stage string) (Executor, map[string]any, error) {
	executor, ok := r.executors[stage]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoExecutor, stage)
	}
	return executor, r.configs[stage], nil
}
