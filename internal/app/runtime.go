package app

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/worker"
)

// Runtime — собранные компоненты процесса Conveyor.
type Runtime struct {
	Config   *config.Config
	Pipeline *engine.Pipeline
	Backend  *Backend
	Events   *Events
	Router   *queue.Router
	Logger   *slog.Logger
}

// Open загружает pipeline, открывает хранилище и подключается к брокеру.
// name — имя процесса для соединения с брокером.
func Open(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) (*Runtime, error) {
	p, err := engine.LoadPipeline(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	logger.Info("pipeline loaded",
		"pipeline", p.Name,
		"policy", p.Policy,
		"stages", len(p.Stages),
	)

	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		Config:   cfg,
		Pipeline: p,
		Backend:  backend,
		Events:   ConnectEvents(ctx, cfg, name, logger),
		Router: queue.NewRouter(queue.RouterConfig{
			Store:        backend.Queue,
			Pipeline:     p,
			LeaseTimeout: cfg.Workers.LeaseTimeout.Duration,
			Logger:       logger,
		}),
		Logger: logger,
	}, nil
}

// Controller создаёт StageController.
func (r *Runtime) Controller() *orchestrator.Controller {
	cfg := orchestrator.Config{
		Router:       r.Router,
		State:        r.Backend.State,
		Events:       r.Events.ForController(),
		PollInterval: r.Config.Scheduler.PollInterval.Duration,
		Logger:       r.Logger,
	}
	if r.Backend.Counter != nil {
		cfg.Counter = r.Backend.Counter
	}
	return orchestrator.New(cfg)
}

// Scheduler создаёт Scheduler поверх Controller.
// embedded — пул внутри процесса scheduler или nil.
func (r *Runtime) Scheduler(embedded *worker.Pool) *scheduler.Scheduler {
	return scheduler.New(scheduler.Config{
		Controller: r.Controller(),
		Env:        r.Backend.State,
		Prefixes:   r.Config.Environment.Prefixes,
		Workers:    embedded,
		Logger:     r.Logger,
	})
}

// WorkerPool создаёт пул из concurrency workers.
func (r *Runtime) WorkerPool(concurrency int) (*worker.Pool, error) {
	registry, err := worker.BuildRegistry(r.Pipeline)
	if err != nil {
		return nil, err
	}

	return worker.NewPool(worker.PoolConfig{
		Concurrency: concurrency,
		Worker: worker.Config{
			Router:   r.Router,
			Registry: registry,
			Env:      r.Backend.State,
			Stages:   r.Backend.State,
			Waker:    r.Events.Waker(),
			Events:   r.Events.ForWorker(),
			IdleWait: r.Config.Workers.IdleWait.Duration,
			Logger:   r.Logger,
		},
	}), nil
}

// Close закрывает брокер и хранилище.
func (r *Runtime) Close() {
	r.Events.Close()
	r.Backend.Close()
}
