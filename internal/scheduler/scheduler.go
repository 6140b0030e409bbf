package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/worker"
)

// Scheduler — точка входа запусков pipeline.
//
// Fresh-запуск сбрасывает очереди и WIP, публикует snapshot окружения
// и проводит pipeline через Controller. Restart перезапускает
// упавшие chunks активной стадии.
type Scheduler struct {
	ctrl     *orchestrator.Controller
	envStore environment.Store
	prefixes []string
	extra    map[string]string
	workers  *worker.Pool
	logger   *slog.Logger
}

// Config — конфигурация Scheduler.
type Config struct {
	Controller *orchestrator.Controller

	// Env — куда публикуется snapshot окружения.
	Env environment.Store

	// Prefixes — префиксы переменных snapshot (default: environment.DefaultPrefixes).
	Prefixes []string

	// Extra — значения, добавляемые в snapshot поверх окружения процесса.
	Extra map[string]string

	// Workers — пул внутри процесса scheduler (опционально).
	// Запускается на время каждого запуска, после публикации окружения.
	Workers *worker.Pool

	Logger *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	prefixes := cfg.Prefixes
	if len(prefixes) == 0 {
		prefixes = environment.DefaultPrefixes
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		ctrl:     cfg.Controller,
		envStore: cfg.Env,
		prefixes: prefixes,
		extra:    cfg.Extra,
		workers:  cfg.Workers,
		logger:   logger,
	}
}

// Fresh выполняет fresh-запуск со стадии, следующей за after.
// after == "" — с первой стадии.
//
// Неизвестная стадия отклоняется до сброса очередей.
func (s *Scheduler) Fresh(ctx context.Context, after string) (*domain.Run, error) {
	if after != "" {
		if _, _, err := s.ctrl.Pipeline().Stage(after); err != nil {
			return nil, err
		}
	}

	run := domain.NewRun(domain.RunModeFresh)
	logger := telemetry.WithRunID(s.logger, run.ID.String())

	if err := s.ctrl.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	snap := environment.Capture(run.ID, s.prefixes, s.extra)
	if err := environment.Push(ctx, s.envStore, snap); err != nil {
		return nil, err
	}
	logger.Info("environment published", "keys", len(snap.Values))

	return s.withWorkers(ctx, func(ctx context.Context) (*domain.Run, error) {
		return s.ctrl.Execute(ctx, run, after)
	})
}

// Restart перезапускает упавшие chunks активной стадии.
// Очереди и snapshot окружения не трогаются.
func (s *Scheduler) Restart(ctx context.Context) (*domain.Run, error) {
	return s.withWorkers(ctx, s.ctrl.RestartFailedStage)
}

// withWorkers выполняет fn, пока работает встроенный пул.
// Если пул не смог стартовать, fn отменяется.
func (s *Scheduler) withWorkers(ctx context.Context, fn func(ctx context.Context) (*domain.Run, error)) (*domain.Run, error) {
	if s.workers == nil {
		return fn(ctx)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()

	var (
		stats   []worker.Stats
		poolErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, poolErr = s.workers.Run(poolCtx)
		if poolErr != nil {
			cancelRun()
		}
	}()

	run, err := fn(runCtx)
	stopPool()
	<-done

	totals := worker.Totals(stats)
	s.logger.Info("embedded workers stopped",
		"succeeded", totals.Succeeded,
		"failed", totals.Failed,
	)

	if poolErr != nil {
		return run, errors.Join(fmt.Errorf("workers: %w", poolErr), err)
	}
	return run, err
}

// Tick выполняет один запуск по расписанию.
//
// Ошибка запуска логируется и не останавливает расписание.
func (s *Scheduler) Tick(ctx context.Context, after string) {
	run, err := s.Fresh(ctx, after)
	if err != nil {
		s.logger.Error("scheduled run failed", "error", err)
		return
	}
	s.logger.Info("scheduled run finished",
		"run_id", run.ID,
		"status", run.Status,
		"failures", run.TotalFailures(),
	)
}
