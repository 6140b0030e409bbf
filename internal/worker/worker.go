package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/environment"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// DefaultIdleWait — максимальное ожидание, когда работы нет.
const DefaultIdleWait = 2 * time.Second

// maxConflictBackoff ограничивает паузу между claim после серии конфликтов.
const maxConflictBackoff = 50 * time.Millisecond

// StageSource возвращает активную стадию.
// domain.ErrNotFound означает, что ни один запуск ещё не начался.
type StageSource interface {
	ActiveStage(ctx context.Context) (string, error)
}

// Waker будит простаивающих workers, когда появилась работа.
type Waker interface {
	Ready() <-chan struct{}
}

// EventPublisher публикует события об упавших chunks.
type EventPublisher interface {
	PublishTaskFailed(ctx context.Context, payload mq.TaskFailedPayload) error
}

// Stats — итог работы одного worker.
type Stats struct {
	WorkerID  int
	Succeeded int
	Failed    int

	// Active — суммарное время выполнения task bodies.
	Active time.Duration
}

// Worker — один логический worker.
//
// Цикл: активная стадия → очереди по политике pipeline → TryClaim
// по порядку → executor стадии → Ack или Fail. Когда работы нет,
// worker ждёт не дольше idleWait или до сигнала Waker.
type Worker struct {
	id       int
	router   *queue.Router
	registry *Registry
	envStore environment.Store
	stages   StageSource
	waker    Waker
	events   EventPublisher
	idleWait time.Duration
	logger   *slog.Logger

	stats Stats
}

// Config — конфигурация Worker.
type Config struct {
	// ID — номер worker в пуле (для логов и статистики).
	ID int

	Router   *queue.Router
	Registry *Registry

	// Env — откуда worker берёт snapshot окружения при старте.
	Env environment.Store

	// Stages — источник активной стадии.
	Stages StageSource

	// Waker — опционально; без него worker только опрашивает очереди.
	Waker Waker

	// Events — опционально.
	Events EventPublisher

	// IdleWait — ожидание при пустых очередях (default: 2s).
	IdleWait time.Duration

	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	idleWait := cfg.IdleWait
	if idleWait <= 0 {
		idleWait = DefaultIdleWait
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		id:       cfg.ID,
		router:   cfg.Router,
		registry: cfg.Registry,
		envStore: cfg.Env,
		stages:   cfg.Stages,
		waker:    cfg.Waker,
		events:   cfg.Events,
		idleWait: idleWait,
		logger:   telemetry.WithWorker(logger, cfg.ID),
		stats:    Stats{WorkerID: cfg.ID},
	}
}

// Run выполняет задачи до отмены ctx.
//
// Ошибка возвращается только если worker не может начать работу:
// snapshot окружения не опубликован (domain.ErrConfigurationMissing).
// Ошибки отдельных chunks записываются в failed-set и не останавливают цикл.
func (w *Worker) Run(ctx context.Context) (Stats, error) {
	env, err := environment.Pull(ctx, w.envStore)
	if err != nil {
		return w.stats, err
	}

	w.logger.Info("worker started", "run_id", env.RunID, "idle_wait", w.idleWait)

	conflicts := 0
	for ctx.Err() == nil {
		d, err := w.claimNext(ctx)
		if errors.Is(err, domain.ErrClaimConflict) {
			conflicts++
			w.sleep(ctx, conflictBackoff(conflicts))
			continue
		}
		conflicts = 0

		switch {
		case err != nil:
			if ctx.Err() == nil {
				w.logger.Warn("claim failed", "error", err)
			}
			w.idle(ctx)
		case d == nil:
			w.idle(ctx)
		default:
			w.process(ctx, env, d)
		}
	}

	w.logger.Info("worker stopped",
		"succeeded", w.stats.Succeeded,
		"failed", w.stats.Failed,
	)
	return w.stats, nil
}

// claimNext пытается забрать descriptor из очередей активной стадии.
// nil, nil — работы сейчас нет.
func (w *Worker) claimNext(ctx context.Context) (*domain.TaskDescriptor, error) {
	stage, err := w.stages.ActiveStage(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active stage: %w", err)
	}

	queues, err := w.router.QueuesFor(stage)
	if err != nil {
		return nil, err
	}

	for _, q := range queues {
		d, err := w.router.TryClaim(ctx, q)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	return nil, nil
}

// process выполняет claimed descriptor и подтверждает результат.
//
// Task body и Ack/Fail работают в контексте, отвязанном от остановки:
// начатый claim доводится до конца.
func (w *Worker) process(ctx context.Context, env *environment.Snapshot, d *domain.TaskDescriptor) {
	detached := context.WithoutCancel(ctx)
	logger := w.logger.With(
		"stage", d.Stage,
		"queue", d.Queue,
		"chunk", d.Chunk.String(),
		"attempt", d.Attempt,
	)

	start := time.Now()
	err := w.execute(detached, TaskContext{Descriptor: d, Env: env, Logger: logger})
	elapsed := time.Since(start)
	w.stats.Active += elapsed

	if err == nil {
		telemetry.TaskDuration.WithLabelValues(d.Stage, "succeeded").Observe(elapsed.Seconds())
		if ackErr := w.router.Ack(detached, d); ackErr != nil {
			logger.Error("ack failed", "error", ackErr)
			return
		}
		w.stats.Succeeded++
		logger.Debug("chunk done", "duration", elapsed)
		return
	}

	telemetry.TaskDuration.WithLabelValues(d.Stage, "failed").Observe(elapsed.Seconds())
	w.stats.Failed++
	logger.Warn("chunk failed", "duration", elapsed, "error", err)

	if failErr := w.router.Fail(detached, d, err); failErr != nil {
		logger.Error("record failure", "error", failErr)
		return
	}

	if w.events != nil {
		payload := mq.TaskFailedPayload{
			DescriptorID: d.ID,
			Stage:        d.Stage,
			Queue:        d.Queue,
			Chunk:        d.Chunk,
			Attempt:      d.Attempt,
			Error:        err.Error(),
		}
		if pubErr := w.events.PublishTaskFailed(detached, payload); pubErr != nil {
			logger.Warn("failed to publish task.failed", "error", pubErr)
		}
	}
}

// execute вызывает executor стадии. Паника task body превращается в ошибку.
func (w *Worker) execute(ctx context.Context, tc TaskContext) (err error) {
	executor, config, err := w.registry.Get(tc.Descriptor.Stage)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTaskExecution, err)
	}
	tc.Config = config

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %w: %v", domain.ErrTaskExecution, ErrTaskPanic, r)
		}
	}()

	if err := executor.Execute(ctx, tc); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTaskExecution, err)
	}
	return nil
}

// conflictBackoff — пауза после n конфликтов подряд: n мс, не больше
// maxConflictBackoff.
func conflictBackoff(n int) time.Duration {
	d := time.Duration(n) * time.Millisecond
	if d > maxConflictBackoff {
		return maxConflictBackoff
	}
	return d
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// idle ждёт idleWait, сигнала Waker или отмены ctx.
func (w *Worker) idle(ctx context.Context) {
	var ready <-chan struct{}
	if w.waker != nil {
		ready = w.waker.Ready()
	}

	timer := time.NewTimer(w.idleWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	case <-ready:
	}
}
