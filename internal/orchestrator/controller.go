package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/queue"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// DefaultPollInterval — как часто Controller проверяет очереди стадии.
const DefaultPollInterval = 2 * time.Second

// StateStore хранит статусы стадий и активную стадию.
type StateStore interface {
	SetStageStatus(ctx context.Context, st domain.StageState) error
	StageStatuses(ctx context.Context) ([]domain.StageState, error)
	SetActiveStage(ctx context.Context, name string) error
	ActiveStage(ctx context.Context) (string, error)
	ResetStages(ctx context.Context) error
}

// RecordCounter возвращает число записей стадии по count_sql.
type RecordCounter interface {
	Count(ctx context.Context, query string) (int, error)
}

// EventPublisher публикует события запуска.
type EventPublisher interface {
	PublishChunksReady(ctx context.Context, payload mq.ChunksReadyPayload) error
	PublishStage(ctx context.Context, payload mq.StagePayload) error
	PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error
}

// Controller — StageController.
type Controller struct {
	router       *queue.Router
	pipeline     *engine.Pipeline
	state        StateStore
	counter      RecordCounter
	events       EventPublisher
	pollInterval time.Duration
	logger       *slog.Logger
}

// Config — конфигурация Controller.
type Config struct {
	Router *queue.Router
	State  StateStore

	// Counter — опционально; нужен стадиям с count_sql.
	Counter RecordCounter

	// Events — опционально.
	Events EventPublisher

	// PollInterval — интервал проверки очередей (default: 2s).
	PollInterval time.Duration

	Logger *slog.Logger
}

// New создаёт новый Controller.
func New(cfg Config) *Controller {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		router:       cfg.Router,
		pipeline:     cfg.Router.Pipeline(),
		state:        cfg.State,
		counter:      cfg.Counter,
		events:       cfg.Events,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Pipeline возвращает pipeline, по которому работает Controller.
func (c *Controller) Pipeline() *engine.Pipeline {
	return c.pipeline
}

// Reset готовит fresh-запуск: очищает очереди, failed-sets,
// WIP-счётчики и статусы стадий.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.router.Flush(ctx); err != nil {
		return err
	}
	if err := c.router.ClearMaxWIP(ctx); err != nil {
		return err
	}
	if err := c.state.ResetStages(ctx); err != nil {
		return fmt.Errorf("reset stages: %w", err)
	}
	return nil
}

// Next возвращает стадию, следующую за after.
//
// after == "" — начало pipeline. После последней стадии возвращается
// domain.ErrPipelineExhausted: это конец обхода, а не ошибка.
func (c *Controller) Next(after string) (*StageRun, error) {
	def, pos, err := c.pipeline.Next(after)
	if err != nil {
		return nil, err
	}
	return &StageRun{
		Def:        def,
		Position:   pos,
		controller: c,
	}, nil
}

// Run проводит pipeline от стадии, следующей за after, до конца.
//
// Ошибка планирования или постановки в очередь останавливает запуск.
// Упавшие chunks запуск не останавливают: они учитываются в Run.Failures.
func (c *Controller) Run(ctx context.Context, after string) (*domain.Run, error) {
	return c.Execute(ctx, domain.NewRun(domain.RunModeFresh), after)
}

// Execute — Run для уже созданного запуска. Scheduler создаёт run заранее,
// чтобы опубликовать snapshot окружения с тем же ID.
func (c *Controller) Execute(ctx context.Context, run *domain.Run, after string) (*domain.Run, error) {
	logger := telemetry.WithRunID(c.logger, run.ID.String())
	logger.Info("run started", "pipeline", c.pipeline.Name, "after", after)

	current := after
	for {
		stage, err := c.Next(current)
		if errors.Is(err, domain.ErrPipelineExhausted) {
			break
		}
		if err != nil {
			return c.fail(ctx, run, err)
		}

		stage.RunID = run.ID
		err = stage.Process(ctx)
		run.Stages = append(run.Stages, stage.State())
		if err != nil {
			return c.fail(ctx, run, err)
		}

		if err := c.countFailures(ctx, run, stage.Name()); err != nil {
			return c.fail(ctx, run, err)
		}
		current = stage.Name()
	}

	return c.finish(ctx, run), nil
}

// RestartFailedStage повторно ставит в очередь упавшие chunks
// активной стадии (attempt+1) и ждёт, пока стадия снова опустеет.
//
// Очереди не сбрасываются, другие стадии не затрагиваются.
// Пустой failed-set означает, что делать нечего.
func (c *Controller) RestartFailedStage(ctx context.Context) (*domain.Run, error) {
	run := domain.NewRun(domain.RunModeRestart)
	logger := telemetry.WithRunID(c.logger, run.ID.String())

	name, err := c.state.ActiveStage(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %w", ErrNoActiveStage, err)
		}
		return c.fail(ctx, run, fmt.Errorf("restart: %w", err))
	}

	def, pos, err := c.pipeline.Stage(name)
	if err != nil {
		return c.fail(ctx, run, fmt.Errorf("restart: %w", err))
	}
	stage := &StageRun{Def: def, Position: pos, RunID: run.ID, controller: c}
	logger = telemetry.WithStage(logger, name)

	failures, err := c.router.Failures(ctx, name)
	if err != nil {
		return c.fail(ctx, run, err)
	}

	if len(failures) == 0 {
		logger.Info("nothing to restart")
		stage.status = domain.StageStatusCompleted
		run.Stages = append(run.Stages, stage.State())
		return c.finish(ctx, run), nil
	}

	logger.Info("restarting failed chunks", "count", len(failures))

	n, err := c.router.Requeue(ctx, failures)
	if err != nil {
		return c.fail(ctx, run, fmt.Errorf("requeue %s: %w", name, err))
	}
	if err := c.router.ClearFailures(ctx, name, failures); err != nil {
		return c.fail(ctx, run, err)
	}
	stage.Enqueued = n

	attempt := 0
	for i := range failures {
		attempt = max(attempt, failures[i].Descriptor.Attempt+1)
	}
	c.publishChunksReady(ctx, stage, attempt)

	err = stage.complete(ctx)
	run.Stages = append(run.Stages, stage.State())
	if err != nil {
		return c.fail(ctx, run, err)
	}

	if err := c.countFailures(ctx, run, name); err != nil {
		return c.fail(ctx, run, err)
	}
	return c.finish(ctx, run), nil
}

// countFailures записывает размер failed-set стадии в run.
func (c *Controller) countFailures(ctx context.Context, run *domain.Run, stage string) error {
	failures, err := c.router.Failures(ctx, stage)
	if err != nil {
		return err
	}
	run.Failures[stage] = len(failures)
	return nil
}

// waitDrained ждёт, пока очереди стадии опустеют и WIP станет нулевым.
func (c *Controller) waitDrained(ctx context.Context, stage string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		depth, err := c.router.Pending(ctx, stage)
		if err != nil {
			return fmt.Errorf("poll %s: %w", stage, err)
		}
		if depth.Empty() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Controller) finish(ctx context.Context, run *domain.Run) *domain.Run {
	run.Finish()
	c.logger.Info("run finished",
		"run_id", run.ID,
		"mode", run.Mode,
		"status", run.Status,
		"failures", run.TotalFailures(),
		"duration", run.Duration(),
	)
	c.publishRunFinished(ctx, run)
	return run
}

func (c *Controller) fail(ctx context.Context, run *domain.Run, err error) (*domain.Run, error) {
	run.MarkFailed(err.Error())
	c.logger.Error("run failed", "run_id", run.ID, "mode", run.Mode, "error", err)
	c.publishRunFinished(context.WithoutCancel(ctx), run)
	return run, err
}

// --- Events ---

func (c *Controller) publishChunksReady(ctx context.Context, s *StageRun, attempt int) {
	if c.events == nil || s.Enqueued == 0 {
		return
	}
	err := c.events.PublishChunksReady(ctx, mq.ChunksReadyPayload{
		RunID:   s.RunID,
		Stage:   s.Name(),
		Count:   s.Enqueued,
		Attempt: attempt,
	})
	if err != nil {
		c.logger.Warn("failed to publish chunks.ready", "stage", s.Name(), "error", err)
	}
}

func (c *Controller) publishStage(ctx context.Context, s *StageRun) {
	if c.events == nil {
		return
	}
	err := c.events.PublishStage(ctx, mq.StagePayload{
		RunID:    s.RunID,
		Stage:    s.Name(),
		Position: s.Position,
		Status:   s.status,
	})
	if err != nil {
		c.logger.Warn("failed to publish stage event", "stage", s.Name(), "error", err)
	}
}

func (c *Controller) publishRunFinished(ctx context.Context, run *domain.Run) {
	if c.events == nil {
		return
	}
	err := c.events.PublishRunFinished(ctx, mq.RunFinishedPayload{
		RunID:    run.ID,
		Mode:     run.Mode,
		Status:   run.Status,
		Failures: run.TotalFailures(),
		Error:    run.Error,
	})
	if err != nil {
		c.logger.Warn("failed to publish run.finished", "run_id", run.ID, "error", err)
	}
}
