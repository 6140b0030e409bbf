package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// StageRun — одна стадия внутри запуска.
type StageRun struct {
	// Def — определение стадии из pipeline.
	Def *engine.StageDef

	// Position — номер стадии в pipeline (с нуля).
	Position int

	// RunID — запуск, к которому относится стадия.
	RunID uuid.UUID

	// Enqueued — сколько descriptors поставлено в очередь.
	Enqueued int

	status     domain.StageStatus
	controller *Controller
}

// Name возвращает имя стадии.
func (s *StageRun) Name() string {
	return s.Def.Name
}

// Status возвращает последний выставленный статус.
func (s *StageRun) Status() domain.StageStatus {
	return s.status
}

// State возвращает снимок состояния стадии.
func (s *StageRun) State() domain.StageState {
	return domain.StageState{
		Name:      s.Name(),
		Position:  s.Position,
		Status:    s.status,
		UpdatedAt: time.Now(),
	}
}

// Process выполняет стадию:
// PENDING → ENQUEUING → (план, постановка в очередь, активная стадия)
// → IN_PROGRESS → (очереди пусты, WIP = 0) → COMPLETED.
//
// Ошибка подсчёта записей, планирования или постановки в очередь
// переводит стадию в FAILED и возвращается вызывающему.
func (s *StageRun) Process(ctx context.Context) error {
	c := s.controller
	logger := telemetry.WithStage(c.logger, s.Name())

	if err := s.setStatus(ctx, domain.StageStatusPending); err != nil {
		return err
	}
	if err := s.setStatus(ctx, domain.StageStatusEnqueuing); err != nil {
		return err
	}

	total, err := s.records(ctx)
	if err != nil {
		return s.failed(ctx, err)
	}

	chunks, err := engine.Plan(total, s.Def.ChunkSize)
	if err != nil {
		return s.failed(ctx, err)
	}

	n, err := c.router.Enqueue(ctx, s.Name(), chunks, 1)
	s.Enqueued = n
	if err != nil {
		return s.failed(ctx, err)
	}

	if err := c.state.SetActiveStage(ctx, s.Name()); err != nil {
		return s.failed(ctx, fmt.Errorf("set active stage: %w", err))
	}

	logger.Info("stage enqueued",
		"records", total,
		"chunk_size", s.Def.ChunkSize,
		"chunks", n,
	)
	c.publishChunksReady(ctx, s, 1)

	return s.complete(ctx)
}

// complete ждёт, пока workers разберут очереди стадии.
func (s *StageRun) complete(ctx context.Context) error {
	if err := s.setStatus(ctx, domain.StageStatusInProgress); err != nil {
		return err
	}
	if err := s.controller.waitDrained(ctx, s.Name()); err != nil {
		return fmt.Errorf("stage %s: %w", s.Name(), err)
	}
	return s.setStatus(ctx, domain.StageStatusCompleted)
}

// records возвращает число записей стадии: из count_sql или records.
func (s *StageRun) records(ctx context.Context) (int, error) {
	if s.Def.CountSQL == "" {
		return s.Def.Records, nil
	}

	c := s.controller
	if c.counter == nil {
		return 0, fmt.Errorf("%w: %w", ErrCounterMissing, domain.ErrConfigurationMissing)
	}
	n, err := c.counter.Count(ctx, s.Def.CountSQL)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func (s *StageRun) failed(ctx context.Context, cause error) error {
	// Статус записываем даже при отменённом ctx
	if err := s.setStatus(context.WithoutCancel(ctx), domain.StageStatusFailed); err != nil {
		s.controller.logger.Error("failed to record stage failure", "stage", s.Name(), "error", err)
	}
	return fmt.Errorf("stage %s: %w", s.Name(), cause)
}

func (s *StageRun) setStatus(ctx context.Context, status domain.StageStatus) error {
	c := s.controller
	s.status = status

	if err := c.state.SetStageStatus(ctx, s.State()); err != nil {
		return fmt.Errorf("set %s status %s: %w", s.Name(), status, err)
	}
	telemetry.StageTransitionsTotal.WithLabelValues(s.Name(), string(status)).Inc()
	c.logger.Debug("stage status", "stage", s.Name(), "status", status)
	c.publishStage(ctx, s)
	return nil
}
