package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// DefaultLeaseTimeout — срок claim, после которого descriptor
// упавшего воркера снова становится доступным.
const DefaultLeaseTimeout = 10 * time.Minute

// Router — StageQueueRouter.
//
// Порядок очередей задаётся pipeline: в политике drain worker сначала
// дочищает очереди более ранних стадий и только потом берёт работу
// активной стадии. Лимит WIP проверяется внутри Store.PopIfAvailable.
type Router struct {
	store    Store
	pipeline *engine.Pipeline
	lease    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// RouterConfig — конфигурация Router.
type RouterConfig struct {
	Store    Store
	Pipeline *engine.Pipeline

	// LeaseTimeout — срок claim (default: 10m).
	LeaseTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter создаёт Router.
func NewRouter(cfg RouterConfig) *Router {
	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = DefaultLeaseTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		store:    cfg.Store,
		pipeline: cfg.Pipeline,
		lease:    lease,
		logger:   logger,
		now:      time.Now,
	}
}

// Pipeline возвращает pipeline, по которому работает Router.
func (r *Router) Pipeline() *engine.Pipeline {
	return r.pipeline
}

// QueuesFor возвращает очереди для активной стадии, самые приоритетные первыми.
func (r *Router) QueuesFor(stage string) ([]string, error) {
	def, pos, err := r.pipeline.Stage(stage)
	if err != nil {
		return nil, err
	}

	if r.pipeline.Policy == engine.PolicyIsolated {
		return def.QueueNames(), nil
	}

	var queues []string
	for i := 0; i <= pos; i++ {
		queues = append(queues, r.pipeline.Stages[i].QueueNames()...)
	}
	return queues, nil
}

// TryClaim пытается забрать descriptor из очереди.
//
// Возвращает nil, nil, если очередь пуста или её WIP достиг max_wip.
// domain.ErrClaimConflict означает проигранную гонку: вызывающий
// просто повторяет попытку.
func (r *Router) TryClaim(ctx context.Context, queue string) (*domain.TaskDescriptor, error) {
	maxWIP := r.pipeline.MaxWIP(queue)
	if maxWIP == 0 {
		return nil, fmt.Errorf("%w: unknown queue %q", domain.ErrInvalidArgument, queue)
	}

	d, err := r.store.PopIfAvailable(ctx, queue, maxWIP, r.lease)
	if err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			telemetry.ClaimConflictsTotal.WithLabelValues(queue).Inc()
		}
		return nil, err
	}
	if d == nil {
		return nil, nil
	}

	telemetry.ClaimsTotal.WithLabelValues(queue).Inc()
	return d, nil
}

// Ack подтверждает успешное выполнение descriptor.
// Повторный Ack возвращает domain.ErrNotFound.
func (r *Router) Ack(ctx context.Context, d *domain.TaskDescriptor) error {
	err := retryConflict(ctx, func() error {
		return r.store.AckRemove(ctx, d.Queue, d.ID)
	})
	if err != nil {
		return fmt.Errorf("ack %s %s: %w", d.Stage, d.Chunk, err)
	}
	telemetry.AcksTotal.WithLabelValues(d.Queue).Inc()
	return nil
}

// Fail записывает descriptor в failed-set стадии. Повторно в очередь
// он не ставится.
func (r *Router) Fail(ctx context.Context, d *domain.TaskDescriptor, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	f := domain.Failure{
		Descriptor: *d,
		Error:      msg,
		FailedAt:   r.now(),
	}
	err := retryConflict(ctx, func() error {
		return r.store.AppendFailure(ctx, d.Queue, f)
	})
	if err != nil {
		return fmt.Errorf("fail %s %s: %w", d.Stage, d.Chunk, err)
	}
	telemetry.FailuresTotal.WithLabelValues(d.Stage).Inc()
	return nil
}

// Enqueue ставит chunks стадии в очередь по возрастанию индексов,
// распределяя их по очередям стадии по кругу.
func (r *Router) Enqueue(ctx context.Context, stage string, chunks []domain.Chunk, attempt int) (int, error) {
	def, _, err := r.pipeline.Stage(stage)
	if err != nil {
		return 0, err
	}
	queues := def.QueueNames()

	for i, chunk := range chunks {
		queue := queues[i%len(queues)]
		d := domain.NewTaskDescriptor(stage, queue, chunk, attempt)
		if err := r.store.Push(ctx, d); err != nil {
			return i, fmt.Errorf("push %s %s: %w", stage, chunk, err)
		}
		telemetry.EnqueuedTotal.WithLabelValues(queue).Inc()
	}
	return len(chunks), nil
}

// Requeue ставит упавшие descriptors в очередь повторно с attempt+1.
// Descriptor возвращается в свою прежнюю очередь, если она всё ещё
// принадлежит стадии, иначе в первую очередь стадии.
func (r *Router) Requeue(ctx context.Context, failures []domain.Failure) (int, error) {
	for i := range failures {
		d := failures[i].Retry()

		def, _, err := r.pipeline.Stage(d.Stage)
		if err != nil {
			return i, err
		}
		if !ownsQueue(def, d.Queue) {
			d.Queue = def.Queues[0].Name
		}

		if err := r.store.Push(ctx, d); err != nil {
			return i, fmt.Errorf("requeue %s %s: %w", d.Stage, d.Chunk, err)
		}
		telemetry.EnqueuedTotal.WithLabelValues(d.Queue).Inc()
	}
	return len(failures), nil
}

// Pending возвращает суммарное состояние очередей стадии.
func (r *Router) Pending(ctx context.Context, stage string) (Depth, error) {
	def, _, err := r.pipeline.Stage(stage)
	if err != nil {
		return Depth{}, err
	}

	var total Depth
	for _, q := range def.QueueNames() {
		depth, err := r.store.Depth(ctx, q)
		if err != nil {
			return Depth{}, fmt.Errorf("depth %s: %w", q, err)
		}
		telemetry.QueueDepth.WithLabelValues(q, "pending").Set(float64(depth.Pending))
		telemetry.QueueDepth.WithLabelValues(q, "in_flight").Set(float64(depth.InFlight))
		total = total.Add(depth)
	}
	return total, nil
}

// Failures возвращает failed-set стадии.
func (r *Router) Failures(ctx context.Context, stage string) ([]domain.Failure, error) {
	if _, _, err := r.pipeline.Stage(stage); err != nil {
		return nil, err
	}
	return r.store.ListFailures(ctx, stage)
}

// ClearFailures удаляет из failed-set стадии уже переставленные записи.
func (r *Router) ClearFailures(ctx context.Context, stage string, failures []domain.Failure) error {
	ids := make([]uuid.UUID, len(failures))
	for i := range failures {
		ids[i] = failures[i].Descriptor.ID
	}
	if err := r.store.ClearFailures(ctx, stage, ids); err != nil {
		return fmt.Errorf("clear failures %s: %w", stage, err)
	}
	return nil
}

// Flush удаляет все очереди и failed-sets.
func (r *Router) Flush(ctx context.Context) error {
	if err := r.store.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	r.logger.Info("queues flushed")
	return nil
}

// ClearMaxWIP обнуляет WIP-счётчики всех очередей.
// Вызывается в начале fresh-запуска: после падения прошлого запуска
// счётчики могут остаться ненулевыми.
func (r *Router) ClearMaxWIP(ctx context.Context) error {
	if err := r.store.ResetWIP(ctx); err != nil {
		return fmt.Errorf("reset wip: %w", err)
	}
	r.logger.Info("wip counters reset")
	return nil
}

// maxConflictRetries — сколько раз Ack и Fail повторяются при конфликте
// транзакций, прежде чем вернуть ошибку.
const maxConflictRetries = 20

// retryConflict повторяет fn, пока store сообщает о конфликте.
// Ack и Fail нельзя просто отбросить: claim остался бы висеть до lease.
func retryConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = fn()
		if !errors.Is(err, domain.ErrClaimConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(attempt+1) * time.Millisecond)
	}
	return err
}

func ownsQueue(def *engine.StageDef, queue string) bool {
	for _, q := range def.Queues {
		if q.Name == queue {
			return true
		}
	}
	return false
}
