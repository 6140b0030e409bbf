package app

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/worker"
)

// Events — публикация событий и пробуждение workers.
//
// Без брокера события не публикуются, а workers этого процесса
// будятся напрямую при постановке chunks в очередь.
type Events struct {
	conn      *mq.Connection
	publisher *mq.Publisher
	wakeup    *mq.Wakeup
	logger    *slog.Logger
}

// ConnectEvents подключается к RabbitMQ, если он включён.
// Недоступный брокер не ошибка: процесс работает в режиме опроса.
func ConnectEvents(ctx context.Context, cfg *config.Config, name string, logger *slog.Logger) *Events {
	e := &Events{logger: logger}

	if cfg.RabbitMQ.Enabled {
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, name, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		} else {
			logger.Info("RabbitMQ connected")
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}
			e.conn = conn
			e.publisher = mq.NewPublisher(conn, logger)
		}
	}

	e.wakeup = mq.NewWakeup(e.conn, logger)
	return e
}

// Connected возвращает true, если брокер подключён.
func (e *Events) Connected() bool {
	return e.conn != nil
}

// Start потребляет события chunks.ready до отмены ctx.
func (e *Events) Start(ctx context.Context) {
	go func() {
		if err := e.wakeup.Start(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("wakeup consumer stopped", "error", err)
		}
	}()
}

// Waker возвращает сигнал пробуждения для workers.
func (e *Events) Waker() worker.Waker {
	return e.wakeup
}

// ForController возвращает публикатор для Controller.
func (e *Events) ForController() orchestrator.EventPublisher {
	return &localNotifier{EventPublisher: e.controllerPublisher(), wakeup: e.wakeup}
}

// ForWorker возвращает публикатор для workers или nil без брокера.
func (e *Events) ForWorker() worker.EventPublisher {
	if e.publisher == nil {
		return nil
	}
	return e.publisher
}

func (e *Events) controllerPublisher() orchestrator.EventPublisher {
	if e.publisher == nil {
		return nil
	}
	return e.publisher
}

// Close закрывает соединение с брокером.
func (e *Events) Close() {
	if e.conn == nil {
		return
	}
	if err := e.conn.Close(); err != nil {
		e.logger.Warn("failed to close RabbitMQ connection", "error", err)
	}
}

// localNotifier будит workers своего процесса при chunks.ready
// и передаёт события брокеру, если он есть.
type localNotifier struct {
	orchestrator.EventPublisher
	wakeup *mq.Wakeup
}

func (n *localNotifier) PublishChunksReady(ctx context.Context, payload mq.ChunksReadyPayload) error {
	n.wakeup.Notify()
	if n.EventPublisher == nil {
		return nil
	}
	return n.EventPublisher.PublishChunksReady(ctx, payload)
}

func (n *localNotifier) PublishStage(ctx context.Context, payload mq.StagePayload) error {
	if n.EventPublisher == nil {
		return nil
	}
	return n.EventPublisher.PublishStage(ctx, payload)
}

func (n *localNotifier) PublishRunFinished(ctx context.Context, payload mq.RunFinishedPayload) error {
	if n.EventPublisher == nil {
		return nil
	}
	return n.EventPublisher.PublishRunFinished(ctx, payload)
}
