package mq

import (
	"context"
	"log/slog"
	"sync"
)

// Wakeup превращает события chunks.ready в сигнал для простаивающих
// workers. Каждое событие будит всех ожидающих сразу.
type Wakeup struct {
	mu sync.Mutex
	ch chan struct{}

	consumer *Consumer
	logger   *slog.Logger
}

// NewWakeup создаёт Wakeup поверх соединения. conn может быть nil:
// тогда сигнал приходит только через Notify.
func NewWakeup(conn *Connection, logger *slog.Logger) *Wakeup {
	w := &Wakeup{
		ch:     make(chan struct{}),
		logger: logger,
	}

	if conn != nil {
		w.consumer = NewConsumer(conn, logger, ConsumerConfig{
			Declare:  DeclareWakeupQueue,
			Handler:  w.handleChunksReady,
			Prefetch: 10,
		})
	}
	return w
}

// Start потребляет события до отмены ctx.
func (w *Wakeup) Start(ctx context.Context) error {
	if w.consumer == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return w.consumer.Run(ctx)
}

// Ready возвращает канал, который закроется при следующем событии.
func (w *Wakeup) Ready() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ch
}

// Notify будит всех ожидающих.
func (w *Wakeup) Notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.ch)
	w.ch = make(chan struct{})
}

func (w *Wakeup) handleChunksReady(_ context.Context, d *Delivery) error {
	payload, err := ParsePayload[ChunksReadyPayload](&d.Message)
	if err != nil {
		// Битое событие всё равно означает, что работа могла появиться
		w.logger.Warn("failed to parse chunks.ready payload", "error", err)
	} else {
		w.logger.Debug("chunks ready", "stage", payload.Stage, "count", payload.Count)
	}

	w.Notify()
	return nil
}
