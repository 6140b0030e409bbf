package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler обрабатывает событие. Ошибка приводит к nack.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное событие.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer подписывается на очередь событий и переподписывается
// после каждого восстановления соединения.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	declare  func(ch *amqp.Channel) (string, error)
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация Consumer.
type ConsumerConfig struct {
	// Declare объявляет очередь и возвращает её имя. Вызывается при
	// каждой подписке: эксклюзивная очередь исчезает вместе с соединением.
	Declare func(ch *amqp.Channel) (string, error)

	Handler Handler

	// Prefetch — default: 1.
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		conn:     conn,
		logger:   logger,
		declare:  cfg.Declare,
		handler:  cfg.Handler,
		prefetch: max(cfg.Prefetch, 1),
	}
}

// Run потребляет события до отмены ctx.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		queue, deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Warn("subscribe failed, waiting for reconnect", "error", err)
		} else {
			c.logger.Info("consumer started", "queue", queue)
			c.drain(ctx, queue, deliveries)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.Reconnected():
		}
	}
}

func (c *Consumer) subscribe() (string, <-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return "", nil, ErrNoChannel
	}

	queue, err := c.declare(ch)
	if err != nil {
		return "", nil, err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return "", nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return "", nil, fmt.Errorf("consume %s: %w", queue, err)
	}
	return queue, deliveries, nil
}

// drain обрабатывает события, пока канал доставки открыт.
func (c *Consumer) drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", queue)
				return
			}
			c.handle(ctx, queue, raw)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, queue string, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("malformed event", "queue", queue, "error", err)
		raw.Nack(false, false)
		return
	}

	if err := c.handler(ctx, &Delivery{Message: msg, Raw: raw}); err != nil {
		c.logger.Error("event handler failed",
			"queue", queue,
			"type", msg.Type,
			"message_id", msg.ID,
			"error", err,
		)
		// Одна повторная доставка, дальше событие отбрасывается
		raw.Nack(false, !raw.Redelivered)
		return
	}
	raw.Ack(false)
}

// ParsePayload декодирует payload события в T.
// После json.Unmarshal в Message payload — map[string]any.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}
	return result, nil
}
