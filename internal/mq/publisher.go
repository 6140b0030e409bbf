package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Conveyor/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

// Типы сообщений.
const (
	MessageTypeChunksReady    MessageType = "chunks.ready"
	MessageTypeStageStarted   MessageType = "stage.started"
	MessageTypeStageCompleted MessageType = "stage.completed"
	MessageTypeTaskFailed     MessageType = "task.failed"
	MessageTypeRunFinished    MessageType = "run.finished"
)

// Publisher публикует события pipeline в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// ChunksReadyPayload — chunks стадии поставлены в очередь.
type ChunksReadyPayload struct {
	RunID   uuid.UUID `json:"run_id"`
	Stage   string    `json:"stage"`
	Count   int       `json:"count"`
	Attempt int       `json:"attempt"`
}

// StagePayload — переход стадии.
type StagePayload struct {
	RunID    uuid.UUID          `json:"run_id"`
	Stage    string             `json:"stage"`
	Position int                `json:"position"`
	Status   domain.StageStatus `json:"status"`
	Failures int                `json:"failures,omitempty"`
}

// TaskFailedPayload — descriptor записан в failed-set.
type TaskFailedPayload struct {
	DescriptorID uuid.UUID    `json:"descriptor_id"`
	Stage        string       `json:"stage"`
	Queue        string       `json:"queue"`
	Chunk        domain.Chunk `json:"chunk"`
	Attempt      int          `json:"attempt"`
	Error        string       `json:"error"`
}

// RunFinishedPayload — запуск завершён.
type RunFinishedPayload struct {
	RunID    uuid.UUID        `json:"run_id"`
	Mode     domain.RunMode   `json:"mode"`
	Status   domain.RunStatus `json:"status"`
	Failures int              `json:"failures"`
	Error    string           `json:"error,omitempty"`
}

// Publish публикует сообщение в exchange событий с routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents), // exchange
			string(routingKey),     // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeEvents, routingKey, err)
		}

		p.logger.Debug("published message",
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

func (p *Publisher) publish(ctx context.Context, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	return p.Publish(ctx, RoutingKey(msgType), msg)
}

// PublishChunksReady сообщает, что в очередях стадии появилась работа.
// Потребитель: Worker (пробуждение).
func (p *Publisher) PublishChunksReady(ctx context.Context, payload ChunksReadyPayload) error {
	return p.publish(ctx, MessageTypeChunksReady, payload)
}

// PublishStage публикует переход стадии в IN_PROGRESS или COMPLETED.
func (p *Publisher) PublishStage(ctx context.Context, payload StagePayload) error {
	msgType := MessageTypeStageStarted
	if payload.Status == domain.StageStatusCompleted {
		msgType = MessageTypeStageCompleted
	}
	return p.publish(ctx, msgType, payload)
}

// PublishTaskFailed публикует запись в failed-set.
func (p *Publisher) PublishTaskFailed(ctx context.Context, payload TaskFailedPayload) error {
	return p.publish(ctx, MessageTypeTaskFailed, payload)
}

// PublishRunFinished публикует итог запуска.
func (p *Publisher) PublishRunFinished(ctx context.Context, payload RunFinishedPayload) error {
	return p.publish(ctx, MessageTypeRunFinished, payload)
}
